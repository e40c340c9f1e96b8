package memory

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/adapter"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/repository"
	"github.com/m-mizutani/mneme/pkg/utils/backoff"
	"golang.org/x/time/rate"
)

// Gate screens a submission before any model call. Implementations reject
// with model.ErrSubmissionDenied.
type Gate interface {
	Allow(ctx context.Context, sub *model.Submission) error
}

// UseCase provides the memory reconciliation pipeline and the query
// operations built on it.
type UseCase struct {
	store     repository.Store
	generator adapter.Generator
	embedder  adapter.Embedder
	notifier  adapter.Notifier
	archiver  adapter.Storage
	gate      Gate

	policy   model.ReconcilePolicy
	retry    backoff.Policy
	limiter  *rate.Limiter
	parallel int

	// verdicts caches conflict classifications keyed by the normalized text
	// pair, so resubmitted fact pairs skip the secondary model call.
	verdicts *ristretto.Cache

	locks ownerLocks
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithNotifier sets the diagnostic event sink.
func WithNotifier(n adapter.Notifier) Option {
	return func(u *UseCase) {
		u.notifier = n
	}
}

// WithArchiver sets the object storage used by the retention sweep.
func WithArchiver(s adapter.Storage) Option {
	return func(u *UseCase) {
		u.archiver = s
	}
}

// WithGate sets the submission policy gate.
func WithGate(g Gate) Option {
	return func(u *UseCase) {
		u.gate = g
	}
}

// WithPolicy overrides the reconciliation knobs.
func WithPolicy(p model.ReconcilePolicy) Option {
	return func(u *UseCase) {
		u.policy = p
	}
}

// WithRetry overrides the retry policy for embedding and store calls.
func WithRetry(p backoff.Policy) Option {
	return func(u *UseCase) {
		u.retry = p
	}
}

// WithEmbedQPS caps embedding calls per second. Zero disables the limit.
func WithEmbedQPS(qps float64) Option {
	return func(u *UseCase) {
		if qps > 0 {
			u.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		}
	}
}

// WithParallelism bounds the embedding fan-out per submission.
func WithParallelism(n int) Option {
	return func(u *UseCase) {
		if n > 0 {
			u.parallel = n
		}
	}
}

// New creates a memory UseCase. The store, generator and embedder are
// required collaborators; everything else has a default.
func New(store repository.Store, generator adapter.Generator, embedder adapter.Embedder, opts ...Option) (*UseCase, error) {
	if store == nil {
		return nil, goerr.New("store is required")
	}
	if generator == nil {
		return nil, goerr.New("generator is required")
	}
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}

	verdicts, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create verdict cache")
	}

	u := &UseCase{
		store:     store,
		generator: generator,
		embedder:  embedder,
		notifier:  adapter.NewLogNotifier(),
		policy:    model.DefaultReconcilePolicy(),
		retry:     backoff.DefaultPolicy(),
		parallel:  4,
		verdicts:  verdicts,
	}

	for _, opt := range opts {
		opt(u)
	}

	if err := u.policy.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// Close releases owned resources. Injected collaborators are closed by
// whoever constructed them.
func (u *UseCase) Close() {
	u.verdicts.Close()
}

// ownerLocks serializes decide+execute per owner so facts of one submission
// never race with another submission targeting the same records.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[model.OwnerID]*sync.Mutex
}

func (l *ownerLocks) get(owner model.OwnerID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[model.OwnerID]*sync.Mutex)
	}
	if _, ok := l.locks[owner]; !ok {
		l.locks[owner] = &sync.Mutex{}
	}
	return l.locks[owner]
}
