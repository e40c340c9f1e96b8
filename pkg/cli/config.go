package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/adapter"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/policy"
	"github.com/m-mizutani/mneme/pkg/repository"
	"github.com/m-mizutani/mneme/pkg/usecase/memory"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds flag destinations shared by all commands. Collaborators are
// built from it once per command invocation.
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Store
	store             string
	chromemPath       string
	firestoreProject  string
	firestoreDatabase string
	pgvectorDSN       string

	// LLM
	llm             string
	embedder        string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	openaiAPIKey    string
	openaiBaseURL   string
	openaiModel     string
	anthropicAPIKey string
	claudeModel     string
	embedModel      string
	embedDimension  int64
	embedQPS        float64
	parallelism     int64

	// Reconciliation policy
	policyFile         string
	matchThreshold     float64
	duplicateThreshold float64
	topK               int64

	// Submission gate
	policyDir string

	// Audit / archive
	bigqueryProject string
	bigqueryDataset string
	bigqueryTable   string
	archiveBucket   string
}

// globalFlags returns logging flags shared by every command.
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MNEME_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("MNEME_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// storeFlags returns store backend selection flags.
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Store backend (memory, chromem, firestore, pgvector)",
			Value:       "chromem",
			Sources:     cli.EnvVars("MNEME_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "chromem-path",
			Usage:       "Data directory for the chromem store",
			Value:       "./mneme-data",
			Sources:     cli.EnvVars("MNEME_CHROMEM_PATH"),
			Destination: &cfg.chromemPath,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("MNEME_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("MNEME_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "pgvector-dsn",
			Usage:       "PostgreSQL connection string for the pgvector store",
			Sources:     cli.EnvVars("MNEME_PGVECTOR_DSN"),
			Destination: &cfg.pgvectorDSN,
		},
	}
}

// llmFlags returns model provider flags.
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Generation provider (gemini, openai, claude)",
			Value:       "gemini",
			Sources:     cli.EnvVars("MNEME_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding provider (gemini, openai)",
			Sources:     cli.EnvVars("MNEME_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Vertex AI",
			Sources:     cli.EnvVars("MNEME_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("MNEME_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Sources:     cli.EnvVars("MNEME_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("MNEME_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "llm-base-url",
			Usage:       "OpenAI-compatible endpoint override (e.g. Ollama)",
			Sources:     cli.EnvVars("MNEME_LLM_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI chat model",
			Sources:     cli.EnvVars("MNEME_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("MNEME_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model",
			Sources:     cli.EnvVars("MNEME_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "embed-model",
			Usage:       "Embedding model override",
			Sources:     cli.EnvVars("MNEME_EMBED_MODEL"),
			Destination: &cfg.embedModel,
		},
		&cli.IntFlag{
			Name:        "embed-dimension",
			Usage:       "Embedding dimensionality",
			Value:       768,
			Sources:     cli.EnvVars("MNEME_EMBED_DIMENSION"),
			Destination: &cfg.embedDimension,
		},
		&cli.FloatFlag{
			Name:        "embed-qps",
			Usage:       "Embedding calls per second (0 = unlimited)",
			Sources:     cli.EnvVars("MNEME_EMBED_QPS"),
			Destination: &cfg.embedQPS,
		},
		&cli.IntFlag{
			Name:        "parallelism",
			Usage:       "Concurrent embedding calls per submission",
			Value:       4,
			Sources:     cli.EnvVars("MNEME_PARALLELISM"),
			Destination: &cfg.parallelism,
		},
	}
}

// policyFlags returns reconciliation and gate policy flags.
func policyFlags(cfg *config) []cli.Flag {
	defaults := model.DefaultReconcilePolicy()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-file",
			Usage:       "YAML file with reconciliation thresholds",
			Sources:     cli.EnvVars("MNEME_POLICY_FILE"),
			Destination: &cfg.policyFile,
		},
		&cli.FloatFlag{
			Name:        "match-threshold",
			Usage:       "Similarity above which a memory counts as related",
			Value:       defaults.MatchThreshold,
			Sources:     cli.EnvVars("MNEME_MATCH_THRESHOLD"),
			Destination: &cfg.matchThreshold,
		},
		&cli.FloatFlag{
			Name:        "duplicate-threshold",
			Usage:       "Similarity above which equal text is an exact duplicate",
			Value:       defaults.DuplicateThreshold,
			Sources:     cli.EnvVars("MNEME_DUPLICATE_THRESHOLD"),
			Destination: &cfg.duplicateThreshold,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Candidates retrieved per fact",
			Value:       int64(defaults.TopK),
			Sources:     cli.EnvVars("MNEME_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies gating submissions",
			Sources:     cli.EnvVars("MNEME_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// auditFlags returns audit sink and archive storage flags.
func auditFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID for the audit sink",
			Sources:     cli.EnvVars("MNEME_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset for the audit sink",
			Sources:     cli.EnvVars("MNEME_BIGQUERY_DATASET"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for the audit sink",
			Value:       "memory_audit",
			Sources:     cli.EnvVars("MNEME_BIGQUERY_TABLE"),
			Destination: &cfg.bigqueryTable,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket for archived records",
			Sources:     cli.EnvVars("MNEME_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
	}
}

// allFlags bundles every flag group for commands that run the pipeline.
func allFlags(cfg *config) []cli.Flag {
	flags := globalFlags(cfg)
	flags = append(flags, storeFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, policyFlags(cfg)...)
	flags = append(flags, auditFlags(cfg)...)
	return flags
}

// setupLogging installs the process default logger from the flags.
func (cfg *config) setupLogging() {
	logging.SetDefault(logging.New(cfg.logLevel, cfg.logFormat, os.Stderr))
}

// newStore creates the selected store backend.
func (cfg *config) newStore(ctx context.Context) (repository.Store, error) {
	switch cfg.store {
	case "memory":
		return repository.NewMemory(), nil

	case "chromem":
		return repository.NewChromem(cfg.chromemPath)

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		return repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)

	case "pgvector":
		if cfg.pgvectorDSN == "" {
			return nil, goerr.New("pgvector-dsn is required")
		}
		return repository.NewPGVector(ctx, cfg.pgvectorDSN, int(cfg.embedDimension))

	default:
		return nil, goerr.New("unknown store backend", goerr.V("store", cfg.store))
	}
}

// newGenerator creates the selected generation provider.
func (cfg *config) newGenerator(ctx context.Context) (adapter.Generator, error) {
	switch cfg.llm {
	case "gemini":
		return cfg.newGemini(ctx)

	case "openai":
		return cfg.newOpenAI()

	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		var opts []adapter.ClaudeOption
		if cfg.claudeModel != "" {
			opts = append(opts, adapter.WithClaudeModel(cfg.claudeModel))
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, opts...), nil

	default:
		return nil, goerr.New("unknown llm provider", goerr.V("llm", cfg.llm))
	}
}

// newEmbedder creates the embedding provider. Without --embedder the
// generation provider doubles as the embedder; Claude has no embeddings, so
// it needs an explicit choice.
func (cfg *config) newEmbedder(ctx context.Context) (adapter.Embedder, error) {
	kind := cfg.embedder
	if kind == "" {
		kind = cfg.llm
	}

	switch kind {
	case "gemini":
		return cfg.newGemini(ctx)

	case "openai":
		return cfg.newOpenAI()

	case "claude":
		return nil, goerr.New("claude has no embedding endpoint, set --embedder")

	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("embedder", kind))
	}
}

func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}

	opts := []adapter.GeminiOption{
		adapter.WithEmbeddingDimension(int(cfg.embedDimension)),
	}
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.embedModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embedModel))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

func (cfg *config) newOpenAI() (*adapter.OpenAIClient, error) {
	if cfg.openaiAPIKey == "" && cfg.openaiBaseURL == "" {
		return nil, goerr.New("openai-api-key is required")
	}

	opts := []adapter.OpenAIOption{
		adapter.WithOpenAIEmbeddingDimension(int(cfg.embedDimension)),
	}
	if cfg.openaiModel != "" {
		opts = append(opts, adapter.WithOpenAIChatModel(cfg.openaiModel))
	}
	if cfg.embedModel != "" {
		opts = append(opts, adapter.WithOpenAIEmbeddingModel(cfg.embedModel))
	}
	if cfg.openaiBaseURL != "" {
		opts = append(opts, adapter.WithOpenAIBaseURL(cfg.openaiBaseURL))
	}
	return adapter.NewOpenAI(cfg.openaiAPIKey, opts...), nil
}

// reconcilePolicy builds the policy from the YAML file (if given) with flag
// overrides on top.
func (cfg *config) reconcilePolicy() (model.ReconcilePolicy, error) {
	p := model.DefaultReconcilePolicy()
	if cfg.policyFile != "" {
		loaded, err := model.LoadReconcilePolicy(cfg.policyFile)
		if err != nil {
			return p, err
		}
		p = loaded
	}

	defaults := model.DefaultReconcilePolicy()
	if cfg.matchThreshold != defaults.MatchThreshold {
		p.MatchThreshold = cfg.matchThreshold
	}
	if cfg.duplicateThreshold != defaults.DuplicateThreshold {
		p.DuplicateThreshold = cfg.duplicateThreshold
	}
	if int(cfg.topK) != defaults.TopK {
		p.TopK = int(cfg.topK)
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// newUseCase wires the full pipeline from the flags. The returned cleanup
// closes everything the pipeline owns.
func (cfg *config) newUseCase(ctx context.Context) (*memory.UseCase, func(), error) {
	cfg.setupLogging()

	store, err := cfg.newStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	generator, err := cfg.newGenerator(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	reconcile, err := cfg.reconcilePolicy()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	opts := []memory.Option{
		memory.WithPolicy(reconcile),
		memory.WithEmbedQPS(cfg.embedQPS),
		memory.WithParallelism(int(cfg.parallelism)),
	}

	var closers []func()

	if cfg.policyDir != "" {
		gate, err := policy.New(ctx, cfg.policyDir)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		opts = append(opts, memory.WithGate(gate))
	}

	if cfg.bigqueryProject != "" && cfg.bigqueryDataset != "" {
		audit, err := adapter.NewBigQueryNotifier(ctx, cfg.bigqueryProject, cfg.bigqueryDataset, cfg.bigqueryTable)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		opts = append(opts, memory.WithNotifier(adapter.MultiNotifier(adapter.NewLogNotifier(), audit)))
		closers = append(closers, func() { _ = audit.Close() })
	}

	if cfg.archiveBucket != "" {
		archiver, err := adapter.NewStorage(ctx, cfg.archiveBucket)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		opts = append(opts, memory.WithArchiver(archiver))
	}

	uc, err := memory.New(store, generator, embedder, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		uc.Close()
		for _, closer := range closers {
			closer()
		}
		_ = store.Close()
	}
	return uc, cleanup, nil
}
