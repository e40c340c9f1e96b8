package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

// ArchiveResult summarizes one retention sweep run.
type ArchiveResult struct {
	Swept      int    `json:"swept"`
	Archived   int    `json:"archived"`
	ObjectKey  string `json:"object_key,omitempty"`
	OwnerCount int    `json:"owner_count"`
}

// Archive retires SUPERSEDED records not updated since olderThan. When an
// owner is given only that owner's records are swept. If an archiver is
// configured the full records are exported as one JSONL object before any
// status changes, so an export failure aborts the sweep with nothing lost.
func (u *UseCase) Archive(ctx context.Context, owner model.OwnerID, olderThan time.Time) (*ArchiveResult, error) {
	records, err := u.store.SweepArchivable(ctx, olderThan)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to sweep archivable records")
	}

	if owner != "" {
		filtered := records[:0]
		for _, record := range records {
			if record.OwnerID == owner {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	result := &ArchiveResult{Swept: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	owners := make(map[model.OwnerID]bool, len(records))
	for _, record := range records {
		owners[record.OwnerID] = true
	}
	result.OwnerCount = len(owners)

	if u.archiver != nil {
		key, err := u.exportRecords(ctx, records)
		if err != nil {
			return nil, err
		}
		result.ObjectKey = key
	}

	now := time.Now().UTC()
	for _, record := range records {
		record.Status = model.StatusArchived
		record.UpdatedAt = now
		if err := u.updateWithRetry(ctx, record); err != nil {
			// Already exported, so a partial mark is safe: the next sweep
			// picks the remainder up again.
			logging.From(ctx).Error("failed to mark record archived",
				"memory_id", record.ID, "error", err)
			continue
		}
		result.Archived++
	}

	logging.From(ctx).Info("retention sweep finished",
		"swept", result.Swept,
		"archived", result.Archived,
		"owners", result.OwnerCount,
		"object", result.ObjectKey,
	)
	return result, nil
}

// exportRecords writes the records as JSONL to the archive storage and
// returns the object key.
func (u *UseCase) exportRecords(ctx context.Context, records []*model.MemoryRecord) (string, error) {
	key := fmt.Sprintf("archive/%s/%s.jsonl", time.Now().UTC().Format("2006-01-02"), uuid.New().String())

	w, err := u.archiver.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}

	enc := json.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			_ = w.Close()
			return "", goerr.Wrap(err, "failed to encode archive record", goerr.V("key", key))
		}
	}

	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to finalize archive object", goerr.V("key", key))
	}
	return key, nil
}

// ReadArchive loads the records of one exported archive object back from
// storage, e.g. to inspect what a past sweep retired.
func (u *UseCase) ReadArchive(ctx context.Context, key string) ([]*model.MemoryRecord, error) {
	if u.archiver == nil {
		return nil, goerr.New("no archive storage configured")
	}
	if key == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "object key is required")
	}

	r, err := u.archiver.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}
	defer r.Close()

	var records []*model.MemoryRecord
	dec := json.NewDecoder(r)
	for {
		var record model.MemoryRecord
		if err := dec.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, goerr.Wrap(err, "failed to decode archive record", goerr.V("key", key))
		}
		records = append(records, &record)
	}
	return records, nil
}
