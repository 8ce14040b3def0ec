package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophupload/internal/common"
)

// formatVersion is bumped whenever the stored layout changes incompatibly.
const formatVersion = 1

// Persister loads and stores the whole job list.
type Persister interface {
	Load(ctx context.Context) ([]models.UploadJob, error)
	Save(ctx context.Context, jobs []models.UploadJob) error
}

type storedQueue struct {
	Version int                `json:"version"`
	Jobs    []models.UploadJob `json:"jobs"`
}

// KVPersister keeps the job list as one JSON document in a metadata
// repository.
type KVPersister struct {
	repo metadata.Repository
	key  string
}

// NewKVPersister stores under common.UploadQueueKey when key is empty.
func NewKVPersister(repo metadata.Repository, key string) *KVPersister {
	if key == "" {
		key = common.UploadQueueKey
	}
	return &KVPersister{repo: repo, key: key}
}

func (p *KVPersister) Load(ctx context.Context) ([]models.UploadJob, error) {
	raw, err := p.repo.Get(ctx, p.key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var doc storedQueue
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode stored queue: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported stored queue version %d", doc.Version)
	}
	return doc.Jobs, nil
}

// Save removes the key once the list is empty.
func (p *KVPersister) Save(ctx context.Context, jobs []models.UploadJob) error {
	if len(jobs) == 0 {
		return p.repo.Delete(ctx, p.key)
	}
	raw, err := json.Marshal(storedQueue{Version: formatVersion, Jobs: jobs})
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	return p.repo.Set(ctx, p.key, raw)
}

// NopPersister keeps nothing.
type NopPersister struct{}

func (NopPersister) Load(context.Context) ([]models.UploadJob, error) { return nil, nil }
func (NopPersister) Save(context.Context, []models.UploadJob) error { return nil }
