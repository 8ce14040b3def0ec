package queue

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
	"github.com/dmitrijs2005/gophupload/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophupload/internal/common"
)

func TestKVPersister_RestoresQueueAcrossRestart(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewMemoryRepository()
	clock := newFakeClock()

	q := newTestQueue(t, NewKVPersister(repo, ""), clock)
	jobs, err := q.AddJobs(specs("a", "b", "c", "d"))
	require.NoError(t, err)

	// a: uploading mid-way, b: paused, c: failed, d: pending
	_, _ = q.UpdateJob(jobs[0].ID, models.JobPatch{Status: models.Ptr(models.StatusUploading)})
	_, _ = q.UpdateJob(jobs[0].ID, models.JobPatch{Progress: models.Ptr(models.NewProgress(40, 100))})
	_, _ = q.UpdateJob(jobs[1].ID, models.JobPatch{Status: models.Ptr(models.StatusPaused)})
	_, _ = q.UpdateJob(jobs[2].ID, models.JobPatch{Status: models.Ptr(models.StatusUploading)})
	_, _ = q.UpdateJob(jobs[2].ID, models.JobPatch{Status: models.Ptr(models.StatusFailed), LastError: models.Ptr("HTTP 413")})

	raw, err := repo.Get(ctx, common.UploadQueueKey)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	restored, err := New(ctx, NewKVPersister(repo, ""), Options{Clock: clock.Now})
	require.NoError(t, err)

	got := restored.Jobs()
	require.Len(t, got, 4)
	assert.Equal(t, models.StatusPending, got[0].Status)
	assert.Equal(t, models.Progress{BytesTotal: 100}, got[0].Progress)
	assert.Equal(t, models.StatusPaused, got[1].Status)
	assert.Equal(t, models.StatusFailed, got[2].Status)
	assert.Equal(t, "HTTP 413", got[2].LastError)
	assert.Equal(t, models.StatusPending, got[3].Status)

	// ids and ordering survive; new jobs continue the sequence
	want := q.Jobs()
	if diff := cmp.Diff([]string{want[0].ID, want[1].ID, want[2].ID, want[3].ID},
		[]string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}); diff != "" {
		t.Fatalf("restored ids mismatch (-want +got):\n%s", diff)
	}
	added, err := restored.AddJobs(specs("e"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), added[0].Seq)
}

func TestKVPersister_EmptyQueueDeletesKey(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewMemoryRepository()
	q := newTestQueue(t, NewKVPersister(repo, ""), newFakeClock())

	_, err := q.AddJobs(specs("a", "b"))
	require.NoError(t, err)
	raw, err := repo.Get(ctx, common.UploadQueueKey)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	assert.Equal(t, 2, len(q.ClearAll()))
	raw, err = repo.Get(ctx, common.UploadQueueKey)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestKVPersister_EmptyStoreLoadsNothing(t *testing.T) {
	jobs, err := NewKVPersister(metadata.NewMemoryRepository(), "custom").Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, jobs)
}

func TestKVPersister_RejectsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewMemoryRepository()
	require.NoError(t, repo.Set(ctx, common.UploadQueueKey, []byte(`{"version":99,"jobs":[]}`)))

	_, err := NewKVPersister(repo, "").Load(ctx)
	assert.ErrorContains(t, err, "unsupported stored queue version 99")
}

func TestKVPersister_RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewMemoryRepository()
	require.NoError(t, repo.Set(ctx, common.UploadQueueKey, []byte(`not json`)))

	_, err := NewKVPersister(repo, "").Load(ctx)
	assert.ErrorContains(t, err, "failed to decode stored queue")
}

func TestRestore_DropsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewMemoryRepository()
	p := NewKVPersister(repo, "")
	require.NoError(t, p.Save(ctx, []models.UploadJob{
		{ID: "x", Seq: 1, FileName: "a", Status: models.StatusPending},
		{ID: "x", Seq: 2, FileName: "b", Status: models.StatusPending},
		{ID: "", Seq: 3, FileName: "c", Status: models.StatusPending},
	}))

	q, err := New(ctx, p, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, fileNames(q.Jobs()))

	stored, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
