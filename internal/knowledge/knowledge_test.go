package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ChamsBouzaiene/skywalker/internal/metrics"
)

func openStore(t *testing.T) *JobStore {
	t.Helper()
	s, err := OpenJobStore(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	return s
}

func newMemIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemIndex()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestNewJobID(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^kb-[0-9a-f]{12}$`), NewJobID())
	assert.NotEqual(t, NewJobID(), NewJobID())
}

func TestJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	defer s.Close()

	job, err := s.Create(ctx, "", []string{"a.md", "b.md"})
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, job.Namespace)
	assert.Equal(t, StatusPending, job.Status)

	_, err = s.Create(ctx, "docs", nil)
	assert.Error(t, err)

	require.NoError(t, s.SetStatus(ctx, job.ID, StatusChunking))
	require.NoError(t, s.SetSourceStatus(ctx, job.ID, 1, SourceStatus{Source: "b.md", Status: StatusFailed, Error: "boom"}))

	unfinished, err := s.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, job.ID, unfinished[0].ID)

	require.NoError(t, s.Finish(ctx, job.ID, StatusCompleted, 7, ""))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 7, got.TotalChunks)
	require.Len(t, got.Sources, 2)
	assert.Equal(t, StatusPending, got.Sources[0].Status)
	assert.Equal(t, "boom", got.Sources[1].Error)

	unfinished, err = s.Unfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)

	_, err = s.Get(ctx, "kb-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, "kb-missing", StatusFailed), ErrJobNotFound)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIndexSearchAndReplace(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)
	c := NewMarkdownChunker(200, 0)

	refunds := c.Chunk("/kb/refunds.md", "https://example.com/refunds", "# Refunds\nRefunds are processed within five business days.")
	fees := c.Chunk("/kb/fees.md", "", "# Fees\nCard transactions carry a small processing fee.")
	require.NoError(t, idx.IndexChunks(ctx, "default", "kb-1", refunds))
	require.NoError(t, idx.IndexChunks(ctx, "default", "kb-1", fees))
	require.NoError(t, idx.IndexChunks(ctx, "other", "kb-2", refunds))

	res, err := idx.Search(ctx, "refunds processed", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "/kb/refunds.md", res[0].SourceFile)
	assert.Equal(t, "https://example.com/refunds", res[0].Source())
	assert.Equal(t, "Refunds", res[0].Header)
	assert.Greater(t, res[0].Score, 0.0)
	for _, r := range res {
		assert.NotEqual(t, ChunkID("other", "/kb/refunds.md", 0), r.ID)
	}

	res, err = idx.Search(ctx, "processing fee", 5, "default")
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "/kb/fees.md", res[0].Source())

	// Re-indexing a source replaces its old chunks.
	updated := c.Chunk("/kb/fees.md", "", "# Fees\nThere are no monthly charges.")
	require.NoError(t, idx.IndexChunks(ctx, "default", "kb-3", updated))
	res, err = idx.Search(ctx, "processing fee", 5, "default")
	require.NoError(t, err)
	assert.Empty(t, res)

	n, err := idx.DeleteSource(ctx, "default", "/kb/refunds.md")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestOpenIndexOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.bleve")
	idx, err := OpenIndex(path, nil)
	require.NoError(t, err)
	require.NoError(t, idx.IndexChunks(context.Background(), "default", "kb-1",
		NewMarkdownChunker(0, 0).Chunk("/a.md", "", "persisted words")))
	require.NoError(t, idx.Close())

	idx, err = OpenIndex(path, nil)
	require.NoError(t, err)
	defer idx.Close()
	res, err := idx.Search(context.Background(), "persisted", 5, "default")
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, path, idx.Path())
}

func TestServiceRunJob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	good := writeDoc(t, dir, "docs/good.md", "# Pix\nPix transfers settle instantly.")
	writeDoc(t, dir, "docs/nested/more.md", "# More\nAnother page.")
	writeDoc(t, dir, "docs/skip.txt", "not markdown")

	store := openStore(t)
	defer store.Close()
	m := metrics.New()
	svc := NewService(store, newMemIndex(t), nil, nil, WithMetrics(m))

	job, err := svc.CreateJob(ctx, "", []string{filepath.Join(dir, "docs"), filepath.Join(dir, "missing.md")})
	require.NoError(t, err)
	require.Len(t, job.Sources, 3)

	done, err := svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 2, done.TotalChunks)

	byName := map[string]SourceStatus{}
	for _, s := range done.Sources {
		byName[filepath.Base(s.Source)] = s
	}
	assert.Equal(t, StatusCompleted, byName["good.md"].Status)
	assert.Equal(t, 1, byName["good.md"].ChunksCount)
	assert.Equal(t, StatusFailed, byName["missing.md"].Status)
	assert.NotEmpty(t, byName["missing.md"].Error)

	res, err := svc.Query(ctx, "instantly", 3, DefaultNamespace)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, good, res[0].SourceFile)

	// Running a finished job again is a no-op.
	again, err := svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, done.TotalChunks, again.TotalChunks)
}

func TestServiceRunJobAllSourcesFail(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	defer store.Close()
	svc := NewService(store, newMemIndex(t), nil, nil)

	job, err := svc.CreateJob(ctx, "ns", []string{"/nope/a.md", "https://example.com/page"})
	require.NoError(t, err)
	done, err := svc.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "All sources failed to process", done.Error)
}

func TestExpandSourcesEmptyDir(t *testing.T) {
	_, err := ExpandSources([]string{t.TempDir()})
	assert.Error(t, err)
}

func TestWorkerRunsSubmittedJobs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	dir := t.TempDir()
	doc := writeDoc(t, dir, "a.md", "# A\nbackground ingestion works")

	store := openStore(t)
	defer store.Close()
	idx, err := NewMemIndex()
	require.NoError(t, err)
	defer idx.Close()

	w := NewWorker(NewService(store, idx, nil, nil), nil)
	finished := make(chan *Job, 1)
	w.OnFinish(func(j *Job) { finished <- j })
	w.Start()
	defer w.Stop()

	job, err := w.Submit(ctx, "", []string{doc})
	require.NoError(t, err)

	select {
	case got := <-finished:
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, StatusCompleted, got.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish the job")
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	stale := writeDoc(t, dir, "stale.md", "old")

	w, err := NewWatcher(dir, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	type change struct{ changed, removed []string }
	got := make(chan change, 10)
	w.OnChange(func(changed, removed []string) { got <- change{changed, removed} })
	require.NoError(t, w.Start())
	defer w.Stop()

	fresh := writeDoc(t, dir, "fresh.md", "new")
	writeDoc(t, dir, "ignored.txt", "x")
	require.NoError(t, os.Remove(stale))

	var changed, removed []string
	deadline := time.After(5 * time.Second)
	for len(changed) == 0 || len(removed) == 0 {
		select {
		case c := <-got:
			changed = append(changed, c.changed...)
			removed = append(removed, c.removed...)
		case <-deadline:
			t.Fatalf("timed out: changed=%v removed=%v", changed, removed)
		}
	}
	assert.Contains(t, changed, fresh)
	assert.Contains(t, removed, stale)
	for _, p := range append(changed, removed...) {
		assert.True(t, IsMarkdown(p), p)
	}
}
