package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/metrics"
)

// Document is a loaded source ready for chunking.
type Document struct {
	Path    string
	URL     string
	Content string
}

// Loader turns a job source into a document.
type Loader interface {
	Load(ctx context.Context, source string) (Document, error)
}

// FileLoader reads local markdown files.
type FileLoader struct{}

func (FileLoader) Load(ctx context.Context, source string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return Document{}, fmt.Errorf("remote sources are not supported: %s", source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return Document{Path: source, Content: string(data)}, nil
}

// Service runs ingestion jobs and serves queries.
type Service struct {
	store   *JobStore
	index   *Index
	chunker *MarkdownChunker
	loader  Loader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLoader replaces the default local file loader.
func WithLoader(l Loader) Option { return func(s *Service) { s.loader = l } }

// WithMetrics records terminal job statuses.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func NewService(store *JobStore, index *Index, chunker *MarkdownChunker, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = NewMarkdownChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	s := &Service{
		store:   store,
		index:   index,
		chunker: chunker,
		loader:  FileLoader{},
		logger:  logger.Named("knowledge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the job store.
func (s *Service) Store() *JobStore { return s.store }

// Index exposes the retriever backing Query.
func (s *Service) Index() *Index { return s.index }

// CreateJob records a pending job. Directory sources are expanded to the
// markdown files below them.
func (s *Service) CreateJob(ctx context.Context, namespace string, sources []string) (*Job, error) {
	expanded, err := ExpandSources(sources)
	if err != nil {
		return nil, err
	}
	job, err := s.store.Create(ctx, namespace, expanded)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ingestion job created",
		zap.String("job_id", job.ID),
		zap.String("namespace", job.Namespace),
		zap.Int("sources", len(job.Sources)),
	)
	return job, nil
}

// RunJob processes every source of a job. Each source is loaded, chunked and
// indexed independently; a failing source does not stop the others. The job
// completes when at least one source succeeded.
func (s *Service) RunJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	logger := s.logger.With(zap.String("job_id", id))
	total := 0
	anySuccess := false

	for i, src := range job.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if src.Status == StatusCompleted {
			total += src.ChunksCount
			anySuccess = true
			continue
		}

		n, err := s.ingestSource(ctx, job, i, src.Source)
		st := SourceStatus{Source: src.Source, Status: StatusCompleted, ChunksCount: n}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			st.Status = StatusFailed
			st.Error = err.Error()
			logger.Warn("source failed", zap.String("source", src.Source), zap.Error(err))
		} else {
			total += n
			anySuccess = true
			logger.Info("source ingested", zap.String("source", src.Source), zap.Int("chunks", n))
		}
		if err := s.store.SetSourceStatus(ctx, id, i, st); err != nil {
			return nil, err
		}
	}

	status, errText := StatusCompleted, ""
	if !anySuccess {
		status, errText = StatusFailed, "All sources failed to process"
	}
	if err := s.store.Finish(ctx, id, status, total, errText); err != nil {
		return nil, err
	}
	s.metrics.ObserveJob(string(status))
	logger.Info("ingestion job finished", zap.String("status", string(status)), zap.Int("chunks", total))
	return s.store.Get(ctx, id)
}

func (s *Service) ingestSource(ctx context.Context, job *Job, pos int, source string) (int, error) {
	if err := s.advance(ctx, job.ID, pos, source, StatusScraping); err != nil {
		return 0, err
	}
	doc, err := s.loader.Load(ctx, source)
	if err != nil {
		return 0, err
	}

	if err := s.advance(ctx, job.ID, pos, source, StatusChunking); err != nil {
		return 0, err
	}
	chunks := s.chunker.Chunk(doc.Path, doc.URL, doc.Content)
	if len(chunks) == 0 {
		_, err := s.index.DeleteSource(ctx, job.Namespace, doc.Path)
		return 0, err
	}

	if err := s.advance(ctx, job.ID, pos, source, StatusIndexing); err != nil {
		return 0, err
	}
	if err := s.index.IndexChunks(ctx, job.Namespace, job.ID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (s *Service) advance(ctx context.Context, id string, pos int, source string, status Status) error {
	if err := s.store.SetStatus(ctx, id, status); err != nil {
		return err
	}
	return s.store.SetSourceStatus(ctx, id, pos, SourceStatus{Source: source, Status: status})
}

// Remove drops a source from the index, e.g. after its file was deleted.
func (s *Service) Remove(ctx context.Context, namespace, source string) (int, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return s.index.DeleteSource(ctx, namespace, source)
}

// Query searches the index.
func (s *Service) Query(ctx context.Context, q string, topK int, namespace string) ([]Result, error) {
	return s.index.Search(ctx, q, topK, namespace)
}

// ExpandSources replaces directories with the markdown files below them and
// makes local paths absolute. URLs pass through unchanged.
func ExpandSources(sources []string) ([]string, error) {
	var out []string
	for _, src := range sources {
		if strings.Contains(src, "://") {
			out = append(out, src)
			continue
		}
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("invalid source %s: %w", src, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			// Missing files fail at load time with a per-source error.
			out = append(out, abs)
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() && path != abs && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !d.IsDir() && IsMarkdown(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", src, err)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no markdown sources found")
	}
	return out, nil
}

// IsMarkdown reports whether path has a markdown extension.
func IsMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}
