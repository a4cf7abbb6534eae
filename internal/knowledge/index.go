package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// DefaultNamespace is used when a caller does not name one.
const DefaultNamespace = "default"

// ErrIndexLocked is returned when another process holds the on-disk index.
var ErrIndexLocked = errors.New("knowledge index is locked by another process")

const openLockTimeout = "2s"

// Result is one ranked chunk.
type Result struct {
	ID         string
	Text       string
	Score      float64
	SourceFile string
	SourceURL  string
	ChunkIndex int
	Header     string
}

// Source returns the URL when known, else the file.
func (r Result) Source() string {
	if r.SourceURL != "" {
		return r.SourceURL
	}
	return r.SourceFile
}

// Retriever answers relevance queries within a namespace.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, namespace string) ([]Result, error)
}

// Index is a BM25 full-text index over chunks.
type Index struct {
	index  bleve.Index
	path   string
	logger *zap.Logger
}

var _ Retriever = (*Index)(nil)

// OpenIndex opens or creates the index at path. A corrupted index is
// deleted and recreated; a locked one yields ErrIndexLocked.
func OpenIndex(path string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("knowledge.index")

	idx, err := bleve.OpenUsing(path, map[string]interface{}{"bolt_timeout": openLockTimeout})
	switch {
	case errors.Is(err, bolt.ErrTimeout):
		return nil, fmt.Errorf("%w: %s", ErrIndexLocked, path)
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create knowledge index dir: %w", err)
		}
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create knowledge index: %w", err)
		}
		logger.Info("knowledge index created", zap.String("path", path))
	case err != nil:
		logger.Warn("knowledge index unreadable, recreating", zap.String("path", path), zap.Error(err))
		if idx != nil {
			_ = idx.Close()
		}
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("failed to remove corrupted knowledge index: %w", rmErr)
		}
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate knowledge index: %w", err)
		}
	}
	return &Index{index: idx, path: path, logger: logger}, nil
}

// NewMemIndex returns an index that lives only in memory.
func NewMemIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &Index{index: idx, logger: zap.NewNop()}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	for _, name := range []string{"namespace", "source_file", "source_url", "job_id"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		doc.AddFieldMappingsAt(name, f)
	}
	for _, name := range []string{"text", "header"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = true
		doc.AddFieldMappingsAt(name, f)
	}
	chunkIndex := bleve.NewNumericFieldMapping()
	chunkIndex.Store = true
	chunkIndex.Index = false
	doc.AddFieldMappingsAt("chunk_index", chunkIndex)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

// ChunkID is the document ID of a chunk.
func ChunkID(namespace, sourceFile string, index int) string {
	return namespace + "|" + sourceFile + "#" + strconv.Itoa(index)
}

// IndexChunks replaces every chunk previously indexed for the chunks' source
// files in namespace, then indexes chunks in one batch.
func (x *Index) IndexChunks(ctx context.Context, namespace, jobID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	for _, c := range chunks {
		if seen[c.SourceFile] {
			continue
		}
		seen[c.SourceFile] = true
		if _, err := x.DeleteSource(ctx, namespace, c.SourceFile); err != nil {
			return err
		}
	}

	batch := x.index.NewBatch()
	for _, c := range chunks {
		doc := map[string]any{
			"namespace":   namespace,
			"source_file": c.SourceFile,
			"source_url":  c.SourceURL,
			"job_id":      jobID,
			"text":        c.Text,
			"header":      c.HeaderContext,
			"chunk_index": float64(c.Index),
		}
		if err := batch.Index(ChunkID(namespace, c.SourceFile, c.Index), doc); err != nil {
			return fmt.Errorf("failed to add chunk %d of %s to batch: %w", c.Index, c.SourceFile, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// DeleteSource removes the chunks of sourceFile in namespace and reports how
// many were removed.
func (x *Index) DeleteSource(ctx context.Context, namespace, sourceFile string) (int, error) {
	q := bleve.NewConjunctionQuery(termQuery("namespace", namespace), termQuery("source_file", sourceFile))
	removed := 0
	for {
		req := bleve.NewSearchRequest(q)
		req.Size = 500
		res, err := x.index.SearchInContext(ctx, req)
		if err != nil {
			return removed, fmt.Errorf("failed to look up chunks of %s: %w", sourceFile, err)
		}
		if len(res.Hits) == 0 {
			return removed, nil
		}
		batch := x.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := x.index.Batch(batch); err != nil {
			return removed, fmt.Errorf("failed to delete chunks of %s: %w", sourceFile, err)
		}
		removed += len(res.Hits)
	}
}

// Search ranks chunks in namespace by BM25 relevance to q over chunk text
// and header path.
func (x *Index) Search(ctx context.Context, q string, topK int, namespace string) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	text := bleve.NewMatchQuery(q)
	text.SetField("text")
	header := bleve.NewMatchQuery(q)
	header.SetField("header")
	header.SetBoost(0.5)

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(
		bleve.NewDisjunctionQuery(text, header),
		termQuery("namespace", namespace),
	))
	req.Size = topK
	req.Fields = []string{"text", "source_file", "source_url", "chunk_index", "header"}

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{ID: hit.ID, Score: hit.Score}
		r.Text, _ = hit.Fields["text"].(string)
		r.SourceFile, _ = hit.Fields["source_file"].(string)
		r.SourceURL, _ = hit.Fields["source_url"].(string)
		r.Header, _ = hit.Fields["header"].(string)
		if n, ok := hit.Fields["chunk_index"].(float64); ok {
			r.ChunkIndex = int(n)
		}
		out = append(out, r)
	}
	return out, nil
}

// Count returns the number of indexed chunks.
func (x *Index) Count() (uint64, error) {
	return x.index.DocCount()
}

// Path returns the on-disk location, or "" for an in-memory index.
func (x *Index) Path() string { return x.path }

func (x *Index) Close() error {
	return x.index.Close()
}

func termQuery(field, term string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}
