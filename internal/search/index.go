// Package search maintains a Bleve index of tag names for autocomplete.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// mappingVersion is bumped whenever buildIndexMapping changes.
// A mismatch on startup triggers a rebuild.
const mappingVersion = "1"

// Hit is one autocomplete suggestion.
type Hit struct {
	TagID int64   `json:"tag_id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// TagSource lists every tag; used to rebuild the index from the database.
type TagSource interface {
	AllTags(ctx context.Context) ([]*domain.Tag, error)
}

// TagIndex wraps a Bleve index of tag names.
// All public methods are safe for concurrent use.
type TagIndex struct {
	index  bleve.Index
	path   string // empty for in-memory indexes
	logger *slog.Logger
	mu     sync.RWMutex // write-locked only while Rebuild swaps the index
}

// Options configures the index.
type Options struct {
	DataPath string       // Directory for index storage; empty means in-memory
	Logger   *slog.Logger // Defaults to a discard logger
}

// Open creates or opens the tag index. An index with an outdated mapping
// version, or one that fails to open, is removed and recreated empty; the
// caller is expected to Rebuild it.
func Open(opts Options) (*TagIndex, bool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.DataPath == "" {
		idx, err := newIndex("")
		if err != nil {
			return nil, false, err
		}
		return &TagIndex{index: idx, logger: logger}, true, nil
	}

	indexPath := filepath.Join(opts.DataPath, "tags.bleve")
	versionPath := filepath.Join(opts.DataPath, "tags.version")

	var idx bleve.Index
	if _, err := os.Stat(indexPath); err == nil {
		version, readErr := os.ReadFile(versionPath)
		switch {
		case readErr != nil || string(version) != mappingVersion:
			logger.Info("tag index mapping version changed, will rebuild",
				"old_version", string(version), "new_version", mappingVersion)
		default:
			idx, err = bleve.Open(indexPath)
			if err != nil {
				logger.Warn("failed to open existing tag index, will recreate", "path", indexPath, "error", err)
				idx = nil
			}
		}
	}

	if idx != nil {
		logger.Info("opened existing tag index", "path", indexPath)
		return &TagIndex{index: idx, path: indexPath, logger: logger}, false, nil
	}

	if err := os.RemoveAll(indexPath); err != nil {
		return nil, false, fmt.Errorf("remove old index: %w", err)
	}
	if err := os.MkdirAll(opts.DataPath, 0o755); err != nil {
		return nil, false, fmt.Errorf("create index directory: %w", err)
	}
	idx, err := newIndex(indexPath)
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
		logger.Warn("failed to write tag index version file", "error", err)
	}
	logger.Info("created new tag index", "path", indexPath, "mapping_version", mappingVersion)

	return &TagIndex{index: idx, path: indexPath, logger: logger}, true, nil
}

func newIndex(path string) (bleve.Index, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build mapping: %w", err)
	}
	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return idx, nil
}

func docID(tagID int64) string {
	return strconv.FormatInt(tagID, 10)
}

func document(t *domain.Tag) map[string]any {
	return map[string]any{
		"name":  t.Name,
		"words": t.Name,
	}
}

// Close closes the index and releases resources.
func (s *TagIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexTag adds or replaces one tag.
func (s *TagIndex) IndexTag(t *domain.Tag) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Index(docID(t.ID), document(t))
}

// DeleteTag removes one tag. Deleting an unknown id is not an error.
func (s *TagIndex) DeleteTag(tagID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Delete(docID(tagID))
}

// Count returns the number of indexed tags.
func (s *TagIndex) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild replaces the index contents with every tag from src.
func (s *TagIndex) Rebuild(ctx context.Context, src TagSource) error {
	tags, err := src.AllTags(ctx)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if s.path != "" {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
	}
	idx, err := newIndex(s.path)
	if err != nil {
		return err
	}
	s.index = idx

	const batchSize = 500
	for i := 0; i < len(tags); i += batchSize {
		batch := idx.NewBatch()
		for _, t := range tags[i:min(i+batchSize, len(tags))] {
			if err := batch.Index(docID(t.ID), document(t)); err != nil {
				return fmt.Errorf("batch index tag %d: %w", t.ID, err)
			}
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	s.logger.Info("rebuilt tag index", "tags", len(tags))
	return nil
}

// Search returns tags whose name starts with, or has a word starting with or
// close to, the query. Whole-name prefix matches rank first.
func (s *TagIndex) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	q := domain.NormalizeTagName(text)
	if q == "" {
		return []Hit{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, 0, false)
	req.Fields = []string{"name"}
	req.SortBy([]string{"-_score", "name"})

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		tagID, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		name, _ := h.Fields["name"].(string)
		hits = append(hits, Hit{TagID: tagID, Name: name, Score: h.Score})
	}
	return hits, nil
}

func buildQuery(q string) query.Query {
	whole := bleve.NewPrefixQuery(q)
	whole.SetField("name")
	whole.SetBoost(4)

	words := strings.Fields(q)
	last := words[len(words)-1]

	wordPrefix := bleve.NewPrefixQuery(last)
	wordPrefix.SetField("words")
	wordPrefix.SetBoost(2)

	queries := []query.Query{whole, wordPrefix}

	// Fuzzy matching is only useful once there is enough input to be selective.
	// Longer input tolerates two edits, which covers a swapped letter pair.
	if n := len([]rune(q)); n >= 4 {
		fuzzy := bleve.NewMatchQuery(q)
		fuzzy.SetField("words")
		fuzzy.SetFuzziness(1)
		if n >= 6 {
			fuzzy.SetFuzziness(2)
		}
		queries = append(queries, fuzzy)
	}

	return bleve.NewDisjunctionQuery(queries...)
}
