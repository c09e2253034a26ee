package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/tagvoteapp/tagvote-server/internal/config"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/search"
	"github.com/tagvoteapp/tagvote-server/internal/service"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.TagIndex
	// Created is true when the index was built fresh on this start.
	Created bool
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve tag index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	index, created, err := search.Open(search.Options{
		DataPath: cfg.Data.SearchIndexPath,
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.Count()
	log.Info("Search index initialized", "documents", docCount, "created", created)

	return &SearchIndexHandle{TagIndex: index, Created: created}, nil
}

// TriggerSearchRebuildIfNeeded rebuilds the tag index in the background when it
// was just created or is empty. Should be called after all services are wired.
func TriggerSearchRebuildIfNeeded(i do.Injector) {
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	tagService := do.MustInvoke[*service.TagService](i)
	log := do.MustInvoke[*logger.Logger](i)

	docCount, _ := indexHandle.Count()
	if !indexHandle.Created && docCount > 0 {
		return
	}

	log.Info("Search index is new or empty, triggering rebuild")

	go func() {
		if err := tagService.RebuildIndex(context.Background()); err != nil {
			log.Error("Search index rebuild failed", "error", err)
			return
		}
		count, _ := indexHandle.Count()
		log.Info("Search index rebuild completed", "documents", count)
	}()
}
