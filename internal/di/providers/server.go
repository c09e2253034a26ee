package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/tagvoteapp/tagvote-server/internal/api"
	"github.com/tagvoteapp/tagvote-server/internal/auth"
	"github.com/tagvoteapp/tagvote-server/internal/config"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server and starts it in the background.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	limiterHandle := do.MustInvoke[*VoteLimiterHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	services := &api.Services{
		Votes:      do.MustInvoke[*service.VoteService](i),
		Moderation: do.MustInvoke[*service.ModerationService](i),
		Tags:       do.MustInvoke[*service.TagService](i),
		Users:      do.MustInvoke[*service.UserService](i),
		Tokens:     do.MustInvoke[*auth.TokenService](i),
	}

	opts := api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		VoteLimiter:    limiterHandle.Limiter,
		Index:          indexHandle.TagIndex,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}

	handler := api.NewServer(storeHandle.Store, services, sseHandle.Manager, m, opts, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
