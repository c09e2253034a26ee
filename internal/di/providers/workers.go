package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/tagvoteapp/tagvote-server/internal/config"
	"github.com/tagvoteapp/tagvote-server/internal/idempotency"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/ratelimit"
)

// IdempotencyHandle wraps the idempotency store and its GC loop.
type IdempotencyHandle struct {
	*idempotency.Store
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *IdempotencyHandle) Shutdown() error {
	h.cancel()
	<-h.done
	return h.Close()
}

// ProvideIdempotency provides the Badger-backed idempotency key store.
func ProvideIdempotency(i do.Injector) (*IdempotencyHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	st, err := idempotency.Open(idempotency.Options{
		Path:   cfg.Data.IdempotencyPath,
		TTL:    cfg.Cache.IdempotencyTTL,
		Logger: log.Logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(idempotencyGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.RunGC()
			}
		}
	}()

	log.Info("Idempotency store opened",
		"path", cfg.Data.IdempotencyPath,
		"ttl", cfg.Cache.IdempotencyTTL,
	)

	return &IdempotencyHandle{Store: st, cancel: cancel, done: done}, nil
}

// VoteLimiterHandle wraps the per-user vote limiter. Limiter is nil when
// rate limiting is disabled.
type VoteLimiterHandle struct {
	Limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *VoteLimiterHandle) Shutdown() error {
	if h.Limiter != nil {
		h.Limiter.Stop()
	}
	return nil
}

// ProvideVoteLimiter provides the per-user vote rate limiter.
func ProvideVoteLimiter(i do.Injector) (*VoteLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.RateLimit.Enabled {
		log.Info("Vote rate limiting disabled by configuration")
		return &VoteLimiterHandle{}, nil
	}

	return &VoteLimiterHandle{
		Limiter: ratelimit.PerMinute(cfg.RateLimit.VotesPerMinute, cfg.RateLimit.Burst),
	}, nil
}

// ProvideMetrics provides the Prometheus collectors.
func ProvideMetrics(i do.Injector) (*metrics.Metrics, error) {
	return metrics.New()
}
