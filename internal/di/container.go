// Package di provides dependency injection configuration for the tag vote server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/tagvoteapp/tagvote-server/internal/auth"
	"github.com/tagvoteapp/tagvote-server/internal/config"
	"github.com/tagvoteapp/tagvote-server/internal/di/providers"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideMetrics)
	do.Provide(injector, providers.ProvidePolicy)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideIdempotency)

	// Auth layer
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideVoteLimiter)

	// Business services
	do.Provide(injector, providers.ProvideVoteService)
	do.Provide(injector, providers.ProvideModerationService)
	do.Provide(injector, providers.ProvideTagService)
	do.Provide(injector, providers.ProvideUserService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[providers.AuthKey](injector)
	_ = do.MustInvoke[*metrics.Metrics](injector)
	_ = do.MustInvoke[*providers.PolicyHandle](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*providers.IdempotencyHandle](injector)
	_ = do.MustInvoke[*auth.TokenService](injector)
	_ = do.MustInvoke[*providers.VoteLimiterHandle](injector)

	// Business services
	_ = do.MustInvoke[*service.VoteService](injector)
	_ = do.MustInvoke[*service.ModerationService](injector)
	_ = do.MustInvoke[*service.TagService](injector)
	_ = do.MustInvoke[*service.UserService](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	providers.TriggerSearchRebuildIfNeeded(injector)

	return nil
}
