package providers

import (
	"github.com/samber/do/v2"

	"github.com/tagvoteapp/tagvote-server/internal/config"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/service"
)

// ProvideVoteService provides the vote aggregation service.
func ProvideVoteService(i do.Injector) (*service.VoteService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	policyHandle := do.MustInvoke[*PolicyHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)
	log := do.MustInvoke[*logger.Logger](i)

	tags := do.MustInvoke[*service.TagService](i)

	svc := service.NewVoteService(storeHandle.Store, policyHandle.Manager, sseHandle.Manager, m, log)
	svc.SetTrendingInvalidator(tags)
	return svc, nil
}

// ProvideModerationService provides the moderation service.
func ProvideModerationService(i do.Injector) (*service.ModerationService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	policyHandle := do.MustInvoke[*PolicyHandle](i)
	idemHandle := do.MustInvoke[*IdempotencyHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)
	log := do.MustInvoke[*logger.Logger](i)

	tags := do.MustInvoke[*service.TagService](i)

	svc := service.NewModerationService(storeHandle.Store, policyHandle.Manager, idemHandle.Store, sseHandle.Manager, m, log)
	svc.SetTrendingInvalidator(tags)
	return svc, nil
}

// ProvideTagService provides the tag service.
func ProvideTagService(i do.Injector) (*service.TagService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewTagService(storeHandle.Store, indexHandle.TagIndex, sseHandle.Manager, m, log, cfg.Cache.TrendingTTL), nil
}

// ProvideUserService provides the user service.
func ProvideUserService(i do.Injector) (*service.UserService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	return service.NewUserService(storeHandle.Store), nil
}
