package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/tagvoteapp/tagvote-server/internal/config"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/policy"
)

// PolicyHandle wraps the policy manager and its file watcher.
type PolicyHandle struct {
	*policy.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *PolicyHandle) Shutdown() error {
	h.cancel()
	return h.Close()
}

// ProvidePolicy provides the vote policy, seeded from config and overridden by
// the policy file when one is configured. The file is watched for changes.
func ProvidePolicy(i do.Injector) (*PolicyHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	base := policy.Policy{
		Thresholds:           cfg.Votes.Thresholds,
		ImplicitAssociations: cfg.Votes.ImplicitAssociations,
	}
	manager, err := policy.NewManager(base, cfg.Votes.PolicyFile, log.Logger)
	if err != nil {
		return nil, err
	}

	manager.OnChange(func(p policy.Policy) {
		log.Info("Vote policy reloaded",
			"auto_disable", p.Thresholds.AutoDisable,
			"auto_approve", p.Thresholds.AutoApprove,
			"implicit_associations", p.ImplicitAssociations,
		)
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Watch(ctx); err != nil {
		cancel()
		return nil, err
	}

	current := manager.Current()
	log.Info("Vote policy loaded",
		"policy_file", cfg.Votes.PolicyFile,
		"auto_disable", current.Thresholds.AutoDisable,
		"auto_approve", current.Thresholds.AutoApprove,
		"implicit_associations", current.ImplicitAssociations,
	)

	return &PolicyHandle{Manager: manager, cancel: cancel}, nil
}
