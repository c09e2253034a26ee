// Package policy holds the vote aggregation policy and reloads it from a YAML file when the file changes.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// debounce absorbs the burst of events editors produce for a single save.
const debounce = 150 * time.Millisecond

// Policy is the set of tunables that drive automatic association state changes.
type Policy struct {
	Thresholds domain.Thresholds `yaml:"thresholds"`
	// ImplicitAssociations lets non-moderators create an association by voting on it.
	ImplicitAssociations bool `yaml:"implicit_associations"`
}

// Validate checks the thresholds.
func (p Policy) Validate() error {
	return p.Thresholds.Validate()
}

// Parse decodes YAML over base, so fields missing from data keep base's values.
func Parse(data []byte, base Policy) (Policy, error) {
	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return base, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return base, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Manager serves the current Policy and swaps it atomically on reload.
type Manager struct {
	base    Policy
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Policy]

	mu        sync.Mutex
	listeners []func(Policy)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewManager returns a manager seeded with base. If path is set, the file is
// loaded immediately and must be valid.
func NewManager(base Policy, path string, logger *slog.Logger) (*Manager, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		base:   base,
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	m.current.Store(&base)

	if path != "" {
		if err := m.Reload(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Current returns the active policy.
func (m *Manager) Current() Policy {
	return *m.current.Load()
}

// OnChange registers fn to be called after every successful reload.
func (m *Manager) OnChange(fn func(Policy)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Reload reads the policy file. On failure the previous policy stays active.
func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}

	//#nosec G304 -- policy path comes from operator configuration
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	next, err := Parse(data, m.base)
	if err != nil {
		return err
	}

	prev := m.current.Swap(&next)
	if prev != nil && *prev == next {
		return nil
	}

	m.logger.Info("vote policy loaded",
		"path", m.path,
		"auto_disable", next.Thresholds.AutoDisable,
		"auto_approve", next.Thresholds.AutoApprove,
		"implicit_associations", next.ImplicitAssociations,
	)

	m.mu.Lock()
	listeners := append([]func(Policy){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// Watch starts reloading the file whenever it changes. The parent directory is
// watched so atomic-rename saves are picked up. It returns immediately; call
// Close to stop.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	if m.watcher != nil {
		return errors.New("policy watcher already running")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch policy directory: %w", err)
	}
	m.watcher = w

	m.wg.Add(1)
	go m.processEvents(ctx)
	return nil
}

func (m *Manager) processEvents(ctx context.Context) {
	defer m.wg.Done()

	target := filepath.Clean(m.path)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := m.Reload(); err != nil {
				m.logger.Warn("vote policy reload failed, keeping previous policy", "path", m.path, "error", err)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("policy watcher error", "error", err)
		}
	}
}

// Close stops the watcher goroutine.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	select {
	case <-m.done:
		return nil
	default:
		close(m.done)
	}
	err := m.watcher.Close()
	m.wg.Wait()
	return err
}
