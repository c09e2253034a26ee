// Package idempotency remembers the results of completed requests so a replay
// with the same key returns the stored result instead of repeating side effects.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "idem:"

// ErrKeyReused is returned when a key is replayed with a different request fingerprint.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// record is the persisted form of one completed request.
type record struct {
	Fingerprint string          `json:"fingerprint"`
	Result      json.RawMessage `json:"result"`
	StoredAt    time.Time       `json:"stored_at"`
}

// Store keeps results in Badger with a TTL per entry.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group

	closeOnce sync.Once
}

// Options configures the store.
type Options struct {
	Path     string        // Directory for the Badger files; empty means in-memory
	TTL      time.Duration // How long a result is replayable
	Logger   *slog.Logger
	SyncMode bool // fsync every write
}

// Open opens (or creates) the idempotency store.
func Open(opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("idempotency ttl must be positive, got %s", opts.TTL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil
	bopts.SyncWrites = opts.SyncMode
	bopts.CompactL0OnClose = true

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open idempotency db: %w", err)
	}

	logger.Info("idempotency store opened", "path", opts.Path, "ttl", opts.TTL)
	return &Store{db: db, ttl: opts.TTL, logger: logger}, nil
}

// Close releases the database. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// Do runs fn at most once per key within the TTL and decodes its result into out.
//
// A replay with the same key and fingerprint returns the stored result and
// replayed=true. A replay with a different fingerprint returns ErrKeyReused.
// Concurrent calls with the same key share one execution. Failed calls are not
// stored, so the client can retry them with the same key.
func (s *Store) Do(ctx context.Context, key, fingerprint string, out any, fn func(ctx context.Context) (any, error)) (replayed bool, err error) {
	dbKey := []byte(keyPrefix + key)

	v, err, _ := s.group.Do(key, func() (any, error) {
		rec, err := s.get(dbKey)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}

		result, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}

		fresh := &record{Fingerprint: fingerprint, Result: data, StoredAt: time.Now()}
		if err := s.set(dbKey, fresh); err != nil {
			// The side effects already happened; losing the record only costs replay protection.
			s.logger.Warn("failed to store idempotent result", "key", key, "error", err)
		}
		return freshResult{fresh}, nil
	})
	if err != nil {
		return false, err
	}

	var rec *record
	switch r := v.(type) {
	case freshResult:
		rec = r.record
	case *record:
		rec, replayed = r, true
	}

	if rec.Fingerprint != fingerprint {
		return false, ErrKeyReused
	}
	if err := json.Unmarshal(rec.Result, out); err != nil {
		return false, fmt.Errorf("unmarshal result: %w", err)
	}
	return replayed, nil
}

// freshResult marks a record produced by this call rather than loaded from disk.
type freshResult struct{ *record }

func (s *Store) get(key []byte) (*record, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *Store) set(key []byte, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.ttl))
	})
}

// RunGC reclaims space from expired entries. Call periodically.
func (s *Store) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}
