// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package kvstore is an embedded host repository on Badger for single-node
// deployments that do not want a SQL server. Hosts are stored as JSON under
// "host/" plus the big-endian id, so key order is id order.
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/toeirei/fleetmaster/internal/model"
)

var hostPrefix = []byte("host/")

// ErrExists is returned by Save for an id that is already stored.
var ErrExists = errors.New("host already exists")

// Store is a Badger-backed host repository.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory store.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path)).WithValueLogFileSize(1 << 20)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the store.
func (s *Store) Close() error { return s.db.Close() }

// Type reports the backend name, matching database.type.
func (s *Store) Type() string { return "badger" }

func hostKey(id model.HostID) []byte {
	k := make([]byte, len(hostPrefix)+8)
	copy(k, hostPrefix)
	binary.BigEndian.PutUint64(k[len(hostPrefix):], uint64(id))
	return k
}

func decode(item *badger.Item) (model.Host, error) {
	var h model.Host
	err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &h)
	})
	return h, err
}

// Get loads one host.
func (s *Store) Get(_ context.Context, id model.HostID) (*model.Host, error) {
	var out model.Host
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hostKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("host %s: %w", id, model.ErrNotFound)
			}
			return err
		}
		out, err = decode(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List walks the host prefix in id order. Every key is counted so Total is
// exact; only the requested window is decoded.
func (s *Store) List(_ context.Context, page model.Page) (model.PageList[model.Host], error) {
	out := model.PageList[model.Host]{Data: []model.Host{}}
	start, limit := page.Offset(), page.Limit()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = hostPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			i := out.Total
			out.Total++
			if i < start || i >= start+limit {
				continue
			}
			h, err := decode(it.Item())
			if err != nil {
				return err
			}
			out.Data = append(out.Data, h)
		}
		return nil
	})
	if err != nil {
		return model.PageList[model.Host]{}, err
	}
	return out, nil
}

// Save inserts a new host.
func (s *Store) Save(_ context.Context, h *model.Host) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := hostKey(h.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("host %s: %w", h.ID, ErrExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Update replaces a stored host.
func (s *Store) Update(_ context.Context, h *model.Host) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := hostKey(h.ID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("host %s: %w", h.ID, model.ErrNotFound)
			}
			return err
		}
		return txn.Set(key, data)
	})
}

// Maintenance runs value log garbage collection until Badger reports
// nothing left to rewrite.
func (s *Store) Maintenance(ctx context.Context) error {
	if s.db.Opts().InMemory {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("badger value log gc: %w", err)
		}
	}
}
