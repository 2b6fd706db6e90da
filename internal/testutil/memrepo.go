// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil provides in-memory doubles shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/toeirei/fleetmaster/internal/model"
)

// MemoryRepository is a map-backed host repository ordered by id.
type MemoryRepository struct {
	mu    sync.Mutex
	hosts map[model.HostID]model.Host
	// Err, when set, is returned by every operation.
	Err error
	// Updates counts successful Update calls.
	Updates int
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{hosts: map[model.HostID]model.Host{}}
}

func (m *MemoryRepository) Get(_ context.Context, id model.HostID) (*model.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	h, ok := m.hosts[id]
	if !ok {
		return nil, fmt.Errorf("host %s: %w", id, model.ErrNotFound)
	}
	return &h, nil
}

func (m *MemoryRepository) List(_ context.Context, page model.Page) (model.PageList[model.Host], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.PageList[model.Host]{}, m.Err
	}
	all := make([]model.Host, 0, len(m.hosts))
	for _, h := range m.hosts {
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := model.PageList[model.Host]{Total: len(all), Data: []model.Host{}}
	start := page.Offset()
	if start >= len(all) {
		return out, nil
	}
	end := min(start+page.Limit(), len(all))
	out.Data = append(out.Data, all[start:end]...)
	return out, nil
}

func (m *MemoryRepository) Save(_ context.Context, h *model.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.hosts[h.ID]; ok {
		return fmt.Errorf("host %s already exists", h.ID)
	}
	m.hosts[h.ID] = *h
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, h *model.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.hosts[h.ID]; !ok {
		return fmt.Errorf("host %s: %w", h.ID, model.ErrNotFound)
	}
	m.hosts[h.ID] = *h
	m.Updates++
	return nil
}

// Len returns the number of stored hosts.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hosts)
}
