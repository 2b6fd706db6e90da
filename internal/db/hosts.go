// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/toeirei/fleetmaster/internal/model"
	"github.com/uptrace/bun"
)

// HostModel maps the `hosts` table for Bun queries.
type HostModel struct {
	bun.BaseModel `bun:"table:hosts"`
	ID            int64     `bun:"id,pk"`
	Name          string    `bun:"name"`
	IP            string    `bun:"ip"`
	State         string    `bun:"state"`
	SSHUser       string    `bun:"ssh_user"`
	SSHPort       int       `bun:"ssh_port"`
	KeyScope      string    `bun:"key_scope"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

func hostToModel(h *model.Host) HostModel {
	return HostModel{
		ID:        int64(h.ID),
		Name:      h.Name,
		IP:        h.IP.String(),
		State:     string(h.State),
		SSHUser:   h.SSHUser,
		SSHPort:   int(h.SSHPort),
		KeyScope:  string(h.KeyScope),
		CreatedAt: h.CreatedAt.UTC(),
		UpdatedAt: h.UpdatedAt.UTC(),
	}
}

func hostModelToModel(m HostModel) (model.Host, error) {
	ip, err := netip.ParseAddr(m.IP)
	if err != nil {
		return model.Host{}, fmt.Errorf("host %d: %w", m.ID, err)
	}
	state, err := model.ParseHostState(m.State)
	if err != nil {
		return model.Host{}, fmt.Errorf("host %d: %w", m.ID, err)
	}
	return model.Host{
		ID:        model.HostID(m.ID),
		Name:      m.Name,
		IP:        ip,
		State:     state,
		SSHUser:   m.SSHUser,
		SSHPort:   uint16(m.SSHPort),
		KeyScope:  model.KeyScope(m.KeyScope),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// Get loads one host.
func (s *Store) Get(ctx context.Context, id model.HostID) (*model.Host, error) {
	var m HostModel
	err := s.bun.NewSelect().Model(&m).Where("id = ?", int64(id)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	h, err := hostModelToModel(m)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// List returns one page ordered by id, plus the total row count.
func (s *Store) List(ctx context.Context, page model.Page) (model.PageList[model.Host], error) {
	var ms []HostModel
	total, err := s.bun.NewSelect().
		Model(&ms).
		Order("id ASC").
		Limit(page.Limit()).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.PageList[model.Host]{}, err
	}

	out := model.PageList[model.Host]{Data: make([]model.Host, 0, len(ms)), Total: total}
	for _, m := range ms {
		h, err := hostModelToModel(m)
		if err != nil {
			return model.PageList[model.Host]{}, err
		}
		out.Data = append(out.Data, h)
	}
	return out, nil
}

// Save inserts a new host. A second insert of the same id fails with
// ErrDuplicate.
func (s *Store) Save(ctx context.Context, h *model.Host) error {
	m := hostToModel(h)
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing host.
func (s *Store) Update(ctx context.Context, h *model.Host) error {
	m := hostToModel(h)
	res, err := s.bun.NewUpdate().
		Model(&m).
		Column("name", "ip", "state", "ssh_user", "ssh_port", "key_scope", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("host %s: %w", h.ID, model.ErrNotFound)
	}
	return nil
}
