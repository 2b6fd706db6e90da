// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"errors"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/toeirei/fleetmaster/internal/model"
)

// Repository is the method set every host storage backend implements.
type Repository interface {
	Get(ctx context.Context, id model.HostID) (*model.Host, error)
	List(ctx context.Context, page model.Page) (model.PageList[model.Host], error)
	Save(ctx context.Context, h *model.Host) error
	Update(ctx context.Context, h *model.Host) error
}

// SampleHost returns a host with every field populated.
func SampleHost(id model.HostID) *model.Host {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Host{
		ID:        id,
		Name:      "web" + id.String(),
		IP:        netip.AddrFrom4([4]byte{10, 0, byte(id >> 8), byte(id)}),
		State:     model.StateRunning,
		SSHUser:   "root",
		SSHPort:   22,
		KeyScope:  model.KeyScopeHost,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// RunRepositoryContract exercises the behaviour every backend must share.
// newRepo must return an empty repository.
func RunRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Get(ctx, 99); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveGet", func(t *testing.T) {
		repo := newRepo(t)
		want := SampleHost(7241198473810432001)
		if err := repo.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := repo.Get(ctx, want.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		assertHostEqual(t, got, want)
	})

	t.Run("UpdateState", func(t *testing.T) {
		repo := newRepo(t)
		h := SampleHost(3)
		if err := repo.Save(ctx, h); err != nil {
			t.Fatal(err)
		}
		h.State = model.StateDisconnected
		h.UpdatedAt = h.UpdatedAt.Add(time.Minute)
		if err := repo.Update(ctx, h); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, err := repo.Get(ctx, 3)
		if err != nil {
			t.Fatal(err)
		}
		assertHostEqual(t, got, h)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Update(ctx, SampleHost(5)); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DuplicateSave", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Save(ctx, SampleHost(1)); err != nil {
			t.Fatal(err)
		}
		if err := repo.Save(ctx, SampleHost(1)); err == nil {
			t.Fatalf("expected error saving duplicate id")
		}
	})

	t.Run("Pagination", func(t *testing.T) {
		repo := newRepo(t)
		for i := 1; i <= 23; i++ {
			if err := repo.Save(ctx, SampleHost(model.HostID(i))); err != nil {
				t.Fatal(err)
			}
		}
		tests := []struct {
			page      model.Page
			wantLen   int
			wantFirst model.HostID
		}{
			{model.Page{Page: 1, PageSize: 10}, 10, 1},
			{model.Page{Page: 2, PageSize: 10}, 10, 11},
			{model.Page{Page: 3, PageSize: 10}, 3, 21},
			{model.Page{Page: 4, PageSize: 10}, 0, 0},
			{model.Page{}, 10, 1},
			{model.Page{Page: math.MaxInt/10 + 2, PageSize: 10}, 0, 0},
			{model.Page{Page: math.MaxInt, PageSize: model.MaxPageSize}, 0, 0},
		}
		for _, tt := range tests {
			got, err := repo.List(ctx, tt.page)
			if err != nil {
				t.Fatalf("List(%+v): %v", tt.page, err)
			}
			if got.Total != 23 {
				t.Errorf("List(%+v) total = %d, want 23", tt.page, got.Total)
			}
			if len(got.Data) != tt.wantLen {
				t.Fatalf("List(%+v) len = %d, want %d", tt.page, len(got.Data), tt.wantLen)
			}
			if tt.wantLen > 0 && got.Data[0].ID != tt.wantFirst {
				t.Errorf("List(%+v) first = %s, want %s", tt.page, got.Data[0].ID, tt.wantFirst)
			}
		}
	})

	t.Run("EmptyList", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.List(ctx, model.Page{Page: 1, PageSize: 10})
		if err != nil {
			t.Fatal(err)
		}
		if got.Total != 0 || len(got.Data) != 0 {
			t.Fatalf("expected empty page, got %+v", got)
		}
	})
}

func assertHostEqual(t *testing.T, got, want *model.Host) {
	t.Helper()
	if got.ID != want.ID || got.Name != want.Name || got.IP != want.IP || got.State != want.State ||
		got.SSHUser != want.SSHUser || got.SSHPort != want.SSHPort || got.KeyScope != want.KeyScope {
		t.Fatalf("host mismatch:\n got %+v\nwant %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("timestamps mismatch: got %s/%s want %s/%s", got.CreatedAt, got.UpdatedAt, want.CreatedAt, want.UpdatedAt)
	}
}
