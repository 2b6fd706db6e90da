// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package registry

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toeirei/fleetmaster/internal/deploy"
	"github.com/toeirei/fleetmaster/internal/events"
	"github.com/toeirei/fleetmaster/internal/metrics"
	"github.com/toeirei/fleetmaster/internal/model"
	"github.com/toeirei/fleetmaster/internal/testutil"
)

type fixture struct {
	repo     *testutil.MemoryRepository
	enroller *testutil.FakeEnroller
	prober   *testutil.FakeProber
	events   *events.Recorder
	reg      *Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:     testutil.NewMemoryRepository(),
		enroller: &testutil.FakeEnroller{},
		prober:   testutil.NewFakeProber(),
		events:   &events.Recorder{},
	}
	opts = append([]Option{WithPublisher(f.events), WithMetrics(metrics.New())}, opts...)
	f.reg = New(f.repo, f.enroller, f.prober, &testutil.SequenceIDs{}, opts...)
	return f
}

func (f *fixture) enroll(t *testing.T, name, ip string) model.HostID {
	t.Helper()
	id, err := f.reg.Enroll(context.Background(), model.EnrollmentRequest{Name: name, IP: netip.MustParseAddr(ip)})
	if err != nil {
		t.Fatalf("Enroll(%s): %v", name, err)
	}
	return id
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	a := f.enroll(t, "web1", "10.0.0.5")
	b := f.enroll(t, "web1", "10.0.0.7")
	if a == b {
		t.Fatalf("ids must be unique, both %s", a)
	}

	h, err := f.reg.Get(context.Background(), a)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.State != model.StateRunning || h.ID != a || h.CreatedAt.IsZero() {
		t.Fatalf("unexpected host %+v", h)
	}
	evs := f.events.Events()
	if len(evs) != 2 || evs[0].Event != "enrolled" || evs[0].To != model.StateRunning {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestEnroll_FailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.enroller.Err = &deploy.DeploymentError{Step: deploy.StepCopy, Err: errors.New("scp: Permission denied")}

	_, err := f.reg.Enroll(context.Background(), model.EnrollmentRequest{Name: "web2", IP: netip.MustParseAddr("10.0.0.6")})
	var derr *deploy.DeploymentError
	if !errors.As(err, &derr) || derr.Step != deploy.StepCopy {
		t.Fatalf("expected copy DeploymentError, got %v", err)
	}
	if f.repo.Len() != 0 {
		t.Fatalf("no host may be persisted after a failed enrollment")
	}
	if len(f.events.Events()) != 0 {
		t.Fatalf("no event may be published")
	}
}

func TestEnroll_StorageError(t *testing.T) {
	f := newFixture(t)
	f.repo.Err = errors.New("disk full")
	_, err := f.reg.Enroll(context.Background(), model.EnrollmentRequest{Name: "web1", IP: netip.MustParseAddr("10.0.0.5")})
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestIDImmutable(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t, "web1", "10.0.0.5")
	for i := 0; i < 3; i++ {
		h, err := f.reg.Refresh(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if h.ID != id {
			t.Fatalf("id changed from %s to %s", id, h.ID)
		}
	}
}

func TestRefresh_FlipsDeterministically(t *testing.T) {
	f := newFixture(t)
	ip := netip.MustParseAddr("10.0.0.5")
	id := f.enroll(t, "web1", ip.String())

	for i, up := range []bool{false, true, false, false, true, true} {
		f.prober.SetReachable(ip, up)
		h, err := f.reg.Refresh(context.Background(), id)
		if err != nil {
			t.Fatalf("round %d: refresh must not surface probe failures: %v", i, err)
		}
		want := model.StateDisconnected
		if up {
			want = model.StateRunning
		}
		if h.State != want {
			t.Fatalf("round %d: state %s, want %s", i, h.State, want)
		}
		stored, _ := f.reg.Get(context.Background(), id)
		if stored.State != want {
			t.Fatalf("round %d: persisted state %s, want %s", i, stored.State, want)
		}
	}
}

func TestRefresh_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Refresh(context.Background(), 404)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ID != 404 {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("NotFoundError should unwrap to ErrNotFound")
	}
	if f.prober.Calls() != 0 {
		t.Fatalf("unknown host must not be probed")
	}
	if _, ok := f.reg.locks.Load(model.HostID(404)); ok {
		t.Fatalf("lock for unknown host was kept")
	}
}

func TestRefresh_CancelledProbeNotApplied(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t, "web1", "10.0.0.5")
	ctx, cancel := context.WithCancel(context.Background())
	f.prober.Hook = func(model.Host) { cancel() }

	if _, err := f.reg.Refresh(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	h, _ := f.reg.Get(context.Background(), id)
	if h.State != model.StateRunning {
		t.Fatalf("cancelled probe must not change state, got %s", h.State)
	}
}

func TestRefresh_SameHostSerialized(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t, "web1", "10.0.0.5")

	var inFlight, maxInFlight atomic.Int32
	f.prober.Hook = func(model.Host) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.reg.Refresh(context.Background(), id); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if maxInFlight.Load() != 1 {
		t.Fatalf("refreshes of one host overlapped (max %d in flight)", maxInFlight.Load())
	}
}

func TestStopStart(t *testing.T) {
	f := newFixture(t)
	ip := netip.MustParseAddr("10.0.0.5")
	id := f.enroll(t, "web1", ip.String())

	h, err := f.reg.Stop(context.Background(), id)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.State != model.StateStopped {
		t.Fatalf("state after stop = %s", h.State)
	}

	// The heartbeat loop leaves stopped hosts alone.
	sum, err := f.reg.RefreshAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stopped != 1 || f.prober.Calls() != 0 {
		t.Fatalf("stopped host was probed: %+v, %d calls", sum, f.prober.Calls())
	}

	f.prober.SetReachable(ip, false)
	h, err = f.reg.Start(context.Background(), id)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.State != model.StateDisconnected {
		t.Fatalf("start with unreachable agent = %s, want disconnected", h.State)
	}
	if len(f.enroller.Actions) != 2 || f.enroller.Actions[0] != deploy.ActionStop || f.enroller.Actions[1] != deploy.ActionStart {
		t.Fatalf("unexpected service actions %v", f.enroller.Actions)
	}
}

func TestStop_ServiceFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t, "web1", "10.0.0.5")
	f.enroller.CtlErr = errors.New("ssh: connect refused")

	if _, err := f.reg.Stop(context.Background(), id); err == nil {
		t.Fatalf("expected stop error")
	}
	h, _ := f.reg.Get(context.Background(), id)
	if h.State != model.StateRunning {
		t.Fatalf("state changed despite failed stop: %s", h.State)
	}
}

func TestList_NeverProbes(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 15; i++ {
		f.enroll(t, "web", netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}).String())
	}
	page, err := f.reg.List(context.Background(), model.Page{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 10 || page.Total != 15 {
		t.Fatalf("got %d hosts of %d", len(page.Data), page.Total)
	}
	if f.prober.Calls() != 0 {
		t.Fatalf("List must not probe")
	}
}

func TestList_StorageError(t *testing.T) {
	f := newFixture(t)
	f.repo.Err = errors.New("connection reset")
	_, err := f.reg.List(context.Background(), model.Page{})
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestRefreshAll(t *testing.T) {
	f := newFixture(t, WithWorkers(4))
	const n = 230
	for i := 0; i < n; i++ {
		ip := netip.AddrFrom4([4]byte{10, 1, byte(i >> 8), byte(i)})
		f.enroll(t, "h", ip.String())
		if i%3 == 0 {
			f.prober.SetReachable(ip, false)
		}
	}

	sum, err := f.reg.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if sum.Total() != n {
		t.Fatalf("summary covers %d hosts, want %d", sum.Total(), n)
	}
	if sum.Disconnected != 77 || sum.Running != 153 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if f.prober.Calls() != n {
		t.Fatalf("expected %d probes, got %d", n, f.prober.Calls())
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	running := f.enroll(t, "a", "10.0.0.1")
	stopped := f.enroll(t, "b", "10.0.0.2")
	if _, err := f.reg.Stop(context.Background(), stopped); err != nil {
		t.Fatal(err)
	}

	n, err := f.reg.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reconciled %d hosts, want 1", n)
	}
	if h, _ := f.reg.Get(context.Background(), running); h.State != model.StateDisconnected {
		t.Fatalf("running host should load as disconnected, got %s", h.State)
	}
	if h, _ := f.reg.Get(context.Background(), stopped); h.State != model.StateStopped {
		t.Fatalf("stopped host must keep its state, got %s", h.State)
	}
	if f.prober.Calls() != 0 {
		t.Fatalf("reconcile must not probe")
	}
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "a", "10.0.0.1")
	for _, interval := range []time.Duration{0, -time.Second} {
		if err := f.reg.Run(context.Background(), interval); err == nil {
			t.Fatalf("Run(%s): expected error", interval)
		}
	}
	if f.prober.Calls() != 0 {
		t.Fatalf("expected no probes, got %d", f.prober.Calls())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "a", "10.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.reg.Run(ctx, 10*time.Millisecond) }()

	deadline := time.After(5 * time.Second)
	for f.prober.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("heartbeat loop did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
