// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package registry owns enrolled hosts and their liveness state.
//
// State only changes through model.Transition: enrollment and successful
// heartbeats yield Running, failed heartbeats Disconnected, and an operator
// stop Stopped. Operations on the same host are serialized by a per-host
// mutex; operations on different hosts run concurrently.
//
// List returns the last persisted state and never probes. Freshness is the
// job of Run, which refreshes every non-stopped host on an interval.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toeirei/fleetmaster/internal/deploy"
	"github.com/toeirei/fleetmaster/internal/events"
	"github.com/toeirei/fleetmaster/internal/idgen"
	"github.com/toeirei/fleetmaster/internal/logging"
	"github.com/toeirei/fleetmaster/internal/metrics"
	"github.com/toeirei/fleetmaster/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent probes in RefreshAll.
const DefaultWorkers = 16

// Repository persists hosts. Get returns an error wrapping model.ErrNotFound
// for unknown ids. List pages by offset and limit and reports the total row
// count regardless of the page.
type Repository interface {
	Get(ctx context.Context, id model.HostID) (*model.Host, error)
	List(ctx context.Context, page model.Page) (model.PageList[model.Host], error)
	Save(ctx context.Context, h *model.Host) error
	Update(ctx context.Context, h *model.Host) error
}

// Enroller runs the enrollment pipeline and controls the installed agent.
type Enroller interface {
	Run(ctx context.Context, req model.EnrollmentRequest) (*model.Host, error)
	ServiceControl(ctx context.Context, h model.Host, action deploy.ServiceAction) error
}

// Prober checks an agent's liveness.
type Prober interface {
	Probe(ctx context.Context, h model.Host) model.HeartbeatResult
}

// Registry ties enrollment, probing and persistence together.
type Registry struct {
	repo      Repository
	enroller  Enroller
	prober    Prober
	ids       idgen.Generator
	publisher events.Publisher
	metrics   *metrics.Metrics
	workers   int
	now       func() time.Time

	// locks holds one *sync.Mutex per enrolled host id. Entries live as long
	// as the Registry; hosts are never deregistered.
	locks sync.Map
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher announces state changes through p.
func WithPublisher(p events.Publisher) Option { return func(r *Registry) { r.publisher = p } }

// WithMetrics records enrollments and transitions.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithWorkers sets the RefreshAll concurrency.
func WithWorkers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New returns a Registry.
func New(repo Repository, enroller Enroller, prober Prober, ids idgen.Generator, opts ...Option) *Registry {
	r := &Registry{
		repo:      repo,
		enroller:  enroller,
		prober:    prober,
		ids:       ids,
		publisher: events.Nop{},
		workers:   DefaultWorkers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) lock(id model.HostID) func() {
	v, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// lockedGet locks id and loads its host. Locks taken for ids that do not
// exist are dropped again so unknown ids do not accumulate in r.locks; an
// unknown id has no record for a second mutex to race on.
func (r *Registry) lockedGet(ctx context.Context, id model.HostID) (*model.Host, func(), error) {
	unlock := r.lock(id)
	h, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			r.locks.Delete(id)
		}
		unlock()
		return nil, nil, err
	}
	return h, unlock, nil
}

// Enroll installs the agent on a new host and persists it as Running. No
// record is written unless every enrollment step succeeded.
func (r *Registry) Enroll(ctx context.Context, req model.EnrollmentRequest) (model.HostID, error) {
	start := r.now()
	h, err := r.enroller.Run(ctx, req)
	r.observeEnrollment(start, err)
	if err != nil {
		return 0, err
	}

	now := r.now()
	h.ID = r.ids.Next()
	h.CreatedAt, h.UpdatedAt = now, now
	if err := r.repo.Save(ctx, h); err != nil {
		return 0, &StorageError{Op: "save", Err: err}
	}
	logging.Infof("enrolled %s as %s", h, h.ID)
	r.publish(ctx, *h, "", model.EventEnrolled)
	return h.ID, nil
}

func (r *Registry) observeEnrollment(start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	result := "ok"
	var derr *deploy.DeploymentError
	switch {
	case errors.As(err, &derr):
		result = string(derr.Step)
	case err != nil:
		result = "invalid"
	}
	r.metrics.EnrollmentsTotal.WithLabelValues(result).Inc()
	r.metrics.EnrollmentDuration.Observe(r.now().Sub(start).Seconds())
}

// Get returns the persisted host.
func (r *Registry) Get(ctx context.Context, id model.HostID) (*model.Host, error) {
	h, err := r.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, &StorageError{Op: "get", Err: err}
	}
	return h, nil
}

// List returns one page of hosts with their last persisted state.
func (r *Registry) List(ctx context.Context, page model.Page) (model.PageList[model.Host], error) {
	list, err := r.repo.List(ctx, page)
	if err != nil {
		return model.PageList[model.Host]{}, &StorageError{Op: "list", Err: err}
	}
	return list, nil
}

// Refresh probes the host's agent and persists the resulting state. A
// failed probe is not an error; it shows up as Disconnected.
func (r *Registry) Refresh(ctx context.Context, id model.HostID) (*model.Host, error) {
	return r.refresh(ctx, id, false)
}

func (r *Registry) refresh(ctx context.Context, id model.HostID, skipStopped bool) (*model.Host, error) {
	h, unlock, err := r.lockedGet(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	// Stopped between listing and locking.
	if skipStopped && h.State == model.StateStopped {
		return h, nil
	}
	res := r.prober.Probe(ctx, *h)
	// A probe cut short by the caller says nothing about the host.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !res.OK {
		logging.Debugf("heartbeat %s failed: %v", h, res.Err)
	}
	if err := r.apply(ctx, h, model.HeartbeatEvent(res)); err != nil {
		return nil, err
	}
	return h, nil
}

// apply moves h through ev and persists it. Callers hold the host's lock.
func (r *Registry) apply(ctx context.Context, h *model.Host, ev model.Event) error {
	from := h.State
	h.State = model.Transition(from, ev)
	h.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, h); err != nil {
		return &StorageError{Op: "update", Err: err}
	}
	if from != h.State {
		logging.Infof("host %s: %s -> %s (%s)", h, from, h.State, ev)
		if r.metrics != nil {
			r.metrics.StateTransitions.WithLabelValues(string(from), string(h.State)).Inc()
		}
		r.publish(ctx, *h, from, ev)
	}
	return nil
}

func (r *Registry) publish(ctx context.Context, h model.Host, from model.HostState, ev model.Event) {
	if err := r.publisher.Publish(ctx, events.NewHostEvent(h, from, ev, r.now())); err != nil {
		logging.Warnf("publish %s event for %s: %v", ev, h, err)
	}
}

// Stop stops the agent on the host and marks it Stopped. The periodic
// refresh leaves stopped hosts alone until an operator starts them again.
func (r *Registry) Stop(ctx context.Context, id model.HostID) (*model.Host, error) {
	h, unlock, err := r.lockedGet(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := r.enroller.ServiceControl(ctx, *h, deploy.ActionStop); err != nil {
		return nil, fmt.Errorf("stop agent on %s: %w", h, err)
	}
	if err := r.apply(ctx, h, model.EventOperatorStop); err != nil {
		return nil, err
	}
	return h, nil
}

// Start starts the agent on the host and records the outcome of a probe.
func (r *Registry) Start(ctx context.Context, id model.HostID) (*model.Host, error) {
	h, unlock, err := r.lockedGet(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := r.enroller.ServiceControl(ctx, *h, deploy.ActionStart); err != nil {
		return nil, fmt.Errorf("start agent on %s: %w", h, err)
	}
	res := r.prober.Probe(ctx, *h)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.apply(ctx, h, model.HeartbeatEvent(res)); err != nil {
		return nil, err
	}
	return h, nil
}

// each calls fn for every persisted host, page by page.
func (r *Registry) each(ctx context.Context, fn func(model.Host) error) error {
	for p := 1; ; p++ {
		page, err := r.List(ctx, model.Page{Page: p, PageSize: model.MaxPageSize})
		if err != nil {
			return err
		}
		for _, h := range page.Data {
			if err := fn(h); err != nil {
				return err
			}
		}
		if len(page.Data) < model.MaxPageSize || p*model.MaxPageSize >= page.Total {
			return nil
		}
	}
}

// Reconcile runs once at controller start: a Running state persisted by a
// previous process is not evidence of liveness, so such hosts become
// Disconnected until their first probe. Stopped hosts keep their state.
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	var ids []model.HostID
	err := r.each(ctx, func(h model.Host) error {
		if h.State == model.StateRunning {
			ids = append(ids, h.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		unlock := r.lock(id)
		h, err := r.Get(ctx, id)
		if err == nil && h.State == model.StateRunning {
			h.State = model.StateDisconnected
			h.UpdatedAt = r.now()
			if uerr := r.repo.Update(ctx, h); uerr != nil {
				err = &StorageError{Op: "update", Err: uerr}
			} else {
				n++
			}
		}
		unlock()
		if err != nil {
			return n, err
		}
	}
	if n > 0 {
		logging.Infof("reconciled %d host(s) to disconnected pending first heartbeat", n)
	}
	return n, nil
}

// Summary counts hosts by state after a RefreshAll.
type Summary struct {
	Running      int
	Disconnected int
	Stopped      int
	Failed       int
}

// Total is the number of hosts seen.
func (s Summary) Total() int { return s.Running + s.Disconnected + s.Stopped + s.Failed }

// RefreshAll refreshes every host that is not Stopped over a bounded pool
// of workers. Refreshes of different hosts complete in no particular order.
// Storage errors of individual hosts are joined into the returned error.
func (r *Registry) RefreshAll(ctx context.Context) (Summary, error) {
	var sum Summary
	var ids []model.HostID
	err := r.each(ctx, func(h model.Host) error {
		if h.State == model.StateStopped {
			sum.Stopped++
			return nil
		}
		ids = append(ids, h.ID)
		return nil
	})
	if err != nil {
		return sum, err
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.workers)
	for _, id := range ids {
		g.Go(func() error {
			h, err := r.refresh(ctx, id, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				var nf *NotFoundError
				if !errors.As(err, &nf) {
					sum.Failed++
					errs = append(errs, err)
				}
			case h.State == model.StateRunning:
				sum.Running++
			case h.State == model.StateStopped:
				sum.Stopped++
			default:
				sum.Disconnected++
			}
			return nil
		})
	}
	_ = g.Wait()

	if r.metrics != nil {
		r.metrics.HostsByState.WithLabelValues(string(model.StateRunning)).Set(float64(sum.Running))
		r.metrics.HostsByState.WithLabelValues(string(model.StateDisconnected)).Set(float64(sum.Disconnected))
		r.metrics.HostsByState.WithLabelValues(string(model.StateStopped)).Set(float64(sum.Stopped))
	}
	return sum, errors.Join(errs...)
}

// Run refreshes all hosts immediately and then on every tick of interval
// until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sum, err := r.RefreshAll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logging.Errorf("heartbeat round: %v", err)
		}
		logging.Debugf("heartbeat round: %d running, %d disconnected, %d stopped, %d failed",
			sum.Running, sum.Disconnected, sum.Stopped, sum.Failed)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
