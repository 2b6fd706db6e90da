// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package api is the operator HTTP facade over the host registry. Every
// response uses the same {status, errMsg, data} envelope; the HTTP code is
// derived from the kind of error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/toeirei/fleetmaster/internal/logging"
	"github.com/toeirei/fleetmaster/internal/metrics"
	"github.com/toeirei/fleetmaster/internal/model"
)

// maxBodyBytes bounds request bodies. Private keys are the largest payload.
const maxBodyBytes = 1 << 20

// Registry is the subset of the host registry the API drives.
type Registry interface {
	Enroll(ctx context.Context, req model.EnrollmentRequest) (model.HostID, error)
	List(ctx context.Context, page model.Page) (model.PageList[model.Host], error)
	Refresh(ctx context.Context, id model.HostID) (*model.Host, error)
	Stop(ctx context.Context, id model.HostID) (*model.Host, error)
	Start(ctx context.Context, id model.HostID) (*model.Host, error)
}

// Handler serves the operator API.
type Handler struct {
	reg     Registry
	metrics *metrics.Metrics
}

// New returns a Handler. m may be nil, in which case /metrics is not served.
func New(reg Registry, m *metrics.Metrics) *Handler {
	return &Handler{reg: reg, metrics: m}
}

// Router returns the configured mux.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	h.handle(mux, "GET /ping", h.Ping)
	h.handle(mux, "POST /api/operator/create_host", h.CreateHost)
	h.handle(mux, "GET /api/operator/ping_host", h.PingHost)
	h.handle(mux, "POST /api/operator/hosts", h.Hosts)
	h.handle(mux, "POST /api/operator/stop_host", h.StopHost)
	h.handle(mux, "POST /api/operator/start_host", h.StartHost)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	return mux
}

// handle registers fn and counts its responses by route and status.
func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	if h.metrics == nil {
		mux.HandleFunc(pattern, fn)
		return
	}
	counter := h.metrics.HTTPRequestsTotal
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		counter.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// fail logs the full error and answers with the short classified message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := classify(err)
	logging.With("component", "api", "route", r.URL.Path, "code", code).Errorf("%v", err)
	writeError(w, code, msg)
}

// CreateHostParams is the body of create_host. Port, user and key are
// optional.
type CreateHostParams struct {
	Name string     `json:"name"`
	IP   netip.Addr `json:"ip"`
	Port uint16     `json:"port,omitempty"`
	User string     `json:"user,omitempty"`
	Key  string     `json:"key,omitempty"`
}

// Ping answers liveness checks of the controller itself.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, "pong")
}

// CreateHost enrolls a host and returns its id.
// POST /api/operator/create_host
func (h *Handler) CreateHost(w http.ResponseWriter, r *http.Request) {
	var p CreateHostParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.reg.Enroll(r.Context(), model.EnrollmentRequest{
		Name: p.Name,
		IP:   p.IP,
		Port: p.Port,
		User: p.User,
		Key:  []byte(p.Key),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, id)
}

// PingHost probes one host and returns it with the resulting state.
// GET /api/operator/ping_host?id=
func (h *Handler) PingHost(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.reg.Refresh)
}

// StopHost stops the agent on one host.
// POST /api/operator/stop_host?id=
func (h *Handler) StopHost(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.reg.Stop)
}

// StartHost starts the agent on one host and probes it.
// POST /api/operator/start_host?id=
func (h *Handler) StartHost(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.reg.Start)
}

func (h *Handler) byID(w http.ResponseWriter, r *http.Request, op func(context.Context, model.HostID) (*model.Host, error)) {
	id, err := model.ParseHostID(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid host id")
		return
	}
	host, err := op(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, host)
}

// Hosts returns one page of hosts with their last known state. An empty
// body requests the first page.
// POST /api/operator/hosts
func (h *Handler) Hosts(w http.ResponseWriter, r *http.Request) {
	var page model.Page
	if err := decodeBody(r, &page); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	list, err := h.reg.List(r.Context(), page)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, list)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}
