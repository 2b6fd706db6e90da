// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/toeirei/fleetmaster/internal/credential"
	"github.com/toeirei/fleetmaster/internal/deploy"
	"github.com/toeirei/fleetmaster/internal/model"
	"github.com/toeirei/fleetmaster/internal/registry"
)

const (
	statusOK    = 0
	statusError = 1
)

// Response is the envelope every operator endpoint answers with.
type Response struct {
	Status int     `json:"status"`
	ErrMsg *string `json:"errMsg"`
	Data   any     `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Status: statusOK, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{Status: statusError, ErrMsg: &msg})
}

// classify maps an operation error to its HTTP status and the short message
// returned to the caller. Order matters: a DeploymentError wraps the
// credential errors of its first step.
func classify(err error) (int, string) {
	var (
		credErr    *credential.CredentialError
		connErr    *credential.ConnectivityError
		deployErr  *deploy.DeploymentError
		storageErr *registry.StorageError
	)
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.As(err, &credErr):
		return http.StatusBadRequest, "no usable credential"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "host not found"
	case errors.As(err, &connErr):
		return http.StatusBadGateway, "host unreachable over ssh"
	case errors.As(err, &deployErr):
		return http.StatusBadGateway, "deployment failed at step " + string(deployErr.Step)
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, "storage error"
	}
	return http.StatusInternalServerError, "internal error"
}
