// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package control exposes the operator surface over HTTP: start one
// account's sync, stop one, stop all, and query status. It is a thin layer
// over the sync manager; no session state lives here.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/syncer"
)

// Handler serves the account control endpoints.
type Handler struct {
	manager *syncer.Manager
}

// NewHandler creates a control handler driving the given manager.
func NewHandler(manager *syncer.Manager) *Handler {
	return &Handler{manager: manager}
}

// Register installs the control routes on a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /accounts/{id}/start", h.startAccount)
	mux.HandleFunc("POST /accounts/{id}/stop", h.stopAccount)
	mux.HandleFunc("POST /accounts/stop", h.stopAll)
	mux.HandleFunc("GET /accounts/{id}", h.accountStatus)
	mux.HandleFunc("GET /accounts", h.allStatuses)
}

// startRequest is the JSON body for starting an account sync.
type startRequest struct {
	Host     string                `json:"host"`
	Port     int                   `json:"port"`
	Username string                `json:"username"`
	Password string                `json:"password"`
	TLS      bool                  `json:"tls"`
	Folder   string                `json:"folder,omitempty"`
	OAuth2   *mailbox.OAuth2Config `json:"oauth2,omitempty"`
}

// startAccount creates and starts a session. The response is 202: the
// connection is established asynchronously and health is observable only
// through the status endpoints.
func (h *Handler) startAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Host == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "host and username are required")
		return
	}
	if req.Port == 0 {
		if req.TLS {
			req.Port = 993
		} else {
			req.Port = 143
		}
	}

	creds := mailbox.Credentials{
		AccountID: accountID,
		Host:      req.Host,
		Port:      req.Port,
		Username:  req.Username,
		Password:  req.Password,
		UseTLS:    req.TLS,
		Folder:    req.Folder,
		OAuth2:    req.OAuth2,
	}

	if err := h.manager.StartAccount(creds); err != nil {
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("control: account start accepted", "account", accountID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"account_id": accountID, "state": "starting"})
}

// stopAccount stops one account. Stopping is idempotent: a missing account
// still answers 204.
func (h *Handler) stopAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	h.manager.StopAccount(accountID)
	w.WriteHeader(http.StatusNoContent)
}

// stopAll stops every running session and returns once cleanup finished.
func (h *Handler) stopAll(w http.ResponseWriter, r *http.Request) {
	h.manager.StopAll()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accountStatus(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	status, ok := h.manager.Status(accountID)
	if !ok {
		writeError(w, http.StatusNotFound, "account not running")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *Handler) allStatuses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.manager.Statuses())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
