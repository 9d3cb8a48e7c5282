package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voxguard-ai/voxguard/internal/failover"
	"github.com/voxguard-ai/voxguard/pkg/session"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// registerAPI adds the control-plane routes to mux. All handlers speak JSON.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/{id}/switch", a.handleSwitch)
	mux.HandleFunc("GET /v1/sessions/{id}/switch", a.handleSwitchStatus)
	mux.HandleFunc("GET /v1/sessions/{id}/switches", a.handleSwitchHistory)
	mux.HandleFunc("GET /v1/providers/health", a.handleProvidersHealth)
	mux.HandleFunc("GET /v1/breakers", a.handleBreakers)
	mux.HandleFunc("POST /v1/breakers/{id}/reset", a.handleBreakerReset)
	mux.HandleFunc("POST /v1/breakers/{id}/force-open", a.handleBreakerForceOpen)
}

// switchRequest is the body of POST /v1/sessions/{id}/switch.
type switchRequest struct {
	From   string `json:"from_provider"`
	To     string `json:"to_provider"`
	Reason string `json:"reason"`
}

// apiError is the JSON shape of every non-2xx response.
type apiError struct {
	Error string `json:"error"`
}

func (a *App) handleSwitch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	result, err := a.orchestrator.SwitchProvider(r.Context(), sessionID,
		voice.ProviderID(req.From), voice.ProviderID(req.To), req.Reason)
	if err != nil {
		writeJSON(w, switchErrorStatus(err), apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// switchErrorStatus maps orchestrator errors to HTTP status codes.
func switchErrorStatus(err error) int {
	switch {
	case errors.Is(err, failover.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, failover.ErrSwitchInProgress),
		errors.Is(err, failover.ErrProviderMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) handleSwitchStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	st, ok := a.orchestrator.SwitchStatus(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no switch recorded for session " + sessionID})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *App) handleSwitchHistory(w http.ResponseWriter, r *http.Request) {
	history := a.orchestrator.SwitchHistory(r.PathValue("id"))
	if history == nil {
		history = []failover.SwitchResult{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *App) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.AllProvidersHealth())
}

func (a *App) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.breakers.Statuses())
}

func (a *App) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	id := voice.ProviderID(r.PathValue("id"))
	if err := a.breakers.Reset(id); err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.breakers.Statuses()[id])
}

func (a *App) handleBreakerForceOpen(w http.ResponseWriter, r *http.Request) {
	id := voice.ProviderID(r.PathValue("id"))
	if !a.providers.Has(id) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown provider " + string(id)})
		return
	}
	a.breakers.For(id).ForceOpen()
	writeJSON(w, http.StatusOK, a.breakers.Statuses()[id])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
