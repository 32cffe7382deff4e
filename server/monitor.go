// Package server adapts the teacher's HTTP route-table conventions into a
// read-only monitoring surface for the guiding core: guider state, last
// error, recent events, and parameter changes. The core never
// accepts commands through this surface; spec.md section 6 treats wire
// protocols and CLI flags as outside its responsibility, so Monitor only
// renders state the worker already computed.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/brandondube/goguide/events"
	"github.com/brandondube/goguide/guider"
)

// Monitor exposes a *guider.Worker and an events.MemorySink as JSON over
// HTTP, following the teacher's chi-router convention in
// a chi.Router with request logging middleware.
type Monitor struct {
	Worker *guider.Worker
	Events *events.MemorySink
}

// Router builds a chi.Router serving the monitoring endpoints:
//   GET /state       - current top-level guider state
//   GET /events       - recent events and parameter changes
func (m *Monitor) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/state", m.handleState)
	r.Get("/events", m.handleEvents)
	return r
}

type stateResponse struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (m *Monitor) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{State: m.Worker.State().String()}
	if err := m.Worker.LastError(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, resp)
}

type eventsResponse struct {
	Events []events.Event          `json:"events"`
	Params map[string]interface{}  `json:"params"`
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, eventsResponse{
		Events: m.Events.Snapshot(),
		Params: m.Events.ParamsSnapshot(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
