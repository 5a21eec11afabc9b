package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/dispatch"
	"github.com/neuroca/alert-router/pkg/metrics"
	"github.com/neuroca/alert-router/pkg/models"
	"github.com/neuroca/alert-router/pkg/silence"
	"github.com/neuroca/alert-router/pkg/store"
)

// Ingester accepts validated alert events for grouping and dispatch.
type Ingester interface {
	Ingest(alerts ...*models.Alert)
	Groups() []*dispatch.GroupStatus
}

// Journal records accepted alert events for auditing. Optional.
type Journal interface {
	RecordAlert(a *models.Alert)
}

// APIHandler handles HTTP API requests
type APIHandler struct {
	ingester  Ingester
	store     *store.Store
	silencer  *silence.Silencer
	journal   Journal
	receivers func() []string
	startedAt time.Time
}

// NewAPIHandler creates a new API handler. journal may be nil.
func NewAPIHandler(ingester Ingester, st *store.Store, sl *silence.Silencer, journal Journal, receivers func() []string) *APIHandler {
	return &APIHandler{
		ingester:  ingester,
		store:     st,
		silencer:  sl,
		journal:   journal,
		receivers: receivers,
		startedAt: time.Now(),
	}
}

// PostAlerts ingests a batch of alert events pushed by a collector.
// Malformed events are rejected and counted without affecting valid ones in
// the same batch.
func (h *APIHandler) PostAlerts(w http.ResponseWriter, r *http.Request) {
	var postables []*models.PostableAlert
	if err := json.NewDecoder(r.Body).Decode(&postables); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
		return
	}

	now := time.Now()
	var (
		accepted []*models.Alert
		rejected []string
	)
	for i, p := range postables {
		if err := p.Validate(); err != nil {
			metrics.AlertsInvalid.Inc()
			rejected = append(rejected, fmt.Sprintf("alert %d: %v", i, err))
			logrus.Warnf("Rejected malformed alert event: %v", err)
			continue
		}
		accepted = append(accepted, p.ToAlert(now))
	}

	if len(accepted) > 0 {
		if h.journal != nil {
			for _, a := range accepted {
				h.journal.RecordAlert(a)
			}
		}
		h.ingester.Ingest(accepted...)
	}

	if len(rejected) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":   "partial",
			"accepted": len(accepted),
			"errors":   rejected,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"accepted": len(accepted),
	})
}

// GetAlerts returns tracked alerts, optionally filtered by state.
func (h *APIHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	stateFilter := r.URL.Query().Get("state")
	switch stateFilter {
	case "", string(models.AlertStateFiring), string(models.AlertStateResolved):
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid state filter %q", stateFilter)})
		return
	}

	alerts := h.store.List()
	out := make([]*models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if stateFilter != "" && string(a.State()) != stateFilter {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAlertGroups returns the current aggregation groups.
func (h *APIHandler) GetAlertGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ingester.Groups())
}

// GetSilences returns all known silences.
func (h *APIHandler) GetSilences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.silencer.List())
}

// CreateSilence creates a new silence
func (h *APIHandler) CreateSilence(w http.ResponseWriter, r *http.Request) {
	var s silence.Silence
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
		return
	}

	created, err := h.silencer.Create(&s)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Failed to create silence: %v", err)})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetSilence returns a silence by ID
func (h *APIHandler) GetSilence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, ok := h.silencer.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Silence with ID %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteSilence expires a silence immediately
func (h *APIHandler) DeleteSilence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.silencer.Expire(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Silence expired successfully"})
}

// GetReceivers returns the configured receiver names.
func (h *APIHandler) GetReceivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.receivers())
}

// GetStatus returns a summary of the router's runtime state.
func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	firing, resolved := h.store.Count()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":         time.Since(h.startedAt).String(),
		"alertsFiring":   firing,
		"alertsResolved": resolved,
		"groups":         len(h.ingester.Groups()),
		"activeSilences": h.silencer.ActiveCount(),
		"receivers":      h.receivers(),
	})
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(r *mux.Router) {
	// Alert endpoints
	r.HandleFunc("/api/v1/alerts", h.PostAlerts).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/alerts", h.GetAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts/groups", h.GetAlertGroups).Methods(http.MethodGet)

	// Silence endpoints
	r.HandleFunc("/api/v1/silences", h.GetSilences).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/silences", h.CreateSilence).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/silences/{id}", h.GetSilence).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/silences/{id}", h.DeleteSilence).Methods(http.MethodDelete)

	// Introspection endpoints
	r.HandleFunc("/api/v1/receivers", h.GetReceivers).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/status", h.GetStatus).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}
