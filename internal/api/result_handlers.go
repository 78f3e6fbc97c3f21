package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"hybridscan/internal/database"
	"hybridscan/internal/models"
)

// ResultHandler handles stored scan result API endpoints
type ResultHandler struct {
	db *database.DB
}

// NewResultHandler creates a new result handler
func NewResultHandler(db *database.DB) *ResultHandler {
	return &ResultHandler{
		db: db,
	}
}

// RegisterRoutes registers the result routes. The grouped route must be
// registered before the {id} route so mux does not swallow it.
func (h *ResultHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/scans", h.getScans).Methods("GET")
	r.HandleFunc("/api/scans/grouped", h.getGroupedScans).Methods("GET")
	r.HandleFunc("/api/scans/{id}", h.getScan).Methods("GET")
	r.HandleFunc("/api/scans/{id}", h.deleteScan).Methods("DELETE")
	r.HandleFunc("/scan/saveScan", h.saveScan).Methods("POST")
}

// getScans returns stored scan results, newest first
func (h *ResultHandler) getScans(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getScans").Logger()

	// Parse query parameters
	limit := 0 // no limit by default; the results browser loads everything
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsedLimit, err := strconv.Atoi(limitParam)
		if err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	var results []*models.ScanResult
	var err error
	if target := r.URL.Query().Get("target"); target != "" {
		results, err = h.db.GetScanResultsByTarget(target)
	} else {
		results, err = h.db.GetAllScanResults(limit)
	}

	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve scan results")
		http.Error(w, "Failed to retrieve scan results", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(results); err != nil {
		logger.Error().Err(err).Msg("Failed to encode scan results")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// getGroupedScans returns stored scan results grouped by target
func (h *ResultHandler) getGroupedScans(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getGroupedScans").Logger()

	groups, err := h.db.GetGroupedResults()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve grouped scan results")
		http.Error(w, "Failed to retrieve scan results", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(groups); err != nil {
		logger.Error().Err(err).Msg("Failed to encode grouped scan results")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// getScan returns a single stored scan result by ID
func (h *ResultHandler) getScan(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "getScan").Logger()

	vars := mux.Vars(r)
	id := vars["id"]

	result, err := h.db.GetScanResult(id)
	if err != nil {
		logger.Error().Err(err).Str("id", id).Msg("Failed to retrieve scan result")
		http.Error(w, "Scan result not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error().Err(err).Msg("Failed to encode scan result")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// deleteScan removes a stored scan result
func (h *ResultHandler) deleteScan(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "deleteScan").Logger()

	vars := mux.Vars(r)
	id := vars["id"]

	if err := h.db.DeleteScanResult(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Scan result not found", http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Str("id", id).Msg("Failed to delete scan result")
		http.Error(w, "Failed to delete scan result", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// saveScan stores a scan result supplied by the client. The OSINT page
// historically computed its result map in the browser and posted it
// here; the endpoint is kept for that flow.
func (h *ResultHandler) saveScan(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("handler", "saveScan").Logger()

	var result models.ScanResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		logger.Error().Err(err).Msg("Failed to parse scan result")
		http.Error(w, "Invalid scan result", http.StatusBadRequest)
		return
	}

	if result.Target == "" {
		http.Error(w, "Target is required", http.StatusBadRequest)
		return
	}

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	if result.Status == "" {
		result.Status = models.StatusCompleted
	}
	if result.Ports == nil {
		result.Ports = []models.PortRecord{}
	}

	if err := h.db.SaveScanResult(&result); err != nil {
		logger.Error().Err(err).Msg("Failed to save scan result")
		http.Error(w, "Failed to save scan result", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("id", result.ID).Str("target", result.Target).Msg("Scan result saved")

	response := map[string]interface{}{
		"message":   "Scan result saved",
		"id":        result.ID,
		"timestamp": result.Timestamp,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}
