// Package api provides HTTP handlers for the hybridscan REST API.
// It includes the live scan event-stream endpoints, result browsing
// endpoints, and system status endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"hybridscan/internal/config"
	"hybridscan/internal/models"
	"hybridscan/internal/scanner"
)

// StreamHandler handles the live scan event-stream endpoints
type StreamHandler struct {
	scanService *scanner.ScanService
	cfg         *config.Config
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(scanService *scanner.ScanService, cfg *config.Config) *StreamHandler {
	return &StreamHandler{
		scanService: scanService,
		cfg:         cfg,
	}
}

// RegisterRoutes registers the scan streaming routes. The paths match
// the dashboard frontend: one route per tool.
func (h *StreamHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/scan/stream", h.streamPortScan).Methods("GET")
	r.HandleFunc("/osint/username", h.streamOSINT).Methods("GET")
	r.HandleFunc("/subdomain/amass", h.streamSubdomain).Methods("GET")
}

// streamPortScan starts an nmap scan and streams its events
func (h *StreamHandler) streamPortScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.ScanRequest{
		Target: q.Get("target"),
		Tool:   models.ToolPortScan,
		Options: models.ScanOptions{
			Ports:            q.Get("ports"),
			OSDetection:      q.Get("os") == "true",
			ServiceDetection: q.Get("service") == "true",
			ScriptScan:       q.Get("scripts") == "true",
		},
	}
	h.stream(w, r, req)
}

// streamOSINT starts a username search and streams its events
func (h *StreamHandler) streamOSINT(w http.ResponseWriter, r *http.Request) {
	req := models.ScanRequest{
		Target: r.URL.Query().Get("username"),
		Tool:   models.ToolOSINT,
	}
	h.stream(w, r, req)
}

// streamSubdomain starts a subdomain enumeration and streams its events
func (h *StreamHandler) streamSubdomain(w http.ResponseWriter, r *http.Request) {
	req := models.ScanRequest{
		Target: r.URL.Query().Get("domain"),
		Tool:   models.ToolSubdomain,
	}
	h.stream(w, r, req)
}

// stream runs the shared request-to-session plumbing: validate, open
// the event stream, attach the publisher, launch the session, and hold
// the connection until the terminal event or a client disconnect.
func (h *StreamHandler) stream(w http.ResponseWriter, r *http.Request, req models.ScanRequest) {
	logger := log.With().
		Str("handler", "stream").
		Str("tool", string(req.Tool)).
		Str("target", req.Target).
		Logger()

	if req.Target == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(models.ErrorPayload{Error: "Target is required"})
		return
	}

	sess, err := h.scanService.NewSession(req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create scan session")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(models.ErrorPayload{Error: err.Error()})
		return
	}

	pub, err := newEventStreamPublisher(w)
	if err != nil {
		logger.Error().Err(err).Msg("Streaming unsupported by connection")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("sessionID", sess.ID).Msg("Scan stream opened")

	// Subscribe before launch so the first output lines are not lost.
	sess.Attach(pub)
	h.scanService.Launch(sess)

	select {
	case <-sess.Done():
		logger.Info().Str("sessionID", sess.ID).Str("state", sess.State().String()).Msg("Scan stream finished")
	case <-r.Context().Done():
		// Client went away mid-scan. Whether that cancels the tool is a
		// deployment policy; by default the scan runs to completion and
		// its result is still persisted.
		if h.cfg.Scanner.KillOnDisconnect {
			logger.Info().Str("sessionID", sess.ID).Msg("Client disconnected, cancelling scan")
			sess.Cancel()
		} else {
			logger.Info().Str("sessionID", sess.ID).Msg("Client disconnected, scan continues in background")
			sess.Detach()
		}
		pub.Close()
	}
}

// eventStreamPublisher relays session events onto a server-sent event
// connection. Each event is written as a named message and flushed
// immediately. Once the connection errors or is closed, every further
// send is a silent no-op; the session keeps running regardless.
type eventStreamPublisher struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// newEventStreamPublisher prepares the response for server-sent events.
// It fails if the connection cannot be flushed incrementally.
func newEventStreamPublisher(w http.ResponseWriter) (*eventStreamPublisher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStreamPublisher{w: w, flusher: flusher}, nil
}

// send writes one named event with a preformatted data payload.
func (p *eventStreamPublisher) send(event string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if _, err := fmt.Fprintf(p.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		p.closed = true
		return
	}
	p.flusher.Flush()
}

// sendJSON marshals the payload and sends it under the event name.
func (p *eventStreamPublisher) sendJSON(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal stream payload")
		return
	}
	p.send(event, data)
}

// Close marks the publisher closed; subsequent sends are dropped.
func (p *eventStreamPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Progress implements scanner.Subscriber
func (p *eventStreamPublisher) Progress(payload models.ProgressPayload) {
	p.sendJSON("progress", payload)
}

// Log implements scanner.Subscriber
func (p *eventStreamPublisher) Log(payload models.LogPayload) {
	p.sendJSON("log", payload)
}

// Result implements scanner.Subscriber
func (p *eventStreamPublisher) Result(result *models.ScanResult) {
	p.sendJSON("result", result)
}

// End implements scanner.Subscriber
func (p *eventStreamPublisher) End() {
	p.send("end", []byte("Stream complete"))
}

// Error implements scanner.Subscriber
func (p *eventStreamPublisher) Error(payload models.ErrorPayload) {
	p.sendJSON("error", payload)
}
