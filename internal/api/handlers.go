// Package api exposes the control surface named in spec.md §6:
// /health, /twiml, /ws, /trace/latest, /call/{number}. It is
// deliberately thin — every handler's job is to validate the request
// and hand off to engine.Run or the trace/call helpers; no business
// logic lives here.
//
// Grounded on the teacher's cmd/server/server.go router assembly and
// internal/api/voice_handler.go's upgrade-then-handoff shape, with the
// CRUD/auth route groups it also carried removed (spec.md §1 Non-goals).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yourusername/voice-call-engine/internal/engine"
	"github.com/yourusername/voice-call-engine/internal/logger"
	"github.com/yourusername/voice-call-engine/internal/telephony"
)

// healthChecker is the subset of *security.Redactor the /health
// handler needs, narrowed so this package doesn't import security
// directly.
type healthChecker interface {
	Health(ctx context.Context) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handlers wires the engine's per-call Deps factory and ambient config
// needed by the control surface.
type Handlers struct {
	newCallDeps    func() engine.Deps
	outboundCaller *telephony.OutboundCaller
	redactor       healthChecker
	publicURL      string
	traceDir       string
}

// New builds the control-surface handlers. newCallDeps is called once
// per accepted WebSocket connection, so every call gets its own
// recognizer/TTS-pool/tracer wiring.
func New(newCallDeps func() engine.Deps, outboundCaller *telephony.OutboundCaller, redactor healthChecker, publicURL, traceDir string) *Handlers {
	return &Handlers{
		newCallDeps:    newCallDeps,
		outboundCaller: outboundCaller,
		redactor:       redactor,
		publicURL:      publicURL,
		traceDir:       traceDir,
	}
}

// Health reports liveness, plus the transcript redactor's reachability
// when PII redaction is enabled (SPEC_FULL.md §4.13) — a down Presidio
// backend never fails a call, but it should be visible to an operator.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.redactor != nil {
		if err := h.redactor.Health(r.Context()); err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("redactor health check failed")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK (redaction backend unreachable)"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// TwiML returns the connection markup the telephony provider fetches
// once a call answers, pointing it at the streaming WebSocket.
func (h *Handlers) TwiML(w http.ResponseWriter, r *http.Request) {
	wsURL := strings.Replace(strings.TrimRight(h.publicURL, "/"), "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws"

	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(telephony.TwiML(wsURL)))
}

// WS upgrades the connection and runs one call's event loop to
// completion. The handler blocks for the duration of the call.
func (h *Handlers) WS(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	engine.Run(conn, h.newCallDeps())
}

// Call triggers an outbound call to the number in the URL path.
func (h *Handlers) Call(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	number := chi.URLParam(r, "number")
	if number == "" {
		http.Error(w, "missing phone number", http.StatusBadRequest)
		return
	}

	sid, err := h.outboundCaller.Call(number)
	if err != nil {
		log.Error().Err(err).Str("to", number).Msg("failed to trigger outbound call")
		http.Error(w, "failed to place call", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"call_sid": sid})
}

// TraceLatest returns the most recently written tracer artifact.
func (h *Handlers) TraceLatest(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.traceDir)
	if err != nil || len(entries) == 0 {
		http.Error(w, "no traces available", http.StatusNotFound)
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		iInfo, _ := entries[i].Info()
		jInfo, _ := entries[j].Info()
		if iInfo == nil || jInfo == nil {
			return false
		}
		return iInfo.ModTime().After(jInfo.ModTime())
	})

	latest := filepath.Join(h.traceDir, entries[0].Name())
	data, err := os.ReadFile(latest)
	if err != nil {
		http.Error(w, "failed to read trace", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
