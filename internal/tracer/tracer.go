// Package tracer records per-turn spans and markers and persists one
// JSON document per call, for post-hoc latency inspection (spec.md
// §4.5 tracer component, referenced throughout §4.6 as the milestone
// sink). It is a passive, fire-and-forget observer: nothing on the
// conversational hot path waits on it.
//
// Grounded on original_source/shuo/tracer.py's begin_turn/begin/end/
// mark/cancel_turn/save API and per-call JSON file, adapted onto
// OpenTelemetry the way lookatitude-beluga-ai/o11y/tracer.go wraps
// trace.Span: each turn is a genuine OTel span, with markers recorded
// as span events. The named begin/end spans within a turn are not OTel
// spans; they are recorded only in the JSON snapshot, which remains the
// artifact a human reads after the call.
package tracer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

// Redactor scrubs PII from transcript text before it is persisted.
// internal/security.Redactor satisfies this.
type Redactor interface {
	RedactPII(ctx context.Context, text string) (string, error)
}

type span struct {
	Name    string   `json:"name"`
	StartMS float64  `json:"start_ms"`
	EndMS   *float64 `json:"end_ms,omitempty"`
}

type marker struct {
	Name  string  `json:"name"`
	TimeMS float64 `json:"time_ms"`
}

type turn struct {
	Number     int      `json:"turn"`
	Transcript string   `json:"transcript"`
	Cancelled  bool     `json:"cancelled"`
	Spans      []*span  `json:"spans"`
	Markers    []marker `json:"markers"`

	t0       time.Time
	otelSpan trace.Span
}

// Tracer accumulates turns for a single call.
type Tracer struct {
	otelTracer trace.Tracer
	redactor   Redactor
	traceDir   string

	mu      sync.Mutex
	turns   map[int]*turn
	counter int
}

// New builds a tracer for one call. redactor may be nil (no
// redaction performed before persisting).
func New(tp *sdktrace.TracerProvider, redactor Redactor, traceDir string) *Tracer {
	return &Tracer{
		otelTracer: tp.Tracer("github.com/yourusername/voice-call-engine/tracer"),
		redactor:   redactor,
		traceDir:   traceDir,
		turns:      make(map[int]*turn),
	}
}

// BeginTurn starts a new turn and returns its number.
func (t *Tracer) BeginTurn(ctx context.Context, transcript string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counter++
	n := t.counter

	_, otelSpan := t.otelTracer.Start(ctx, "turn")

	t.turns[n] = &turn{
		Number:     n,
		Transcript: transcript,
		t0:         time.Now(),
		otelSpan:   otelSpan,
	}
	return n
}

// Begin opens a named span within a turn.
func (t *Tracer) Begin(turnNum int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tn, ok := t.turns[turnNum]
	if !ok {
		return
	}
	elapsed := time.Since(tn.t0).Seconds() * 1000
	tn.Spans = append(tn.Spans, &span{Name: name, StartMS: elapsed})
}

// End closes the most recently opened, still-open span with the given
// name in a turn.
func (t *Tracer) End(turnNum int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tn, ok := t.turns[turnNum]
	if !ok {
		return
	}
	elapsed := time.Since(tn.t0).Seconds() * 1000
	for i := len(tn.Spans) - 1; i >= 0; i-- {
		s := tn.Spans[i]
		if s.Name == name && s.EndMS == nil {
			ms := elapsed
			s.EndMS = &ms
			return
		}
	}
}

// Mark records a point-in-time event within a turn.
func (t *Tracer) Mark(turnNum int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tn, ok := t.turns[turnNum]
	if !ok {
		return
	}
	elapsed := time.Since(tn.t0).Seconds() * 1000
	tn.Markers = append(tn.Markers, marker{Name: name, TimeMS: elapsed})
	tn.otelSpan.AddEvent(name)
}

// CancelTurn marks a turn cancelled and force-closes any still-open
// spans at the current time.
func (t *Tracer) CancelTurn(turnNum int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tn, ok := t.turns[turnNum]
	if !ok {
		return
	}
	tn.Cancelled = true
	elapsed := time.Since(tn.t0).Seconds() * 1000
	for _, s := range tn.Spans {
		if s.EndMS == nil {
			ms := elapsed
			s.EndMS = &ms
		}
	}
	tn.otelSpan.End()
}

// EndTurn closes the turn's root span without marking it cancelled.
func (t *Tracer) EndTurn(turnNum int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tn, ok := t.turns[turnNum]
	if !ok {
		return
	}
	tn.otelSpan.End()
}

// Save redacts every turn's transcript (if a redactor is configured)
// and writes one JSON document to <trace_dir>/<callID>.json. Called
// once, at call teardown; any failure is logged, never propagated,
// since the call has already ended by the time this runs.
func (t *Tracer) Save(ctx context.Context, callID string) {
	log := logger.WithComponent("tracer")

	t.mu.Lock()
	if len(t.turns) == 0 {
		t.mu.Unlock()
		return
	}
	ordered := make([]*turn, 0, len(t.turns))
	for _, tn := range t.turns {
		ordered = append(ordered, tn)
	}
	t.mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	type doc struct {
		CallID string  `json:"call_id"`
		Turns  []*turn `json:"turns"`
	}

	for _, tn := range ordered {
		if t.redactor == nil {
			continue
		}
		redacted, err := t.redactor.RedactPII(ctx, tn.Transcript)
		if err != nil {
			log.Warn().Err(err).Msg("transcript redaction failed, persisting original")
			continue
		}
		tn.Transcript = redacted
	}

	if err := os.MkdirAll(t.traceDir, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create trace directory")
		return
	}

	path := filepath.Join(t.traceDir, fmt.Sprintf("%s.json", callID))
	data, err := json.MarshalIndent(doc{CallID: callID, Turns: ordered}, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal trace")
		return
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write trace file")
		return
	}

	log.Info().Str("path", path).Msg("trace saved")
}
