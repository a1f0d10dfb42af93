// Package recognizer implements the long-lived streaming session that
// supplies both speech-to-text and turn-boundary detection (spec.md
// §4.4, §6). It is opened once per call at StreamStart and closed at
// teardown; the core does not implement local VAD — all turn-boundary
// detection happens upstream.
//
// Grounded on the teacher's internal/voice/assemblyai/client.go dial/
// send-goroutine/receive-goroutine shape, but retargeted at the turn-
// detecting recognizer family the Python original used
// (original_source/shuo/services/flux.py, a Deepgram Flux session):
// audio goes out as binary frames, and turn events come back as
// {type:"TurnInfo", event:"StartOfTurn"|"EndOfTurn", transcript}.
package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

const sampleRate = 8000

// Callbacks the session invokes as turn events arrive. Both are called
// on the session's own receive goroutine; callers must not block.
type Callbacks struct {
	OnStartOfTurn func()
	OnEndOfTurn   func(transcript string)
}

// Session is a long-lived streaming recognizer connection.
type Session struct {
	apiKey string
	model  string
	cb     Callbacks

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewSession creates a session; call Start to open the connection.
func NewSession(apiKey, model string, cb Callbacks) *Session {
	return &Session{apiKey: apiKey, model: model, cb: cb}
}

// Start opens the WebSocket connection and begins the background
// receive loop. Audio format matches the telephony format exactly
// (mulaw, 8kHz) — no local transcoding (spec.md §4.4).
func (s *Session) Start(ctx context.Context, endpoint string) error {
	log := logger.WithComponent("recognizer")

	if s.apiKey == "" {
		return fmt.Errorf("recognizer API key not configured")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid recognizer endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", s.model)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	u.RawQuery = q.Encode()

	header := map[string][]string{"Authorization": {"Token " + s.apiKey}}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to recognizer")
		return fmt.Errorf("recognizer dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	s.mu.Unlock()

	log.Debug().Msg("recognizer session started")
	go s.receiveLoop()
	return nil
}

// Send feeds one raw audio frame. A send failure is logged and the
// frame dropped (spec.md §4.4, §7) — it never tears down the call.
func (s *Session) Send(audio []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		logger.WithComponent("recognizer").Warn().Err(err).Msg("failed to send audio frame")
	}
}

// Close terminates the session. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	done := s.done
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
	_ = conn.Close()
	if done != nil {
		<-done
	}
}

type turnInfoMessage struct {
	Type       string `json:"type"`
	Event      string `json:"event"`
	Transcript string `json:"transcript"`
}

// receiveLoop dispatches TurnInfo events to the bound callbacks. A
// receive failure terminates the session silently: the loop keeps
// running, but no further recognizer events arrive until the caller
// hangs up and StreamStop is delivered by the media reader (spec.md
// §4.4, §7).
func (s *Session) receiveLoop() {
	log := logger.WithComponent("recognizer")
	s.mu.Lock()
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				log.Debug().Err(err).Msg("recognizer connection closed")
			}
			return
		}

		var msg turnInfoMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type != "TurnInfo" {
			continue
		}

		switch msg.Event {
		case "EndOfTurn":
			if s.cb.OnEndOfTurn != nil {
				s.cb.OnEndOfTurn(msg.Transcript)
			}
		case "StartOfTurn":
			if s.cb.OnStartOfTurn != nil {
				s.cb.OnStartOfTurn()
			}
		}
	}
}
