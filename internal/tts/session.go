// Package tts implements the streaming synthesizer session and its
// connection pool (spec.md §4.6, §6). A Session is either warm (open,
// idle, no-op callbacks) or bound (dispensed, callbacks wired to a
// specific turn) — never both; the pool only ever holds warm sessions,
// and an active turn only ever holds a bound one (spec.md §3).
//
// Grounded on the teacher's internal/voice/cartesia/client.go
// sentence-buffering send loop, reshaped around the rebind capability
// spec.md §9 calls for: original_source/shuo/services/tts.py exposes
// `bind(on_audio, on_done)` so a pre-opened session can be adopted by a
// specific turn without reconnecting.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

const (
	outputFormat = "mulaw_8000"
	flushEvery   = 250 * time.Millisecond
	sentenceCap  = 120
)

// Session is one streaming TTS WebSocket connection.
type Session struct {
	conn *websocket.Conn

	mu      sync.Mutex
	onAudio func(audioBase64 string)
	onDone  func()

	textIn chan string
	cancel context.CancelFunc
	closed chan struct{}
}

// Open dials the synthesizer with the given callbacks already bound.
// Used both for a fresh, immediately-claimed session (pool miss) and
// for the pool's own pre-warming (with no-op callbacks).
func Open(ctx context.Context, endpoint, apiKey, voiceID string, onAudio func(string), onDone func()) (*Session, error) {
	log := logger.WithComponent("tts")

	if apiKey == "" {
		return nil, fmt.Errorf("TTS API key not configured")
	}

	url := fmt.Sprintf("%s?api_key=%s&output_format=%s", endpoint, apiKey, outputFormat)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to tts")
		return nil, fmt.Errorf("tts dial failed: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s := &Session{
		conn:    conn,
		onAudio: onAudio,
		onDone:  onDone,
		textIn:  make(chan string, 64),
		cancel:  cancel,
		closed:  make(chan struct{}),
	}

	go s.sendLoop(sessionCtx, voiceID)
	go s.receiveLoop()

	log.Debug().Str("voice_id", voiceID).Msg("tts session opened")
	return s, nil
}

// Rebind atomically swaps the audio/done callbacks. This is how a
// warm, no-op-bound session gets adopted by a specific turn without
// reconnecting (spec.md §4.6, §9).
func (s *Session) Rebind(onAudio func(string), onDone func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudio = onAudio
	s.onDone = onDone
}

// Send appends text for synthesis.
func (s *Session) Send(text string) {
	select {
	case s.textIn <- text:
	default:
		logger.WithComponent("tts").Warn().Msg("send buffer full, dropping text chunk")
	}
}

// Flush forces synthesis of any buffered text short of a natural break.
func (s *Session) Flush() {
	select {
	case s.textIn <- "":
	default:
	}
}

// Cancel aborts the connection immediately.
func (s *Session) Cancel() {
	s.cancel()
	_ = s.conn.Close()
}

func (s *Session) audio(chunkBase64 string) {
	s.mu.Lock()
	cb := s.onAudio
	s.mu.Unlock()
	if cb != nil {
		cb(chunkBase64)
	}
}

func (s *Session) done() {
	s.mu.Lock()
	cb := s.onDone
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// sendLoop buffers tokens until a sentence boundary, a size cap, or a
// periodic flush ticker fires — mirroring the teacher's Cartesia client,
// generalized to the uniform TTS contract's explicit Flush() call.
func (s *Session) sendLoop(ctx context.Context, voiceID string) {
	log := logger.WithComponent("tts")
	var buf strings.Builder
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		if err := s.sendText(text, voiceID); err != nil {
			log.Warn().Err(err).Msg("failed to send text to tts")
		}
		buf.Reset()
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case text, ok := <-s.textIn:
			if !ok {
				flush()
				return
			}
			if text == "" {
				flush()
				continue
			}
			buf.WriteString(text)
			current := strings.TrimSpace(buf.String())
			if strings.HasSuffix(current, ".") || strings.HasSuffix(current, "!") || strings.HasSuffix(current, "?") {
				flush()
			} else if len(current) > sentenceCap {
				flush()
			}

		case <-ticker.C:
			if buf.Len() > 0 {
				flush()
			}
		}
	}
}

func (s *Session) sendText(text, voiceID string) error {
	payload := map[string]interface{}{
		"transcript": text,
		"voice_id":   voiceID,
	}
	return s.conn.WriteJSON(payload)
}

type ttsMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (s *Session) receiveLoop() {
	log := logger.WithComponent("tts")
	defer close(s.closed)
	defer s.conn.Close()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ttsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Error != "" {
			log.Warn().Str("error", msg.Error).Msg("tts error")
			continue
		}

		if msg.Type == "chunk" && msg.Data != "" {
			if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
				log.Warn().Err(err).Msg("failed to decode audio")
				continue
			}
			s.audio(msg.Data)
		}

		if msg.Done {
			s.done()
			return
		}
	}
}
