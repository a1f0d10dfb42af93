// Package telephony builds the outbound WebSocket frames the player
// writes (spec.md §6) and triggers outbound calls over the provider's
// REST API (spec.md §4.11). There is no Twilio (or other telephony
// provider) REST SDK anywhere in the example pack, so the outbound
// call trigger is the one place this module reaches for net/http
// directly rather than an ecosystem client — see DESIGN.md.
package telephony

import (
	"sync"

	"github.com/gorilla/websocket"
)

// mediaFrame and clearFrame mirror spec.md §6's outbound JSON shapes
// exactly; field order does not matter to the receiving provider, only
// the key names do.
type mediaFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type clearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// Sender writes outbound frames to one call's telephony WebSocket. It
// is the exclusive writer for that connection (spec.md §5) — the
// media reader never writes, so no coordination with it is needed,
// but SendMedia/SendClear still serialize against each other since the
// player and its own StopAndClear callback can both call in.
type Sender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSender wraps a telephony WebSocket connection for outbound writes.
func NewSender(conn *websocket.Conn) *Sender {
	return &Sender{conn: conn}
}

// SendMedia writes one audio frame (player.Sender).
func (s *Sender) SendMedia(streamID, payloadBase64 string) error {
	frame := mediaFrame{Event: "media", StreamSID: streamID}
	frame.Media.Payload = payloadBase64

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}

// SendClear discards any audio buffered remotely, for barge-in
// (player.Sender).
func (s *Sender) SendClear(streamID string) error {
	frame := clearFrame{Event: "clear", StreamSID: streamID}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}
