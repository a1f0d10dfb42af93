package engine

import (
	"encoding/base64"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

// inboundFrame covers every shape the telephony WebSocket sends
// (spec.md §6): connected/start/media/stop. Fields irrelevant to a
// given event type are simply left zero.
type inboundFrame struct {
	Event string `json:"event"`
	Start struct {
		StreamSID string `json:"streamSid"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// parseInboundFrame turns one raw telephony WebSocket message into a
// typed Event, or nil for frames the loop doesn't act on (spec.md §6).
// Grounded on original_source/shuo/loop.py's parse_twilio_message.
func parseInboundFrame(raw []byte) Event {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil
	}

	switch frame.Event {
	case "start":
		if frame.Start.StreamSID == "" {
			return nil
		}
		return StreamStartEvent{StreamID: frame.Start.StreamSID}

	case "media":
		if frame.Media.Payload == "" {
			return nil
		}
		audio, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
		if err != nil {
			return nil
		}
		return MediaEvent{Audio: audio}

	case "stop":
		return StreamStopEvent{}

	default:
		return nil
	}
}

// readMedia is the background task that pumps the telephony WebSocket
// into the event queue until the call ends or the connection fails.
// Any read error is treated the same as an explicit stop frame, so the
// loop always sees exactly one StreamStopEvent per call (spec.md §6,
// §7). Grounded on the teacher's readAudioFromClient and
// original_source/shuo/loop.py's read_twilio.
func readMedia(conn *websocket.Conn, events chan<- Event, stop <-chan struct{}) {
	log := logger.WithComponent("media_reader")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				log.Debug().Err(err).Msg("telephony connection closed")
			}
			select {
			case events <- StreamStopEvent{}:
			case <-stop:
			}
			return
		}

		event := parseInboundFrame(raw)
		if event == nil {
			continue
		}

		select {
		case events <- event:
		case <-stop:
			return
		}

		if _, isStop := event.(StreamStopEvent); isStop {
			return
		}
	}
}
