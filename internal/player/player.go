// Package player paces synthesized audio back to the telephony socket
// at real-time rate, independent of whatever else is happening on the
// call (spec.md §4.7). It owns the one outbound writer for a call's
// telephony WebSocket.
//
// Grounded on original_source/src/player.py's independent playback
// task and stop_and_clear discipline, restructured around spec.md's
// push/mark_input_complete queue (audio arrives incrementally from a
// streaming TTS session, not as a pre-built chunk list) and written in
// the teacher's goroutine-plus-channel idiom (internal/voice/pipeline
// used the same drain-loop-over-a-channel shape for outbound audio).
package player

import (
	"sync"
	"time"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

const frameDuration = 20 * time.Millisecond

// Sender is the one outbound write surface the player uses; engine.Run
// wires it to the live telephony WebSocket connection for a call.
type Sender interface {
	SendMedia(streamID, payloadBase64 string) error
	SendClear(streamID string) error
}

// Player streams base64 mulaw chunks to the telephony socket, one
// frame every 20ms, regardless of when chunks are pushed.
type Player struct {
	sender   Sender
	streamID string
	onDone   func()

	mu       sync.Mutex
	queue    []string
	complete bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a player for one turn. onDone is invoked exactly once,
// only if the drain loop runs to natural completion (not on interrupt).
func New(sender Sender, streamID string, onDone func()) *Player {
	p := &Player{
		sender:   sender,
		streamID: streamID,
		onDone:   onDone,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go p.drainLoop()
	return p
}

// Push appends a chunk to the in-order playback queue. Safe to call
// from any goroutine, at any time before MarkInputComplete.
func (p *Player) Push(payloadBase64 string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.complete {
		return
	}
	p.queue = append(p.queue, payloadBase64)
}

// MarkInputComplete signals that no further chunks are coming; the
// drain loop exits (and fires onDone) once the queue empties.
func (p *Player) MarkInputComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.complete = true
}

// StopAndClear cancels the drain loop, discards queued audio, and
// sends the telephony clear control frame so buffered remote audio is
// discarded too — this is what makes barge-in audibly instant
// (spec.md §4.7).
func (p *Player) StopAndClear() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh

	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()

	if err := p.sender.SendClear(p.streamID); err != nil {
		logger.WithComponent("player").Warn().Err(err).Msg("failed to send clear frame")
	}
}

// WaitUntilDone blocks until the drain loop exits, by either path.
func (p *Player) WaitUntilDone() {
	<-p.doneCh
}

func (p *Player) drainLoop() {
	log := logger.WithComponent("player")
	defer close(p.doneCh)

	ranToCompletion := true

	for {
		select {
		case <-p.stopCh:
			ranToCompletion = false
			return
		default:
		}

		chunk, ok := p.pop()
		if ok {
			if err := p.sender.SendMedia(p.streamID, chunk); err != nil {
				log.Warn().Err(err).Msg("failed to send audio frame")
				ranToCompletion = false
				return
			}
			select {
			case <-time.After(frameDuration):
			case <-p.stopCh:
				ranToCompletion = false
				return
			}
			continue
		}

		if p.inputComplete() {
			break
		}

		select {
		case <-time.After(10 * time.Millisecond):
		case <-p.stopCh:
			ranToCompletion = false
			return
		}
	}

	if ranToCompletion && p.onDone != nil {
		p.onDone()
	}
}

func (p *Player) pop() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return "", false
	}
	chunk := p.queue[0]
	p.queue = p.queue[1:]
	return chunk, true
}

func (p *Player) inputComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete && len(p.queue) == 0
}
