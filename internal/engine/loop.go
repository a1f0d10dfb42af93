package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourusername/voice-call-engine/internal/llm"
	"github.com/yourusername/voice-call-engine/internal/logger"
	"github.com/yourusername/voice-call-engine/internal/models"
	"github.com/yourusername/voice-call-engine/internal/recognizer"
	"github.com/yourusername/voice-call-engine/internal/telephony"
	"github.com/yourusername/voice-call-engine/internal/tracer"
	"github.com/yourusername/voice-call-engine/internal/tts"
)

// Deps are the process-wide collaborators a call loop is wired to.
type Deps struct {
	LLM              *llm.Client
	Tracer           *tracer.Tracer
	Profile          models.AgentProfile
	RecognizerAPIKey string
	RecognizerModel  string
	RecognizerURL    string
	TTSEndpoint      string
	TTSAPIKey        string
	PoolSize         int
	PoolTTL          time.Duration
}

// eventQueueSize bounds the single-consumer MPSC queue every
// component (media reader, recognizer, agent) publishes into. It is
// sized generously: backpressure here would mean an audio frame
// waits behind a backlog of turn events, which never happens in
// practice at one call per loop (spec.md §5).
const eventQueueSize = 256

// Run drives one call end-to-end: creates the event queue, wires the
// recognizer session and TTS pool, starts the media reader, and
// dispatches the pure Transition's actions until StreamStop. Grounded
// on original_source/shuo/loop.py's run_call.
func Run(conn *websocket.Conn, deps Deps) {
	// Assigned before StreamStart arrives so every log line for this
	// connection, including a failed handshake, can be correlated
	// to one call even before the telephony provider's stream_id exists.
	callID := uuid.NewString()
	log := logger.WithCallID(callID).With().Str("component", "loop").Logger()

	events := make(chan Event, eventQueueSize)
	stop := make(chan struct{})

	var state CallState
	var agent *Agent
	var recog *recognizer.Session
	var pool *tts.Pool

	sender := telephony.NewSender(conn)

	teardown := func() {
		close(stop)
		if agent != nil {
			agent.Cleanup()
		}
		if pool != nil {
			pool.Stop()
		}
		if recog != nil {
			recog.Close()
		}
		_ = conn.Close()
		if state.StreamID != "" {
			deps.Tracer.Save(context.Background(), state.StreamID)
		}
		log.Debug().Msg("call torn down")
	}

	go readMedia(conn, events, stop)

	for event := range events {
		if start, ok := event.(StreamStartEvent); ok {
			recog = recognizer.NewSession(deps.RecognizerAPIKey, deps.RecognizerModel, recognizer.Callbacks{
				OnStartOfTurn: func() {
					select {
					case events <- RecognizerStartOfTurnEvent{}:
					case <-stop:
					}
				},
				OnEndOfTurn: func(transcript string) {
					select {
					case events <- RecognizerEndOfTurnEvent{Transcript: transcript}:
					case <-stop:
					}
				},
			})
			if err := recog.Start(context.Background(), deps.RecognizerURL); err != nil {
				// Recognizer open failure at call start tears the call
				// down (spec.md §7) instead of running with no way to
				// ever produce a transcript: synthesize the stop the
				// same way a media read error does (media_reader.go),
				// so teardown runs through the loop's normal exit path.
				log.Error().Err(err).Msg("failed to start recognizer session, tearing down call")
				select {
				case events <- StreamStopEvent{}:
				case <-stop:
				}
			} else {
				pool = tts.NewPool(deps.TTSEndpoint, deps.TTSAPIKey, deps.Profile.VoiceID, deps.PoolSize, deps.PoolTTL)
				pool.Start()

				agent = NewAgent(AgentDeps{
					LLM:     deps.LLM,
					TTSPool: pool,
					Sender:  sender,
					Tracer:  deps.Tracer,
					Profile: deps.Profile,
				}, start.StreamID, func() {
					select {
					case events <- AgentTurnDoneEvent{}:
					case <-stop:
					}
				})

				log.Info().Str("stream_id", start.StreamID).Msg("call started")
			}
		}

		oldPhase := state.Phase
		newState, actions := Transition(state, event)
		state = newState
		if oldPhase != state.Phase {
			log.Debug().Str("from", oldPhase.String()).Str("to", state.Phase.String()).Msg("phase transition")
		}

		for _, action := range actions {
			switch a := action.(type) {
			case FeedRecognizerAction:
				if recog != nil {
					recog.Send(a.Audio)
				}
			case StartAgentTurnAction:
				if agent != nil {
					agent.StartTurn(a.Transcript)
				}
			case ResetAgentTurnAction:
				if agent != nil {
					agent.ResetTurn()
				}
			default:
				logUnreachableAction(action)
			}
		}

		if _, isStop := event.(StreamStopEvent); isStop {
			break
		}
	}

	teardown()
}
