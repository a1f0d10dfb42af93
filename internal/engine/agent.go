package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/voice-call-engine/internal/llm"
	"github.com/yourusername/voice-call-engine/internal/logger"
	"github.com/yourusername/voice-call-engine/internal/models"
	"github.com/yourusername/voice-call-engine/internal/player"
	"github.com/yourusername/voice-call-engine/internal/tracer"
	"github.com/yourusername/voice-call-engine/internal/tts"
)

// llmStreamer is the subset of *llm.Client an Agent needs; narrowed to
// an interface so tests can drive the history policy in generate
// without a real model API key.
type llmStreamer interface {
	Stream(ctx context.Context, systemPrompt string, history []llm.Message, userMessage, model string, temperature float64, maxTokens int) (<-chan string, <-chan error, error)
}

// ttsAcquirer is the subset of *tts.Pool an Agent needs.
type ttsAcquirer interface {
	Acquire(ctx context.Context, onAudio func(string), onDone func()) (*tts.Session, error)
}

// AgentDeps are the collaborators an Agent is wired to once, at call
// setup (spec.md §4.6's dependency order: LLM service, TTS pool,
// Player's sender, tracer).
type AgentDeps struct {
	LLM     llmStreamer
	TTSPool ttsAcquirer
	Sender  player.Sender
	Tracer  *tracer.Tracer
	Profile models.AgentProfile
}

// Agent is the self-contained LLM -> TTS -> Player pipeline for one
// call (spec.md §4.6). The LLM and its conversation history are
// persistent across turns; the TTS binding and the player are
// per-turn and are torn down in ResetTurn.
//
// Grounded on original_source/shuo/agent.py's start_turn/cancel_turn
// lifecycle and its _on_llm_token/_on_llm_done/_on_tts_audio/
// _on_tts_done/_on_playback_done callback chain, rebuilt around the
// channel-based llm.Client.Stream instead of a cancellable asyncio
// task, and the pool's Rebind-on-Acquire instead of a bind() call.
type Agent struct {
	deps     AgentDeps
	streamID string
	onDone   func()

	mu      sync.Mutex
	history []llm.Message
	active  bool
	turn    int

	cancelFunc context.CancelFunc
	genDone    chan struct{}

	ttsSession *tts.Session
	player     *player.Player

	t0            time.Time
	gotFirstToken bool
	gotFirstAudio bool
}

// NewAgent builds an agent for one call. onDone is invoked once per
// turn, on the turn's natural completion or when the turn fails to
// acquire a TTS session (AgentTurnDone into the event loop) — never on
// a cancelled (barge-in or teardown) turn.
func NewAgent(deps AgentDeps, streamID string, onDone func()) *Agent {
	return &Agent{deps: deps, streamID: streamID, onDone: onDone}
}

// History returns a snapshot of the conversation so far.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// StartTurn begins a new agent response to transcript. If a turn is
// already active it is cancelled first (defensive; the state machine
// never dispatches StartAgentTurn while Responding).
func (a *Agent) StartTurn(transcript string) {
	a.mu.Lock()
	alreadyActive := a.active
	a.mu.Unlock()
	if alreadyActive {
		a.ResetTurn()
	}

	log := logger.WithComponent("agent")

	a.mu.Lock()
	a.active = true
	a.t0 = time.Now()
	a.gotFirstToken = false
	a.gotFirstAudio = false
	priorHistory := make([]llm.Message, len(a.history))
	copy(priorHistory, a.history)
	a.mu.Unlock()

	turn := a.deps.Tracer.BeginTurn(context.Background(), transcript)
	a.mu.Lock()
	a.turn = turn
	a.mu.Unlock()

	a.deps.Tracer.Begin(turn, "tts_pool")
	ttsSession, err := a.deps.TTSPool.Acquire(context.Background(), a.onTTSAudio, a.onTTSDone)
	a.deps.Tracer.End(turn, "tts_pool")
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire tts session")
		a.mu.Lock()
		a.active = false
		a.mu.Unlock()
		a.deps.Tracer.EndTurn(turn)
		a.onDone()
		return
	}

	p := player.New(a.deps.Sender, a.streamID, a.onPlaybackDone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.ttsSession = ttsSession
	a.player = p
	a.history = append(a.history, llm.Message{Role: "user", Content: transcript})
	a.cancelFunc = cancel
	a.genDone = done
	a.mu.Unlock()

	a.deps.Tracer.Begin(turn, "llm")
	go a.generate(ctx, done, priorHistory, transcript)

	log.Debug().Str("transcript", transcript).Msg("turn started")
}

// ResetTurn cancels the active turn in order LLM -> TTS -> Player and
// keeps conversation history (barge-in, or call teardown). It blocks
// until the telephony buffer-clear frame has been sent, so the caller
// (the event loop) can safely proceed to the next event knowing no
// stale audio from the cancelled turn will follow it (spec.md §5).
func (a *Agent) ResetTurn() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	a.active = false
	turn := a.turn
	cancel := a.cancelFunc
	genDone := a.genDone
	ttsSession := a.ttsSession
	p := a.player
	a.ttsSession = nil
	a.player = nil
	a.mu.Unlock()

	a.deps.Tracer.CancelTurn(turn)

	if cancel != nil {
		cancel()
	}
	if genDone != nil {
		<-genDone
	}

	if ttsSession != nil {
		ttsSession.Cancel()
	}

	if p != nil {
		p.StopAndClear()
	}

	logger.WithComponent("agent").Debug().Msg("turn reset")
}

// Cleanup tears down any active turn at call end.
func (a *Agent) Cleanup() {
	a.ResetTurn()
}

func (a *Agent) generate(ctx context.Context, done chan struct{}, priorHistory []llm.Message, transcript string) {
	defer close(done)
	log := logger.WithComponent("agent")

	deltas, streamErr, err := a.deps.LLM.Stream(
		ctx,
		a.deps.Profile.SystemPrompt,
		priorHistory,
		transcript,
		a.deps.Profile.LLMModel,
		a.deps.Profile.Temperature,
		a.deps.Profile.MaxTokens,
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to start llm stream")
		a.onLLMDone()
		return
	}

	var response strings.Builder
	for token := range deltas {
		response.WriteString(token)
		a.onLLMToken(token)
	}

	if ctx.Err() != nil {
		// Cancelled mid-stream: keep whatever was heard, marked partial.
		if response.Len() > 0 {
			a.mu.Lock()
			a.history = append(a.history, llm.Message{Role: "assistant", Content: response.String() + "…"})
			a.mu.Unlock()
		}
		return
	}

	// deltas is closed; streamErr carries the terminal error, if any,
	// without blocking (it is buffered and closed alongside deltas).
	if err := <-streamErr; err != nil {
		// Died mid-generation, not cancelled: the source's policy is to
		// append nothing at all (unlike the cancelled case, which keeps
		// the partial text). The turn still completes normally so the
		// state machine returns to Listening instead of stalling.
		log.Warn().Err(err).Msg("llm stream failed mid-generation")
		a.onLLMDone()
		return
	}

	if response.Len() > 0 {
		a.mu.Lock()
		a.history = append(a.history, llm.Message{Role: "assistant", Content: response.String()})
		a.mu.Unlock()
	}
	a.onLLMDone()
}

func (a *Agent) onLLMToken(token string) {
	a.mu.Lock()
	if !a.active || a.ttsSession == nil {
		a.mu.Unlock()
		return
	}
	first := !a.gotFirstToken
	if first {
		a.gotFirstToken = true
	}
	session := a.ttsSession
	turn := a.turn
	a.mu.Unlock()

	if first {
		a.deps.Tracer.Mark(turn, "llm_first_token")
		a.deps.Tracer.Begin(turn, "tts")
	}
	session.Send(token)
}

func (a *Agent) onLLMDone() {
	a.mu.Lock()
	if !a.active || a.ttsSession == nil {
		a.mu.Unlock()
		return
	}
	session := a.ttsSession
	p := a.player
	sentText := a.gotFirstToken
	turn := a.turn
	a.mu.Unlock()

	a.deps.Tracer.End(turn, "llm")
	if !sentText {
		// Nothing was sent for synthesis, so no TTS done will arrive:
		// let the (empty) player drain and complete the turn directly.
		p.MarkInputComplete()
		return
	}
	session.Flush()
}

func (a *Agent) onTTSAudio(audioBase64 string) {
	a.mu.Lock()
	if !a.active || a.player == nil {
		a.mu.Unlock()
		return
	}
	first := !a.gotFirstAudio
	if first {
		a.gotFirstAudio = true
	}
	p := a.player
	turn := a.turn
	a.mu.Unlock()

	if first {
		a.deps.Tracer.Mark(turn, "tts_first_audio")
		a.deps.Tracer.Begin(turn, "player")
	}
	p.Push(audioBase64)
}

func (a *Agent) onTTSDone() {
	a.mu.Lock()
	if !a.active || a.player == nil {
		a.mu.Unlock()
		return
	}
	p := a.player
	turn := a.turn
	a.mu.Unlock()

	a.deps.Tracer.End(turn, "tts")
	p.MarkInputComplete()
}

func (a *Agent) onPlaybackDone() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	turn := a.turn
	a.active = false
	a.ttsSession = nil
	a.player = nil
	a.mu.Unlock()

	a.deps.Tracer.End(turn, "player")
	a.deps.Tracer.EndTurn(turn)

	logger.WithComponent("agent").Debug().Msg("turn complete")
	a.onDone()
}
