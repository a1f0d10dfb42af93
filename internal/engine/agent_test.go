package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourusername/voice-call-engine/internal/llm"
	"github.com/yourusername/voice-call-engine/internal/models"
	"github.com/yourusername/voice-call-engine/internal/tracer"
	"github.com/yourusername/voice-call-engine/internal/tts"
)

// --- fakes ---------------------------------------------------------

// fakeLLM lets a test script exactly what Stream yields and whether it
// waits for cancellation before returning, without any real model key.
type fakeLLM struct {
	tokens       []string
	blockOnCtx   bool  // don't close the channel until ctx is cancelled
	streamErr    error // returned directly from Stream, as an open failure
	midStreamErr error // delivered on the error channel after tokens, as a generation failure
}

func (f *fakeLLM) Stream(ctx context.Context, systemPrompt string, history []llm.Message, userMessage, model string, temperature float64, maxTokens int) (<-chan string, <-chan error, error) {
	if f.streamErr != nil {
		return nil, nil, f.streamErr
	}
	out := make(chan string, len(f.tokens)+1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, tok := range f.tokens {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
		if f.blockOnCtx {
			<-ctx.Done()
			return
		}
		if f.midStreamErr != nil {
			errCh <- f.midStreamErr
		}
	}()
	return out, errCh, nil
}

// fakeTTSPool hands out genuine *tts.Session values (dialed against a
// local echo server) so Agent's Send/Flush/Cancel calls on them behave
// exactly as they would against a real pool, without a real TTS key.
type fakeTTSPool struct {
	wsURL string
	err   error
}

func (f *fakeTTSPool) Acquire(ctx context.Context, onAudio func(string), onDone func()) (*tts.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return tts.Open(ctx, f.wsURL, "test-key", "voice-1", onAudio, onDone)
}

type fakeSender struct {
	mu     sync.Mutex
	clears int
}

func (f *fakeSender) SendMedia(streamID, payload string) error { return nil }
func (f *fakeSender) SendClear(streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func newEchoTTSServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Answer every synthesis request with a done marker, so a turn
		// that sent text reaches its TTS-done step the way it would
		// against a real synthesizer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"done":true}`)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[len("http"):]
}

func newTestAgent(t *testing.T, llmClient llmStreamer) (*Agent, *fakeSender, chan struct{}) {
	t.Helper()
	server := newEchoTTSServer(t)
	tr := tracer.New(sdktrace.NewTracerProvider(), nil, t.TempDir())
	sender := &fakeSender{}
	done := make(chan struct{}, 8)

	agent := NewAgent(AgentDeps{
		LLM:     llmClient,
		TTSPool: &fakeTTSPool{wsURL: wsURL(server)},
		Sender:  sender,
		Tracer:  tr,
		Profile: models.AgentProfile{VoiceID: "voice-1", LLMModel: "claude-3-haiku-20240307"},
	}, "stream-1", func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	return agent, sender, done
}

func waitForDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not complete in time")
	}
}

// --- tests -----------------------------------------------------------

func TestStartTurnAppendsUserAndAssistantMessagesOnCompletion(t *testing.T) {
	agent, _, done := newTestAgent(t, &fakeLLM{tokens: []string{"Hi", " there."}})

	agent.StartTurn("hello")
	waitForDone(t, done)

	history := agent.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.Message{Role: "user", Content: "hello"}, history[0])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "Hi there."}, history[1])
}

func TestResetTurnDuringGenerationAppendsPartialWithEllipsis(t *testing.T) {
	agent, sender, _ := newTestAgent(t, &fakeLLM{tokens: []string{"Part", "ial"}, blockOnCtx: true})

	agent.StartTurn("hello")
	time.Sleep(20 * time.Millisecond) // let the fake stream emit its tokens
	agent.ResetTurn()

	history := agent.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.Message{Role: "user", Content: "hello"}, history[0])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "Partial…"}, history[1])

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 1, sender.clears, "barge-in must clear the telephony buffer")
}

func TestResetTurnBeforeAnyTokenLeavesNoAssistantMessage(t *testing.T) {
	agent, _, _ := newTestAgent(t, &fakeLLM{blockOnCtx: true})

	agent.StartTurn("hello")
	agent.ResetTurn()

	history := agent.History()
	require.Len(t, history, 1)
	assert.Equal(t, llm.Message{Role: "user", Content: "hello"}, history[0])
}

func TestMidStreamLLMErrorAppendsNothingButStillCompletesTurn(t *testing.T) {
	agent, _, done := newTestAgent(t, &fakeLLM{tokens: []string{"Hi", " there"}, midStreamErr: assert.AnError})

	agent.StartTurn("hello")
	waitForDone(t, done)

	history := agent.History()
	require.Len(t, history, 1, "an upstream error mid-generation appends no assistant message, unlike cancellation")
	assert.Equal(t, llm.Message{Role: "user", Content: "hello"}, history[0])
}

func TestTTSAcquisitionFailureResetsTurnAndFiresOnDone(t *testing.T) {
	tr := tracer.New(sdktrace.NewTracerProvider(), nil, t.TempDir())
	done := make(chan struct{}, 1)

	agent := NewAgent(AgentDeps{
		LLM:     &fakeLLM{tokens: []string{"unused"}},
		TTSPool: &fakeTTSPool{err: assert.AnError},
		Sender:  &fakeSender{},
		Tracer:  tr,
		Profile: models.AgentProfile{VoiceID: "voice-1", LLMModel: "claude-3-haiku-20240307"},
	}, "stream-1", func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	agent.StartTurn("hello")
	waitForDone(t, done)

	history := agent.History()
	assert.Empty(t, history, "a turn that never acquired tts leaves no history")
}
