package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEchoTTSServer stands in for a real synthesizer endpoint: it
// upgrades the connection and simply reads until the client closes it,
// which is all Pool's background pre-warming needs from the wire.
func newEchoTTSServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// countingOpen wraps the real Open against a local test server and
// counts every dial, so tests can tell a warm dispense (no dial) apart
// from a pool miss or a refill (a dial).
func countingOpen(endpoint string, opens *int32) func(string, string, string, func(string), func()) (*Session, error) {
	return func(_ string, apiKey, voiceID string, onAudio func(string), onDone func()) (*Session, error) {
		atomic.AddInt32(opens, 1)
		return Open(context.Background(), endpoint, apiKey, voiceID, onAudio, onDone)
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, cond(), "condition not met within %s", timeout)
}

func readyLen(p *Pool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready)
}

func TestPoolPreWarmsToSizeInBackground(t *testing.T) {
	server := newEchoTTSServer(t)
	var opens int32

	p := NewPool(wsURL(server), "test-key", "voice-1", 2, time.Minute)
	p.open = countingOpen(wsURL(server), &opens)
	p.Start()
	defer p.Stop()

	eventually(t, time.Second, func() bool { return readyLen(p) == 2 })
	assert.Equal(t, int32(2), atomic.LoadInt32(&opens))
}

func TestAcquireDispensesWarmSessionWithoutDialing(t *testing.T) {
	server := newEchoTTSServer(t)
	var opens int32

	p := NewPool(wsURL(server), "test-key", "voice-1", 1, time.Minute)
	p.open = countingOpen(wsURL(server), &opens)
	p.Start()
	defer p.Stop()

	eventually(t, time.Second, func() bool { return readyLen(p) == 1 })
	require.Equal(t, int32(1), atomic.LoadInt32(&opens))

	var gotAudio string
	session, err := p.Acquire(context.Background(), func(a string) { gotAudio = a }, func() {})
	require.NoError(t, err)
	require.NotNil(t, session)

	// dispensing a warm entry must not dial a fresh connection
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))

	session.audio("chunk")
	assert.Equal(t, "chunk", gotAudio)

	session.Cancel()
}

func TestAcquireOpensFreshSessionOnPoolMiss(t *testing.T) {
	server := newEchoTTSServer(t)
	var opens int32

	p := NewPool(wsURL(server), "test-key", "voice-1", 1, time.Minute)
	p.open = countingOpen(wsURL(server), &opens)
	// deliberately not Start()ed: the pool holds nothing warm yet

	session, err := p.Acquire(context.Background(), func(string) {}, func() {})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))

	session.Cancel()
}

func TestStaleEntriesAreEvictedAndReplaced(t *testing.T) {
	server := newEchoTTSServer(t)
	var opens int32

	ttl := 30 * time.Millisecond
	p := NewPool(wsURL(server), "test-key", "voice-1", 1, ttl)
	p.open = countingOpen(wsURL(server), &opens)
	p.Start()
	defer p.Stop()

	eventually(t, time.Second, func() bool { return readyLen(p) == 1 })
	require.Equal(t, int32(1), atomic.LoadInt32(&opens))

	// outlive the ttl; the background fill loop's ticker runs every
	// ttl/2 and should evict the stale entry and replace it
	eventually(t, time.Second, func() bool { return atomic.LoadInt32(&opens) >= 2 })
	eventually(t, time.Second, func() bool { return readyLen(p) == 1 })

	p.mu.Lock()
	fresh := time.Since(p.ready[0].createdAt) < ttl
	p.mu.Unlock()
	assert.True(t, fresh, "replacement entry should be freshly created")
}

func TestStopCancelsEveryWarmSession(t *testing.T) {
	server := newEchoTTSServer(t)
	var opens int32

	p := NewPool(wsURL(server), "test-key", "voice-1", 2, time.Minute)
	p.open = countingOpen(wsURL(server), &opens)
	p.Start()

	eventually(t, time.Second, func() bool { return readyLen(p) == 2 })

	p.Stop()
	assert.Equal(t, 0, readyLen(p))
}
