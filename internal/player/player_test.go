package player

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	media  []string
	clears []string
}

func (f *fakeSender) SendMedia(streamID, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, payload)
	return nil
}

func (f *fakeSender) SendClear(streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, streamID)
	return nil
}

func (f *fakeSender) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	media := append([]string(nil), f.media...)
	clears := append([]string(nil), f.clears...)
	return media, clears
}

func TestPlayerSendsPushedChunksInOrderThenCallsOnDone(t *testing.T) {
	sender := &fakeSender{}
	var doneCalls int
	var mu sync.Mutex

	p := New(sender, "stream1", func() {
		mu.Lock()
		doneCalls++
		mu.Unlock()
	})

	p.Push("chunk1")
	p.Push("chunk2")
	p.Push("chunk3")
	p.MarkInputComplete()

	p.WaitUntilDone()

	media, clears := sender.snapshot()
	assert.Equal(t, []string{"chunk1", "chunk2", "chunk3"}, media)
	assert.Empty(t, clears)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, doneCalls)
}

func TestStopAndClearDiscardsQueueAndSuppressesOnDone(t *testing.T) {
	sender := &fakeSender{}
	var doneCalls int
	var mu sync.Mutex

	p := New(sender, "stream1", func() {
		mu.Lock()
		doneCalls++
		mu.Unlock()
	})

	// enough chunks that draining all of them at one frame per
	// frameDuration would take far longer than StopAndClear waits here
	for i := 0; i < 50; i++ {
		p.Push("chunk")
	}

	p.StopAndClear()

	_, clears := sender.snapshot()
	require.Len(t, clears, 1)
	assert.Equal(t, "stream1", clears[0])

	p.mu.Lock()
	queueLen := len(p.queue)
	p.mu.Unlock()
	assert.Equal(t, 0, queueLen, "queue must be discarded on barge-in")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, doneCalls, "onDone must not fire on a cancelled turn")
}

func TestPushAfterMarkInputCompleteIsIgnored(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, "stream1", func() {})

	p.MarkInputComplete()
	time.Sleep(5 * time.Millisecond) // let the drain loop observe completion
	p.Push("too-late")

	p.mu.Lock()
	queueLen := len(p.queue)
	p.mu.Unlock()
	assert.Equal(t, 0, queueLen)

	p.WaitUntilDone()
}

func TestStopAndClearIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, "stream1", func() {})

	p.Push("chunk")
	p.StopAndClear()
	assert.NotPanics(t, func() { p.StopAndClear() })

	_, clears := sender.snapshot()
	assert.Len(t, clears, 2)
}
