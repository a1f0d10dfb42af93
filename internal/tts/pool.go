package tts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

// noop callbacks a warm session is opened with, before a turn rebinds them.
func noopAudio(string) {}
func noopDone()        {}

type entry struct {
	session   *Session
	createdAt time.Time
}

// Pool keeps up to size pre-warmed TTS sessions ready for instant
// dispensing, refilling in the background and evicting entries once
// they exceed ttl. Dispensing is FIFO: the oldest still-fresh entry
// goes first (original_source/shuo/services/tts_pool.py, `_ready.pop(0)`).
type Pool struct {
	endpoint string
	apiKey   string
	voiceID  string
	size     int
	ttl      time.Duration

	// open defaults to the package-level Open; tests substitute a fake
	// opener so pool behavior (FIFO, eviction, refill) can be verified
	// without a real TTS endpoint.
	open func(endpoint, apiKey, voiceID string, onAudio func(string), onDone func()) (*Session, error)

	mu    sync.Mutex
	ready []entry

	fillSignal chan struct{}
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewPool constructs an unstarted pool. Call Start to begin pre-warming.
func NewPool(endpoint, apiKey, voiceID string, size int, ttl time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		endpoint:   endpoint,
		apiKey:     apiKey,
		voiceID:    voiceID,
		size:       size,
		ttl:        ttl,
		open:       func(e, a, v string, onAudio func(string), onDone func()) (*Session, error) { return Open(context.Background(), e, a, v, onAudio, onDone) },
		fillSignal: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Start launches the background fill loop.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.fillLoop()
	p.requestFill()
}

// Stop halts refilling and closes every still-warm session.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()

	p.mu.Lock()
	entries := p.ready
	p.ready = nil
	p.mu.Unlock()

	for _, e := range entries {
		e.session.Cancel()
	}
}

// Acquire dispenses the oldest warm session (FIFO) and rebinds its
// callbacks to the caller's turn, or opens a fresh session on a miss
// (spec.md §4.6, §9).
func (p *Pool) Acquire(ctx context.Context, onAudio func(string), onDone func()) (*Session, error) {
	log := logger.WithComponent("tts_pool")

	p.mu.Lock()
	var s *Session
	for len(p.ready) > 0 {
		e := p.ready[0]
		p.ready = p.ready[1:]
		if time.Since(e.createdAt) < p.ttl {
			s = e.session
			break
		}
		go e.session.Cancel()
	}
	p.mu.Unlock()

	p.requestFill()

	if s != nil {
		s.Rebind(onAudio, onDone)
		log.Debug().Msg("dispensed warm tts session")
		return s, nil
	}

	log.Debug().Msg("pool miss, opening tts session directly")
	return p.open(p.endpoint, p.apiKey, p.voiceID, onAudio, onDone)
}

func (p *Pool) requestFill() {
	select {
	case p.fillSignal <- struct{}{}:
	default:
	}
}

func (p *Pool) fillLoop() {
	defer p.wg.Done()
	log := logger.WithComponent("tts_pool")

	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.fillSignal:
			p.evictStale()
			p.fill(log)
		case <-ticker.C:
			p.evictStale()
			p.fill(log)
		}
	}
}

// fill tops the ready slice back up to size by opening fresh warm
// sessions, bound to no-op callbacks until a turn claims and rebinds
// them via Acquire.
func (p *Pool) fill(log zerolog.Logger) {
	for {
		p.mu.Lock()
		short := len(p.ready) < p.size
		p.mu.Unlock()
		if !short {
			return
		}

		s, err := p.open(p.endpoint, p.apiKey, p.voiceID, noopAudio, noopDone)
		if err != nil {
			log.Warn().Err(err).Msg("failed to pre-warm tts session")
			return
		}

		p.mu.Lock()
		p.ready = append(p.ready, entry{session: s, createdAt: time.Now()})
		p.mu.Unlock()
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	fresh := p.ready[:0]
	var stale []entry
	for _, e := range p.ready {
		if time.Since(e.createdAt) < p.ttl {
			fresh = append(fresh, e)
		} else {
			stale = append(stale, e)
		}
	}
	p.ready = fresh
	p.mu.Unlock()

	for _, e := range stale {
		e.session.Cancel()
	}
}

