package client

import (
	"sync"
	"sync/atomic"
	"time"
)

// PollScheduler drives the pull fallback: while the push channel is down it
// fires at a fixed interval, and a tick that lands while the previous reload
// is still in flight is skipped, not queued.
type PollScheduler struct {
	interval time.Duration
	// run performs one reload and must call done exactly once when the
	// reload has settled. It must not block.
	run func(done func())

	busy atomic.Bool

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

func NewPollScheduler(interval time.Duration, run func(done func())) *PollScheduler {
	return &PollScheduler{interval: interval, run: run}
}

func (p *PollScheduler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	go p.loop(p.stop)
}

func (p *PollScheduler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
}

func (p *PollScheduler) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PollScheduler) loop(stop chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !p.busy.CompareAndSwap(false, true) {
				continue // previous reload still in flight
			}
			p.run(func() { p.busy.Store(false) })
		case <-stop:
			return
		}
	}
}
