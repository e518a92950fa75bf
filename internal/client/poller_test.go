package client

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPollSchedulerSkipsWhileBusy(t *testing.T) {
	var fired atomic.Int32
	release := make(chan func(), 1)

	p := NewPollScheduler(10*time.Millisecond, func(done func()) {
		fired.Add(1)
		release <- done
	})
	p.Start()
	defer p.Stop()

	var done func()
	select {
	case done = <-release:
	case <-time.After(time.Second):
		t.Fatal("first tick never fired")
	}

	// Several intervals pass while the first reload is still in flight;
	// every one of those ticks must be skipped, not queued.
	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("run fired %d times while busy, want 1", got)
	}

	done()
	select {
	case done = <-release:
		done()
	case <-time.After(time.Second):
		t.Fatal("no tick after the reload settled")
	}
}

func TestPollSchedulerStop(t *testing.T) {
	var fired atomic.Int32
	p := NewPollScheduler(5*time.Millisecond, func(done func()) {
		fired.Add(1)
		done()
	})

	p.Start()
	if !p.Running() {
		t.Fatal("not running after Start")
	}
	p.Start() // second Start is a no-op

	time.Sleep(30 * time.Millisecond)
	p.Stop()
	if p.Running() {
		t.Fatal("still running after Stop")
	}
	p.Stop() // second Stop is a no-op

	// A tick already selected when Stop lands may still fire; after that
	// the loop must stay quiet.
	time.Sleep(20 * time.Millisecond)
	settled := fired.Load()
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != settled {
		t.Fatal("run fired after Stop")
	}
	if settled == 0 {
		t.Fatal("run never fired before Stop")
	}
}
