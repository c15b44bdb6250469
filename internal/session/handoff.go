package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattscope/internal/diag"
	"github.com/srg/gattscope/internal/groutine"
)

// Loop is the single-writer session context: every SessionState mutation
// runs on its goroutine. Callers on foreign goroutines marshal closures in
// through Post (fire-and-forget, for unsolicited transport events) or Invoke
// (post-and-wait, for coordinator operations).
//
// Both primitives detect when the caller is already executing on the loop
// goroutine and run the closure inline; a closure posted from the loop to
// itself would otherwise deadlock or be lost on shutdown.
type Loop struct {
	tasks   chan task
	quit    chan struct{}
	done    chan struct{}
	gid     atomic.Uint64
	running atomic.Bool
	logger  *logrus.Logger
	sink    *diag.Sink
}

type task struct {
	name string
	fn   func()
}

// NewLoop creates a session loop with a bounded task buffer. sink may be nil.
func NewLoop(buffer int, logger *logrus.Logger, sink *diag.Sink) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		tasks:  make(chan task, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
		sink:   sink,
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session loop already started")
	}

	ready := make(chan struct{})
	groutine.Go(context.Background(), "session-loop", func(context.Context) {
		l.gid.Store(groutine.ID())
		close(ready)
		defer close(l.done)

		for {
			select {
			case t := <-l.tasks:
				t.fn()
			case <-l.quit:
				l.drain()
				return
			}
		}
	})
	<-ready
	return nil
}

// Stop shuts the loop down after draining already-accepted tasks.
func (l *Loop) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	close(l.quit)
	<-l.done
}

// drain runs every task accepted before shutdown.
func (l *Loop) drain() {
	for {
		select {
		case t := <-l.tasks:
			t.fn()
		default:
			return
		}
	}
}

// onLoop reports whether the calling goroutine is the loop goroutine.
func (l *Loop) onLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.ID()
}

// Post marshals a mutation onto the loop without waiting. When marshaling is
// impossible (loop stopped or buffer full) and the caller is not already on
// the loop, the event is recorded to the diagnostic sink and dropped; a
// foreign goroutine must never touch session state directly.
func (l *Loop) Post(name string, fn func()) bool {
	if l.onLoop() {
		fn()
		return true
	}
	if !l.running.Load() {
		l.drop(name, "session loop is not running")
		return false
	}

	select {
	case l.tasks <- task{name: name, fn: fn}:
		return true
	default:
		l.drop(name, "session loop task buffer is full")
		return false
	}
}

// Invoke marshals a closure onto the loop and waits for it to finish.
func (l *Loop) Invoke(fn func()) error {
	if l.onLoop() {
		fn()
		return nil
	}
	if !l.running.Load() {
		return fmt.Errorf("session loop is not running")
	}

	ran := make(chan struct{})
	t := task{name: "invoke", fn: func() {
		defer close(ran)
		fn()
	}}

	select {
	case l.tasks <- t:
	case <-l.quit:
		return fmt.Errorf("session loop is shutting down")
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		// The shutdown drain runs accepted tasks; check once more.
		select {
		case <-ran:
			return nil
		default:
			return fmt.Errorf("session loop stopped before the task ran")
		}
	}
}

func (l *Loop) drop(name, reason string) {
	l.logger.WithFields(logrus.Fields{
		"task":   name,
		"reason": reason,
	}).Warn("Dropping session event")
	if l.sink != nil {
		l.sink.Record("handoff", fmt.Sprintf("dropped %q: %s", name, reason))
	}
}
