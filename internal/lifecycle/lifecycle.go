// Package lifecycle turns host app lifecycle events into session lock
// transitions.
//
// All events go through one Coordinator loop. Entering the background
// schedules a lock after a debounce window; resuming inside the window
// cancels it. Exit locks immediately. The coordinator never unlocks: when
// the app resumes to a locked session it emits AuthResumeRequired so the UI
// can run the prompt itself.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benaskins/lockbox/internal/session"
)

// DefaultDebounce is how long the app may stay in the background before
// the session is locked.
const DefaultDebounce = 500 * time.Millisecond

// Event is a host lifecycle event.
type Event int

const (
	Background Event = iota + 1
	Resume
	Exit
)

var eventNames = map[Event]string{
	Background: "background",
	Resume:     "resume",
	Exit:       "exit",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseEvent maps "background", "resume" or "exit" to an Event.
func ParseEvent(s string) (Event, error) {
	for ev, name := range eventNames {
		if name == s {
			return ev, nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle event %q", s)
}

// Signal is emitted towards the UI.
type Signal string

// AuthResumeRequired asks the UI to run Unlock after a resume.
const AuthResumeRequired Signal = "auth_resume_required"

// Session is the part of the session the coordinator drives.
type Session interface {
	Status() session.State
	ClearFor(trigger string)
}

type request struct {
	event Event
	done  chan struct{}
}

// TimerFunc starts a one-shot timer of duration d and returns its channel
// and a function that stops it.
type TimerFunc func(d time.Duration) (<-chan time.Time, func() bool)

func realTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Coordinator serializes lifecycle events against one session.
type Coordinator struct {
	session  Session
	newTimer TimerFunc
	debounce atomic.Int64
	events   chan request
	signals  chan Signal
	stopped  chan struct{}
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDebounce sets the background lock window.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		c.SetDebounce(d)
	}
}

// WithTimer replaces the timer used for the background lock window.
func WithTimer(f TimerFunc) Option {
	return func(c *Coordinator) {
		c.newTimer = f
	}
}

// New creates a coordinator for s. Call Run to start it.
func New(s Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:  s,
		newTimer: realTimer,
		events:   make(chan request),
		signals:  make(chan Signal, 1),
		stopped:  make(chan struct{}),
		logger:   slog.With("component", "lifecycle"),
	}
	c.debounce.Store(int64(DefaultDebounce))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDebounce changes the background lock window for future events.
// Non-positive values restore DefaultDebounce.
func (c *Coordinator) SetDebounce(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounce
	}
	c.debounce.Store(int64(d))
}

// Debounce returns the current background lock window.
func (c *Coordinator) Debounce() time.Duration {
	return time.Duration(c.debounce.Load())
}

// Signals delivers UI-facing signals. At most one undelivered signal is
// kept; repeats collapse into it.
func (c *Coordinator) Signals() <-chan Signal {
	return c.signals
}

// Notify submits an event and returns once the coordinator has handled it.
// For Exit that means the session has already been cleared. If the loop is
// no longer running, Exit still clears the session directly.
func (c *Coordinator) Notify(ctx context.Context, ev Event) error {
	if _, ok := eventNames[ev]; !ok {
		return fmt.Errorf("unknown lifecycle event %d", int(ev))
	}

	req := request{event: ev, done: make(chan struct{})}
	select {
	case c.events <- req:
	case <-c.stopped:
		if ev == Exit {
			c.session.ClearFor("exit")
		}
		return nil
	case <-ctx.Done():
		if ev == Exit {
			c.session.ClearFor("exit")
		}
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)

	var (
		stop func() bool
		fire <-chan time.Time
	)
	cancelPending := func() bool {
		if stop == nil {
			return false
		}
		stop()
		stop, fire = nil, nil
		return true
	}

	for {
		select {
		case <-ctx.Done():
			cancelPending()
			return nil

		case req := <-c.events:
			switch req.event {
			case Background:
				cancelPending()
				d := c.Debounce()
				fire, stop = c.newTimer(d)
				c.logger.Debug("app backgrounded, lock scheduled", "after", d)

			case Resume:
				if cancelPending() {
					c.logger.Debug("app resumed, pending lock cancelled")
				}
				if c.session.Status() == session.Locked {
					c.emit(AuthResumeRequired)
				}

			case Exit:
				cancelPending()
				c.session.ClearFor("exit")
			}
			close(req.done)

		case <-fire:
			stop, fire = nil, nil
			c.session.ClearFor("background")
		}
	}
}

func (c *Coordinator) emit(sig Signal) {
	select {
	case c.signals <- sig:
		c.logger.Info("signal emitted", "signal", sig)
	default:
		// An undelivered signal of the same kind is already pending.
	}
}
