package engine

import (
	"time"

	"github.com/benbjohnson/clock"
)

// timer schedules a closure on the event loop. A periodic timer re-arms itself
// before each firing. Stopping or restarting a timer invalidates any firing
// that was already posted to the loop.
type timer struct {
	e      *Engine
	name   string
	period time.Duration
	fire   func()
	t      *clock.Timer
	gen    uint64
}

func (e *Engine) newTimer(name string, period time.Duration, fire func()) *timer {
	return &timer{e: e, name: name, period: period, fire: fire}
}

// start (re)arms the timer to fire after d. Must be called on the loop.
func (t *timer) start(d time.Duration) {
	t.stop()
	t.gen++
	gen := t.gen
	t.t = t.e.Clock.AfterFunc(d, func() {
		t.e.post(func() {
			if t.gen != gen || t.t == nil {
				return
			}
			t.t = nil
			if t.period > 0 {
				t.start(t.period)
			}
			t.fire()
		})
	})
}

// ensure arms a periodic timer if it is not already running.
func (t *timer) ensure() {
	if !t.active() {
		d := t.period
		if d == 0 {
			panic("[engine] - ensure called on one-shot timer " + t.name)
		}
		t.start(d)
	}
}

// ensureAfter arms the timer to fire after d unless it is already armed.
func (t *timer) ensureAfter(d time.Duration) {
	if !t.active() {
		t.start(d)
	}
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
}

func (t *timer) active() bool { return t.t != nil }
