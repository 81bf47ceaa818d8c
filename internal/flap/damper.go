package flap

import (
	"sync"
	"time"
)

type State int

const (
	StateStable   State = iota // Flips are reported
	StateFlapping              // Flips are suppressed
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "STABLE"
	case StateFlapping:
		return "FLAPPING"
	default:
		return "UNKNOWN"
	}
}

// Damper counts the flips of one host inside a sliding quiet window.
type Damper struct {
	mutex     sync.Mutex
	state     State
	flips     int
	lastFlip  time.Time
	threshold int
	window    time.Duration
}

// NewDamper returns a damper that starts flapping after threshold flips that
// are each less than window apart. A threshold below one disables damping.
func NewDamper(threshold int, window time.Duration) *Damper {
	return &Damper{
		state:     StateStable,
		threshold: threshold,
		window:    window,
	}
}

// RecordFlip registers a flip and reports whether it moved the damper into
// the flapping state.
func (d *Damper) RecordFlip(now time.Time) (startedFlapping bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.threshold < 1 {
		return false
	}

	if d.lastFlip.IsZero() || now.Sub(d.lastFlip) >= d.window {
		d.flips = 0
	}
	d.flips++
	d.lastFlip = now

	if d.state == StateStable && d.flips >= d.threshold {
		d.state = StateFlapping
		return true
	}
	return false
}

// Allow reports whether a notification may be sent now. A flapping damper
// settles once a full window passed since the last flip.
func (d *Damper) Allow(now time.Time) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch d.state {
	case StateFlapping:
		if now.Sub(d.lastFlip) >= d.window {
			d.state = StateStable
			d.flips = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (d *Damper) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}
