// Package control provides the single-slot, last-value-wins channel that
// carries synthesis parameters from the detection cadence to the audio
// cadence. Publish replaces any unread value; Snapshot returns the most
// recent one. Both sides see the frequency set and the volume from the
// same publish, never a mix of two.
package control

import "sync/atomic"

// State is one immutable set of synthesis parameters. The frequency slice
// must not be mutated after publishing.
type State struct {
	Frequencies []float64
	Volume      float64
}

// Channel is safe for one writer and one reader without locking; the audio
// thread's Snapshot never blocks on the detection thread's Publish.
type Channel struct {
	cur      atomic.Pointer[State]
	fallback State
}

// NewChannel returns a channel whose Snapshot yields silence at the given
// default volume until the first Publish.
func NewChannel(defaultVolume float64) *Channel {
	return &Channel{fallback: State{Volume: defaultVolume}}
}

// Publish swaps in a new parameter set. The slice is copied so the caller
// may reuse its backing array afterwards.
func (c *Channel) Publish(s State) {
	if len(s.Frequencies) > 0 {
		freqs := make([]float64, len(s.Frequencies))
		copy(freqs, s.Frequencies)
		s.Frequencies = freqs
	} else {
		s.Frequencies = nil
	}
	c.cur.Store(&s)
}

// Snapshot returns the most recently published state, or the fallback if
// nothing has been published yet.
func (c *Channel) Snapshot() State {
	if s := c.cur.Load(); s != nil {
		return *s
	}
	return c.fallback
}
