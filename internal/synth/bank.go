// Package synth implements the phase-continuous oscillator bank and the
// continuous hand-to-sound mapping policy.
package synth

import (
	"math"

	"github.com/handsfree-audio/handsynth/internal/config"
	"github.com/handsfree-audio/handsynth/internal/control"
)

// Bank sums one sine oscillator per active frequency into mono blocks.
// Parameters are read once per block from the control channel and frozen
// for the whole block; changes take effect at the next block boundary.
//
// Bank is not safe for concurrent use. It belongs to the audio render path
// and is only ever driven by the sink's pull callback.
type Bank struct {
	ctrl       *control.Channel
	sampleRate float64
	normalize  bool

	// t0 counts samples since the stream opened. It advances by exactly
	// the block size on every render and is never reset while the stream
	// is open, which keeps sin(2*pi*f*(t0+n)/rate) continuous across
	// block boundaries for any constant f.
	t0 uint64

	buf []float32
}

// NewBank builds a bank reading parameters from ctrl.
func NewBank(ctrl *control.Channel, cfg config.SynthConfig) *Bank {
	return &Bank{
		ctrl:       ctrl,
		sampleRate: float64(cfg.SampleRate),
		normalize:  cfg.Normalize,
		buf:        make([]float32, cfg.BlockFrames),
	}
}

// RenderBlock fills and returns exactly frames samples of mono audio. The
// returned slice is reused across calls; consume it before the next call.
// An empty frequency set yields silence, not an error, and still advances
// the phase accumulator.
//
// With normalization off, four simultaneous oscillators at volume 0.7 can
// sum past full scale and clip downstream; set synth.normalize to scale
// the mix by 1/sqrt(N).
func (b *Bank) RenderBlock(frames int) []float32 {
	if frames > len(b.buf) {
		b.buf = make([]float32, frames)
	}
	out := b.buf[:frames]
	for i := range out {
		out[i] = 0
	}

	snap := b.ctrl.Snapshot()
	if len(snap.Frequencies) == 0 {
		b.t0 += uint64(frames)
		return out
	}

	gain := snap.Volume
	if b.normalize && len(snap.Frequencies) > 1 {
		gain /= math.Sqrt(float64(len(snap.Frequencies)))
	}

	for _, f := range snap.Frequencies {
		step := 2 * math.Pi * f / b.sampleRate
		for n := 0; n < frames; n++ {
			out[n] += float32(gain * math.Sin(step*float64(b.t0+uint64(n))))
		}
	}

	b.t0 += uint64(frames)
	return out
}

// SampleRate reports the rate the bank renders at.
func (b *Bank) SampleRate() int {
	return int(b.sampleRate)
}
