package synth

import (
	"github.com/handsfree-audio/handsynth/internal/config"
	"github.com/handsfree-audio/handsynth/internal/control"
)

// Mapper converts the coarse hand features from one detector frame into a
// control state. It is pure: the same frame always maps to the same state.
type Mapper struct {
	cfg config.ThereminConfig
}

func NewMapper(cfg config.ThereminConfig) *Mapper {
	return &Mapper{cfg: cfg}
}

// Map derives volume from x, a base frequency from y, and a chord shape
// from the extended-finger count:
//
//	0 fingers (fist)  -> tetrad: base, major third, perfect fifth, octave
//	1 finger          -> single tone
//	2 fingers         -> dyad: base plus perfect fifth
//	anything else     -> single tone
//
// Counts outside {0,1,2} deliberately fall back to a single tone rather
// than erroring. Both axes are inverted so moving the hand up raises pitch
// and moving it left raises volume; the detector's y grows downward.
func (m *Mapper) Map(frame Frame) control.State {
	if !frame.Detected {
		return control.State{Volume: 0}
	}

	x := clamp01(frame.X)
	y := clamp01(frame.Y)

	volume := m.cfg.VolumeMax * (1.0 - x)
	base := m.cfg.FreqMin + (m.cfg.FreqMax-m.cfg.FreqMin)*(1.0-y)

	var freqs []float64
	switch frame.FingerCount {
	case 0:
		freqs = []float64{
			base,
			base * m.cfg.RatioThird,
			base * m.cfg.RatioFifth,
			base * m.cfg.RatioOctave,
		}
	case 2:
		freqs = []float64{base, base * m.cfg.RatioFifth}
	default:
		freqs = []float64{base}
	}

	return control.State{Frequencies: freqs, Volume: volume}
}

// Frame is the subset of a detector frame the mapper cares about.
type Frame struct {
	Detected    bool
	FingerCount int
	X, Y        float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
