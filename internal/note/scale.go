package note

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	majorIntervals = []int{0, 2, 4, 5, 7, 9, 11, 12}
	minorIntervals = []int{0, 2, 3, 5, 7, 8, 10, 12}
)

// Sequencer drives the instrument through a scale one note at a time: each
// step starts, holds for the step duration, then stops before the next
// begins. Playback is deliberately blocking and single-threaded.
type Sequencer struct {
	inst *Instrument
	step time.Duration
}

func NewSequencer(inst *Instrument, step time.Duration) *Sequencer {
	return &Sequencer{inst: inst, step: step}
}

// Play walks the scale rooted at root. "major" (any case) selects the
// major intervals; anything else plays minor. Steps that land outside the
// instrument's range are skipped in place, matching the instrument's
// reject-not-clamp policy. Cancellation stops the sounding note before
// returning.
func (s *Sequencer) Play(ctx context.Context, root int, scaleType string) error {
	intervals := minorIntervals
	if strings.EqualFold(scaleType, "major") {
		intervals = majorIntervals
	}

	timer := time.NewTimer(s.step)
	defer timer.Stop()

	for _, offset := range intervals {
		if err := s.inst.StartNote(root + offset); err != nil && !errors.Is(err, ErrPitchOutOfRange) {
			return err
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.step)
		select {
		case <-ctx.Done():
			s.inst.StopNote()
			return ctx.Err()
		case <-timer.C:
		}

		s.inst.StopNote()
	}
	return nil
}
