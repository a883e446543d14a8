// Package note implements the monophonic note state machine behind the
// keys variant: at most one pitch sounds at a time, note-off velocity grows
// with hold duration, and every pitch is validated against the active
// instrument's playable range before any message is emitted.
package note

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Profile describes one selectable General MIDI instrument and the pitch
// range it accepts. The table is fixed and read-only after load.
type Profile struct {
	Program int
	Name    string
	Low     int
	High    int
}

// Contains reports whether pitch is playable on this instrument.
func (p Profile) Contains(pitch int) bool {
	return pitch >= p.Low && pitch <= p.High
}

var profiles = []Profile{
	{Program: 1, Name: "Acoustic Grand Piano", Low: 21, High: 108},
	{Program: 5, Name: "Electric Piano", Low: 28, High: 102},
	{Program: 25, Name: "Acoustic Guitar", Low: 40, High: 83},
	{Program: 41, Name: "Violin", Low: 55, High: 99},
	{Program: 57, Name: "Trumpet", Low: 55, High: 81},
	{Program: 74, Name: "Flute", Low: 60, High: 95},
}

// Profiles returns the selectable instrument table.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// ProfileFor looks up an instrument by its program number.
func ProfileFor(program int) (Profile, bool) {
	for _, p := range profiles {
		if p.Program == program {
			return p, true
		}
	}
	return Profile{}, false
}

const (
	KindOn  = "on"
	KindOff = "off"
)

// Event is one note-on or note-off produced by a lifecycle transition.
type Event struct {
	Pitch    int
	Velocity int
	Kind     string
	Program  int
	Time     time.Time
}

// Params are the release-velocity formula constants: velocity at note-off
// is min(Ceiling, round(Base + Slope * heldSeconds)). Longer holds read as
// emphasis; this is a mapping choice, not decay modeling.
type Params struct {
	VelocityBase    int
	VelocitySlope   int
	VelocityCeiling int
}

// ErrPitchOutOfRange marks a start request outside the active instrument's
// playable range. The request is rejected, not clamped.
var ErrPitchOutOfRange = errors.New("pitch out of range")

// Instrument is the single-voice state machine. All transitions pass
// through StartNote/StopNote; every emitted Event is delivered to the
// onEvent callback in transition order.
type Instrument struct {
	mu      sync.Mutex
	profile Profile
	params  Params
	onEvent func(Event)

	sounding bool
	pitch    int
	start    time.Time

	clock func() time.Time
}

// NewInstrument creates an idle instrument. onEvent may be nil.
func NewInstrument(profile Profile, params Params, onEvent func(Event)) *Instrument {
	return &Instrument{
		profile: profile,
		params:  params,
		onEvent: onEvent,
		clock:   time.Now,
	}
}

// StartNote begins sounding pitch. Starting the pitch that is already
// sounding is a no-op (a held key does not re-trigger); starting a
// different pitch stops the old note first, with the same release-velocity
// computation as an explicit stop.
func (i *Instrument) StartNote(pitch int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.profile.Contains(pitch) {
		return fmt.Errorf("pitch %d on %s (%d-%d): %w",
			pitch, i.profile.Name, i.profile.Low, i.profile.High, ErrPitchOutOfRange)
	}
	if i.sounding {
		if i.pitch == pitch {
			return nil
		}
		i.stopLocked()
	}

	now := i.clock()
	i.sounding = true
	i.pitch = pitch
	i.start = now
	i.emit(Event{Pitch: pitch, Velocity: i.params.VelocityBase, Kind: KindOn, Program: i.profile.Program, Time: now})
	return nil
}

// StopNote ends the sounding note, if any, and reports whether a note-off
// was emitted. Stopping while idle is a no-op.
func (i *Instrument) StopNote() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.sounding {
		return false
	}
	i.stopLocked()
	return true
}

func (i *Instrument) stopLocked() {
	now := i.clock()
	held := now.Sub(i.start).Seconds()
	i.emit(Event{
		Pitch:    i.pitch,
		Velocity: i.releaseVelocity(held),
		Kind:     KindOff,
		Program:  i.profile.Program,
		Time:     now,
	})
	i.sounding = false
	i.pitch = 0
	i.start = time.Time{}
}

func (i *Instrument) releaseVelocity(heldSeconds float64) int {
	v := i.params.VelocityBase + int(float64(i.params.VelocitySlope)*heldSeconds+0.5)
	if v > i.params.VelocityCeiling {
		v = i.params.VelocityCeiling
	}
	return v
}

// SetProfile switches the active instrument, flushing any sounding note
// through its stop transition first so no note-off is lost on the old
// program.
func (i *Instrument) SetProfile(p Profile) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sounding {
		i.stopLocked()
	}
	i.profile = p
}

// Profile returns the active instrument.
func (i *Instrument) Profile() Profile {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.profile
}

// Sounding reports the currently sounding pitch, if any.
func (i *Instrument) Sounding() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pitch, i.sounding
}

// Close forces the stop transition so shutdown never strands a sounding
// note on the transport.
func (i *Instrument) Close() {
	i.StopNote()
}

func (i *Instrument) emit(e Event) {
	if i.onEvent != nil {
		i.onEvent(e)
	}
}
