package protocol

import "time"

// HandFrame carries the pose features extracted from one processed video
// frame by an out-of-process detector. X and Y are normalized to [0,1];
// Detected false means no hand was found and the synth should fall silent.
type HandFrame struct {
	SessionID   string    `json:"session_id,omitempty"`
	Detected    bool      `json:"detected"`
	FingerCount int       `json:"finger_count"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Timestamp   time.Time `json:"timestamp"`
}

// NoteCommand requests a note lifecycle transition on the keys instrument.
type NoteCommand struct {
	Pitch     int       `json:"pitch"`
	Action    string    `json:"action"` // start, stop
	Timestamp time.Time `json:"timestamp"`
}

// ProgramSelect switches the active General MIDI instrument program.
type ProgramSelect struct {
	Program   int       `json:"program"`
	Timestamp time.Time `json:"timestamp"`
}

// ScaleRequest asks the sequencer to play a scale from the given root.
type ScaleRequest struct {
	Root      int       `json:"root"`
	Scale     string    `json:"scale"` // major, anything else plays minor
	Timestamp time.Time `json:"timestamp"`
}

// NoteEvent reports a note-on or note-off emitted by the instrument.
type NoteEvent struct {
	Pitch     int       `json:"pitch"`
	Velocity  int       `json:"velocity"`
	Kind      string    `json:"kind"` // on, off
	Program   int       `json:"program"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionStart = "start"
	ActionStop  = "stop"

	NoteKindOn  = "on"
	NoteKindOff = "off"
)

const (
	SubjectHandFrame = "hand.frame"
	SubjectNote      = "keys.note"
	SubjectProgram   = "keys.program"
	SubjectScale     = "keys.scale"
	SubjectNoteEvent = "keys.event"
)
