package keys

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/handsfree-audio/handsynth/internal/config"
	"github.com/handsfree-audio/handsynth/internal/midiout"
	"github.com/handsfree-audio/handsynth/internal/protocol"
)

func testKeysConfig() config.KeysConfig {
	return config.KeysConfig{
		Enabled:         true,
		MIDIMode:        "mock",
		Channel:         0,
		DefaultProgram:  1,
		VelocityBase:    64,
		VelocitySlope:   30,
		VelocityCeiling: 127,
		ScaleStepMS:     1,
	}
}

func newTestService(t *testing.T, cfg config.KeysConfig) (*Service, *midiout.MockPort) {
	t.Helper()
	port := midiout.NewMockPort()
	svc, err := NewService(context.Background(), cfg, nil, nil, port, "test-session", slog.Default())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, port
}

func noteMsg(t *testing.T, pitch int, action string) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(protocol.NoteCommand{Pitch: pitch, Action: action})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &nats.Msg{Subject: protocol.SubjectNote, Data: data}
}

func TestNoteCommandSendsMIDI(t *testing.T) {
	svc, port := newTestService(t, testKeysConfig())

	svc.handleNote(noteMsg(t, 60, protocol.ActionStart))
	svc.handleNote(noteMsg(t, 60, protocol.ActionStop))

	msgs := port.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 midi messages, got %d", len(msgs))
	}
	var ch, key, vel uint8
	if !msgs[0].GetNoteOn(&ch, &key, &vel) {
		t.Fatalf("expected note on, got %v", msgs[0])
	}
	if key != 60 || vel != 64 {
		t.Errorf("note on = key %d vel %d, want 60/64", key, vel)
	}
	if !msgs[1].GetNoteOff(&ch, &key, &vel) {
		t.Fatalf("expected note off, got %v", msgs[1])
	}
	if key != 60 {
		t.Errorf("note off key = %d, want 60", key)
	}
}

func TestRejectedPitchSendsNothing(t *testing.T) {
	cfg := testKeysConfig()
	cfg.DefaultProgram = 57 // trumpet, range 55..81
	svc, port := newTestService(t, cfg)

	svc.handleNote(noteMsg(t, 20, protocol.ActionStart))

	if n := len(port.Messages()); n != 0 {
		t.Fatalf("expected no midi messages, got %d", n)
	}
}

func TestProgramChangeUsesZeroBasedWireValue(t *testing.T) {
	svc, port := newTestService(t, testKeysConfig())

	data, _ := json.Marshal(protocol.ProgramSelect{Program: 57})
	svc.handleProgram(&nats.Msg{Subject: protocol.SubjectProgram, Data: data})

	if got := svc.inst.Profile().Program; got != 57 {
		t.Fatalf("active program = %d, want 57", got)
	}
	msgs := port.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 midi message, got %d", len(msgs))
	}
	var ch, prog uint8
	if !msgs[0].GetProgramChange(&ch, &prog) {
		t.Fatalf("expected program change, got %v", msgs[0])
	}
	if prog != 56 {
		t.Errorf("wire program = %d, want 56", prog)
	}
}

func TestUnknownProgramKeepsCurrentInstrument(t *testing.T) {
	svc, port := newTestService(t, testKeysConfig())

	data, _ := json.Marshal(protocol.ProgramSelect{Program: 99})
	svc.handleProgram(&nats.Msg{Subject: protocol.SubjectProgram, Data: data})

	if got := svc.inst.Profile().Program; got != 1 {
		t.Errorf("active program = %d, want 1", got)
	}
	if n := len(port.Messages()); n != 0 {
		t.Errorf("expected no midi messages, got %d", n)
	}
}

func TestUnknownDefaultProgramRejected(t *testing.T) {
	cfg := testKeysConfig()
	cfg.DefaultProgram = 42
	_, err := NewService(context.Background(), cfg, nil, nil, midiout.NewMockPort(), "s", slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown default program")
	}
}

func TestManualCommandsDroppedDuringScalePlayback(t *testing.T) {
	svc, port := newTestService(t, testKeysConfig())

	svc.playMu.Lock()
	svc.handleNote(noteMsg(t, 60, protocol.ActionStart))
	data, _ := json.Marshal(protocol.ProgramSelect{Program: 57})
	svc.handleProgram(&nats.Msg{Subject: protocol.SubjectProgram, Data: data})
	svc.playMu.Unlock()

	if n := len(port.Messages()); n != 0 {
		t.Errorf("expected dropped commands to send nothing, got %d messages", n)
	}
	if got := svc.inst.Profile().Program; got != 1 {
		t.Errorf("active program = %d, want 1", got)
	}
}

func TestScalePlaybackSendsEveryStep(t *testing.T) {
	svc, port := newTestService(t, testKeysConfig())

	data, _ := json.Marshal(protocol.ScaleRequest{Root: 60, Scale: "major"})
	svc.handleScale(&nats.Msg{Subject: protocol.SubjectScale, Data: data})
	svc.wg.Wait()

	// Eight scale degrees, each a note on and a note off.
	if n := len(port.Messages()); n != 16 {
		t.Fatalf("expected 16 midi messages, got %d", n)
	}
	var ch, key, vel uint8
	first := port.Messages()[0]
	if !first.GetNoteOn(&ch, &key, &vel) || key != 60 {
		t.Errorf("first message = %v, want note on 60", first)
	}
	last := port.Messages()[15]
	if !last.GetNoteOff(&ch, &key, &vel) || key != 72 {
		t.Errorf("last message = %v, want note off 72", last)
	}
}

func TestNoteEventsPublishedToBus(t *testing.T) {
	svc, _ := newTestService(t, testKeysConfig())

	var published []protocol.NoteEvent
	svc.publish = func(subject string, data []byte) error {
		if subject != protocol.SubjectNoteEvent {
			t.Errorf("subject = %q, want %q", subject, protocol.SubjectNoteEvent)
		}
		var evt protocol.NoteEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		published = append(published, evt)
		return nil
	}

	svc.handleNote(noteMsg(t, 64, protocol.ActionStart))
	svc.handleNote(noteMsg(t, 64, protocol.ActionStop))

	if len(published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(published))
	}
	on, off := published[0], published[1]
	if on.Kind != protocol.NoteKindOn || on.Pitch != 64 || on.Velocity != 64 || on.Program != 1 {
		t.Errorf("unexpected note-on event %+v", on)
	}
	if off.Kind != protocol.NoteKindOff || off.Pitch != 64 {
		t.Errorf("unexpected note-off event %+v", off)
	}
	if off.Timestamp.Before(on.Timestamp) {
		t.Errorf("note-off timestamp precedes note-on")
	}
}

func TestCloseFlushesSoundingNote(t *testing.T) {
	port := midiout.NewMockPort()
	svc, err := NewService(context.Background(), testKeysConfig(), nil, nil, port, "s", slog.Default())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	svc.handleNote(noteMsg(t, 67, protocol.ActionStart))
	svc.Close()

	msgs := port.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 midi messages, got %d", len(msgs))
	}
	var ch, key, vel uint8
	if !msgs[1].GetNoteOff(&ch, &key, &vel) || key != 67 {
		t.Errorf("expected trailing note off 67, got %v", msgs[1])
	}
}
