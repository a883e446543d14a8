// Package keys runs the discrete-pitch instrument: bus commands drive the
// monophonic note state machine, and every resulting transition goes out
// as a MIDI message, a bus event, and an event-store row.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"gitlab.com/gomidi/midi/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/handsfree-audio/handsynth/internal/bus"
	"github.com/handsfree-audio/handsynth/internal/config"
	"github.com/handsfree-audio/handsynth/internal/eventstore"
	"github.com/handsfree-audio/handsynth/internal/midiout"
	"github.com/handsfree-audio/handsynth/internal/note"
	"github.com/handsfree-audio/handsynth/internal/protocol"
)

type Service struct {
	cfg       config.KeysConfig
	bus       *bus.Client
	store     *eventstore.Store
	port      midiout.Port
	inst      *note.Instrument
	seq       *note.Sequencer
	sessionID string

	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	// playMu serializes manual play against scale playback: while a scale
	// runs, manual commands are rejected rather than interleaved.
	playMu sync.Mutex

	publish func(subject string, data []byte) error

	notesEmitted metric.Int64Counter
	rejected     metric.Int64Counter
}

func NewService(parent context.Context, cfg config.KeysConfig, busClient *bus.Client, store *eventstore.Store, port midiout.Port, sessionID string, log *slog.Logger) (*Service, error) {
	profile, ok := note.ProfileFor(cfg.DefaultProgram)
	if !ok {
		return nil, fmt.Errorf("unknown default program %d", cfg.DefaultProgram)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		bus:       busClient,
		store:     store,
		port:      port,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "keys-service")),
	}
	if busClient != nil {
		s.publish = func(subject string, data []byte) error {
			return busClient.Conn().Publish(subject, data)
		}
	}

	params := note.Params{
		VelocityBase:    cfg.VelocityBase,
		VelocitySlope:   cfg.VelocitySlope,
		VelocityCeiling: cfg.VelocityCeiling,
	}
	s.inst = note.NewInstrument(profile, params, s.handleEvent)
	s.seq = note.NewSequencer(s.inst, time.Duration(cfg.ScaleStepMS)*time.Millisecond)

	meter := otel.Meter("handsynth/keys")
	if c, err := meter.Int64Counter("handsynth.note_events_total"); err == nil {
		s.notesEmitted = c
	}
	if c, err := meter.Int64Counter("handsynth.commands_rejected_total"); err == nil {
		s.rejected = c
	}
	return s, nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	// Announce the initial program so the transport and the instrument
	// table agree from the first note.
	if err := s.sendProgramChange(s.inst.Profile()); err != nil {
		return fmt.Errorf("initial program change: %w", err)
	}

	for subject, handler := range map[string]nats.MsgHandler{
		protocol.SubjectNote:    s.handleNote,
		protocol.SubjectProgram: s.handleProgram,
		protocol.SubjectScale:   s.handleScale,
	} {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.drainSubs()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close drains the command subscriptions, then forces any sounding note
// through its stop transition so the final note-off reaches the transport
// before the port is released.
func (s *Service) Close() {
	s.cancel()
	s.drainSubs()
	s.wg.Wait()
	s.inst.Close()
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) == 3 }

// handleEvent fans one lifecycle transition out to MIDI, the bus, and the
// event store. It runs synchronously inside the transition so event order
// always matches transition order.
func (s *Service) handleEvent(e note.Event) {
	channel := uint8(s.cfg.Channel)
	var msg midi.Message
	switch e.Kind {
	case note.KindOn:
		msg = midi.NoteOn(channel, uint8(e.Pitch), uint8(e.Velocity))
	case note.KindOff:
		msg = midi.NoteOffVelocity(channel, uint8(e.Pitch), uint8(e.Velocity))
	default:
		return
	}
	if err := s.port.Send(msg); err != nil {
		s.logger.Warn("midi send failed", slogError(err))
	}
	if s.notesEmitted != nil {
		s.notesEmitted.Add(s.ctx, 1)
	}

	evt := protocol.NoteEvent{
		Pitch:     e.Pitch,
		Velocity:  e.Velocity,
		Kind:      e.Kind,
		Program:   e.Program,
		Timestamp: e.Time,
	}
	if s.publish != nil {
		if data, err := json.Marshal(evt); err == nil {
			if err := s.publish(protocol.SubjectNoteEvent, data); err != nil {
				s.logger.Warn("failed to publish note event", slogError(err))
			}
		}
	}
	if s.store != nil {
		rec := eventstore.NoteRecord{
			SessionID: s.sessionID,
			Pitch:     e.Pitch,
			Velocity:  e.Velocity,
			Kind:      e.Kind,
			Program:   e.Program,
			CreatedAt: e.Time,
		}
		// Not s.ctx: the flush on Close runs after cancellation and its
		// note-off must still land in the timeline.
		if err := s.store.AppendNote(context.Background(), rec); err != nil {
			s.logger.Warn("failed to record note event", slogError(err))
		}
	}
}

func (s *Service) handleNote(msg *nats.Msg) {
	var cmd protocol.NoteCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode note command", slogError(err))
		return
	}

	if !s.playMu.TryLock() {
		s.reject("scale playback active, note command dropped", slog.Int("pitch", cmd.Pitch))
		return
	}
	defer s.playMu.Unlock()

	switch cmd.Action {
	case protocol.ActionStart:
		if err := s.inst.StartNote(cmd.Pitch); err != nil {
			if errors.Is(err, note.ErrPitchOutOfRange) {
				s.reject("pitch rejected", slogError(err))
				return
			}
			s.logger.Warn("start note failed", slogError(err))
		}
	case protocol.ActionStop:
		s.inst.StopNote()
	default:
		s.reject("unknown note action", slog.String("action", cmd.Action))
	}
}

func (s *Service) handleProgram(msg *nats.Msg) {
	var sel protocol.ProgramSelect
	if err := json.Unmarshal(msg.Data, &sel); err != nil {
		s.logger.Warn("failed to decode program select", slogError(err))
		return
	}

	profile, ok := note.ProfileFor(sel.Program)
	if !ok {
		// Previous selection is retained.
		s.reject("unknown program", slog.Int("program", sel.Program))
		return
	}

	if !s.playMu.TryLock() {
		s.reject("scale playback active, program change dropped", slog.Int("program", sel.Program))
		return
	}
	defer s.playMu.Unlock()

	s.inst.SetProfile(profile)
	if err := s.sendProgramChange(profile); err != nil {
		s.logger.Warn("program change failed", slogError(err))
		return
	}
	s.logger.Info("instrument selected",
		slog.Int("program", profile.Program),
		slog.String("name", profile.Name))
}

func (s *Service) handleScale(msg *nats.Msg) {
	var req protocol.ScaleRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode scale request", slogError(err))
		return
	}

	if !s.playMu.TryLock() {
		s.reject("scale playback already active", slog.Int("root", req.Root))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.playMu.Unlock()
		if err := s.seq.Play(s.ctx, req.Root, req.Scale); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("scale playback failed", slogError(err))
			return
		}
		s.logger.Info("scale played",
			slog.Int("root", req.Root),
			slog.String("scale", req.Scale))
	}()
}

// sendProgramChange maps the 1-based General MIDI program table onto the
// 0-based wire value.
func (s *Service) sendProgramChange(p note.Profile) error {
	return s.port.Send(midi.ProgramChange(uint8(s.cfg.Channel), uint8(p.Program-1)))
}

func (s *Service) reject(reason string, attrs ...any) {
	s.logger.Warn(reason, attrs...)
	if s.rejected != nil {
		s.rejected.Add(s.ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
