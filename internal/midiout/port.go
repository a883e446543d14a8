// Package midiout sends the instrument's messages to a MIDI output port.
// Only two message kinds ever cross this boundary: program change on
// instrument switch, and note on/off on lifecycle transitions.
package midiout

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/handsfree-audio/handsynth/internal/config"
)

// Port is the transport the keys service writes to.
type Port interface {
	Send(msg midi.Message) error
	Close() error
}

// Open selects a backend by config mode: "rtmidi" opens a real output
// port, "mock" records messages in memory. A port that cannot be opened
// is a startup failure; the keys variant cannot run without its transport.
func Open(cfg config.KeysConfig, log *slog.Logger) (Port, error) {
	switch cfg.MIDIMode {
	case "mock":
		return NewMockPort(), nil
	case "rtmidi":
		return openRT(cfg.MIDIPort, log)
	default:
		return nil, fmt.Errorf("unknown midi mode %q", cfg.MIDIMode)
	}
}

// Virtual/system ports that are never auto-selected.
var excludedPatterns = []string{"Midi Through", "Through Port", "Dummy"}

type rtPort struct {
	drv  *rtmididrv.Driver
	out  drivers.Out
	send func(midi.Message) error
	mu   sync.Mutex
}

func openRT(name string, log *slog.Logger) (*rtPort, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	out, err := pickOut(drv, name)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if err := out.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open midi out %q: %w", out.String(), err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		_ = out.Close()
		drv.Close()
		return nil, fmt.Errorf("sender for %q: %w", out.String(), err)
	}

	log.Info("midi output connected", slog.String("port", out.String()))
	return &rtPort{drv: drv, out: out, send: send}, nil
}

func pickOut(drv *rtmididrv.Driver, name string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list midi outputs: %w", err)
	}

	var candidates []drivers.Out
	for _, out := range outs {
		if excluded(out.String()) {
			continue
		}
		candidates = append(candidates, out)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no usable midi output ports")
	}

	if name == "" {
		return candidates[0], nil
	}
	for _, out := range candidates {
		if containsCI(out.String(), name) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("midi output %q not found", name)
}

func excluded(name string) bool {
	for _, pat := range excludedPatterns {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (p *rtPort) Send(msg midi.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.send == nil {
		return fmt.Errorf("midi port closed")
	}
	return p.send(msg)
}

func (p *rtPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.send == nil {
		return nil
	}
	p.send = nil
	err := p.out.Close()
	p.drv.Close()
	return err
}

// MockPort records every message, for tests and for running the daemon
// without MIDI hardware.
type MockPort struct {
	mu       sync.Mutex
	messages []midi.Message
	closed   bool
}

func NewMockPort() *MockPort {
	return &MockPort{}
}

func (p *MockPort) Send(msg midi.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("midi port closed")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns a copy of everything sent so far.
func (p *MockPort) Messages() []midi.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]midi.Message, len(p.messages))
	copy(out, p.messages)
	return out
}
