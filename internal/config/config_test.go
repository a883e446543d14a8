package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Synth.SampleRate != 44100 {
		t.Fatalf("expected default sample rate 44100, got %d", cfg.Synth.SampleRate)
	}
	if cfg.Synth.DefaultVolume != 0.3 {
		t.Fatalf("expected default volume 0.3, got %v", cfg.Synth.DefaultVolume)
	}
	if cfg.Theremin.FreqMin != 200 || cfg.Theremin.FreqMax != 800 {
		t.Fatalf("expected default frequency range 200-800, got %v-%v", cfg.Theremin.FreqMin, cfg.Theremin.FreqMax)
	}
	if cfg.Keys.VelocityBase != 64 || cfg.Keys.VelocitySlope != 30 || cfg.Keys.VelocityCeiling != 127 {
		t.Fatalf("unexpected default velocity constants: %+v", cfg.Keys)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HANDSYNTH_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("HANDSYNTH_BUS_USERNAME", "alice")
	t.Setenv("HANDSYNTH_BUS_PASSWORD", "secret")
	t.Setenv("HANDSYNTH_SYNTH_SAMPLE_RATE", "96000")
	t.Setenv("HANDSYNTH_SYNTH_BACKEND", "null")
	t.Setenv("HANDSYNTH_SYNTH_NORMALIZE", "true")
	t.Setenv("HANDSYNTH_THEREMIN_FREQ_MAX", "900")
	t.Setenv("HANDSYNTH_KEYS_ENABLED", "true")
	t.Setenv("HANDSYNTH_KEYS_MIDI_MODE", "mock")
	t.Setenv("HANDSYNTH_KEYS_SCALE_STEP_MS", "120")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Synth.SampleRate != 96000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Synth.SampleRate)
	}
	if cfg.Synth.Backend != "null" {
		t.Fatalf("expected backend override, got %q", cfg.Synth.Backend)
	}
	if !cfg.Synth.Normalize {
		t.Fatal("expected normalize override true")
	}
	if cfg.Theremin.FreqMax != 900 {
		t.Fatalf("expected freq_max override, got %v", cfg.Theremin.FreqMax)
	}
	if !cfg.Keys.Enabled || cfg.Keys.MIDIMode != "mock" {
		t.Fatalf("expected keys overrides, got %+v", cfg.Keys)
	}
	if cfg.Keys.ScaleStepMS != 120 {
		t.Fatalf("expected scale step override, got %d", cfg.Keys.ScaleStepMS)
	}
}

func TestValidateRejectsBadSynth(t *testing.T) {
	t.Setenv("HANDSYNTH_SYNTH_BACKEND", "alsa")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown synth backend")
	}
}
