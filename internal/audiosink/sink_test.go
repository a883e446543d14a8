package audiosink

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/handsfree-audio/handsynth/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type panicRenderer struct{}

func (panicRenderer) RenderBlock(frames int) []float32 { panic("render fault") }

type shortRenderer struct{}

func (shortRenderer) RenderBlock(frames int) []float32 { return make([]float32, frames/2) }

type countingRenderer struct{ calls chan int }

func (c *countingRenderer) RenderBlock(frames int) []float32 {
	select {
	case c.calls <- frames:
	default:
	}
	return make([]float32, frames)
}

func TestRenderGuardedRecoversToSilence(t *testing.T) {
	out := renderGuarded(panicRenderer{}, 256, discardLogger())
	if len(out) != 256 {
		t.Fatalf("expected full block after panic, got %d frames", len(out))
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("expected silence after panic, sample %d is %v", i, s)
		}
	}
}

func TestRenderGuardedPadsShortBlocks(t *testing.T) {
	out := renderGuarded(shortRenderer{}, 256, discardLogger())
	if len(out) != 256 {
		t.Fatalf("expected exactly 256 frames, got %d", len(out))
	}
}

func TestNullSinkPullsBlocks(t *testing.T) {
	cfg := config.Default().Synth
	cfg.Backend = "null"
	cfg.SampleRate = 44100
	cfg.BlockFrames = 64 // ~1.5ms blocks so the test finishes quickly

	r := &countingRenderer{calls: make(chan int, 1)}
	sink, err := New(cfg, r, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	select {
	case frames := <-r.calls:
		if frames != 64 {
			t.Fatalf("expected 64-frame blocks, got %d", frames)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("null sink never pulled a block")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default().Synth
	cfg.Backend = "pulse"
	if _, err := New(cfg, &countingRenderer{calls: make(chan int, 1)}, discardLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
