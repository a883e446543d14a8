// Package audiosink drives the oscillator bank from the device side: the
// sink pulls fixed-size blocks at the configured sample rate and plays
// them. Synthesis state never lives here.
package audiosink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/handsfree-audio/handsynth/internal/config"
)

// Renderer produces exactly the requested number of mono samples and never
// fails; it is the bank's pull contract.
type Renderer interface {
	RenderBlock(frames int) []float32
}

// Sink plays rendered blocks until closed.
type Sink interface {
	Start() error
	Close() error
}

var (
	renderMetricsOnce sync.Once
	blocksRendered    metric.Int64Counter
)

// New selects a backend by config mode: "oto" opens a real output device,
// "null" renders on a wall-clock pace and discards the samples. Failing to
// open the device is a startup failure, not something to limp past.
func New(cfg config.SynthConfig, r Renderer, log *slog.Logger) (Sink, error) {
	renderMetricsOnce.Do(func() {
		if c, err := otel.Meter("handsynth/audiosink").Int64Counter("handsynth.blocks_rendered_total"); err == nil {
			blocksRendered = c
		}
	})
	switch cfg.Backend {
	case "oto":
		return newOtoSink(cfg, r, log)
	case "null":
		return newNullSink(cfg, r, log), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// nullSink keeps the render cadence alive without a device. Useful for
// headless hosts and tests; the theremin pipeline stays fully exercised up
// to the final write.
type nullSink struct {
	cfg  config.SynthConfig
	r    Renderer
	log  *slog.Logger
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newNullSink(cfg config.SynthConfig, r Renderer, log *slog.Logger) *nullSink {
	return &nullSink{
		cfg:  cfg,
		r:    r,
		log:  log.With(slog.String("component", "audiosink")),
		done: make(chan struct{}),
	}
}

func (s *nullSink) Start() error {
	period := time.Duration(s.cfg.BlockFrames) * time.Second / time.Duration(s.cfg.SampleRate)
	if period <= 0 {
		period = time.Millisecond
	}
	s.log.Info("null audio backend started",
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("block_frames", s.cfg.BlockFrames))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				renderGuarded(s.r, s.cfg.BlockFrames, s.log)
			}
		}
	}()
	return nil
}

func (s *nullSink) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// renderGuarded isolates the render path: a fault inside a block degrades
// to silence for that block instead of propagating into the device
// callback, which has no safe place to report upward.
func renderGuarded(r Renderer, frames int, log *slog.Logger) (out []float32) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("render fault, emitting silence", slog.Any("panic", rec))
			out = make([]float32, frames)
		}
	}()
	out = r.RenderBlock(frames)
	if blocksRendered != nil {
		blocksRendered.Add(context.Background(), 1)
	}
	if len(out) != frames {
		log.Error("short render block, emitting silence",
			slog.Int("want", frames), slog.Int("got", len(out)))
		return make([]float32, frames)
	}
	return out
}
