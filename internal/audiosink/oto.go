package audiosink

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/handsfree-audio/handsynth/internal/config"
)

// otoSink plays through ebitengine/oto. The player pulls from Read on its
// own goroutine; Read renders whole blocks and encodes them as little-
// endian float32, so block size is whatever the device asks for.
type otoSink struct {
	cfg    config.SynthConfig
	r      Renderer
	log    *slog.Logger
	ctx    *oto.Context
	player *oto.Player
	mu     sync.Mutex
}

func newOtoSink(cfg config.SynthConfig, r Renderer, log *slog.Logger) (*otoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	s := &otoSink{
		cfg: cfg,
		r:   r,
		log: log.With(slog.String("component", "audiosink")),
		ctx: ctx,
	}
	s.player = ctx.NewPlayer(s)
	return s, nil
}

func (s *otoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return fmt.Errorf("audio sink closed")
	}
	s.player.Play()
	s.log.Info("audio output started",
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.String("format", "float32le mono"))
	return nil
}

// Read is the device callback path. It must always fill p completely and
// must never fail: the contract with the player is exactly frameCount
// samples per request, silence on internal fault.
func (s *otoSink) Read(p []byte) (int, error) {
	frames := len(p) / 4
	samples := renderGuarded(s.r, frames, s.log)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	// Zero any trailing bytes that do not form a whole sample.
	for i := frames * 4; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (s *otoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}
