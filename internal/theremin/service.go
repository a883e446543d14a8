// Package theremin bridges the detection cadence onto the audio cadence:
// it consumes hand frames from the bus, maps them through the chord
// policy, and publishes the result into the control channel. The audio
// side never sees the bus; it only snapshots the channel.
package theremin

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/handsfree-audio/handsynth/internal/bus"
	"github.com/handsfree-audio/handsynth/internal/config"
	"github.com/handsfree-audio/handsynth/internal/control"
	"github.com/handsfree-audio/handsynth/internal/protocol"
	"github.com/handsfree-audio/handsynth/internal/synth"
)

type Service struct {
	cfg    config.ThereminConfig
	bus    *bus.Client
	mapper *synth.Mapper
	ctrl   *control.Channel
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	framesSeen    metric.Int64Counter
	framesDropped metric.Int64Counter
}

func NewService(parent context.Context, cfg config.ThereminConfig, busClient *bus.Client, ctrl *control.Channel, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		mapper: synth.NewMapper(cfg),
		ctrl:   ctrl,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "theremin-service")),
	}

	meter := otel.Meter("handsynth/theremin")
	if c, err := meter.Int64Counter("handsynth.hand_frames_total"); err == nil {
		s.framesSeen = c
	}
	if c, err := meter.Int64Counter("handsynth.hand_frames_dropped_total"); err == nil {
		s.framesDropped = c
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectHandFrame, s.handleFrame)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	// Whatever was sounding falls silent once the detector goes away.
	s.ctrl.Publish(control.State{})
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

// handleFrame runs on the subscription's dispatch goroutine. A slow or
// bursty detector only ever overwrites the channel slot; the audio thread
// is never waited on.
func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.HandFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode hand frame", slogError(err))
		if s.framesDropped != nil {
			s.framesDropped.Add(s.ctx, 1)
		}
		return
	}
	if s.framesSeen != nil {
		s.framesSeen.Add(s.ctx, 1)
	}

	state := s.mapper.Map(synth.Frame{
		Detected:    frame.Detected,
		FingerCount: frame.FingerCount,
		X:           frame.X,
		Y:           frame.Y,
	})
	s.ctrl.Publish(state)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
