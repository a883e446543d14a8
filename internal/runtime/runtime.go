// Package runtime assembles the daemon: telemetry, the bus, the event
// store, the synthesis pipeline, and the two instrument services, with a
// shutdown sequence that silences output before tearing the stack down.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/handsfree-audio/handsynth/internal/audiosink"
	"github.com/handsfree-audio/handsynth/internal/bus"
	"github.com/handsfree-audio/handsynth/internal/config"
	"github.com/handsfree-audio/handsynth/internal/control"
	"github.com/handsfree-audio/handsynth/internal/eventstore"
	"github.com/handsfree-audio/handsynth/internal/keys"
	"github.com/handsfree-audio/handsynth/internal/midiout"
	"github.com/handsfree-audio/handsynth/internal/natsserver"
	"github.com/handsfree-audio/handsynth/internal/synth"
	"github.com/handsfree-audio/handsynth/internal/theremin"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	metricsServer  *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled, then
// shuts the pipeline down in order: command intake first, pending
// note-offs next, the audio device after that, shared infrastructure last.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	sessionID := fmt.Sprintf("session-%s", time.Now().UTC().Format("20060102-150405"))
	if err := store.BeginSession(ctx, sessionID, r.cfg.RuntimeName); err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}

	ctrl := control.NewChannel(r.cfg.Synth.DefaultVolume)
	bank := synth.NewBank(ctrl, r.cfg.Synth)

	sink, err := audiosink.New(r.cfg.Synth, bank, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audio sink: %w", err)
	}
	if err := sink.Start(); err != nil {
		return fmt.Errorf("failed to start audio sink: %w", err)
	}
	defer sink.Close()

	thereminSvc := theremin.NewService(ctx, r.cfg.Theremin, busClient, ctrl, r.logger)
	if err := thereminSvc.Start(); err != nil {
		return fmt.Errorf("failed to start theremin service: %w", err)
	}
	defer thereminSvc.Close()

	var keysSvc *keys.Service
	if r.cfg.Keys.Enabled {
		port, err := midiout.Open(r.cfg.Keys, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open midi output: %w", err)
		}
		defer port.Close()

		keysSvc, err = keys.NewService(ctx, r.cfg.Keys, busClient, store, port, sessionID, r.logger)
		if err != nil {
			return fmt.Errorf("failed to create keys service: %w", err)
		}
		if err := keysSvc.Start(); err != nil {
			return fmt.Errorf("failed to start keys service: %w", err)
		}
		defer keysSvc.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("session_id", sessionID),
		slog.Bool("theremin", r.cfg.Theremin.Enabled),
		slog.Bool("keys", r.cfg.Keys.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
