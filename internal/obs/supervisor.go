package obs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/angrmgmt/cliparino/internal/backoff"
	"github.com/angrmgmt/cliparino/internal/config"
	"github.com/angrmgmt/cliparino/internal/health"
	"github.com/angrmgmt/cliparino/internal/logger"
)

const (
	healthComponent = "obs"

	// maxReconnectAttempts bounds one reconnect burst after a drop. The
	// initial connect loop at startup is unbounded.
	maxReconnectAttempts = 10

	driftCheckSpec = "* * * * *"
)

// connector is the client surface the supervisor drives.
type connector interface {
	Connect(ctx context.Context, host string, port int, password string) error
	Disconnect() error
	IsConnected() bool
	OnDisconnect(fn func())
}

// Supervisor keeps the compositor connection alive and the scene
// configuration converged. One long-running task per process.
type Supervisor struct {
	client     connector
	controller *Controller
	cfg        config.OBSConfig
	policy     backoff.Policy
	health     *health.Reporter
	logger     *logger.Logger

	disconnects chan struct{}
}

// NewSupervisor wires the supervisor to a client and controller.
func NewSupervisor(client connector, controller *Controller, cfg config.OBSConfig, reporter *health.Reporter, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		client:      client,
		controller:  controller,
		cfg:         cfg,
		policy:      backoff.Default(),
		health:      reporter,
		logger:      log.WithComponent("obs_supervisor"),
		disconnects: make(chan struct{}, 1),
	}
	client.OnDisconnect(s.notifyDisconnect)
	return s
}

func (s *Supervisor) notifyDisconnect() {
	select {
	case s.disconnects <- struct{}{}:
	default:
	}
}

// Run connects, converges the scene, and supervises until ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.connectForever(ctx); err != nil {
		return err
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(driftCheckSpec, func() { s.driftCheck(ctx) }); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			s.client.Disconnect()
			return ctx.Err()
		case <-s.disconnects:
			s.logger.Warn("obs connection lost, reconnecting")
			s.health.SetStatus(healthComponent, health.StatusDegraded, nil)
			if !s.reconnect(ctx) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Cap exceeded; the supervisor parks until shutdown.
				<-ctx.Done()
				return ctx.Err()
			}
		}
	}
}

// connectForever retries the initial connect until it succeeds or ctx ends.
func (s *Supervisor) connectForever(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := s.client.Connect(ctx, s.cfg.Host, s.cfg.Port, s.cfg.Password)
		if err == nil {
			s.converge(ctx)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.health.SetStatus(healthComponent, health.StatusUnhealthy, err)
		s.logger.Warn("obs connect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if err := s.sleep(ctx, attempt); err != nil {
			return err
		}
	}
}

// reconnect runs one bounded reconnect burst. Returns false when the cap
// is exceeded.
func (s *Supervisor) reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if err := s.sleep(ctx, attempt); err != nil {
			return false
		}
		err := s.client.Connect(ctx, s.cfg.Host, s.cfg.Port, s.cfg.Password)
		if err == nil {
			s.health.RecordRepair(healthComponent, "reconnected to obs")
			s.converge(ctx)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.logger.Warn("obs reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	s.logger.Error("obs reconnect attempts exhausted",
		slog.Int("attempts", maxReconnectAttempts))
	s.health.SetStatus(healthComponent, health.StatusUnhealthy, nil)
	return false
}

// converge enforces the desired scene state after any (re)connect.
func (s *Supervisor) converge(ctx context.Context) {
	if err := s.controller.EnsureClipSceneAndSourceExists(ctx); err != nil {
		s.logger.Error("scene convergence failed", slog.String("error", err.Error()))
		s.health.SetStatus(healthComponent, health.StatusDegraded, err)
		return
	}
	s.health.SetStatus(healthComponent, health.StatusHealthy, nil)
}

// driftCheck runs on the minute tick while connected.
func (s *Supervisor) driftCheck(ctx context.Context) {
	if !s.client.IsConnected() {
		return
	}

	drifted, err := s.controller.CheckConfigurationDrift(ctx)
	if err != nil {
		s.logger.Warn("drift check failed", slog.String("error", err.Error()))
		return
	}
	if !drifted {
		return
	}

	s.logger.Info("configuration drift detected, repairing")
	if err := s.controller.EnsureClipSceneAndSourceExists(ctx); err != nil {
		s.logger.Error("drift repair failed", slog.String("error", err.Error()))
		s.health.SetStatus(healthComponent, health.StatusDegraded, err)
		return
	}
	if err := s.controller.RefreshBrowserSource(ctx, s.cfg.SourceName); err != nil {
		s.logger.Warn("browser source refresh failed", slog.String("error", err.Error()))
	}
	s.health.RecordRepair(healthComponent, "repaired configuration drift")
	s.health.SetStatus(healthComponent, health.StatusHealthy, nil)
}

func (s *Supervisor) sleep(ctx context.Context, attempt int) error {
	delay := s.policy.Delay(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
