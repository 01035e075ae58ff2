package events

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/angrmgmt/cliparino/internal/backoff"
	"github.com/angrmgmt/cliparino/internal/health"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// Handler consumes events from the coordinator. It runs on the
// coordinator's goroutine; slow handlers stall ingestion.
type Handler interface {
	HandleEvent(ctx context.Context, ev twitch.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev twitch.Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, ev twitch.Event) { f(ctx, ev) }

// Coordinator owns the connection lifecycle of both event sources. It
// prefers the websocket source; once a websocket connect fails it drops
// to IRC for the remainder of the process. Stream death triggers a
// reconnect of the active source with exponential backoff.
type Coordinator struct {
	primary  Source
	fallback Source
	handler  Handler
	policy   backoff.Policy
	health   *health.Reporter
	logger   *logger.Logger

	usingFallback bool
}

// NewCoordinator wires the two sources to a handler.
func NewCoordinator(primary, fallback Source, handler Handler, reporter *health.Reporter, log *logger.Logger) *Coordinator {
	return &Coordinator{
		primary:  primary,
		fallback: fallback,
		handler:  handler,
		policy:   backoff.Default(),
		health:   reporter,
		logger:   log.WithComponent("event_coordinator"),
	}
}

// Run connects and pumps events until ctx is cancelled. It only returns
// on cancellation; connection failures are retried forever.
func (c *Coordinator) Run(ctx context.Context) error {
	attempt := 0
	for {
		source, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.health.SetStatus("chat_events", health.StatusUnhealthy, err)
			if err := c.sleep(ctx, attempt); err != nil {
				return err
			}
			attempt++
			continue
		}

		attempt = 0
		c.health.SetStatus("chat_events", c.currentStatus(), nil)
		srcLog := c.logger.WithFields(map[string]interface{}{"source": source.Name()})
		srcLog.Info("event source connected")

		c.pump(ctx, source)

		source.Disconnect()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		srcLog.Warn("event stream ended, reconnecting")
		c.health.SetStatus("chat_events", health.StatusDegraded, nil)
		if err := c.sleep(ctx, attempt); err != nil {
			return err
		}
		attempt++
	}
}

// connect picks a source and connects it. A websocket failure switches to
// the fallback permanently; the fallback's own failures just bubble up to
// the retry loop.
func (c *Coordinator) connect(ctx context.Context) (Source, error) {
	if !c.usingFallback {
		if err := c.primary.Connect(ctx); err == nil {
			return c.primary, nil
		} else {
			c.logger.Warn("primary source connect failed, switching to fallback",
				slog.String("source", c.primary.Name()),
				slog.String("error", err.Error()))
			c.usingFallback = true
			c.health.RecordRepair("chat_events", "failover to "+c.fallback.Name())
		}
	}

	if err := c.fallback.Connect(ctx); err != nil {
		return nil, err
	}
	return c.fallback, nil
}

// currentStatus is Healthy on the preferred source and Degraded once the
// process is living on the fallback.
func (c *Coordinator) currentStatus() health.Status {
	if c.usingFallback {
		return health.StatusDegraded
	}
	return health.StatusHealthy
}

// pump delivers events until the source's channel closes or ctx ends.
func (c *Coordinator) pump(ctx context.Context, source Source) {
	events := source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.dispatch(ctx, ev)
		}
	}
}

// dispatch invokes the handler behind a panic boundary so one bad event
// cannot take down ingestion.
func (c *Coordinator) dispatch(ctx context.Context, ev twitch.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	c.handler.HandleEvent(ctx, ev)
}

func (c *Coordinator) sleep(ctx context.Context, attempt int) error {
	delay := c.policy.Delay(attempt)
	c.logger.Debug("reconnect backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
