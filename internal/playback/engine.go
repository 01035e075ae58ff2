package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angrmgmt/cliparino/internal/health"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// State is the engine's position in the playback lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateCooldown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateCooldown:
		return "cooldown"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// quarantineThreshold is the failure count at which a clip id is
	// skipped for the rest of the process.
	quarantineThreshold = 3

	defaultCooldownDwell = 2 * time.Second
	defaultStopDwell     = time.Second
)

// OverlayController is the slice of the scene controller the engine uses.
// Every call is best-effort; a disconnected controller is not an error.
type OverlayController interface {
	IsConnected() bool
	ShowClip(ctx context.Context, clip twitch.Clip) error
	HideClip(ctx context.Context) error
}

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdStop
)

// Engine drains an unbounded command channel and serializes all state
// transitions under one mutex. Producers never block; ordering is the
// channel's. A Stop interrupts the in-flight duration sleep immediately.
type Engine struct {
	queue   *Queue
	overlay OverlayController
	health  *health.Reporter
	logger  *logger.Logger

	// commands is the unbounded Play/Stop channel: backlog plus wake.
	cmdMu     sync.Mutex
	backlog   []commandKind
	wake      chan struct{}
	interrupt chan struct{}

	mu          sync.Mutex
	state       State
	currentClip *twitch.Clip
	failures    map[string]int
	quarantined map[string]struct{}

	cooldownDwell time.Duration
	stopDwell     time.Duration
	durationOf    func(twitch.Clip) time.Duration

	playedTotal      prometheus.Counter
	quarantinedTotal prometheus.Counter
	stateGauge       prometheus.Gauge
}

// NewEngine creates a stopped engine; call Run to start it.
func NewEngine(queue *Queue, overlay OverlayController, reporter *health.Reporter, reg prometheus.Registerer, log *logger.Logger) *Engine {
	e := &Engine{
		queue:         queue,
		overlay:       overlay,
		health:        reporter,
		logger:        log.WithComponent("playback"),
		wake:          make(chan struct{}, 1),
		interrupt:     make(chan struct{}, 1),
		failures:      make(map[string]int),
		quarantined:   make(map[string]struct{}),
		cooldownDwell: defaultCooldownDwell,
		stopDwell:     defaultStopDwell,
		durationOf:    twitch.Clip.Duration,
		playedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cliparino_clips_played_total",
			Help: "Clips that reached the playing state.",
		}),
		quarantinedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cliparino_clips_quarantined_total",
			Help: "Clip ids quarantined after repeated playback failures.",
		}),
		stateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cliparino_playback_state",
			Help: "Current playback state (0 idle, 1 loading, 2 playing, 3 cooldown, 4 stopped).",
		}),
	}
	if reg != nil {
		reg.MustRegister(e.playedTotal, e.quarantinedTotal, e.stateGauge)
	}
	return e
}

// Enqueue adds a clip to the queue and posts a Play command.
func (e *Engine) Enqueue(clip twitch.Clip) {
	e.queue.Enqueue(clip)
	e.post(cmdPlay)
}

// Replay re-enqueues the last played clip. Returns false when nothing has
// played yet.
func (e *Engine) Replay() bool {
	clip, ok := e.queue.LastPlayed()
	if !ok {
		e.logger.Warn("replay requested with no prior playback")
		return false
	}
	e.Enqueue(clip)
	return true
}

// Stop posts a Stop command and interrupts any in-flight duration sleep.
func (e *Engine) Stop() {
	e.post(cmdStop)
	select {
	case e.interrupt <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentClip returns the clip in flight, if any.
func (e *Engine) CurrentClip() (twitch.Clip, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentClip == nil {
		return twitch.Clip{}, false
	}
	return *e.currentClip, true
}

// IsQuarantined reports whether a clip id is being skipped.
func (e *Engine) IsQuarantined(clipID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.quarantined[clipID]
	return ok
}

func (e *Engine) post(cmd commandKind) {
	e.cmdMu.Lock()
	e.backlog = append(e.backlog, cmd)
	e.cmdMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) next() (commandKind, bool) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	if len(e.backlog) == 0 {
		return 0, false
	}
	cmd := e.backlog[0]
	e.backlog = e.backlog[1:]
	return cmd, true
}

// Run drains commands until ctx is cancelled, then lands in Idle.
// Every iteration is contained; the engine never dies to a bad clip.
func (e *Engine) Run(ctx context.Context) error {
	e.health.SetStatus("playback", health.StatusHealthy, nil)

	for {
		cmd, ok := e.next()
		if !ok {
			select {
			case <-ctx.Done():
				e.shutdown()
				return ctx.Err()
			case <-e.wake:
				continue
			}
		}

		if ctx.Err() != nil {
			e.shutdown()
			return ctx.Err()
		}

		switch cmd {
		case cmdPlay:
			e.handlePlay(ctx)
		case cmdStop:
			e.handleStop(ctx)
		}
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.state = StateIdle
	e.currentClip = nil
	e.mu.Unlock()
	e.hideOverlay(context.Background())
}

// handlePlay runs one full Idle→Loading→Playing→Cooldown→Idle cycle, or
// the Stopped branch when interrupted.
func (e *Engine) handlePlay(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateIdle {
		// The clip stays queued; the cycle in flight self-posts Play.
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	clip, ok := e.queue.Dequeue()
	if !ok {
		return
	}

	if e.IsQuarantined(clip.ID) {
		e.logger.Warn("skipping quarantined clip",
			slog.String("clip_id", clip.ID),
			slog.String("clip_title", clip.Title))
		e.playNextIfQueued()
		return
	}

	e.setState(StateLoading, &clip)
	drainInterrupt(e.interrupt)

	if err := e.showOverlay(ctx, clip); err != nil {
		e.recordFailure(clip.ID, err)
		e.setState(StateIdle, nil)
		e.playNextIfQueued()
		return
	}

	e.setState(StatePlaying, &clip)
	e.queue.SetLastPlayed(clip)
	e.playedTotal.Inc()
	e.logger.Info("clip playing",
		slog.String("clip_id", clip.ID),
		slog.String("clip_title", clip.Title),
		slog.Duration("duration", e.durationOf(clip)))

	stopped, err := e.sleepPlaying(ctx, e.durationOf(clip))
	if err != nil {
		// Shutdown mid-clip; Run's next iteration lands in Idle.
		return
	}

	if stopped {
		e.enterStopped(ctx)
		return
	}

	e.mu.Lock()
	e.failures[clip.ID] = 0
	e.mu.Unlock()

	e.setState(StateCooldown, &clip)
	e.hideOverlay(ctx)

	if err := sleepCtx(ctx, e.cooldownDwell); err != nil {
		return
	}

	e.setState(StateIdle, nil)
	e.playNextIfQueued()
}

// handleStop handles a Stop drained from the channel while no clip is in
// flight. Stops during playback are handled inside sleepPlaying via the
// interrupt; by the time the queued Stop is drained the engine is Idle
// again and there is nothing to do.
func (e *Engine) handleStop(ctx context.Context) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == StateIdle {
		drainInterrupt(e.interrupt)
	}
}

// sleepPlaying waits out the clip duration. Returns stopped=true when a
// Stop interrupted the wait, or an error on shutdown.
func (e *Engine) sleepPlaying(ctx context.Context, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false, nil
	case <-e.interrupt:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// enterStopped runs Playing→Stopped→Idle with the 1 second dwell.
func (e *Engine) enterStopped(ctx context.Context) {
	e.mu.Lock()
	clip := e.currentClip
	e.mu.Unlock()

	e.setState(StateStopped, clip)
	e.hideOverlay(ctx)
	e.logger.Info("playback stopped")

	if err := sleepCtx(ctx, e.stopDwell); err != nil {
		return
	}

	e.setState(StateIdle, nil)
	e.playNextIfQueued()
}

func (e *Engine) playNextIfQueued() {
	if e.queue.Len() > 0 {
		e.post(cmdPlay)
	}
}

func (e *Engine) setState(state State, clip *twitch.Clip) {
	e.mu.Lock()
	from := e.state
	e.state = state
	if clip != nil {
		c := *clip
		e.currentClip = &c
	} else {
		e.currentClip = nil
	}
	e.mu.Unlock()

	e.stateGauge.Set(float64(state))
	e.logger.Debug("playback transition",
		slog.String("from", from.String()),
		slog.String("to", state.String()))
}

// recordFailure bumps the per-clip failure counter and quarantines the id
// at the threshold.
func (e *Engine) recordFailure(clipID string, err error) {
	e.mu.Lock()
	e.failures[clipID]++
	count := e.failures[clipID]
	quarantine := count >= quarantineThreshold
	if quarantine {
		e.quarantined[clipID] = struct{}{}
	}
	e.mu.Unlock()

	e.logger.Warn("playback failure",
		slog.String("clip_id", clipID),
		slog.Int("failure_count", count),
		slog.String("error", err.Error()))

	if quarantine {
		e.quarantinedTotal.Inc()
		e.health.RecordRepair("playback", fmt.Sprintf("quarantined clip %s after %d failures", clipID, count))
	}
}

// showOverlay points the browser source at the clip and makes it visible.
// A disconnected controller downgrades to a warning, not a failure.
func (e *Engine) showOverlay(ctx context.Context, clip twitch.Clip) error {
	if e.overlay == nil || !e.overlay.IsConnected() {
		e.logger.Warn("scene controller unavailable, playing without overlay",
			slog.String("clip_id", clip.ID))
		return nil
	}
	return e.overlay.ShowClip(ctx, clip)
}

func (e *Engine) hideOverlay(ctx context.Context) {
	if e.overlay == nil || !e.overlay.IsConnected() {
		return
	}
	if err := e.overlay.HideClip(ctx); err != nil {
		e.logger.Warn("hide overlay failed", slog.String("error", err.Error()))
	}
}

func drainInterrupt(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
