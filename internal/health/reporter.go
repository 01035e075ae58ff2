// Package health tracks per-component status for the supervisors and the
// diagnostics endpoint.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angrmgmt/cliparino/internal/logger"
)

// Status is the coarse health of a named component.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// maxRepairHistory bounds the repair-action log per component.
const maxRepairHistory = 20

// RepairAction is a timestamped note about an automatic repair.
type RepairAction struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
}

// ComponentHealth is a snapshot of one component's state.
type ComponentHealth struct {
	Status        Status         `json:"status"`
	LastError     string         `json:"last_error,omitempty"`
	LastChecked   time.Time      `json:"last_checked"`
	RepairHistory []RepairAction `json:"repair_history,omitempty"`
}

// Reporter is a thread-safe registry of component health. All long-running
// subsystems write to it; the diagnostics endpoint and metrics read it.
type Reporter struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	listeners  []func(component string, h ComponentHealth)
	logger     *logger.Logger

	statusGauge  *prometheus.GaugeVec
	repairsTotal *prometheus.CounterVec
}

// NewReporter creates a reporter and registers its metrics.
func NewReporter(log *logger.Logger, reg prometheus.Registerer) *Reporter {
	r := &Reporter{
		components: make(map[string]*ComponentHealth),
		logger:     log.WithComponent("health"),
		statusGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cliparino_component_health",
			Help: "Component health status (0 unknown, 1 healthy, 2 degraded, 3 unhealthy).",
		}, []string{"component"}),
		repairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliparino_component_repairs_total",
			Help: "Automatic repair actions recorded per component.",
		}, []string{"component"}),
	}
	if reg != nil {
		reg.MustRegister(r.statusGauge, r.repairsTotal)
	}
	return r
}

// OnChange registers a listener invoked on every status change.
// Listeners run synchronously under no lock; they must be fast.
func (r *Reporter) OnChange(fn func(component string, h ComponentHealth)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SetStatus records a component's status, firing listeners when it changed.
func (r *Reporter) SetStatus(component string, status Status, lastErr error) {
	r.mu.Lock()
	h, ok := r.components[component]
	if !ok {
		h = &ComponentHealth{}
		r.components[component] = h
	}
	changed := h.Status != status
	h.Status = status
	h.LastChecked = time.Now().UTC()
	if lastErr != nil {
		h.LastError = lastErr.Error()
	} else {
		h.LastError = ""
	}
	snapshot := cloneHealth(h)
	listeners := r.listeners
	r.mu.Unlock()

	r.statusGauge.WithLabelValues(component).Set(float64(status))

	if status != StatusHealthy {
		r.logger.Warn("component not healthy",
			slog.String("health_component", component),
			slog.String("status", status.String()),
			slog.String("last_error", snapshot.LastError))
	}

	if changed {
		for _, fn := range listeners {
			fn(component, snapshot)
		}
	}
}

// RecordRepair appends a repair action to the component's bounded history.
func (r *Reporter) RecordRepair(component, action string) {
	r.mu.Lock()
	h, ok := r.components[component]
	if !ok {
		h = &ComponentHealth{}
		r.components[component] = h
	}
	h.RepairHistory = append(h.RepairHistory, RepairAction{At: time.Now().UTC(), Action: action})
	if len(h.RepairHistory) > maxRepairHistory {
		h.RepairHistory = h.RepairHistory[len(h.RepairHistory)-maxRepairHistory:]
	}
	r.mu.Unlock()

	r.repairsTotal.WithLabelValues(component).Inc()
	r.logger.Info("repair action recorded",
		slog.String("health_component", component),
		slog.String("action", action))
}

// Get returns a snapshot of one component, or ok=false if never reported.
func (r *Reporter) Get(component string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.components[component]
	if !ok {
		return ComponentHealth{}, false
	}
	return cloneHealth(h), true
}

// Snapshot returns a copy of all component states.
func (r *Reporter) Snapshot() map[string]ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ComponentHealth, len(r.components))
	for name, h := range r.components {
		out[name] = cloneHealth(h)
	}
	return out
}

func cloneHealth(h *ComponentHealth) ComponentHealth {
	out := *h
	out.RepairHistory = append([]RepairAction(nil), h.RepairHistory...)
	return out
}
