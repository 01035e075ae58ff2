package health

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/angrmgmt/cliparino/internal/logger"
)

func newTestReporter() *Reporter {
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewReporter(log, prometheus.NewRegistry())
}

func TestSetStatusAndGet(t *testing.T) {
	r := newTestReporter()

	r.SetStatus("obs", StatusHealthy, nil)

	h, ok := r.Get("obs")
	assert.True(t, ok)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Empty(t, h.LastError)
	assert.False(t, h.LastChecked.IsZero())
}

func TestStatusChangeFiresListener(t *testing.T) {
	r := newTestReporter()

	var fired []Status
	r.OnChange(func(component string, h ComponentHealth) {
		fired = append(fired, h.Status)
	})

	r.SetStatus("eventsub", StatusHealthy, nil)
	r.SetStatus("eventsub", StatusHealthy, nil) // no change, no event
	r.SetStatus("eventsub", StatusUnhealthy, errors.New("socket closed"))

	assert.Equal(t, []Status{StatusHealthy, StatusUnhealthy}, fired)

	h, _ := r.Get("eventsub")
	assert.Equal(t, "socket closed", h.LastError)
}

func TestRepairHistoryBounded(t *testing.T) {
	r := newTestReporter()

	for i := 0; i < maxRepairHistory+7; i++ {
		r.RecordRepair("obs", fmt.Sprintf("repair %d", i))
	}

	h, _ := r.Get("obs")
	assert.Len(t, h.RepairHistory, maxRepairHistory)
	// Oldest entries were dropped.
	assert.Equal(t, "repair 7", h.RepairHistory[0].Action)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestReporter()
	r.SetStatus("irc", StatusDegraded, nil)

	snap := r.Snapshot()
	snap["irc"] = ComponentHealth{Status: StatusHealthy}

	h, _ := r.Get("irc")
	assert.Equal(t, StatusDegraded, h.Status)
}
