package feedback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

type recordingSender struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (r *recordingSender) SendChat(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func newTestService(sender, fallback ChatSender, settings Settings) *Service {
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewService(sender, fallback, settings, log)
}

func TestSendTemplates(t *testing.T) {
	sender := &recordingSender{}
	s := newTestService(sender, nil, Settings{
		Enabled:            true,
		MinInterval:        time.Nanosecond,
		ShowApprovalStatus: true,
	})
	ctx := context.Background()

	s.ClipNotFound(ctx, "viewer", "BadSlug")
	s.SearchNoResults(ctx, "viewer", "streamerx", "epic block")
	s.AwaitingApproval(ctx, "viewer", twitch.Clip{Title: "Epic Block Steal", DurationSeconds: 27}, "a1b2c3d4")
	s.ApprovalDenied(ctx, "viewer")

	msgs := sender.messages()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[0], "@viewer")
	assert.Contains(t, msgs[0], "BadSlug")
	assert.Contains(t, msgs[2], "Epic Block Steal")
	assert.Contains(t, msgs[2], "!approve a1b2c3d4")
	assert.Contains(t, msgs[2], "27s")
}

func TestBurstsAreDroppedNotQueued(t *testing.T) {
	sender := &recordingSender{}
	s := newTestService(sender, nil, Settings{Enabled: true, MinInterval: time.Hour})
	ctx := context.Background()

	for range 5 {
		s.GenericError(ctx, "viewer")
	}
	assert.Len(t, sender.messages(), 1, "only the first message inside the interval goes out")
}

func TestDisabledSendsNothing(t *testing.T) {
	sender := &recordingSender{}
	s := newTestService(sender, nil, Settings{Enabled: false, MinInterval: time.Nanosecond})

	s.ClipNotFound(context.Background(), "viewer", "slug")
	assert.Empty(t, sender.messages())
}

func TestApprovalStatusToggle(t *testing.T) {
	sender := &recordingSender{}
	s := newTestService(sender, nil, Settings{
		Enabled:            true,
		MinInterval:        time.Nanosecond,
		ShowApprovalStatus: false,
	})
	ctx := context.Background()

	s.AwaitingApproval(ctx, "viewer", twitch.Clip{Title: "t"}, "a1b2c3d4")
	s.ApprovalTimeout(ctx, "viewer")
	s.ApprovalDenied(ctx, "viewer")
	assert.Empty(t, sender.messages())

	// Non-approval feedback still flows.
	s.ClipNotFound(ctx, "viewer", "slug")
	assert.Len(t, sender.messages(), 1)
}

func TestFallbackUsedWhenPrimaryFails(t *testing.T) {
	primary := &recordingSender{err: errors.New("rest down")}
	fallback := &recordingSender{}
	s := newTestService(primary, fallback, Settings{Enabled: true, MinInterval: time.Nanosecond})

	s.GenericError(context.Background(), "viewer")
	assert.Empty(t, primary.messages())
	assert.Len(t, fallback.messages(), 1)
}
