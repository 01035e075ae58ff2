// Package approval gates viewer-requested searches behind a moderator
// yes/no with a disposable id.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// Settings controls when approval is demanded and how long it waits.
type Settings struct {
	Required bool
	Timeout  time.Duration
	// ExemptRoles names extra roles allowed to skip approval; broadcaster
	// and moderator are always exempt.
	ExemptRoles []string
}

// Notifier posts status lines into chat. Implemented by the feedback layer.
type Notifier interface {
	WarnUnauthorizedResponder(login string)
}

// pending is one live approval request. The decision channel is buffered so
// the responder never blocks even if the waiter already gave up.
type pending struct {
	requester twitch.ChatMessage
	clip      twitch.Clip
	expiresAt time.Time
	decision  chan bool
	once      sync.Once
}

func (p *pending) resolve(approved bool) {
	p.once.Do(func() { p.decision <- approved })
}

// Service owns the pending-approval table.
type Service struct {
	settings Settings
	notifier Notifier
	logger   *logger.Logger

	mu      sync.Mutex
	entries map[string]*pending
	now     func() time.Time
}

// NewService creates the approval service.
func NewService(settings Settings, notifier Notifier, log *logger.Logger) *Service {
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	return &Service{
		settings: settings,
		notifier: notifier,
		logger:   log.WithComponent("approval"),
		entries:  make(map[string]*pending),
		now:      time.Now,
	}
}

// Requires reports whether the message author needs moderator approval.
func (s *Service) Requires(msg twitch.ChatMessage) bool {
	if !s.settings.Required {
		return false
	}
	if msg.IsPrivileged() {
		return false
	}
	for _, role := range s.settings.ExemptRoles {
		switch strings.ToLower(role) {
		case "vip":
			if msg.IsVIP {
				return false
			}
		case "subscriber":
			if msg.IsSubscriber {
				return false
			}
		}
	}
	return true
}

// Open registers a new request and returns its id. The caller posts the
// chat notice and then calls Wait.
func (s *Service) Open(requester twitch.ChatMessage, clip twitch.Clip) string {
	id := newApprovalID()
	entry := &pending{
		requester: requester,
		clip:      clip,
		expiresAt: s.now().Add(s.settings.Timeout),
		decision:  make(chan bool, 1),
	}

	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()

	s.logger.Info("approval requested",
		slog.String("approval_id", id),
		slog.String("requester", requester.AuthorLogin),
		slog.String("clip_id", clip.ID),
		slog.String("clip_title", clip.Title))
	return id
}

// Outcome is how an approval wait ended.
type Outcome int

const (
	OutcomeApproved Outcome = iota
	OutcomeDenied
	OutcomeTimedOut
	OutcomeCancelled
)

// Approved reports whether the clip may play.
func (o Outcome) Approved() bool { return o == OutcomeApproved }

// Wait blocks until a moderator decides, the timeout passes, or ctx is
// cancelled, whichever comes first. The entry is always removed before
// returning.
func (s *Service) Wait(ctx context.Context, id string) Outcome {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return OutcomeDenied
	}
	defer s.remove(id)

	timer := time.NewTimer(s.settings.Timeout)
	defer timer.Stop()

	select {
	case approved := <-entry.decision:
		if approved {
			return OutcomeApproved
		}
		return OutcomeDenied
	case <-timer.C:
		s.logger.Info("approval timed out", slog.String("approval_id", id))
		return OutcomeTimedOut
	case <-ctx.Done():
		return OutcomeCancelled
	}
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// TryConsume inspects a chat message for an !approve/!deny response. It
// returns true when the message was an approval response and must not be
// parsed as a command, regardless of whether it changed anything.
func (s *Service) TryConsume(msg twitch.ChatMessage) bool {
	fields := strings.Fields(msg.Text)
	if len(fields) < 2 {
		return false
	}

	var approved bool
	switch strings.ToLower(fields[0]) {
	case "!approve":
		approved = true
	case "!deny":
		approved = false
	default:
		return false
	}
	id := strings.ToLower(fields[1])

	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("approval response for unknown id",
			slog.String("approval_id", id),
			slog.String("responder", msg.AuthorLogin))
		return true
	}

	if !msg.IsPrivileged() {
		s.logger.Warn("unauthorized approval responder",
			slog.String("approval_id", id),
			slog.String("responder", msg.AuthorLogin))
		if s.notifier != nil {
			s.notifier.WarnUnauthorizedResponder(msg.DisplayOrLogin())
		}
		return true
	}

	if s.now().After(entry.expiresAt) {
		s.logger.Debug("approval response after expiry", slog.String("approval_id", id))
		return true
	}

	entry.resolve(approved)
	s.logger.Info("approval resolved",
		slog.String("approval_id", id),
		slog.String("responder", msg.AuthorLogin),
		slog.Bool("approved", approved))
	return true
}

// Pending returns the number of live requests. Diagnostics only.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// newApprovalID returns a short disposable id moderators can type back.
func newApprovalID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:4])
}
