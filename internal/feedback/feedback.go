// Package feedback posts short status lines back into chat, rate limited
// so command floods do not turn the bot into a spammer.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// ChatSender posts one message into the broadcaster's chat. The REST
// client is the primary implementation; the IRC source is the fallback.
type ChatSender interface {
	SendChat(ctx context.Context, text string) error
}

// Settings controls whether and how often feedback is posted.
type Settings struct {
	Enabled            bool
	MinInterval        time.Duration
	ShowApprovalStatus bool
}

// Service sends templated feedback. Bursts beyond the global rate limit
// are dropped, never queued.
type Service struct {
	sender   ChatSender
	fallback ChatSender
	settings Settings
	limiter  *rate.Limiter
	logger   *logger.Logger
}

// NewService creates the feedback service. fallback may be nil.
func NewService(sender, fallback ChatSender, settings Settings, log *logger.Logger) *Service {
	if settings.MinInterval <= 0 {
		settings.MinInterval = 3 * time.Second
	}
	return &Service{
		sender:   sender,
		fallback: fallback,
		settings: settings,
		limiter:  rate.NewLimiter(rate.Every(settings.MinInterval), 1),
		logger:   log.WithComponent("chat_feedback"),
	}
}

// send applies the enable flag and the global limiter, then posts.
func (s *Service) send(ctx context.Context, text string) {
	if !s.settings.Enabled {
		return
	}
	if !s.limiter.Allow() {
		s.logger.Debug("feedback dropped by rate limit", slog.String("text", text))
		return
	}

	if err := s.sender.SendChat(ctx, text); err != nil {
		s.logger.Warn("feedback send failed", slog.String("error", err.Error()))
		if s.fallback == nil {
			return
		}
		if err := s.fallback.SendChat(ctx, text); err != nil {
			s.logger.Warn("feedback fallback send failed", slog.String("error", err.Error()))
		}
	}
}

// ClipNotFound tells the requester their clip reference resolved to nothing.
func (s *Service) ClipNotFound(ctx context.Context, requester, identifier string) {
	s.send(ctx, fmt.Sprintf("@%s couldn't find that clip (%s).", requester, identifier))
}

// SearchNoResults reports an empty fuzzy search.
func (s *Service) SearchNoResults(ctx context.Context, requester, broadcaster, terms string) {
	s.send(ctx, fmt.Sprintf("@%s no clips of %s matched \"%s\".", requester, broadcaster, terms))
}

// ShoutoutNoClips reports a shoutout target with no usable clips.
func (s *Service) ShoutoutNoClips(ctx context.Context, target string) {
	s.send(ctx, fmt.Sprintf("No clips found for %s, so no clip this time. Go follow them anyway!", target))
}

// AwaitingApproval announces a pending moderator decision.
func (s *Service) AwaitingApproval(ctx context.Context, requester string, clip twitch.Clip, approvalID string) {
	if !s.settings.ShowApprovalStatus {
		return
	}
	s.send(ctx, fmt.Sprintf("Mods: @%s wants to play \"%s\" (%ds). !approve %s or !deny %s",
		requester, clip.Title, clip.DurationSeconds, approvalID, approvalID))
}

// ApprovalTimeout tells the requester nobody answered in time.
func (s *Service) ApprovalTimeout(ctx context.Context, requester string) {
	if !s.settings.ShowApprovalStatus {
		return
	}
	s.send(ctx, fmt.Sprintf("@%s no mod responded in time, clip not played.", requester))
}

// ApprovalDenied tells the requester a moderator said no.
func (s *Service) ApprovalDenied(ctx context.Context, requester string) {
	if !s.settings.ShowApprovalStatus {
		return
	}
	s.send(ctx, fmt.Sprintf("@%s a mod denied that clip.", requester))
}

// WarnUnauthorizedResponder tells a non-mod their approval vote is ignored.
func (s *Service) WarnUnauthorizedResponder(login string) {
	s.send(context.Background(), fmt.Sprintf("@%s only mods can approve or deny clips.", login))
}

// GenericError reports an unexpected failure without leaking detail.
func (s *Service) GenericError(ctx context.Context, requester string) {
	s.send(ctx, fmt.Sprintf("@%s something went wrong, try again in a moment.", requester))
}

// Announce posts an arbitrary line, used by the shoutout template path.
func (s *Service) Announce(ctx context.Context, text string) {
	s.send(ctx, text)
}
