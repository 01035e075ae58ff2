// Package shoutout implements the !so command and the optional raid
// auto-shoutout: play a random clip of the target and announce them.
package shoutout

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// searchWindows are the widening lookback windows, in days, tried in
// order until the target has any clips.
var searchWindows = []int{1, 7, 30, 90, 365}

// PlatformClient is the slice of the helix client the service needs.
type PlatformClient interface {
	GetBroadcasterIDByName(ctx context.Context, login string) (string, error)
	GetClipsByBroadcaster(ctx context.Context, broadcasterID string, count int, startedAt, endedAt *time.Time) ([]twitch.Clip, error)
	GetChannelInfo(ctx context.Context, broadcasterID string) (twitch.ChannelInfo, error)
	SendShoutout(ctx context.Context, fromBroadcasterID, toBroadcasterID, moderatorID string) error
}

// Enqueuer hands the chosen clip to the playback engine.
type Enqueuer interface {
	Enqueue(clip twitch.Clip)
}

// Announcer posts the shoutout lines into chat.
type Announcer interface {
	Announce(ctx context.Context, text string)
	ShoutoutNoClips(ctx context.Context, target string)
}

// Settings mirrors the shoutout configuration section.
type Settings struct {
	MessageTemplate       string
	MessageEnabled        bool
	UseFeaturedClipsFirst bool
	MaxClipLength         time.Duration
	NativeShoutoutEnabled bool
	OnRaid                bool
}

// Service performs shoutouts for chat commands and raids.
type Service struct {
	client   PlatformClient
	engine   Enqueuer
	announce Announcer
	settings Settings
	// broadcasterID is the channel the daemon runs in; source of native
	// shoutouts.
	broadcasterID string
	logger        *logger.Logger
	now           func() time.Time
	pick          func(n int) int
}

// NewService creates the shoutout service.
func NewService(client PlatformClient, engine Enqueuer, announce Announcer, settings Settings, broadcasterID string, log *logger.Logger) *Service {
	if settings.MaxClipLength <= 0 {
		settings.MaxClipLength = 60 * time.Second
	}
	return &Service{
		client:        client,
		engine:        engine,
		announce:      announce,
		settings:      settings,
		broadcasterID: broadcasterID,
		logger:        log.WithComponent("shoutout"),
		now:           time.Now,
		pick:          rand.Intn,
	}
}

// Shoutout runs the full flow for a target username. Returns false when
// the target has no playable clip; chat announcements are best-effort
// and do not affect the result.
func (s *Service) Shoutout(ctx context.Context, targetUsername string) bool {
	target := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(targetUsername), "@"))
	if target == "" {
		return false
	}

	targetID, err := s.client.GetBroadcasterIDByName(ctx, target)
	if err != nil || targetID == "" {
		s.logger.Warn("shoutout target not found",
			slog.String("target", target))
		s.announce.ShoutoutNoClips(ctx, target)
		return false
	}

	clip, ok := s.pickClip(ctx, targetID)
	if !ok {
		s.logger.Info("no playable clips for shoutout target",
			slog.String("target", target))
		s.announce.ShoutoutNoClips(ctx, target)
		return false
	}

	s.engine.Enqueue(clip)
	s.logger.Info("shoutout clip enqueued",
		slog.String("target", target),
		slog.String("clip_id", clip.ID))

	if s.settings.MessageEnabled && s.settings.MessageTemplate != "" {
		s.announceTarget(ctx, targetID, clip)
	}

	if s.settings.NativeShoutoutEnabled {
		if err := s.client.SendShoutout(ctx, s.broadcasterID, targetID, s.broadcasterID); err != nil {
			s.logger.Warn("native shoutout failed", slog.String("error", err.Error()))
		}
	}
	return true
}

// OnRaid triggers an automatic shoutout for the raider when enabled.
func (s *Service) OnRaid(ctx context.Context, raid twitch.RaidEvent) {
	if !s.settings.OnRaid {
		return
	}
	s.logger.Info("raid received, shouting out raider",
		slog.String("raider", raid.RaiderLogin),
		slog.Int("viewers", raid.ViewerCount))
	s.Shoutout(ctx, raid.RaiderLogin)
}

// pickClip widens the lookback window until clips exist, filters to the
// length cap, optionally prefers featured, and picks uniformly.
func (s *Service) pickClip(ctx context.Context, targetID string) (twitch.Clip, bool) {
	for _, days := range searchWindows {
		endedAt := s.now()
		startedAt := endedAt.AddDate(0, 0, -days)
		clips, err := s.client.GetClipsByBroadcaster(ctx, targetID, 100, &startedAt, &endedAt)
		if err != nil {
			s.logger.Warn("clip fetch for shoutout failed",
				slog.Int("window_days", days),
				slog.String("error", err.Error()))
			continue
		}
		if len(clips) == 0 {
			continue
		}

		candidates := s.filter(clips)
		if len(candidates) == 0 {
			// Everything in this window is too long; widening the
			// window may find a shorter clip.
			continue
		}
		return candidates[s.pick(len(candidates))], true
	}
	return twitch.Clip{}, false
}

func (s *Service) filter(clips []twitch.Clip) []twitch.Clip {
	short := make([]twitch.Clip, 0, len(clips))
	for _, clip := range clips {
		if clip.Duration() <= s.settings.MaxClipLength {
			short = append(short, clip)
		}
	}
	if len(short) == 0 {
		return nil
	}

	if s.settings.UseFeaturedClipsFirst {
		featured := make([]twitch.Clip, 0, len(short))
		for _, clip := range short {
			if clip.Featured() {
				featured = append(featured, clip)
			}
		}
		if len(featured) > 0 {
			return featured
		}
	}
	return short
}

// announceTarget formats the message template and posts it.
func (s *Service) announceTarget(ctx context.Context, targetID string, clip twitch.Clip) {
	game := ""
	display := clip.BroadcasterDisplay
	if info, err := s.client.GetChannelInfo(ctx, targetID); err == nil {
		game = info.GameName
		if info.BroadcasterDisplay != "" {
			display = info.BroadcasterDisplay
		}
	} else {
		s.logger.Warn("channel info fetch failed", slog.String("error", err.Error()))
	}

	text := s.settings.MessageTemplate
	text = strings.ReplaceAll(text, "{channel}", "https://twitch.tv/"+clip.BroadcasterLogin)
	text = strings.ReplaceAll(text, "{broadcaster}", display)
	text = strings.ReplaceAll(text, "{game}", game)
	s.announce.Announce(ctx, text)
}
