package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angrmgmt/cliparino/internal/approval"
	"github.com/angrmgmt/cliparino/internal/auth"
	"github.com/angrmgmt/cliparino/internal/clipsearch"
	"github.com/angrmgmt/cliparino/internal/command"
	"github.com/angrmgmt/cliparino/internal/config"
	"github.com/angrmgmt/cliparino/internal/events"
	"github.com/angrmgmt/cliparino/internal/feedback"
	"github.com/angrmgmt/cliparino/internal/health"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/obs"
	"github.com/angrmgmt/cliparino/internal/playback"
	"github.com/angrmgmt/cliparino/internal/server"
	"github.com/angrmgmt/cliparino/internal/shoutout"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("daemon exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("daemon stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Every handler context carries the channel for log correlation.
	ctx = logger.WithChannel(ctx, cfg.BroadcasterLogin)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	reporter := health.NewReporter(log, registry)

	// Auth chain: encrypted store feeding the refresher feeding every
	// authenticated call.
	store := auth.NewStore(cfg.TokenFile, log)
	if !store.HasValidTokens() {
		return fmt.Errorf("no valid tokens in %s; run the authorization flow first", cfg.TokenFile)
	}
	refresher := auth.NewRefresher(store, cfg.TwitchClientID, cfg.TwitchClientSecret, log)

	helix := twitch.NewClient(twitch.ClientConfig{
		ClientID: cfg.TwitchClientID,
		Tokens:   refresher,
		Logger:   log,
	})

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	broadcasterID, err := helix.GetBroadcasterIDByName(startupCtx, cfg.BroadcasterLogin)
	if err != nil {
		return fmt.Errorf("resolve broadcaster %q: %w", cfg.BroadcasterLogin, err)
	}
	userID, err := helix.GetAuthenticatedUserID(startupCtx)
	if err != nil {
		return fmt.Errorf("resolve authenticated user: %w", err)
	}
	log.Info("identity resolved",
		slog.String("broadcaster_id", broadcasterID),
		slog.String("user_id", userID))

	// Event sources. The IRC source doubles as the feedback fallback.
	ircSource := events.NewIRCSource(events.IRCConfig{
		Nick:    cfg.BroadcasterLogin,
		Channel: cfg.BroadcasterLogin,
	}, refresher, log)
	wsSource := events.NewEventSubSource(events.EventSubConfig{
		BroadcasterID: broadcasterID,
		UserID:        userID,
	}, helix, log)

	fb := feedback.NewService(
		&restChatSender{helix: helix, broadcasterID: broadcasterID, senderID: userID},
		&ircChatSender{source: ircSource},
		feedback.Settings{
			Enabled:            cfg.ChatFeedback.Enabled,
			MinInterval:        time.Duration(cfg.ChatFeedback.MinIntervalSeconds * float64(time.Second)),
			ShowApprovalStatus: cfg.ChatFeedback.ShowApprovalStatus,
		}, log)

	// Scene control stack.
	obsClient := obs.NewClient(log)
	controller := obs.NewController(obsClient, cfg.OBS, cfg.Player.URL, log)
	supervisor := obs.NewSupervisor(obsClient, controller, cfg.OBS, reporter, log)

	// Playback.
	queue := playback.NewQueue()
	engine := playback.NewEngine(queue, controller, reporter, registry, log)

	// Command services.
	approvals := approval.NewService(approval.Settings{
		Required:    cfg.ClipSearch.RequireApproval,
		Timeout:     cfg.ApprovalTimeout(),
		ExemptRoles: cfg.ClipSearch.ExemptRoles,
	}, fb, log)
	searcher := clipsearch.NewSearcher(helix, clipsearch.Options{
		WindowDays:     cfg.ClipSearch.SearchWindowDays,
		FuzzyThreshold: cfg.ClipSearch.FuzzyMatchThreshold,
		MaxResults:     cfg.ClipSearch.MaxResults,
	}, log)
	shoutouts := shoutout.NewService(helix, engine, fb, shoutout.Settings{
		MessageTemplate:       cfg.Shoutout.MessageTemplate,
		MessageEnabled:        cfg.Shoutout.MessageEnabled,
		UseFeaturedClipsFirst: cfg.Shoutout.UseFeaturedClipsFirst,
		MaxClipLength:         time.Duration(cfg.Shoutout.MaxClipLengthSeconds) * time.Second,
		NativeShoutoutEnabled: cfg.Shoutout.NativeShoutoutEnabled,
		OnRaid:                cfg.Shoutout.OnRaid,
	}, broadcasterID, log)

	router := command.NewRouter(helix, engine, searcher, approvals, shoutouts, fb, log)
	coordinator := events.NewCoordinator(wsSource, ircSource, router, reporter, log)

	srv := server.New(cfg.Player.Port, reporter, registry,
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second, log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return coordinator.Run(groupCtx) })
	group.Go(func() error { return engine.Run(groupCtx) })
	group.Go(func() error { return supervisor.Run(groupCtx) })
	group.Go(func() error { return srv.Run(groupCtx) })

	log.Info("cliparino running",
		slog.String("channel", cfg.BroadcasterLogin),
		slog.Int("player_port", cfg.Player.Port))

	err = group.Wait()
	router.Wait()
	return err
}

// restChatSender posts chat through the helix endpoint.
type restChatSender struct {
	helix         *twitch.Client
	broadcasterID string
	senderID      string
}

func (s *restChatSender) SendChat(ctx context.Context, text string) error {
	return s.helix.SendChatMessage(ctx, s.broadcasterID, s.senderID, text)
}

// ircChatSender is the fallback path when the REST endpoint is down.
type ircChatSender struct {
	source *events.IRCSource
}

func (s *ircChatSender) SendChat(ctx context.Context, text string) error {
	return s.source.SendMessage(text)
}
