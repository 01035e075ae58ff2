package command

import (
	"context"
	"log/slog"
	"sync"

	"github.com/angrmgmt/cliparino/internal/approval"
	"github.com/angrmgmt/cliparino/internal/errkind"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// ClipResolver fetches clip metadata for !watch.
type ClipResolver interface {
	GetClipByID(ctx context.Context, id string) (twitch.Clip, error)
}

// Engine is the playback surface the router drives.
type Engine interface {
	Enqueue(clip twitch.Clip)
	Stop()
	Replay() bool
}

// Searcher resolves !watch @broadcaster term queries.
type Searcher interface {
	SearchClip(ctx context.Context, broadcasterName, terms string) (twitch.Clip, bool, error)
}

// ShoutoutService runs !so and raid shoutouts.
type ShoutoutService interface {
	Shoutout(ctx context.Context, targetUsername string) bool
	OnRaid(ctx context.Context, raid twitch.RaidEvent)
}

// Feedback is the chat-notice surface the router uses.
type Feedback interface {
	ClipNotFound(ctx context.Context, requester, identifier string)
	SearchNoResults(ctx context.Context, requester, broadcaster, terms string)
	AwaitingApproval(ctx context.Context, requester string, clip twitch.Clip, approvalID string)
	ApprovalTimeout(ctx context.Context, requester string)
	ApprovalDenied(ctx context.Context, requester string)
	GenericError(ctx context.Context, requester string)
}

// Router dispatches chat events to the command handlers. Approval
// responses are consumed before parsing, so !approve/!deny never double
// as commands. Handler failures are logged and never reach the event
// loop.
type Router struct {
	resolver ClipResolver
	engine   Engine
	searcher Searcher
	approval *approval.Service
	shoutout ShoutoutService
	feedback Feedback
	logger   *logger.Logger

	// waits tracks in-flight approval goroutines so shutdown can join them.
	waits sync.WaitGroup
}

// NewRouter wires the router to its services.
func NewRouter(resolver ClipResolver, engine Engine, searcher Searcher, approvals *approval.Service, shoutouts ShoutoutService, fb Feedback, log *logger.Logger) *Router {
	return &Router{
		resolver: resolver,
		engine:   engine,
		searcher: searcher,
		approval: approvals,
		shoutout: shoutouts,
		feedback: fb,
		logger:   log.WithComponent("command_router"),
	}
}

// HandleEvent implements the coordinator's handler contract.
func (r *Router) HandleEvent(ctx context.Context, ev twitch.Event) {
	switch e := ev.(type) {
	case twitch.ChatMessage:
		r.handleChat(ctx, e)
	case twitch.RaidEvent:
		r.shoutout.OnRaid(ctx, e)
	default:
		r.logger.Debug("dropping unhandled event type")
	}
}

// Wait blocks until all in-flight approval waits have finished.
func (r *Router) Wait() {
	r.waits.Wait()
}

func (r *Router) handleChat(ctx context.Context, msg twitch.ChatMessage) {
	if r.approval.TryConsume(msg) {
		return
	}

	cmd, ok := Parse(msg)
	if !ok {
		return
	}

	ctx = logger.WithUser(ctx, msg.AuthorLogin)
	r.logger.WithContext(ctx).Debug("command parsed", slog.String("text", msg.Text))

	switch c := cmd.(type) {
	case WatchClip:
		r.handleWatchClip(ctx, c)
	case WatchSearch:
		r.handleWatchSearch(ctx, c)
	case Stop:
		r.engine.Stop()
	case Replay:
		r.engine.Replay()
	case Shoutout:
		r.shoutout.Shoutout(ctx, c.TargetUsername)
	}
}

func (r *Router) handleWatchClip(ctx context.Context, c WatchClip) {
	ctx = logger.WithClipID(ctx, c.ClipIdentifier)
	clip, err := r.resolver.GetClipByID(ctx, c.ClipIdentifier)
	if err != nil {
		if errkind.KindOf(err) == errkind.InvalidInput {
			r.logger.WithContext(ctx).Warn("clip not found")
			r.feedback.ClipNotFound(ctx, c.Message.DisplayOrLogin(), c.ClipIdentifier)
			return
		}
		r.logger.LogError(ctx, err, "clip lookup failed")
		r.feedback.GenericError(ctx, c.Message.DisplayOrLogin())
		return
	}

	r.engine.Enqueue(clip)
}

func (r *Router) handleWatchSearch(ctx context.Context, c WatchSearch) {
	clip, found, err := r.searcher.SearchClip(ctx, c.BroadcasterName, c.SearchTerms)
	if err != nil {
		// An unknown broadcaster is bad input, not a platform failure.
		if errkind.KindOf(err) == errkind.InvalidInput {
			r.logger.Warn("search broadcaster not found",
				slog.String("broadcaster", c.BroadcasterName),
				slog.String("requester", c.Message.AuthorLogin))
			r.feedback.SearchNoResults(ctx, c.Message.DisplayOrLogin(), c.BroadcasterName, c.SearchTerms)
			return
		}
		r.logger.LogError(ctx, err, "clip search failed", "broadcaster", c.BroadcasterName)
		r.feedback.GenericError(ctx, c.Message.DisplayOrLogin())
		return
	}
	if !found {
		r.feedback.SearchNoResults(ctx, c.Message.DisplayOrLogin(), c.BroadcasterName, c.SearchTerms)
		return
	}

	if !r.approval.Requires(c.Message) {
		r.engine.Enqueue(clip)
		return
	}

	id := r.approval.Open(c.Message, clip)
	r.feedback.AwaitingApproval(ctx, c.Message.DisplayOrLogin(), clip, id)

	// The wait runs off the event loop so the deciding !approve/!deny can
	// still be ingested.
	r.waits.Add(1)
	go func() {
		defer r.waits.Done()
		switch r.approval.Wait(ctx, id) {
		case approval.OutcomeApproved:
			r.engine.Enqueue(clip)
		case approval.OutcomeDenied:
			r.feedback.ApprovalDenied(ctx, c.Message.DisplayOrLogin())
		case approval.OutcomeTimedOut:
			r.feedback.ApprovalTimeout(ctx, c.Message.DisplayOrLogin())
		case approval.OutcomeCancelled:
		}
	}()
}
