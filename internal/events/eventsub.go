package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angrmgmt/cliparino/internal/errkind"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

const (
	defaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws"

	// welcomeTimeout bounds the wait for the session_welcome frame.
	welcomeTimeout = 15 * time.Second
)

// SubscriptionCreator is the slice of the helix client the source needs.
type SubscriptionCreator interface {
	CreateEventSubSubscription(ctx context.Context, subType, version string, condition map[string]string, sessionID string) error
}

// EventSubConfig configures the websocket source.
type EventSubConfig struct {
	URL           string
	BroadcasterID string
	// UserID is the authenticated user receiving chat events; usually the
	// broadcaster itself.
	UserID string
}

// EventSubSource is the primary event source: the platform's push
// websocket. Chat subscription failure is fatal to Connect; raid
// subscription failure is logged and tolerated.
type EventSubSource struct {
	cfg    EventSubConfig
	helix  SubscriptionCreator
	logger *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	buffer    *eventBuffer
	connected bool
}

// NewEventSubSource creates the websocket source.
func NewEventSubSource(cfg EventSubConfig, helix SubscriptionCreator, log *logger.Logger) *EventSubSource {
	if cfg.URL == "" {
		cfg.URL = defaultEventSubURL
	}
	return &EventSubSource{
		cfg:    cfg,
		helix:  helix,
		logger: log.WithComponent("eventsub"),
	}
}

// Name implements Source.
func (s *EventSubSource) Name() string { return "eventsub" }

// IsConnected implements Source.
func (s *EventSubSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Events implements Source. Valid after a successful Connect; the channel
// closes when the connection dies.
func (s *EventSubSource) Events() <-chan twitch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		closed := make(chan twitch.Event)
		close(closed)
		return closed
	}
	return s.buffer.Out()
}

// envelope is the outer frame of every EventSub websocket message.
type envelope struct {
	Metadata struct {
		MessageType string `json:"message_type"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}

// Connect dials the websocket, waits for the welcome frame, registers the
// subscriptions and starts the reader.
func (s *EventSubSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return errkind.Newf(errkind.Transient, "dial eventsub: %v", err)
	}

	sessionID, err := s.awaitWelcome(conn)
	if err != nil {
		conn.Close()
		return err
	}

	s.logger.Info("eventsub session established", slog.String("session_id", sessionID))

	// channel.chat.message is the reason this source exists; without it
	// the connection is useless.
	chatCondition := map[string]string{
		"broadcaster_user_id": s.cfg.BroadcasterID,
		"user_id":             s.cfg.UserID,
	}
	if err := s.helix.CreateEventSubSubscription(ctx, "channel.chat.message", "1", chatCondition, sessionID); err != nil {
		conn.Close()
		return err
	}

	raidCondition := map[string]string{
		"to_broadcaster_user_id": s.cfg.BroadcasterID,
	}
	if err := s.helix.CreateEventSubSubscription(ctx, "channel.raid", "1", raidCondition, sessionID); err != nil {
		s.logger.Warn("raid subscription failed, continuing without raids",
			slog.String("error", err.Error()))
	}

	buffer := newEventBuffer()

	s.mu.Lock()
	s.conn = conn
	s.buffer = buffer
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(conn, buffer)
	return nil
}

// awaitWelcome reads frames until session_welcome arrives.
func (s *EventSubSource) awaitWelcome(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(welcomeTimeout)
	for {
		conn.SetReadDeadline(deadline)
		// ReadMessage assembles fragmented frames before returning.
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", errkind.Newf(errkind.Transient, "await welcome: %v", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return "", errkind.Newf(errkind.Subscription, "decode welcome frame: %v", err)
		}

		switch env.Metadata.MessageType {
		case "session_welcome":
			if env.Payload.Session.ID == "" {
				return "", errkind.Newf(errkind.Subscription, "welcome frame without session id")
			}
			conn.SetReadDeadline(time.Time{})
			return env.Payload.Session.ID, nil
		case "session_keepalive":
			continue
		default:
			return "", errkind.Newf(errkind.Subscription, "unexpected frame %q before welcome", env.Metadata.MessageType)
		}
	}
}

// readLoop feeds the buffer until the socket dies, then tears the source
// down so the closed Events channel surfaces the failure.
func (s *EventSubSource) readLoop(conn *websocket.Conn, buffer *eventBuffer) {
	defer s.teardown(conn, buffer)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("eventsub read failed", slog.String("error", err.Error()))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// A frame we cannot parse almost always means the
			// subscription handshake went wrong; bail out and let the
			// coordinator rebuild the connection.
			s.logger.Error("eventsub frame decode failed", slog.String("error", err.Error()))
			return
		}

		switch env.Metadata.MessageType {
		case "notification":
			ev, err := decodeNotification(env.Payload.Subscription.Type, env.Payload.Event)
			if err != nil {
				s.logger.Error("eventsub notification decode failed",
					slog.String("type", env.Payload.Subscription.Type),
					slog.String("error", err.Error()))
				return
			}
			if ev != nil {
				buffer.Push(ev)
			}
		case "session_keepalive":
			// Liveness only.
		case "session_reconnect":
			s.logger.Warn("eventsub requested reconnect")
			return
		default:
			s.logger.Debug("dropping unknown eventsub frame",
				slog.String("type", env.Metadata.MessageType))
		}
	}
}

func (s *EventSubSource) teardown(conn *websocket.Conn, buffer *eventBuffer) {
	conn.Close()
	buffer.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.connected = false
		s.conn = nil
	}
	s.mu.Unlock()
}

// Disconnect implements Source.
func (s *EventSubSource) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	buffer := s.buffer
	s.conn = nil
	s.buffer = nil
	s.connected = false
	s.mu.Unlock()

	if buffer != nil {
		buffer.Close()
	}
	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

// chatMessageEvent is the channel.chat.message notification payload.
type chatMessageEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	ChatterUserID        string `json:"chatter_user_id"`
	ChatterUserLogin     string `json:"chatter_user_login"`
	ChatterUserName      string `json:"chatter_user_name"`
	Message              struct {
		Text string `json:"text"`
	} `json:"message"`
	Badges []struct {
		SetID string `json:"set_id"`
	} `json:"badges"`
}

// raidNotificationEvent is the channel.raid notification payload.
type raidNotificationEvent struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	Viewers                  int    `json:"viewers"`
}

// decodeNotification turns a notification payload into a domain event.
// Unknown subscription types yield (nil, nil) and are dropped.
func decodeNotification(subType string, payload json.RawMessage) (twitch.Event, error) {
	switch subType {
	case "channel.chat.message":
		var ev chatMessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode chat message: %w", err)
		}

		msg := twitch.ChatMessage{
			AuthorLogin:   ev.ChatterUserLogin,
			AuthorDisplay: ev.ChatterUserName,
			AuthorID:      ev.ChatterUserID,
			ChannelLogin:  ev.BroadcasterUserLogin,
			ChannelID:     ev.BroadcasterUserID,
			Text:          ev.Message.Text,
		}
		for _, badge := range ev.Badges {
			switch badge.SetID {
			case "broadcaster":
				msg.IsBroadcaster = true
			case "moderator":
				msg.IsModerator = true
			case "vip":
				msg.IsVIP = true
			case "subscriber":
				msg.IsSubscriber = true
			}
		}
		return msg, nil

	case "channel.raid":
		var ev raidNotificationEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode raid: %w", err)
		}
		return twitch.RaidEvent{
			RaiderLogin: ev.FromBroadcasterUserLogin,
			RaiderID:    ev.FromBroadcasterUserID,
			ViewerCount: ev.Viewers,
		}, nil

	default:
		return nil, nil
	}
}
