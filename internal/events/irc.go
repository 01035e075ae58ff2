package events

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/angrmgmt/cliparino/internal/errkind"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

const defaultIRCAddr = "irc.chat.twitch.tv:6667"

// TokenProvider supplies the OAuth access token for the IRC PASS line.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// IRCConfig configures the fallback source.
type IRCConfig struct {
	Addr string
	// Nick is the login of the authenticated account.
	Nick string
	// Channel is the broadcaster login to join, without the '#'.
	Channel string
}

// IRCSource is the fallback event source: a plain TCP IRC connection with
// the platform's tags capability. It also carries outbound chat, which the
// feedback layer uses when the REST path is unavailable.
type IRCSource struct {
	cfg    IRCConfig
	tokens TokenProvider
	logger *logger.Logger

	mu        sync.Mutex
	conn      net.Conn
	buffer    *eventBuffer
	connected bool
}

// NewIRCSource creates the IRC source.
func NewIRCSource(cfg IRCConfig, tokens TokenProvider, log *logger.Logger) *IRCSource {
	if cfg.Addr == "" {
		cfg.Addr = defaultIRCAddr
	}
	cfg.Nick = strings.ToLower(strings.TrimSpace(cfg.Nick))
	cfg.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	return &IRCSource{
		cfg:    cfg,
		tokens: tokens,
		logger: log.WithComponent("irc"),
	}
}

// Name implements Source.
func (s *IRCSource) Name() string { return "irc" }

// IsConnected implements Source.
func (s *IRCSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Events implements Source.
func (s *IRCSource) Events() <-chan twitch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		closed := make(chan twitch.Event)
		close(closed)
		return closed
	}
	return s.buffer.Out()
}

// Connect dials the server, authenticates and joins the channel.
func (s *IRCSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return errkind.Newf(errkind.AuthExpired, "irc token: %v", err)
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errkind.Newf(errkind.Transient, "dial irc: %v", err)
	}

	handshake := []string{
		"PASS oauth:" + token,
		"NICK " + s.cfg.Nick,
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"JOIN #" + s.cfg.Channel,
	}
	for _, line := range handshake {
		if err := writeLine(conn, line); err != nil {
			conn.Close()
			return errkind.Newf(errkind.Transient, "irc handshake: %v", err)
		}
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

func writeLine(conn net.Conn, line string) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// SendMessage posts a chat line over the IRC connection. Used as the
// feedback fallback when the REST chat endpoint cannot be reached.
func (s *IRCSource) SendMessage(text string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("irc not connected")
	}
	return writeLine(conn, fmt.Sprintf("PRIVMSG #%s :%s", s.cfg.Channel, text))
}

func (s *IRCSource) readLoop(conn net.Conn, buffer *eventBuffer) {
	defer func() {
		conn.Close()
		buffer.Close()
		s.mu.Lock()
		if s.conn == conn {
			s.connected = false
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "PING") {
			if err := writeLine(conn, "PONG"+strings.TrimPrefix(line, "PING")); err != nil {
				s.logger.Warn("irc pong failed", slog.String("error", err.Error()))
				return
			}
			continue
		}

		ev := parseIRCLine(line)
		if ev != nil {
			buffer.Push(ev)
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Warn("irc read failed", slog.String("error", err.Error()))
	}
}

// Disconnect implements Source.
func (s *IRCSource) Disconnect() error {
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
		return conn.Close()
	}
	return nil
}

// parseIRCLine decodes one tagged IRC line into a domain event. Lines that
// are not PRIVMSG or a raid USERNOTICE return nil.
func parseIRCLine(line string) twitch.Event {
	tags := map[string]string{}
	if strings.HasPrefix(line, "@") {
		rawTags, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return nil
		}
		line = rest
		for _, pair := range strings.Split(rawTags, ";") {
			key, value, _ := strings.Cut(pair, "=")
			tags[key] = unescapeTag(value)
		}
	}

	// :nick!nick@nick.tmi.twitch.tv PRIVMSG #channel :text
	prefix := ""
	if strings.HasPrefix(line, ":") {
		rawPrefix, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return nil
		}
		prefix = rawPrefix
		line = rest
	}

	command, params, _ := strings.Cut(line, " ")

	switch command {
	case "PRIVMSG":
		channel, text, ok := strings.Cut(params, " :")
		if !ok {
			return nil
		}
		login := prefix
		if i := strings.IndexByte(login, '!'); i >= 0 {
			login = login[:i]
		}

		msg := twitch.ChatMessage{
			AuthorLogin:   login,
			AuthorDisplay: tags["display-name"],
			AuthorID:      tags["user-id"],
			ChannelLogin:  strings.TrimPrefix(channel, "#"),
			ChannelID:     tags["room-id"],
			Text:          text,
		}
		applyBadgeTags(&msg, tags)
		return msg

	case "USERNOTICE":
		if tags["msg-id"] != "raid" {
			return nil
		}
		viewers, _ := strconv.Atoi(tags["msg-param-viewerCount"])
		raider := tags["login"]
		if raider == "" {
			raider = tags["msg-param-login"]
		}
		return twitch.RaidEvent{
			RaiderLogin: strings.ToLower(raider),
			RaiderID:    tags["user-id"],
			ViewerCount: viewers,
		}

	default:
		return nil
	}
}

func applyBadgeTags(msg *twitch.ChatMessage, tags map[string]string) {
	for _, badge := range strings.Split(tags["badges"], ",") {
		name, _, _ := strings.Cut(badge, "/")
		switch name {
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
	// The mod tag covers moderators whose badge set omits the badge.
	if tags["mod"] == "1" {
		msg.IsModerator = true
	}
}

// unescapeTag reverses IRCv3 tag value escaping.
func unescapeTag(value string) string {
	if !strings.ContainsRune(value, '\\') {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i == len(value)-1 {
			b.WriteByte(value[i])
			continue
		}
		i++
		switch value[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}
