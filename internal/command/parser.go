// Package command turns chat lines into typed commands and routes them to
// the services that execute them.
package command

import (
	"strings"

	"github.com/angrmgmt/cliparino/internal/twitch"
)

// Command is the tagged sum of everything chat can ask for. Each variant
// carries the originating message for role checks and feedback.
type Command interface {
	isCommand()
	Origin() twitch.ChatMessage
}

// WatchClip plays a specific clip by id or URL.
type WatchClip struct {
	Message        twitch.ChatMessage
	ClipIdentifier string
}

// WatchSearch plays the best fuzzy-search match from a broadcaster's clips.
type WatchSearch struct {
	Message         twitch.ChatMessage
	BroadcasterName string
	SearchTerms     string
}

// Stop halts the current playback.
type Stop struct {
	Message twitch.ChatMessage
}

// Replay re-enqueues the last played clip.
type Replay struct {
	Message twitch.ChatMessage
}

// Shoutout plays a random clip of the target and optionally announces them.
type Shoutout struct {
	Message        twitch.ChatMessage
	TargetUsername string
}

func (WatchClip) isCommand()   {}
func (WatchSearch) isCommand() {}
func (Stop) isCommand()        {}
func (Replay) isCommand()      {}
func (Shoutout) isCommand()    {}

func (c WatchClip) Origin() twitch.ChatMessage   { return c.Message }
func (c WatchSearch) Origin() twitch.ChatMessage { return c.Message }
func (c Stop) Origin() twitch.ChatMessage        { return c.Message }
func (c Replay) Origin() twitch.ChatMessage      { return c.Message }
func (c Shoutout) Origin() twitch.ChatMessage    { return c.Message }

// Parse decodes a chat message into a command. The second return is false
// for anything that is not a well-formed command; parsing is purely
// syntactic and does no I/O.
func Parse(msg twitch.ChatMessage) (Command, bool) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "!") {
		return nil, false
	}

	fields := strings.Fields(text)
	verb := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	switch verb {
	case "!watch":
		return parseWatch(msg, fields, rest)

	case "!stop":
		return Stop{Message: msg}, true

	case "!replay":
		return Replay{Message: msg}, true

	case "!so", "!shoutout":
		if len(fields) < 2 {
			return nil, false
		}
		target := strings.TrimPrefix(fields[1], "@")
		if target == "" {
			return nil, false
		}
		return Shoutout{Message: msg, TargetUsername: target}, true

	default:
		return nil, false
	}
}

func parseWatch(msg twitch.ChatMessage, fields []string, rest string) (Command, bool) {
	if len(fields) < 2 {
		return nil, false
	}

	if id, ok := twitch.ExtractClipIDFromURL(rest); ok {
		return WatchClip{Message: msg, ClipIdentifier: id}, true
	}

	if strings.HasPrefix(fields[1], "@") {
		broadcaster := strings.TrimPrefix(fields[1], "@")
		terms := strings.TrimSpace(strings.Join(fields[2:], " "))
		if broadcaster == "" || terms == "" {
			return nil, false
		}
		return WatchSearch{Message: msg, BroadcasterName: broadcaster, SearchTerms: terms}, true
	}

	return WatchClip{Message: msg, ClipIdentifier: fields[1]}, true
}
