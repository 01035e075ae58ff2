package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/twitch"
)

func msg(text string) twitch.ChatMessage {
	return twitch.ChatMessage{AuthorLogin: "viewer", Text: text}
}

func TestParseWatchVariants(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{
			"full clip url",
			"!watch https://clips.twitch.tv/AwkwardSlug-123_abc",
			WatchClip{ClipIdentifier: "AwkwardSlug-123_abc"},
		},
		{
			"channel clip url",
			"!watch https://www.twitch.tv/streamerx/clip/FunnySlug",
			WatchClip{ClipIdentifier: "FunnySlug"},
		},
		{
			"schemeless url",
			"!watch clips.twitch.tv/FunnySlug",
			WatchClip{ClipIdentifier: "FunnySlug"},
		},
		{
			"bare identifier",
			"!watch AwkwardSlug",
			WatchClip{ClipIdentifier: "AwkwardSlug"},
		},
		{
			"broadcaster search",
			"!watch @streamerx epic block steal",
			WatchSearch{BroadcasterName: "streamerx", SearchTerms: "epic block steal"},
		},
		{
			"uppercase verb",
			"!WATCH AwkwardSlug",
			WatchClip{ClipIdentifier: "AwkwardSlug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := msg(tt.text)
			got, ok := Parse(m)
			require.True(t, ok)

			switch want := tt.want.(type) {
			case WatchClip:
				parsed, ok := got.(WatchClip)
				require.True(t, ok)
				assert.Equal(t, want.ClipIdentifier, parsed.ClipIdentifier)
				assert.Equal(t, m, parsed.Origin())
			case WatchSearch:
				parsed, ok := got.(WatchSearch)
				require.True(t, ok)
				assert.Equal(t, want.BroadcasterName, parsed.BroadcasterName)
				assert.Equal(t, want.SearchTerms, parsed.SearchTerms)
			}
		})
	}
}

func TestParseSimpleCommands(t *testing.T) {
	got, ok := Parse(msg("!stop"))
	require.True(t, ok)
	assert.IsType(t, Stop{}, got)

	got, ok = Parse(msg("  !replay  "))
	require.True(t, ok)
	assert.IsType(t, Replay{}, got)
}

func TestParseShoutout(t *testing.T) {
	for _, text := range []string{"!so @TargetGal", "!shoutout TargetGal"} {
		got, ok := Parse(msg(text))
		require.True(t, ok, text)
		so, ok := got.(Shoutout)
		require.True(t, ok)
		assert.Equal(t, "TargetGal", so.TargetUsername)
	}
}

func TestParseRejections(t *testing.T) {
	rejected := []string{
		"",
		"   ",
		"just chatting",
		"!unknowncommand",
		"!watch",
		"!watch @streamerx",
		"!watch @",
		"!so",
		"!so @",
		"watch AwkwardSlug",
	}
	for _, text := range rejected {
		_, ok := Parse(msg(text))
		assert.False(t, ok, "%q should not parse", text)
	}
}
