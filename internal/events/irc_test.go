package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/twitch"
)

func TestParseIRCLinePrivmsg(t *testing.T) {
	line := `@badges=broadcaster/1,subscriber/12;display-name=StreamerGal;mod=0;room-id=100;user-id=100 :streamergal!streamergal@streamergal.tmi.twitch.tv PRIVMSG #streamergal :!watch https://clips.twitch.tv/AbcDef`

	ev := parseIRCLine(line)
	require.NotNil(t, ev)

	msg, ok := ev.(twitch.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "streamergal", msg.AuthorLogin)
	assert.Equal(t, "StreamerGal", msg.AuthorDisplay)
	assert.Equal(t, "100", msg.AuthorID)
	assert.Equal(t, "streamergal", msg.ChannelLogin)
	assert.Equal(t, "100", msg.ChannelID)
	assert.Equal(t, "!watch https://clips.twitch.tv/AbcDef", msg.Text)
	assert.True(t, msg.IsBroadcaster)
	assert.True(t, msg.IsSubscriber)
	assert.False(t, msg.IsModerator)
}

func TestParseIRCLineModTag(t *testing.T) {
	line := `@badges=;display-name=Modette;mod=1;room-id=100;user-id=7 :modette!modette@modette.tmi.twitch.tv PRIVMSG #streamergal :approve a1b2c3d4`

	msg, ok := parseIRCLine(line).(twitch.ChatMessage)
	require.True(t, ok)
	assert.True(t, msg.IsModerator)
	assert.True(t, msg.IsPrivileged())
}

func TestParseIRCLineRaid(t *testing.T) {
	line := `@login=RaiderDude;msg-id=raid;msg-param-login=RaiderDude;msg-param-viewerCount=37;user-id=55 :tmi.twitch.tv USERNOTICE #streamergal`

	raid, ok := parseIRCLine(line).(twitch.RaidEvent)
	require.True(t, ok)
	assert.Equal(t, "raiderdude", raid.RaiderLogin)
	assert.Equal(t, "55", raid.RaiderID)
	assert.Equal(t, 37, raid.ViewerCount)
}

func TestParseIRCLineRaidFallsBackToMsgParamLogin(t *testing.T) {
	line := `@msg-id=raid;msg-param-login=RaiderDude;msg-param-viewerCount=37;user-id=55 :tmi.twitch.tv USERNOTICE #streamergal`

	raid, ok := parseIRCLine(line).(twitch.RaidEvent)
	require.True(t, ok)
	assert.Equal(t, "raiderdude", raid.RaiderLogin)
}

func TestParseIRCLineIgnoresOtherCommands(t *testing.T) {
	lines := []string{
		":tmi.twitch.tv 001 botnick :Welcome, GLHF!",
		":botnick.tmi.twitch.tv 366 botnick #streamergal :End of /NAMES list",
		"@msg-id=sub :tmi.twitch.tv USERNOTICE #streamergal :thanks",
		":tmi.twitch.tv CLEARCHAT #streamergal",
	}
	for _, line := range lines {
		assert.Nil(t, parseIRCLine(line), line)
	}
}

func TestUnescapeTag(t *testing.T) {
	assert.Equal(t, "hi there; ok", unescapeTag(`hi\sthere\:\sok`))
	assert.Equal(t, `back\slash`, unescapeTag(`back\\slash`))
	assert.Equal(t, "plain", unescapeTag("plain"))
}
