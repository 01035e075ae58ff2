package twitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractClipID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"clips subdomain", "https://clips.twitch.tv/AwkwardHelplessSalamanderSwiftRage", "AwkwardHelplessSalamanderSwiftRage", true},
		{"clips subdomain no scheme", "clips.twitch.tv/ABC-xyz_1", "ABC-xyz_1", true},
		{"channel clip path", "https://www.twitch.tv/somestreamer/clip/TameFuriousDuckOSfrog", "TameFuriousDuckOSfrog", true},
		{"uppercase host", "HTTPS://CLIPS.TWITCH.TV/SomeSlug", "SomeSlug", true},
		{"bare id", "ABC-xyz_1", "ABC-xyz_1", true},
		{"unrelated url", "https://example.com/watch?v=x", "", false},
		{"token with dot", "not.a.clip", "", false},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractClipID(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClipIDIdempotentOnBareIDs(t *testing.T) {
	id, ok := ExtractClipID("https://clips.twitch.tv/ABC-xyz_1")
	assert.True(t, ok)

	again, ok := ExtractClipID(id)
	assert.True(t, ok)
	assert.Equal(t, id, again)
}

func TestClipDTOConversion(t *testing.T) {
	dto := clipDTO{
		ID:              "ABC",
		URL:             "https://clips.twitch.tv/ABC",
		BroadcasterID:   "42",
		BroadcasterName: "StreamerX",
		CreatorID:       "7",
		CreatorName:     "ViewerY",
		GameID:          "509658",
		Title:           "Epic Block Steal",
		ViewCount:       150,
		CreatedAt:       "2026-01-02T15:04:05Z",
		Duration:        26.1,
	}

	clip := dto.toClip()

	assert.Equal(t, "ABC", clip.ID)
	assert.Equal(t, 27, clip.DurationSeconds, "duration is the ceiling of the source double")
	assert.Equal(t, "streamerx", clip.BroadcasterLogin)
	assert.Equal(t, "StreamerX", clip.BroadcasterDisplay)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), clip.CreatedAt)
	assert.True(t, clip.Featured())
}

func TestClipDurationNeverBelowOneSecond(t *testing.T) {
	for _, d := range []float64{0, -3.5, 0.2} {
		clip := clipDTO{ID: "x", Duration: d}.toClip()
		assert.GreaterOrEqual(t, clip.DurationSeconds, 1, "duration %f", d)
	}
}

func TestFeaturedThreshold(t *testing.T) {
	assert.False(t, Clip{ViewCount: 99}.Featured())
	assert.True(t, Clip{ViewCount: 100}.Featured())
	assert.True(t, Clip{ViewCount: 101}.Featured())
}
