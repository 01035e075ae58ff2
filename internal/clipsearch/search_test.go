package clipsearch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

type fakeLister struct {
	broadcasterID string
	clips         []twitch.Clip
	gotStartedAt  time.Time
	gotEndedAt    time.Time
	gotCount      int
}

func (f *fakeLister) GetBroadcasterIDByName(ctx context.Context, login string) (string, error) {
	return f.broadcasterID, nil
}

func (f *fakeLister) GetClipsByBroadcaster(ctx context.Context, broadcasterID string, count int, startedAt, endedAt *time.Time) ([]twitch.Clip, error) {
	f.gotCount = count
	f.gotStartedAt = *startedAt
	f.gotEndedAt = *endedAt
	return f.clips, nil
}

func titled(id, title string) twitch.Clip {
	return twitch.Clip{ID: id, URL: "https://clips.twitch.tv/" + id, Title: title, DurationSeconds: 10}
}

func newTestSearcher(lister ClipLister, opts Options) *Searcher {
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewSearcher(lister, opts, log)
}

func TestScoreTitleTiers(t *testing.T) {
	s := newTestSearcher(&fakeLister{}, Options{})

	tests := []struct {
		name  string
		title string
		terms string
		want  float64
	}{
		{"whole substring", "Epic Block Steal", "epic block", 100},
		{"partial word match", "Epic Block Steal", "epic fail", 40},
		{"all words match", "Epic Block Steal", "block epic", 80},
		{"no overlap at all", "Cooking Stream", "zzzz qqqq", 0},
		{"case insensitive", "EPIC BLOCK", "epic block", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.scoreTitle(tt.title, tt.terms), 0.01)
		})
	}
}

func TestScoreTitleFuzzyTier(t *testing.T) {
	s := newTestSearcher(&fakeLister{}, Options{FuzzyThreshold: 0.4})

	// One typo, no shared word: falls through to the Levenshtein tier.
	score := s.scoreTitle("epiclock", "epicbock")
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 60.0)

	assert.Zero(t, s.scoreTitle("abcdefgh", "zyxwvuts"), "below threshold scores zero")
}

func TestSearchSortsAndTruncates(t *testing.T) {
	lister := &fakeLister{
		broadcasterID: "100",
		clips: []twitch.Clip{
			titled("weak", "something epic happened"),
			titled("exact", "epic block steal"),
			titled("none", "cooking stream"),
		},
	}
	s := newTestSearcher(lister, Options{MaxResults: 2})

	matches, err := s.Search(context.Background(), "streamerx", "epic block")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Clip.ID)
	assert.Equal(t, "weak", matches[1].Clip.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchWindowAndLimit(t *testing.T) {
	lister := &fakeLister{broadcasterID: "100"}
	s := newTestSearcher(lister, Options{WindowDays: 30})
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Search(context.Background(), "streamerx", "anything")
	require.NoError(t, err)
	assert.Equal(t, 100, lister.gotCount)
	assert.Equal(t, now, lister.gotEndedAt)
	assert.Equal(t, now.AddDate(0, 0, -30), lister.gotStartedAt)
}

func TestSearchUnknownBroadcaster(t *testing.T) {
	s := newTestSearcher(&fakeLister{broadcasterID: ""}, Options{})

	matches, err := s.Search(context.Background(), "ghost", "anything")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchClipTopOrNothing(t *testing.T) {
	lister := &fakeLister{
		broadcasterID: "100",
		clips:         []twitch.Clip{titled("exact", "epic block steal")},
	}
	s := newTestSearcher(lister, Options{})

	clip, ok, err := s.SearchClip(context.Background(), "streamerx", "epic block")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "exact", clip.ID)

	lister.clips = []twitch.Clip{titled("none", "cooking stream")}
	_, ok, err = s.SearchClip(context.Background(), "streamerx", "epic block")
	require.NoError(t, err)
	assert.False(t, ok)
}
