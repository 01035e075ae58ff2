package twitch

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// featuredViewThreshold is the view count at or above which a clip counts
// as featured. Derived locally; the upstream is_featured flag is ignored.
const featuredViewThreshold = 100

// Clip is reference data for one platform-hosted clip.
// Never mutated after fetch.
type Clip struct {
	ID                 string
	URL                string
	Title              string
	CreatorID          string
	CreatorLogin       string
	CreatorDisplay     string
	BroadcasterID      string
	BroadcasterLogin   string
	BroadcasterDisplay string
	GameID             string
	GameName           string
	// DurationSeconds is the ceiling of the platform's fractional duration,
	// never below 1.
	DurationSeconds int
	CreatedAt       time.Time
	ViewCount       int
}

// Featured reports whether the clip qualifies as featured.
func (c Clip) Featured() bool {
	return c.ViewCount >= featuredViewThreshold
}

// Duration returns the playback duration used by the engine.
func (c Clip) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// clipDTO mirrors the helix clips payload.
type clipDTO struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	BroadcasterID   string  `json:"broadcaster_id"`
	BroadcasterName string  `json:"broadcaster_name"`
	CreatorID       string  `json:"creator_id"`
	CreatorName     string  `json:"creator_name"`
	GameID          string  `json:"game_id"`
	Title           string  `json:"title"`
	ViewCount       int     `json:"view_count"`
	CreatedAt       string  `json:"created_at"`
	Duration        float64 `json:"duration"`
}

// toClip converts a wire clip into the domain model.
func (d clipDTO) toClip() Clip {
	duration := int(math.Ceil(d.Duration))
	if duration < 1 {
		duration = 1
	}

	createdAt, _ := time.Parse(time.RFC3339, d.CreatedAt)

	return Clip{
		ID:                 d.ID,
		URL:                d.URL,
		Title:              d.Title,
		CreatorID:          d.CreatorID,
		CreatorLogin:       strings.ToLower(d.CreatorName),
		CreatorDisplay:     d.CreatorName,
		BroadcasterID:      d.BroadcasterID,
		BroadcasterLogin:   strings.ToLower(d.BroadcasterName),
		BroadcasterDisplay: d.BroadcasterName,
		GameID:             d.GameID,
		DurationSeconds:    duration,
		CreatedAt:          createdAt,
		ViewCount:          d.ViewCount,
	}
}

// clipURLPattern matches the two canonical clip URL shapes:
// clips.twitch.tv/<slug> and twitch.tv/<login>/clip/<slug>.
var clipURLPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:clips\.twitch\.tv/|twitch\.tv/\w+/clip/)([A-Za-z0-9_-]+)`)

// normalizeLogin lowercases a login and strips the chat @-prefix.
func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "@"))
}

// ExtractClipIDFromURL pulls the clip slug out of text containing a clip
// URL. Unlike ExtractClipID it never treats bare tokens as slugs, which
// lets callers distinguish "a URL was pasted" from "an id was typed".
func ExtractClipIDFromURL(text string) (string, bool) {
	if m := clipURLPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

// ExtractClipID pulls the clip slug out of a URL or opaque token.
// A token without separators is treated as already being the slug, so
// extraction is idempotent on bare ids. Returns ok=false when the input
// cannot name a clip.
func ExtractClipID(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}

	if m := clipURLPattern.FindStringSubmatch(input); m != nil {
		return m[1], true
	}

	if strings.ContainsAny(input, "/.") {
		return "", false
	}
	return input, true
}
