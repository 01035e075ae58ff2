// Package clipsearch finds clips by fuzzy title match for the
// !watch @broadcaster form.
package clipsearch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

const (
	substringScore = 100
	wordMatchScale = 80
	fuzzyScale     = 60

	fetchLimit = 100
)

// ClipLister is the slice of the platform client the searcher needs.
type ClipLister interface {
	GetBroadcasterIDByName(ctx context.Context, login string) (string, error)
	GetClipsByBroadcaster(ctx context.Context, broadcasterID string, count int, startedAt, endedAt *time.Time) ([]twitch.Clip, error)
}

// Options tunes the search behavior.
type Options struct {
	WindowDays     int
	FuzzyThreshold float64
	MaxResults     int
}

// Searcher scores clip titles against free-form search terms.
type Searcher struct {
	client ClipLister
	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

// NewSearcher creates a searcher with the given options.
func NewSearcher(client ClipLister, opts Options, log *logger.Logger) *Searcher {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 90
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = 0.4
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	return &Searcher{
		client: client,
		opts:   opts,
		logger: log.WithComponent("clip_search"),
		now:    time.Now,
	}
}

// Match is one scored search result.
type Match struct {
	Clip  twitch.Clip
	Score float64
}

// Search returns scored matches for the terms among the broadcaster's
// recent clips, best first, truncated to MaxResults.
func (s *Searcher) Search(ctx context.Context, broadcasterName, terms string) ([]Match, error) {
	broadcasterID, err := s.client.GetBroadcasterIDByName(ctx, broadcasterName)
	if err != nil {
		return nil, err
	}
	if broadcasterID == "" {
		return nil, nil
	}

	endedAt := s.now()
	startedAt := endedAt.AddDate(0, 0, -s.opts.WindowDays)
	clips, err := s.client.GetClipsByBroadcaster(ctx, broadcasterID, fetchLimit, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(clips))
	for _, clip := range clips {
		score := s.scoreTitle(clip.Title, terms)
		if score > 0 {
			matches = append(matches, Match{Clip: clip, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > s.opts.MaxResults {
		matches = matches[:s.opts.MaxResults]
	}

	s.logger.Debug("clip search scored",
		slog.String("broadcaster", broadcasterName),
		slog.String("terms", terms),
		slog.Int("candidates", len(clips)),
		slog.Int("matches", len(matches)))
	return matches, nil
}

// SearchClip returns the single best match, or ok=false when nothing
// scored above zero.
func (s *Searcher) SearchClip(ctx context.Context, broadcasterName, terms string) (twitch.Clip, bool, error) {
	matches, err := s.Search(ctx, broadcasterName, terms)
	if err != nil {
		return twitch.Clip{}, false, err
	}
	if len(matches) == 0 {
		return twitch.Clip{}, false, nil
	}
	return matches[0].Clip, true, nil
}

// scoreTitle implements the three-tier scoring: whole-substring, then
// word overlap, then Levenshtein similarity above the threshold.
func (s *Searcher) scoreTitle(title, terms string) float64 {
	title = strings.ToLower(strings.TrimSpace(title))
	terms = strings.ToLower(strings.TrimSpace(terms))
	if title == "" || terms == "" {
		return 0
	}

	if strings.Contains(title, terms) {
		return substringScore
	}

	words := strings.Fields(terms)
	matched := 0
	for _, word := range words {
		if strings.Contains(title, word) {
			matched++
		}
	}
	if matched > 0 {
		return float64(matched) / float64(len(words)) * wordMatchScale
	}

	distance := levenshtein.ComputeDistance(title, terms)
	longest := len(title)
	if len(terms) > longest {
		longest = len(terms)
	}
	similarity := 1 - float64(distance)/float64(longest)
	if similarity >= s.opts.FuzzyThreshold {
		return similarity * fuzzyScale
	}
	return 0
}
