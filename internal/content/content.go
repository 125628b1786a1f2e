// Package content normalizes heterogeneous search results (music, story)
// into a single ranked result shape and builds public URLs for stored files.
//
// The vector-search backend itself lives behind the [Store] interface; this
// package only scores, orders, and shapes what the backend returns.
package content

import (
	"context"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Domain names for the two content kinds served by the assistant.
const (
	DomainMusic = "music"
	DomainStory = "story"
)

// RawResult is one backend hit before ranking. Distance is cosine distance of
// the item's embedding from the query embedding, in [0, 2]. Category carries
// the music genre or the story language, whichever applies.
type RawResult struct {
	Title    string
	Filename string
	Category string
	Distance float64
}

// RankedResult is the normalized shape returned to callers.
type RankedResult struct {
	Title    string
	Filename string
	Category string
	URL      string
	// Score is a similarity in [0, 1]; results are ordered by descending Score.
	Score float64
}

// Store is the vector/semantic search capability consumed by the content
// features. Implementations live in subpackages (e.g. pgstore).
type Store interface {
	// SearchByQuery returns raw hits for query, optionally filtered by
	// category. An empty result is a normal outcome, not an error.
	SearchByQuery(ctx context.Context, domain, query, categoryFilter string, limit int) ([]RawResult, error)

	// RandomItem picks one item at random, optionally filtered by category.
	// The second result is false when the domain holds no matching items.
	RandomItem(ctx context.Context, domain, categoryFilter string) (RawResult, bool, error)

	// ListCategories returns the distinct categories stored for domain.
	ListCategories(ctx context.Context, domain string) ([]string, error)
}

// lexicalWeight blends title similarity into the vector score so that exact
// title matches beat semantically-near misses.
const lexicalWeight = 0.3

// Rank converts raw hits into RankedResults ordered by descending score, with
// ties keeping their input order. An empty or nil input yields an empty
// slice, never an error; callers treat "no results" as a loggable outcome.
func Rank(query string, raw []RawResult, urls *URLBuilder) []RankedResult {
	ranked := make([]RankedResult, 0, len(raw))
	for _, r := range raw {
		ranked = append(ranked, RankedResult{
			Title:    r.Title,
			Filename: r.Filename,
			Category: r.Category,
			URL:      urls.Build(r.Filename, r.Category),
			Score:    score(query, r),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// score maps a raw hit to [0, 1]. Cosine distance d in [0, 2] becomes
// similarity 1-d/2; when a query string is present, Jaro-Winkler similarity
// of query against the title is blended in.
func score(query string, r RawResult) float64 {
	vec := 1 - r.Distance/2
	if vec < 0 {
		vec = 0
	}
	if vec > 1 {
		vec = 1
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return vec
	}
	lex := matchr.JaroWinkler(strings.ToLower(q), strings.ToLower(r.Title), false)
	return (1-lexicalWeight)*vec + lexicalWeight*lex
}
