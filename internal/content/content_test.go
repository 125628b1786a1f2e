package content

import (
	"sort"
	"testing"
)

var testURLs = &URLBuilder{DirectBase: "https://storage.example.com/files"}

func TestRankEmptyInput(t *testing.T) {
	got := Rank("imagine", nil, testURLs)
	if got == nil {
		t.Fatal("Rank returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("Rank(empty) = %d results, want 0", len(got))
	}
}

func TestRankDescendingByScore(t *testing.T) {
	raw := []RawResult{
		{Title: "far match", Filename: "a.mp3", Distance: 1.6},
		{Title: "close match", Filename: "b.mp3", Distance: 0.1},
		{Title: "middle match", Filename: "c.mp3", Distance: 0.8},
	}
	got := Rank("", raw, testURLs)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Score > got[j].Score }) {
		t.Errorf("results not sorted by descending score: %+v", got)
	}
	if got[0].Filename != "b.mp3" {
		t.Errorf("top result = %q, want b.mp3", got[0].Filename)
	}
}

func TestRankStableTies(t *testing.T) {
	raw := []RawResult{
		{Title: "same", Filename: "first.mp3", Distance: 0.5},
		{Title: "same", Filename: "second.mp3", Distance: 0.5},
		{Title: "same", Filename: "third.mp3", Distance: 0.5},
	}
	got := Rank("same", raw, testURLs)
	for i, want := range []string{"first.mp3", "second.mp3", "third.mp3"} {
		if got[i].Filename != want {
			t.Errorf("position %d = %q, want %q (ties must keep input order)", i, got[i].Filename, want)
		}
	}
}

func TestRankScoresInUnitInterval(t *testing.T) {
	raw := []RawResult{
		{Title: "a", Distance: 0},
		{Title: "b", Distance: 1},
		{Title: "c", Distance: 2},
		{Title: "d", Distance: 2.5}, // out-of-range distance clamps
	}
	for _, r := range Rank("query", raw, testURLs) {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %v for %q outside [0,1]", r.Score, r.Title)
		}
	}
}

func TestRankLexicalBlendPrefersTitleMatch(t *testing.T) {
	raw := []RawResult{
		{Title: "Bohemian Rhapsody", Filename: "br.mp3", Distance: 0.4},
		{Title: "Imagine", Filename: "imagine.mp3", Distance: 0.4},
	}
	got := Rank("imagine", raw, testURLs)
	if got[0].Filename != "imagine.mp3" {
		t.Errorf("top result = %q, want imagine.mp3 (title match should win the tie)", got[0].Filename)
	}
}

func TestRankFillsURL(t *testing.T) {
	raw := []RawResult{{Title: "Song", Filename: "song one.mp3", Category: "rock"}}
	got := Rank("", raw, testURLs)
	want := "https://storage.example.com/files/rock/song%20one.mp3"
	if got[0].URL != want {
		t.Errorf("URL = %q, want %q", got[0].URL, want)
	}
}

func TestURLBuilderCDNPreference(t *testing.T) {
	tests := []struct {
		name string
		b    URLBuilder
		want string
	}{
		{
			"direct",
			URLBuilder{DirectBase: "https://storage.example.com/", CDNBase: "https://cdn.example.com"},
			"https://storage.example.com/rock/a.mp3",
		},
		{
			"cdn enabled",
			URLBuilder{DirectBase: "https://storage.example.com", CDNBase: "https://cdn.example.com", UseCDN: true},
			"https://cdn.example.com/rock/a.mp3",
		},
		{
			"cdn enabled but unset falls back",
			URLBuilder{DirectBase: "https://storage.example.com", UseCDN: true},
			"https://storage.example.com/rock/a.mp3",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.b.Build("a.mp3", "rock"); got != tc.want {
				t.Errorf("Build = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestURLBuilderEscapesSegmentsPreservingSlashes(t *testing.T) {
	b := &URLBuilder{DirectBase: "https://storage.example.com"}
	got := b.Build("小星星 remix.mp3", "儿歌")
	want := "https://storage.example.com/%E5%84%BF%E6%AD%8C/%E5%B0%8F%E6%98%9F%E6%98%9F%20remix.mp3"
	if got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}

func TestURLBuilderEmptyCategory(t *testing.T) {
	b := &URLBuilder{DirectBase: "https://storage.example.com"}
	if got, want := b.Build("a.mp3", ""), "https://storage.example.com/a.mp3"; got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}
