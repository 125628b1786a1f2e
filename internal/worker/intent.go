package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/k811069/Bunny-serve-sub001/internal/content"
)

// intentKind classifies a transcript as a content request or ordinary chat.
type intentKind int

const (
	intentNone intentKind = iota
	intentMusic
	intentStory
)

// musicTriggers and storyTriggers are matched as substrings of the lowered
// transcript. Chinese phrasing first since that is the default deployment
// language.
var (
	musicTriggers = []string{"播放", "放一首", "来一首", "唱一首", "听歌", "play a song", "play some music", "play music"}
	storyTriggers = []string{"讲个故事", "讲故事", "听故事", "tell me a story", "tell a story"}

	// queryPrefixes are trimmed off the transcript to recover the search
	// phrase ("播放小星星" yields "小星星").
	queryPrefixes = []string{
		"请", "帮我", "我想", "我要",
		"播放", "放一首", "来一首", "唱一首", "听歌",
		"讲个故事", "讲故事", "听故事",
		"please ", "play a song ", "play some music", "play music", "play ",
		"tell me a story about ", "tell me a story", "tell a story",
	}
)

func detectIntent(transcript string) (intentKind, string) {
	lowered := strings.ToLower(strings.TrimSpace(transcript))
	kind := intentNone
	for _, t := range musicTriggers {
		if strings.Contains(lowered, t) {
			kind = intentMusic
			break
		}
	}
	if kind == intentNone {
		for _, t := range storyTriggers {
			if strings.Contains(lowered, t) {
				kind = intentStory
				break
			}
		}
	}
	if kind == intentNone {
		return intentNone, ""
	}

	query := lowered
	for changed := true; changed; {
		changed = false
		for _, p := range queryPrefixes {
			if strings.HasPrefix(query, p) {
				query = strings.TrimSpace(strings.TrimPrefix(query, p))
				changed = true
			}
		}
	}
	query = strings.Trim(query, "。，？！ .,?!")
	return kind, query
}

// contentIntercept resolves "play music" and "tell a story" requests against
// the catalog instead of the language model. A transcript with no content
// intent is passed through (handled=false). No search result is a spoken
// fallback line, never an error.
func (w *Worker) contentIntercept(catalog *Catalog) func(ctx context.Context, transcript string) (string, bool, error) {
	return func(ctx context.Context, transcript string) (string, bool, error) {
		kind, query := detectIntent(transcript)
		if kind == intentNone {
			return "", false, nil
		}

		domain := content.DomainMusic
		if kind == intentStory {
			domain = content.DomainStory
		}

		var (
			item content.RankedResult
			ok   bool
		)
		if query == "" {
			var err error
			item, ok, err = catalog.Random(ctx, domain, "")
			if err != nil {
				return "", false, err
			}
		} else {
			results, err := catalog.Search(ctx, domain, query, "", 1)
			if err != nil {
				return "", false, err
			}
			if len(results) > 0 {
				item, ok = results[0], true
			}
		}

		if !ok {
			w.log.Warn("no content matched request", "domain", domain, "query", query)
			if domain == content.DomainStory {
				return "我还没有找到合适的故事，换个说法再试试吧。", true, nil
			}
			return "我还没有找到这首歌，换个说法再试试吧。", true, nil
		}

		if domain == content.DomainStory {
			return fmt.Sprintf("好的，给你讲《%s》。", item.Title), true, nil
		}
		return fmt.Sprintf("好的，为你播放《%s》。", item.Title), true, nil
	}
}
