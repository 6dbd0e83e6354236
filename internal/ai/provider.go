// Package ai generates short album summaries from match statistics. The
// summary is an optional nicety embedded in the album manifest; any failure
// here degrades to an empty summary, never a failed build.
package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/albumforge/albumforge/internal/config"
)

// AlbumStats is the input to a summary: who was found and how often.
type AlbumStats struct {
	PeopleCounts map[string]int // person -> matched photo count
	UnknownCount int
	TotalPhotos  int
}

// Summarizer produces a one-paragraph album description.
type Summarizer interface {
	Name() string
	SummarizeAlbum(ctx context.Context, stats AlbumStats) (string, error)
}

// NewSummarizer builds the configured provider. Returns nil (no summaries)
// when no provider is configured.
func NewSummarizer(ctx context.Context, cfg config.AIConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required for provider gemini")
		}
		return NewGeminiSummarizer(ctx, cfg.GeminiAPIKey)
	case "openai":
		if cfg.OpenAIToken == "" {
			return nil, fmt.Errorf("OPENAI_TOKEN environment variable is required for provider openai")
		}
		return NewOpenAISummarizer(cfg.OpenAIToken), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s (supported: gemini, openai)", cfg.Provider)
	}
}

const summarySystemPrompt = `You write one short, warm paragraph describing a photo album that was automatically organized by the people appearing in it. You are given per-person photo counts. Do not invent names or events beyond the data. Plain text only, no markdown, at most three sentences.`

func buildSummaryRequest(stats AlbumStats) string {
	names := make([]string, 0, len(stats.PeopleCounts))
	for name := range stats.PeopleCounts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Album of %d photos.\n", stats.TotalPhotos)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s appears in %d photos\n", name, stats.PeopleCounts[name])
	}
	if stats.UnknownCount > 0 {
		fmt.Fprintf(&b, "- %d photos matched nobody\n", stats.UnknownCount)
	}
	return b.String()
}
