package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/albumforge/albumforge/internal/config"
)

func TestBuildSummaryRequest(t *testing.T) {
	got := buildSummaryRequest(AlbumStats{
		PeopleCounts: map[string]int{"Bob": 3, "Alice": 5},
		UnknownCount: 2,
		TotalPhotos:  10,
	})

	if !strings.Contains(got, "Album of 10 photos") {
		t.Errorf("missing total: %q", got)
	}
	// Names are listed in sorted order for deterministic prompts.
	if strings.Index(got, "Alice") > strings.Index(got, "Bob") {
		t.Errorf("names not sorted: %q", got)
	}
	if !strings.Contains(got, "Alice appears in 5 photos") {
		t.Errorf("missing per-person count: %q", got)
	}
	if !strings.Contains(got, "2 photos matched nobody") {
		t.Errorf("missing unknown count: %q", got)
	}
}

func TestBuildSummaryRequest_NoUnknown(t *testing.T) {
	got := buildSummaryRequest(AlbumStats{
		PeopleCounts: map[string]int{"Alice": 1},
		TotalPhotos:  1,
	})
	if strings.Contains(got, "matched nobody") {
		t.Errorf("unknown line should be omitted when zero: %q", got)
	}
}

func TestNewSummarizer(t *testing.T) {
	ctx := context.Background()

	s, err := NewSummarizer(ctx, config.AIConfig{})
	if err != nil || s != nil {
		t.Errorf("empty provider should disable summaries, got %v, %v", s, err)
	}

	if _, err := NewSummarizer(ctx, config.AIConfig{Provider: "gemini"}); err == nil {
		t.Error("gemini without API key should fail")
	}
	if _, err := NewSummarizer(ctx, config.AIConfig{Provider: "openai"}); err == nil {
		t.Error("openai without token should fail")
	}
	if _, err := NewSummarizer(ctx, config.AIConfig{Provider: "claude"}); err == nil {
		t.Error("unknown provider should fail")
	}

	s, err = NewSummarizer(ctx, config.AIConfig{Provider: "openai", OpenAIToken: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != chatModel {
		t.Errorf("unexpected provider name %q", s.Name())
	}
}
