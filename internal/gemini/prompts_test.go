package gemini

import (
	"context"
	"strings"
	"testing"

	"github.com/botfactory/botfactory/internal/language"
)

func TestBuildSystemInstruction(t *testing.T) {
	t.Parallel()

	req := ReplyRequest{
		SystemPrompt:   "You are a sales assistant.",
		BotName:        "ShopBot",
		BotDescription: "Answers questions about our catalog",
		Language:       language.Russian,
		Knowledge: []KnowledgeItem{
			{Title: "Mountain Bike", Content: "A sturdy bicycle", ImageURL: "https://example.com/bike.jpg", ImageCaption: "Red bike"},
			{Title: "Helmet", Content: "Safety first"},
		},
		UserText: "привет",
	}

	got := buildSystemInstruction(req)

	for _, want := range []string{
		"You are a sales assistant.",
		`You are a chatbot named "ShopBot".`,
		"Description: Answers questions about our catalog",
		"ТОЛЬКО НА РУССКОМ",
		"Mountain Bike: A sturdy bicycle",
		"https://example.com/bike.jpg",
		"Red bike",
		"Helmet: Safety first",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system instruction missing %q", want)
		}
	}

	// The entry without media must not get image hints.
	if strings.Count(got, "Product Image") != 1 {
		t.Errorf("expected exactly one image hint, got %d", strings.Count(got, "Product Image"))
	}
}

func TestLanguageDirective(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang string
		want string
	}{
		{language.Uzbek, "O'ZBEK TILIDA"},
		{language.Russian, "НА РУССКОМ"},
		{language.English, "ONLY in ENGLISH"},
		{language.Auto, "same language as the user's message"},
		{"", "same language as the user's message"},
	}

	for _, tt := range tests {
		if got := languageDirective(tt.lang); !strings.Contains(got, tt.want) {
			t.Errorf("languageDirective(%q) missing %q", tt.lang, tt.want)
		}
	}
}

func TestDisabledClient(t *testing.T) {
	t.Parallel()

	c := disabledClient{}

	if _, err := c.GenerateReply(context.Background(), ReplyRequest{UserText: "hi"}); err != ErrUnavailable {
		t.Errorf("GenerateReply error = %v, want ErrUnavailable", err)
	}
	if got := c.ClassifySentiment(context.Background(), "great"); got != "neutral" {
		t.Errorf("ClassifySentiment = %q, want neutral", got)
	}
}
