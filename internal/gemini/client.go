// Package gemini implements integration with Google's Gemini AI API.
// It generates the conversational replies the dispatch pipeline delivers.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/botfactory/botfactory/internal/config"
)

// ErrUnavailable is returned by a disabled client (no API key configured).
// Callers map it, like every other failure, to the localized fallback reply.
var ErrUnavailable = errors.New("AI service is unavailable")

// KnowledgeItem is one knowledge base entry serialized into the prompt.
type KnowledgeItem struct {
	Title        string
	Content      string
	ImageURL     string
	ImageCaption string
}

// ReplyRequest carries everything needed to build one reply.
type ReplyRequest struct {
	SystemPrompt   string
	BotName        string
	BotDescription string
	Language       string
	Knowledge      []KnowledgeItem
	UserText       string
}

// Exchange is one request/response pair for summarization.
type Exchange struct {
	UserMessage string
	BotResponse string
}

// Client defines the interface for AI operations used throughout the application.
type Client interface {
	// GenerateReply produces a conversational reply for one inbound message.
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)

	// ClassifySentiment labels text as positive, negative or neutral.
	// Any failure degrades to neutral.
	ClassifySentiment(ctx context.Context, text string) string

	// SummarizeConversation produces a short summary of recent exchanges.
	SummarizeConversation(ctx context.Context, exchanges []Exchange) (string, error)
}

type sdkClient struct {
	genaiClient *genai.Client
	log         *slog.Logger
	modelName   string
	maxRetries  int
	retryDelay  time.Duration
}

// NewClient creates a new Gemini AI client with the provided configuration.
// An empty API key yields a disabled client whose calls report unavailability
// instead of panicking, so bots keep answering with fallback replies.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	logger := log.With("component", "gemini_client")

	if cfg.APIKey == "" {
		logger.Warn("Gemini API key not configured, AI responses disabled")
		return &disabledClient{}, nil
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger.Info("Gemini client initialized successfully", "model", cfg.Model)
	return &sdkClient{
		genaiClient: gi,
		log:         logger,
		modelName:   cfg.Model,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  2 * time.Second,
	}, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry",
			"attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError",
					"delay", c.retryDelay, "code", apiErr.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

func (c *sdkClient) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	c.log.DebugContext(ctx, "Generating reply", "bot_name", req.BotName, "language", req.Language)

	temperature := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 1000,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: buildSystemInstruction(req)}},
		},
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserText, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini reply generation failed", "error", err)
		return "", err
	}

	return c.extractTextFromResponse(ctx, resp, "reply")
}

func (c *sdkClient) ClassifySentiment(ctx context.Context, text string) string {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(SentimentPrompt, text), genai.RoleUser),
	}

	resp, err := c.generateContentWithRetries(ctx, contents, &genai.GenerateContentConfig{})
	if err != nil {
		c.log.WarnContext(ctx, "Sentiment classification failed, defaulting to neutral", "error", err)
		return "neutral"
	}

	label, err := c.extractTextFromResponse(ctx, resp, "sentiment")
	if err != nil {
		return "neutral"
	}

	switch label = strings.ToLower(strings.TrimSpace(label)); label {
	case "positive", "negative", "neutral":
		return label
	default:
		return "neutral"
	}
}

func (c *sdkClient) SummarizeConversation(ctx context.Context, exchanges []Exchange) (string, error) {
	if len(exchanges) == 0 {
		return "", fmt.Errorf("no conversation to summarize")
	}

	// Only the last 10 exchanges feed the prompt.
	if len(exchanges) > 10 {
		exchanges = exchanges[len(exchanges)-10:]
	}

	var sb strings.Builder
	for _, ex := range exchanges {
		sb.WriteString("User: " + ex.UserMessage + "\nBot: " + ex.BotResponse + "\n")
	}

	temperature := float32(0.3)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 150,
	}
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(SummaryPrompt, sb.String()), genai.RoleUser),
	}

	resp, err := c.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Conversation summarization failed", "error", err)
		return "", err
	}

	return c.extractTextFromResponse(ctx, resp, "summary")
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse, op string) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", op)
	}
	return text, nil
}

// disabledClient reports unavailability on every call. It stands in for the
// real client when no API key is configured.
type disabledClient struct{}

func (disabledClient) GenerateReply(context.Context, ReplyRequest) (string, error) {
	return "", ErrUnavailable
}

func (disabledClient) ClassifySentiment(context.Context, string) string {
	return "neutral"
}

func (disabledClient) SummarizeConversation(context.Context, []Exchange) (string, error) {
	return "", ErrUnavailable
}
