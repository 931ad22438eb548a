// Package dispatch implements the per-message pipeline: language resolution,
// AI reply generation, persistence side effects, and admin notifications.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/gemini"
	"github.com/botfactory/botfactory/internal/language"
	"github.com/botfactory/botfactory/internal/telegram"
	"github.com/botfactory/botfactory/internal/work"
)

// Pipeline processes inbound events for every running bot. One instance is
// shared across connections; per-bot state travels in the bot snapshot bound
// at start time.
type Pipeline struct {
	store     database.Store
	ai        gemini.Client
	prefs     *language.Preferences
	detector  language.Detector
	exec      *work.Executor
	logger    *slog.Logger
	aiTimeout time.Duration
}

// NewPipeline wires the dispatch pipeline.
func NewPipeline(
	store database.Store,
	ai gemini.Client,
	prefs *language.Preferences,
	detector language.Detector,
	exec *work.Executor,
	logger *slog.Logger,
	aiTimeout time.Duration,
) *Pipeline {
	return &Pipeline{
		store:     store,
		ai:        ai,
		prefs:     prefs,
		detector:  detector,
		exec:      exec,
		logger:    logger.With("component", "dispatch"),
		aiTimeout: aiTimeout,
	}
}

// HandlerFor binds the pipeline to one bot's configuration snapshot. The
// runtime manager calls this once per Start.
func (p *Pipeline) HandlerFor(bot *database.Bot) telegram.EventHandler {
	return func(ctx context.Context, sender telegram.Sender, event telegram.Event) {
		p.handle(ctx, bot, sender, event)
	}
}

func (p *Pipeline) handle(ctx context.Context, bot *database.Bot, sender telegram.Sender, event telegram.Event) {
	log := p.logger.With("bot_id", bot.ID, "participant_id", event.ParticipantID)

	switch {
	case event.CallbackData != "":
		p.handleCallback(ctx, bot, sender, event, log)
	case strings.HasPrefix(event.Text, "/start"):
		p.handleStart(ctx, bot, sender, event, log)
	case strings.HasPrefix(event.Text, "/help"):
		p.handleHelp(ctx, bot, sender, event)
	case event.Text != "":
		p.handleMessage(ctx, bot, sender, event, log)
	}
}

// handleStart shows the language keyboard to new participants and a welcome
// with a change-language button to known ones.
func (p *Pipeline) handleStart(ctx context.Context, bot *database.Bot, sender telegram.Sender, event telegram.Event, log *slog.Logger) {
	participant, err := p.store.GetParticipant(ctx, event.ParticipantID)
	if err != nil {
		log.WarnContext(ctx, "Failed to look up participant on /start", "error", err)
	}
	isNew := participant == nil

	if isNew {
		err = sender.Send(ctx, telegram.SendParams{
			ChatID:  event.ChatID,
			Text:    languagePrompt(event.FirstName, bot.Name),
			Buttons: languageButtons(),
		})
		if err != nil {
			log.WarnContext(ctx, "Failed to send language prompt", "error", err)
		}

		p.notifyAdmin(bot, sender, fmt.Sprintf("🆕 Yangi foydalanuvchi: %s (@%s) - ID: %d",
			event.FirstName, orPlaceholder(event.Username), event.ParticipantID))
	} else {
		lang := participant.Language
		err = sender.Send(ctx, telegram.SendParams{
			ChatID:  event.ChatID,
			Text:    welcomeWithChangeOption(event.FirstName, bot.Name, lang),
			Buttons: changeLanguageButton(),
		})
		if err != nil {
			log.WarnContext(ctx, "Failed to send welcome", "error", err)
		}
	}

	p.exec.Go("bot_stats", func(ctx context.Context) error {
		return p.store.IncrementBotStats(ctx, bot.ID, isNew)
	})
}

func (p *Pipeline) handleHelp(ctx context.Context, bot *database.Bot, sender telegram.Sender, event telegram.Event) {
	lang := p.prefs.Get(ctx, event.ParticipantID)
	_ = sender.Send(ctx, telegram.SendParams{
		ChatID: event.ChatID,
		Text:   helpMessage(bot.Name, lang),
	})
}

// handleCallback persists language selections and re-shows the prompt on a
// change-language request.
func (p *Pipeline) handleCallback(ctx context.Context, bot *database.Bot, sender telegram.Sender, event telegram.Event, log *slog.Logger) {
	switch event.CallbackData {
	case callbackChangeLanguage:
		err := sender.Send(ctx, telegram.SendParams{
			ChatID:  event.ChatID,
			Text:    languagePrompt(event.FirstName, bot.Name),
			Buttons: languageButtons(),
		})
		if err != nil {
			log.WarnContext(ctx, "Failed to send language prompt", "error", err)
		}

	case callbackLangUzbek, callbackLangRussian, callbackLangEnglish:
		lang := strings.TrimPrefix(event.CallbackData, "lang_")
		if err := p.prefs.Set(ctx, event.ParticipantID, event.Username, event.FirstName, lang); err != nil {
			// A confirmation here would lie: the choice is gone after a
			// restart. Report the error and keep the participant on the
			// keyboard.
			log.WarnContext(ctx, "Failed to persist language selection", "language", lang, "error", err)
			_ = sender.Send(ctx, telegram.SendParams{ChatID: event.ChatID, Text: errorReply(lang)})
			return
		}

		// The selection callback also establishes the conversation so the
		// participant is immediately reachable by broadcasts.
		conv := &database.Conversation{
			BotID:         bot.ID,
			ParticipantID: event.ParticipantID,
			ChatID:        event.ChatID,
			Username:      event.Username,
		}
		if _, err := p.store.UpsertConversation(ctx, conv); err != nil {
			log.WarnContext(ctx, "Failed to upsert conversation on language selection", "error", err)
		}

		err := sender.Send(ctx, telegram.SendParams{
			ChatID: event.ChatID,
			Text:   selectionCompleted(lang) + "\n\n" + welcomeMessage(event.FirstName, bot.Name, lang),
		})
		if err != nil {
			log.WarnContext(ctx, "Failed to confirm language selection", "error", err)
		}

	default:
		log.DebugContext(ctx, "Ignoring unhandled callback", "data", event.CallbackData)
	}
}

// handleMessage runs the full AI exchange for a regular text message.
func (p *Pipeline) handleMessage(ctx context.Context, bot *database.Bot, sender telegram.Sender, event telegram.Event, log *slog.Logger) {
	lang := p.prefs.Get(ctx, event.ParticipantID)

	if lang == "" {
		known, err := p.store.HasConversation(ctx, bot.ID, event.ParticipantID)
		if err != nil {
			log.WarnContext(ctx, "Failed to check conversation existence", "error", err)
		}
		if !known {
			// First contact: ask for a language instead of answering. The
			// selection callback re-enters the pipeline.
			err := sender.Send(ctx, telegram.SendParams{
				ChatID:  event.ChatID,
				Text:    languagePrompt(event.FirstName, bot.Name),
				Buttons: languageButtons(),
			})
			if err != nil {
				log.WarnContext(ctx, "Failed to send first-contact language prompt", "error", err)
			}
			return
		}
		lang = p.detector.Detect(event.Text)
	}

	conv := &database.Conversation{
		BotID:         bot.ID,
		ParticipantID: event.ParticipantID,
		ChatID:        event.ChatID,
		Username:      event.Username,
	}
	created, err := p.store.UpsertConversation(ctx, conv)
	if err != nil {
		log.WarnContext(ctx, "Failed to upsert conversation", "error", err)
	}

	entries, err := p.store.GetKnowledgeEntries(ctx, bot.ID)
	if err != nil {
		log.WarnContext(ctx, "Failed to load knowledge entries", "error", err)
		entries = nil
	}

	reply := p.generateReply(ctx, bot, lang, entries, event.Text, log)

	params := telegram.SendParams{ChatID: event.ChatID, Text: reply}
	if media := findRelevantMedia(event.Text, entries); media != nil {
		params.MediaURL = media.ImageURL
		params.MediaCaption = media.ImageCaption
		if params.MediaCaption == "" {
			params.MediaCaption = media.Title
		}
	}

	if err := sender.Send(ctx, params); err != nil {
		log.WarnContext(ctx, "Failed to send reply", "error", err)
		return
	}

	// Persistence side effects never block or fail the exchange.
	if conv.ID != 0 {
		conversationID := conv.ID
		userText := event.Text
		p.exec.Go("save_exchange", func(ctx context.Context) error {
			return p.store.SaveExchange(ctx, conversationID, userText, reply)
		})
	}
	p.exec.Go("bot_stats", func(ctx context.Context) error {
		return p.store.IncrementBotStats(ctx, bot.ID, created)
	})

	if bot.AdminChatID != 0 || bot.NotificationChannel != 0 {
		userText := event.Text
		firstName, username, participantID := event.FirstName, event.Username, event.ParticipantID
		p.exec.Go("exchange_notification", func(ctx context.Context) error {
			sentiment := "neutral"
			_ = work.RunWithTimeout(ctx, p.aiTimeout, func(ctx context.Context) error {
				sentiment = p.ai.ClassifySentiment(ctx, userText)
				return nil
			})
			p.notifyAdmin(bot, sender, fmt.Sprintf("💬 Yangi xabar\n👤 Foydalanuvchi: %s (@%s)\n🆔 ID: %d\n🌐 Til: %s\n📊 Kayfiyat: %s\n📝 Xabar: %s\n\n🤖 Bot javobi\n📤 Javob: %s",
				firstName, orPlaceholder(username), participantID, lang, sentiment, userText, reply))
			return nil
		})
	}
}

// generateReply calls the AI backend with a bounded timeout. Any failure
// degrades to the localized fallback string.
func (p *Pipeline) generateReply(ctx context.Context, bot *database.Bot, lang string, entries []database.KnowledgeEntry, userText string, log *slog.Logger) string {
	knowledge := make([]gemini.KnowledgeItem, 0, len(entries))
	for _, e := range entries {
		knowledge = append(knowledge, gemini.KnowledgeItem{
			Title:        e.Title,
			Content:      e.Content,
			ImageURL:     e.ImageURL,
			ImageCaption: e.ImageCaption,
		})
	}

	var reply string
	err := work.RunWithTimeout(ctx, p.aiTimeout, func(ctx context.Context) error {
		var genErr error
		reply, genErr = p.ai.GenerateReply(ctx, gemini.ReplyRequest{
			SystemPrompt:   bot.SystemPrompt,
			BotName:        bot.Name,
			BotDescription: bot.Description,
			Language:       lang,
			Knowledge:      knowledge,
			UserText:       userText,
		})
		return genErr
	})
	if err != nil {
		log.WarnContext(ctx, "AI reply generation failed, using fallback", "error", err)
		return fallbackReply(lang)
	}
	return reply
}

// findRelevantMedia returns the first knowledge entry with an image whose
// topic overlaps the user text, but only when the text asks to see something.
func findRelevantMedia(userText string, entries []database.KnowledgeEntry) *database.KnowledgeEntry {
	if !language.WantsMedia(userText) {
		return nil
	}
	for i := range entries {
		e := &entries[i]
		if e.ImageURL == "" {
			continue
		}
		if language.MatchesTopic(userText, e.Title, e.Content) {
			return e
		}
	}
	return nil
}

// notifyAdmin sends a best-effort copy of the exchange to the bot's admin
// chat and notification channel. Each destination fails independently.
func (p *Pipeline) notifyAdmin(bot *database.Bot, sender telegram.Sender, text string) {
	destinations := make([]int64, 0, 2)
	if bot.AdminChatID != 0 {
		destinations = append(destinations, bot.AdminChatID)
	}
	if bot.NotificationChannel != 0 {
		destinations = append(destinations, bot.NotificationChannel)
	}

	for _, chatID := range destinations {
		chatID := chatID
		p.exec.Go("admin_notification", func(ctx context.Context) error {
			if err := sender.Send(ctx, telegram.SendParams{ChatID: chatID, Text: text}); err != nil {
				return fmt.Errorf("failed to notify chat %d for bot %d: %w", chatID, bot.ID, err)
			}
			return nil
		})
	}
}

func orPlaceholder(username string) string {
	if username == "" {
		return "username yoq"
	}
	return username
}
