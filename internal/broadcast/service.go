// Package broadcast implements the admin broadcast engine: target
// resolution, rate-limited fan-out through tenant bots, and per-bot delivery
// accounting.
package broadcast

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/language"
	"github.com/botfactory/botfactory/internal/telegram"
)

// Definition describes a broadcast to create.
type Definition struct {
	Title        string
	MessageText  string
	MessageHTML  string
	TargetTier   string
	AllowBasic   bool
	AllowPremium bool
	ScheduledAt  *time.Time
}

// Result summarizes one completed broadcast run.
// Successful+Failed always equals Total.
type Result struct {
	BroadcastID int64
	Total       int64
	Successful  int64
	Failed      int64
}

// Service is the broadcast engine.
type Service struct {
	store   database.Store
	sender  telegram.TokenSender
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewService wires the broadcast engine. The limiter paces every outbound
// message across all targets of a run.
func NewService(store database.Store, sender telegram.TokenSender, limiter *rate.Limiter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		sender:  sender,
		limiter: limiter,
		logger:  logger.With("component", "broadcast"),
	}
}

// Create persists a broadcast definition. No delivery happens here; scheduled
// broadcasts wait for SendDue, immediate ones for an explicit Send.
func (s *Service) Create(ctx context.Context, def Definition) (*database.Broadcast, error) {
	if def.MessageText == "" {
		return nil, fmt.Errorf("broadcast message text is required")
	}
	switch def.TargetTier {
	case database.TierFree, database.TierBasic, database.TierPremium:
	default:
		return nil, fmt.Errorf("invalid target tier %q", def.TargetTier)
	}

	b := &database.Broadcast{
		Title:        def.Title,
		MessageText:  def.MessageText,
		MessageHTML:  SanitizeHTML(def.MessageHTML),
		TargetTier:   def.TargetTier,
		AllowBasic:   def.AllowBasic,
		AllowPremium: def.AllowPremium,
	}
	if def.ScheduledAt != nil {
		b.IsScheduled = true
		b.ScheduledAt = sql.NullTime{Time: def.ScheduledAt.UTC(), Valid: true}
	}

	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Broadcast created",
		"broadcast_id", b.ID, "target_tier", b.TargetTier, "scheduled", b.IsScheduled)
	return b, nil
}

// ResolveTargets lists the bots a broadcast would fan out through: active
// bots with a token, owned by active tenants whose active subscription tier
// is the target tier or an explicitly allowed paid tier.
func (s *Service) ResolveTargets(ctx context.Context, b *database.Broadcast) ([]database.BroadcastTarget, error) {
	tiers := []string{b.TargetTier}
	if b.AllowBasic {
		tiers = append(tiers, database.TierBasic)
	}
	if b.AllowPremium {
		tiers = append(tiers, database.TierPremium)
	}
	return s.store.ListBroadcastTargets(ctx, tiers)
}

// Send runs one broadcast to completion. Re-sending an already-sent broadcast
// returns database.ErrAlreadySent, which callers treat as a distinguishable
// outcome rather than a delivery failure. Counters and is_sent are written
// once, only after every target was attempted.
func (s *Service) Send(ctx context.Context, broadcastID int64) (*Result, error) {
	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.IsSent {
		return nil, database.ErrAlreadySent
	}

	targets, err := s.ResolveTargets(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve targets for broadcast %d: %w", broadcastID, err)
	}

	result := &Result{BroadcastID: broadcastID, Total: int64(len(targets))}

	for _, target := range targets {
		delivered, errMsg := s.sendToBot(ctx, b, target)

		record := &database.BroadcastDelivery{
			BroadcastID:  broadcastID,
			BotID:        target.BotID,
			TenantID:     target.TenantID,
			Delivered:    delivered,
			ErrorMessage: errMsg,
		}
		if delivered {
			record.DeliveredAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
			result.Successful++
		} else {
			result.Failed++
		}

		if err := s.store.SaveDeliveryRecord(ctx, record); err != nil {
			s.logger.WarnContext(ctx, "Failed to save delivery record",
				"broadcast_id", broadcastID, "bot_id", target.BotID, "error", err)
		}
	}

	if err := s.store.MarkBroadcastSent(ctx, broadcastID, result.Total, result.Successful, result.Failed, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to finalize broadcast %d: %w", broadcastID, err)
	}

	s.logger.InfoContext(ctx, "Broadcast sent",
		"broadcast_id", broadcastID, "total", result.Total,
		"successful", result.Successful, "failed", result.Failed)
	return result, nil
}

// sendToBot fans one broadcast out to every chat the bot has talked to.
// Per-recipient failures are isolated; the bot counts as delivered when at
// least one recipient was reached. A bot with no conversations counts as
// delivered.
func (s *Service) sendToBot(ctx context.Context, b *database.Broadcast, target database.BroadcastTarget) (bool, string) {
	chatIDs, err := s.store.ListConversationChatIDs(ctx, target.BotID)
	if err != nil {
		return false, fmt.Sprintf("failed to list chats: %v", err)
	}
	if len(chatIDs) == 0 {
		return true, ""
	}

	message := b.MessageText
	parseMode := ""
	if b.MessageHTML != "" {
		message = b.MessageHTML
		parseMode = "HTML"
	}
	if target.Tier == database.TierFree {
		message += attributionFooter(target.TenantLanguage)
	}

	successCount := 0
	for _, chatID := range chatIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return successCount > 0, fmt.Sprintf("fan-out interrupted: %v", err)
		}

		err := s.sender.SendWithToken(ctx, target.TelegramToken, telegram.SendParams{
			ChatID:    chatID,
			Text:      message,
			ParseMode: parseMode,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "Broadcast delivery to chat failed",
				"broadcast_id", b.ID, "bot_id", target.BotID, "chat_id", chatID, "error", err)
			continue
		}
		successCount++
	}

	if successCount == 0 {
		return false, "failed to reach any recipient"
	}
	return true, ""
}

// SendDue sends every unsent scheduled broadcast whose time has come.
// Failures are logged per broadcast and the sweep continues.
func (s *Service) SendDue(ctx context.Context) error {
	due, err := s.store.ListDueScheduledBroadcasts(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to list due broadcasts: %w", err)
	}

	for _, b := range due {
		if _, err := s.Send(ctx, b.ID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send scheduled broadcast",
				"broadcast_id", b.ID, "error", err)
		}
	}
	return nil
}

// CancelScheduled removes an unsent scheduled broadcast. Cancelling one that
// already went out returns database.ErrAlreadySent.
func (s *Service) CancelScheduled(ctx context.Context, broadcastID int64) error {
	return s.store.CancelScheduledBroadcast(ctx, broadcastID)
}

// attributionFooter is appended to messages delivered through free-tier
// tenants' bots.
func attributionFooter(lang string) string {
	switch lang {
	case language.Russian:
		return "\n\n📢 Это сообщение отправлено платформой BotFactory"
	case language.English:
		return "\n\n📢 This message is sent by BotFactory platform"
	default:
		return "\n\n📢 Bu xabar BotFactory platformasi tomonidan yuborildi"
	}
}
