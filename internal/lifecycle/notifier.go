// Package lifecycle runs the subscription lifecycle sweep: expiry reminders,
// expiry enforcement and the bot shutdowns that follow.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/telegram"
)

// Reminder windows. Expiring-soon checks use a ±1h tolerance around the
// target moment so an hourly sweep catches each subscription exactly once
// per day.
const (
	trialReminderLead = 72 * time.Hour
	paidReminderLead  = 24 * time.Hour
	windowTolerance   = time.Hour
)

// BotStopper shuts down a running bot instance. Satisfied by runtime.Manager.
type BotStopper interface {
	Stop(ctx context.Context, botID int64) error
}

// Notifier owns the lifecycle sweep.
type Notifier struct {
	store   database.Store
	sender  telegram.TokenSender
	stopper BotStopper
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewNotifier wires the lifecycle sweep. The limiter paces reminder fan-out
// the same way broadcast delivery is paced.
func NewNotifier(store database.Store, sender telegram.TokenSender, stopper BotStopper, limiter *rate.Limiter, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:   store,
		sender:  sender,
		stopper: stopper,
		limiter: limiter,
		logger:  logger.With("component", "lifecycle"),
	}
}

// Sweep runs all four lifecycle checks once. Each check is independent;
// a failure in one is logged and the rest still run.
func (n *Notifier) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	if err := n.sweepExpiringSoon(ctx, now); err != nil {
		n.logger.ErrorContext(ctx, "Expiry reminder sweep failed", "error", err)
	}
	if err := n.sweepExpired(ctx, now); err != nil {
		n.logger.ErrorContext(ctx, "Expiry enforcement sweep failed", "error", err)
	}
	return nil
}

// sweepExpiringSoon sends reminders for trials ending in ~3 days and paid
// subscriptions ending in ~1 day.
func (n *Notifier) sweepExpiringSoon(ctx context.Context, now time.Time) error {
	trialAt := now.Add(trialReminderLead)
	trials, err := n.store.ListSubscriptionsEndingBetween(ctx, trialAt.Add(-windowTolerance), trialAt.Add(windowTolerance))
	if err != nil {
		return fmt.Errorf("failed to list trials expiring soon: %w", err)
	}
	for _, sub := range trials {
		if !sub.IsTrial() {
			continue
		}
		n.notifyOnce(ctx, now, sub, database.EventTrialExpiringSoon)
	}

	paidAt := now.Add(paidReminderLead)
	paid, err := n.store.ListSubscriptionsEndingBetween(ctx, paidAt.Add(-windowTolerance), paidAt.Add(windowTolerance))
	if err != nil {
		return fmt.Errorf("failed to list paid subscriptions expiring soon: %w", err)
	}
	for _, sub := range paid {
		if sub.IsTrial() {
			continue
		}
		n.notifyOnce(ctx, now, sub, database.EventPaidExpiringSoon)
	}
	return nil
}

// sweepExpired notifies tenants whose subscription has run out and enforces
// the expiry: every tenant bot is deactivated and its running instance
// stopped. Paid subscriptions are additionally marked inactive; expired
// trials keep their subscription row so an upgrade reactivates in place.
func (n *Notifier) sweepExpired(ctx context.Context, now time.Time) error {
	expired, err := n.store.ListExpiredSubscriptions(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list expired subscriptions: %w", err)
	}

	for _, sub := range expired {
		eventType := database.EventPaidExpired
		if sub.IsTrial() {
			eventType = database.EventTrialExpired
		}

		notified := n.notifyOnce(ctx, now, sub, eventType)
		if !notified {
			continue
		}

		if !sub.IsTrial() {
			if err := n.store.DeactivateSubscription(ctx, sub.TenantID); err != nil {
				n.logger.ErrorContext(ctx, "Failed to deactivate subscription",
					"tenant_id", sub.TenantID, "error", err)
			}
		}
		n.shutDownTenantBots(ctx, sub.TenantID)
	}
	return nil
}

// notifyOnce sends a lifecycle notification unless one of the same type was
// already recorded for the tenant today. Returns true when the notification
// was newly sent this sweep.
func (n *Notifier) notifyOnce(ctx context.Context, now time.Time, sub database.ExpiringSubscription, eventType string) bool {
	seen, err := n.store.HasNotificationEventOn(ctx, sub.TenantID, eventType, now)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to check notification history",
			"tenant_id", sub.TenantID, "event_type", eventType, "error", err)
		return false
	}
	if seen {
		return false
	}

	message := notificationMessage(eventType, sub.TenantLanguage)
	if message == "" {
		n.logger.ErrorContext(ctx, "No template for lifecycle event", "event_type", eventType)
		return false
	}

	sentCount, errMsg := n.fanOut(ctx, sub.TenantID, message)

	ev := &database.NotificationEvent{
		TenantID:     sub.TenantID,
		EventType:    eventType,
		MessageText:  message,
		IsSent:       true,
		SentAt:       sql.NullTime{Time: time.Now().UTC(), Valid: true},
		ErrorMessage: errMsg,
	}
	if err := n.store.SaveNotificationEvent(ctx, ev); err != nil {
		n.logger.ErrorContext(ctx, "Failed to record notification event",
			"tenant_id", sub.TenantID, "event_type", eventType, "error", err)
		return false
	}

	n.logger.InfoContext(ctx, "Lifecycle notification sent",
		"tenant_id", sub.TenantID, "event_type", eventType, "recipients", sentCount)
	return true
}

// fanOut delivers a lifecycle message through every active bot of the tenant
// to every chat that bot has talked to. Returns the number of messages
// delivered and an error summary for the event record.
func (n *Notifier) fanOut(ctx context.Context, tenantID int64, message string) (int, string) {
	bots, err := n.store.ListActiveTenantBots(ctx, tenantID)
	if err != nil {
		return 0, fmt.Sprintf("failed to list tenant bots: %v", err)
	}
	if len(bots) == 0 {
		return 0, "no active bots found"
	}

	sentCount := 0
	for _, b := range bots {
		chatIDs, err := n.store.ListConversationChatIDs(ctx, b.ID)
		if err != nil {
			n.logger.WarnContext(ctx, "Failed to list chats for lifecycle notification",
				"bot_id", b.ID, "error", err)
			continue
		}

		for _, chatID := range chatIDs {
			if err := n.limiter.Wait(ctx); err != nil {
				return sentCount, fmt.Sprintf("fan-out interrupted: %v", err)
			}
			err := n.sender.SendWithToken(ctx, b.TelegramToken, telegram.SendParams{
				ChatID: chatID,
				Text:   message,
			})
			if err != nil {
				n.logger.WarnContext(ctx, "Lifecycle notification delivery failed",
					"bot_id", b.ID, "chat_id", chatID, "error", err)
				continue
			}
			sentCount++
		}
	}

	if sentCount == 0 {
		return 0, "no messages sent successfully"
	}
	return sentCount, ""
}

// shutDownTenantBots deactivates every bot of the tenant in the database and
// stops the instances that were running.
func (n *Notifier) shutDownTenantBots(ctx context.Context, tenantID int64) {
	runningIDs, err := n.store.DeactivateTenantBots(ctx, tenantID)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to deactivate tenant bots",
			"tenant_id", tenantID, "error", err)
		return
	}

	for _, botID := range runningIDs {
		if err := n.stopper.Stop(ctx, botID); err != nil {
			n.logger.WarnContext(ctx, "Failed to stop expired bot",
				"bot_id", botID, "error", err)
		}
	}

	if len(runningIDs) > 0 {
		n.logger.InfoContext(ctx, "Stopped bots for expired tenant",
			"tenant_id", tenantID, "count", len(runningIDs))
	}
}
