package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadySent indicates a broadcast has already been delivered.
	ErrAlreadySent = errors.New("broadcast already sent")
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// --- Bots ---

	// GetBot retrieves a bot by ID. Returns ErrNotFound when missing.
	GetBot(ctx context.Context, botID int64) (*Bot, error)

	// ListBotsByStatus retrieves all bots with the given status whose owning
	// tenant is active.
	ListBotsByStatus(ctx context.Context, status string) ([]Bot, error)

	// UpdateBotStatus sets the status column for a bot.
	UpdateBotStatus(ctx context.Context, botID int64, status string) error

	// IncrementBotStats bumps total_messages (and total_users when newUser)
	// and refreshes last_activity. Atomic at the SQL level.
	IncrementBotStats(ctx context.Context, botID int64, newUser bool) error

	// ListActiveTenantBots retrieves a tenant's active bots that carry a
	// Telegram token.
	ListActiveTenantBots(ctx context.Context, tenantID int64) ([]Bot, error)

	// DeactivateTenantBots marks every bot of a tenant inactive and returns
	// the IDs of the bots that were running (status=active) before the update.
	DeactivateTenantBots(ctx context.Context, tenantID int64) ([]int64, error)

	// GetKnowledgeEntries retrieves all knowledge entries for a bot.
	GetKnowledgeEntries(ctx context.Context, botID int64) ([]KnowledgeEntry, error)

	// --- Participants & conversations ---

	// GetParticipant retrieves a participant by Telegram user ID.
	// Returns nil, nil when the participant has never been seen.
	GetParticipant(ctx context.Context, participantID int64) (*Participant, error)

	// SaveParticipant upserts a participant row keyed by participant_id.
	SaveParticipant(ctx context.Context, p *Participant) error

	// UpsertConversation inserts or refreshes the (bot, participant) row and
	// fills in conv.ID. Returns true when the row was newly created.
	UpsertConversation(ctx context.Context, conv *Conversation) (bool, error)

	// HasConversation reports whether a (bot, participant) pairing exists.
	HasConversation(ctx context.Context, botID, participantID int64) (bool, error)

	// ListConversationChatIDs retrieves the distinct chat IDs a bot has
	// conversations in.
	ListConversationChatIDs(ctx context.Context, botID int64) ([]int64, error)

	// SaveExchange appends a message exchange and bumps the conversation
	// counters in one transaction.
	SaveExchange(ctx context.Context, conversationID int64, userMessage, botResponse string) error

	// ListExchanges retrieves the most recent exchanges of a conversation,
	// oldest first. Returns ErrNotFound when the conversation does not exist.
	ListExchanges(ctx context.Context, conversationID int64, limit int) ([]Message, error)

	// --- Broadcasts ---

	// CreateBroadcast inserts a broadcast definition and fills in b.ID.
	CreateBroadcast(ctx context.Context, b *Broadcast) error

	// GetBroadcast retrieves a broadcast by ID. Returns ErrNotFound when missing.
	GetBroadcast(ctx context.Context, id int64) (*Broadcast, error)

	// ListDueScheduledBroadcasts retrieves unsent scheduled broadcasts whose
	// scheduled time is at or before asOf.
	ListDueScheduledBroadcasts(ctx context.Context, asOf time.Time) ([]Broadcast, error)

	// CancelScheduledBroadcast removes an unsent scheduled broadcast.
	// Returns ErrAlreadySent when the broadcast was already delivered.
	CancelScheduledBroadcast(ctx context.Context, id int64) error

	// MarkBroadcastSent writes the final counters, is_sent and sent_at in one
	// statement. Called exactly once per successful run.
	MarkBroadcastSent(ctx context.Context, id int64, total, successful, failed int64, sentAt time.Time) error

	// SaveDeliveryRecord appends a per-bot delivery outcome.
	SaveDeliveryRecord(ctx context.Context, d *BroadcastDelivery) error

	// ListBroadcastTargets resolves active bots of active tenants with active
	// subscriptions in any of the given tiers.
	ListBroadcastTargets(ctx context.Context, tiers []string) ([]BroadcastTarget, error)

	// --- Subscriptions & lifecycle ---

	// ListSubscriptionsEndingBetween retrieves active subscriptions of active
	// tenants whose end_date falls within [from, to].
	ListSubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]ExpiringSubscription, error)

	// ListExpiredSubscriptions retrieves active subscriptions of active
	// tenants whose end_date has passed as of asOf.
	ListExpiredSubscriptions(ctx context.Context, asOf time.Time) ([]ExpiringSubscription, error)

	// HasNotificationEventOn reports whether a notification of the given type
	// was already recorded for the tenant on the given calendar day.
	HasNotificationEventOn(ctx context.Context, tenantID int64, eventType string, day time.Time) (bool, error)

	// SaveNotificationEvent appends a lifecycle notification record.
	SaveNotificationEvent(ctx context.Context, ev *NotificationEvent) error

	// DeactivateSubscription marks a tenant's subscription inactive.
	DeactivateSubscription(ctx context.Context, tenantID int64) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetBot(ctx context.Context, botID int64) (*Bot, error) {
	var b Bot
	query := `
        SELECT id, tenant_id, name, description, telegram_token, telegram_username,
               system_prompt, status, is_active, admin_chat_id, notification_channel,
               total_messages, total_users, last_activity, created_at, updated_at
        FROM bots
        WHERE id = ?;
    `
	if err := s.db.GetContext(ctx, &b, query, botID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bot %d: %w", botID, err)
	}
	return &b, nil
}

func (s *sqlxStore) ListBotsByStatus(ctx context.Context, status string) ([]Bot, error) {
	var bots []Bot
	query := `
        SELECT b.id, b.tenant_id, b.name, b.description, b.telegram_token, b.telegram_username,
               b.system_prompt, b.status, b.is_active, b.admin_chat_id, b.notification_channel,
               b.total_messages, b.total_users, b.last_activity, b.created_at, b.updated_at
        FROM bots b
        JOIN tenants t ON t.id = b.tenant_id
        WHERE b.status = ? AND b.is_active = 1 AND t.active = 1
        ORDER BY b.id;
    `
	if err := s.db.SelectContext(ctx, &bots, query, status); err != nil {
		return nil, fmt.Errorf("failed to list bots with status %q: %w", status, err)
	}
	return bots, nil
}

func (s *sqlxStore) UpdateBotStatus(ctx context.Context, botID int64, status string) error {
	query := `UPDATE bots SET status = ?, updated_at = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("failed to update status for bot %d: %w", botID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) IncrementBotStats(ctx context.Context, botID int64, newUser bool) error {
	// Counter bumps happen inside SQL so concurrent dispatchers never lose updates.
	userDelta := 0
	if newUser {
		userDelta = 1
	}
	query := `
        UPDATE bots
        SET total_messages = total_messages + 1,
            total_users = total_users + ?,
            last_activity = ?,
            updated_at = ?
        WHERE id = ?;
    `
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, userDelta, now, now, botID); err != nil {
		return fmt.Errorf("failed to increment stats for bot %d: %w", botID, err)
	}
	return nil
}

func (s *sqlxStore) ListActiveTenantBots(ctx context.Context, tenantID int64) ([]Bot, error) {
	var bots []Bot
	query := `
        SELECT id, tenant_id, name, description, telegram_token, telegram_username,
               system_prompt, status, is_active, admin_chat_id, notification_channel,
               total_messages, total_users, last_activity, created_at, updated_at
        FROM bots
        WHERE tenant_id = ? AND is_active = 1 AND telegram_token != ''
        ORDER BY id;
    `
	if err := s.db.SelectContext(ctx, &bots, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list active bots for tenant %d: %w", tenantID, err)
	}
	return bots, nil
}

func (s *sqlxStore) DeactivateTenantBots(ctx context.Context, tenantID int64) ([]int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var runningIDs []int64
	if err := tx.SelectContext(ctx, &runningIDs,
		`SELECT id FROM bots WHERE tenant_id = ? AND status = ?;`, tenantID, BotStatusActive); err != nil {
		return nil, fmt.Errorf("failed to list running bots for tenant %d: %w", tenantID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bots SET is_active = 0, status = ?, updated_at = ? WHERE tenant_id = ?;`,
		BotStatusInactive, time.Now().UTC(), tenantID); err != nil {
		return nil, fmt.Errorf("failed to deactivate bots for tenant %d: %w", tenantID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return runningIDs, nil
}

func (s *sqlxStore) GetKnowledgeEntries(ctx context.Context, botID int64) ([]KnowledgeEntry, error) {
	var entries []KnowledgeEntry
	query := `
        SELECT id, bot_id, title, content, image_url, image_caption, created_at, updated_at
        FROM knowledge_entries
        WHERE bot_id = ?
        ORDER BY id;
    `
	if err := s.db.SelectContext(ctx, &entries, query, botID); err != nil {
		return nil, fmt.Errorf("failed to get knowledge entries for bot %d: %w", botID, err)
	}
	return entries, nil
}

func (s *sqlxStore) GetParticipant(ctx context.Context, participantID int64) (*Participant, error) {
	var p Participant
	query := `
        SELECT id, participant_id, username, first_name, language, created_at, updated_at
        FROM participants
        WHERE participant_id = ?;
    `
	if err := s.db.GetContext(ctx, &p, query, participantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get participant %d: %w", participantID, err)
	}
	return &p, nil
}

func (s *sqlxStore) SaveParticipant(ctx context.Context, p *Participant) error {
	if p == nil {
		return fmt.Errorf("cannot save nil participant")
	}
	if p.ParticipantID == 0 {
		return fmt.Errorf("participant must have a non-zero participant_id")
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
        INSERT INTO participants (participant_id, username, first_name, language, created_at, updated_at)
        VALUES (:participant_id, :username, :first_name, :language, :created_at, :updated_at)
        ON CONFLICT(participant_id) DO UPDATE SET
            username = excluded.username,
            first_name = excluded.first_name,
            language = excluded.language,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to save participant %d: %w", p.ParticipantID, err)
	}
	return nil
}

func (s *sqlxStore) UpsertConversation(ctx context.Context, conv *Conversation) (bool, error) {
	if conv == nil {
		return false, fmt.Errorf("cannot upsert nil conversation")
	}
	if conv.BotID == 0 || conv.ParticipantID == 0 {
		return false, fmt.Errorf("conversation must have non-zero bot_id and participant_id")
	}

	now := time.Now().UTC()
	conv.FirstMessageAt = now
	conv.LastMessageAt = now

	// The unique index on (bot_id, participant_id) turns concurrent first
	// contacts into a single row.
	query := `
        INSERT INTO conversations (bot_id, participant_id, chat_id, username, message_count, first_message_at, last_message_at)
        VALUES (:bot_id, :participant_id, :chat_id, :username, 0, :first_message_at, :last_message_at)
        ON CONFLICT(bot_id, participant_id) DO UPDATE SET
            chat_id = excluded.chat_id,
            username = excluded.username,
            last_message_at = excluded.last_message_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, conv); err != nil {
		return false, fmt.Errorf("failed to upsert conversation (bot %d, participant %d): %w",
			conv.BotID, conv.ParticipantID, err)
	}

	var existing Conversation
	getQuery := `
        SELECT id, bot_id, participant_id, chat_id, username, message_count, first_message_at, last_message_at
        FROM conversations
        WHERE bot_id = ? AND participant_id = ?;
    `
	if err := s.db.GetContext(ctx, &existing, getQuery, conv.BotID, conv.ParticipantID); err != nil {
		return false, fmt.Errorf("failed to read back conversation (bot %d, participant %d): %w",
			conv.BotID, conv.ParticipantID, err)
	}

	created := existing.MessageCount == 0 && existing.FirstMessageAt.Equal(existing.LastMessageAt)
	*conv = existing
	return created, nil
}

func (s *sqlxStore) HasConversation(ctx context.Context, botID, participantID int64) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM conversations WHERE bot_id = ? AND participant_id = ?;`
	if err := s.db.GetContext(ctx, &count, query, botID, participantID); err != nil {
		return false, fmt.Errorf("failed to check conversation (bot %d, participant %d): %w", botID, participantID, err)
	}
	return count > 0, nil
}

func (s *sqlxStore) ListConversationChatIDs(ctx context.Context, botID int64) ([]int64, error) {
	var chatIDs []int64
	query := `SELECT DISTINCT chat_id FROM conversations WHERE bot_id = ? ORDER BY chat_id;`
	if err := s.db.SelectContext(ctx, &chatIDs, query, botID); err != nil {
		return nil, fmt.Errorf("failed to list chat ids for bot %d: %w", botID, err)
	}
	return chatIDs, nil
}

func (s *sqlxStore) SaveExchange(ctx context.Context, conversationID int64, userMessage, botResponse string) error {
	if conversationID == 0 {
		return fmt.Errorf("exchange must have a non-zero conversation_id")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_message, bot_response, created_at) VALUES (?, ?, ?, ?);`,
		conversationID, userMessage, botResponse, now); err != nil {
		return fmt.Errorf("failed to save exchange for conversation %d: %w", conversationID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, last_message_at = ? WHERE id = ?;`,
		now, conversationID); err != nil {
		return fmt.Errorf("failed to bump counters for conversation %d: %w", conversationID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return nil
}

func (s *sqlxStore) ListExchanges(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	var exists int
	if err := s.db.GetContext(ctx, &exists,
		`SELECT COUNT(1) FROM conversations WHERE id = ?;`, conversationID); err != nil {
		return nil, fmt.Errorf("failed to check conversation %d: %w", conversationID, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	var messages []Message
	query := `
        SELECT id, conversation_id, user_message, bot_response, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, conversationID, limit); err != nil {
		return nil, fmt.Errorf("failed to list exchanges for conversation %d: %w", conversationID, err)
	}

	// Newest-first query keeps the LIMIT on the tail; callers want oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *sqlxStore) CreateBroadcast(ctx context.Context, b *Broadcast) error {
	if b == nil {
		return fmt.Errorf("cannot create nil broadcast")
	}
	if b.MessageText == "" {
		return fmt.Errorf("broadcast must have non-empty message_text")
	}

	b.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO broadcasts (title, message_text, message_html, target_tier, allow_basic, allow_premium,
                                is_scheduled, scheduled_at, is_sent, sent_at,
                                total_bots, successful_sends, failed_sends, created_at)
        VALUES (:title, :message_text, :message_html, :target_tier, :allow_basic, :allow_premium,
                :is_scheduled, :scheduled_at, 0, NULL, 0, 0, 0, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, b)
	if err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		b.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after creating broadcast", "error", err)
	}
	return nil
}

func (s *sqlxStore) GetBroadcast(ctx context.Context, id int64) (*Broadcast, error) {
	var b Broadcast
	query := `
        SELECT id, title, message_text, message_html, target_tier, allow_basic, allow_premium,
               is_scheduled, scheduled_at, is_sent, sent_at,
               total_bots, successful_sends, failed_sends, created_at
        FROM broadcasts
        WHERE id = ?;
    `
	if err := s.db.GetContext(ctx, &b, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get broadcast %d: %w", id, err)
	}
	return &b, nil
}

func (s *sqlxStore) ListDueScheduledBroadcasts(ctx context.Context, asOf time.Time) ([]Broadcast, error) {
	var broadcasts []Broadcast
	query := `
        SELECT id, title, message_text, message_html, target_tier, allow_basic, allow_premium,
               is_scheduled, scheduled_at, is_sent, sent_at,
               total_bots, successful_sends, failed_sends, created_at
        FROM broadcasts
        WHERE is_scheduled = 1 AND is_sent = 0 AND scheduled_at IS NOT NULL AND scheduled_at <= ?
        ORDER BY scheduled_at;
    `
	if err := s.db.SelectContext(ctx, &broadcasts, query, asOf.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list due scheduled broadcasts: %w", err)
	}
	return broadcasts, nil
}

func (s *sqlxStore) CancelScheduledBroadcast(ctx context.Context, id int64) error {
	b, err := s.GetBroadcast(ctx, id)
	if err != nil {
		return err
	}
	if b.IsSent {
		return ErrAlreadySent
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM broadcasts WHERE id = ? AND is_sent = 0;`, id); err != nil {
		return fmt.Errorf("failed to cancel broadcast %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) MarkBroadcastSent(ctx context.Context, id int64, total, successful, failed int64, sentAt time.Time) error {
	query := `
        UPDATE broadcasts
        SET is_sent = 1, sent_at = ?, total_bots = ?, successful_sends = ?, failed_sends = ?
        WHERE id = ?;
    `
	result, err := s.db.ExecContext(ctx, query, sentAt.UTC(), total, successful, failed, id)
	if err != nil {
		return fmt.Errorf("failed to mark broadcast %d sent: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) SaveDeliveryRecord(ctx context.Context, d *BroadcastDelivery) error {
	if d == nil {
		return fmt.Errorf("cannot save nil delivery record")
	}

	d.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO broadcast_deliveries (broadcast_id, bot_id, tenant_id, delivered, error_message, delivered_at, created_at)
        VALUES (:broadcast_id, :bot_id, :tenant_id, :delivered, :error_message, :delivered_at, :created_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("failed to save delivery record (broadcast %d, bot %d): %w", d.BroadcastID, d.BotID, err)
	}
	return nil
}

func (s *sqlxStore) ListBroadcastTargets(ctx context.Context, tiers []string) ([]BroadcastTarget, error) {
	if len(tiers) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        SELECT b.id AS bot_id, b.tenant_id AS tenant_id, b.name AS bot_name,
               b.telegram_token AS telegram_token, s.tier AS tier, t.language AS tenant_language
        FROM bots b
        JOIN tenants t ON t.id = b.tenant_id
        JOIN subscriptions s ON s.tenant_id = t.id
        WHERE t.active = 1 AND s.is_active = 1 AND b.is_active = 1
          AND b.telegram_token != '' AND s.tier IN (?)
        ORDER BY b.id;
    `, tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to build target query: %w", err)
	}

	var targets []BroadcastTarget
	if err := s.db.SelectContext(ctx, &targets, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list broadcast targets: %w", err)
	}
	return targets, nil
}

func (s *sqlxStore) ListSubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]ExpiringSubscription, error) {
	var subs []ExpiringSubscription
	query := `
        SELECT s.id AS subscription_id, s.tenant_id AS tenant_id, s.tier AS tier, s.end_date AS end_date,
               t.language AS tenant_language, t.first_name AS tenant_name
        FROM subscriptions s
        JOIN tenants t ON t.id = s.tenant_id
        WHERE s.is_active = 1 AND t.active = 1
          AND s.end_date IS NOT NULL AND s.end_date >= ? AND s.end_date <= ?
        ORDER BY s.end_date;
    `
	if err := s.db.SelectContext(ctx, &subs, query, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions ending between %s and %s: %w", from, to, err)
	}
	return subs, nil
}

func (s *sqlxStore) ListExpiredSubscriptions(ctx context.Context, asOf time.Time) ([]ExpiringSubscription, error) {
	var subs []ExpiringSubscription
	query := `
        SELECT s.id AS subscription_id, s.tenant_id AS tenant_id, s.tier AS tier, s.end_date AS end_date,
               t.language AS tenant_language, t.first_name AS tenant_name
        FROM subscriptions s
        JOIN tenants t ON t.id = s.tenant_id
        WHERE s.is_active = 1 AND t.active = 1
          AND s.end_date IS NOT NULL AND s.end_date < ?
        ORDER BY s.end_date;
    `
	if err := s.db.SelectContext(ctx, &subs, query, asOf.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	return subs, nil
}

func (s *sqlxStore) HasNotificationEventOn(ctx context.Context, tenantID int64, eventType string, day time.Time) (bool, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	query := `
        SELECT COUNT(1)
        FROM notification_events
        WHERE tenant_id = ? AND event_type = ? AND created_at >= ? AND created_at < ?;
    `
	if err := s.db.GetContext(ctx, &count, query, tenantID, eventType, dayStart, dayEnd); err != nil {
		return false, fmt.Errorf("failed to check notification events for tenant %d: %w", tenantID, err)
	}
	return count > 0, nil
}

func (s *sqlxStore) SaveNotificationEvent(ctx context.Context, ev *NotificationEvent) error {
	if ev == nil {
		return fmt.Errorf("cannot save nil notification event")
	}
	if ev.TenantID == 0 || ev.EventType == "" {
		return fmt.Errorf("notification event must have tenant_id and event_type")
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO notification_events (tenant_id, event_type, message_text, is_sent, sent_at, error_message, created_at)
        VALUES (:tenant_id, :event_type, :message_text, :is_sent, :sent_at, :error_message, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, ev)
	if err != nil {
		return fmt.Errorf("failed to save notification event (tenant %d, type %s): %w", ev.TenantID, ev.EventType, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

func (s *sqlxStore) DeactivateSubscription(ctx context.Context, tenantID int64) error {
	query := `UPDATE subscriptions SET is_active = 0 WHERE tenant_id = ?;`
	result, err := s.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription for tenant %d: %w", tenantID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
