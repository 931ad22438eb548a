package database

import (
	"database/sql"
	"time"
)

// Subscription tiers.
const (
	TierFree    = "free"
	TierBasic   = "basic"
	TierPremium = "premium"
)

// Bot statuses.
const (
	BotStatusInactive = "inactive"
	BotStatusPending  = "pending"
	BotStatusActive   = "active"
)

// Lifecycle notification event types.
const (
	EventTrialExpiringSoon = "trial_expiring_soon"
	EventTrialExpired      = "trial_expired"
	EventPaidExpiringSoon  = "subscription_expiring_soon"
	EventPaidExpired       = "subscription_expired"
)

// Bot is a tenant-owned Telegram bot configuration. Tenant and subscription
// rows are only ever read through the joined projections below
// (BroadcastTarget, ExpiringSubscription); the migration schema describes
// their tables.
type Bot struct {
	ID                  int64        `db:"id"`
	TenantID            int64        `db:"tenant_id"`
	Name                string       `db:"name"`
	Description         string       `db:"description"`
	TelegramToken       string       `db:"telegram_token"`
	TelegramUsername    string       `db:"telegram_username"`
	SystemPrompt        string       `db:"system_prompt"`
	Status              string       `db:"status"`
	IsActive            bool         `db:"is_active"`
	AdminChatID         int64        `db:"admin_chat_id"`
	NotificationChannel int64        `db:"notification_channel"`
	TotalMessages       int64        `db:"total_messages"`
	TotalUsers          int64        `db:"total_users"`
	LastActivity        sql.NullTime `db:"last_activity"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

// KnowledgeEntry is a bot-scoped knowledge base record, optionally with media.
type KnowledgeEntry struct {
	ID           int64     `db:"id"`
	BotID        int64     `db:"bot_id"`
	Title        string    `db:"title"`
	Content      string    `db:"content"`
	ImageURL     string    `db:"image_url"`
	ImageCaption string    `db:"image_caption"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Participant is a Telegram end user seen by any bot on the platform.
type Participant struct {
	ID            int64     `db:"id"`
	ParticipantID int64     `db:"participant_id"`
	Username      string    `db:"username"`
	FirstName     string    `db:"first_name"`
	Language      string    `db:"language"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Conversation tracks a (bot, participant) pairing. One row per pair.
type Conversation struct {
	ID             int64     `db:"id"`
	BotID          int64     `db:"bot_id"`
	ParticipantID  int64     `db:"participant_id"`
	ChatID         int64     `db:"chat_id"`
	Username       string    `db:"username"`
	MessageCount   int64     `db:"message_count"`
	FirstMessageAt time.Time `db:"first_message_at"`
	LastMessageAt  time.Time `db:"last_message_at"`
}

// Message is one request/response exchange within a conversation.
type Message struct {
	ID             int64     `db:"id"`
	ConversationID int64     `db:"conversation_id"`
	UserMessage    string    `db:"user_message"`
	BotResponse    string    `db:"bot_response"`
	CreatedAt      time.Time `db:"created_at"`
}

// Broadcast is an admin-authored announcement fanned out through tenant bots.
type Broadcast struct {
	ID              int64        `db:"id"`
	Title           string       `db:"title"`
	MessageText     string       `db:"message_text"`
	MessageHTML     string       `db:"message_html"`
	TargetTier      string       `db:"target_tier"`
	AllowBasic      bool         `db:"allow_basic"`
	AllowPremium    bool         `db:"allow_premium"`
	IsScheduled     bool         `db:"is_scheduled"`
	ScheduledAt     sql.NullTime `db:"scheduled_at"`
	IsSent          bool         `db:"is_sent"`
	SentAt          sql.NullTime `db:"sent_at"`
	TotalBots       int64        `db:"total_bots"`
	SuccessfulSends int64        `db:"successful_sends"`
	FailedSends     int64        `db:"failed_sends"`
	CreatedAt       time.Time    `db:"created_at"`
}

// BroadcastDelivery records the per-bot outcome of a broadcast run.
type BroadcastDelivery struct {
	ID           int64        `db:"id"`
	BroadcastID  int64        `db:"broadcast_id"`
	BotID        int64        `db:"bot_id"`
	TenantID     int64        `db:"tenant_id"`
	Delivered    bool         `db:"delivered"`
	ErrorMessage string       `db:"error_message"`
	DeliveredAt  sql.NullTime `db:"delivered_at"`
	CreatedAt    time.Time    `db:"created_at"`
}

// NotificationEvent records one lifecycle notification per tenant, type and day.
type NotificationEvent struct {
	ID           int64        `db:"id"`
	TenantID     int64        `db:"tenant_id"`
	EventType    string       `db:"event_type"`
	MessageText  string       `db:"message_text"`
	IsSent       bool         `db:"is_sent"`
	SentAt       sql.NullTime `db:"sent_at"`
	ErrorMessage string       `db:"error_message"`
	CreatedAt    time.Time    `db:"created_at"`
}

// BroadcastTarget is a resolved fan-out target: an active bot joined with its
// tenant and subscription tier.
type BroadcastTarget struct {
	BotID          int64  `db:"bot_id"`
	TenantID       int64  `db:"tenant_id"`
	BotName        string `db:"bot_name"`
	TelegramToken  string `db:"telegram_token"`
	Tier           string `db:"tier"`
	TenantLanguage string `db:"tenant_language"`
}

// ExpiringSubscription joins a subscription with its tenant for lifecycle sweeps.
type ExpiringSubscription struct {
	SubscriptionID int64        `db:"subscription_id"`
	TenantID       int64        `db:"tenant_id"`
	Tier           string       `db:"tier"`
	EndDate        sql.NullTime `db:"end_date"`
	TenantLanguage string       `db:"tenant_language"`
	TenantName     string       `db:"tenant_name"`
}

// IsTrial reports whether the expiring subscription is on the free tier.
func (e *ExpiringSubscription) IsTrial() bool {
	return e.Tier == TierFree
}
