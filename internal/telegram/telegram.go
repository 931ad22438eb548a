// Package telegram wraps the Telegram Bot API behind a narrow gateway port so
// the runtime manager and the engines can be tested with fakes.
package telegram

import "context"

// BotInfo identifies a connected bot account.
type BotInfo struct {
	ID       int64
	Username string
	Name     string
}

// Button is one inline keyboard button.
type Button struct {
	Text         string
	CallbackData string
}

// SendParams describes an outbound message. When MediaURL is set the message
// is sent as a photo with MediaCaption; Text is sent separately beforehand.
type SendParams struct {
	ChatID       int64
	Text         string
	ParseMode    string
	MediaURL     string
	MediaCaption string
	Buttons      [][]Button
}

// Event is one inbound update, already reduced to what the dispatch pipeline
// needs. Exactly one of Text or CallbackData is meaningful.
type Event struct {
	ParticipantID int64
	ChatID        int64
	Username      string
	FirstName     string
	Text          string
	CallbackData  string
}

// Sender sends messages on behalf of a connected bot.
type Sender interface {
	Send(ctx context.Context, params SendParams) error
}

// EventHandler processes one inbound event. The sender is bound to the
// connection the event arrived on.
type EventHandler func(ctx context.Context, sender Sender, event Event)

// Connection is a live long-polling session for one bot token.
type Connection interface {
	Sender

	// Info returns the identity confirmed during dialing.
	Info() BotInfo

	// Start runs the polling loop until ctx is cancelled. Transient poll
	// errors are retried internally.
	Start(ctx context.Context)
}

// Dialer validates a bot token and opens a connection for it.
type Dialer interface {
	Dial(ctx context.Context, token string, handler EventHandler) (Connection, error)
}

// TokenSender sends one-off messages with a bare token, without opening a
// polling connection. Used by the broadcast and lifecycle fan-outs.
type TokenSender interface {
	SendWithToken(ctx context.Context, token string, params SendParams) error
}
