package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botfactory/botfactory/internal/logger"
)

// Gateway implements Dialer and TokenSender on top of the go-telegram/bot
// library.
type Gateway struct {
	logger *slog.Logger
}

// NewGateway creates the production Telegram gateway.
func NewGateway(log *slog.Logger) *Gateway {
	return &Gateway{logger: log.With("component", "telegram_gateway")}
}

// Dial validates the token against the Telegram API and opens a long-polling
// connection that feeds inbound updates to handler.
func (g *Gateway) Dial(ctx context.Context, token string, handler EventHandler) (Connection, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}

	conn := &gatewayConnection{}

	opts := []bot.Option{
		bot.WithMiddlewares(logger.Middleware(g.logger)),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			event, ok := reduceUpdate(ctx, b, update)
			if !ok {
				return
			}
			handler(ctx, conn, event)
		}),
	}

	// bot.New performs a GetMe call, so an invalid token fails here.
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}

	conn.b = b
	conn.info = BotInfo{ID: me.ID, Username: me.Username, Name: me.FirstName}

	g.logger.InfoContext(ctx, "Telegram connection established",
		"bot_id", conn.info.ID, "bot_username", conn.info.Username)
	return conn, nil
}

// SendWithToken sends a single message using a bare token. GetMe is skipped
// so the call costs one API round trip.
func (g *Gateway) SendWithToken(ctx context.Context, token string, params SendParams) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return fmt.Errorf("failed to create telegram sender: %w", err)
	}
	return send(ctx, b, params)
}

// gatewayConnection adapts *bot.Bot to the Connection interface.
type gatewayConnection struct {
	b    *bot.Bot
	info BotInfo
}

func (c *gatewayConnection) Info() BotInfo {
	return c.info
}

func (c *gatewayConnection) Start(ctx context.Context) {
	c.b.Start(ctx)
}

func (c *gatewayConnection) Send(ctx context.Context, params SendParams) error {
	return send(ctx, c.b, params)
}

func send(ctx context.Context, b *bot.Bot, params SendParams) error {
	if params.Text != "" {
		msg := &bot.SendMessageParams{
			ChatID:    params.ChatID,
			Text:      params.Text,
			ParseMode: models.ParseMode(params.ParseMode),
		}
		if markup := buildMarkup(params.Buttons); markup != nil {
			msg.ReplyMarkup = markup
		}
		if _, err := b.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to send message to chat %d: %w", params.ChatID, err)
		}
	}

	if params.MediaURL != "" {
		photo := &bot.SendPhotoParams{
			ChatID:  params.ChatID,
			Photo:   &models.InputFileString{Data: params.MediaURL},
			Caption: params.MediaCaption,
		}
		if _, err := b.SendPhoto(ctx, photo); err != nil {
			return fmt.Errorf("failed to send photo to chat %d: %w", params.ChatID, err)
		}
	}

	return nil
}

func buildMarkup(rows [][]Button) models.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboard := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
			})
		}
		keyboard = append(keyboard, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

// reduceUpdate extracts the event the pipeline cares about from a raw update.
// Callback queries are acknowledged here so clients stop their spinners even
// when downstream processing fails.
func reduceUpdate(ctx context.Context, b *bot.Bot, update *models.Update) (Event, bool) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return Event{
			ParticipantID: update.Message.From.ID,
			ChatID:        update.Message.Chat.ID,
			Username:      update.Message.From.Username,
			FirstName:     update.Message.From.FirstName,
			Text:          update.Message.Text,
		}, true

	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID})

		var chatID int64
		if cb.Message.Message != nil {
			chatID = cb.Message.Message.Chat.ID
		} else if cb.Message.InaccessibleMessage != nil {
			chatID = cb.Message.InaccessibleMessage.Chat.ID
		}
		return Event{
			ParticipantID: cb.From.ID,
			ChatID:        chatID,
			Username:      cb.From.Username,
			FirstName:     cb.From.FirstName,
			CallbackData:  cb.Data,
		}, true

	default:
		return Event{}, false
	}
}
