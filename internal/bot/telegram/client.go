package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptobot/config"
	"cryptobot/internal/bot"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Handler runs a chat command. *bot.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, msg bot.Message) (bot.Reply, bool)
}

// api is the part of *tgbotapi.BotAPI the client uses.
type api interface {
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client long-polls Telegram for updates and feeds them to a Handler.
type Client struct {
	api           api
	handler       Handler
	pollTimeout   int
	reconnectWait time.Duration
	username      string
	logger        *zap.Logger
}

// New connects to the Bot API with the configured token.
func New(cfg config.TelegramConfig, handler Handler, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	c := newClient(botAPI, cfg, handler, logger)
	c.username = botAPI.Self.UserName
	c.logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return c, nil
}

func newClient(a api, cfg config.TelegramConfig, handler Handler, logger *zap.Logger) *Client {
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &Client{
		api:           a,
		handler:       handler,
		pollTimeout:   cfg.PollTimeout,
		reconnectWait: wait,
		logger:        logger.Named("telegram"),
	}
}

// Username is the bot account's username.
func (c *Client) Username() string {
	return c.username
}

// Notify sends text to a chat. It implements bot.Notifier.
func (c *Client) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if chatID == 0 {
		return errors.New("invalid chat id")
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Listen polls for updates until ctx is cancelled. A failed poll is retried
// after the reconnect wait.
func (c *Client) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout

	c.logger.Info("Listening for updates", zap.Int("poll_timeout", c.pollTimeout))

	for ctx.Err() == nil {
		updates, err := c.api.GetUpdates(u)
		if err != nil {
			c.logger.Error("Telegram poll failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectWait):
			}
			c.logger.Warn("Retrying telegram poll...")
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= u.Offset {
				u.Offset = update.UpdateID + 1
			}
			c.handleUpdate(ctx, update)
		}
	}
	c.logger.Info("Telegram listener stopped")
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	m := update.Message
	if m == nil {
		return
	}
	msg, ok := toMessage(m)
	if !ok {
		return
	}

	reply, handled := c.handler.Handle(ctx, msg)
	if !handled || reply.Text == "" {
		return
	}

	out := tgbotapi.NewMessage(msg.ChatID, reply.Text)
	out.ReplyToMessageID = m.MessageID
	if _, err := c.api.Send(out); err != nil {
		c.logger.Warn("failed to send reply",
			zap.Int64("chat_id", msg.ChatID), zap.Int64("user_id", msg.UserID), zap.Error(err))
	}
}

// toMessage converts a Telegram message. Messages without a sender, such as
// channel posts, are skipped.
func toMessage(m *tgbotapi.Message) (bot.Message, bool) {
	if m.From == nil || m.Chat == nil || m.Text == "" {
		return bot.Message{}, false
	}

	msg := bot.Message{
		ChatID:   m.Chat.ID,
		UserID:   m.From.ID,
		Username: m.From.UserName,
		Text:     m.Text,
	}
	if r := m.ReplyToMessage; r != nil && r.From != nil {
		msg.ReplyToUserID = r.From.ID
	}
	return msg, true
}
