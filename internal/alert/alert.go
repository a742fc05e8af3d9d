// Package alert notifies operators about failures that need manual remediation.
package alert

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Telegram posts alerts to a single operator chat.
type Telegram struct {
	Bot    *telego.Bot
	ChatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{Bot: bot, ChatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if _, err := t.Bot.SendMessage(ctx, tu.Message(tu.ID(t.ChatID), text)); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

// Log writes alerts to the logger only. It is used when no chat is configured.
type Log struct {
	Logger logrus.FieldLogger
}

func (l Log) Notify(_ context.Context, text string) error {
	l.Logger.WithField("alert", true).Warn(text)
	return nil
}

// New returns a Telegram notifier when both token and chat are set, a Log
// notifier otherwise.
func New(token string, chatID int64, logger logrus.FieldLogger) (Notifier, error) {
	if token == "" || chatID == 0 {
		return Log{Logger: logger}, nil
	}
	t, err := NewTelegram(token, chatID)
	if err != nil {
		return nil, err
	}
	return t, nil
}
