package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers messages through the Telegram Bot API.
type TelegramSender struct {
	bot *tele.Bot
}

// NewTelegramSender validates the bot credential against the API; a bad token
// is an unrecoverable startup error.
func NewTelegramSender(token string, timeout time.Duration) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b}, nil
}

func (s *TelegramSender) SendText(ctx context.Context, recipient int64, text string) error {
	_ = ctx // telebot's Send has no context hook; the client timeout bounds it
	_, err := s.bot.Send(&tele.Chat{ID: recipient}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
