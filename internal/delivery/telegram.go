package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram delivers messages through the Telegram Bot API. Channel IDs are
// numeric chat IDs.
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram builds an offline bot (no getMe round trip, no polling); it is
// used for sending only.
func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Deliver(ctx context.Context, m OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(m.ChannelID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: channel %q is not a chat id", m.ChannelID)
	}
	_, err = t.bot.Send(&tele.Chat{ID: chatID}, m.Text(), &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
