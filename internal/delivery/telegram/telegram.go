package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/delivery"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Config configures the outbound Telegram channel.
type Config struct {
	Token       string
	SendTimeout time.Duration // per-send budget; 0 means 10s
}

// Channel delivers alerts through the Telegram bot API. The primary attempt
// uses HTML formatting; when Telegram rejects it (bad entities in user text,
// mostly) the same message is retried as plain text. Recipients with a "text"
// method hint skip the rich attempt entirely.
type Channel struct {
	bot     *tele.Bot
	timeout time.Duration
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Channel{bot: b, timeout: timeout, log: log}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Send(ctx context.Context, rec store.Recipient, msg delivery.Message) (delivery.Outcome, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(rec.Address), 10, 64)
	if err != nil {
		return delivery.Outcome{}, fmt.Errorf("recipient %s: bad telegram address %q", rec.ID, rec.Address)
	}
	if err := ctx.Err(); err != nil {
		return delivery.Outcome{}, err
	}
	chat := &tele.Chat{ID: chatID}

	if rec.MethodHint != delivery.MethodText {
		_, err := c.bot.Send(chat, renderHTML(msg), &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		if err == nil {
			return delivery.Outcome{Method: delivery.MethodRich, At: time.Now().UTC()}, nil
		}
		c.log.Warn("rich send failed, falling back to plain text",
			logx.String("recipient", rec.ID), logx.Err(err))
	}

	if _, err := c.bot.Send(chat, renderText(msg)); err != nil {
		return delivery.Outcome{}, err
	}
	return delivery.Outcome{Method: delivery.MethodText, At: time.Now().UTC()}, nil
}

func renderHTML(msg delivery.Message) string {
	if msg.Title == "" {
		return html.EscapeString(msg.Body)
	}
	return "<b>" + html.EscapeString(msg.Title) + "</b>\n" + html.EscapeString(msg.Body)
}

func renderText(msg delivery.Message) string {
	if msg.Title == "" {
		return msg.Body
	}
	return msg.Title + "\n" + msg.Body
}
