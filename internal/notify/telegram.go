package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/resonance/internal/config"
	"github.com/stellarlinkco/resonance/internal/translog"
)

// TelegramBot is the slice of the bot API the notifier uses.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Telegram sends each transmission as a message to one chat.
type Telegram struct {
	token   string
	chatID  int64
	proxy   string
	factory BotFactory
	bot     TelegramBot
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, defaultBotFactory)
}

// NewTelegramWithFactory creates a Telegram notifier with a custom bot factory (for testing)
func NewTelegramWithFactory(cfg config.TelegramConfig, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", cfg.ChatID, err)
	}
	return &Telegram{token: cfg.Token, chatID: chatID, proxy: cfg.Proxy, factory: factory}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}
	bot, err := t.factory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	return nil
}

// Notify sends t. The bot is created on first use.
func (t *Telegram) Notify(_ context.Context, tr translog.Transmission) error {
	if t.bot == nil {
		if err := t.initBot(); err != nil {
			return err
		}
	}
	msg := tgbotapi.NewMessage(t.chatID, formatHTML(tr))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		// Retry as plain text
		msg.ParseMode = ""
		msg.Text = tr.DisplayName + "\n\n" + tr.Content
		if _, err2 := t.bot.Send(msg); err2 != nil {
			return fmt.Errorf("send telegram message: %w", err2)
		}
	}
	return nil
}

func formatHTML(tr translog.Transmission) string {
	return fmt.Sprintf("<b>%s</b> <i>%s</i>\n\n%s",
		html.EscapeString(tr.DisplayName), html.EscapeString(tr.Mode), html.EscapeString(tr.Content))
}
