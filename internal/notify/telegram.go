// Package notify delivers operator notifications over the Telegram bot
// API. Delivery is best effort; callers decide whether a failure matters.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"selfray/internal/storage"
	"selfray/internal/util"
)

// ErrNotConfigured means no bot token or chat id is stored, so there is
// nowhere to deliver to.
var ErrNotConfigured = errors.New("telegram not configured")

// Telegram sends messages to the configured admin chat. Token and chat id
// are re-read from the store per send so settings edits apply immediately.
type Telegram struct {
	store storage.Store
	log   *slog.Logger

	mu     sync.Mutex
	client *resty.Client
}

func NewTelegram(store storage.Store) *Telegram {
	return &Telegram{
		store:  store,
		log:    slog.Default().With("component", "notify.telegram"),
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

func (t *Telegram) credentials() (token, chatID string, err error) {
	if token, err = t.store.GetSetting("tg_bot_token", ""); err != nil {
		return "", "", err
	}
	if chatID, err = t.store.GetSetting("tg_chat_id", ""); err != nil {
		return "", "", err
	}
	if token == "" || chatID == "" {
		return "", "", ErrNotConfigured
	}
	return token, chatID, nil
}

// Notify posts text to the admin chat.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	token, chatID, err := t.credentials()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		resp, err := t.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{"chat_id": chatID, "text": text}).
			Post(fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token))
		if err != nil {
			return fmt.Errorf("telegram sendMessage: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
}

// NotifyLogin reports a panel login when the tg_notify_login toggle is on.
func (t *Telegram) NotifyLogin(ctx context.Context, username, remoteAddr string, ok bool) {
	enabled, err := t.store.GetSetting("tg_notify_login", "true")
	if err != nil || enabled != "true" {
		return
	}
	outcome := "successful"
	if !ok {
		outcome = "FAILED"
	}
	text := fmt.Sprintf("🔐 Panel login %s\nUser: %s\nFrom: %s", outcome, username, remoteAddr)
	if err := t.Notify(ctx, text); err != nil && !errors.Is(err, ErrNotConfigured) {
		t.log.Warn("login notification failed", "error", err)
	}
}
