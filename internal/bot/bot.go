// Package bot runs the Telegram admin bot: status and inbound overview,
// password and panel port changes, and client link sharing with QR codes.
// Only the configured admin chat is served.
package bot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	telebot "gopkg.in/telebot.v3"

	"selfray/internal/auth"
	"selfray/internal/models"
	"selfray/internal/sharelink"
	"selfray/internal/storage"
)

// Engine is the supervisor surface the bot reports on.
type Engine interface {
	Status() (running bool, pid int)
	Version(ctx context.Context) (string, error)
}

type pendingAction int

const (
	actionNone pendingAction = iota
	actionPasswordCurrent
	actionPasswordNew
	actionPanelPort
)

type pendingState struct {
	action   pendingAction
	username string
}

// Bot is the long-polling Telegram admin frontend.
type Bot struct {
	store  storage.Store
	engine Engine
	log    *slog.Logger

	bot    *telebot.Bot
	chatID int64

	mu     sync.Mutex
	states map[int64]*pendingState
}

// New builds the bot from the stored token. ErrNotConfigured-like absence
// is the caller's problem: pass a non-empty token.
func New(token string, chatID int64, store storage.Store, engine Engine) (*Bot, error) {
	log := slog.Default().With("component", "bot")

	tb, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			log.Error("bot handler failed", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		store:  store,
		engine: engine,
		log:    log,
		bot:    tb,
		chatID: chatID,
		states: make(map[int64]*pendingState),
	}
	b.route()
	return b, nil
}

// Start blocks polling for updates until ctx is canceled.
func (b *Bot) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()
	b.log.Info("bot started", "chat_id", b.chatID)
	b.bot.Start()
}

func (b *Bot) route() {
	b.bot.Use(b.adminOnly)

	b.bot.Handle("/start", b.handleMenu)
	b.bot.Handle("/menu", b.handleMenu)
	b.bot.Handle("/status", b.handleStatus)
	b.bot.Handle("/list", b.handleList)
	b.bot.Handle("/link", b.handleLink)
	b.bot.Handle("/help", b.handleHelp)
	b.bot.Handle("/cancel", b.handleCancel)
	b.bot.Handle(telebot.OnText, b.handleText)
	b.bot.Handle(telebot.OnCallback, b.handleCallback)
}

func (b *Bot) adminOnly(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if c.Chat() == nil || c.Chat().ID != b.chatID {
			return c.Send("⛔ Access denied.")
		}
		return next(c)
	}
}

func menuMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{
			{Text: "📊 Status", Data: "status"},
			{Text: "📋 Inbounds", Data: "list"},
		},
		{
			{Text: "🔑 Change Password", Data: "chpass"},
			{Text: "🔧 Change Port", Data: "chport"},
		},
	}
	return markup
}

func backMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{{Text: "◀️ Menu", Data: "menu"}},
	}
	return markup
}

func (b *Bot) handleMenu(c telebot.Context) error {
	b.clearState(c.Chat().ID)
	return c.Send("🏠 <b>SelfRay</b> - Main Menu\n\nChoose an action:", menuMarkup(), telebot.ModeHTML)
}

func (b *Bot) handleCancel(c telebot.Context) error {
	b.clearState(c.Chat().ID)
	if err := c.Send("❌ Cancelled."); err != nil {
		return err
	}
	return b.handleMenu(c)
}

func (b *Bot) handleStatus(c telebot.Context) error {
	running, _ := b.engine.Status()
	state := "🔴 Stopped"
	if running {
		state = "🟢 Running"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	version, err := b.engine.Version(ctx)
	cancel()
	if err != nil {
		version = "?"
	}

	inbounds, _ := b.store.CountInbounds()
	clients, _ := b.store.CountClients()
	port, _ := b.store.GetSetting("panel_port", "8443")

	text := fmt.Sprintf(
		"📊 <b>Server Status</b>\n\nXray: %s\nVersion: <code>%s</code>\nInbounds: %d\nClients: %d\nPanel port: %s",
		state, version, inbounds, clients, port,
	)
	return c.Send(text, backMarkup(), telebot.ModeHTML)
}

func (b *Bot) handleList(c telebot.Context) error {
	inbounds, err := b.store.ListInbounds()
	if err != nil {
		return err
	}
	if len(inbounds) == 0 {
		return c.Send("📋 No inbounds.", backMarkup())
	}

	lines := []string{"📋 <b>Inbounds</b>\n"}
	for _, inb := range inbounds {
		state := "🔴"
		if inb.Enabled {
			state = "🟢"
		}
		remark := inb.Remark
		if remark == "" {
			remark = "-"
		}
		lines = append(lines, fmt.Sprintf("%s <b>#%d</b> %s :%d - %s",
			state, inb.ID, strings.ToUpper(inb.Protocol), inb.Port, remark))
	}
	return c.Send(strings.Join(lines, "\n"), backMarkup(), telebot.ModeHTML)
}

// handleLink answers `/link <email>` with the client's import link and a
// QR code photo.
func (b *Bot) handleLink(c telebot.Context) error {
	email := strings.TrimSpace(c.Message().Payload)
	if email == "" {
		return c.Send("Usage: /link <client email>")
	}

	client, inbound, err := b.findClientByEmail(email)
	if err != nil {
		return c.Send(fmt.Sprintf("❌ No client named <code>%s</code>.", email), telebot.ModeHTML)
	}

	host, _ := b.store.GetSetting("server_address", "")
	if host == "" {
		host = "YOUR_SERVER_IP"
	}
	link, err := sharelink.Render(inbound, client, host)
	if err != nil {
		return err
	}

	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return c.Send(fmt.Sprintf("<code>%s</code>", link), telebot.ModeHTML)
	}
	photo := &telebot.Photo{
		File:    telebot.FromReader(bytes.NewReader(png)),
		Caption: link,
	}
	return c.Send(photo)
}

func (b *Bot) findClientByEmail(email string) (models.Client, models.Inbound, error) {
	inbounds, err := b.store.ListInbounds()
	if err != nil {
		return models.Client{}, models.Inbound{}, err
	}
	for _, inb := range inbounds {
		clients, err := b.store.ListClients(inb.ID)
		if err != nil {
			return models.Client{}, models.Inbound{}, err
		}
		for _, cl := range clients {
			if cl.Email == email {
				return cl, inb, nil
			}
		}
	}
	return models.Client{}, models.Inbound{}, storage.ErrNotFound
}

func (b *Bot) handleHelp(c telebot.Context) error {
	return c.Send(
		"📖 <b>Commands</b>\n\n"+
			"/menu - Main menu\n"+
			"/status - Server status\n"+
			"/list - List inbounds\n"+
			"/link <email> - Client link with QR\n"+
			"/cancel - Cancel current action\n"+
			"/help - This message",
		backMarkup(), telebot.ModeHTML)
}

func (b *Bot) handleCallback(c telebot.Context) error {
	data := strings.TrimPrefix(strings.TrimSpace(c.Callback().Data), "\f")
	if err := c.Respond(); err != nil {
		return err
	}

	switch data {
	case "status":
		return b.handleStatus(c)
	case "list":
		return b.handleList(c)
	case "chpass":
		b.setState(c.Chat().ID, &pendingState{action: actionPasswordCurrent})
		return c.Send("🔑 Enter current password:\n\n<i>/cancel to abort</i>", telebot.ModeHTML)
	case "chport":
		port, _ := b.store.GetSetting("panel_port", "8443")
		b.setState(c.Chat().ID, &pendingState{action: actionPanelPort})
		return c.Send(fmt.Sprintf("🔧 Current panel port: <b>%s</b>\n\nEnter new port:\n\n<i>/cancel to abort</i>", port), telebot.ModeHTML)
	case "menu":
		return b.handleMenu(c)
	}
	return nil
}

// handleText drives the pending multi-step flow; with no flow in progress
// any text just re-opens the menu.
func (b *Bot) handleText(c telebot.Context) error {
	chatID := c.Chat().ID
	state := b.getState(chatID)
	if state == nil {
		return b.handleMenu(c)
	}
	text := strings.TrimSpace(c.Text())

	switch state.action {
	case actionPasswordCurrent:
		admin, err := b.store.FirstAdmin()
		if err != nil {
			return err
		}
		if ok, err := auth.VerifyPassword(text, admin.PasswordHash); err != nil || !ok {
			return c.Send("❌ Wrong current password. Try again:")
		}
		state.username = admin.Username
		state.action = actionPasswordNew
		return c.Send("🔐 Enter new password:")

	case actionPasswordNew:
		if len(text) < 4 {
			return c.Send("❌ Too short. Minimum 4 characters:")
		}
		hash, err := auth.HashPassword(text)
		if err != nil {
			return err
		}
		if err := b.store.UpdateAdminPassword(state.username, hash); err != nil {
			return err
		}
		b.clearState(chatID)
		if err := c.Send("✅ Password changed!"); err != nil {
			return err
		}
		return b.handleMenu(c)

	case actionPanelPort:
		port, err := strconv.Atoi(text)
		if err != nil || port < 1 || port > 65535 {
			return c.Send("❌ Invalid port. Enter 1-65535:")
		}
		if err := b.store.SetSetting("panel_port", strconv.Itoa(port)); err != nil {
			return err
		}
		b.clearState(chatID)
		msg := fmt.Sprintf("✅ Panel port → <b>%d</b>\n\n⚠️ Restart the panel to apply.", port)
		if err := c.Send(msg, telebot.ModeHTML); err != nil {
			return err
		}
		return b.handleMenu(c)
	}
	return nil
}

func (b *Bot) getState(chatID int64) *pendingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[chatID]
}

func (b *Bot) setState(chatID int64, state *pendingState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[chatID] = state
}

func (b *Bot) clearState(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, chatID)
}
