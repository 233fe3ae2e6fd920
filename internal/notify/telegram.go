// Package notify delivers plant alerts to owners over the Telegram Bot
// API.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/session"
)

// ErrDelivery is returned when the Bot API rejects or fails a message.
var ErrDelivery = errors.New("notify: telegram delivery failed")

// Alert kinds.
const (
	KindHumidity = "humidity"
	KindLight    = "light"
	KindError    = "error"
)

// Logger defines the logging interface used by the notifier.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sessions resolves a chat to the account logged in on it.
type Sessions interface {
	UserFor(ctx context.Context, chatID int64) (string, error)
}

// Telegram sends alerts to the chat recorded as an owner's telegram_id,
// but only while that chat is logged in as the owner.
//
// Telegram is safe for concurrent use.
type Telegram struct {
	http     *resty.Client
	token    string
	store    entity.Store
	sessions Sessions
	logger   Logger
	now      func() time.Time
}

// NewTelegram creates a notifier from configuration.
func NewTelegram(cfg config.TelegramConfig, store entity.Store, sessions Sessions) *Telegram {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &Telegram{
		http:     c,
		token:    cfg.BotToken,
		store:    store,
		sessions: sessions,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger.
func (t *Telegram) SetLogger(logger Logger) {
	t.logger = logger
}

// Notify alerts the owner of a plant. Owners without a linked chat or
// without an active session are skipped and nil is returned.
func (t *Telegram) Notify(ctx context.Context, ownerID, plantName string, value float64, kind string) error {
	chatID, ok, err := t.chatFor(ctx, ownerID)
	if err != nil || !ok {
		return err
	}
	return t.Send(ctx, chatID, Message(kind, plantName, value, t.now()))
}

// chatFor returns the logged-in chat of ownerID.
func (t *Telegram) chatFor(ctx context.Context, ownerID string) (int64, bool, error) {
	user, err := t.store.Get(ctx, entity.TypeUser, ownerID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			t.logger.Warn("notification for unknown owner", "owner_id", ownerID)
			return 0, false, nil
		}
		return 0, false, err
	}
	chatID, ok := user.ProfileInt("telegram_id")
	if !ok {
		t.logger.Debug("owner has no telegram chat", "owner_id", ownerID)
		return 0, false, nil
	}

	loggedIn, err := t.sessions.UserFor(ctx, chatID)
	if errors.Is(err, session.ErrNoSession) || (err == nil && loggedIn != ownerID) {
		t.logger.Debug("owner not logged in, notification dropped", "owner_id", ownerID, "chat_id", chatID)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return chatID, true, nil
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts a Markdown message to chatID.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	var result apiResult
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"}).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	if resp.StatusCode() != http.StatusOK || !result.OK {
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode(), result.Description)
	}
	t.logger.Info("telegram notification sent", "chat_id", chatID)
	return nil
}

// Message renders the alert text for kind. For errors, value is the
// humidity rise observed after watering.
func Message(kind, plantName string, value float64, at time.Time) string {
	switch kind {
	case KindHumidity:
		return fmt.Sprintf("⚠️ *Low humidity!*\n\nYour plant *%s* is down to *%.1f%%* soil humidity.\nCheck whether it needs watering 💧", plantName, value)
	case KindLight:
		return fmt.Sprintf("⚠️ *Low light!*\n\nYour plant *%s* is only getting *%.1f* lux.\nConsider moving it somewhere brighter ☀️", plantName, value)
	case KindError:
		return fmt.Sprintf("⚠️ *Possible fault* on *%s*!\n💧 After watering, humidity rose by only *%.1f%%*\n🕒 %s UTC\n🔍 Check that the pump is working.",
			plantName, max(0, value), at.UTC().Format("15:04 02-01-2006"))
	}
	return fmt.Sprintf("ℹ️ *%s*: %s %.1f", plantName, kind, value)
}
