// Package notification delivers operator alerts. Every notification is
// journaled to Postgres before delivery, deduplicated over a sliding window,
// and fanned out to the sinks subscribed to its delivery group.
package notification

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"martingalian/internal/database"
)

// Levels double as delivery groups: operational chatter goes to the info
// group, failures to the error group.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notification is one alert on its way out.
type Notification struct {
	Level     string
	Title     string
	Message   string
	AccountID *int64
	Timestamp time.Time
}

// Sink delivers notifications to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *Notification) error
}

// Service journals, deduplicates and fans out. It satisfies the job layer's
// Notifier interface.
type Service struct {
	DB     *database.DB
	Logger zerolog.Logger
	// DedupWindow suppresses identical notifications inside the window.
	DedupWindow time.Duration

	// groups maps a level onto its sinks; error-level sinks also receive
	// warns when no warn group is configured.
	groups map[string][]Sink
}

// NewService builds an empty service; attach sinks with Subscribe.
func NewService(db *database.DB, logger zerolog.Logger) *Service {
	return &Service{
		DB:          db,
		Logger:      logger.With().Str("component", "notification").Logger(),
		DedupWindow: 15 * time.Minute,
		groups:      map[string][]Sink{},
	}
}

// Subscribe attaches a sink to a delivery group.
func (s *Service) Subscribe(level string, sink Sink) {
	s.groups[level] = append(s.groups[level], sink)
}

// Send journals and delivers one notification. Delivery failures are logged,
// not returned: a dead webhook must never fail a trading workflow.
func (s *Service) Send(ctx context.Context, level, title, message string, accountID *int64) error {
	if level == "" {
		level = LevelInfo
	}
	dedupKey := dedupKeyFor(level, title, message)

	duplicate, err := s.DB.RecentDuplicateExists(ctx, dedupKey, s.DedupWindow)
	if err != nil {
		return err
	}
	if duplicate {
		s.Logger.Debug().Str("title", title).Msg("duplicate notification suppressed")
		return nil
	}

	log := &database.NotificationLog{
		AccountID: accountID,
		GroupName: level,
		Level:     level,
		Title:     title,
		Message:   message,
		DedupKey:  &dedupKey,
	}
	if err := s.DB.InsertNotificationLog(ctx, log); err != nil {
		return err
	}

	n := &Notification{
		Level:     level,
		Title:     title,
		Message:   message,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
	}

	delivered := false
	for _, sink := range s.sinksFor(level) {
		if err := sink.Deliver(ctx, n); err != nil {
			s.Logger.Warn().Err(err).Str("sink", sink.Name()).Str("title", title).Msg("notification delivery failed")
			continue
		}
		delivered = true
	}
	if delivered {
		if err := s.DB.MarkNotificationSent(ctx, log.ID); err != nil {
			s.Logger.Warn().Err(err).Int64("id", log.ID).Msg("failed to mark notification sent")
		}
	}
	return nil
}

func (s *Service) sinksFor(level string) []Sink {
	if sinks := s.groups[level]; len(sinks) > 0 {
		return sinks
	}
	// Warns fall back to the error group.
	if level == LevelWarn {
		return s.groups[LevelError]
	}
	return nil
}

func dedupKeyFor(level, title, message string) string {
	sum := sha256.Sum256([]byte(level + "\x00" + title + "\x00" + message))
	return hex.EncodeToString(sum[:16])
}

// ==================== TELEGRAM ====================

// TelegramSink sends via the Telegram bot API.
type TelegramSink struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramSink builds the sink; empty credentials yield a nil sink the
// caller should not subscribe.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Deliver(ctx context.Context, n *Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// ==================== DISCORD ====================

// DiscordSink sends via a Discord webhook.
type DiscordSink struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSink builds the sink; an empty URL yields nil.
func NewDiscordSink(webhookURL string) *DiscordSink {
	if webhookURL == "" {
		return nil
	}
	return &DiscordSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Deliver(ctx context.Context, n *Notification) error {
	color := 0x2ECC71
	switch n.Level {
	case LevelWarn:
		color = 0xF1C40F
	case LevelError:
		color = 0xE74C3C
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{{
			"title":       n.Title,
			"description": n.Message,
			"color":       color,
			"timestamp":   n.Timestamp.Format(time.RFC3339),
		}},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
