// Package notification formats TradeEvents into SMS and chat-webhook
// messages and dispatches them to whichever sinks are configured, the way
// a NotificationService turns internal events into outbound Telegram/
// Discord traffic.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/koshedutech/candlewatch/internal/model"
)

// Sink delivers one formatted event. Name identifies it for rate-limit
// bucketing and logging.
type Sink interface {
	Name() string
	Send(ctx context.Context, event *model.TradeEvent) error
}

// RateLimiter caps how many sends a bucket key may make in a one-hour window
// that starts at the first send after the previous window expired.
// A single process-lifetime counter per key is enough here: the dispatcher
// is the only writer, and a restart resetting the count is acceptable for
// a best-effort notification path.
type RateLimiter struct {
	mu       sync.Mutex
	perHour  int
	buckets  map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

func NewRateLimiter(perHour int) *RateLimiter {
	return &RateLimiter{perHour: perHour, buckets: make(map[string]*bucket)}
}

// Allow reports whether key may send now, incrementing its count if so.
func (r *RateLimiter) Allow(key string) bool {
	if r.perHour <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	now := time.Now()
	if !ok || now.Sub(b.windowStart) >= time.Hour {
		b = &bucket{windowStart: now}
		r.buckets[key] = b
	}
	if b.count >= r.perHour {
		return false
	}
	b.count++
	return true
}

// Manager fans a TradeEvent out to every configured sink, rate-limited per
// sink so a noisy cycle can't flood Telegram or burn through an SMS quota.
type Manager struct {
	sinks   []Sink
	limiter *RateLimiter
}

func NewManager(limiter *RateLimiter, sinks ...Sink) *Manager {
	return &Manager{sinks: sinks, limiter: limiter}
}

// Dispatch sends event to every sink whose rate-limit bucket has room. A
// sink failing never blocks the others; the first error is returned after
// all sinks have been tried.
func (m *Manager) Dispatch(ctx context.Context, event *model.TradeEvent) error {
	var firstErr error
	for _, s := range m.sinks {
		if !m.limiter.Allow(s.Name()) {
			continue
		}
		if err := s.Send(ctx, event); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return firstErr
}

// smsMaxLen is the hard cap imposed on SMS bodies.
const smsMaxLen = 160

// FormatSMS renders an event as a single-segment SMS body, truncating to
// smsMaxLen if the symbol/data combination runs long.
func FormatSMS(event *model.TradeEvent) string {
	msg := smsLine(event)
	if len(msg) > smsMaxLen {
		msg = msg[:smsMaxLen-1] + "…"
	}
	return msg
}

func smsLine(event *model.TradeEvent) string {
	switch event.EventType {
	case model.EventBuy, model.EventDCA, model.EventPartialExit, model.EventSell:
		price, _ := event.Data["price"].(float64)
		pnl, hasPnL := event.Data["pnl"].(float64)
		if hasPnL {
			return fmt.Sprintf("%s %s @ %.4f PnL %.2f", event.EventType, event.Symbol, price, pnl)
		}
		return fmt.Sprintf("%s %s @ %.4f", event.EventType, event.Symbol, price)
	case model.EventCircuitBreaker:
		losses, _ := event.Data["consecutive_losses"].(int)
		reactivates, _ := event.Data["reactivates_at"].(string)
		return fmt.Sprintf("CIRCUIT BREAKER tripped after %d losses, reactivates %s", losses, reactivates)
	case model.EventDrawdownPause:
		pct, _ := event.Data["total_pnl_percent"].(float64)
		return fmt.Sprintf("DRAWDOWN PAUSE: portfolio at %.2f%%", pct)
	case model.EventExecutionError:
		note, _ := event.Data["error"].(string)
		return fmt.Sprintf("EXECUTION ERROR %s: %s", event.Symbol, note)
	case model.EventHourlySummary:
		open, _ := event.Data["open_count"].(int)
		wr, _ := event.Data["win_rate"].(float64)
		return fmt.Sprintf("Hourly summary: %d open, win rate %.1f%%", open, wr)
	case model.EventExitScannerAction:
		score, _ := event.Data["score"].(float64)
		action, _ := event.Data["action"].(model.DecisionAction)
		return fmt.Sprintf("Exit scan %s: score %.0f, action %s", event.Symbol, score, action)
	default:
		return fmt.Sprintf("%s %s", event.EventType, event.Symbol)
	}
}

// Embed is the subset of a Discord embed the chat-webhook sink fills in.
type Embed struct {
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Color       int                      `json:"color"`
	Timestamp   string                   `json:"timestamp"`
	Fields      []map[string]interface{} `json:"fields,omitempty"`
}

// FormatEmbed renders an event as a chat-webhook embed.
func FormatEmbed(event *model.TradeEvent) Embed {
	color := 0x2ECC71 // green
	switch event.EventType {
	case model.EventSell, model.EventCircuitBreaker, model.EventDrawdownPause, model.EventExecutionError:
		color = 0xE74C3C // red
	case model.EventHourlySummary:
		color = 0x3498DB // blue
	}

	embed := Embed{
		Title:       fmt.Sprintf("%s — %s", event.EventType, event.Symbol),
		Description: smsLine(event),
		Color:       color,
		Timestamp:   event.CreatedAt.Format(time.RFC3339),
	}
	for k, v := range event.Data {
		embed.Fields = append(embed.Fields, map[string]interface{}{
			"name": k, "value": fmt.Sprintf("%v", v), "inline": true,
		})
	}
	return embed
}

// TelegramSink posts the SMS-formatted line to a chat via the Telegram bot
// API, replacing a hand-rolled HTTP POST with the maintained client.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, event *model.TradeEvent) error {
	msg := tgbotapi.NewMessage(t.chatID, smsLine(event))
	_, err := t.bot.Send(msg)
	return err
}

// WebhookSink posts a chat-webhook embed (Discord-shaped) via HTTP.
type WebhookSink struct {
	name string
	url  string
	http *http.Client
}

func NewWebhookSink(name, url string) *WebhookSink {
	return &WebhookSink{name: name, url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSink) Name() string { return w.name }

func (w *WebhookSink) Send(ctx context.Context, event *model.TradeEvent) error {
	payload := map[string]interface{}{"embeds": []Embed{FormatEmbed(event)}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SMSSink posts the SMS-formatted body to an HTTP SMS gateway and doubles
// as the risk Supervisor's Alerter for circuit-breaker trip messages.
type SMSSink struct {
	url  string
	http *http.Client
}

func NewSMSSink(url string) *SMSSink {
	return &SMSSink{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SMSSink) Name() string { return "sms" }

func (s *SMSSink) Send(ctx context.Context, event *model.TradeEvent) error {
	return s.SendSMS(ctx, FormatSMS(event))
}

// SendSMS posts a pre-formatted body, satisfying risk.Alerter directly.
func (s *SMSSink) SendSMS(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
