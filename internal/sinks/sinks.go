package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"whalewatch/internal/metrics"
	"whalewatch/internal/model"
)

// Sink delivers one alert to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert model.Alert) error
}

// Multi fans an alert out to all configured sinks. A failing sink is logged
// and counted but never blocks the others.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Append(sink Sink) {
	m.sinks = append(m.sinks, sink)
}

func (m *Multi) Send(ctx context.Context, alert model.Alert) {
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			m.logger.Error("sink delivery failed",
				"sink", sink.Name(), "dedupe_key", alert.DedupeKey, "error", err)
		}
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Console prints alert text to the process logger.
type Console struct {
	Logger *slog.Logger
}

func (Console) Name() string { return "console" }

func (c Console) Send(_ context.Context, alert model.Alert) error {
	c.Logger.Info("alert", "text", alert.Text, "score", alert.Score, "usd_value", alert.USDValue)
	return nil
}

// Telegram sends alert text through the bot API.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string, timeout time.Duration) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: timeout}}
}

func (*Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, alert model.Alert) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	return postJSON(ctx, t.Client, url, map[string]any{
		"chat_id": t.ChatID,
		"text":    alert.Text,
	})
}

// Discord posts alert text to a webhook.
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscord(webhookURL string, timeout time.Duration) *Discord {
	return &Discord{WebhookURL: webhookURL, Client: &http.Client{Timeout: timeout}}
}

func (*Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, alert model.Alert) error {
	return postJSON(ctx, d.Client, d.WebhookURL, map[string]any{"content": alert.Text})
}

// Webhook posts a compact JSON projection of the alert to an arbitrary URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (*Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, alert model.Alert) error {
	return postJSON(ctx, w.Client, w.URL, map[string]any{
		"text":      alert.Text,
		"usd_value": alert.USDValue,
		"score":     alert.Score,
		"tx_id":     alert.TxID,
		"chain":     alert.Chain,
		"timestamp": alert.Timestamp,
		"deep_link": alert.DeepLink,
		"raw":       alert.Raw,
	})
}
