// Package notify delivers crash and error events to external sinks. The
// default sink posts to a Discord channel using a bot token pulled from the
// bot settings; a generic webhook serves as the fallback. Notifications are
// fire-and-forget with bounded timeouts and never roll back the state change
// that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/repository"
)

const outboundTimeout = 10 * time.Second

// ErrorReport is a client-reported error forwarded to the error sink.
type ErrorReport struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	URL       string `json:"url,omitempty"`
	Component string `json:"component,omitempty"`
}

// Notifier is the capability set the scheduler and API depend on.
type Notifier interface {
	Crash(ctx context.Context, serverName string) error
	Error(ctx context.Context, report ErrorReport) error
}

// ChannelNotifier posts rich messages to chat channels. The bot token and
// channel ids are read from settings on every call so operators can rotate
// them without a restart.
type ChannelNotifier struct {
	settings repository.SettingsRepository
	client   *http.Client
	apiBase  string
	log      *slog.Logger
}

// NewChannelNotifier builds a channel sink backed by the bot settings table.
func NewChannelNotifier(settings repository.SettingsRepository, logger *slog.Logger) *ChannelNotifier {
	return &ChannelNotifier{
		settings: settings,
		client:   &http.Client{Timeout: outboundTimeout},
		apiBase:  "https://discord.com/api/v10",
		log:      logger,
	}
}

// Crash posts a crash embed to the crashes channel.
func (n *ChannelNotifier) Crash(ctx context.Context, serverName string) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       "Server crashed",
			"description": fmt.Sprintf("**%s** stopped unexpectedly.", serverName),
			"color":       0xED4245,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	return n.post(ctx, gamehost.BotSettingCrashesChannel, payload)
}

// Error posts a client error report to the errors channel.
func (n *ChannelNotifier) Error(ctx context.Context, report ErrorReport) error {
	description := report.Message
	if report.Component != "" {
		description = fmt.Sprintf("`%s`: %s", report.Component, report.Message)
	}
	fields := []map[string]any{}
	if report.URL != "" {
		fields = append(fields, map[string]any{"name": "URL", "value": report.URL})
	}
	if report.Stack != "" {
		stack := report.Stack
		if len(stack) > 1000 {
			stack = stack[:1000]
		}
		fields = append(fields, map[string]any{"name": "Stack", "value": fmt.Sprintf("```%s```", stack)})
	}

	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       "Frontend error",
			"description": description,
			"fields":      fields,
			"color":       0xFEE75C,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	return n.post(ctx, gamehost.BotSettingErrorsChannel, payload)
}

func (n *ChannelNotifier) post(ctx context.Context, channelKey string, payload any) error {
	token, err := n.settings.Get(ctx, gamehost.BotSettingToken)
	if err != nil {
		return fmt.Errorf("failed to load bot token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("no bot token configured")
	}

	channelID, err := n.settings.Get(ctx, channelKey)
	if err != nil {
		return fmt.Errorf("failed to load channel id: %w", err)
	}
	if channelID == "" {
		return fmt.Errorf("no channel configured for %s", channelKey)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", n.apiBase, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat API returned %d", resp.StatusCode)
	}
	return nil
}

// WebhookNotifier posts plain JSON payloads to a configured webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a webhook sink. An empty URL yields a sink that
// always errors, which the composite treats as "not configured".
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: outboundTimeout},
	}
}

// Crash posts a crash message to the webhook.
func (n *WebhookNotifier) Crash(ctx context.Context, serverName string) error {
	return n.post(ctx, map[string]any{
		"content": fmt.Sprintf(":rotating_light: **%s** stopped unexpectedly.", serverName),
	})
}

// Error posts an error report to the webhook.
func (n *WebhookNotifier) Error(ctx context.Context, report ErrorReport) error {
	return n.post(ctx, map[string]any{
		"content": fmt.Sprintf(":warning: %s", report.Message),
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload any) error {
	if n.url == "" {
		return fmt.Errorf("no webhook URL configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Composite tries the channel sink first and falls back to the webhook when
// the channel delivery fails.
type Composite struct {
	channel Notifier
	webhook Notifier
	log     *slog.Logger
}

// NewComposite builds the channel-first, webhook-fallback sink.
func NewComposite(channel, webhook Notifier, logger *slog.Logger) *Composite {
	return &Composite{channel: channel, webhook: webhook, log: logger}
}

// Crash delivers to the channel, falling back to the webhook.
func (n *Composite) Crash(ctx context.Context, serverName string) error {
	if err := n.channel.Crash(ctx, serverName); err != nil {
		n.log.Warn("channel crash notification failed, trying webhook", "error", err)
		return n.webhook.Crash(ctx, serverName)
	}
	return nil
}

// Error delivers to the channel, falling back to the webhook.
func (n *Composite) Error(ctx context.Context, report ErrorReport) error {
	if err := n.channel.Error(ctx, report); err != nil {
		n.log.Warn("channel error notification failed, trying webhook", "error", err)
		return n.webhook.Error(ctx, report)
	}
	return nil
}
