package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	APIBase  string `json:"api_base,omitempty"`
}

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier. It stays disabled
// without both a token and a chat id.
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	base := config.APIBase
	if base == "" {
		base = DefaultTelegramAPI
	}
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		apiBase:  base,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, n *Notification) error {
	if !t.enabled {
		return nil
	}
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	return postJSON(ctx, t.client, url, payload, http.StatusOK)
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, n *Notification) error {
	if !d.enabled {
		return nil
	}
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{discordEmbed(n)},
	}
	return postJSON(ctx, d.client, d.webhookURL, payload, http.StatusOK, http.StatusNoContent)
}

func discordEmbed(n *Notification) map[string]interface{} {
	color := 0x00FF00 // Green
	switch n.Kind {
	case KindError:
		color = 0xFF0000
	case KindStopped:
		color = 0xFFA500
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}
	if n.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": n.Symbol, "inline": true},
		}
		if n.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%g", n.Price), "inline": true,
			})
		}
		embed["fields"] = fields
	}
	return embed
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, okCodes ...int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range okCodes {
		if resp.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("API returned status %d", resp.StatusCode)
}
