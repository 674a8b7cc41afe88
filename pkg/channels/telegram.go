package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/praetor-io/watchtower/pkg/alerts"
)

// TelegramHandler sends alerts through the Telegram bot HTTP API.
type TelegramHandler struct {
	apiBase string
	chatID  string
	client  *http.Client
}

// NewTelegramHandler builds a handler from a bot token and chat id.
func NewTelegramHandler(botToken, chatID string) *TelegramHandler {
	return &TelegramHandler{
		apiBase: "https://api.telegram.org/bot" + botToken,
		chatID:  chatID,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Name implements Handler.
func (h *TelegramHandler) Name() string {
	return "telegram"
}

// Dispatch implements Handler.
func (h *TelegramHandler) Dispatch(ctx context.Context, alert alerts.Alert) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": h.chatID,
		"text":    fmt.Sprintf("%s | %s | %s\n%s", alert.Severity, alert.ParentID, alert.AlertCode.Name, alert.Message),
	})
	if err != nil {
		return fmt.Errorf("encoding telegram message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiBase+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api answered %d", resp.StatusCode)
	}
	return nil
}
