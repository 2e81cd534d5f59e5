package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries one triggered price alert.
type Notification struct {
	AlertID      int64
	Recipient    string
	ProductName  string
	Region       string
	CurrentPrice decimal.Decimal
	TargetPrice  decimal.Decimal
	Condition    string
	TriggeredAt  time.Time
}

// Notifier delivers a notification. A nil error is the delivery acknowledgment.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier. chatID is used when the
// notification has no recipient of its own.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	chatID := n.chatID
	if note.Recipient != "" {
		chatID = note.Recipient
	}
	if chatID == "" {
		return fmt.Errorf("telegram: no chat id for alert %d", note.AlertID)
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", note.AlertID).
		Str("product", note.ProductName).
		Str("region", note.Region).
		Msg("alert delivered (Telegram)")
	return nil
}

func renderSubject(note Notification) string {
	return fmt.Sprintf("Price alert: %s (%s) is %s %s", note.ProductName, note.Region, describeCondition(note.Condition), note.TargetPrice.String())
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Product: %s\n", note.ProductName))
	builder.WriteString(fmt.Sprintf("Region: %s\n", note.Region))
	builder.WriteString(fmt.Sprintf("Current price: %s\n", note.CurrentPrice.String()))
	builder.WriteString(fmt.Sprintf("Target: %s %s\n", describeCondition(note.Condition), note.TargetPrice.String()))
	if !note.TriggeredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Triggered: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

func describeCondition(condition string) string {
	switch strings.ToUpper(condition) {
	case "ABOVE":
		return "above"
	case "BELOW":
		return "below"
	default:
		return strings.ToLower(condition)
	}
}

var _ Notifier = (*TelegramNotifier)(nil)
