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

	"bond-alerts/internal/bond"
)

// Notifier delivers one alert candidate to the messaging channel.
type Notifier interface {
	Notify(ctx context.Context, candidate bond.AlertCandidate) error
}

// TelegramNotifier pushes alert text through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram transport.
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

// Notify posts the rendered candidate via sendMessage. Delivery counts as
// confirmed only on a 2xx response with ok=true.
func (n *TelegramNotifier) Notify(ctx context.Context, candidate bond.AlertCandidate) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(candidate),
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
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	// Delivery is confirmed only by an explicit ok=true; a 2xx with a body
	// we cannot read is not a confirmation.
	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("isin", candidate.Instrument.ISIN).
		Str("reason", string(candidate.Reason)).
		Msg("alert delivered")
	return nil
}

// RenderMessage formats a candidate as alert text. Pure function of the
// candidate so formatting stays independently testable.
func RenderMessage(candidate bond.AlertCandidate) string {
	builder := strings.Builder{}
	builder.WriteString("[Bond Alert]\n")

	switch candidate.Reason {
	case bond.ReasonNewInstrument:
		builder.WriteString(fmt.Sprintf("New instrument %s (%s) @ %s%% YTM\n",
			candidate.Instrument.ISIN, candidate.Instrument.Name, candidate.Current.YieldPct.StringFixed(2)))
	case bond.ReasonThresholdCrossed:
		builder.WriteString(fmt.Sprintf("Yield move on %s (%s)\n",
			candidate.Instrument.ISIN, candidate.Instrument.Name))
	default:
		builder.WriteString(fmt.Sprintf("Alert for %s (%s)\n",
			candidate.Instrument.ISIN, candidate.Instrument.Name))
	}

	if candidate.Prior != nil {
		builder.WriteString(fmt.Sprintf("Prior: %s%% YTM\n", candidate.Prior.YieldPct.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Current: %s%% YTM (%s%s pp)\n",
			candidate.Current.YieldPct.StringFixed(2), signPrefix(candidate.DeltaPct), candidate.DeltaPct.Abs().StringFixed(2)))
	} else {
		builder.WriteString(fmt.Sprintf("Current: %s%% YTM\n", candidate.Current.YieldPct.StringFixed(2)))
	}

	if !candidate.Current.Price.IsZero() {
		builder.WriteString(fmt.Sprintf("Price: %s%%\n", candidate.Current.Price.StringFixed(2)))
	}
	if candidate.Current.Rating != "" {
		builder.WriteString(fmt.Sprintf("Rating: %s\n", candidate.Current.Rating))
	}
	if !candidate.Current.YearsToMaturity.IsZero() {
		builder.WriteString(fmt.Sprintf("Maturity: %s years\n", candidate.Current.YearsToMaturity.StringFixed(1)))
	}

	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", candidate.Current.ObservedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

func signPrefix(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return "-"
	}
	return "+"
}

var _ Notifier = (*TelegramNotifier)(nil)
