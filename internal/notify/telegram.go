// Package notify delivers staff notifications through the Telegram Bot API.
//
// Delivery is best-effort by contract: the message service invokes the
// notifier from a detached goroutine, logs failures, and never lets them
// affect the request that triggered them. This package therefore keeps its
// surface to a single blocking Notify call and leaves the fire-and-forget
// wrapping to the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
)

// deliveries tracks notification outcomes; "skipped" means the notifier is
// not configured.
var deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Telegram notification attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(deliveries)
}

// snippetMaxRunes caps how much of the message body is forwarded to staff.
const snippetMaxRunes = 200

// NewConversationAlert describes the first visitor message of a brand-new
// conversation, the only event that pages staff.
type NewConversationAlert struct {
	ConversationID string
	VisitorID      string
	Body           string
}

// Telegram posts alerts to a fixed chat via the Bot API sendMessage method.
//
// The zero value is a disabled notifier: Notify becomes a no-op. This lets
// local development run without credentials while keeping the call sites
// unconditional.
type Telegram struct {
	BotToken string
	ChatID   string

	// Client is used for API calls; a default with a 10s timeout is applied
	// when nil.
	Client *http.Client

	// baseURL overrides the Telegram API host in tests.
	baseURL string
}

// Enabled reports whether the notifier has credentials to deliver with.
func (t *Telegram) Enabled() bool {
	return strings.TrimSpace(t.BotToken) != "" && strings.TrimSpace(t.ChatID) != ""
}

// Notify sends the alert. It returns an error for the caller to log; callers
// must not propagate it into a request result.
func (t *Telegram) Notify(ctx context.Context, alert NewConversationAlert) error {
	if !t.Enabled() {
		deliveries.WithLabelValues("skipped").Inc()
		return nil
	}

	base := t.baseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)

	payload := map[string]string{
		"chat_id": t.ChatID,
		"text":    formatAlert(alert),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		deliveries.WithLabelValues("error").Inc()
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		deliveries.WithLabelValues("error").Inc()
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		deliveries.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		deliveries.WithLabelValues("error").Inc()
		return errors.New("telegram: unexpected status " + resp.Status)
	}
	deliveries.WithLabelValues("sent").Inc()
	return nil
}

// formatAlert renders the staff-facing text. Plain text, no parse mode, so
// arbitrary visitor input cannot break Telegram markup.
func formatAlert(a NewConversationAlert) string {
	var b strings.Builder
	b.WriteString("New chat conversation\n")
	b.WriteString("Visitor: ")
	b.WriteString(a.VisitorID)
	b.WriteString("\nConversation: ")
	b.WriteString(a.ConversationID)
	b.WriteString("\n\n")
	b.WriteString(clip(a.Body, snippetMaxRunes))
	return b.String()
}

// clip truncates s to max runes, appending an ellipsis when cut.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
