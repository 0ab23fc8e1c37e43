// Package alerts implements the gateway's AlertNotifier seam: a thin
// Discord webhook poster for moderation signals raised mid-session
// (HWID collisions, §4.10). Grounded on the same bare-net/http outbound
// style internal/bot uses for its own Discord embed posts — no pack
// example wires a dedicated Discord client library.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DiscordAlerter posts moderation alerts to a configured webhook,
// logging and swallowing delivery failures rather than propagating
// them — an alert that fails to post must never block the session
// gateway's request path.
type DiscordAlerter struct {
	WebhookURL string
	HTTPClient *http.Client
	Log        *slog.Logger
}

func New(webhookURL string, log *slog.Logger) *DiscordAlerter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordAlerter{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Log:        log,
	}
}

// PostHWIDCollision implements gateway.AlertNotifier: a user logging in
// under hardware identifiers already tied to other accounts, the
// strongest multi-accounting signal the gateway can raise inline (§9).
func (a *DiscordAlerter) PostHWIDCollision(ctx context.Context, userID uint, others []uint) {
	if a.WebhookURL == "" {
		return
	}
	message := fmt.Sprintf("HWID collision: user %d shares hardware with %v", userID, others)
	a.post(ctx, message)
}

func (a *DiscordAlerter) post(ctx context.Context, message string) {
	body, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{{"description": message}},
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		a.Log.Warn("alert webhook delivery failed", "error", err)
		return
	}
	resp.Body.Close()
}
