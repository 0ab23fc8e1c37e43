// Package notify implements the score engine's GatewayNotifier seam as
// an HTTP client against the session gateway's own internal admin
// channel (C12): the web process and the bancho process are separate
// deployables (§1/§2's five-component split), so a stats refresh or
// rank-1 announcement raised by a score submission must cross process
// boundaries the same way any other internal-admin caller does.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client posts to the bancho host's /api/v2/bancho/update and
// /notification endpoints, authenticated by the shared HMAC key.
type Client struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
}

func New(baseURL, key string) *Client {
	return &Client{BaseURL: baseURL, Key: key, HTTPClient: &http.Client{Timeout: 5 * time.Second}}
}

// NotifyUserRefresh implements scores.GatewayNotifier: tells the live
// gateway process to recompute and rebroadcast a user's stats.
func (c *Client) NotifyUserRefresh(ctx context.Context, userID uint) {
	c.postJSON(ctx, "/api/v2/bancho/update", map[string]any{
		"method": "user:refresh", "user_id": userID, "key": c.Key,
	})
}

// AnnounceRank1 implements scores.GatewayNotifier: announces a new #1
// score to the #announce channel via the bot.
func (c *Client) AnnounceRank1(ctx context.Context, username string, beatmapID uint32) {
	message := fmt.Sprintf("%s achieved rank #1 on beatmap %d!", username, beatmapID)
	c.postJSON(ctx, "/api/v2/bancho/notification", map[string]any{
		"message": message, "message_type": "chat", "target": "#announce", "key": c.Key,
	})
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]any) {
	if c.BaseURL == "" {
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
