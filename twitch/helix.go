// Package twitch talks to Twitch: the Helix API for live-status polling and
// anonymous IRC over websocket for chat capture.
package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/KenB-Good/ClipMaster/types"
)

const (
	helixBaseURL = "https://api.twitch.tv/helix"
	tokenURL     = "https://id.twitch.tv/oauth2/token"
)

// StreamInfo is the live-stream state the capture controller polls.
type StreamInfo struct {
	ID          string    `json:"id"`
	UserLogin   string    `json:"user_login"`
	UserName    string    `json:"user_name"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// HelixClient calls the Twitch Helix API with an app access token refreshed
// through the client-credentials flow.
type HelixClient struct {
	clientID   string
	httpClient *http.Client
	baseURL    string
}

// NewHelixClient builds a client. The oauth2 transport mints and refreshes
// the app token on demand.
func NewHelixClient(clientID, clientSecret string) *HelixClient {
	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	httpClient := conf.Client(context.Background())
	httpClient.Timeout = 15 * time.Second
	return &HelixClient{
		clientID:   clientID,
		httpClient: httpClient,
		baseURL:    helixBaseURL,
	}
}

// GetStream returns the live stream for a channel login, or nil when the
// channel is offline.
func (c *HelixClient) GetStream(ctx context.Context, channel string) (*StreamInfo, error) {
	endpoint := fmt.Sprintf("%s/streams?user_login=%s", c.baseURL, url.QueryEscape(channel))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.Invalid(fmt.Errorf("build helix request: %w", err))
	}
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("helix get streams: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.Unrecoverable(fmt.Errorf("helix auth rejected: status %d", resp.StatusCode))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.Transient(fmt.Errorf("helix unavailable: status %d", resp.StatusCode))
	default:
		return nil, types.Unrecoverable(fmt.Errorf("helix get streams: status %d", resp.StatusCode))
	}

	var parsed struct {
		Data []StreamInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.Transient(fmt.Errorf("decode helix response: %w", err))
	}
	if len(parsed.Data) == 0 {
		return nil, nil
	}
	return &parsed.Data[0], nil
}

// IsLive reports whether the channel is currently streaming.
func (c *HelixClient) IsLive(ctx context.Context, channel string) (bool, error) {
	stream, err := c.GetStream(ctx, channel)
	if err != nil {
		return false, err
	}
	return stream != nil, nil
}
