package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deoncarlette/AutoMod/internal/config"
	"github.com/deoncarlette/AutoMod/internal/room"
	"github.com/google/uuid"
)

const (
	requestTimeout = 15 * time.Second

	headerUserAgent  = "clubhouse/588 (iPhone; iOS 14.4; Scale/2.00)"
	headerAppBuild   = "588"
	headerAppVersion = "0.1.28"
)

type HTTPClient struct {
	baseURL  string
	userID   int64
	token    string
	deviceID string
	client   *http.Client
}

// NewHTTPClient builds the channel-service client. When no device id is
// configured one is generated, matching what the service expects from a
// fresh install.
func NewHTTPClient(cfg *config.Config) room.Client {
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = strings.ToUpper(uuid.NewString())
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.APIBaseURL, "/"),
		userID:   cfg.UserID,
		token:    cfg.UserToken,
		deviceID: deviceID,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (c *HTTPClient) UserID() int64 {
	return c.userID
}

func (c *HTTPClient) JoinChannel(ctx context.Context, channel string) (*room.Channel, error) {
	payload := map[string]any{
		"channel":            channel,
		"attribution_source": "feed",
	}
	var ch room.Channel
	if err := c.post(ctx, "/join_channel", payload, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *HTTPClient) GetChannel(ctx context.Context, channel string) (*room.Channel, error) {
	payload := map[string]any{"channel": channel}
	var ch room.Channel
	if err := c.post(ctx, "/get_channel", payload, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *HTTPClient) AudienceReply(ctx context.Context, channel string) error {
	payload := map[string]any{
		"channel":       channel,
		"raise_hands":   true,
		"unraise_hands": false,
	}
	return c.post(ctx, "/audience_reply", payload, nil)
}

func (c *HTTPClient) AcceptSpeakerInvite(ctx context.Context, channel string, userID int64) error {
	payload := map[string]any{"channel": channel, "user_id": userID}
	return c.post(ctx, "/accept_speaker_invite", payload, nil)
}

func (c *HTTPClient) InviteSpeaker(ctx context.Context, channel string, userID int64) error {
	payload := map[string]any{"channel": channel, "user_id": userID}
	return c.post(ctx, "/invite_speaker", payload, nil)
}

func (c *HTTPClient) MakeModerator(ctx context.Context, channel string, userID int64) error {
	payload := map[string]any{"channel": channel, "user_id": userID}
	return c.post(ctx, "/make_moderator", payload, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, channel, message string) error {
	payload := map[string]any{"channel": channel, "message": message}
	return c.post(ctx, "/send_channel_message", payload, nil)
}

func (c *HTTPClient) ActivePing(ctx context.Context, channel string) error {
	payload := map[string]any{"channel": channel}
	return c.post(ctx, "/active_ping", payload, nil)
}

func (c *HTTPClient) LeaveChannel(ctx context.Context, channel string) error {
	payload := map[string]any{"channel": channel}
	return c.post(ctx, "/leave_channel", payload, nil)
}

func (c *HTTPClient) GetFeed(ctx context.Context) (*room.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_feed", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get_feed: %w: %v", room.ErrUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("get_feed: %w: %v", room.ErrUnreachable, err)
	}
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("get_feed: %w: status %d", room.ErrUnreachable, resp.StatusCode)
	}
	var feed room.Feed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("get_feed: malformed response: %w", err)
	}
	feed.Raw = body
	return &feed, nil
}

type actionResult struct {
	Success *bool `json:"success"`
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, room.ErrUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, room.ErrUnreachable, err)
	}
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("%s: %w: status %d", path, room.ErrUnreachable, resp.StatusCode)
	}
	var result actionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%s: malformed response: %w", path, err)
	}
	if result.Success != nil && !*result.Success {
		return fmt.Errorf("%s: %w: service reported failure", path, room.ErrUnreachable)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: malformed response: %w", path, err)
		}
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", headerUserAgent)
	req.Header.Set("CH-AppBuild", headerAppBuild)
	req.Header.Set("CH-AppVersion", headerAppVersion)
	req.Header.Set("CH-UserID", fmt.Sprintf("%d", c.userID))
	req.Header.Set("CH-DeviceId", c.deviceID)
	req.Header.Set("Authorization", "Token "+c.token)
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
