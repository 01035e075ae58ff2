package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/angrmgmt/cliparino/internal/errkind"
	"github.com/angrmgmt/cliparino/internal/logger"
)

const (
	defaultBaseURL = "https://api.twitch.tv/helix"

	// maxAttempts bounds every outgoing call: the first try plus two retries.
	maxAttempts = 3

	// gamesBatchSize is the helix limit on repeated id parameters per call.
	gamesBatchSize = 100
)

// TokenSource supplies and refreshes the access token used for every call.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// ClientConfig configures the helix client.
type ClientConfig struct {
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *logger.Logger
	// RetryBaseDelay overrides the first retry delay. Zero means 2s.
	RetryBaseDelay time.Duration
}

// Client is the authenticated platform REST client. All calls share one
// HTTP client, inject the Client-ID header and a bearer token, and retry
// transient failures with exponential backoff.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	tokens   TokenSource
	retry    failsafe.Executor[*http.Response]
	logger   *logger.Logger
}

// NewClient creates a helix client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 2 * time.Second
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(baseDelay, 4*baseDelay).
		WithMaxRetries(maxAttempts - 1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			if resp == nil {
				return true
			}
			return resp.StatusCode >= http.StatusInternalServerError ||
				resp.StatusCode == http.StatusTooManyRequests
		}).
		Build()

	return &Client{
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		http:     cfg.HTTPClient,
		tokens:   cfg.Tokens,
		retry:    failsafe.With(retry),
		logger:   cfg.Logger.WithComponent("twitch_client"),
	}
}

// do performs one API call with transient retry and a single in-line token
// refresh on 401. The returned bytes are the full response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	data, status, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Info("access token rejected, refreshing", slog.String("path", path))
		if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
			return nil, errkind.Newf(errkind.AuthExpired, "token refresh failed: %v", refreshErr)
		}
		data, status, err = c.send(ctx, method, path, query, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, errkind.Newf(errkind.AuthExpired, "%s %s still unauthorized after refresh", method, path)
		}
	}

	switch {
	case status >= 200 && status < 300:
		return data, nil
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return nil, errkind.Newf(errkind.Transient, "%s %s: status %d after %d attempts", method, path, status, maxAttempts)
	default:
		return nil, errkind.Newf(errkind.InvalidInput, "%s %s: status %d: %s", method, path, status, truncate(data, 200))
	}
}

// send runs the request through the retry executor, rebuilding the request
// (and re-reading the token) on every attempt.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, int, error) {
	resp, err := c.retry.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := c.buildRequest(ctx, method, path, query, body)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		// Drain retryable responses so the connection can be reused; their
		// bodies are never read by callers.
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return resp, nil
	})
	if err != nil {
		return nil, 0, errkind.Newf(errkind.Transient, "%s %s: %v", method, path, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errkind.Newf(errkind.Transient, "%s %s: read body: %v", method, path, err)
	}
	return data, resp.StatusCode, nil
}

func (c *Client) buildRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, errkind.Newf(errkind.AuthExpired, "no access token: %v", err)
	}

	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// dataEnvelope is the {"data": [...]} wrapper helix puts around everything.
type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

func decodeData[T any](payload []byte) ([]T, error) {
	var env dataEnvelope[T]
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return env.Data, nil
}

// GetClipByID fetches one clip by slug and hydrates its game name.
func (c *Client) GetClipByID(ctx context.Context, id string) (Clip, error) {
	if id == "" {
		return Clip{}, errkind.Newf(errkind.InvalidInput, "empty clip id")
	}

	query := url.Values{"id": {id}}
	payload, err := c.do(ctx, http.MethodGet, "/clips", query, nil)
	if err != nil {
		return Clip{}, err
	}

	dtos, err := decodeData[clipDTO](payload)
	if err != nil {
		return Clip{}, err
	}
	if len(dtos) == 0 {
		return Clip{}, errkind.Newf(errkind.InvalidInput, "clip %q not found", id)
	}

	clips := []Clip{dtos[0].toClip()}
	c.hydrateGameNames(ctx, clips)
	return clips[0], nil
}

// GetClipByURL parses the clip slug out of a URL and fetches it.
func (c *Client) GetClipByURL(ctx context.Context, rawURL string) (Clip, error) {
	id, ok := ExtractClipID(rawURL)
	if !ok {
		return Clip{}, errkind.Newf(errkind.InvalidInput, "cannot extract clip id from %q", rawURL)
	}
	return c.GetClipByID(ctx, id)
}

// GetClipsByBroadcaster lists up to count clips for a broadcaster within the
// optional time window. Game names are hydrated in batches.
func (c *Client) GetClipsByBroadcaster(ctx context.Context, broadcasterID string, count int, startedAt, endedAt *time.Time) ([]Clip, error) {
	if broadcasterID == "" {
		return nil, errkind.Newf(errkind.InvalidInput, "empty broadcaster id")
	}
	if count <= 0 || count > 100 {
		count = 100
	}

	query := url.Values{
		"broadcaster_id": {broadcasterID},
		"first":          {strconv.Itoa(count)},
	}
	if startedAt != nil {
		query.Set("started_at", startedAt.UTC().Format(time.RFC3339))
	}
	if endedAt != nil {
		query.Set("ended_at", endedAt.UTC().Format(time.RFC3339))
	}

	payload, err := c.do(ctx, http.MethodGet, "/clips", query, nil)
	if err != nil {
		return nil, err
	}

	dtos, err := decodeData[clipDTO](payload)
	if err != nil {
		return nil, err
	}

	clips := make([]Clip, 0, len(dtos))
	for _, dto := range dtos {
		clips = append(clips, dto.toClip())
	}
	c.hydrateGameNames(ctx, clips)
	return clips, nil
}

// hydrateGameNames resolves game ids to names, batching unique non-empty
// ids into games lookups of at most gamesBatchSize each. Hydration is
// best-effort: clips keep an empty game name on lookup failure.
func (c *Client) hydrateGameNames(ctx context.Context, clips []Clip) {
	unique := make(map[string]struct{})
	for _, clip := range clips {
		if clip.GameID != "" {
			unique[clip.GameID] = struct{}{}
		}
	}
	if len(unique) == 0 {
		return
	}

	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	names := make(map[string]string, len(ids))
	for start := 0; start < len(ids); start += gamesBatchSize {
		end := start + gamesBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		query := url.Values{"id": ids[start:end]}
		payload, err := c.do(ctx, http.MethodGet, "/games", query, nil)
		if err != nil {
			c.logger.Warn("game lookup failed", slog.String("error", err.Error()))
			continue
		}

		games, err := decodeData[struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}](payload)
		if err != nil {
			c.logger.Warn("game lookup decode failed", slog.String("error", err.Error()))
			continue
		}
		for _, g := range games {
			names[g.ID] = g.Name
		}
	}

	for i := range clips {
		clips[i].GameName = names[clips[i].GameID]
	}
}

// GetBroadcasterIDByName resolves a login (case-insensitive) to a user id.
func (c *Client) GetBroadcasterIDByName(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", errkind.Newf(errkind.InvalidInput, "empty login")
	}

	query := url.Values{"login": {normalizeLogin(login)}}
	payload, err := c.do(ctx, http.MethodGet, "/users", query, nil)
	if err != nil {
		return "", err
	}

	users, err := decodeData[struct {
		ID string `json:"id"`
	}](payload)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", errkind.Newf(errkind.InvalidInput, "user %q not found", login)
	}
	return users[0].ID, nil
}

// GetAuthenticatedUserID returns the user id the current token belongs to.
func (c *Client) GetAuthenticatedUserID(ctx context.Context) (string, error) {
	payload, err := c.do(ctx, http.MethodGet, "/users", nil, nil)
	if err != nil {
		return "", err
	}

	users, err := decodeData[struct {
		ID string `json:"id"`
	}](payload)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", errkind.Newf(errkind.AuthExpired, "token resolves to no user")
	}
	return users[0].ID, nil
}

// ChannelInfo is the subset of channel metadata the bot consumes.
type ChannelInfo struct {
	GameName           string
	BroadcasterDisplay string
}

// GetChannelInfo fetches the current category and display name of a channel.
func (c *Client) GetChannelInfo(ctx context.Context, broadcasterID string) (ChannelInfo, error) {
	if broadcasterID == "" {
		return ChannelInfo{}, errkind.Newf(errkind.InvalidInput, "empty broadcaster id")
	}

	query := url.Values{"broadcaster_id": {broadcasterID}}
	payload, err := c.do(ctx, http.MethodGet, "/channels", query, nil)
	if err != nil {
		return ChannelInfo{}, err
	}

	channels, err := decodeData[struct {
		GameName        string `json:"game_name"`
		BroadcasterName string `json:"broadcaster_name"`
	}](payload)
	if err != nil {
		return ChannelInfo{}, err
	}
	if len(channels) == 0 {
		return ChannelInfo{}, errkind.Newf(errkind.InvalidInput, "channel %q not found", broadcasterID)
	}
	return ChannelInfo{
		GameName:           channels[0].GameName,
		BroadcasterDisplay: channels[0].BroadcasterName,
	}, nil
}

// SendChatMessage posts a chat message to the broadcaster's channel.
func (c *Client) SendChatMessage(ctx context.Context, broadcasterID, senderID, text string) error {
	if broadcasterID == "" || senderID == "" || text == "" {
		return errkind.Newf(errkind.InvalidInput, "broadcaster id, sender id and message are required")
	}

	body := map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        text,
	}
	_, err := c.do(ctx, http.MethodPost, "/chat/messages", nil, body)
	return err
}

// SendShoutout triggers the platform-native shoutout.
func (c *Client) SendShoutout(ctx context.Context, fromBroadcasterID, toBroadcasterID, moderatorID string) error {
	if fromBroadcasterID == "" || toBroadcasterID == "" {
		return errkind.Newf(errkind.InvalidInput, "from and to broadcaster ids are required")
	}

	query := url.Values{
		"from_broadcaster_id": {fromBroadcasterID},
		"to_broadcaster_id":   {toBroadcasterID},
		"moderator_id":        {moderatorID},
	}
	_, err := c.do(ctx, http.MethodPost, "/chat/shoutouts", query, nil)
	return err
}

// CreateEventSubSubscription registers a websocket-transport subscription
// for the given session.
func (c *Client) CreateEventSubSubscription(ctx context.Context, subType, version string, condition map[string]string, sessionID string) error {
	body := map[string]interface{}{
		"type":      subType,
		"version":   version,
		"condition": condition,
		"transport": map[string]string{
			"method":     "websocket",
			"session_id": sessionID,
		},
	}
	_, err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, body)
	if err != nil {
		return errkind.New(errkind.Subscription, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
