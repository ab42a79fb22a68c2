package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the duelkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Register creates the user or renames an existing one.
func (c *Client) Register(ctx context.Context, userID, name string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrEmptyUserID
	}
	q := url.Values{}
	q.Set("name", name)
	var u User
	err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(userID), q, &u)
	return u, err
}

// GetUser fetches a user record. Unknown users yield an error matching ErrNotFound.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrEmptyUserID
	}
	var u User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &u)
	return u, err
}

// RecordMatch reports a duel outcome.
func (c *Client) RecordMatch(ctx context.Context, winner, loser string) (MatchResult, error) {
	if strings.TrimSpace(winner) == "" || strings.TrimSpace(loser) == "" {
		return MatchResult{}, ErrEmptyUserID
	}
	q := url.Values{}
	q.Set("winner", winner)
	q.Set("loser", loser)
	var res MatchResult
	err := c.do(ctx, http.MethodPost, "/matches", q, &res)
	return res, err
}

// Leaderboard returns the cached board for counter, or ErrLoading while the
// server is recomputing it.
func (c *Client) Leaderboard(ctx context.Context, counter string) (Leaderboard, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/leaderboards/"+url.PathEscape(counter), nil)
	if err != nil {
		return Leaderboard{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Leaderboard{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return Leaderboard{}, ErrLoading
	}
	var lb Leaderboard
	if err := decodeJSON(resp, &lb); err != nil {
		return Leaderboard{}, err
	}
	return lb, nil
}

// Recompute asks the server to rebuild a board in the background.
func (c *Client) Recompute(ctx context.Context, counter string) error {
	var ack map[string]any
	return c.do(ctx, http.MethodPost, "/leaderboards/"+url.PathEscape(counter)+"/recompute", nil, &ack)
}

// Sorted fetches the full ranking. by may be empty, the counter name or "win_rate";
// limit <= 0 uses the server default.
func (c *Client) Sorted(ctx context.Context, counter, by string, limit int) (SortedView, error) {
	q := url.Values{}
	if by != "" {
		q.Set("by", by)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var view SortedView
	err := c.do(ctx, http.MethodGet, "/leaderboards/"+url.PathEscape(counter)+"/sorted", q, &view)
	return view, err
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits events, narrowed
// to types when any are given. The returned channel closes when ctx is done
// or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...string) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(types) > 0 {
		target += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}
	// unblock ReadJSON when the caller gives up
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values) (*http.Request, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, target any) error {
	req, err := c.newRequest(ctx, method, path, q)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
