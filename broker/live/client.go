package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/pkg/id"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrUnauthorized = errors.New("broker: unauthorized")

// APIError is a non-2xx response from the broker.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker http %d: %s", e.Status, e.Message)
}

// Client talks to the brokerage REST API. One Client holds the process's
// single session; a paper broker wrapping it shares that session.
type Client struct {
	BaseURL  string
	Exchange string
	HTTP     *http.Client

	creds   config.Credentials
	limiter *rate.Limiter

	mu        sync.Mutex
	token     string
	connected bool

	log *zap.SugaredLogger
}

func New(cfg config.BrokerConfig, creds config.Credentials, log *zap.SugaredLogger) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 180
	}
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	return &Client{
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		Exchange: cfg.Exchange,
		HTTP:     &http.Client{Timeout: config.Seconds(cfg.Timeout, 10*time.Second)},
		creds:    creds,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		log:      logger.OrNop(log),
	}
}

// Connect opens a session with the configured credentials.
func (c *Client) Connect(ctx context.Context) error {
	if !c.creds.Complete() {
		return fmt.Errorf("connect: %w: missing api key or secret", ErrUnauthorized)
	}

	in := sessionRequest{
		APIKey:    c.creds.APIKey,
		APISecret: c.creds.APISecret,
		ClientID:  c.creds.ClientID,
		TOTP:      c.creds.TOTPSecret,
	}
	var out sessionResponse
	if err := c.do(ctx, http.MethodPost, "/session", nil, in, &out, ""); err != nil {
		c.setSession("", false)
		return fmt.Errorf("connect: %w", err)
	}
	if out.AccessToken == "" {
		c.setSession("", false)
		return fmt.Errorf("connect: %w: empty access token", ErrUnauthorized)
	}

	c.setSession(out.AccessToken, true)
	c.log.Infow("broker session opened", "base_url", c.BaseURL)
	return nil
}

// IsConnected checks the session against the broker.
func (c *Client) IsConnected(ctx context.Context) bool {
	token, ok := c.session()
	if !ok {
		return false
	}
	if err := c.do(ctx, http.MethodGet, "/session", nil, nil, nil, token); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.setSession("", false)
		}
		return false
	}
	return true
}

func (c *Client) setSession(token string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.connected = ok
}

func (c *Client) session() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.connected
}

// ensureConnection reconnects when there is no live session.
func (c *Client) ensureConnection(ctx context.Context) (string, error) {
	if token, ok := c.session(); ok {
		return token, nil
	}
	c.log.Infow("reconnecting to broker")
	if err := c.Connect(ctx); err != nil {
		return "", err
	}
	token, _ := c.session()
	return token, nil
}

// call makes an authenticated request. An expired session gets one
// reconnect and retry.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, in, out any) error {
	token, err := c.ensureConnection(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, method, path, q, in, out, token)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.setSession("", false)
	if token, err = c.ensureConnection(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, q, in, out, token)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any, token string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", id.New())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func errorMessage(b []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(b))
}
