// Package client is the purchase client's view of the marketplace backend.
// Every call takes the caller's Session explicitly; a 401 is answered with
// one refresh-and-retry before it is surfaced.
package client

import (
	"context"
	"fmt"
	"time"

	"ticket-resale/internal/status"
	"ticket-resale/monitoring"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type Client struct {
	http      *resty.Client
	refresher *Refresher
	logger    *zap.Logger
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout bounds each HTTP request. There is no default beyond the
// transport's own.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refresher = &Refresher{http: c.http, logger: c.logger}
	return c
}

// call sends one request on behalf of s (nil for public endpoints) and
// decodes a 2xx body into result.
func (c *Client) call(ctx context.Context, s *Session, endpoint, method, path string, body, result any) error {
	send := func(token string) (*resty.Response, error) {
		req := c.http.R().SetContext(ctx)
		if body != nil {
			req.SetBody(body)
		}
		if result != nil {
			req.SetResult(result)
		}
		if token != "" {
			req.SetAuthToken(token)
		}
		return req.Execute(method, path)
	}

	token := s.AccessToken()
	resp, err := send(token)
	if err == nil && resp.StatusCode() == 401 && s.RefreshToken() != "" {
		c.logger.Debug("access token rejected, refreshing", zap.String("endpoint", endpoint))
		if rerr := c.refresher.Refresh(ctx, s, token); rerr != nil {
			return rerr
		}
		resp, err = send(s.AccessToken())
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		monitoring.TrackClientRequest(endpoint, 0)
		c.logger.Warn("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("%s: %v: %w", endpoint, err, status.ErrTransientNetwork)
	}

	monitoring.TrackClientRequest(endpoint, resp.StatusCode())
	if resp.IsError() {
		apiErr := newAPIError(resp)
		c.logger.Debug("api error",
			zap.String("endpoint", endpoint),
			zap.Int("status", apiErr.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}
	return nil
}
