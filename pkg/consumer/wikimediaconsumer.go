package consumer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	DefaultStreamURL = "https://stream.wikimedia.org/v2/stream/recentchange"
	// Wikimedia rejects requests without an identifying user agent with a 403
	DefaultUserAgent      = "wikistream/1.0 (recentchange analytics producer)"
	DefaultConnectTimeout = 30 * time.Second
)

type WikimediaConsumer struct {
	url            string
	userAgent      string
	headers        map[string]string
	connectTimeout time.Duration
	client         *http.Client
	logger         *zap.Logger
}

type Option func(*WikimediaConsumer)

func WithUserAgent(userAgent string) Option {
	return func(c *WikimediaConsumer) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithHeaders adds extra request headers. User-Agent set here overrides WithUserAgent.
func WithHeaders(headers map[string]string) Option {
	return func(c *WikimediaConsumer) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *WikimediaConsumer) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *WikimediaConsumer) {
		if client != nil {
			c.client = client
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *WikimediaConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewWikimediaConsumer(streamURL string, opts ...Option) (*WikimediaConsumer, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("parsing stream url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid stream url %q", streamURL)
	}
	c := &WikimediaConsumer{
		url:            u.String(),
		userAgent:      DefaultUserAgent,
		headers:        make(map[string]string),
		connectTimeout: DefaultConnectTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		transport, err := newStreamTransport(c.connectTimeout)
		if err != nil {
			return nil, err
		}
		// No overall client timeout, the response body is read for the whole run
		c.client = &http.Client{Transport: transport}
	}
	c.logger = c.logger.Named("consumer")
	return c, nil
}

// newStreamTransport bounds connection setup and response headers but not the
// body. HTTP/2 connections are pinged when idle so a dead peer surfaces as a
// read error instead of a silent hang.
func newStreamTransport(connectTimeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: connectTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %w", err)
	}
	h2.ReadIdleTimeout = connectTimeout
	h2.PingTimeout = 15 * time.Second
	return t, nil
}

func (c *WikimediaConsumer) Connect(ctx context.Context) (MessageStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating http request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("server response: %s", resp.Status)
	}
	c.logger.Info("connected to stream", zap.String("url", c.url), zap.String("proto", resp.Proto))
	return newEventStream(resp.Body), nil
}
