// Package rest talks to a generic JSON document server (json-server style):
// one collection per path, GET/POST/PUT/DELETE, exact-match query filters.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/repository"
)

const defaultTimeout = 5 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Dial overrides how connections are opened. Tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

// Client is a thin JSON client with a hard per-request deadline.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http: &fasthttp.Client{
			Name:            "go-inventory-ledger",
			ReadTimeout:     cfg.Timeout,
			WriteTimeout:    cfg.Timeout,
			MaxConnsPerHost: 64,
			Dial:            cfg.Dial,
		},
		logger: logger.Named("rest"),
	}
}

// do sends one request. in is encoded as the JSON body when non-nil and the
// response body is decoded into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + path
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		c.logger.Warn("store request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("rest: %s %s: %w: %w", method, path, repository.ErrUnavailable, err)
	}

	status := resp.StatusCode()
	c.logger.Debug("store request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case status == fasthttp.StatusNotFound:
		return fmt.Errorf("rest: %s %s: %w", method, path, repository.ErrNotFound)
	case status < 200 || status > 299:
		return fmt.Errorf("rest: %s %s: status %d: %w", method, path, status, repository.ErrUnavailable)
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
