// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package upstream holds the one long-lived pooled HTTP/1.1 client per
// process, its retry/backoff loop, auth header injection, and the
// beta/adaptive-thinking request normalization.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"relaygate/internal/backend"
	"relaygate/internal/proxyerr"
)

// Client wraps a tuned *http.Transport with the retry/backoff policy from
// spec.md §4.6. One Client is constructed at startup and shared by
// reference among request tasks — its Transport is safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout TimeoutConfig
	pool    PoolConfig
	logger  logr.Logger
}

// New builds a Client whose transport is tuned per timeout/pool, following
// the sizing fields firasghr-GoSessionEngine's client.go documents (pool
// idle timeout, max-idle-per-host) adapted to this proxy's single-host-set
// fan-out instead of a rotating proxy list.
func New(timeout TimeoutConfig, pool PoolConfig, logger logr.Logger) *Client {
	dialer := &net.Dialer{Timeout: timeout.Connect}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		IdleConnTimeout:     pool.PoolIdleTimeout,
		MaxIdleConnsPerHost: pool.PoolMaxIdlePerHost,
		MaxIdleConns:        pool.PoolMaxIdlePerHost * 4,
	}
	return &Client{
		http:    &http.Client{Transport: transport},
		timeout: timeout,
		pool:    pool,
		logger:  logger,
	}
}

// Forward sends req (already rewritten/filtered) to cfg and returns the
// upstream response. backendOverride, when non-empty, names the backend
// that routing already froze for this request; cfg must correspond to it.
// The caller is responsible for resolving cfg via backend state or
// routing before calling Forward, so the whole request observes one
// consistent backend snapshot (spec.md §5).
func (c *Client) Forward(ctx context.Context, cfg backend.Config, method, pathAndQuery string, headers http.Header, body []byte) (*http.Response, error) {
	if !cfg.IsConfigured() {
		return nil, proxyerr.New(proxyerr.KindBackendNotConfigured, "environment variable "+cfg.AuthEnvVar+" not set for backend "+cfg.ID)
	}

	url := cfg.BaseURL + pathAndQuery
	auth := BuildAuthHeader(cfg)

	var lastErr error
	for attempt := 0; attempt <= c.pool.MaxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout.Request)
		req, err := http.NewRequestWithContext(reqCtx, method, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, proxyerr.Wrap(proxyerr.KindInternal, err, "failed to build upstream request")
		}
		copyHeaders(req.Header, headers)
		if auth.Name != "" {
			req.Header.Set(auth.Name, auth.Value)
		}

		resp, err := c.http.Do(req)
		if err == nil {
			// The request-timeout context must outlive this call when the
			// response is streamed: only release it once the caller closes
			// the body. Chunk-by-chunk pacing beyond this point is the
			// observed stream's idle timeout, not this deadline.
			resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}
		cancel()
		lastErr = err

		retriable := isRetriable(err)
		if retriable && attempt < c.pool.MaxRetries {
			backoff := c.pool.RetryBackoffBase << attempt
			c.logger.Info("upstream request failed, retrying",
				"backend", cfg.ID, "attempt", attempt+1, "maxRetries", c.pool.MaxRetries,
				"backoffMs", backoff.Milliseconds(), "error", err.Error())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, proxyerr.Wrap(proxyerr.KindConnectionError, ctx.Err(), "context cancelled during retry backoff")
			}
			continue
		}
		break
	}

	if isTimeoutErr(lastErr) {
		return nil, proxyerr.Wrap(proxyerr.KindRequestTimeout, lastErr, "upstream request timed out")
	}
	return nil, proxyerr.Wrap(proxyerr.KindConnectionError, lastErr, "upstream connection failed for backend "+cfg.ID)
}

// cancelOnCloseBody releases the request's timeout context when the body
// is closed (normal EOF drain or caller-initiated abort), instead of when
// Forward returns. io.ReadCloser.Close is the Go idiom's equivalent of the
// observed-stream "drop" finalization path spec.md §4.7/§9 describe.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// IsStreaming reports whether resp's Content-Type indicates an SSE stream.
func IsStreaming(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream")
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connect:") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "no such host")
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
