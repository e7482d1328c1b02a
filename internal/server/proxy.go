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

package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"relaygate/internal/backend"
	"relaygate/internal/modelmap"
	"relaygate/internal/observability"
	"relaygate/internal/proxyerr"
	"relaygate/internal/routing"
	"relaygate/internal/sse"
	"relaygate/internal/stream"
	"relaygate/internal/upstream"
)

// maxBufferedBody caps how much of an inbound request body this handler
// will read into memory before rewriting/filtering it; requests from a
// local CLI client are never multi-gigabyte, so this is a generous ceiling
// against a misbehaving client rather than a tuned production limit.
const maxBufferedBody = 64 << 20

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := s.Logger.WithValues("request_id", requestID)
	start := time.Now()

	cfg, sessionID, pathAndQuery, err := s.resolveRequest(r)
	if err != nil {
		s.writeError(w, err, requestID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody+1))
	if err != nil {
		s.writeError(w, proxyerr.Wrap(proxyerr.KindInvalidRequest, err, "failed to read request body"), requestID)
		return
	}
	if len(body) > maxBufferedBody {
		s.writeError(w, proxyerr.New(proxyerr.KindInvalidRequest, "request body too large"), requestID)
		return
	}

	filtered, removed := s.Registry.FilterRequest(body)

	var mapping modelmap.Mapping
	rewritten := filtered
	if out, m, ok := modelmap.ForwardRequestModel(filtered, resolverFor(cfg)); ok {
		rewritten = out
		mapping = m
	}

	betaHeader := r.Header.Get("anthropic-beta")
	normalized, patchedBeta, betaChanged := upstream.NormalizeAdaptiveThinking(rewritten, betaHeader, cfg.BudgetTokens)
	if betaChanged {
		rewritten = normalized
		r.Header.Set("anthropic-beta", patchedBeta)
	}

	logger.V(1).Info("forwarding request", "backend", cfg.ID, "path", pathAndQuery, "thinking_filtered", removed)

	resp, err := s.Client.Forward(r.Context(), cfg, r.Method, pathAndQuery, r.Header, rewritten)
	if err != nil {
		s.writeError(w, err, requestID)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)

	if upstream.IsStreaming(resp) {
		s.serveStreaming(w, resp, cfg, mapping, sessionID, start, logger)
		return
	}
	s.serveBuffered(w, resp, cfg, mapping, sessionID, start, logger, requestID)
}

// resolveRequest freezes the backend for this request per spec.md §4.6
// step 1: a routing override if the path matches a rule, else the active
// backend from backend state. Returns the session id captured at entry so
// response harvesting never races a concurrent backend switch.
func (s *Server) resolveRequest(r *http.Request) (backend.Config, uint64, string, error) {
	if action, matched := s.Routes().Resolve(r.URL.Path); matched {
		cfg, err := s.Backends.GetBackendConfig(action.BackendID)
		if err != nil {
			return backend.Config{}, 0, "", proxyerr.Wrap(proxyerr.KindBackendNotFound, err, "routed backend not found")
		}
		path := routing.StripPrefix(r.URL.Path, action.StripPrefix) + queryString(r)
		return cfg, s.Registry.CurrentSession(), path, nil
	}

	cfg, _, err := s.Backends.GetConfigAndActive()
	if err != nil {
		var backendErr *backend.Error
		if errors.As(err, &backendErr) {
			return backend.Config{}, 0, "", proxyerr.Wrap(proxyerr.KindNoBackendsConfigured, err, "no active backend")
		}
		return backend.Config{}, 0, "", proxyerr.Wrap(proxyerr.KindInternal, err, "failed to resolve active backend")
	}
	path := r.URL.Path + queryString(r)
	return cfg, s.Registry.CurrentSession(), path, nil
}

func queryString(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

// classifyFamily maps a realistic client-sent model id (e.g.
// "claude-opus-4-6") to the family slot backend.Config.ModelMap is keyed
// by. Keyword match against the three known family names, longest-name
// first so "sonnet"/"haiku" can never be shadowed by a coincidental "opus"
// substring (none of the three currently collide, but checking order is
// still pinned for when a fourth family is added).
func classifyFamily(clientModel string) (backend.ModelFamily, bool) {
	lower := strings.ToLower(clientModel)
	switch {
	case strings.Contains(lower, string(backend.FamilyOpus)):
		return backend.FamilyOpus, true
	case strings.Contains(lower, string(backend.FamilySonnet)):
		return backend.FamilySonnet, true
	case strings.Contains(lower, string(backend.FamilyHaiku)):
		return backend.FamilyHaiku, true
	default:
		return "", false
	}
}

func resolverFor(cfg backend.Config) func(string) (string, bool) {
	return func(clientModel string) (string, bool) {
		family, ok := classifyFamily(clientModel)
		if !ok {
			return "", false
		}
		return cfg.ResolveModel(family)
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if name == "Host" {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// serveStreaming wraps resp.Body in the observed-stream adapter (idle
// timeout, byte counters, reverse SSE rewrite) and copies it to the
// client, harvesting thinking blocks from the parsed event sequence once
// the stream completes.
func (s *Server) serveStreaming(w http.ResponseWriter, resp *http.Response, cfg backend.Config, mapping modelmap.Mapping, sessionID uint64, start time.Time, logger logr.Logger) {
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	var rewriter stream.Rewriter
	if mapping.Backend != "" {
		rewriter = modelmap.NewReverseSSERewriter(mapping, s.Logger)
	}

	s.Hub.StreamStarted()
	var collected []byte
	fin := finalizerFunc(func(result stream.Result) {
		s.Hub.StreamEnded()
		s.Registry.RegisterFromSSEStream(sse.ParseEvents(collected), sessionID)
		s.Hub.Record(observability.Record{
			Backend:    cfg.ID,
			Streaming:  true,
			StatusCode: resp.StatusCode,
			BytesOut:   result.BytesOut,
			Duration:   time.Since(start),
			TimedOut:   result.TimedOut,
			Failed:     result.Err != nil,
			At:         start,
		})
		if result.Err != nil {
			logger.V(1).Info("stream ended with error", "error", result.Err.Error())
		}
	})

	observed := stream.New(resp.Body, s.IdleTimeout, rewriter, fin)
	defer observed.Close()

	buf := make([]byte, 32*1024)
	flusher, _ := w.(http.Flusher)
	for {
		n, err := observed.Read(buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// serveBuffered reads the full response, applies the reverse JSON model
// rewrite if a mapping is active, harvests any thinking blocks, and writes
// the (possibly rewritten) body to the client.
func (s *Server) serveBuffered(w http.ResponseWriter, resp *http.Response, cfg backend.Config, mapping modelmap.Mapping, sessionID uint64, start time.Time, logger logr.Logger, requestID string) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.writeError(w, proxyerr.Wrap(proxyerr.KindConnectionError, err, "failed to read upstream response"), requestID)
		return
	}

	out := body
	if mapping.Backend != "" {
		out = modelmap.ReverseJSON(body, mapping, s.Logger)
	}
	s.Registry.RegisterFromResponse(out, sessionID)
	logger.V(1).Info("buffered response complete", "backend", cfg.ID, "status", resp.StatusCode, "bytes", len(out))

	if len(out) != len(body) {
		w.Header().Del("Content-Length")
		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(out)

	s.Hub.Record(observability.Record{
		Backend:    cfg.ID,
		Streaming:  false,
		StatusCode: resp.StatusCode,
		BytesOut:   int64(len(out)),
		Duration:   time.Since(start),
		Failed:     resp.StatusCode >= 500,
		At:         start,
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error, requestID string) {
	var pe *proxyerr.Error
	if !errors.As(err, &pe) {
		pe = proxyerr.Wrap(proxyerr.KindInternal, err, "unexpected error")
	}
	pe.WithRequestID(requestID).WriteHTTP(w)
}

type finalizerFunc func(stream.Result)

func (f finalizerFunc) Finalize(r stream.Result) { f(r) }
