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

// Package stream wraps an upstream response body with idle-timeout
// enforcement, byte counters, a per-chunk rewriter, and exactly-once
// finalization of the request's observability span.
package stream

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrIdleTimeout is yielded when no byte arrives within the idle duration.
var ErrIdleTimeout = errors.New("stream: idle timeout")

// Rewriter transforms one chunk before it reaches the client. Implemented
// by *modelmap.ChunkRewriter in the server wiring; kept as a narrow
// interface here so this package doesn't depend on modelmap.
type Rewriter interface {
	Transform(chunk []byte) []byte
}

// passthroughRewriter is used when no rewrite is active for a request.
type passthroughRewriter struct{}

func (passthroughRewriter) Transform(chunk []byte) []byte { return chunk }

// Finalizer is called exactly once when the stream completes, whether by
// exhaustion, error, idle timeout, or early Close.
type Finalizer interface {
	Finalize(result Result)
}

// Result summarizes how an Observed stream ended, for the observability
// hub's request record.
type Result struct {
	FirstByteAt time.Time
	BytesOut    int64
	TimedOut    bool
	Err         error
}

// Observed is a pull-style io.ReadCloser wrapping an upstream body.
type Observed struct {
	upstream    io.ReadCloser
	idleTimeout time.Duration
	rewriter    Rewriter
	finalizer   Finalizer

	mu          sync.Mutex
	firstByteAt time.Time
	bytesOut    int64
	timedOut    bool

	finalizeOnce sync.Once

	deadlineMu sync.Mutex
	deadline   time.Time

	pending []byte // bytes rewritten but not yet fully copied to the caller
}

// New wraps upstream. rewriter and finalizer may be nil (a no-op rewriter
// and no finalization callback are used respectively); in production both
// are always supplied by the server wiring.
func New(upstream io.ReadCloser, idleTimeout time.Duration, rewriter Rewriter, finalizer Finalizer) *Observed {
	if rewriter == nil {
		rewriter = passthroughRewriter{}
	}
	o := &Observed{
		upstream:    upstream,
		idleTimeout: idleTimeout,
		rewriter:    rewriter,
		finalizer:   finalizer,
	}
	o.resetDeadline()
	return o
}

func (o *Observed) resetDeadline() {
	o.deadlineMu.Lock()
	o.deadline = time.Now().Add(o.idleTimeout)
	o.deadlineMu.Unlock()
}

// Read implements io.Reader. Each call that successfully reads upstream
// bytes resets the idle-timeout deadline and records first-byte timing.
// Idle-timeout expiry returns ErrIdleTimeout and finalizes the stream as
// timed out.
func (o *Observed) Read(p []byte) (int, error) {
	if len(o.pending) > 0 {
		n := copy(p, o.pending)
		o.pending = o.pending[n:]
		return n, nil
	}

	type readResult struct {
		n   int
		err error
	}
	buf := make([]byte, len(p))
	// Buffered so that a goroutine outlived by an idle-timeout race still
	// has somewhere to deposit its result instead of leaking forever; it
	// exits as soon as the underlying connection unblocks it.
	resultCh := make(chan readResult, 1)
	go func() {
		n, err := o.upstream.Read(buf)
		resultCh <- readResult{n, err}
	}()

	o.deadlineMu.Lock()
	deadline := o.deadline
	o.deadlineMu.Unlock()

	select {
	case r := <-resultCh:
		if r.n > 0 {
			o.mu.Lock()
			if o.firstByteAt.IsZero() {
				o.firstByteAt = time.Now()
			}
			o.bytesOut += int64(r.n)
			o.mu.Unlock()
			o.resetDeadline()

			rewritten := o.rewriter.Transform(buf[:r.n])
			n := copy(p, rewritten)
			if n < len(rewritten) {
				o.pending = append(o.pending, rewritten[n:]...)
			}
			if r.err != nil {
				o.finalize(terminalErr(r.err))
			}
			return n, r.err
		}
		if r.err != nil {
			o.finalize(terminalErr(r.err))
			return 0, r.err
		}
		return 0, nil
	case <-time.After(time.Until(deadline)):
		o.mu.Lock()
		o.timedOut = true
		o.mu.Unlock()
		o.finalize(ErrIdleTimeout)
		return 0, ErrIdleTimeout
	}
}

// terminalErr maps io.EOF (a normal end-of-stream signal, not a failure)
// to nil before it reaches a Result.
func terminalErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

// Close finalizes the stream (if not already finalized) and closes the
// underlying upstream body. Safe to call after exhaustion or instead of
// reading to completion — the Go equivalent of the drop-safety net named
// in spec.md §9.
func (o *Observed) Close() error {
	o.finalize(nil)
	return o.upstream.Close()
}

// finalize guarantees at-most-once delivery to the finalizer, regardless
// of whether it is reached via EOF, an error, an idle timeout, or Close.
func (o *Observed) finalize(err error) {
	o.finalizeOnce.Do(func() {
		if o.finalizer == nil {
			return
		}
		o.mu.Lock()
		result := Result{
			FirstByteAt: o.firstByteAt,
			BytesOut:    o.bytesOut,
			TimedOut:    o.timedOut,
			Err:         err,
		}
		o.mu.Unlock()
		o.finalizer.Finalize(result)
	})
}
