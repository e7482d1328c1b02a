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

package upstream

import "time"

// TimeoutConfig holds the per-backend timeout durations (spec.md §5).
type TimeoutConfig struct {
	Connect time.Duration
	Request time.Duration
	Idle    time.Duration
}

// DefaultTimeoutConfig returns the spec.md §5 defaults: connect 5s,
// request 30s, idle 60s.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Connect: 5 * time.Second,
		Request: 30 * time.Second,
		Idle:    60 * time.Second,
	}
}

// PoolConfig holds connection-pool and retry tuning (spec.md §5).
type PoolConfig struct {
	PoolIdleTimeout    time.Duration
	PoolMaxIdlePerHost int
	MaxRetries         int
	RetryBackoffBase   time.Duration
}

// DefaultPoolConfig returns the spec.md §5 defaults: pool-idle 90s,
// max-idle-per-host 8, max_retries 3, retry_backoff_base 100ms.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PoolIdleTimeout:    90 * time.Second,
		PoolMaxIdlePerHost: 8,
		MaxRetries:         3,
		RetryBackoffBase:   100 * time.Millisecond,
	}
}

// ShutdownGracePeriod is the default time the server waits for in-flight
// connections to drain before force-quitting (spec.md §5).
const ShutdownGracePeriod = 10 * time.Second
