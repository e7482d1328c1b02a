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

import (
	"os"

	"relaygate/internal/backend"
)

// AuthHeader is one header name/value pair injected for a backend's auth
// mode. A zero AuthHeader (empty Name) means no header is injected
// (passthrough mode).
type AuthHeader struct {
	Name  string
	Value string
}

// BuildAuthHeader returns the header to inject for cfg's auth mode, reading
// cfg.AuthEnvVar lazily so a credential added after startup is picked up.
func BuildAuthHeader(cfg backend.Config) AuthHeader {
	switch cfg.AuthMode {
	case backend.AuthAPIKey:
		return AuthHeader{Name: "x-api-key", Value: os.Getenv(cfg.AuthEnvVar)}
	case backend.AuthBearer:
		return AuthHeader{Name: "Authorization", Value: "Bearer " + os.Getenv(cfg.AuthEnvVar)}
	default:
		return AuthHeader{}
	}
}
