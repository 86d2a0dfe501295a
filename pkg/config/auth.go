// Copyright 2025 Peerex, Ltd.
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

package config

import (
	"fmt"
	"time"
)

// AuthConfig configures JWT-based authentication.
//
// The staff API always requires a valid token when auth is enabled. The
// same validator backs the channel auth pre-hook for channels marked
// require_auth.
//
// Example configuration:
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.peerex.net/.well-known/jwks.json"
//	    issuer: "https://auth.peerex.net"
//	    audience: "hermod-api"
//
// The JWT token is passed in the Authorization header:
//
//	Authorization: Bearer <token>
type AuthConfig struct {
	// Enabled controls whether authentication is required.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// JWKSURL is the URL to fetch JSON Web Key Set from.
	// Required when Enabled is true.
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer is the expected token issuer (iss claim).
	// Required when Enabled is true.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience is the expected token audience (aud claim).
	// Required when Enabled is true.
	Audience string `yaml:"audience,omitempty"`

	// RefreshInterval is how often to refresh the JWKS.
	// Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// StaffRole is the role claim value that grants staff API access.
	// Default: "support"
	StaffRole string `yaml:"staff_role,omitempty"`
}

// SetDefaults applies default values to AuthConfig.
func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if c.StaffRole == "" {
		c.StaffRole = "support"
	}
}

// Validate checks the AuthConfig for errors.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil // No validation needed when disabled
	}

	if c.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required when auth is enabled")
	}

	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	}

	if c.Audience == "" {
		return fmt.Errorf("auth.audience is required when auth is enabled")
	}

	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("auth.refresh_interval must be at least 1 minute")
	}

	return nil
}

// IsEnabled returns true if authentication is configured and enabled.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != ""
}
