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

// Package auth provides JWT validation backed by a JWKS endpoint.
//
// Tokens are verified against keys fetched (and periodically refreshed)
// from the configured JWKS URL. The same validator serves both the HTTP
// middleware protecting staff endpoints and the authentication hook that
// checks per-message tokens on channels that require them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/peerex/hermod/pkg/config"
)

var (
	// ErrMissingToken indicates no bearer token was supplied.
	ErrMissingToken = errors.New("missing authentication token")

	// ErrInvalidToken indicates the token failed signature or claim validation.
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Claims carries the validated identity extracted from a JWT.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
}

// TokenValidator validates a raw bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// Validator verifies JWTs against a JWKS key set with automatic refresh.
type Validator struct {
	jwksURL  string
	issuer   string
	audience string
	cache    *jwk.Cache
}

// NewValidator creates a validator from config. It performs an initial
// JWKS fetch so misconfigured endpoints fail at startup rather than on
// the first request.
func NewValidator(ctx context.Context, cfg *config.AuthConfig) (*Validator, error) {
	if cfg == nil || cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks_url is required")
	}

	refreshInterval := cfg.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Minute
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	// Prime the cache so startup catches unreachable endpoints.
	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := cache.Refresh(refreshCtx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &Validator{
		jwksURL:  cfg.JWKSURL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cache:    cache,
	}, nil
}

// ValidateToken verifies the token signature and standard claims and
// extracts the identity claims hermod cares about.
func (v *Validator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{Subject: parsed.Subject()}
	if email, ok := parsed.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if name, ok := parsed.Get("name"); ok {
		if s, ok := name.(string); ok {
			claims.Name = s
		}
	}
	if role, ok := parsed.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}

	return claims, nil
}

var _ TokenValidator = (*Validator)(nil)
