// Copyright 2025 Tom Barlow
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

package worker

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures the bearer tokens a worker process presents to
// a remote controller's claim/heartbeat RPC surface, when the scheduler
// and worker run in separate processes rather than in one binary.
type AuthConfig struct {
	// Secret is the HS256 signing key shared with the controller.
	Secret []byte
	// Issuer is set on every token this worker mints.
	Issuer string
	// ClockSkew allows for clock skew when validating exp/nbf claims.
	ClockSkew time.Duration
}

// Claims identifies the worker process presenting a token, plus the
// scopes it claims: "claim" to pull work, "heartbeat" to check in.
type Claims struct {
	jwt.RegisteredClaims
	WorkerID string   `json:"worker_id"`
	Scopes   []string `json:"scopes,omitempty"`
}

// MintToken signs a short-lived token identifying workerID with the
// given scopes, for presentation on the next claim or heartbeat call.
func MintToken(workerID string, scopes []string, ttl time.Duration, cfg AuthConfig) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", fmt.Errorf("worker auth: no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		WorkerID: workerID,
		Scopes:   scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken verifies tokenString was signed by cfg.Secret, carries
// a non-empty worker_id, and grants scope.
func ValidateToken(tokenString, scope string, cfg AuthConfig) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("worker auth: token is empty")
	}
	parser := jwt.NewParser(jwt.WithLeeway(cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("worker auth: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("worker auth: invalid token")
	}
	if claims.WorkerID == "" {
		return nil, fmt.Errorf("worker auth: token carries no worker_id")
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("worker auth: invalid issuer %q", claims.Issuer)
	}
	for _, s := range claims.Scopes {
		if s == scope {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("worker auth: token for %q lacks scope %q", claims.WorkerID, scope)
}
