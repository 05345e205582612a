/*
Copyright 2023 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"context"
	"errors"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

var (
	// ErrGrantUnknown is returned by AuthorizationState implementations
	// when a code, token or subject lookup misses, including when a
	// concurrent exchange consumed the value first.
	ErrGrantUnknown = errors.New("grant is unknown, expired or already used")

	// ErrScopeWidening is returned when a refresh requests scope beyond
	// the original grant.
	ErrScopeWidening = errors.New("requested scope exceeds the granted scope")
)

// AccessToken is an issued bearer credential.
type AccessToken struct {
	// Value is the opaque token value.
	Value string

	// Type is the token type, always "Bearer" for this provider.
	Type string

	// ExpiresIn is the remaining lifetime in seconds at issue.
	ExpiresIn int

	// Scope is the granted scope.
	Scope oidc.Scope
}

// Introspection is the result of access token introspection, shaped after
// RFC 7662.
//
//nolint:tagliatelle
type Introspection struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Expiry   int64  `json:"exp,omitempty"`
}

// AuthorizationState issues and resolves authorization codes, access tokens,
// refresh tokens and subject identifiers, and links them back to the
// originating authentication request.  Implementations must make
// ExchangeCodeForToken and UseRefreshToken atomic and single-shot, exactly
// one of any set of concurrent exchanges of the same value may succeed.
type AuthorizationState interface {
	// CreateAuthorizationCode issues a single-use code bound to the
	// request and subject.
	CreateAuthorizationCode(ctx context.Context, request *oidc.AuthenticationRequest, sub string) (string, error)

	// CreateAccessToken issues an access token bound to the request
	// and subject.
	CreateAccessToken(ctx context.Context, request *oidc.AuthenticationRequest, sub string) (*AccessToken, error)

	// CreateRefreshToken issues a refresh token for the access token
	// lineage.
	CreateRefreshToken(ctx context.Context, accessTokenValue string) (string, error)

	// ExchangeCodeForToken consumes the code and returns the access
	// token it grants.
	ExchangeCodeForToken(ctx context.Context, code string) (*AccessToken, error)

	// UseRefreshToken consumes the refresh token and returns a new
	// access token, optionally narrowed to the requested scope, and a
	// replacement refresh token when rotation occurred.
	UseRefreshToken(ctx context.Context, value string, scope oidc.Scope) (*AccessToken, string, error)

	// GetAuthorizationRequestForCode returns the request the code was
	// issued against.
	GetAuthorizationRequestForCode(ctx context.Context, code string) (*oidc.AuthenticationRequest, error)

	// GetSubjectIdentifierForCode returns the sub the code was issued for.
	GetSubjectIdentifierForCode(ctx context.Context, code string) (string, error)

	// GetUserIDForSubjectIdentifier reverses subject identifier
	// derivation back to the local user.
	GetUserIDForSubjectIdentifier(ctx context.Context, sub string) (string, error)

	// GetAuthorizationRequestForAccessToken returns the request an access
	// token was ultimately issued from.
	GetAuthorizationRequestForAccessToken(ctx context.Context, value string) (*oidc.AuthenticationRequest, error)

	// IntrospectAccessToken reports liveness and token metadata.
	IntrospectAccessToken(ctx context.Context, value string) (*Introspection, error)

	// GetSubjectIdentifier derives a stable subject identifier for the
	// user as seen by the client's sector.
	GetSubjectIdentifier(ctx context.Context, subjectType oidc.SubjectType, userID, sectorIdentifier string) (string, error)
}

// UserinfoSource returns claim values for a local user.  Claim names the
// source has no value for are simply absent from the result.
type UserinfoSource interface {
	GetClaimsFor(ctx context.Context, userID string, requested oidc.ClaimRequests) (map[string]any, error)
}

// ExtraClaims supplies deployment specific claims for inclusion in signed
// ID Tokens.  Extra claims win over user claims on conflict.
type ExtraClaims interface {
	ClaimsFor(userID, clientID string) (map[string]any, error)
}

// StaticClaims is a fixed extra claim map.
type StaticClaims map[string]any

var _ ExtraClaims = StaticClaims{}

// ClaimsFor implements ExtraClaims.
func (c StaticClaims) ClaimsFor(_, _ string) (map[string]any, error) {
	return c, nil
}

// ClaimsProviderFunc derives extra claims per request from the user and
// client identity.
type ClaimsProviderFunc func(userID, clientID string) (map[string]any, error)

var _ ExtraClaims = ClaimsProviderFunc(nil)

// ClaimsFor implements ExtraClaims.
func (f ClaimsProviderFunc) ClaimsFor(userID, clientID string) (map[string]any, error) {
	return f(userID, clientID)
}
