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

// Package authzstate provides the reference in-memory authorization state.
// Grants live in bounded TTL caches, so a long running provider cannot be
// ballooned by abandoned codes and tokens.  Deployments needing durable or
// shared state implement provider.AuthorizationState over their own store.
package authzstate

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider"
)

// codeGrant is what an unconsumed authorization code stands for.
type codeGrant struct {
	request *oidc.AuthenticationRequest
	sub     string
}

// tokenGrant is the state behind an issued access token.
type tokenGrant struct {
	request *oidc.AuthenticationRequest
	sub     string
	scope   oidc.Scope
	expiry  time.Time
}

// refreshGrant is the state behind an issued refresh token.  It carries
// enough to mint successor access tokens without the original code.
type refreshGrant struct {
	request *oidc.AuthenticationRequest
	sub     string
	scope   oidc.Scope
}

// Memory is the in-memory provider.AuthorizationState.  The mutex makes
// code exchange and refresh token use single-shot and guards the subject
// identifier maps, everything else rides on the internally synchronized
// caches.
type Memory struct {
	mu sync.Mutex

	codes         *expirable.LRU[string, *codeGrant]
	accessTokens  *expirable.LRU[string, *tokenGrant]
	refreshTokens *expirable.LRU[string, *refreshGrant]

	// pairwiseSalt keys subject identifier derivation, so identifiers
	// are stable for this instance but opaque to everyone else.
	pairwiseSalt []byte

	// publicSubjects maps user id to the stable public subject.
	publicSubjects map[string]string

	// users reverses any derived subject back to the local user.
	users map[string]string

	options Options
}

var _ provider.AuthorizationState = &Memory{}

// New creates an authorization state with defaulted options.
func New(options Options) (*Memory, error) {
	options.defaults()

	salt := options.PairwiseSalt
	if len(salt) == 0 {
		salt = make([]byte, 32)

		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}

	return &Memory{
		codes:          expirable.NewLRU[string, *codeGrant](options.MaxGrants, nil, options.CodeLifetime),
		accessTokens:   expirable.NewLRU[string, *tokenGrant](options.MaxGrants, nil, options.AccessTokenLifetime),
		refreshTokens:  expirable.NewLRU[string, *refreshGrant](options.MaxGrants, nil, options.RefreshTokenLifetime),
		pairwiseSalt:   salt,
		publicSubjects: map[string]string{},
		users:          map[string]string{},
		options:        options,
	}, nil
}

// opaqueValue mints a new high entropy token value.
func opaqueValue() string {
	return uuid.New().String()
}

// CreateAuthorizationCode implements provider.AuthorizationState.
func (m *Memory) CreateAuthorizationCode(_ context.Context, request *oidc.AuthenticationRequest, sub string) (string, error) {
	code := opaqueValue()

	m.codes.Add(code, &codeGrant{
		request: request,
		sub:     sub,
	})

	return code, nil
}

// CreateAccessToken implements provider.AuthorizationState.
func (m *Memory) CreateAccessToken(_ context.Context, request *oidc.AuthenticationRequest, sub string) (*provider.AccessToken, error) {
	return m.newAccessToken(request, sub, request.Scope), nil
}

func (m *Memory) newAccessToken(request *oidc.AuthenticationRequest, sub string, scope oidc.Scope) *provider.AccessToken {
	value := opaqueValue()

	m.accessTokens.Add(value, &tokenGrant{
		request: request,
		sub:     sub,
		scope:   scope,
		expiry:  time.Now().Add(m.options.AccessTokenLifetime),
	})

	return &provider.AccessToken{
		Value:     value,
		Type:      "Bearer",
		ExpiresIn: int(m.options.AccessTokenLifetime.Seconds()),
		Scope:     scope,
	}
}

// CreateRefreshToken implements provider.AuthorizationState.
func (m *Memory) CreateRefreshToken(_ context.Context, accessTokenValue string) (string, error) {
	grant, ok := m.accessTokens.Get(accessTokenValue)
	if !ok {
		return "", fmt.Errorf("%w: access token", provider.ErrGrantUnknown)
	}

	value := opaqueValue()

	m.refreshTokens.Add(value, &refreshGrant{
		request: grant.request,
		sub:     grant.sub,
		scope:   grant.scope,
	})

	return value, nil
}

// ExchangeCodeForToken implements provider.AuthorizationState.  The code is
// consumed under the lock, concurrent exchanges of the same code see
// exactly one winner.
func (m *Memory) ExchangeCodeForToken(_ context.Context, code string) (*provider.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.codes.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", provider.ErrGrantUnknown)
	}

	m.codes.Remove(code)

	return m.newAccessToken(grant.request, grant.sub, grant.request.Scope), nil
}

// UseRefreshToken implements provider.AuthorizationState.  Refresh tokens
// are single-shot, every successful use consumes the presented value and
// returns a replacement.
func (m *Memory) UseRefreshToken(_ context.Context, value string, scope oidc.Scope) (*provider.AccessToken, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.refreshTokens.Get(value)
	if !ok {
		return nil, "", fmt.Errorf("%w: refresh token", provider.ErrGrantUnknown)
	}

	granted := grant.scope

	if scope != nil {
		if !scope.IsSubsetOf(grant.scope) {
			return nil, "", provider.ErrScopeWidening
		}

		granted = scope
	}

	m.refreshTokens.Remove(value)

	accessToken := m.newAccessToken(grant.request, grant.sub, granted)

	rotated := opaqueValue()

	m.refreshTokens.Add(rotated, &refreshGrant{
		request: grant.request,
		sub:     grant.sub,
		scope:   granted,
	})

	return accessToken, rotated, nil
}

// GetAuthorizationRequestForCode implements provider.AuthorizationState.
func (m *Memory) GetAuthorizationRequestForCode(_ context.Context, code string) (*oidc.AuthenticationRequest, error) {
	grant, ok := m.codes.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", provider.ErrGrantUnknown)
	}

	return grant.request, nil
}

// GetSubjectIdentifierForCode implements provider.AuthorizationState.
func (m *Memory) GetSubjectIdentifierForCode(_ context.Context, code string) (string, error) {
	grant, ok := m.codes.Get(code)
	if !ok {
		return "", fmt.Errorf("%w: authorization code", provider.ErrGrantUnknown)
	}

	return grant.sub, nil
}

// GetUserIDForSubjectIdentifier implements provider.AuthorizationState.
func (m *Memory) GetUserIDForSubjectIdentifier(_ context.Context, sub string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.users[sub]
	if !ok {
		return "", fmt.Errorf("%w: subject identifier", provider.ErrGrantUnknown)
	}

	return userID, nil
}

// GetAuthorizationRequestForAccessToken implements
// provider.AuthorizationState.
func (m *Memory) GetAuthorizationRequestForAccessToken(_ context.Context, value string) (*oidc.AuthenticationRequest, error) {
	grant, ok := m.accessTokens.Get(value)
	if !ok {
		return nil, fmt.Errorf("%w: access token", provider.ErrGrantUnknown)
	}

	return grant.request, nil
}

// IntrospectAccessToken implements provider.AuthorizationState.  An
// unknown or expired token yields active=false rather than an error, per
// RFC 7662.
func (m *Memory) IntrospectAccessToken(_ context.Context, value string) (*provider.Introspection, error) {
	grant, ok := m.accessTokens.Get(value)
	if !ok {
		return &provider.Introspection{}, nil
	}

	return &provider.Introspection{
		Active:   true,
		Scope:    grant.scope.String(),
		ClientID: grant.request.ClientID,
		Sub:      grant.sub,
		Expiry:   grant.expiry.Unix(),
	}, nil
}

// GetSubjectIdentifier implements provider.AuthorizationState.  Pairwise
// identifiers are keyed HMACs over the sector and user, so the same user
// presents differently across sectors but consistently within one.  Public
// identifiers are stable random values per user.
func (m *Memory) GetSubjectIdentifier(_ context.Context, subjectType oidc.SubjectType, userID, sectorIdentifier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sub string

	switch subjectType {
	case oidc.SubjectTypePairwise:
		mac := hmac.New(sha256.New, m.pairwiseSalt)
		mac.Write([]byte(sectorIdentifier))
		mac.Write([]byte{0})
		mac.Write([]byte(userID))

		sub = base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	case oidc.SubjectTypePublic:
		existing, ok := m.publicSubjects[userID]
		if !ok {
			existing = uuid.New().String()
			m.publicSubjects[userID] = existing
		}

		sub = existing
	default:
		return "", fmt.Errorf("%w: subject type %s", provider.ErrGrantUnknown, subjectType)
	}

	m.users[sub] = userID

	return sub, nil
}
