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
	"net/http"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

// HandleTokenRequest authenticates the client then dispatches on grant_type.
// The body is the urlencoded POST body, headers carry any Authorization
// credential.
func (p *Provider) HandleTokenRequest(ctx context.Context, body string, headers http.Header, extraIDTokenClaims ExtraClaims) (*oidc.TokenResponse, error) {
	form, err := url.ParseQuery(body)
	if err != nil {
		return nil, invalidTokenRequest("failed to parse request body: " + err.Error())
	}

	clientID, err := p.verifyClientAuthentication(form, headers.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	// Clients authenticating via the Authorization header commonly omit
	// client_id from the body, the credential already names them.
	if form.Get("client_id") == "" {
		form.Set("client_id", clientID)
	}

	switch grantType := form.Get("grant_type"); grantType {
	case "":
		return nil, invalidTokenRequest("grant_type missing")
	case "authorization_code":
		return p.doCodeExchange(ctx, form, extraIDTokenClaims)
	case "refresh_token":
		return p.doTokenRefresh(ctx, form)
	default:
		return nil, &InvalidTokenRequestError{
			Description: "grant_type '" + grantType + "' unknown",
			OAuth2Error: ErrorUnsupportedGrantType,
		}
	}
}

// doCodeExchange swaps a single-use authorization code for an access token,
// refresh token and freshly minted ID Token.
func (p *Provider) doCodeExchange(ctx context.Context, form url.Values, extraIDTokenClaims ExtraClaims) (*oidc.TokenResponse, error) {
	log := logr.FromContextOrDiscard(ctx)

	for _, parameter := range []string{"code", "redirect_uri", "client_id"} {
		if form.Get(parameter) == "" {
			return nil, invalidTokenRequest(parameter + " must be specified")
		}
	}

	code := form.Get("code")

	request, err := p.authzState.GetAuthorizationRequestForCode(ctx, code)
	if err != nil {
		return nil, &InvalidTokenRequestError{
			Description: "unknown authorization code",
			OAuth2Error: ErrorInvalidGrant,
		}
	}

	if form.Get("redirect_uri") != request.RedirectURI {
		return nil, invalidTokenRequest("invalid redirect_uri")
	}

	sub, err := p.authzState.GetSubjectIdentifierForCode(ctx, code)
	if err != nil {
		return nil, &InvalidTokenRequestError{
			Description: "unknown authorization code",
			OAuth2Error: ErrorInvalidGrant,
		}
	}

	userID, err := p.authzState.GetUserIDForSubjectIdentifier(ctx, sub)
	if err != nil {
		return nil, &InvalidTokenRequestError{
			Description: "subject identifier cannot be resolved",
			OAuth2Error: ErrorInvalidGrant,
		}
	}

	// The exchange is atomic and single-shot, a concurrent winner leaves
	// this caller with invalid_grant.
	accessToken, err := p.authzState.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, &InvalidTokenRequestError{
			Description: "authorization code is invalid or already used",
			OAuth2Error: ErrorInvalidGrant,
		}
	}

	refreshToken, err := p.authzState.CreateRefreshToken(ctx, accessToken.Value)
	if err != nil {
		return nil, err
	}

	// The client holds an access token now so userinfo is reachable, the
	// ID Token only carries explicitly requested claims.  The code has
	// been consumed, so at_hash but never c_hash.
	userClaims, err := p.userinfo.GetClaimsFor(ctx, userID, request.RequestedIDTokenClaims())
	if err != nil {
		return nil, err
	}

	idToken, err := p.createSignedIDToken(ctx, request.ClientID, sub, userID, userClaims, request.Nonce, "", accessToken.Value, extraIDTokenClaims)
	if err != nil {
		return nil, err
	}

	log.V(1).Info("exchanged authorization code", "client_id", request.ClientID, "sub", sub)

	return &oidc.TokenResponse{
		AccessToken:  accessToken.Value,
		TokenType:    accessToken.Type,
		ExpiresIn:    accessToken.ExpiresIn,
		RefreshToken: refreshToken,
		IDToken:      idToken,
	}, nil
}

// doTokenRefresh mints a new access token from a refresh token, optionally
// narrowing the granted scope.
func (p *Provider) doTokenRefresh(ctx context.Context, form url.Values) (*oidc.TokenResponse, error) {
	if form.Get("refresh_token") == "" {
		return nil, invalidTokenRequest("refresh_token must be specified")
	}

	var scope oidc.Scope

	if form.Has("scope") {
		scope = oidc.NewScope(form.Get("scope"))
	}

	accessToken, refreshToken, err := p.authzState.UseRefreshToken(ctx, form.Get("refresh_token"), scope)
	if err != nil {
		if errors.Is(err, ErrScopeWidening) {
			return nil, &InvalidTokenRequestError{
				Description: "requested scope exceeds the original grant",
				OAuth2Error: ErrorInvalidScope,
			}
		}

		return nil, &InvalidTokenRequestError{
			Description: "refresh token is invalid or expired",
			OAuth2Error: ErrorInvalidGrant,
		}
	}

	response := &oidc.TokenResponse{
		AccessToken:  accessToken.Value,
		TokenType:    accessToken.Type,
		ExpiresIn:    accessToken.ExpiresIn,
		RefreshToken: refreshToken,
		Scope:        accessToken.Scope.String(),
	}

	return response, nil
}
