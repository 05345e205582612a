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
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

// UserinfoResponse is the JSON object returned by the userinfo endpoint,
// the sub member plus whatever claims were resolved.
type UserinfoResponse map[string]any

// extractBearerToken locates the access token, preferring the
// Authorization header over the access_token form or query parameter.
// Presenting the token by more than one mechanism is an error, see
// RFC 6750 section 2.
func extractBearerToken(form url.Values, headers http.Header) (string, error) {
	var tokens []string

	if authorization := headers.Get("Authorization"); authorization != "" {
		scheme, token, ok := strings.Cut(authorization, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", &BearerTokenError{
				Description: "authorization scheme must be Bearer",
			}
		}

		tokens = append(tokens, token)
	}

	if form.Has("access_token") {
		tokens = append(tokens, form.Get("access_token"))
	}

	if len(tokens) != 1 {
		return "", &BearerTokenError{
			Description: "exactly one bearer token must be presented",
		}
	}

	return tokens[0], nil
}

// HandleUserinfoRequest authenticates the bearer and projects the user's
// claims.  The request body is the urlencoded query string or POST body,
// either may be empty when the token rides in the Authorization header.
func (p *Provider) HandleUserinfoRequest(ctx context.Context, body string, headers http.Header) (UserinfoResponse, error) {
	form, err := url.ParseQuery(body)
	if err != nil {
		return nil, &BearerTokenError{
			Description: "failed to parse request: " + err.Error(),
		}
	}

	bearer, err := extractBearerToken(form, headers)
	if err != nil {
		return nil, err
	}

	introspection, err := p.authzState.IntrospectAccessToken(ctx, bearer)
	if err != nil || !introspection.Active {
		return nil, &InvalidUserinfoRequestError{
			Description: "the access token is invalid or has expired",
		}
	}

	userID, err := p.authzState.GetUserIDForSubjectIdentifier(ctx, introspection.Sub)
	if err != nil {
		return nil, &InvalidUserinfoRequestError{
			Description: "the access token subject cannot be resolved",
		}
	}

	// Claims released here are the union of what the granted scope
	// selects and what the claims request parameter asked for.
	requested := oidc.ScopeToClaims(oidc.NewScope(introspection.Scope))

	request, err := p.authzState.GetAuthorizationRequestForAccessToken(ctx, bearer)
	if err != nil {
		return nil, &InvalidUserinfoRequestError{
			Description: "the access token grant cannot be resolved",
		}
	}

	for name, claim := range request.RequestedUserinfoClaims() {
		requested[name] = claim
	}

	userClaims, err := p.userinfo.GetClaimsFor(ctx, userID, requested)
	if err != nil {
		return nil, err
	}

	response := UserinfoResponse{
		"sub": introspection.Sub,
	}

	for name, value := range userClaims {
		response[name] = value
	}

	logr.FromContextOrDiscard(ctx).V(1).Info("userinfo response", "sub", introspection.Sub, "claims", claimNames(userClaims))

	return response, nil
}
