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
	"strings"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

// validator is a single check over a parsed authentication request.  The
// pipeline short circuits on the first failure.
type validator func(p *Provider, request *oidc.AuthenticationRequest) error

// validateRequestSchema checks all required parameters are present and the
// scope requests OpenID processing at all.
func validateRequestSchema(_ *Provider, request *oidc.AuthenticationRequest) error {
	invalid := func(description string) error {
		return &InvalidAuthenticationRequestError{
			Description: description,
			Request:     request,
			OAuth2Error: ErrorInvalidRequest,
		}
	}

	switch {
	case len(request.ResponseTypes) == 0:
		return invalid("response_type must be specified")
	case request.ClientID == "":
		return invalid("client_id must be specified")
	case request.RedirectURI == "":
		return invalid("redirect_uri must be specified")
	case len(request.Scope) == 0:
		return invalid("scope must be specified")
	case !request.Scope.Has("openid"):
		return invalid("scope must include openid")
	default:
		return nil
	}
}

// validateClientIsKnown checks the client is registered.
func validateClientIsKnown(p *Provider, request *oidc.AuthenticationRequest) error {
	if _, ok := p.clients.Lookup(request.ClientID); !ok {
		return &InvalidAuthenticationRequestError{
			Description: "unknown client_id '" + request.ClientID + "'",
			Request:     request,
			OAuth2Error: ErrorUnauthorizedClient,
		}
	}

	return nil
}

// validateRedirectURIRegistered checks the redirect URI byte-exact against
// the client's registered set.  No protocol error code is attached, you
// cannot redirect to an unregistered URI so the caller must render the
// failure server side.
func validateRedirectURIRegistered(p *Provider, request *oidc.AuthenticationRequest) error {
	client, _ := p.clients.Lookup(request.ClientID)

	if !client.HasRedirectURI(request.RedirectURI) {
		return &InvalidAuthenticationRequestError{
			Description: "redirect_uri '" + request.RedirectURI + "' is not registered",
			Request:     request,
		}
	}

	return nil
}

// validateResponseTypeRegistered checks the requested response type set
// equals one of the client's registered combinations.
func validateResponseTypeRegistered(p *Provider, request *oidc.AuthenticationRequest) error {
	client, _ := p.clients.Lookup(request.ClientID)

	if !client.HasResponseTypes(request.ResponseTypes) {
		return &InvalidAuthenticationRequestError{
			Description: "response_type '" + request.ResponseTypes.String() + "' is not registered",
			Request:     request,
			OAuth2Error: ErrorInvalidRequest,
		}
	}

	return nil
}

// validateUserinfoClaimsHaveAccessToken rejects userinfo claim requests
// when the flow issues no access token, see OIDC Core section 5.5: the
// userinfo endpoint would be unreachable.
func validateUserinfoClaimsHaveAccessToken(_ *Provider, request *oidc.AuthenticationRequest) error {
	if request.Claims == nil || request.Claims.Userinfo == nil {
		return nil
	}

	if request.ResponseTypes.IsOnly(oidc.ResponseTypeIDToken) {
		return &InvalidAuthenticationRequestError{
			Description: "userinfo claims cannot be requested when response_type is 'id_token'",
			Request:     request,
			OAuth2Error: ErrorInvalidRequest,
		}
	}

	return nil
}

// validateScopeSupported checks every requested scope against the
// provider's supported set.
func validateScopeSupported(p *Provider, request *oidc.AuthenticationRequest) error {
	supported := p.configuration.ScopesSupported()

	var unsupported []string

	for _, scope := range request.Scope {
		if !supported.Has(scope) {
			unsupported = append(unsupported, scope)
		}
	}

	if len(unsupported) != 0 {
		return &InvalidAuthenticationRequestError{
			Description: "request contains unsupported scopes: " + strings.Join(unsupported, ", "),
			Request:     request,
			OAuth2Error: ErrorInvalidScope,
		}
	}

	return nil
}
