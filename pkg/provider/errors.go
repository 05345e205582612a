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
	"net/url"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

// Error is a terse OAuth2/OIDC protocol error code.
type Error string

const (
	ErrorInvalidRequest       Error = "invalid_request"
	ErrorUnauthorizedClient   Error = "unauthorized_client"
	ErrorAccessDenied         Error = "access_denied"
	ErrorInvalidScope         Error = "invalid_scope"
	ErrorInvalidGrant         Error = "invalid_grant"
	ErrorInvalidClient        Error = "invalid_client"
	ErrorInvalidToken         Error = "invalid_token"
	ErrorUnsupportedGrantType Error = "unsupported_grant_type"
	ErrorServerError          Error = "server_error"
)

// InvalidAuthenticationRequestError means an authentication request is
// malformed or violates the client's registration.  When the redirect URI
// survived validation and a protocol error code is known the error can be
// turned into a redirect, otherwise the caller renders it server side.
type InvalidAuthenticationRequestError struct {
	// Description is a human readable message, safe for the client.
	Description string

	// Request is the offending request as far as parsing got.
	Request *oidc.AuthenticationRequest

	// OAuth2Error is empty when the error must not be redirected,
	// notably when the redirect URI itself is not registered.
	OAuth2Error Error
}

func (e *InvalidAuthenticationRequestError) Error() string {
	return e.Description
}

// ToErrorURL builds the error redirect, or returns the empty string when no
// redirect may be synthesized.  The encoding follows the same fragment or
// query rule as a successful response for the requested response types.
func (e *InvalidAuthenticationRequestError) ToErrorURL() string {
	if e.Request == nil || e.Request.RedirectURI == "" || e.OAuth2Error == "" {
		return ""
	}

	values := url.Values{}
	values.Set("error", string(e.OAuth2Error))
	values.Set("error_message", e.Description)

	if e.Request.ResponseTypes.FragmentEncoded() {
		return e.Request.RedirectURI + "#" + values.Encode()
	}

	return e.Request.RedirectURI + "?" + values.Encode()
}

// AuthorizationError means the request was well formed but authorization
// cannot be granted, e.g. a requested subject identifier does not match the
// authenticated user.
type AuthorizationError struct {
	Description string
}

func (e *AuthorizationError) Error() string {
	return e.Description
}

// InvalidTokenRequestError is a token endpoint protocol failure, returned
// as an OAuth2 error JSON body with HTTP 400.
type InvalidTokenRequestError struct {
	Description string
	OAuth2Error Error
}

func (e *InvalidTokenRequestError) Error() string {
	return e.Description
}

// invalidTokenRequest uses the default invalid_request error code.
func invalidTokenRequest(description string) *InvalidTokenRequestError {
	return &InvalidTokenRequestError{
		Description: description,
		OAuth2Error: ErrorInvalidRequest,
	}
}

// ClientAuthenticationError means token endpoint client authentication
// failed, surfaced as HTTP 401.
type ClientAuthenticationError struct {
	Description string
}

func (e *ClientAuthenticationError) Error() string {
	return e.Description
}

// BearerTokenError means a userinfo request carried no usable bearer token,
// surfaced as HTTP 401 with a WWW-Authenticate challenge.
type BearerTokenError struct {
	Description string
}

func (e *BearerTokenError) Error() string {
	return e.Description
}

// InvalidUserinfoRequestError means the presented access token is not
// active, surfaced like a bearer token error.
type InvalidUserinfoRequestError struct {
	Description string
}

func (e *InvalidUserinfoRequestError) Error() string {
	return e.Description
}
