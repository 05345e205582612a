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

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/exp/slices"
)

var (
	// ErrParse is raised when a request cannot be decoded at all.
	ErrParse = errors.New("unable to parse request")
)

// ResponseType is a single response_type token as defined by OAuth2 and
// the OIDC multiple response type encoding practices.
type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
	ResponseTypeNone    ResponseType = "none"
)

// ResponseTypes is the space separated set of response type tokens from
// an authentication request.  Per OIDC the set is order insensitive.
type ResponseTypes []ResponseType

// NewResponseTypes takes a raw response_type value from a query and returns
// the canonical type.
func NewResponseTypes(s string) ResponseTypes {
	fields := strings.Fields(s)

	types := make(ResponseTypes, len(fields))

	for i := range fields {
		types[i] = ResponseType(fields[i])
	}

	return types
}

// Has returns true if a response type is requested.
func (r ResponseTypes) Has(t ResponseType) bool {
	return slices.Contains(r, t)
}

// Equal performs order insensitive set equality.
func (r ResponseTypes) Equal(o ResponseTypes) bool {
	if len(r) != len(o) {
		return false
	}

	for _, t := range r {
		if !o.Has(t) {
			return false
		}
	}

	return true
}

// IsOnly returns true when the set contains exactly the given type.
func (r ResponseTypes) IsOnly(t ResponseType) bool {
	return len(r) == 1 && r[0] == t
}

func (r ResponseTypes) String() string {
	s := make([]string, len(r))

	for i := range r {
		s[i] = string(r[i])
	}

	return strings.Join(s, " ")
}

// FragmentEncoded returns whether an authorization response for this
// response type set is returned in the URI fragment.  Only the pure
// authorization code flow uses the query.
func (r ResponseTypes) FragmentEncoded() bool {
	return !r.IsOnly(ResponseTypeCode)
}

// Scope wraps up scope functionality.
type Scope []string

// NewScope takes a raw scope from a query and return a canonical scope type.
func NewScope(s string) Scope {
	return Scope(strings.Fields(s))
}

// Has returns true if a scope exists.
func (s Scope) Has(scope string) bool {
	return slices.Contains(s, scope)
}

// IsSubsetOf returns true if every scope is contained in the other.
func (s Scope) IsSubsetOf(o Scope) bool {
	for _, scope := range s {
		if !o.Has(scope) {
			return false
		}
	}

	return true
}

func (s Scope) String() string {
	return strings.Join(s, " ")
}

// ClaimRequest is the per-claim metadata from the claims request parameter,
// see OIDC Core section 5.5.  A nil ClaimRequest is valid and means the
// claim is simply requested in the default manner.
type ClaimRequest struct {
	// Essential marks a claim the client cannot operate without.
	Essential bool `json:"essential,omitempty"`

	// Value requests the claim be returned with a particular value.
	Value any `json:"value,omitempty"`

	// Values requests the claim be returned with one of a set of values.
	Values []any `json:"values,omitempty"`
}

// ClaimRequests maps a claim name to its request metadata, nil when the
// claim was requested with a null value.
type ClaimRequests map[string]*ClaimRequest

// Sub extracts a requested subject value, if any.
func (r ClaimRequests) Sub() string {
	request, ok := r["sub"]
	if !ok || request == nil {
		return ""
	}

	if value, ok := request.Value.(string); ok {
		return value
	}

	return ""
}

// ClaimsRequest is the top level claims request parameter.
type ClaimsRequest struct {
	// IDToken requests claims be delivered in the ID Token.
	IDToken ClaimRequests `json:"id_token,omitempty"`

	// Userinfo requests claims be delivered by the userinfo endpoint.
	Userinfo ClaimRequests `json:"userinfo,omitempty"`
}

// AuthenticationRequest is a parsed OIDC authentication request, see
// OIDC Core section 3.1.2.1.  Immutable once parsed.
type AuthenticationRequest struct {
	// ClientID identifies the relying party.
	ClientID string `json:"client_id"`

	// RedirectURI is where the authorization response will be sent.
	RedirectURI string `json:"redirect_uri"`

	// ResponseTypes selects the authorization processing flow.
	ResponseTypes ResponseTypes `json:"response_type"`

	// Scope must contain "openid", and selects default claim sets.
	Scope Scope `json:"scope"`

	// State is opaque client state echoed back in the response.
	State string `json:"state,omitempty"`

	// Nonce binds the client session to the issued ID Token.
	Nonce string `json:"nonce,omitempty"`

	// Claims is the optional claims request parameter.
	Claims *ClaimsRequest `json:"claims,omitempty"`
}

// ParseAuthenticationRequest decodes a form or query encoded authentication
// request.  Schema validation beyond basic decoding is the job of the
// provider's validation pipeline.
func ParseAuthenticationRequest(body string) (*AuthenticationRequest, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err.Error())
	}

	request := &AuthenticationRequest{
		ClientID:      values.Get("client_id"),
		RedirectURI:   values.Get("redirect_uri"),
		ResponseTypes: NewResponseTypes(values.Get("response_type")),
		Scope:         NewScope(values.Get("scope")),
		State:         values.Get("state"),
		Nonce:         values.Get("nonce"),
	}

	if values.Has("claims") {
		claims := &ClaimsRequest{}

		if err := json.Unmarshal([]byte(values.Get("claims")), claims); err != nil {
			return nil, fmt.Errorf("%w: malformed claims parameter: %s", ErrParse, err.Error())
		}

		request.Claims = claims
	}

	return request, nil
}

// RequestedIDTokenClaims returns the claims requested for delivery in the
// ID Token, never nil.
func (r *AuthenticationRequest) RequestedIDTokenClaims() ClaimRequests {
	if r.Claims == nil || r.Claims.IDToken == nil {
		return ClaimRequests{}
	}

	requested := make(ClaimRequests, len(r.Claims.IDToken))

	for name, request := range r.Claims.IDToken {
		requested[name] = request
	}

	return requested
}

// RequestedUserinfoClaims returns the claims requested for delivery by the
// userinfo endpoint, never nil.
func (r *AuthenticationRequest) RequestedUserinfoClaims() ClaimRequests {
	if r.Claims == nil || r.Claims.Userinfo == nil {
		return ClaimRequests{}
	}

	requested := make(ClaimRequests, len(r.Claims.Userinfo))

	for name, request := range r.Claims.Userinfo {
		requested[name] = request
	}

	return requested
}
