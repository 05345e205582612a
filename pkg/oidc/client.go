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
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrClientMetadata is raised when a client registration entry is
	// missing required fields or carries malformed values.
	ErrClientMetadata = errors.New("invalid client metadata")
)

// SubjectType selects how subject identifiers are derived for a client.
type SubjectType string

const (
	SubjectTypePublic   SubjectType = "public"
	SubjectTypePairwise SubjectType = "pairwise"
)

// AuthMethod is a token endpoint client authentication method, see
// OIDC Core section 9.
type AuthMethod string

const (
	AuthMethodBasic AuthMethod = "client_secret_basic"
	AuthMethodPost  AuthMethod = "client_secret_post"
	AuthMethodNone  AuthMethod = "none"
)

// ClientMetadata is a registered client, see OIDC Dynamic Client
// Registration section 2.  Unknown registration fields are preserved in
// Extra so round-tripping a registry file is lossless.
//
//nolint:tagliatelle
type ClientMetadata struct {
	// RedirectURIs is the set of absolute redirection URIs the client
	// may use, matched byte-exact against requests.
	RedirectURIs []string `json:"redirect_uris" yaml:"redirect_uris" validate:"required,min=1,dive,uri"`

	// ResponseTypes is the set of response type combinations the client
	// registered, each a space separated set.
	ResponseTypes []string `json:"response_types" yaml:"response_types" validate:"required,min=1"`

	// TokenEndpointAuthMethod defaults to client_secret_basic.
	TokenEndpointAuthMethod AuthMethod `json:"token_endpoint_auth_method,omitempty" yaml:"token_endpoint_auth_method,omitempty" validate:"omitempty,oneof=client_secret_basic client_secret_post none"`

	// ClientSecret is the shared secret checked for the client_secret_*
	// methods.  Validate does not require it to be set.
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	// SubjectType overrides the provider default.
	SubjectType SubjectType `json:"subject_type,omitempty" yaml:"subject_type,omitempty" validate:"omitempty,oneof=public pairwise"`

	// IDTokenSignedResponseAlg overrides the provider's default ID Token
	// signing algorithm.
	IDTokenSignedResponseAlg string `json:"id_token_signed_response_alg,omitempty" yaml:"id_token_signed_response_alg,omitempty"`

	// SectorIdentifierURI is recorded but not resolved, the pairwise
	// sector is always derived from the redirect URI host.
	SectorIdentifierURI string `json:"sector_identifier_uri,omitempty" yaml:"sector_identifier_uri,omitempty"`

	// Extra preserves registration fields this server has no opinion on.
	Extra map[string]any `json:"-" yaml:",inline"`
}

// Validate checks required registration fields are present and well formed.
func (c *ClientMetadata) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrClientMetadata, err.Error())
	}

	return nil
}

// AuthMethodOrDefault returns the registered token endpoint authentication
// method, defaulting per the registration specification.
func (c *ClientMetadata) AuthMethodOrDefault() AuthMethod {
	if c.TokenEndpointAuthMethod == "" {
		return AuthMethodBasic
	}

	return c.TokenEndpointAuthMethod
}

// HasRedirectURI does a byte-exact match against the registered set.
func (c *ClientMetadata) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}

	return false
}

// HasResponseTypes performs set equality between the requested response
// type set and each registered combination.
func (c *ClientMetadata) HasResponseTypes(requested ResponseTypes) bool {
	for _, registered := range c.ResponseTypes {
		if NewResponseTypes(registered).Equal(requested) {
			return true
		}
	}

	return false
}

// ClientRegistry is a read-only mapping from client_id to registered
// metadata.  Updates happen out of band.
type ClientRegistry interface {
	// Lookup returns the metadata for a client, or false when the
	// client is unknown.
	Lookup(clientID string) (*ClientMetadata, bool)
}

// StaticClientRegistry is a fixed in-memory registry.
type StaticClientRegistry map[string]*ClientMetadata

var _ ClientRegistry = StaticClientRegistry{}

// Lookup implements ClientRegistry.
func (r StaticClientRegistry) Lookup(clientID string) (*ClientMetadata, bool) {
	client, ok := r[clientID]

	return client, ok
}

// NewStaticClientRegistry validates every entry and returns a registry.
func NewStaticClientRegistry(clients map[string]*ClientMetadata) (StaticClientRegistry, error) {
	for id, client := range clients {
		if err := client.Validate(); err != nil {
			return nil, fmt.Errorf("client %s: %w", id, err)
		}
	}

	return StaticClientRegistry(clients), nil
}
