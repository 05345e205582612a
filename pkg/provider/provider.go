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
	"net/url"
	"time"

	"github.com/go-logr/logr"

	josepkg "github.com/go-jose/go-jose/v3"

	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider/jose"
)

var (
	// ErrCollaborator is raised when a required collaborator is missing
	// at construction.
	ErrCollaborator = errors.New("missing collaborator")
)

// Provider is the OpenID Connect protocol engine.  It holds immutable
// configuration and read-only references to its collaborators, so a single
// instance serves concurrent requests without internal locking.
type Provider struct {
	signer          *jose.Signer
	configuration   oidc.ProviderConfiguration
	authzState      AuthorizationState
	clients         oidc.ClientRegistry
	userinfo        UserinfoSource
	idTokenLifetime time.Duration
	validators      []validator
}

// Option tweaks provider construction.
type Option func(*Provider)

// WithIDTokenLifetime overrides how long signed ID Tokens are valid for,
// the default is an hour.
func WithIDTokenLifetime(lifetime time.Duration) Option {
	return func(p *Provider) {
		p.idTokenLifetime = lifetime
	}
}

// New creates a provider instance.  The configuration map is defaulted and
// validated, see oidc.NewProviderConfiguration.
func New(signer *jose.Signer, configuration map[string]any, authzState AuthorizationState, clients oidc.ClientRegistry, userinfo UserinfoSource, options ...Option) (*Provider, error) {
	if signer == nil || authzState == nil || clients == nil || userinfo == nil {
		return nil, ErrCollaborator
	}

	config, err := oidc.NewProviderConfiguration(configuration)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		signer:          signer,
		configuration:   config,
		authzState:      authzState,
		clients:         clients,
		userinfo:        userinfo,
		idTokenLifetime: time.Hour,
	}

	// Order matters: each check may rely on everything before it having
	// passed, e.g. the redirect URI and response type checks look up the
	// client that the preceding check proved known.
	p.validators = []validator{
		validateRequestSchema,
		validateClientIsKnown,
		validateRedirectURIRegistered,
		validateResponseTypeRegistered,
		validateUserinfoClaimsHaveAccessToken,
		validateScopeSupported,
	}

	for _, option := range options {
		option(p)
	}

	return p, nil
}

// Configuration returns a snapshot of the provider configuration, see
// oidc.ProviderConfiguration.Snapshot for what is copied.
func (p *Provider) Configuration() map[string]any {
	return p.configuration.Snapshot()
}

// JWKS returns all keys published by the provider as a JSON Web Key Set.
func (p *Provider) JWKS() *josepkg.JSONWebKeySet {
	return p.signer.JWKS()
}

// ParseAuthenticationRequest parses a urlencoded authentication request and
// runs the validation pipeline over it.
func (p *Provider) ParseAuthenticationRequest(ctx context.Context, body string) (*oidc.AuthenticationRequest, error) {
	request, err := oidc.ParseAuthenticationRequest(body)
	if err != nil {
		return nil, &InvalidAuthenticationRequestError{
			Description: err.Error(),
			OAuth2Error: ErrorInvalidRequest,
		}
	}

	for _, validate := range p.validators {
		if err := validate(p, request); err != nil {
			return nil, err
		}
	}

	logr.FromContextOrDiscard(ctx).V(1).Info("parsed authentication request", "client_id", request.ClientID, "response_type", request.ResponseTypes.String())

	return request, nil
}

// AuthenticationErrorRedirect returns the error redirect URL for a failed
// authentication request.  Redirects are only synthesized when the failure
// carries a protocol error code and the redirect URI is registered to the
// client, anything else returns empty and must be surfaced server side.
func (p *Provider) AuthenticationErrorRedirect(err error) string {
	var invalid *InvalidAuthenticationRequestError

	if !errors.As(err, &invalid) {
		return ""
	}

	if invalid.Request == nil || invalid.OAuth2Error == "" {
		return ""
	}

	client, ok := p.clients.Lookup(invalid.Request.ClientID)
	if !ok || !client.HasRedirectURI(invalid.Request.RedirectURI) {
		return ""
	}

	return invalid.ToErrorURL()
}

// Authorize creates an authorization response for a validated request and
// the local identifier of the already authenticated user.
func (p *Provider) Authorize(ctx context.Context, request *oidc.AuthenticationRequest, userID string, extraIDTokenClaims ExtraClaims) (*oidc.AuthorizationResponse, error) {
	log := logr.FromContextOrDiscard(ctx)

	sub, err := p.createSubjectIdentifier(ctx, request, userID)
	if err != nil {
		return nil, err
	}

	if err := checkSubjectIdentifierMatchesRequested(request, sub); err != nil {
		return nil, err
	}

	response := &oidc.AuthorizationResponse{
		State: request.State,
	}

	var code string

	if request.ResponseTypes.Has(oidc.ResponseTypeCode) {
		code, err = p.authzState.CreateAuthorizationCode(ctx, request, sub)
		if err != nil {
			return nil, err
		}

		response.Code = code
	}

	var accessTokenValue string

	if request.ResponseTypes.Has(oidc.ResponseTypeToken) {
		accessToken, err := p.authzState.CreateAccessToken(ctx, request, sub)
		if err != nil {
			return nil, err
		}

		accessTokenValue = accessToken.Value

		response.AccessToken = accessToken.Value
		response.TokenType = accessToken.Type
		response.ExpiresIn = accessToken.ExpiresIn
	}

	if request.ResponseTypes.Has(oidc.ResponseTypeIDToken) {
		requested := request.RequestedIDTokenClaims()

		// With no access token there is no way to call the userinfo
		// endpoint, so scope selected claims ride along in the ID
		// Token instead.
		if request.ResponseTypes.IsOnly(oidc.ResponseTypeIDToken) {
			for name, claim := range oidc.ScopeToClaims(request.Scope) {
				if _, ok := requested[name]; !ok {
					requested[name] = claim
				}
			}
		}

		userClaims, err := p.userinfo.GetClaimsFor(ctx, userID, requested)
		if err != nil {
			return nil, err
		}

		idToken, err := p.createSignedIDToken(ctx, request.ClientID, sub, userID, userClaims, request.Nonce, code, accessTokenValue, extraIDTokenClaims)
		if err != nil {
			return nil, err
		}

		response.IDToken = idToken

		log.V(1).Info("issued id_token", "client_id", request.ClientID, "sub", sub, "claims", claimNames(userClaims))
	}

	return response, nil
}

// createSubjectIdentifier derives the subject identifier for the user as
// seen by the client.  The pairwise sector is always the redirect URI host,
// a registered sector_identifier_uri is not consulted.
func (p *Provider) createSubjectIdentifier(ctx context.Context, request *oidc.AuthenticationRequest, userID string) (string, error) {
	subjectType := oidc.SubjectType(p.configuration.SubjectTypesSupported()[0])

	if client, ok := p.clients.Lookup(request.ClientID); ok && client.SubjectType != "" {
		subjectType = client.SubjectType
	}

	redirectURI, err := url.Parse(request.RedirectURI)
	if err != nil {
		return "", &InvalidAuthenticationRequestError{
			Description: "redirect_uri is not parseable",
			Request:     request,
		}
	}

	return p.authzState.GetSubjectIdentifier(ctx, subjectType, userID, redirectURI.Host)
}

// checkSubjectIdentifierMatchesRequested rejects the request when the
// claims parameter pins sub to something other than the derived identifier.
func checkSubjectIdentifierMatchesRequested(request *oidc.AuthenticationRequest, sub string) error {
	if request.Claims == nil {
		return nil
	}

	idTokenSub := request.Claims.IDToken.Sub()
	userinfoSub := request.Claims.Userinfo.Sub()

	if idTokenSub != "" && userinfoSub != "" && idTokenSub != userinfoSub {
		return &AuthorizationError{
			Description: "requested different subject identifiers for the ID Token and userinfo",
		}
	}

	requested := idTokenSub
	if requested == "" {
		requested = userinfoSub
	}

	if requested != "" && requested != sub {
		return &AuthorizationError{
			Description: "requested subject identifier could not be matched",
		}
	}

	return nil
}

// claimNames strips values so claim sets can be logged without leaking
// their contents.
func claimNames(claims map[string]any) []string {
	names := make([]string, 0, len(claims))

	for name := range claims {
		names = append(names, name)
	}

	return names
}
