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

package handler

import (
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/eschercloudai/oidc/pkg/metrics"
	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider"
	"github.com/eschercloudai/oidc/pkg/server/errors"
	"github.com/eschercloudai/oidc/pkg/server/util"
)

// Authenticator yields the local identity of the user driving the browser.
// Login UI and session handling live out here, the protocol engine only
// ever sees the resulting user id.
type Authenticator interface {
	// AuthenticateRequest returns the local user id for the request, or
	// an error when the user could not be authenticated.
	AuthenticateRequest(r *http.Request, request *oidc.AuthenticationRequest) (string, error)
}

// StaticAuthenticator trusts everyone to be a fixed user.  Development and
// test use only.
type StaticAuthenticator struct {
	// UserID is the user everybody gets to be.
	UserID string
}

var _ Authenticator = &StaticAuthenticator{}

// AuthenticateRequest implements Authenticator.
func (a *StaticAuthenticator) AuthenticateRequest(_ *http.Request, _ *oidc.AuthenticationRequest) (string, error) {
	return a.UserID, nil
}

// Handler binds the protocol engine to HTTP.
type Handler struct {
	provider      *provider.Provider
	authenticator Authenticator
	extraClaims   provider.ExtraClaims
}

// New creates an endpoint handler set.
func New(p *provider.Provider, authenticator Authenticator, extraClaims provider.ExtraClaims) (*Handler, error) {
	if p == nil || authenticator == nil {
		return nil, provider.ErrCollaborator
	}

	return &Handler{
		provider:      p,
		authenticator: authenticator,
		extraClaims:   extraClaims,
	}, nil
}

const (
	// errorTemplate is used to return a verbose error to the client when
	// something is very wrong and cannot be redirected.
	errorTemplate = "<html><body><h1>Oops! Something went wrong.</h1><p><pre>%s</pre></p></body></html>"
)

// htmlError is used in dire situations when we cannot return an error via
// the usual redirect flow.
func htmlError(w http.ResponseWriter, r *http.Request, status int, description string) {
	log := logr.FromContextOrDiscard(r.Context())

	w.Header().Add("Content-Type", "text/html")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(fmt.Sprintf(errorTemplate, description))); err != nil {
		log.Info("failed to write HTML response")
	}
}

// Authorization implements the authorization endpoint.  It is responsible
// for either returning a response or error via an HTTP 302 redirect, or
// rendering an HTML fragment for errors that cannot follow the redirect URI.
func (h *Handler) Authorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	request, err := h.provider.ParseAuthenticationRequest(ctx, r.URL.RawQuery)
	if err != nil {
		metrics.AuthenticationRequests.WithLabelValues(metrics.OutcomeInvalid).Inc()

		if location := h.provider.AuthenticationErrorRedirect(err); location != "" {
			http.Redirect(w, r, location, http.StatusFound)

			return
		}

		htmlError(w, r, http.StatusBadRequest, err.Error())

		return
	}

	userID, err := h.authenticator.AuthenticateRequest(r, request)
	if err != nil {
		metrics.AuthenticationRequests.WithLabelValues(metrics.OutcomeDenied).Inc()

		htmlError(w, r, http.StatusUnauthorized, "authentication failed")

		return
	}

	response, err := h.provider.Authorize(ctx, request, userID, h.extraClaims)
	if err != nil {
		var authzErr *provider.AuthorizationError

		if goerrors.As(err, &authzErr) {
			metrics.AuthenticationRequests.WithLabelValues(metrics.OutcomeDenied).Inc()

			htmlError(w, r, http.StatusForbidden, authzErr.Description)

			return
		}

		metrics.AuthenticationRequests.WithLabelValues(metrics.OutcomeInvalid).Inc()

		htmlError(w, r, http.StatusInternalServerError, "authorization failed")

		return
	}

	metrics.AuthenticationRequests.WithLabelValues(metrics.OutcomeOK).Inc()

	countGrants(response)

	http.Redirect(w, r, response.RedirectURL(request.RedirectURI, request.ResponseTypes.FragmentEncoded()), http.StatusFound)
}

// countGrants records what an authorization response handed out.
func countGrants(response *oidc.AuthorizationResponse) {
	if response.Code != "" {
		metrics.GrantsIssued.WithLabelValues("code").Inc()
	}

	if response.AccessToken != "" {
		metrics.GrantsIssued.WithLabelValues("access_token").Inc()
	}

	if response.IDToken != "" {
		metrics.GrantsIssued.WithLabelValues("id_token").Inc()
	}
}

// Token implements the token endpoint.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.OAuth2InvalidRequest("unable to read request body").WithError(err).Write(w, r)

		return
	}

	grantType := grantTypeLabel(string(body))

	response, err := h.provider.HandleTokenRequest(r.Context(), string(body), r.Header, h.extraClaims)
	if err != nil {
		metrics.TokenRequests.WithLabelValues(grantType, metrics.OutcomeInvalid).Inc()

		errors.HandleError(w, r, err)

		return
	}

	metrics.TokenRequests.WithLabelValues(grantType, metrics.OutcomeOK).Inc()
	metrics.GrantsIssued.WithLabelValues("access_token").Inc()

	if response.RefreshToken != "" {
		metrics.GrantsIssued.WithLabelValues("refresh_token").Inc()
	}

	if response.IDToken != "" {
		metrics.GrantsIssued.WithLabelValues("id_token").Inc()
	}

	w.Header().Add("Cache-Control", "no-store")
	w.Header().Add("Pragma", "no-cache")

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}

// grantTypeLabel maps the request's grant type onto a bounded label set.
func grantTypeLabel(body string) string {
	form, err := url.ParseQuery(body)
	if err != nil {
		return "other"
	}

	switch grantType := form.Get("grant_type"); grantType {
	case "authorization_code", "refresh_token":
		return grantType
	default:
		return "other"
	}
}

// Userinfo implements the userinfo endpoint, accepting the bearer token
// from the Authorization header, the query, or a form encoded body.
func (h *Handler) Userinfo(w http.ResponseWriter, r *http.Request) {
	body := r.URL.RawQuery

	if r.Method == http.MethodPost {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			errors.OAuth2InvalidRequest("unable to read request body").WithError(err).Write(w, r)

			return
		}

		body = string(data)
	}

	response, err := h.provider.HandleUserinfoRequest(r.Context(), body, r.Header)
	if err != nil {
		metrics.UserinfoRequests.WithLabelValues(metrics.OutcomeInvalid).Inc()

		errors.HandleError(w, r, err)

		return
	}

	metrics.UserinfoRequests.WithLabelValues(metrics.OutcomeOK).Inc()

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}

// WellKnown serves the discovery document, the provider configuration with
// the endpoint locations grafted on.
func (h *Handler) WellKnown(w http.ResponseWriter, r *http.Request) {
	configuration := h.provider.Configuration()

	issuer, ok := configuration["issuer"].(string)
	if !ok {
		errors.OAuth2ServerError("provider configuration has no issuer").Write(w, r)

		return
	}

	configuration["authorization_endpoint"] = issuer + "/authorization"
	configuration["token_endpoint"] = issuer + "/token"
	configuration["userinfo_endpoint"] = issuer + "/userinfo"
	configuration["jwks_uri"] = issuer + "/jwks.json"

	if _, ok := configuration["response_types_supported"]; !ok {
		configuration["response_types_supported"] = []string{
			"code", "token", "id_token", "code token", "code id_token", "id_token token", "code id_token token",
		}
	}

	util.WriteJSONResponse(w, r, http.StatusOK, configuration)
}

// JWKS serves the provider's public signing keys.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	util.WriteJSONResponse(w, r, http.StatusOK, h.provider.JWKS())
}
