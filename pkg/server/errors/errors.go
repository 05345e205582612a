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

package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/eschercloudai/oidc/pkg/provider"
)

var (
	// ErrRequest is raised for all handler errors.
	ErrRequest = errors.New("request error")
)

// oauth2Error is the JSON error body defined by RFC 6749 section 5.2.
//
//nolint:tagliatelle
type oauth2Error struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HTTPError wraps ErrRequest with more contextual information that is used
// to propagate and create suitable responses.
type HTTPError struct {
	// status is the HTTP error code.
	status int

	// code is the terse error code to return to the client.
	code provider.Error

	// description is a verbose description to log/return to the user.
	description string

	// challenge, when set, is emitted as a WWW-Authenticate header.
	challenge string

	// err is set when the originator was an error.  This is only used
	// for logging so as not to leak server internals to the client.
	err error
}

// newHTTPError returns a new HTTP error.
func newHTTPError(status int, code provider.Error, description string) *HTTPError {
	return &HTTPError{
		status:      status,
		code:        code,
		description: description,
	}
}

// WithError augments the error with an error from a library.
func (e *HTTPError) WithError(err error) *HTTPError {
	e.err = err

	return e
}

// Unwrap implements Go 1.13 errors.
func (e *HTTPError) Unwrap() error {
	return ErrRequest
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.description
}

// Write returns the error code and description to the client.
func (e *HTTPError) Write(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context())

	details := []any{"detail", e.description}

	if e.err != nil {
		details = append(details, "error", e.err)
	}

	log.Info("error detail", details...)

	w.Header().Add("Cache-Control", "no-store")

	if e.challenge != "" {
		w.Header().Add("WWW-Authenticate", e.challenge)
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(e.status)

	body, err := json.Marshal(&oauth2Error{
		Error:            string(e.code),
		ErrorDescription: e.description,
	})
	if err != nil {
		log.Error(err, "failed to marshal error response")

		return
	}

	if _, err := w.Write(body); err != nil {
		log.Error(err, "failed to write error response")
	}
}

// OAuth2InvalidRequest indicates a client error.
func OAuth2InvalidRequest(description string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, provider.ErrorInvalidRequest, description)
}

// OAuth2InvalidClient tells the client its authentication failed.
func OAuth2InvalidClient(description string) *HTTPError {
	return newHTTPError(http.StatusUnauthorized, provider.ErrorInvalidClient, description)
}

// OAuth2InvalidToken tells the client its bearer token was no good, with
// the challenge required by RFC 6750.
func OAuth2InvalidToken(description string) *HTTPError {
	e := newHTTPError(http.StatusUnauthorized, provider.ErrorInvalidToken, description)
	e.challenge = `Bearer error="invalid_token"`

	return e
}

// OAuth2AccessDenied tells the client authorization was refused.
func OAuth2AccessDenied(description string) *HTTPError {
	return newHTTPError(http.StatusForbidden, provider.ErrorAccessDenied, description)
}

// OAuth2ServerError tells the client we are at fault, this should never be
// seen in production.  If so then our testing needs to improve.
func OAuth2ServerError(description string) *HTTPError {
	return newHTTPError(http.StatusInternalServerError, provider.ErrorServerError, description)
}

// HTTPNotFound is a bare 404.
func HTTPNotFound() *HTTPError {
	return newHTTPError(http.StatusNotFound, provider.ErrorInvalidRequest, "resource not found")
}

// HTTPMethodNotAllowed is a bare 405.
func HTTPMethodNotAllowed() *HTTPError {
	return newHTTPError(http.StatusMethodNotAllowed, provider.ErrorInvalidRequest, "the requested method was not allowed")
}

// FromProvider translates the protocol engine's error taxonomy into HTTP.
func FromProvider(err error) *HTTPError {
	var tokenErr *provider.InvalidTokenRequestError

	if errors.As(err, &tokenErr) {
		return newHTTPError(http.StatusBadRequest, tokenErr.OAuth2Error, tokenErr.Description).WithError(err)
	}

	var clientAuthErr *provider.ClientAuthenticationError

	if errors.As(err, &clientAuthErr) {
		return OAuth2InvalidClient(clientAuthErr.Description).WithError(err)
	}

	var bearerErr *provider.BearerTokenError

	if errors.As(err, &bearerErr) {
		return OAuth2InvalidToken(bearerErr.Description).WithError(err)
	}

	var userinfoErr *provider.InvalidUserinfoRequestError

	if errors.As(err, &userinfoErr) {
		return OAuth2InvalidToken(userinfoErr.Description).WithError(err)
	}

	var authzErr *provider.AuthorizationError

	if errors.As(err, &authzErr) {
		return OAuth2AccessDenied(authzErr.Description).WithError(err)
	}

	return OAuth2ServerError("unhandled error").WithError(err)
}

// HandleError is the top level error handler that should be called from all
// path handlers on error.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var httpError *HTTPError

	if errors.As(err, &httpError) {
		httpError.Write(w, r)

		return
	}

	FromProvider(err).Write(w, r)
}
