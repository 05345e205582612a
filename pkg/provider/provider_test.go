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

package provider_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/url"
	"testing"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/oidc/pkg/authzstate"
	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider"
	"github.com/eschercloudai/oidc/pkg/provider/jose"
	"github.com/eschercloudai/oidc/pkg/userinfo"
)

const (
	testIssuer = "https://op.example.com"

	testUser = "user1"
)

// fixture owns a provider and enough of its internals to drive assertions.
type fixture struct {
	provider *provider.Provider
	key      *rsa.PrivateKey
}

func newFixture(t *testing.T, options ...provider.Option) *fixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(key)
	require.NoError(t, err)

	clients, err := oidc.NewStaticClientRegistry(map[string]*oidc.ClientMetadata{
		"c1": {
			RedirectURIs:            []string{"https://rp.example.com/cb"},
			ResponseTypes:           []string{"code", "code id_token", "code id_token token"},
			TokenEndpointAuthMethod: oidc.AuthMethodBasic,
			ClientSecret:            "s3cr3t",
		},
		"spa": {
			RedirectURIs:            []string{"https://spa.example.com/cb"},
			ResponseTypes:           []string{"id_token", "id_token token"},
			TokenEndpointAuthMethod: oidc.AuthMethodNone,
		},
		"postal": {
			RedirectURIs:            []string{"https://postal.example.com/cb"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: oidc.AuthMethodPost,
			ClientSecret:            "hunter2",
		},
		"pub": {
			RedirectURIs:            []string{"https://pub.example.com/cb"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: oidc.AuthMethodBasic,
			ClientSecret:            "sesame",
			SubjectType:             oidc.SubjectTypePublic,
		},
	})
	require.NoError(t, err)

	state, err := authzstate.New(authzstate.Options{})
	require.NoError(t, err)

	users := userinfo.Static{
		testUser: {
			"name":           "Jane Doe",
			"given_name":     "Jane",
			"family_name":    "Doe",
			"nickname":       "jd",
			"email":          "jane@example.com",
			"email_verified": true,
		},
	}

	configuration := map[string]any{
		"issuer":           testIssuer,
		"scopes_supported": []string{"openid", "profile", "email"},
	}

	p, err := provider.New(signer, configuration, state, clients, users, options...)
	require.NoError(t, err)

	return &fixture{
		provider: p,
		key:      key,
	}
}

// parse runs the validation pipeline over a raw query string.
func (f *fixture) parse(t *testing.T, query string) *oidc.AuthenticationRequest {
	t.Helper()

	request, err := f.provider.ParseAuthenticationRequest(context.Background(), query)
	require.NoError(t, err)

	return request
}

// verifyIDToken checks the signature against the provider's key and returns
// the verified token plus its raw claims.
func (f *fixture) verifyIDToken(t *testing.T, clientID, raw string) (*gooidc.IDToken, map[string]any) {
	t.Helper()

	keySet := &gooidc.StaticKeySet{
		PublicKeys: []crypto.PublicKey{f.key.Public()},
	}

	verifier := gooidc.NewVerifier(testIssuer, keySet, &gooidc.Config{ClientID: clientID})

	idToken, err := verifier.Verify(context.Background(), raw)
	require.NoError(t, err)

	parsed, err := jwt.ParseSigned(raw)
	require.NoError(t, err)

	claims := map[string]any{}
	require.NoError(t, parsed.Claims(f.key.Public(), &claims))

	return idToken, claims
}

func TestValidationPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name        string
		query       string
		oauth2Error provider.Error
		redirects   bool
	}{
		{
			name:        "missing response type",
			query:       "client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid",
			oauth2Error: provider.ErrorInvalidRequest,
			redirects:   true,
		},
		{
			name:        "missing openid scope",
			query:       "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=email",
			oauth2Error: provider.ErrorInvalidRequest,
			redirects:   true,
		},
		{
			name:        "unknown client",
			query:       "response_type=code&client_id=nobody&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid",
			oauth2Error: provider.ErrorUnauthorizedClient,
			redirects:   false,
		},
		{
			name:      "unregistered redirect uri",
			query:     "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Fevil.example.com%2Fcb&scope=openid",
			redirects: false,
		},
		{
			name:        "unregistered response type",
			query:       "response_type=token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid",
			oauth2Error: provider.ErrorInvalidRequest,
			redirects:   true,
		},
		{
			name:        "userinfo claims without access token",
			query:       "response_type=id_token&client_id=spa&redirect_uri=https%3A%2F%2Fspa.example.com%2Fcb&scope=openid&claims=%7B%22userinfo%22%3A%7B%22email%22%3Anull%7D%7D",
			oauth2Error: provider.ErrorInvalidRequest,
			redirects:   true,
		},
		{
			name:        "unsupported scope",
			query:       "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid+writer",
			oauth2Error: provider.ErrorInvalidScope,
			redirects:   true,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := f.provider.ParseAuthenticationRequest(context.Background(), test.query)
			require.Error(t, err)

			var invalid *provider.InvalidAuthenticationRequestError

			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, test.oauth2Error, invalid.OAuth2Error)

			location := f.provider.AuthenticationErrorRedirect(err)

			if !test.redirects {
				assert.Empty(t, location)

				return
			}

			require.NotEmpty(t, location)
			assert.Contains(t, location, string(test.oauth2Error))
		})
	}
}

// The scheme appropriate encoding applies to error redirects too, query for
// the pure code flow, fragment for everything else.
func TestErrorRedirectEncoding(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.provider.ParseAuthenticationRequest(context.Background(), "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid+writer")
	require.Error(t, err)

	location, err2 := url.Parse(f.provider.AuthenticationErrorRedirect(err))
	require.NoError(t, err2)
	require.Empty(t, location.Fragment)
	assert.Equal(t, "invalid_scope", location.Query().Get("error"))

	_, err = f.provider.ParseAuthenticationRequest(context.Background(), "response_type=id_token+token&client_id=spa&redirect_uri=https%3A%2F%2Fspa.example.com%2Fcb&scope=openid+writer")
	require.Error(t, err)

	location, err2 = url.Parse(f.provider.AuthenticationErrorRedirect(err))
	require.NoError(t, err2)
	require.Empty(t, location.RawQuery)

	fragment, err2 := url.ParseQuery(location.Fragment)
	require.NoError(t, err2)
	assert.Equal(t, "invalid_scope", fragment.Get("error"))
}

func TestAuthorizeCodeFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	request := f.parse(t, "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid&state=xyz")

	response, err := f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, response.Code)
	assert.Equal(t, "xyz", response.State)
	assert.Empty(t, response.AccessToken)
	assert.Empty(t, response.IDToken)

	location, err := url.Parse(response.RedirectURL(request.RedirectURI, request.ResponseTypes.FragmentEncoded()))
	require.NoError(t, err)

	assert.Empty(t, location.Fragment)
	assert.Equal(t, response.Code, location.Query().Get("code"))
	assert.Equal(t, "xyz", location.Query().Get("state"))
}

func TestAuthorizeImplicitIDToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	request := f.parse(t, "response_type=id_token&client_id=spa&redirect_uri=https%3A%2F%2Fspa.example.com%2Fcb&scope=openid+profile&nonce=n-0S6_WzA2Mj")

	response, err := f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)

	assert.Empty(t, response.Code)
	assert.Empty(t, response.AccessToken)
	require.NotEmpty(t, response.IDToken)

	idToken, claims := f.verifyIDToken(t, "spa", response.IDToken)

	assert.Equal(t, "n-0S6_WzA2Mj", idToken.Nonce)

	// No userinfo endpoint is reachable without an access token, so the
	// scope selected claims ride in the ID Token.
	assert.Equal(t, "Jane Doe", claims["name"])
	assert.Equal(t, "Jane", claims["given_name"])
	assert.Equal(t, "Doe", claims["family_name"])

	assert.NotContains(t, claims, "at_hash")
	assert.NotContains(t, claims, "c_hash")
	assert.NotContains(t, claims, "email")
}

func TestAuthorizeHybrid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	request := f.parse(t, "response_type=code+id_token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid+profile")

	response, err := f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)

	require.NotEmpty(t, response.Code)
	require.NotEmpty(t, response.IDToken)
	assert.Empty(t, response.AccessToken)

	_, claims := f.verifyIDToken(t, "c1", response.IDToken)

	expected, err := jose.LeftHash("RS256", response.Code)
	require.NoError(t, err)

	assert.Equal(t, expected, claims["c_hash"])
	assert.NotContains(t, claims, "at_hash")

	// A hybrid flow hands out an access token eventually, so scope claims
	// stay out of the ID Token.
	assert.NotContains(t, claims, "name")
}

func TestAuthorizeHybridWithToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	request := f.parse(t, "response_type=code+id_token+token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid")

	response, err := f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)

	require.NotEmpty(t, response.Code)
	require.NotEmpty(t, response.AccessToken)
	assert.Equal(t, "Bearer", response.TokenType)
	assert.Equal(t, 3600, response.ExpiresIn)
	require.NotEmpty(t, response.IDToken)

	idToken, claims := f.verifyIDToken(t, "c1", response.IDToken)

	require.NoError(t, idToken.VerifyAccessToken(response.AccessToken))

	expected, err := jose.LeftHash("RS256", response.Code)
	require.NoError(t, err)

	assert.Equal(t, expected, claims["c_hash"])
}

func TestAuthorizeIDTokenProperties(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	request := f.parse(t, "response_type=id_token&client_id=spa&redirect_uri=https%3A%2F%2Fspa.example.com%2Fcb&scope=openid")

	response, err := f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)

	idToken, claims := f.verifyIDToken(t, "spa", response.IDToken)

	assert.Equal(t, testIssuer, idToken.Issuer)
	assert.Equal(t, []string{"spa"}, idToken.Audience)
	assert.Equal(t, int64(3600), int64(idToken.Expiry.Sub(idToken.IssuedAt).Seconds()))

	// No nonce in the request, none in the token.
	assert.NotContains(t, claims, "nonce")
}

func TestAuthorizeExtraClaims(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	request := f.parse(t, "response_type=id_token&client_id=spa&redirect_uri=https%3A%2F%2Fspa.example.com%2Fcb&scope=openid+profile")

	extra := provider.ClaimsProviderFunc(func(userID, clientID string) (map[string]any, error) {
		return map[string]any{
			"tenant": userID + "@" + clientID,
			// Extra claims win over user claims.
			"name": "override",
		}, nil
	})

	response, err := f.provider.Authorize(ctx, request, testUser, extra)
	require.NoError(t, err)

	_, claims := f.verifyIDToken(t, "spa", response.IDToken)

	assert.Equal(t, testUser+"@spa", claims["tenant"])
	assert.Equal(t, "override", claims["name"])
}

func TestAuthorizeSubjectMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	claims := url.QueryEscape(`{"id_token":{"sub":{"value":"X"}}}`)

	request := f.parse(t, "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid&claims="+claims)

	_, err := f.provider.Authorize(ctx, request, testUser, nil)

	var authzErr *provider.AuthorizationError

	require.ErrorAs(t, err, &authzErr)
}

func TestAuthorizeSubjectClaimConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	claims := url.QueryEscape(`{"id_token":{"sub":{"value":"X"}},"userinfo":{"sub":{"value":"Y"}}}`)

	request := f.parse(t, "response_type=code+id_token+token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid&claims="+claims)

	_, err := f.provider.Authorize(ctx, request, testUser, nil)

	var authzErr *provider.AuthorizationError

	require.ErrorAs(t, err, &authzErr)
}

func TestPairwiseSubjectsAcrossClients(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	subjectFor := func(clientID, query string) string {
		request := f.parse(t, query)

		response, err := f.provider.Authorize(ctx, request, testUser, nil)
		require.NoError(t, err)

		idToken, _ := f.verifyIDToken(t, clientID, response.IDToken)

		return idToken.Subject
	}

	first := subjectFor("c1", "response_type=code+id_token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid")
	again := subjectFor("c1", "response_type=code+id_token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid")
	other := subjectFor("spa", "response_type=id_token&client_id=spa&redirect_uri=https%3A%2F%2Fspa.example.com%2Fcb&scope=openid")

	// Stable per sector, opaque across sectors.
	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
}

func TestAuthorizeRequestedSubjectMatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Learn the derived subject, then ask for it explicitly.
	request := f.parse(t, "response_type=code+id_token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid")

	response, err := f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)

	idToken, _ := f.verifyIDToken(t, "c1", response.IDToken)

	claims := url.QueryEscape(`{"id_token":{"sub":{"value":"` + idToken.Subject + `"}}}`)

	request = f.parse(t, "response_type=code+id_token&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid&claims="+claims)

	_, err = f.provider.Authorize(ctx, request, testUser, nil)
	require.NoError(t, err)
}
