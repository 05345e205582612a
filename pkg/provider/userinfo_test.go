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
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/oidc/pkg/provider"
)

// bearerHeader builds an Authorization header carrying the access token.
func bearerHeader(token string) http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	return headers
}

func TestUserinfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	response := refreshFixture(t, f, "openid email")

	userinfoResponse, err := f.provider.HandleUserinfoRequest(ctx, "", bearerHeader(response.AccessToken))
	require.NoError(t, err)

	// The sub returned by userinfo matches the one in the ID Token.
	idToken, _ := f.verifyIDToken(t, "c1", response.IDToken)

	assert.Equal(t, idToken.Subject, userinfoResponse["sub"])

	// Scope selected claims are projected.
	assert.Equal(t, "jane@example.com", userinfoResponse["email"])
	assert.Equal(t, true, userinfoResponse["email_verified"])
	assert.NotContains(t, userinfoResponse, "name")
}

func TestUserinfoClaimsParameterUnion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	claims := url.QueryEscape(`{"userinfo":{"nickname":null}}`)

	_, code := obtainCode(t, f, "response_type=code&client_id=c1&redirect_uri=https%3A%2F%2Frp.example.com%2Fcb&scope=openid+email&claims="+claims)

	body := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://rp.example.com/cb"},
		"client_id":    {"c1"},
	}

	response, err := f.provider.HandleTokenRequest(ctx, body.Encode(), basicAuth("c1", "s3cr3t"), nil)
	require.NoError(t, err)

	userinfoResponse, err := f.provider.HandleUserinfoRequest(ctx, "", bearerHeader(response.AccessToken))
	require.NoError(t, err)

	// Scope derived claims unioned with the claims request parameter.
	assert.Equal(t, "jane@example.com", userinfoResponse["email"])
	assert.Equal(t, "jd", userinfoResponse["nickname"])
}

func TestUserinfoTokenInForm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	response := refreshFixture(t, f, "openid")

	body := url.Values{
		"access_token": {response.AccessToken},
	}

	userinfoResponse, err := f.provider.HandleUserinfoRequest(ctx, body.Encode(), http.Header{})
	require.NoError(t, err)

	assert.NotEmpty(t, userinfoResponse["sub"])
}

func TestUserinfoBearerErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	response := refreshFixture(t, f, "openid")

	var bearerErr *provider.BearerTokenError

	// No token at all.
	_, err := f.provider.HandleUserinfoRequest(ctx, "", http.Header{})
	require.ErrorAs(t, err, &bearerErr)

	// Token presented twice.
	body := url.Values{
		"access_token": {response.AccessToken},
	}

	_, err = f.provider.HandleUserinfoRequest(ctx, body.Encode(), bearerHeader(response.AccessToken))
	require.ErrorAs(t, err, &bearerErr)

	// Wrong scheme.
	headers := http.Header{}
	headers.Set("Authorization", "Basic dXNlcjpwYXNz")

	_, err = f.provider.HandleUserinfoRequest(ctx, "", headers)
	require.ErrorAs(t, err, &bearerErr)
}

func TestUserinfoInactiveToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var userinfoErr *provider.InvalidUserinfoRequestError

	_, err := f.provider.HandleUserinfoRequest(ctx, "", bearerHeader("not-a-token"))
	require.ErrorAs(t, err, &userinfoErr)
}
