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

package authzstate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/oidc/pkg/authzstate"
	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider"
)

func newState(t *testing.T) *authzstate.Memory {
	t.Helper()

	state, err := authzstate.New(authzstate.Options{})
	require.NoError(t, err)

	return state
}

func newRequest(scope string) *oidc.AuthenticationRequest {
	return &oidc.AuthenticationRequest{
		ClientID:      "c1",
		RedirectURI:   "https://rp.example.com/cb",
		ResponseTypes: oidc.NewResponseTypes("code"),
		Scope:         oidc.NewScope(scope),
	}
}

func TestPairwiseSubjectIdentifiers(t *testing.T) {
	t.Parallel()

	state := newState(t)
	ctx := context.Background()

	// Same user, same sector, stable.
	first, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user1", "rp.example.com")
	require.NoError(t, err)

	second, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user1", "rp.example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Same user, different sector, opaque.
	other, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user1", "other.example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first, other)

	// Different user, same sector.
	stranger, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user2", "rp.example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first, stranger)

	// All reverse back to their user.
	userID, err := state.GetUserIDForSubjectIdentifier(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "user1", userID)

	userID, err = state.GetUserIDForSubjectIdentifier(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "user1", userID)
}

func TestPublicSubjectIdentifiers(t *testing.T) {
	t.Parallel()

	state := newState(t)
	ctx := context.Background()

	first, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePublic, "user1", "rp.example.com")
	require.NoError(t, err)

	// Sector has no bearing on public identifiers.
	second, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePublic, "user1", "other.example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	stranger, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePublic, "user2", "rp.example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first, stranger)
}

func TestPairwiseStableAcrossInstancesWithSalt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	salt := []byte("0123456789abcdef0123456789abcdef")

	a, err := authzstate.New(authzstate.Options{PairwiseSalt: salt})
	require.NoError(t, err)

	b, err := authzstate.New(authzstate.Options{PairwiseSalt: salt})
	require.NoError(t, err)

	subA, err := a.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user1", "rp.example.com")
	require.NoError(t, err)

	subB, err := b.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user1", "rp.example.com")
	require.NoError(t, err)

	assert.Equal(t, subA, subB)
}

func TestCodeLifecycle(t *testing.T) {
	t.Parallel()

	state := newState(t)
	ctx := context.Background()

	request := newRequest("openid")

	sub, err := state.GetSubjectIdentifier(ctx, oidc.SubjectTypePairwise, "user1", "rp.example.com")
	require.NoError(t, err)

	code, err := state.CreateAuthorizationCode(ctx, request, sub)
	require.NoError(t, err)

	gotRequest, err := state.GetAuthorizationRequestForCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, request, gotRequest)

	gotSub, err := state.GetSubjectIdentifierForCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, sub, gotSub)

	token, err := state.ExchangeCodeForToken(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.Type)
	assert.Equal(t, request.Scope, token.Scope)

	// Consumed.
	_, err = state.ExchangeCodeForToken(ctx, code)
	require.ErrorIs(t, err, provider.ErrGrantUnknown)

	// The token introspects as active and links back to the request.
	introspection, err := state.IntrospectAccessToken(ctx, token.Value)
	require.NoError(t, err)
	assert.True(t, introspection.Active)
	assert.Equal(t, sub, introspection.Sub)
	assert.Equal(t, "c1", introspection.ClientID)
	assert.Equal(t, "openid", introspection.Scope)

	linked, err := state.GetAuthorizationRequestForAccessToken(ctx, token.Value)
	require.NoError(t, err)
	assert.Equal(t, request, linked)
}

func TestConcurrentCodeExchange(t *testing.T) {
	t.Parallel()

	state := newState(t)
	ctx := context.Background()

	code, err := state.CreateAuthorizationCode(ctx, newRequest("openid"), "sub")
	require.NoError(t, err)

	const workers = 16

	var wg sync.WaitGroup

	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := state.ExchangeCodeForToken(ctx, code)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var succeeded int

	for err := range results {
		if err == nil {
			succeeded++
		}
	}

	assert.Equal(t, 1, succeeded)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	t.Parallel()

	state := newState(t)
	ctx := context.Background()

	code, err := state.CreateAuthorizationCode(ctx, newRequest("openid profile"), "sub")
	require.NoError(t, err)

	token, err := state.ExchangeCodeForToken(ctx, code)
	require.NoError(t, err)

	refresh, err := state.CreateRefreshToken(ctx, token.Value)
	require.NoError(t, err)

	// Narrow on use.
	narrowed, rotated, err := state.UseRefreshToken(ctx, refresh, oidc.NewScope("openid"))
	require.NoError(t, err)
	assert.Equal(t, oidc.NewScope("openid"), narrowed.Scope)
	assert.NotEmpty(t, rotated)

	// The presented value is burned.
	_, _, err = state.UseRefreshToken(ctx, refresh, nil)
	require.ErrorIs(t, err, provider.ErrGrantUnknown)

	// Widening from the narrowed grant fails.
	_, _, err = state.UseRefreshToken(ctx, rotated, oidc.NewScope("openid profile"))
	require.ErrorIs(t, err, provider.ErrScopeWidening)

	// The rotated value still works within its scope.
	_, _, err = state.UseRefreshToken(ctx, rotated, nil)
	require.NoError(t, err)
}

func TestIntrospectUnknownToken(t *testing.T) {
	t.Parallel()

	state := newState(t)

	introspection, err := state.IntrospectAccessToken(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, introspection.Active)
}
