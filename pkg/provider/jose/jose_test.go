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

package jose_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/oidc/pkg/provider/jose"
)

func newRSASigner(t *testing.T) (*jose.Signer, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(key)
	require.NoError(t, err)

	return signer, key
}

func TestSignRoundTrip(t *testing.T) {
	t.Parallel()

	signer, key := newRSASigner(t)

	assert.Equal(t, "RS256", signer.DefaultAlgorithm())

	token, err := signer.Sign("RS256", map[string]any{"iss": "https://op.example.com", "sub": "alice"})
	require.NoError(t, err)

	parsed, err := jwt.ParseSigned(token)
	require.NoError(t, err)

	claims := map[string]any{}
	require.NoError(t, parsed.Claims(key.Public(), &claims))

	assert.Equal(t, "https://op.example.com", claims["iss"])
	assert.Equal(t, "alice", claims["sub"])
}

func TestSignAlgorithmMismatch(t *testing.T) {
	t.Parallel()

	signer, _ := newRSASigner(t)

	_, err := signer.Sign("ES256", map[string]any{})
	require.ErrorIs(t, err, jose.ErrAlgorithm)
}

func TestJWKS(t *testing.T) {
	t.Parallel()

	signer, _ := newRSASigner(t)

	jwks := signer.JWKS()
	require.Len(t, jwks.Keys, 1)

	assert.Equal(t, signer.KeyID(), jwks.Keys[0].KeyID)
	assert.Equal(t, "sig", jwks.Keys[0].Use)
	assert.True(t, jwks.Keys[0].Valid())

	// Published key must verify what the signer produces.
	token, err := signer.Sign("RS256", map[string]any{"sub": "alice"})
	require.NoError(t, err)

	parsed, err := jwt.ParseSigned(token)
	require.NoError(t, err)

	claims := map[string]any{}
	require.NoError(t, parsed.Claims(jwks.Keys[0].Key, &claims))
}

func TestLeftHash(t *testing.T) {
	t.Parallel()

	value := "SplxlOBeZQQYbYS6WxSbIA"

	hash, err := jose.LeftHash("RS256", value)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte(value))
	expected := base64.RawURLEncoding.EncodeToString(digest[:16])

	assert.Equal(t, expected, hash)

	hash384, err := jose.LeftHash("ES384", value)
	require.NoError(t, err)
	assert.Len(t, hash384, base64.RawURLEncoding.EncodedLen(24))

	hash512, err := jose.LeftHash("PS512", value)
	require.NoError(t, err)
	assert.Len(t, hash512, base64.RawURLEncoding.EncodedLen(32))

	_, err = jose.LeftHash("none", value)
	require.ErrorIs(t, err, jose.ErrAlgorithm)
}
