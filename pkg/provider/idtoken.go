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
	"time"

	"github.com/go-logr/logr"

	"github.com/eschercloudai/oidc/pkg/provider/jose"
)

// idTokenSigningAlg picks the JWS algorithm for a client, falling back to
// the first supported value from the provider configuration.
func (p *Provider) idTokenSigningAlg(clientID string) string {
	if client, ok := p.clients.Lookup(clientID); ok && client.IDTokenSignedResponseAlg != "" {
		return client.IDTokenSignedResponseAlg
	}

	return p.configuration.IDTokenSigningAlgValuesSupported()[0]
}

// createSignedIDToken assembles and signs an ID Token.  The authorization
// code and access token issued alongside, when present, are bound in via
// c_hash and at_hash.  The payload is an open claim map, user claims are
// merged first and extra claims win on conflict.
func (p *Provider) createSignedIDToken(ctx context.Context, clientID, sub, userID string, userClaims map[string]any, nonce, authorizationCode, accessTokenValue string, extra ExtraClaims) (string, error) {
	alg := p.idTokenSigningAlg(clientID)

	now := time.Now().Unix()

	claims := map[string]any{
		"iss": p.configuration.Issuer(),
		"sub": sub,
		"aud": clientID,
		"iat": now,
		"exp": now + int64(p.idTokenLifetime.Seconds()),
	}

	if authorizationCode != "" {
		hash, err := jose.LeftHash(alg, authorizationCode)
		if err != nil {
			return "", err
		}

		claims["c_hash"] = hash
	}

	if accessTokenValue != "" {
		hash, err := jose.LeftHash(alg, accessTokenValue)
		if err != nil {
			return "", err
		}

		claims["at_hash"] = hash
	}

	for name, value := range userClaims {
		claims[name] = value
	}

	if extra != nil {
		extraClaims, err := extra.ClaimsFor(userID, clientID)
		if err != nil {
			return "", err
		}

		for name, value := range extraClaims {
			claims[name] = value
		}
	}

	if nonce != "" {
		claims["nonce"] = nonce
	}

	logr.FromContextOrDiscard(ctx).V(1).Info("signing id_token", "kid", p.signer.KeyID(), "alg", alg)

	return p.signer.Sign(alg, claims)
}
