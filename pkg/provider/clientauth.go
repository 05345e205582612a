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
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

// basicCredentials unpacks an HTTP Basic Authorization header value into
// client_id and client_secret.
func basicCredentials(authorization string) (string, string, error) {
	scheme, encoded, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", &ClientAuthenticationError{
			Description: "authorization scheme must be Basic",
		}
	}

	tuple, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", &ClientAuthenticationError{
			Description: "basic authorization not base64 encoded",
		}
	}

	clientID, clientSecret, ok := strings.Cut(string(tuple), ":")
	if !ok {
		return "", "", &ClientAuthenticationError{
			Description: "basic authorization malformed",
		}
	}

	return clientID, clientSecret, nil
}

// verifyClientAuthentication checks exactly one credential form was
// supplied, that it matches the method the client registered, and that the
// secret is correct.  It returns the authenticated client id.
func (p *Provider) verifyClientAuthentication(form url.Values, authorization string) (string, error) {
	hasBasic := authorization != ""
	hasPost := form.Has("client_secret")

	if hasBasic && hasPost {
		return "", &ClientAuthenticationError{
			Description: "multiple client authentication methods used",
		}
	}

	clientID := form.Get("client_id")
	clientSecret := form.Get("client_secret")

	if hasBasic {
		var err error

		if clientID, clientSecret, err = basicCredentials(authorization); err != nil {
			return "", err
		}

		// A client_id in the body must agree with the credential.
		if form.Get("client_id") != "" && form.Get("client_id") != clientID {
			return "", &ClientAuthenticationError{
				Description: "client_id mismatch between body and credential",
			}
		}
	}

	if clientID == "" {
		return "", &ClientAuthenticationError{
			Description: "client_id must be specified",
		}
	}

	client, ok := p.clients.Lookup(clientID)
	if !ok {
		return "", &ClientAuthenticationError{
			Description: "unknown client_id",
		}
	}

	switch method := client.AuthMethodOrDefault(); method {
	case oidc.AuthMethodNone:
		if hasBasic || hasPost {
			return "", &ClientAuthenticationError{
				Description: "client is registered as a public client",
			}
		}

		return clientID, nil
	case oidc.AuthMethodBasic:
		if !hasBasic {
			return "", &ClientAuthenticationError{
				Description: "client must authenticate with client_secret_basic",
			}
		}
	case oidc.AuthMethodPost:
		if !hasPost {
			return "", &ClientAuthenticationError{
				Description: "client must authenticate with client_secret_post",
			}
		}
	default:
		return "", &ClientAuthenticationError{
			Description: "unsupported client authentication method '" + string(method) + "'",
		}
	}

	if subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.ClientSecret)) != 1 {
		return "", &ClientAuthenticationError{
			Description: "client authentication failed",
		}
	}

	return clientID, nil
}
