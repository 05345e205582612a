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

	"golang.org/x/exp/maps"
)

var (
	// ErrConfiguration is raised when provider configuration is unusable.
	ErrConfiguration = errors.New("invalid provider configuration")
)

// ProviderConfiguration is the provider metadata published by the discovery
// document, see OIDC Discovery section 3.  Beyond the fields the protocol
// engine consults it is an open map, so deployments can publish whatever
// additional metadata they like.
type ProviderConfiguration map[string]any

// NewProviderConfiguration validates the issuer is present and fills in
// defaulted fields.  The returned map is owned by the provider and never
// mutated afterwards.
func NewProviderConfiguration(configuration map[string]any) (ProviderConfiguration, error) {
	if configuration == nil {
		return nil, ErrConfiguration
	}

	config := ProviderConfiguration(maps.Clone(configuration))

	if config.Issuer() == "" {
		return nil, errors.Join(ErrConfiguration, errors.New("issuer is required"))
	}

	if len(config.stringSlice("subject_types_supported")) == 0 {
		config["subject_types_supported"] = []string{string(SubjectTypePairwise)}
	}

	if len(config.stringSlice("id_token_signing_alg_values_supported")) == 0 {
		config["id_token_signing_alg_values_supported"] = []string{"RS256"}
	}

	if len(config.stringSlice("scopes_supported")) == 0 {
		config["scopes_supported"] = []string{"openid"}
	}

	return config, nil
}

// Issuer returns the issuer URL.
func (c ProviderConfiguration) Issuer() string {
	issuer, ok := c["issuer"].(string)
	if !ok {
		return ""
	}

	return issuer
}

// ScopesSupported returns the supported scope values.
func (c ProviderConfiguration) ScopesSupported() Scope {
	return Scope(c.stringSlice("scopes_supported"))
}

// SubjectTypesSupported returns the supported subject identifier types.
func (c ProviderConfiguration) SubjectTypesSupported() []string {
	return c.stringSlice("subject_types_supported")
}

// IDTokenSigningAlgValuesSupported returns the supported ID Token JWS
// algorithms.
func (c ProviderConfiguration) IDTokenSigningAlgValuesSupported() []string {
	return c.stringSlice("id_token_signing_alg_values_supported")
}

// Snapshot returns a copy of the configuration, e.g. to add endpoint URLs to
// a discovery document.  The map and its top level list values are copied,
// so keys and list entries may be changed without affecting the provider;
// nested maps and the elements of lists are shared with the configuration.
func (c ProviderConfiguration) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(c))

	for key, value := range c {
		if slice, ok := value.([]string); ok {
			snapshot[key] = append([]string(nil), slice...)
			continue
		}

		if slice, ok := value.([]any); ok {
			snapshot[key] = append([]any(nil), slice...)
			continue
		}

		snapshot[key] = value
	}

	return snapshot
}

// stringSlice coerces configuration values that may arrive as []string or
// as []any from JSON/YAML decoding.
func (c ProviderConfiguration) stringSlice(key string) []string {
	switch value := c[key].(type) {
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))

		for _, v := range value {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
