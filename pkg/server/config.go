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

package server

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eschercloudai/oidc/pkg/oidc"
)

// Config is the file based deployment configuration, the provider metadata
// to publish, the registered clients, and for development deployments a
// set of users with their claims.
type Config struct {
	// Provider is the raw provider configuration, see OIDC Discovery
	// section 3, the issuer is required.
	Provider map[string]any `yaml:"provider"`

	// Clients maps client_id to registered metadata.
	Clients map[string]*oidc.ClientMetadata `yaml:"clients"`

	// Users maps a local user id to the user's claims.
	Users map[string]map[string]any `yaml:"users"`
}

// LoadConfig reads and decodes the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}
