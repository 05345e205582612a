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

// Package userinfo holds the user claim source.  The static implementation
// projects requested claim names out of a fixed per-user map, which is all
// the protocol engine needs; production deployments put a directory or
// database behind the same interface.
package userinfo

import (
	"context"
	"errors"

	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider"
)

var (
	// ErrUnknownUser is raised when claims are requested for a user the
	// source has never heard of.
	ErrUnknownUser = errors.New("unknown user")
)

// Static maps a local user id to that user's full claim set.
type Static map[string]map[string]any

var _ provider.UserinfoSource = Static{}

// GetClaimsFor implements provider.UserinfoSource.  Only requested claim
// names the user actually has values for are returned.
func (s Static) GetClaimsFor(_ context.Context, userID string, requested oidc.ClaimRequests) (map[string]any, error) {
	user, ok := s[userID]
	if !ok {
		return nil, ErrUnknownUser
	}

	claims := map[string]any{}

	for name := range requested {
		if value, ok := user[name]; ok {
			claims[name] = value
		}
	}

	return claims, nil
}
