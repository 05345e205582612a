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

// scopeClaims maps the standard scope values onto the claim names they
// request, see OIDC Core section 5.4.
//
//nolint:gochecknoglobals
var scopeClaims = map[string][]string{
	"profile": {
		"name", "family_name", "given_name", "middle_name", "nickname",
		"preferred_username", "profile", "picture", "website", "gender",
		"birthdate", "zoneinfo", "locale", "updated_at",
	},
	"email": {
		"email", "email_verified",
	},
	"address": {
		"address",
	},
	"phone": {
		"phone_number", "phone_number_verified",
	},
}

// ScopeToClaims expands scope values into the claim set they request.
// Unknown scopes expand to nothing.
func ScopeToClaims(scope Scope) ClaimRequests {
	requested := ClaimRequests{}

	for _, value := range scope {
		for _, claim := range scopeClaims[value] {
			requested[claim] = nil
		}
	}

	return requested
}
