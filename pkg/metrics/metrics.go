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

// Package metrics exposes issuance and failure counters.  Values are only
// ever labelled with protocol constants, never client supplied data, so
// cardinality stays bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals
var (
	// AuthenticationRequests counts parsed authentication requests by
	// outcome, one of "ok", "invalid" or "denied".
	AuthenticationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_authentication_requests_total",
		Help: "Authentication requests processed, by outcome.",
	}, []string{"outcome"})

	// GrantsIssued counts issued grants by kind, one of "code",
	// "access_token", "refresh_token" or "id_token".
	GrantsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_grants_issued_total",
		Help: "Grants issued, by kind.",
	}, []string{"kind"})

	// TokenRequests counts token endpoint calls by grant type and
	// outcome.
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_token_requests_total",
		Help: "Token endpoint requests, by grant type and outcome.",
	}, []string{"grant_type", "outcome"})

	// UserinfoRequests counts userinfo endpoint calls by outcome.
	UserinfoRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_userinfo_requests_total",
		Help: "Userinfo endpoint requests, by outcome.",
	}, []string{"outcome"})
)

const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeDenied  = "denied"
)
