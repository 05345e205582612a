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

package authzstate

import (
	"time"

	"github.com/spf13/pflag"
)

// Options sizes and ages the in-memory grant caches.
type Options struct {
	// CodeLifetime is how long an authorization code may sit unexchanged.
	CodeLifetime time.Duration

	// AccessTokenLifetime is the lifetime of issued access tokens.
	AccessTokenLifetime time.Duration

	// RefreshTokenLifetime is the lifetime of issued refresh tokens.
	RefreshTokenLifetime time.Duration

	// MaxGrants caps each grant cache, least recently used entries are
	// evicted first once hit.
	MaxGrants int

	// PairwiseSalt keys pairwise subject derivation.  Leave empty for a
	// random per-instance salt, set it when identifiers must be stable
	// across restarts or replicas.
	PairwiseSalt []byte
}

// AddFlags registers flags with the provided flag set.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.DurationVar(&o.CodeLifetime, "authz-code-lifetime", 10*time.Minute, "How long an authorization code remains exchangeable.")
	f.DurationVar(&o.AccessTokenLifetime, "authz-access-token-lifetime", time.Hour, "Lifetime of issued access tokens.")
	f.DurationVar(&o.RefreshTokenLifetime, "authz-refresh-token-lifetime", 14*24*time.Hour, "Lifetime of issued refresh tokens.")
	f.IntVar(&o.MaxGrants, "authz-max-grants", 16384, "Upper bound on live grants of each kind.")
}

func (o *Options) defaults() {
	if o.CodeLifetime == 0 {
		o.CodeLifetime = 10 * time.Minute
	}

	if o.AccessTokenLifetime == 0 {
		o.AccessTokenLifetime = time.Hour
	}

	if o.RefreshTokenLifetime == 0 {
		o.RefreshTokenLifetime = 14 * 24 * time.Hour
	}

	if o.MaxGrants == 0 {
		o.MaxGrants = 16384
	}
}
