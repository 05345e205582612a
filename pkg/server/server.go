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
	"context"
	"errors"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/trace"
	"k8s.io/klog/v2"

	"github.com/eschercloudai/oidc/pkg/authzstate"
	"github.com/eschercloudai/oidc/pkg/oidc"
	"github.com/eschercloudai/oidc/pkg/provider"
	"github.com/eschercloudai/oidc/pkg/provider/jose"
	"github.com/eschercloudai/oidc/pkg/server/handler"
	"github.com/eschercloudai/oidc/pkg/server/middleware"
	"github.com/eschercloudai/oidc/pkg/userinfo"
)

var (
	// ErrNoAuthenticator is raised when the deployment neither supplies
	// an authenticator nor opts into the static development user.
	ErrNoAuthenticator = errors.New("no end user authenticator configured")
)

// Server wires the protocol engine up to an HTTP listener.
type Server struct {
	// Options are server specific options e.g. listener address etc.
	Options Options

	// JoseOptions sets options for ID Token signing.
	JoseOptions jose.Options

	// AuthzStateOptions sets options for in-memory grant storage.
	AuthzStateOptions authzstate.Options

	// Authenticator supplies the authenticated end user.  When nil the
	// static development user from the options is used.
	Authenticator handler.Authenticator

	// ExtraIDTokenClaims supplies deployment specific ID Token claims.
	ExtraIDTokenClaims provider.ExtraClaims

	log logr.Logger
}

// AddFlags registers all option flags.
func (s *Server) AddFlags(f *pflag.FlagSet) {
	s.Options.AddFlags(f)
	s.JoseOptions.AddFlags(f)
	s.AuthzStateOptions.AddFlags(f)
}

// SetupLogging installs a klog backed logger.
func (s *Server) SetupLogging() {
	s.log = klog.Background()
}

// SetupOpenTelemetry adds a span processor that will print root spans to
// the logs by default, and optionally ship the spans to an OTLP listener.
func (s *Server) SetupOpenTelemetry(ctx context.Context) error {
	otel.SetLogger(s.log)

	opts := []trace.TracerProviderOption{
		trace.WithSpanProcessor(&middleware.LoggingSpanProcessor{Log: s.log}),
	}

	if s.Options.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(s.Options.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)

		if err != nil {
			return err
		}

		opts = append(opts, trace.WithBatcher(exporter))
	}

	otel.SetTracerProvider(trace.NewTracerProvider(opts...))

	return nil
}

// newProvider assembles the protocol engine from the configuration file.
func (s *Server) newProvider() (*provider.Provider, error) {
	config, err := LoadConfig(s.Options.ConfigFile)
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSignerFromOptions(&s.JoseOptions)
	if err != nil {
		return nil, err
	}

	clients, err := oidc.NewStaticClientRegistry(config.Clients)
	if err != nil {
		return nil, err
	}

	state, err := authzstate.New(s.AuthzStateOptions)
	if err != nil {
		return nil, err
	}

	return provider.New(signer, config.Provider, state, clients, userinfo.Static(config.Users))
}

// GetServer returns a configured HTTP server.
func (s *Server) GetServer() (*http.Server, error) {
	p, err := s.newProvider()
	if err != nil {
		return nil, err
	}

	authenticator := s.Authenticator

	if authenticator == nil {
		if s.Options.StaticUserID == "" {
			return nil, ErrNoAuthenticator
		}

		authenticator = &handler.StaticAuthenticator{UserID: s.Options.StaticUserID}
	}

	handlers, err := handler.New(p, authenticator, s.ExtraIDTokenClaims)
	if err != nil {
		return nil, err
	}

	// Middleware specified here is applied to all requests pre-routing.
	router := chi.NewRouter()
	router.Use(middleware.Logger(s.log))

	if s.Options.RequestTimeout > 0 {
		router.Use(chimiddleware.Timeout(s.Options.RequestTimeout))
	}
	router.NotFound(handler.NotFound)
	router.MethodNotAllowed(handler.MethodNotAllowed)

	router.Get("/.well-known/openid-configuration", handlers.WellKnown)
	router.Get("/jwks.json", handlers.JWKS)
	router.Get("/authorization", handlers.Authorization)
	router.Post("/token", handlers.Token)
	router.Get("/userinfo", handlers.Userinfo)
	router.Post("/userinfo", handlers.Userinfo)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              s.Options.ListenAddress,
		ReadTimeout:       s.Options.ReadTimeout,
		ReadHeaderTimeout: s.Options.ReadHeaderTimeout,
		WriteTimeout:      s.Options.WriteTimeout,
		Handler:           router,
	}

	return server, nil
}
