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

package middleware

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/eschercloudai/oidc/pkg/constants"
)

// loggingResponseWriter is the ubiquitous reimplementation of a response
// writer that allows access to the HTTP status code in middleware.
type loggingResponseWriter struct {
	next http.ResponseWriter
	code int
}

// Check the correct interface is implmented.
var _ http.ResponseWriter = &loggingResponseWriter{}

func (w *loggingResponseWriter) Header() http.Header {
	return w.next.Header()
}

func (w *loggingResponseWriter) Write(body []byte) (int, error) {
	return w.next.Write(body)
}

func (w *loggingResponseWriter) WriteHeader(statusCode int) {
	w.code = statusCode
	w.next.WriteHeader(statusCode)
}

func (w *loggingResponseWriter) StatusCode() int {
	if w.code == 0 {
		return http.StatusOK
	}

	return w.code
}

// logValuesFromSpanContext gets a generic set of key/value pairs from a span for logging.
func logValuesFromSpanContext(s trace.SpanContext) []any {
	return []any{
		"span.id", s.SpanID().String(),
		"trace.id", s.TraceID().String(),
	}
}

// LoggingSpanProcessor is a OpenTelemetry span processor that logs to
// standard out in whatever format is defined by the logger.
type LoggingSpanProcessor struct {
	// Log is the sink spans are written to.
	Log logr.Logger
}

// Check the correct interface is implmented.
var _ sdktrace.SpanProcessor = &LoggingSpanProcessor{}

func (p *LoggingSpanProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	attributes := logValuesFromSpanContext(s.SpanContext())

	for _, attribute := range s.Attributes() {
		attributes = append(attributes, string(attribute.Key), attribute.Value.Emit())
	}

	p.Log.Info("request started", attributes...)
}

func (p *LoggingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attributes := logValuesFromSpanContext(s.SpanContext())

	for _, attribute := range s.Attributes() {
		attributes = append(attributes, string(attribute.Key), attribute.Value.Emit())
	}

	p.Log.Info("request completed", attributes...)
}

func (*LoggingSpanProcessor) Shutdown(_ context.Context) error {
	return nil
}

func (*LoggingSpanProcessor) ForceFlush(_ context.Context) error {
	return nil
}

// Logger attaches logging and tracing context to the request.
func Logger(log logr.Logger) func(http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()

	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract the tracing information from the HTTP headers.
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			// Extract information from the HTTP request for logging purposes.
			var attributes []attribute.KeyValue

			attributes = append(attributes, semconv.NetAttributesFromHTTPRequest("tcp", r)...)
			attributes = append(attributes, semconv.HTTPServerAttributesFromHTTPRequest(constants.Application, r.URL.Path, r)...)

			ctx, span := tracer.Start(ctx, r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(attributes...)

			// Setup logging.
			ctx = logr.NewContext(ctx, log.WithValues(logValuesFromSpanContext(span.SpanContext())...))

			writer := &loggingResponseWriter{
				next: w,
			}

			next.ServeHTTP(writer, r.WithContext(ctx))

			// Extract HTTP response information for logging purposes.
			span.SetAttributes(semconv.HTTPAttributesFromHTTPStatusCode(writer.StatusCode())...)
			span.SetStatus(semconv.SpanStatusFromHTTPStatusCodeAndSpanKind(writer.StatusCode(), trace.SpanKindServer))
		})
	}
}
