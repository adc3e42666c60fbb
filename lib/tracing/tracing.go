// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracing wires the process-wide OpenTelemetry provider.
//
// Configuration is environment-driven, matching the OTel convention:
//
//	OTEL_ENABLED                 "true" turns the exporter on
//	OTEL_SERVICE_NAME            service name (default mcp-security-gateway)
//	OTEL_EXPORTER_OTLP_ENDPOINT  OTLP/HTTP endpoint (default http://localhost:4318)
//
// With OTEL_ENABLED unset the orchestrator's spans go to the no-op
// provider and cost nothing.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fcchi/mcp-security-gateway/lib/version"
)

// Setup installs the global tracer provider per the environment.
// The returned shutdown function flushes pending spans; call it on
// exit. When tracing is disabled both the setup and the shutdown are
// no-ops.
func Setup(ctx context.Context, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if os.Getenv("OTEL_ENABLED") != "true" {
		return func(context.Context) error { return nil }, nil
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "mcp-security-gateway"
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("building OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Info()),
		)),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled", "service", serviceName, "endpoint", endpoint)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return provider.Shutdown(ctx)
	}, nil
}
