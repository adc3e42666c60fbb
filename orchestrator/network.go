// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/fcchi/mcp-security-gateway/registry"
)

// HTTPNetworkRunner executes network-request tasks with a plain HTTP
// client. It is the built-in network-proxy collaborator; deployments
// wanting egress through a real proxy implement NetworkRunner
// themselves.
type HTTPNetworkRunner struct {
	// Client defaults to one with a 30s timeout and no redirect
	// following — a redirect could escape the policy-checked host.
	Client *http.Client

	// MaxBodyBytes bounds the captured response body. Default 1 MiB.
	MaxBodyBytes int64
}

// NewHTTPNetworkRunner returns a runner with the default client.
func NewHTTPNetworkRunner() *HTTPNetworkRunner {
	return &HTTPNetworkRunner{
		Client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		MaxBodyBytes: 1 << 20,
	}
}

// Do implements NetworkRunner.
func (r *HTTPNetworkRunner) Do(ctx context.Context, spec *registry.NetworkSpec) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return 0, nil, err
	}
	for name, value := range spec.Headers {
		req.Header.Set(name, value)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := r.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, body, err
	}
	return resp.StatusCode, body, nil
}
