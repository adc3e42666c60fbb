// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
)

// Reserved metadata keys carrying the caller identity established by
// the upstream authenticator. The core interprets no other metadata.
const (
	metadataCallerUser  = "caller.user"
	metadataCallerRoles = "caller.roles"
)

// buildPolicyInput translates a task spec into the policy engine's
// input document. Exactly one sub-section is populated, matching the
// spec's kind, which is what the engine's dispatcher classifies on.
func buildPolicyInput(spec registry.Spec) policy.Input {
	input := policy.Input{User: callerIdentity(spec.Metadata)}

	switch spec.Kind {
	case registry.KindCommand:
		if cmd := spec.Command; cmd != nil {
			input.Command = &policy.CommandInput{
				Name: cmd.Program,
				Args: cmd.Args,
				Cwd:  cmd.WorkingDir,
				Env:  cmd.Env,
			}
		}
	case registry.KindFile:
		if file := spec.File; file != nil {
			input.File = &policy.FileInput{
				Path: file.Path,
				Mode: policyFileMode(file.Mode),
			}
		}
	case registry.KindNetwork:
		if net := spec.Network; net != nil {
			input.Network = networkPolicyInput(net)
		}
	}
	return input
}

// callerIdentity reads the reserved metadata keys. Roles are a
// comma-separated list; whitespace around entries is tolerated.
func callerIdentity(metadata map[string]string) policy.UserInput {
	user := policy.UserInput{ID: metadata[metadataCallerUser]}
	if raw := metadata[metadataCallerRoles]; raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				user.Roles = append(user.Roles, role)
			}
		}
	}
	return user
}

// policyFileMode maps the task-level file mode onto the policy
// engine's modes. Deletion is destruction of content, so it is held
// to the write rules.
func policyFileMode(mode registry.FileMode) string {
	if mode == registry.FileDelete {
		return "write"
	}
	return string(mode)
}

// networkPolicyInput decomposes the request URL into the host, port,
// and protocol dimensions the network rules check. An unparseable
// URL yields a nil sub-section, which the dispatcher denies as an
// unknown task type — but validation rejects those before submission
// anyway.
func networkPolicyInput(spec *registry.NetworkSpec) *policy.NetworkInput {
	u, err := url.Parse(spec.URL)
	if err != nil || u.Host == "" {
		return nil
	}

	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	} else {
		switch u.Scheme {
		case "https":
			port = 443
		case "http":
			port = 80
		}
	}

	// Scheme-to-protocol: TLS schemes keep their name, plaintext
	// HTTP rides bare TCP.
	protocol := u.Scheme
	if protocol == "http" {
		protocol = "tcp"
	}

	return &policy.NetworkInput{
		Host:     u.Hostname(),
		Port:     port,
		Protocol: protocol,
	}
}
