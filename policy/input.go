// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Input is the structured document a decision is made against. The
// command, file, and network sub-sections are pointers: the engine
// classifies the request by which section is present, so absent and
// empty are different things.
type Input struct {
	Command *CommandInput `json:"command,omitempty" cbor:"command,omitempty"`
	File    *FileInput    `json:"file,omitempty" cbor:"file,omitempty"`
	Network *NetworkInput `json:"network,omitempty" cbor:"network,omitempty"`
	User    UserInput     `json:"user" cbor:"user"`
}

// CommandInput describes a command invocation.
type CommandInput struct {
	Name string            `json:"name" cbor:"name"`
	Args []string          `json:"args,omitempty" cbor:"args,omitempty"`
	Cwd  string            `json:"cwd,omitempty" cbor:"cwd,omitempty"`
	Env  map[string]string `json:"env,omitempty" cbor:"env,omitempty"`
}

// FileInput describes a file access. Mode is "read", "write", or
// "execute".
type FileInput struct {
	Path string `json:"path" cbor:"path"`
	Mode string `json:"mode" cbor:"mode"`
}

// NetworkInput describes an outbound network request.
type NetworkInput struct {
	Host     string `json:"host" cbor:"host"`
	Port     int    `json:"port" cbor:"port"`
	Protocol string `json:"protocol" cbor:"protocol"`
}

// UserInput carries the caller identity forwarded by the submission
// layer. Roles are opaque strings; the only one the default rules
// interpret is "admin".
type UserInput struct {
	ID    string   `json:"id,omitempty" cbor:"id,omitempty"`
	Roles []string `json:"roles,omitempty" cbor:"roles,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u UserInput) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Decision is the outcome of an evaluation. DenyReasons and Warnings
// preserve rule evaluation order.
type Decision struct {
	Allow       bool     `json:"allow" cbor:"allow"`
	DenyReasons []string `json:"deny_reasons,omitempty" cbor:"deny_reasons,omitempty"`
	Warnings    []string `json:"warnings,omitempty" cbor:"warnings,omitempty"`
}

// deny builds a denying decision from one or more reasons.
func deny(reasons ...string) Decision {
	return Decision{Allow: false, DenyReasons: reasons}
}

// allow builds an allowing decision with optional warnings.
func allow(warnings ...string) Decision {
	return Decision{Allow: true, Warnings: warnings}
}
