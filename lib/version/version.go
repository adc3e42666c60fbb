// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the gateway's build version.
package version

// Version is the semantic version of this build. Overridden at link
// time with -ldflags "-X .../lib/version.Version=v1.2.3".
var Version = "v0.3.0-dev"

// Info returns the version string reported by the health endpoint and
// the --version flag.
func Info() string {
	return Version
}
