// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// evaluate dispatches an input to the matching sub-module. The input
// is classified by which sub-section is populated: a non-empty
// command name wins, then a non-empty file path, then a non-empty
// network host. An input populating none of them is denied.
func (b *Bundle) evaluate(input Input) Decision {
	switch {
	case input.Command != nil && input.Command.Name != "":
		return b.command.evaluate(input.Command, input.User)
	case input.File != nil && input.File.Path != "":
		return b.file.evaluate(input.File)
	case input.Network != nil && input.Network.Host != "":
		return b.network.evaluate(input.Network)
	default:
		return deny(denyUnknownType)
	}
}

// evaluate applies the command rules:
//
//  1. dangerous commands are denied for everyone,
//  2. admins may run anything else (with an audit warning),
//  3. everyone else is held to the allowlist.
func (r *commandRules) evaluate(cmd *CommandInput, user UserInput) Decision {
	if r.dangerous.has(cmd.Name) {
		return deny(fmt.Sprintf(r.denyDangerous, cmd.Name))
	}
	if user.HasRole("admin") {
		return allow(r.warnAdmin)
	}
	if r.allowed.has(cmd.Name) {
		return allow()
	}
	return deny(fmt.Sprintf(r.denyUnlisted, cmd.Name))
}

// evaluate applies the file rules. The path must already be canonical
// (absolute, no "." or ".." segments, no trailing-slash ambiguity);
// anything else is denied outright rather than normalized here, so
// the decision the caller logs names the exact path that was checked.
func (r *fileRules) evaluate(file *FileInput) Decision {
	if !pathCanonical(file.Path) {
		return deny(fmt.Sprintf(r.denyNonCanonical, file.Path))
	}
	for _, prefix := range r.deniedPrefixes {
		if pathHasPrefix(file.Path, prefix) {
			return deny(fmt.Sprintf(r.denyDenied, file.Path))
		}
	}

	var prefixes []string
	switch file.Mode {
	case "read":
		prefixes = r.readPrefixes
	case "write":
		prefixes = r.writePrefixes
	case "execute":
		prefixes = r.executePrefixes
	}
	for _, prefix := range prefixes {
		if pathHasPrefix(file.Path, prefix) {
			if file.Mode == "write" {
				return allow(r.warnWrite)
			}
			return allow()
		}
	}
	return deny(fmt.Sprintf(r.denyMode, file.Mode, file.Path))
}

// evaluate applies the network rules. All three dimensions must
// match; each failing one contributes its own deny reason, in the
// fixed order host, port, protocol.
func (r *networkRules) evaluate(net *NetworkInput) Decision {
	var reasons []string
	if !r.hosts.has(net.Host) {
		reasons = append(reasons, fmt.Sprintf(r.denyHost, net.Host))
	}
	if _, ok := r.ports[net.Port]; !ok {
		reasons = append(reasons, fmt.Sprintf(r.denyPort, net.Port))
	}
	if !r.protocols.has(net.Protocol) {
		reasons = append(reasons, fmt.Sprintf(r.denyProtocol, net.Protocol))
	}
	if len(reasons) > 0 {
		return deny(reasons...)
	}
	return allow(r.warnAudited)
}

// pathCanonical reports whether p is an absolute path already in
// cleaned form. filepath.Clean removes "." and ".." segments and
// duplicate separators, so p == Clean(p) means none were present.
func pathCanonical(p string) bool {
	return filepath.IsAbs(p) && p == filepath.Clean(p)
}

// pathHasPrefix is a literal startsWith, plus an exact match for the
// directory itself: prefix "/workspace/" matches "/workspace" too,
// since a canonical path never carries the trailing slash.
func pathHasPrefix(p, prefix string) bool {
	if strings.HasPrefix(p, prefix) {
		return true
	}
	return p+"/" == prefix
}
