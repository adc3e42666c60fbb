// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Bundle is a compiled, immutable rule set. Bundles are built once by
// Compile (or LoadDir) and never mutated afterwards, so the engine can
// share one bundle across any number of concurrent evaluations.
type Bundle struct {
	// Fingerprint is the hex BLAKE3 digest of the bundle's source
	// text. Two bundles with the same fingerprint decide identically;
	// the decision cache keys on it.
	Fingerprint string

	command commandRules
	file    fileRules
	network networkRules
}

// commandRules is the compiled command module.
type commandRules struct {
	allowed   stringSet
	dangerous stringSet

	denyDangerous string // format, one %s: command name
	denyUnlisted  string // format, one %s: command name
	warnAdmin     string
}

// fileRules is the compiled file module. Prefix lists are matched
// with literal startsWith against normalized absolute paths.
type fileRules struct {
	readPrefixes    []string
	writePrefixes   []string
	executePrefixes []string
	deniedPrefixes  []string

	denyDenied       string // format, one %s: path
	denyMode         string // format, two %s: mode, path
	denyNonCanonical string // format, one %s: path
	warnWrite        string
}

// networkRules is the compiled network module.
type networkRules struct {
	hosts     stringSet
	ports     map[int]struct{}
	protocols stringSet

	denyHost     string // format, one %s: host
	denyPort     string // format, one %d: port
	denyProtocol string // format, one %s: protocol
	warnAudited  string
}

// denyUnknownType is the dispatcher's reason when no sub-section of
// the input is populated.
const denyUnknownType = "unknown task type"

type stringSet map[string]struct{}

func newStringSet(items []string) stringSet {
	s := make(stringSet, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s stringSet) has(item string) bool {
	_, ok := s[item]
	return ok
}

// sorted returns the members in lexical order, for Describe output.
func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// fingerprint digests the module sources that produced a bundle. The
// sources are hashed in a fixed order so the fingerprint is stable
// across directory listing order.
func fingerprint(sources map[string][]byte) string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	hasher := blake3.New()
	for _, name := range names {
		hasher.Write([]byte(name))
		hasher.Write([]byte{0})
		hasher.Write(sources[name])
		hasher.Write([]byte{0})
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Describe returns a one-line summary of the bundle for startup and
// reload logging.
func (b *Bundle) Describe() string {
	return fmt.Sprintf("bundle %s: %d allowed / %d dangerous commands, %d denied path prefixes, %d allowed hosts",
		b.Fingerprint[:12],
		len(b.command.allowed), len(b.command.dangerous),
		len(b.file.deniedPrefixes), len(b.network.hosts))
}

// AllowedCommands returns the command allowlist, sorted. Exposed for
// diagnostics endpoints; mutation of the returned slice does not
// affect the bundle.
func (b *Bundle) AllowedCommands() []string {
	return b.command.allowed.sorted()
}

// DangerousCommands returns the dangerous-command set, sorted.
func (b *Bundle) DangerousCommands() []string {
	return b.command.dangerous.sorted()
}

// normalizePrefixes cleans a prefix list: entries keep their trailing
// slash (a prefix of "/etc/" should not match "/etcetera") and the
// list is sorted for deterministic evaluation order.
func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
