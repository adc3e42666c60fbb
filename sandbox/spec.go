// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// NetworkAccess is the child's network posture.
type NetworkAccess int

const (
	// NetworkNone gives the child no network: it runs in its own
	// empty network namespace.
	NetworkNone NetworkAccess = iota
	// NetworkHost shares the host's network namespace.
	NetworkHost
	// NetworkRestricted is reserved for a host-provided network
	// proxy. The child gets its own empty network namespace as with
	// NetworkNone, but the seccomp "network" filter applies.
	NetworkRestricted
)

// String returns the wire name of the posture.
func (n NetworkAccess) String() string {
	switch n {
	case NetworkHost:
		return "host"
	case NetworkRestricted:
		return "restricted"
	default:
		return "none"
	}
}

// ResourceLimits caps the child's resource consumption. Zero values
// mean unlimited.
type ResourceLimits struct {
	// CPUCores bounds CPU time as a share of cores (1.5 = 150%).
	CPUCores float64

	// MemoryBytes bounds resident memory.
	MemoryBytes uint64

	// PIDCount bounds the number of tasks in the child's cgroup.
	PIDCount int

	// IOWeight is the cgroup io.weight (1-10000); zero leaves the
	// kernel default.
	IOWeight int
}

// HasLimits reports whether any cap is set.
func (l ResourceLimits) HasLimits() bool {
	return l.CPUCores > 0 || l.MemoryBytes > 0 || l.PIDCount > 0 || l.IOWeight > 0
}

// Spec declares a task's confinement. The zero value is not useful;
// start from DefaultSpec.
type Spec struct {
	// Enabled turns confinement on. A disabled spec runs the child
	// directly — the validation and capture machinery still apply,
	// the mount namespace does not.
	Enabled bool

	// Network is the child's network posture.
	Network NetworkAccess

	// Limits caps the child's resources.
	Limits ResourceLimits

	// RWPaths are bind-mounted read-write. The working directory
	// must be under one of them.
	RWPaths []string

	// ROPaths are bind-mounted read-only.
	ROPaths []string

	// DeniedPaths are masked with an empty tmpfs: the path exists in
	// the child's view but its real content does not.
	DeniedPaths []string
}

// DefaultSpec mirrors the shipped default confinement: a writable
// workspace and scratch space, the usual read-only toolchain mounts,
// no network, and the system configuration masked out.
func DefaultSpec(workspaceDir string) *Spec {
	if workspaceDir == "" {
		workspaceDir = "/workspace"
	}
	return &Spec{
		Enabled:     true,
		Network:     NetworkNone,
		RWPaths:     []string{workspaceDir, "/tmp"},
		ROPaths:     []string{"/usr", "/bin", "/lib", "/lib64"},
		DeniedPaths: []string{"/etc", "/var", "/home"},
	}
}

// Normalize cleans the path lists in place and resolves conflicts
// with the precedence denied > read-only > read-write: a path listed
// at a stronger level is dropped from the weaker ones. Fails on a
// relative or non-canonical path.
func (s *Spec) Normalize() error {
	var err error
	if s.DeniedPaths, err = normalizePathList("denied", s.DeniedPaths); err != nil {
		return err
	}
	if s.ROPaths, err = normalizePathList("read-only", s.ROPaths); err != nil {
		return err
	}
	if s.RWPaths, err = normalizePathList("read-write", s.RWPaths); err != nil {
		return err
	}

	s.ROPaths = subtract(s.ROPaths, s.DeniedPaths)
	s.RWPaths = subtract(s.RWPaths, s.DeniedPaths)
	s.RWPaths = subtract(s.RWPaths, s.ROPaths)
	return nil
}

// Covers reports whether path lies under one of the spec's
// read-write paths. The working directory validation uses this.
func (s *Spec) Covers(path string) bool {
	for _, rw := range s.RWPaths {
		if path == rw || strings.HasPrefix(path, rw+"/") {
			return true
		}
	}
	return false
}

func normalizePathList(label string, paths []string) ([]string, error) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("%s path %q is not absolute", label, p)
		}
		cleaned := filepath.Clean(p)
		if cleaned != p && cleaned+"/" != p {
			return nil, fmt.Errorf("%s path %q is not canonical", label, p)
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	sort.Strings(out)
	return out, nil
}

// subtract removes entries of a that equal or live under an entry of b.
func subtract(a, b []string) []string {
	out := a[:0]
	for _, p := range a {
		shadowed := false
		for _, q := range b {
			if p == q || strings.HasPrefix(p, q+"/") {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, p)
		}
	}
	return out
}

// ResourceUsage is what the host reported for a reaped child.
type ResourceUsage struct {
	// CPUTime is user plus system time.
	CPUTime time.Duration

	// MaxRSSBytes is the peak resident set size.
	MaxRSSBytes uint64

	// IOReadBytes and IOWriteBytes count block I/O attributed to the
	// child (filesystem reads that hit the page cache do not count,
	// matching getrusage semantics).
	IOReadBytes  uint64
	IOWriteBytes uint64
}
