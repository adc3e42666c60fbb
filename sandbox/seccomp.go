// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// Filter file names the profile directory may contain. "basic" is
// the no-network filter; "network" additionally admits the socket
// syscall family.
const (
	basicFilterFile   = "basic.bpf"
	networkFilterFile = "network.bpf"
)

// ProfileManager resolves compiled seccomp filters. Filters are raw
// cBPF programs (the format bwrap's --seccomp expects), produced out
// of band — compiling BPF belongs to the deployment toolchain, not
// to this process.
//
// A missing filter file is not an error: FilterPath returns "" and
// the confiner runs the child without a syscall filter. The gateway
// logs that loudly at startup.
type ProfileManager struct {
	dir string
}

// NewProfileManager returns a manager over the given directory.
// Returns nil when dir is empty, which disables syscall filtering.
func NewProfileManager(dir string) *ProfileManager {
	if dir == "" {
		return nil
	}
	return &ProfileManager{dir: dir}
}

// FilterPath returns the filter for the given network posture, or ""
// when none is installed. A present-but-unreadable filter is an
// error: a deployment that installed filters wants them enforced.
func (m *ProfileManager) FilterPath(network NetworkAccess) (string, error) {
	name := basicFilterFile
	if network == NetworkHost || network == NetworkRestricted {
		name = networkFilterFile
	}
	path := filepath.Join(m.dir, name)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, expected a compiled BPF program", path)
	}
	return path, nil
}

// Available reports whether a filter exists for either posture.
func (m *ProfileManager) Available() bool {
	for _, name := range []string{basicFilterFile, networkFilterFile} {
		if _, err := os.Stat(filepath.Join(m.dir, name)); err == nil {
			return true
		}
	}
	return false
}
