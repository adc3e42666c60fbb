// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// Module file names a bundle directory may contain. Any other .jsonc
// file in the directory is a load error: a typoed module name must
// not silently fall back to defaults.
const (
	commandModuleFile = "command.jsonc"
	fileModuleFile    = "file.jsonc"
	networkModuleFile = "network.jsonc"
)

//go:embed defaults/*.jsonc
var defaultModules embed.FS

// commandModuleSource is the on-disk schema of command.jsonc.
type commandModuleSource struct {
	AllowedCommands   []string `json:"allowed_commands"`
	DangerousCommands []string `json:"dangerous_commands"`
	DenyDangerous     string   `json:"deny_dangerous"`
	DenyUnlisted      string   `json:"deny_unlisted"`
	WarnAdmin         string   `json:"warn_admin"`
}

// fileModuleSource is the on-disk schema of file.jsonc.
type fileModuleSource struct {
	ReadPrefixes     []string `json:"read_prefixes"`
	WritePrefixes    []string `json:"write_prefixes"`
	ExecutePrefixes  []string `json:"execute_prefixes"`
	DeniedPrefixes   []string `json:"denied_prefixes"`
	DenyDenied       string   `json:"deny_denied"`
	DenyMode         string   `json:"deny_mode"`
	DenyNonCanonical string   `json:"deny_non_canonical"`
	WarnWrite        string   `json:"warn_write"`
}

// networkModuleSource is the on-disk schema of network.jsonc.
type networkModuleSource struct {
	AllowedHosts     []string `json:"allowed_hosts"`
	AllowedPorts     []int    `json:"allowed_ports"`
	AllowedProtocols []string `json:"allowed_protocols"`
	DenyHost         string   `json:"deny_host"`
	DenyPort         string   `json:"deny_port"`
	DenyProtocol     string   `json:"deny_protocol"`
	WarnAudited      string   `json:"warn_audited"`
}

// Default returns the compiled-in bundle. It mirrors the shipped
// defaults/ modules and never fails: the embedded sources are
// compile-time constants and a broken one fails the package's tests.
func Default() *Bundle {
	sources, err := readEmbeddedSources()
	if err != nil {
		panic("policy: embedded default modules unreadable: " + err.Error())
	}
	bundle, err := Compile(sources)
	if err != nil {
		panic("policy: embedded default modules do not compile: " + err.Error())
	}
	return bundle
}

func readEmbeddedSources() (map[string][]byte, error) {
	sources := make(map[string][]byte)
	for _, name := range []string{commandModuleFile, fileModuleFile, networkModuleFile} {
		data, err := defaultModules.ReadFile("defaults/" + name)
		if err != nil {
			return nil, err
		}
		sources[name] = data
	}
	return sources, nil
}

// LoadDir reads and compiles a bundle directory. Modules absent from
// the directory fall back to the embedded defaults, so a deployment
// can override just the command rules. Returns ConfigError with
// file:line detail on a malformed module.
func LoadDir(dir string) (*Bundle, error) {
	sources, err := readEmbeddedSources()
	if err != nil {
		return nil, mcperr.Wrap(mcperr.ConfigError, "reading embedded policy defaults", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mcperr.Errorf(mcperr.ConfigError, "reading policy directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonc" {
			continue
		}
		switch entry.Name() {
		case commandModuleFile, fileModuleFile, networkModuleFile:
		default:
			return nil, mcperr.Errorf(mcperr.ConfigError,
				"unknown policy module %s in %s (expected command.jsonc, file.jsonc, or network.jsonc)",
				entry.Name(), dir)
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, mcperr.Errorf(mcperr.ConfigError, "reading policy module %s: %w", entry.Name(), err)
		}
		sources[entry.Name()] = data
	}

	return Compile(sources)
}

// Compile builds a Bundle from module sources keyed by module file
// name. Missing messages fall back to the built-in wording so a
// module only listing sets stays terse.
func Compile(sources map[string][]byte) (*Bundle, error) {
	bundle := &Bundle{Fingerprint: fingerprint(sources)}

	var cmd commandModuleSource
	if err := decodeModule(sources[commandModuleFile], commandModuleFile, &cmd); err != nil {
		return nil, err
	}
	bundle.command = commandRules{
		allowed:       newStringSet(cmd.AllowedCommands),
		dangerous:     newStringSet(cmd.DangerousCommands),
		denyDangerous: withDefault(cmd.DenyDangerous, "command '%s' is dangerous and forbidden"),
		denyUnlisted:  withDefault(cmd.DenyUnlisted, "command '%s' not in allowlist"),
		warnAdmin:     withDefault(cmd.WarnAdmin, "running as admin; all operations audited"),
	}
	for name := range bundle.command.dangerous {
		if bundle.command.allowed.has(name) {
			return nil, mcperr.Errorf(mcperr.ConfigError,
				"%s: command %q is both allowed and dangerous", commandModuleFile, name)
		}
	}

	var file fileModuleSource
	if err := decodeModule(sources[fileModuleFile], fileModuleFile, &file); err != nil {
		return nil, err
	}
	bundle.file = fileRules{
		readPrefixes:     normalizePrefixes(file.ReadPrefixes),
		writePrefixes:    normalizePrefixes(file.WritePrefixes),
		executePrefixes:  normalizePrefixes(file.ExecutePrefixes),
		deniedPrefixes:   normalizePrefixes(file.DeniedPrefixes),
		denyDenied:       withDefault(file.DenyDenied, "access to path '%s' is forbidden"),
		denyMode:         withDefault(file.DenyMode, "'%s' access to path '%s' is not allowed"),
		denyNonCanonical: withDefault(file.DenyNonCanonical, "path '%s' is not a canonical absolute path"),
		warnWrite:        withDefault(file.WarnWrite, "file write will be audited"),
	}

	var net networkModuleSource
	if err := decodeModule(sources[networkModuleFile], networkModuleFile, &net); err != nil {
		return nil, err
	}
	ports := make(map[int]struct{}, len(net.AllowedPorts))
	for _, p := range net.AllowedPorts {
		if p < 1 || p > 65535 {
			return nil, mcperr.Errorf(mcperr.ConfigError, "%s: port %d out of range", networkModuleFile, p)
		}
		ports[p] = struct{}{}
	}
	bundle.network = networkRules{
		hosts:        newStringSet(net.AllowedHosts),
		ports:        ports,
		protocols:    newStringSet(net.AllowedProtocols),
		denyHost:     withDefault(net.DenyHost, "host '%s' is not allowed"),
		denyPort:     withDefault(net.DenyPort, "port %d is not allowed"),
		denyProtocol: withDefault(net.DenyProtocol, "protocol '%s' is not allowed"),
		warnAudited:  withDefault(net.WarnAudited, "network request will be audited"),
	}

	return bundle, nil
}

// decodeModule strips JSONC comments and decodes into dst. jsonc
// replaces comments with whitespace of the same length, so byte
// offsets in decode errors map directly onto the original file and
// we can report file:line.
func decodeModule(source []byte, name string, dst any) error {
	if source == nil {
		return mcperr.Errorf(mcperr.ConfigError, "policy module %s missing", name)
	}
	plain := jsonc.ToJSON(source)
	decoder := json.NewDecoder(bytes.NewReader(plain))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return mcperr.Errorf(mcperr.ConfigError, "%s:%d: %w", name, errorLine(plain, err), err)
	}
	return nil
}

// errorLine turns a json decode error's byte offset into a 1-based
// line number. Returns 1 when the error carries no offset.
func errorLine(data []byte, err error) int {
	var offset int64
	switch e := err.(type) {
	case *json.SyntaxError:
		offset = e.Offset
	case *json.UnmarshalTypeError:
		offset = e.Offset
	default:
		return 1
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return 1 + bytes.Count(data[:offset], []byte{'\n'})
}

func withDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
