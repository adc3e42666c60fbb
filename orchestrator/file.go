// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
)

// FileContent is the result of a direct ReadFile call.
type FileContent struct {
	Path    string
	Content []byte
	MIME    string
}

// ReadFile is the synchronous file surface: policy-checked read with
// MIME sniffing. Denial is PermissionDenied — no task id is ever
// allocated for direct file calls.
func (o *Orchestrator) ReadFile(path string, metadata map[string]string) (*FileContent, error) {
	if err := o.checkFileAccess(path, registry.FileRead, metadata); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError("reading", path, err)
	}
	return &FileContent{
		Path:    path,
		Content: content,
		MIME:    sniffMIME(path, content),
	}, nil
}

// WriteFile is the synchronous policy-checked write. Returns the
// byte count written.
func (o *Orchestrator) WriteFile(path string, content []byte, createDirs bool, perm os.FileMode, metadata map[string]string) (int, error) {
	if err := o.checkFileAccess(path, registry.FileWrite, metadata); err != nil {
		return 0, err
	}
	if perm == 0 {
		perm = 0644
	}
	if createDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return 0, fileError("creating directories for", path, err)
		}
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return 0, fileError("writing", path, err)
	}
	return len(content), nil
}

// DeleteFile is the synchronous policy-checked delete.
func (o *Orchestrator) DeleteFile(path string, recursive bool, metadata map[string]string) error {
	if err := o.checkFileAccess(path, registry.FileDelete, metadata); err != nil {
		return err
	}
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return fileError("deleting", path, err)
	}
	return nil
}

// checkFileAccess evaluates file policy for a direct call.
func (o *Orchestrator) checkFileAccess(path string, mode registry.FileMode, metadata map[string]string) error {
	input := policy.Input{
		File: &policy.FileInput{Path: path, Mode: policyFileMode(mode)},
		User: callerIdentity(metadata),
	}
	before := o.clock.Now()
	decision, err := o.engine.Evaluate(input)
	o.metrics.policyEvaluated("file", err == nil && decision.Allow, o.clock.Now().Sub(before))
	if err != nil {
		return err
	}
	if o.audit != nil {
		o.audit.PolicyDecision("", input, decision)
	}
	if !decision.Allow {
		o.metrics.errorSurfaced(mcperr.PermissionDenied.String())
		return mcperr.Errorf(mcperr.PermissionDenied, "%s", strings.Join(decision.DenyReasons, "; "))
	}
	for _, warning := range decision.Warnings {
		o.logger.Info("policy warning", "path", path, "warning", warning)
	}
	return nil
}

// applyFileOp executes a file task's operation. Policy already
// allowed it at submit time.
func (o *Orchestrator) applyFileOp(spec *registry.FileSpec) ([]byte, error) {
	switch spec.Mode {
	case registry.FileRead:
		content, err := os.ReadFile(spec.Path)
		if err != nil {
			return nil, fileError("reading", spec.Path, err)
		}
		return content, nil

	case registry.FileWrite:
		perm := spec.Perm
		if perm == 0 {
			perm = 0644
		}
		if spec.CreateDirs {
			if err := os.MkdirAll(filepath.Dir(spec.Path), 0755); err != nil {
				return nil, fileError("creating directories for", spec.Path, err)
			}
		}
		if err := os.WriteFile(spec.Path, spec.Payload, perm); err != nil {
			return nil, fileError("writing", spec.Path, err)
		}
		return []byte(fmt.Sprintf("%d bytes written to %s\n", len(spec.Payload), spec.Path)), nil

	case registry.FileDelete:
		var err error
		if spec.Recursive {
			err = os.RemoveAll(spec.Path)
		} else {
			err = os.Remove(spec.Path)
		}
		if err != nil {
			return nil, fileError("deleting", spec.Path, err)
		}
		return []byte(fmt.Sprintf("deleted %s\n", spec.Path)), nil

	default:
		return nil, mcperr.Errorf(mcperr.InvalidArgument, "unknown file mode %q", spec.Mode)
	}
}

// fileError classifies an OS error into the wire taxonomy.
func fileError(verb, path string, err error) error {
	kind := mcperr.Internal
	switch {
	case os.IsNotExist(err):
		kind = mcperr.NotFound
	case os.IsPermission(err):
		kind = mcperr.PermissionDenied
	}
	return mcperr.Errorf(kind, "%s %s: %w", verb, path, err)
}

// sniffMIME guesses a content type from the extension, falling back
// to content sniffing.
func sniffMIME(path string, content []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	}
	limit := len(content)
	if limit > 512 {
		limit = 512
	}
	return http.DetectContentType(content[:limit])
}
