// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/fcchi/mcp-security-gateway/lib/codec"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// decisionCacheSize bounds the per-engine LRU of memoized decisions.
// Entries are tiny (a hash key and a few strings); 4096 covers an
// agent hammering the same handful of commands without measurable
// memory cost.
const decisionCacheSize = 4096

// Engine evaluates inputs against the active bundle.
//
// The bundle sits behind an atomic pointer: Evaluate loads it once
// and completes against that snapshot, so a concurrent Swap never
// tears a decision. Decisions are memoized in an LRU keyed by
// (bundle fingerprint, input digest) — evaluation is pure, so a
// cached decision is exactly the decision.
type Engine struct {
	bundle atomic.Pointer[Bundle]
	cache  *lru.Cache[[32]byte, Decision]
	logger *slog.Logger
}

// NewEngine returns an engine with the given initial bundle. A nil
// logger means slog.Default().
func NewEngine(bundle *Bundle, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[[32]byte, Decision](decisionCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic("policy: building decision cache: " + err.Error())
	}
	e := &Engine{cache: cache, logger: logger}
	e.bundle.Store(bundle)
	return e
}

// Evaluate decides the input against the current bundle. Pure: no
// I/O, deterministic for a given bundle and input. The only error is
// Internal, for an engine whose bundle pointer was never set.
func (e *Engine) Evaluate(input Input) (Decision, error) {
	bundle := e.bundle.Load()
	if bundle == nil {
		return Decision{}, mcperr.E(mcperr.Internal, "policy engine has no bundle")
	}

	key, cacheable := e.cacheKey(bundle, input)
	if cacheable {
		if decision, ok := e.cache.Get(key); ok {
			return decision, nil
		}
	}

	decision := bundle.evaluate(input)
	if cacheable {
		e.cache.Add(key, decision)
	}
	return decision, nil
}

// Swap atomically replaces the active bundle. Evaluations already in
// flight complete against the bundle they loaded. The cache survives
// untouched — keys include the fingerprint, so stale entries can
// never be returned for the new bundle and age out on their own.
func (e *Engine) Swap(bundle *Bundle) {
	old := e.bundle.Swap(bundle)
	e.logger.Info("policy bundle swapped",
		"old", shortFingerprint(old), "new", shortFingerprint(bundle))
}

// Bundle returns the active bundle (for diagnostics).
func (e *Engine) Bundle() *Bundle {
	return e.bundle.Load()
}

// cacheKey digests the bundle fingerprint and the deterministic CBOR
// encoding of the input. Inputs that fail to encode (they never
// should — Input is all plain data) are simply not cached.
func (e *Engine) cacheKey(bundle *Bundle, input Input) ([32]byte, bool) {
	encoded, err := codec.Marshal(input)
	if err != nil {
		return [32]byte{}, false
	}
	hasher := blake3.New()
	hasher.Write([]byte(bundle.Fingerprint))
	hasher.Write([]byte{0})
	hasher.Write(encoded)

	var key [32]byte
	copy(key[:], hasher.Sum(nil))
	return key, true
}

func shortFingerprint(b *Bundle) string {
	if b == nil {
		return "none"
	}
	return b.Fingerprint[:12]
}
