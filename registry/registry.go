// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"hash/maphash"
	"sync"
	"time"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// shardCount is the number of independent lock domains. Power of two
// so the shard index is a mask of the id hash. 16 keeps contention
// negligible at the gateway's scale without a tuning knob.
const shardCount = 16

// Registry is a sharded concurrent map from task id to record. Each
// shard serializes its own writes; reads copy the record out under
// the shard lock and never touch other shards.
type Registry struct {
	seed   maphash.Seed
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{seed: maphash.MakeSeed()}
	for i := range r.shards {
		r.shards[i].records = make(map[string]*Record)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	return &r.shards[maphash.String(r.seed, id)&(shardCount-1)]
}

// Insert stores a new record. The id must be fresh; a collision is a
// broken id generator and reports Internal.
func (r *Registry) Insert(rec Record) error {
	if rec.ID == "" {
		return mcperr.E(mcperr.Internal, "inserting record with empty id")
	}
	if rec.Cancel == nil {
		rec.Cancel = NewCancel()
	}
	s := r.shardFor(rec.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return mcperr.Errorf(mcperr.Internal, "task id collision: %s", rec.ID)
	}
	stored := rec
	s.records[rec.ID] = &stored
	return nil
}

// Get returns a read-only snapshot of the record.
func (r *Registry) Get(id string) (Record, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, mcperr.Errorf(mcperr.NotFound, "task not found: %s", id)
	}
	return rec.snapshot(), nil
}

// Transition moves a task from one state to another. The move only
// happens when the current state equals from; otherwise the call
// fails FailedPrecondition and the record is untouched. apply, when
// non-nil, runs on the record inside the same critical section, so
// timestamps and results land atomically with the state change.
// Returns the post-transition snapshot.
func (r *Registry) Transition(id string, from, to State, apply func(*Record)) (Record, error) {
	if from.Terminal() {
		return Record{}, mcperr.Errorf(mcperr.Internal,
			"transition out of terminal state %s requested for %s", from, id)
	}
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, mcperr.Errorf(mcperr.NotFound, "task not found: %s", id)
	}
	if rec.State != from {
		return Record{}, mcperr.Errorf(mcperr.FailedPrecondition,
			"task %s is %s, not %s", id, rec.State, from)
	}
	rec.State = to
	if apply != nil {
		apply(rec)
	}
	return rec.snapshot(), nil
}

// Reap removes terminal records whose completion time is before the
// cutoff. Returns the evicted ids — the caller releases the matching
// output streams — and how many records remain.
func (r *Registry) Reap(before time.Time) (reaped []string, retained int) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, rec := range s.records {
			if rec.State.Terminal() && rec.CompletedAt.Before(before) {
				delete(s.records, id)
				reaped = append(reaped, id)
			}
		}
		retained += len(s.records)
		s.mu.Unlock()
	}
	return reaped, retained
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}
