// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"log/slog"
	"sync"

	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// ErrSubscriberLagged reports a subscriber disconnected for not
// draining its queue. Surfaced from Subscription.Err after the
// channel closes.
var ErrSubscriberLagged = mcperr.E(mcperr.ResourceExhausted, "subscriber lagged")

// Config holds hub tuning.
type Config struct {
	// Clock stamps chunks. Nil means the real clock.
	Clock clock.Clock

	// MaxBufferedChunks caps each task's replay ring. When the ring
	// is full the earliest chunks are dropped for future subscribers;
	// already-attached subscribers received them live. Default 1024.
	MaxBufferedChunks int

	// SubscriberQueueLimit caps each subscriber's undelivered queue;
	// exceeding it disconnects the subscriber with
	// ErrSubscriberLagged. Default 1024.
	SubscriberQueueLimit int

	// Logger for disconnects. Nil means slog.Default().
	Logger *slog.Logger
}

// Hub multiplexes per-task output streams. One Hub serves the whole
// gateway; streams are independent — a slow subscriber on one task
// never blocks another task's publisher.
type Hub struct {
	clock      clock.Clock
	ringCap    int
	queueLimit int
	logger     *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// stream is one task's buffer and subscriber set, serialized by its
// own lock.
type stream struct {
	mu      sync.Mutex
	chunks  []Chunk // retained tail of the chunk sequence
	dropped uint64  // chunks fallen off the head of the ring
	next    uint64  // sequence number of the next published chunk
	closed  bool
	subs    map[*Subscription]struct{}
}

// Subscription is one attached stream consumer. Read chunks from C
// until it closes, then check Err.
type Subscription struct {
	// C delivers chunks in task order. Closed when the task reaches
	// a terminal state, the subscriber lags, or Cancel is called.
	C <-chan Chunk

	ch     chan Chunk
	stream *stream

	mu       sync.Mutex
	err      error
	detached bool
}

// Err reports why C closed: nil for a normal terminal close,
// ErrSubscriberLagged for a lag disconnect.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel detaches the subscription. Idempotent. The channel closes;
// chunks already queued remain readable.
func (s *Subscription) Cancel() {
	if s.stream != nil {
		s.stream.mu.Lock()
		delete(s.stream.subs, s)
		s.stream.mu.Unlock()
	}
	s.close(nil)
}

// close marks the subscription finished. Caller must NOT hold s.mu.
func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	s.err = err
	close(s.ch)
}

// New returns an empty hub.
func New(cfg Config) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MaxBufferedChunks <= 0 {
		cfg.MaxBufferedChunks = 1024
	}
	if cfg.SubscriberQueueLimit <= 0 {
		cfg.SubscriberQueueLimit = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		clock:      cfg.Clock,
		ringCap:    cfg.MaxBufferedChunks,
		queueLimit: cfg.SubscriberQueueLimit,
		logger:     cfg.Logger,
		streams:    make(map[string]*stream),
	}
}

// Open creates the task's stream. Idempotent; Publish also opens
// lazily, but the orchestrator opens eagerly so a subscriber can
// attach before the first chunk.
func (h *Hub) Open(taskID string) {
	h.streamFor(taskID)
}

func (h *Hub) streamFor(taskID string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[taskID]
	if !ok {
		st = &stream{subs: make(map[*Subscription]struct{})}
		h.streams[taskID] = st
	}
	return st
}

// Publish appends a chunk to the task's stream and fans it out. Data
// is copied; the caller may reuse the slice. Publishing to a closed
// stream is a no-op: the terminal event has already been delivered
// and nothing may follow it.
func (h *Hub) Publish(taskID string, kind ChunkKind, data []byte) {
	st := h.streamFor(taskID)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	chunk := Chunk{
		TaskID:      taskID,
		Kind:        kind,
		Data:        append([]byte(nil), data...),
		TimestampMS: h.clock.Now().UnixMilli(),
		Seq:         st.next,
	}
	st.next++

	st.chunks = append(st.chunks, chunk)
	if len(st.chunks) > h.ringCap {
		overflow := len(st.chunks) - h.ringCap
		st.chunks = append([]Chunk(nil), st.chunks[overflow:]...)
		st.dropped += uint64(overflow)
	}

	var lagged []*Subscription
	for sub := range st.subs {
		select {
		case sub.ch <- chunk:
		default:
			delete(st.subs, sub)
			lagged = append(lagged, sub)
		}
	}
	st.mu.Unlock()

	for _, sub := range lagged {
		h.logger.Warn("subscriber lagged, disconnecting", "task_id", taskID)
		sub.close(ErrSubscriberLagged)
	}
}

// Close marks the task's stream terminal and closes every
// subscriber's channel. Publish calls after Close are dropped.
// Idempotent.
func (h *Hub) Close(taskID string) {
	st := h.streamFor(taskID)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	subs := make([]*Subscription, 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
	}
	st.subs = make(map[*Subscription]struct{})
	st.mu.Unlock()

	for _, sub := range subs {
		sub.close(nil)
	}
}

// Remove drops the task's stream entirely. Called by the reaper when
// the record is evicted; subscribers still attached are closed first.
func (h *Hub) Remove(taskID string) {
	h.Close(taskID)
	h.mu.Lock()
	delete(h.streams, taskID)
	h.mu.Unlock()
}

// Subscribe attaches to the task's stream. The subscriber first
// receives the retained history — prefixed with an Event("history
// truncated") chunk when the ring has dropped chunks — then live
// chunks until the stream closes. Fails NotFound when the task has
// no stream (never opened, or already reaped).
func (h *Hub) Subscribe(taskID string) (*Subscription, error) {
	h.mu.Lock()
	st, ok := h.streams[taskID]
	h.mu.Unlock()
	if !ok {
		return nil, mcperr.Errorf(mcperr.NotFound, "no output stream for task %s", taskID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// The queue must absorb the replay plus the truncation marker
	// before the subscriber reads anything.
	capacity := h.queueLimit
	if need := len(st.chunks) + 1; need > capacity {
		capacity = need
	}
	ch := make(chan Chunk, capacity)
	sub := &Subscription{C: ch, ch: ch, stream: st}

	if st.dropped > 0 {
		ch <- Chunk{
			TaskID:      taskID,
			Kind:        Event,
			Data:        []byte("history truncated"),
			TimestampMS: h.clock.Now().UnixMilli(),
			Seq:         st.dropped - 1,
		}
	}
	for _, chunk := range st.chunks {
		ch <- chunk
	}

	if st.closed {
		// Replay-only subscription: deliver history, then close.
		sub.mu.Lock()
		sub.detached = true
		sub.mu.Unlock()
		close(ch)
		return sub, nil
	}

	st.subs[sub] = struct{}{}
	return sub, nil
}

// StreamCount reports how many task streams the hub holds (for
// metrics).
func (h *Hub) StreamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}
