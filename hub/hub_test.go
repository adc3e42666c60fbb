// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func collect(t *testing.T, sub *Subscription, want int) []Chunk {
	t.Helper()
	var chunks []Chunk
	timeout := time.After(5 * time.Second)
	for len(chunks) < want {
		select {
		case chunk, ok := <-sub.C:
			if !ok {
				t.Fatalf("channel closed after %d chunks, want %d (err=%v)", len(chunks), want, sub.Err())
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatalf("timed out after %d chunks, want %d", len(chunks), want)
		}
	}
	return chunks
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("channel never closed")
		}
	}
}

func TestPublishSubscribeOrder(t *testing.T) {
	h := New(Config{})
	h.Open("task-1")

	sub, err := h.Subscribe("task-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		h.Publish("task-1", Stdout, []byte(fmt.Sprintf("line %d\n", i)))
	}

	chunks := collect(t, sub, 5)
	for i, chunk := range chunks {
		if want := fmt.Sprintf("line %d\n", i); string(chunk.Data) != want {
			t.Errorf("chunk %d = %q, want %q", i, chunk.Data, want)
		}
		if chunk.Seq != uint64(i) {
			t.Errorf("chunk %d seq = %d", i, chunk.Seq)
		}
		if chunk.Kind != Stdout {
			t.Errorf("chunk %d kind = %v", i, chunk.Kind)
		}
	}
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	h := New(Config{})
	h.Publish("task-1", Stdout, []byte("early\n"))
	h.Publish("task-1", Stderr, []byte("warning\n"))

	sub, err := h.Subscribe("task-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.Publish("task-1", Stdout, []byte("late\n"))

	chunks := collect(t, sub, 3)
	if string(chunks[0].Data) != "early\n" || string(chunks[1].Data) != "warning\n" || string(chunks[2].Data) != "late\n" {
		t.Errorf("replay order wrong: %q %q %q", chunks[0].Data, chunks[1].Data, chunks[2].Data)
	}
}

func TestCloseDeliversThenCloses(t *testing.T) {
	h := New(Config{})
	sub := mustSubscribe(t, h, "task-1")

	h.Publish("task-1", Stdout, []byte("output"))
	h.Publish("task-1", ExitCode, []byte("0"))
	h.Close("task-1")

	chunks := collect(t, sub, 2)
	if chunks[1].Kind != ExitCode {
		t.Errorf("last chunk kind = %v", chunks[1].Kind)
	}
	waitClosed(t, sub)
	if sub.Err() != nil {
		t.Errorf("Err = %v, want nil for terminal close", sub.Err())
	}
}

func TestNoChunkAfterClose(t *testing.T) {
	h := New(Config{})
	sub := mustSubscribe(t, h, "task-1")

	h.Publish("task-1", ExitCode, []byte("0"))
	h.Close("task-1")
	h.Publish("task-1", Stdout, []byte("ghost"))

	chunks := collect(t, sub, 1)
	if chunks[0].Kind != ExitCode {
		t.Fatalf("chunk = %+v", chunks[0])
	}
	waitClosed(t, sub)
}

func TestSubscribeAfterClose(t *testing.T) {
	h := New(Config{})
	h.Publish("task-1", Stdout, []byte("history"))
	h.Close("task-1")

	sub, err := h.Subscribe("task-1")
	if err != nil {
		t.Fatalf("Subscribe after close: %v", err)
	}
	chunks := collect(t, sub, 1)
	if string(chunks[0].Data) != "history" {
		t.Errorf("replay = %q", chunks[0].Data)
	}
	waitClosed(t, sub)
}

func TestSubscribeUnknownTask(t *testing.T) {
	h := New(Config{})
	if _, err := h.Subscribe("task-none"); err == nil {
		t.Fatal("Subscribe to unknown task succeeded")
	}
}

func TestRingDropSignaledToNewSubscribers(t *testing.T) {
	h := New(Config{MaxBufferedChunks: 4})

	// Attached from the start: sees everything.
	early := mustSubscribe(t, h, "task-1")

	for i := 0; i < 10; i++ {
		h.Publish("task-1", Stdout, []byte(fmt.Sprintf("%d", i)))
	}

	earlyChunks := collect(t, early, 10)
	if string(earlyChunks[0].Data) != "0" || string(earlyChunks[9].Data) != "9" {
		t.Error("early subscriber missed live chunks")
	}

	// Late joiner: truncation event, then the retained tail.
	late, err := h.Subscribe("task-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	lateChunks := collect(t, late, 5)
	if lateChunks[0].Kind != Event || string(lateChunks[0].Data) != "history truncated" {
		t.Fatalf("first chunk = %+v, want truncation event", lateChunks[0])
	}
	if string(lateChunks[1].Data) != "6" || string(lateChunks[4].Data) != "9" {
		t.Errorf("retained tail = %q..%q, want 6..9", lateChunks[1].Data, lateChunks[4].Data)
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	h := New(Config{SubscriberQueueLimit: 4})
	sub := mustSubscribe(t, h, "task-1")

	// Never read; the queue fills and the fifth publish disconnects.
	for i := 0; i < 10; i++ {
		h.Publish("task-1", Stdout, []byte("x"))
	}

	waitClosed(t, sub)
	if !errors.Is(sub.Err(), ErrSubscriberLagged) {
		t.Errorf("Err = %v, want ErrSubscriberLagged", sub.Err())
	}

	// The stream itself is unharmed.
	fresh, err := h.Subscribe("task-1")
	if err != nil {
		t.Fatalf("Subscribe after lag disconnect: %v", err)
	}
	fresh.Cancel()
}

func TestCancelDetaches(t *testing.T) {
	h := New(Config{})
	sub := mustSubscribe(t, h, "task-1")
	sub.Cancel()
	waitClosed(t, sub)

	// Publishing afterwards must not panic on the closed channel.
	h.Publish("task-1", Stdout, []byte("after"))
	if sub.Err() != nil {
		t.Errorf("Err after Cancel = %v", sub.Err())
	}
}

func TestRemoveDropsStream(t *testing.T) {
	h := New(Config{})
	sub := mustSubscribe(t, h, "task-1")
	h.Remove("task-1")
	waitClosed(t, sub)

	if _, err := h.Subscribe("task-1"); err == nil {
		t.Fatal("Subscribe after Remove succeeded")
	}
	if h.StreamCount() != 0 {
		t.Errorf("StreamCount = %d", h.StreamCount())
	}
}

func TestIndependentStreams(t *testing.T) {
	h := New(Config{SubscriberQueueLimit: 2})
	stuck := mustSubscribe(t, h, "task-slow")
	lively := mustSubscribe(t, h, "task-fast")

	// Saturate the slow task's subscriber.
	for i := 0; i < 10; i++ {
		h.Publish("task-slow", Stdout, []byte("x"))
	}
	// The fast task is unaffected.
	h.Publish("task-fast", Stdout, []byte("ok"))

	chunks := collect(t, lively, 1)
	if string(chunks[0].Data) != "ok" {
		t.Errorf("fast task chunk = %q", chunks[0].Data)
	}
	waitClosed(t, stuck)
}

func mustSubscribe(t *testing.T, h *Hub, taskID string) *Subscription {
	t.Helper()
	h.Open(taskID)
	sub, err := h.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", taskID, err)
	}
	return sub
}
