// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fcchi/mcp-security-gateway/hub"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// upgrader accepts any origin: caller authentication happens
// upstream of the gateway, and the stream carries nothing a Status
// poll would not.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamWriteTimeout bounds each frame write so a dead peer cannot
// pin the goroutine.
const streamWriteTimeout = 10 * time.Second

// handleStreamOutput upgrades to WebSocket and relays the task's
// output stream: replayed history, live chunks, then a close frame
// when the task terminates.
func (s *Server) handleStreamOutput(c *gin.Context) {
	id := c.Param("id")
	sub, err := s.orch.Subscribe(id)
	if err != nil {
		s.renderError(c, "GET", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Cancel()
		s.logger.Debug("websocket upgrade failed", "task_id", id, "error", err)
		return
	}
	defer conn.Close()
	s.orch.Metrics().APIRequest("rest", "stream_output", "200")

	// Reader goroutine: the client never sends data frames, but the
	// read pump is what notices a vanished peer.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case chunk, ok := <-sub.C:
			if !ok {
				s.writeStreamClose(conn, sub.Err())
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(toOutputChunk(chunk)); err != nil {
				sub.Cancel()
				return
			}
		case <-clientGone:
			sub.Cancel()
			return
		}
	}
}

// writeStreamClose sends the WebSocket close frame that ends a
// stream: normal closure for a terminal task, policy-violation-ish
// 1008 when the subscriber was dropped for lagging.
func (s *Server) writeStreamClose(conn *websocket.Conn, err error) {
	code := websocket.CloseNormalClosure
	text := "task terminal"
	if errors.Is(err, hub.ErrSubscriberLagged) {
		code = websocket.ClosePolicyViolation
		text = mcperr.ResourceExhausted.String() + ": subscriber lagged"
	}
	deadline := time.Now().Add(streamWriteTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), deadline)
}

func toOutputChunk(chunk hub.Chunk) outputChunk {
	return outputChunk{
		TaskID:      chunk.TaskID,
		Kind:        chunk.Kind.String(),
		Data:        chunk.Data,
		TimestampMS: chunk.TimestampMS,
		Seq:         chunk.Seq,
	}
}
