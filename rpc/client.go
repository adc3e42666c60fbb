// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"fmt"
	"net"
	"time"

	"github.com/fcchi/mcp-security-gateway/lib/codec"
)

// Client is a minimal RPC client: one TCP connection, requests
// serialized by the caller. Not safe for concurrent use — open one
// client per goroutine.
type Client struct {
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
}

// Dial connects to a gateway's RPC surface.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}, nil
}

// Call sends one request and reads one response. Not valid for
// stream-output; use Stream.
func (c *Client) Call(req Request) (Response, error) {
	if err := c.encoder.Encode(req); err != nil {
		return Response{}, fmt.Errorf("sending %s: %w", req.Action, err)
	}
	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("reading %s response: %w", req.Action, err)
	}
	return resp, nil
}

// Stream subscribes to a task's output, invoking fn per chunk until
// the terminal Done frame. A server-side error frame ends the stream
// and is returned.
func (c *Client) Stream(taskID string, fn func(ChunkPayload) error) error {
	if err := c.encoder.Encode(Request{Action: ActionStreamOutput, TaskID: taskID}); err != nil {
		return fmt.Errorf("sending stream request: %w", err)
	}
	for {
		var resp Response
		if err := c.decoder.Decode(&resp); err != nil {
			return fmt.Errorf("reading stream frame: %w", err)
		}
		if !resp.OK {
			return fmt.Errorf("stream failed (code %d): %s", resp.Code, resp.Error)
		}
		if resp.Done {
			return nil
		}
		if resp.Chunk != nil {
			if err := fn(*resp.Chunk); err != nil {
				return err
			}
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
