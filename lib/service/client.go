// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bureau-foundation/runlog/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service. This is separate from the server's read/write timeouts —
// it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a unary response, or the next stream item, after writing the
// request. Matched to the server's readTimeout + writeTimeout to
// account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single unary CBOR
// response. Matches the server's large-request cap.
const maxResponseSize = 16 * 1024 * 1024

// ServiceError is returned when the server rejects a request
// (response ok=false, or a stream acknowledgement carrying an error).
// It wraps the server's error message and the action that failed.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Client sends CBOR requests to a runlog service. Each Call or
// CallStream opens a new connection (matching the server's
// one-request-per-connection model).
//
// The address is either a Unix socket path (contains a path
// separator) or a TCP host:port.
type Client struct {
	network string
	address string
}

// NewClient creates a client for the given address. An address
// containing "/" is treated as a Unix socket path; anything else as a
// TCP host:port.
func NewClient(address string) *Client {
	network := "tcp"
	if strings.Contains(address, "/") {
		network = "unix"
	}
	return &Client{network: network, address: address}
}

// Call sends a unary request and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for
// actions that take no additional parameters. The caller must not
// include an "action" key in the fields map.
//
// On success (response ok=true), if result is non-nil and the
// response contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *ServiceError containing
// the server's error message. Connection and encoding errors are
// returned as plain errors (not *ServiceError).
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.send(ctx, action, fields)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.address, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.address, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// CallStream sends a streaming request and reads the server's stream
// acknowledgement. On an ok acknowledgement it returns a Stream for
// reading the items that follow; the caller must Close it. A rejected
// request returns a *ServiceError.
func (c *Client) CallStream(ctx context.Context, action string, fields map[string]any) (*Stream, error) {
	conn, err := c.send(ctx, action, fields)
	if err != nil {
		return nil, fmt.Errorf("calling %q on %s: %w", action, c.address, err)
	}

	// One decoder for the whole stream: the decoder buffers reads,
	// so it must not be recreated between items. Item sizes are
	// bounded by the server's own request cap, not enforced here.
	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	decoder := codec.NewDecoder(conn)

	var ack StreamAck
	if err := decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("calling %q on %s: reading stream ack: %w", action, c.address, err)
	}
	if !ack.OK {
		conn.Close()
		return nil, &ServiceError{
			Action:  action,
			Message: ack.Error,
		}
	}

	return &Stream{action: action, conn: conn, decoder: decoder}, nil
}

// Stream reads the items of an accepted streaming response. Items
// arrive in server order; the server closing the connection ends the
// stream.
type Stream struct {
	action  string
	conn    net.Conn
	decoder *codec.Decoder
}

// Next decodes the next stream item into result. Returns io.EOF when
// the server has closed the stream.
func (s *Stream) Next(result any) error {
	s.conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	if err := s.decoder.Decode(result); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("reading %q stream item: %w", s.action, err)
	}
	return nil
}

// Close releases the stream's connection. Safe to call after Next
// returned io.EOF.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// send connects, builds the request map, and writes it. The caller
// owns the returned connection.
func (c *Client) send(ctx context.Context, action string, fields map[string]any) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	var request map[string]any
	if fields != nil {
		request = make(map[string]any, len(fields)+1)
		for key, value := range fields {
			request[key] = value
		}
	} else {
		request = make(map[string]any, 1)
	}
	request["action"] = action

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}

	return conn, nil
}
