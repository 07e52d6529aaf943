// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/runlog/lib/codec"
)

// ActionFunc processes a unary request. The raw parameter is the full
// CBOR request (including the "action" field); the handler decodes
// action-specific fields from this raw message.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}. If non-nil, the value is marshaled as
// CBOR and placed in the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes a streaming request. The handler owns the
// connection for the remainder of the request: it writes a
// [StreamAck] (ok or error), then on success streams CBOR items until
// done and returns. The server closes the connection when the handler
// returns.
type StreamFunc func(ctx context.Context, raw []byte, conn net.Conn)

// Response is the wire-format envelope for all unary responses.
// Handlers return a result value (or nil) and an error; the server
// wraps these into a Response before encoding.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// StreamAck is the first value a streaming handler writes. OK means
// the request was accepted and items follow; otherwise Error carries
// the rejection and the connection closes with nothing further.
type StreamAck struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// SocketServer serves the runlog request protocol. Each connection
// handles exactly one request: the client writes a CBOR value, the
// server dispatches it to the registered handler, and the connection
// closes when the handler is done.
//
// Register actions with Handle, HandleLarge, and HandleStream before
// calling Serve. Unknown actions receive an error response.
type SocketServer struct {
	socketPath string
	listenAddr string

	handlers       map[string]ActionFunc
	streamHandlers map[string]StreamFunc

	// largeActions may carry requests up to maxLargeRequestSize
	// instead of the default cap. Bulk data writes need this; every
	// other action fits comfortably under the default.
	largeActions map[string]bool

	logger *slog.Logger

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath
// (Unix socket), listenAddr (TCP host:port), or both. Either may be
// empty; Serve fails if both are.
func NewSocketServer(socketPath, listenAddr string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath:     socketPath,
		listenAddr:     listenAddr,
		handlers:       make(map[string]ActionFunc),
		streamHandlers: make(map[string]StreamFunc),
		largeActions:   make(map[string]bool),
		logger:         logger,
	}
}

// Handle registers a unary handler for the given action name. Panics
// if the action is already registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.checkUnregistered(action)
	s.handlers[action] = handler
}

// HandleLarge registers a unary handler whose requests may be up to
// maxLargeRequestSize bytes.
func (s *SocketServer) HandleLarge(action string, handler ActionFunc) {
	s.checkUnregistered(action)
	s.handlers[action] = handler
	s.largeActions[action] = true
}

// HandleStream registers a streaming handler for the given action
// name. Panics if the action is already registered.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.checkUnregistered(action)
	s.streamHandlers[action] = handler
}

func (s *SocketServer) checkUnregistered(action string) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	if _, exists := s.streamHandlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// Serve starts accepting connections and dispatches requests to
// registered handlers. Blocks until ctx is cancelled, then stops
// accepting new connections and waits for active handlers to
// complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	var listeners []net.Listener

	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
		}
		listener, err := net.Listen("unix", s.socketPath)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.socketPath, err)
		}
		defer func() {
			listener.Close()
			os.Remove(s.socketPath)
		}()
		listeners = append(listeners, listener)
		s.logger.Info("socket server listening", "path", s.socketPath)
	}

	if s.listenAddr != "" {
		listener, err := net.Listen("tcp", s.listenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
		}
		defer listener.Close()
		listeners = append(listeners, listener)
		s.logger.Info("tcp server listening", "address", listener.Addr())
	}

	if len(listeners) == 0 {
		return errors.New("no listen address configured")
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		for _, listener := range listeners {
			listener.Close()
		}
	}()

	var accepting sync.WaitGroup
	for _, listener := range listeners {
		accepting.Add(1)
		go func(listener net.Listener) {
			defer accepting.Done()
			s.acceptLoop(ctx, listener)
		}(listener)
	}
	accepting.Wait()

	s.activeConnections.Wait()
	return nil
}

func (s *SocketServer) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for a response or stream item to
// be written.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. 1 MB
// covers every action except bulk data writes.
const maxRequestSize = 1024 * 1024

// maxLargeRequestSize caps requests for actions registered with
// HandleLarge. Sized above the per-request element budget: 800,000
// scalar points at four bytes each plus CBOR overhead stays well
// under 16 MB.
const maxLargeRequestSize = 16 * 1024 * 1024

// handleConnection processes one request.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR value from the connection. CBOR is self-
	// delimiting so no framing protocol is needed. LimitReader
	// prevents a malicious client from exhausting memory; the
	// per-action size cap is enforced after routing.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxLargeRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	// Extract the action field for routing.
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if len(raw) > maxRequestSize && !s.largeActions[header.Action] {
		s.writeError(conn, fmt.Sprintf("request of %d bytes exceeds the %d byte limit for %q", len(raw), maxRequestSize, header.Action))
		return
	}

	if streamHandler, exists := s.streamHandlers[header.Action]; exists {
		// Clear the read deadline: the stream is server-to-client
		// from here and may outlive it.
		conn.SetReadDeadline(time.Time{})
		streamHandler(ctx, []byte(raw), conn)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

// writeError sends a failure response: {ok: false, error: "..."}.
// Write failures are logged at debug level — the connection is closing
// regardless, and the caller has already received the error.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. If non-nil, the value is marshaled as CBOR
// and placed in the "data" field: {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
