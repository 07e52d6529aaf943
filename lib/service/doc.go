// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the CBOR-over-socket request protocol
// shared by the runlog daemon and its clients.
//
// Each connection carries exactly one request. The client writes a
// CBOR map with an "action" field plus action-specific fields. For
// unary actions the server replies with a single [Response] envelope
// and closes. For streaming actions the server replies with a
// [StreamAck], then (on success) a sequence of CBOR items; the end of
// the stream is signalled by the server closing the connection.
//
// The server listens on a Unix socket, a TCP address, or both.
package service
