// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the frame codec for runlog's append-only
// log files. A frame is a 4-byte big-endian payload length followed
// by one CBOR-encoded record; a log file is a plain concatenation of
// frames.
//
// Decoding is built for tailing: a truncated trailing frame (a
// partial length prefix, or a prefix whose declared payload extends
// past the available bytes) is the normal state of a file currently
// being appended to, and is reported as an unconsumed byte count
// rather than an error. A frame that is structurally complete but
// does not decode to a valid record is corruption and fails the call.
package wire
