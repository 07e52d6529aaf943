// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides runlog's standard CBOR encoding configuration.
//
// CBOR is the one serialization format in this system: log records on
// disk, the record service socket protocol, and backup manifests all
// use it. This package provides the shared encoding and decoding modes
// so that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which is what makes log files byte-comparable across rewrites
// and lets tests assert on exact frame contents.
//
// For buffer-oriented operations (log frames, manifests):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (socket connections):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// All serialized types in this module use `cbor` struct tags; none of
// them participate in JSON serialization.
package codec
