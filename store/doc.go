// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the append-only log storage layer and its
// in-memory replay index.
//
// A log path P owns two files: P.log (data payloads) and P.idx
// (index records), each a concatenation of length-prefixed frames
// written in causal order — an index entry only ever points at a
// data-file byte range that has already been written and synced.
// The Store serializes appends and issues entity ids; the Index
// materializes a filtered, queryable cache by replaying a prefix of
// the index file. The Index is never a source of truth: it can
// always be rebuilt by re-scanning from offset zero.
package store
