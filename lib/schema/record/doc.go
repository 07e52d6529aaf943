// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package record defines the serialized types of the runlog system:
// the entity records persisted in the two log files, and the request,
// response, and stream messages of the record service socket protocol.
//
// A log path P owns two append-only files. P.idx holds the small
// bookkeeping records (Scope, Name, Control, DataEntry, ConfigEntry)
// that the replay index scans to build its in-memory view. P.log holds
// the bulk payloads (Data, Config) that index entries point at by byte
// range. Both files carry the same frame shape: a Record wrapper with
// exactly one entity field set, CBOR-encoded, length-prefixed by the
// wire codec.
//
// Scope, Name, DataEntry, and ConfigEntry ids are drawn from a single
// monotonically increasing counter per log path; no two entities ever
// share an id. A Data payload and the DataEntry pointing at it share
// one id, as do a Config payload and its ConfigEntry.
package record
