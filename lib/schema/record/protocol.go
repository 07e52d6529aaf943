// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/runlog/lib/codec"
)

// Action names for the record service socket protocol. Unary actions
// reply with a single response envelope; stream actions reply with a
// stream acknowledgement followed by CBOR items until the server
// closes the connection.
const (
	// OpQueryRecords streams one IndexSnapshot, then one Data record
	// per matched data entry in log order. Stream item type: QueryItem.
	OpQueryRecords = "query_records"

	// OpScopes streams the names of scopes that have at least one
	// registered series. Stream item type: string.
	OpScopes = "scopes"

	// OpNames streams the distinct series names under a scope. Stream
	// item type: string.
	OpNames = "names"

	// OpConfigs streams one IndexSnapshot, then one Config record per
	// matched config entry in log order. Stream item type: QueryItem.
	OpConfigs = "configs"

	// OpWriteScope creates a Scope record and returns its id. Unary.
	OpWriteScope = "write_scope"

	// OpWriteConfig persists one Config payload for a scope. Unary.
	OpWriteConfig = "write_config"

	// OpWriteNames registers series names and streams back the
	// created Name records with assigned ids. Stream item type: Name.
	OpWriteNames = "write_names"

	// OpDeleteScopeNames appends one Control tombstone per listed
	// name. Unary.
	OpDeleteScopeNames = "delete_scope_names"

	// OpWriteData persists a batch of Data payloads and their index
	// entries. Unary.
	OpWriteData = "write_data"

	// OpStatus reports service counters and identity. Unary.
	OpStatus = "status"
)

// MaxElementsPerRequest caps the total number of scalar points in one
// write_data request. The ingestion client enforces it before sending
// (splitting oversized batches); the service enforces it again
// defensively and rejects violating requests.
const MaxElementsPerRequest = 800_000

// QueryRecordsRequest is the CBOR request for the "query_records"
// action. Patterns are RE2 regular expressions matched unanchored,
// like the search semantics of package regexp; empty pattern lists
// match everything.
type QueryRecordsRequest struct {
	// ScopePattern filters scopes by name. Empty matches all scopes.
	ScopePattern string `cbor:"scope_pattern,omitempty"`

	// NamePatterns filters series by name; a series is included when
	// any pattern matches. Empty matches all series.
	NamePatterns []string `cbor:"name_patterns,omitempty"`

	// FileOffset makes the query incremental: Data records are only
	// streamed for entries that reached the index log at or after
	// this offset. Pass the FileOffset of the previous response's
	// snapshot to fetch only what is new. Zero streams everything.
	FileOffset int64 `cbor:"file_offset,omitempty"`
}

// NamesRequest is the CBOR request for the "names" action.
type NamesRequest struct {
	// Scope is the exact scope name to list series for.
	Scope string `cbor:"scope"`
}

// ConfigsRequest is the CBOR request for the "configs" action.
type ConfigsRequest struct {
	// ScopePattern filters scopes by name. Empty matches all scopes.
	ScopePattern string `cbor:"scope_pattern,omitempty"`

	// FileOffset limits the Config stream to entries that reached the
	// index log at or after this offset. Zero streams everything.
	FileOffset int64 `cbor:"file_offset,omitempty"`
}

// WriteScopeRequest is the CBOR request for the "write_scope" action.
type WriteScopeRequest struct {
	// Scope is the scope name to create.
	Scope string `cbor:"scope"`
}

// Validate checks the request is well-formed.
func (r *WriteScopeRequest) Validate() error {
	if r.Scope == "" {
		return errors.New("scope must not be empty")
	}
	return nil
}

// WriteScopeResponse is the CBOR response for the "write_scope"
// action.
type WriteScopeResponse struct {
	// ScopeID is the id assigned to the created scope.
	ScopeID uint32 `cbor:"scope_id"`
}

// WriteConfigRequest is the CBOR request for the "write_config"
// action.
type WriteConfigRequest struct {
	// ScopeID is the id returned by a previous write_scope call.
	ScopeID uint32 `cbor:"scope_id"`

	// Attributes is the raw CBOR encoding of the configuration
	// structure to persist.
	Attributes codec.RawMessage `cbor:"attributes,omitempty"`
}

// Validate checks the request is well-formed.
func (r *WriteConfigRequest) Validate() error {
	if r.ScopeID == 0 {
		return errors.New("scope_id must be set")
	}
	return nil
}

// NameSpec describes one series to register via "write_names".
type NameSpec struct {
	// ScopeID is the id of the owning scope.
	ScopeID uint32 `cbor:"scope_id"`

	// Name is the series name to create under the scope.
	Name string `cbor:"name"`

	// Fields is the ordered field signature the series is fixed to.
	Fields []FieldDef `cbor:"fields"`
}

// Validate checks the spec is well-formed: a scope id, a non-empty
// name, and at least one field with distinct non-empty field names
// and defined element types.
func (s *NameSpec) Validate() error {
	if s.ScopeID == 0 {
		return errors.New("scope_id must be set")
	}
	if s.Name == "" {
		return errors.New("name must not be empty")
	}
	if len(s.Fields) == 0 {
		return errors.New("signature must have at least one field")
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, field := range s.Fields {
		if field.Name == "" {
			return fmt.Errorf("field %d: name must not be empty", i)
		}
		if seen[field.Name] {
			return fmt.Errorf("field %d: duplicate field name %q", i, field.Name)
		}
		seen[field.Name] = true
		if !field.Type.Valid() {
			return fmt.Errorf("field %q: unknown element type %d", field.Name, field.Type)
		}
	}
	return nil
}

// WriteNamesRequest is the CBOR request for the "write_names" action.
type WriteNamesRequest struct {
	// Names lists the series to register. The response streams one
	// created Name record per spec, in request order.
	Names []NameSpec `cbor:"names"`
}

// Validate checks every spec in the request.
func (r *WriteNamesRequest) Validate() error {
	if len(r.Names) == 0 {
		return errors.New("names must not be empty")
	}
	for i := range r.Names {
		if err := r.Names[i].Validate(); err != nil {
			return fmt.Errorf("names[%d]: %w", i, err)
		}
	}
	return nil
}

// DeleteScopeNamesRequest is the CBOR request for the
// "delete_scope_names" action.
type DeleteScopeNamesRequest struct {
	// Scope is the scope name the deletions apply to.
	Scope string `cbor:"scope"`

	// Names lists the series names to tombstone.
	Names []string `cbor:"names"`
}

// Validate checks the request is well-formed.
func (r *DeleteScopeNamesRequest) Validate() error {
	if r.Scope == "" {
		return errors.New("scope must not be empty")
	}
	if len(r.Names) == 0 {
		return errors.New("names must not be empty")
	}
	for i, name := range r.Names {
		if name == "" {
			return fmt.Errorf("names[%d] must not be empty", i)
		}
	}
	return nil
}

// WriteDataRequest is the CBOR request for the "write_data" action.
// EntryID fields in the submitted Data values are ignored; the
// service assigns them.
type WriteDataRequest struct {
	// Datas are the rows to persist, in write order.
	Datas []Data `cbor:"datas"`
}

// Validate checks structural well-formedness and the element budget.
// Signature conformance against registered names is checked by the
// service, which owns the name catalog.
func (r *WriteDataRequest) Validate() error {
	if len(r.Datas) == 0 {
		return errors.New("datas must not be empty")
	}
	total := 0
	for i := range r.Datas {
		data := &r.Datas[i]
		if data.NameID == 0 {
			return fmt.Errorf("datas[%d]: name_id must be set", i)
		}
		if len(data.Axes) == 0 {
			return fmt.Errorf("datas[%d]: axes must not be empty", i)
		}
		for j, axis := range data.Axes {
			if len(axis.Ints) > 0 && len(axis.Floats) > 0 {
				return fmt.Errorf("datas[%d]: axes[%d] carries both int and float points", i, j)
			}
		}
		total += data.Elems()
	}
	if total > MaxElementsPerRequest {
		return fmt.Errorf("request carries %d elements, budget is %d", total, MaxElementsPerRequest)
	}
	return nil
}

// CheckData verifies that one Data row conforms to the name's field
// signature: one axis per field, each axis payload consistent with
// the field's declared element type.
func (n *Name) CheckData(d *Data) error {
	if len(d.Axes) != len(n.Fields) {
		return fmt.Errorf("series %q expects %d fields, row has %d axes", n.Name, len(n.Fields), len(d.Axes))
	}
	for i, field := range n.Fields {
		if !d.Axes[i].Matches(field.Type) {
			return fmt.Errorf("series %q field %q: axis payload is not %s", n.Name, field.Name, field.Type)
		}
	}
	return nil
}

// IndexSnapshot is the first item of a "query_records" or "configs"
// stream: the surviving scopes and names of the filtered replay, plus
// the index-log offset the replay consumed up to.
type IndexSnapshot struct {
	// Scopes are the scope records known to the replay, in id order.
	Scopes []Scope `cbor:"scopes,omitempty"`

	// Names are the surviving (not tombstoned) name records that
	// passed the query's filters, in id order.
	Names []Name `cbor:"names,omitempty"`

	// FileOffset is the index-log offset the replay consumed up to.
	// Pass it as the next request's FileOffset for incremental
	// fetching.
	FileOffset int64 `cbor:"file_offset"`
}

// QueryItem is one element of a "query_records" or "configs" stream.
// Exactly one field is set. The first item of a stream is always the
// snapshot; Data or Config items follow in log order.
type QueryItem struct {
	Snapshot *IndexSnapshot `cbor:"snapshot,omitempty"`
	Data     *Data          `cbor:"data,omitempty"`
	Config   *Config        `cbor:"config,omitempty"`
}

// StatusResponse is the CBOR response for the "status" action.
type StatusResponse struct {
	// Version is the service build version.
	Version string `cbor:"version"`

	// Path is the log path the service owns (without the .log/.idx
	// suffix).
	Path string `cbor:"path"`

	// StartedAt is when the service started, as Unix nanoseconds.
	StartedAt int64 `cbor:"started_at"`

	// LastIssuedID is the most recent id handed out by the store.
	LastIssuedID uint32 `cbor:"last_issued_id"`

	// DataFileSize and IndexFileSize are the current file lengths in
	// bytes.
	DataFileSize  int64 `cbor:"data_file_size"`
	IndexFileSize int64 `cbor:"index_file_size"`

	// WriteRequests counts write_scope, write_config, write_names,
	// delete_scope_names, and write_data requests handled.
	WriteRequests uint64 `cbor:"write_requests"`

	// QueryRequests counts query_records, scopes, names, and configs
	// requests handled.
	QueryRequests uint64 `cbor:"query_requests"`

	// RecordsWritten counts individual records appended to either
	// file.
	RecordsWritten uint64 `cbor:"records_written"`
}
