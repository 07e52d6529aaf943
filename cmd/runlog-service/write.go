// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/service"
	"github.com/bureau-foundation/runlog/lib/wire"
	"github.com/bureau-foundation/runlog/store"
)

// handleWriteScope creates one Scope record.
func (s *RecordService) handleWriteScope(_ context.Context, raw []byte) (any, error) {
	var request record.WriteScopeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid write_scope request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	scope := &record.Scope{
		ScopeID:   s.store.IssueID(),
		Scope:     request.Scope,
		CreatedAt: s.clock.Now().UnixNano(),
	}
	buf, err := wire.Encode(&record.Record{Scope: scope})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AppendIndex(buf); err != nil {
		return nil, fmt.Errorf("appending scope record: %w", err)
	}
	if err := s.refreshCatalog(); err != nil {
		return nil, err
	}

	s.writeRequests.Add(1)
	s.recordsWritten.Add(1)
	s.logger.Debug("scope created", "scope", request.Scope, "scope_id", scope.ScopeID)
	return record.WriteScopeResponse{ScopeID: scope.ScopeID}, nil
}

// handleWriteConfig persists one Config payload and its index entry.
// The payload is synced to the data file before the entry referencing
// it is appended.
func (s *RecordService) handleWriteConfig(_ context.Context, raw []byte) (any, error) {
	var request record.WriteConfigRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid write_config request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	err := s.withCatalog(func(catalog *store.Index) error {
		if catalog.Scope(request.ScopeID) == nil {
			return fmt.Errorf("unknown scope id %d", request.ScopeID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entryID := s.store.IssueID()
	payload, err := wire.Encode(&record.Record{Config: &record.Config{
		EntryID:    entryID,
		ScopeID:    request.ScopeID,
		Attributes: request.Attributes,
	}})
	if err != nil {
		return nil, err
	}
	end, err := s.store.AppendData(payload)
	if err != nil {
		return nil, fmt.Errorf("appending config payload: %w", err)
	}

	entry, err := wire.Encode(&record.Record{ConfigEntry: &record.ConfigEntry{
		EntryID:   entryID,
		ScopeID:   request.ScopeID,
		BegOffset: end - int64(len(payload)),
		EndOffset: end,
	}})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AppendIndex(entry); err != nil {
		return nil, fmt.Errorf("appending config entry: %w", err)
	}
	if err := s.refreshCatalog(); err != nil {
		return nil, err
	}

	s.writeRequests.Add(1)
	s.recordsWritten.Add(2)
	return nil, nil
}

// streamItemTimeout bounds each stream item write.
const streamItemTimeout = 10 * time.Second

// handleWriteNames registers the submitted series in one index append
// and streams back the created Name records in request order.
func (s *RecordService) handleWriteNames(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)

	var request record.WriteNamesRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("invalid write_names request: %v", err)})
		return
	}
	if err := request.Validate(); err != nil {
		encoder.Encode(service.StreamAck{Error: err.Error()})
		return
	}
	err := s.withCatalog(func(catalog *store.Index) error {
		for i := range request.Names {
			if catalog.Scope(request.Names[i].ScopeID) == nil {
				return fmt.Errorf("names[%d]: unknown scope id %d", i, request.Names[i].ScopeID)
			}
		}
		return nil
	})
	if err != nil {
		encoder.Encode(service.StreamAck{Error: err.Error()})
		return
	}

	created := make([]record.Name, len(request.Names))
	var buf []byte
	for i := range request.Names {
		spec := &request.Names[i]
		created[i] = record.Name{
			NameID:  s.store.IssueID(),
			ScopeID: spec.ScopeID,
			Name:    spec.Name,
			Fields:  spec.Fields,
		}
		buf, err = wire.AppendFrame(buf, &record.Record{Name: &created[i]})
		if err != nil {
			encoder.Encode(service.StreamAck{Error: err.Error()})
			return
		}
	}
	if _, err := s.store.AppendIndex(buf); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("appending name records: %v", err)})
		return
	}
	if err := s.refreshCatalog(); err != nil {
		encoder.Encode(service.StreamAck{Error: err.Error()})
		return
	}

	s.writeRequests.Add(1)
	s.recordsWritten.Add(uint64(len(created)))

	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		return
	}
	for i := range created {
		conn.SetWriteDeadline(time.Now().Add(streamItemTimeout))
		if err := encoder.Encode(created[i]); err != nil {
			s.logger.Debug("write_names: failed to stream created name", "error", err)
			return
		}
	}
}

// handleDeleteScopeNames appends one tombstone per listed name in one
// index append. Existing data bytes are untouched; replay drops the
// names and their entries.
func (s *RecordService) handleDeleteScopeNames(_ context.Context, raw []byte) (any, error) {
	var request record.DeleteScopeNamesRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid delete_scope_names request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	var buf []byte
	var err error
	for _, name := range request.Names {
		buf, err = wire.AppendFrame(buf, &record.Record{Control: &record.Control{
			Scope:  request.Scope,
			Name:   name,
			Action: record.ActionDeleteName,
		}})
		if err != nil {
			return nil, err
		}
	}
	if _, err := s.store.AppendIndex(buf); err != nil {
		return nil, fmt.Errorf("appending tombstones: %w", err)
	}
	if err := s.refreshCatalog(); err != nil {
		return nil, err
	}

	s.writeRequests.Add(1)
	s.recordsWritten.Add(uint64(len(request.Names)))
	s.logger.Debug("names tombstoned", "scope", request.Scope, "count", len(request.Names))
	return nil, nil
}

// handleWriteData persists a batch of data rows: all payloads in one
// data-file append, then all index entries in one index-file append.
// The single data append both amortizes the sync cost across the
// batch and guarantees no entry is visible before its payload is
// durable.
func (s *RecordService) handleWriteData(_ context.Context, raw []byte) (any, error) {
	var request record.WriteDataRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid write_data request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	// Check every row against its registered signature before
	// touching the log: a rejected request leaves no partial bytes.
	err := s.withCatalog(func(catalog *store.Index) error {
		for i := range request.Datas {
			data := &request.Datas[i]
			name := catalog.Name(data.NameID)
			if name == nil {
				return fmt.Errorf("datas[%d]: unknown name id %d", i, data.NameID)
			}
			if err := name.CheckData(data); err != nil {
				return fmt.Errorf("datas[%d]: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Frame all payloads into one buffer, tracking each frame's
	// boundaries for the index entries.
	type span struct{ beg, end int64 }
	spans := make([]span, len(request.Datas))
	var payloads []byte
	for i := range request.Datas {
		data := &request.Datas[i]
		data.EntryID = s.store.IssueID()
		beg := int64(len(payloads))
		payloads, err = wire.AppendFrame(payloads, &record.Record{Data: data})
		if err != nil {
			return nil, err
		}
		spans[i] = span{beg: beg, end: int64(len(payloads))}
	}

	end, err := s.store.AppendData(payloads)
	if err != nil {
		return nil, fmt.Errorf("appending data payloads: %w", err)
	}
	base := end - int64(len(payloads))

	var entries []byte
	for i := range request.Datas {
		data := &request.Datas[i]
		entries, err = wire.AppendFrame(entries, &record.Record{DataEntry: &record.DataEntry{
			EntryID:   data.EntryID,
			NameID:    data.NameID,
			BegOffset: base + spans[i].beg,
			EndOffset: base + spans[i].end,
		}})
		if err != nil {
			return nil, err
		}
	}
	if _, err := s.store.AppendIndex(entries); err != nil {
		return nil, fmt.Errorf("appending data entries: %w", err)
	}
	if err := s.refreshCatalog(); err != nil {
		return nil, err
	}

	s.writeRequests.Add(1)
	s.recordsWritten.Add(uint64(2 * len(request.Datas)))
	return nil, nil
}
