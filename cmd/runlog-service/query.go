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
	"github.com/bureau-foundation/runlog/store"
)

// handleQueryRecords replays the index log with the request's filter
// and streams the snapshot followed by every matched data row in log
// order.
//
// Wire protocol:
//
//	Client  → Service: {action: "query_records", scope_pattern, ...}
//	Service → Client: StreamAck{OK: true}
//	Service → Client: QueryItem{Snapshot}
//	Service → Client: QueryItem{Data}        (per matched entry)
//	...                                      (EOF ends the stream)
func (s *RecordService) handleQueryRecords(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)

	var request record.QueryRecordsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("invalid query_records request: %v", err)})
		return
	}
	filter, err := store.NewFilter(request.ScopePattern, request.NamePatterns...)
	if err != nil {
		encoder.Encode(service.StreamAck{Error: err.Error()})
		return
	}

	// A fresh replay per query: the snapshot and the data stream are
	// produced from the same consistent prefix of the log.
	index := store.NewIndex(filter)
	if err := index.Update(s.store); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("replaying index: %v", err)})
		return
	}

	entries := index.EntryList(request.FileOffset)
	ranges := make([]store.EntryRange, len(entries))
	for i, entry := range entries {
		ranges[i] = store.DataRange(entry)
	}
	payloads, err := index.LoadData(s.store, ranges)
	if err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("loading payloads: %v", err)})
		return
	}

	s.queryRequests.Add(1)

	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		return
	}

	s.watchCancel(ctx, conn, func() {
		if err := s.writeItem(conn, encoder, record.QueryItem{Snapshot: index.Snapshot()}); err != nil {
			return
		}
		for _, entry := range entries {
			for _, rec := range payloads[entry.EntryID] {
				if rec.Data == nil {
					continue
				}
				if err := s.writeItem(conn, encoder, record.QueryItem{Data: rec.Data}); err != nil {
					return
				}
			}
		}
	})
}

// handleConfigs streams the snapshot and the config payloads of
// scopes matching the pattern, in log order.
func (s *RecordService) handleConfigs(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)

	var request record.ConfigsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("invalid configs request: %v", err)})
		return
	}
	filter, err := store.NewFilter(request.ScopePattern)
	if err != nil {
		encoder.Encode(service.StreamAck{Error: err.Error()})
		return
	}

	index := store.NewIndex(filter)
	if err := index.Update(s.store); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("replaying index: %v", err)})
		return
	}

	entries := index.ConfigEntryList(request.FileOffset)
	ranges := make([]store.EntryRange, len(entries))
	for i, entry := range entries {
		ranges[i] = store.ConfigRange(entry)
	}
	payloads, err := index.LoadData(s.store, ranges)
	if err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("loading payloads: %v", err)})
		return
	}

	s.queryRequests.Add(1)

	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		return
	}

	s.watchCancel(ctx, conn, func() {
		if err := s.writeItem(conn, encoder, record.QueryItem{Snapshot: index.Snapshot()}); err != nil {
			return
		}
		for _, entry := range entries {
			for _, rec := range payloads[entry.EntryID] {
				if rec.Config == nil {
					continue
				}
				if err := s.writeItem(conn, encoder, record.QueryItem{Config: rec.Config}); err != nil {
					return
				}
			}
		}
	})
}

// handleScopes streams the scope names known to the catalog.
func (s *RecordService) handleScopes(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)

	var scopes []string
	s.withCatalog(func(catalog *store.Index) error {
		scopes = catalog.ScopeList()
		return nil
	})

	s.queryRequests.Add(1)

	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		return
	}
	s.watchCancel(ctx, conn, func() {
		for _, scope := range scopes {
			if err := s.writeItem(conn, encoder, scope); err != nil {
				return
			}
		}
	})
}

// handleNames streams the surviving series names under one scope.
func (s *RecordService) handleNames(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)

	var request record.NamesRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		encoder.Encode(service.StreamAck{Error: fmt.Sprintf("invalid names request: %v", err)})
		return
	}

	var names []string
	err := s.withCatalog(func(catalog *store.Index) error {
		if catalog.ScopeIDByName(request.Scope) == 0 {
			return fmt.Errorf("unknown scope %q", request.Scope)
		}
		names = catalog.NamesForScope(request.Scope)
		return nil
	})
	if err != nil {
		encoder.Encode(service.StreamAck{Error: err.Error()})
		return
	}

	s.queryRequests.Add(1)

	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		return
	}
	s.watchCancel(ctx, conn, func() {
		for _, name := range names {
			if err := s.writeItem(conn, encoder, name); err != nil {
				return
			}
		}
	})
}

// writeItem encodes one stream item with a bounded write deadline.
func (s *RecordService) writeItem(conn net.Conn, encoder *codec.Encoder, item any) error {
	conn.SetWriteDeadline(time.Now().Add(streamItemTimeout))
	if err := encoder.Encode(item); err != nil {
		s.logger.Debug("failed to write stream item", "error", err)
		return err
	}
	return nil
}

// watchCancel runs stream while a watcher goroutine closes the
// connection on context cancellation, unblocking any in-progress
// write. The socket server's deferred conn.Close() handles the
// normal-return case.
func (s *RecordService) watchCancel(ctx context.Context, conn net.Conn, stream func()) {
	handlerDone := make(chan struct{})
	defer close(handlerDone)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handlerDone:
		}
	}()

	stream()
}
