// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/service"
	"github.com/bureau-foundation/runlog/lib/version"
	"github.com/bureau-foundation/runlog/store"
)

// RecordService is the core state of the runlog daemon: one log
// store plus its long-lived match-all catalog index.
//
// The catalog backs the scopes/names listings and write-path
// signature validation without re-replaying the log per request.
// catalogMu serializes catalog reads against the incremental Update
// that follows every index append. Query replays build their own
// filtered Index and never touch the catalog.
//
// Request counters use atomics for lock-free reads from the status
// handler while request goroutines write concurrently.
type RecordService struct {
	store     *store.Store
	clock     clock.Clock
	logger    *slog.Logger
	startedAt time.Time

	catalogMu sync.Mutex
	catalog   *store.Index

	writeRequests  atomic.Uint64
	queryRequests  atomic.Uint64
	recordsWritten atomic.Uint64
}

// NewRecordService wraps an opened store and its catalog index.
func NewRecordService(logStore *store.Store, catalog *store.Index, clk clock.Clock, logger *slog.Logger) *RecordService {
	return &RecordService{
		store:     logStore,
		clock:     clk,
		logger:    logger,
		startedAt: clk.Now(),
		catalog:   catalog,
	}
}

// registerActions registers the record protocol on the server.
func (s *RecordService) registerActions(server *service.SocketServer) {
	server.HandleStream(record.OpQueryRecords, s.handleQueryRecords)
	server.HandleStream(record.OpScopes, s.handleScopes)
	server.HandleStream(record.OpNames, s.handleNames)
	server.HandleStream(record.OpConfigs, s.handleConfigs)

	server.Handle(record.OpWriteScope, s.handleWriteScope)
	server.Handle(record.OpWriteConfig, s.handleWriteConfig)
	server.HandleStream(record.OpWriteNames, s.handleWriteNames)
	server.Handle(record.OpDeleteScopeNames, s.handleDeleteScopeNames)
	server.HandleLarge(record.OpWriteData, s.handleWriteData)

	server.Handle(record.OpStatus, s.handleStatus)
}

// refreshCatalog advances the catalog over the bytes appended since
// the last refresh. Called after every successful index append.
func (s *RecordService) refreshCatalog() error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	return s.catalog.Update(s.store)
}

// withCatalog runs fn with the catalog locked against concurrent
// refreshes.
func (s *RecordService) withCatalog(fn func(catalog *store.Index) error) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	return fn(s.catalog)
}

// handleStatus reports operational counters and service identity.
func (s *RecordService) handleStatus(_ context.Context, _ []byte) (any, error) {
	dataSize, err := s.store.DataSize()
	if err != nil {
		return nil, err
	}
	indexSize, err := s.store.IndexSize()
	if err != nil {
		return nil, err
	}

	return record.StatusResponse{
		Version:        version.Short(),
		Path:           s.store.Path(),
		StartedAt:      s.startedAt.UnixNano(),
		LastIssuedID:   s.store.LastIssuedID(),
		DataFileSize:   dataSize,
		IndexFileSize:  indexSize,
		WriteRequests:  s.writeRequests.Load(),
		QueryRequests:  s.queryRequests.Load(),
		RecordsWritten: s.recordsWritten.Load(),
	}, nil
}
