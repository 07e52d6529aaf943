// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/recordclient"
	"github.com/bureau-foundation/runlog/lib/schema/record"
)

// defaultFlushEvery is the flush worker's wake interval when the
// config leaves it unset.
const defaultFlushEvery = 2 * time.Second

// Config configures a Logger.
type Config struct {
	// Address is the record service address: a Unix socket path or a
	// TCP host:port.
	Address string

	// Scope is the scope name all of this logger's series live under.
	// Registered once at construction.
	Scope string

	// FlushEvery is the interval between flush cycles. Default 2s.
	FlushEvery time.Duration

	// KeepExistingNames retains series from a previous run under the
	// same names. By default the first write to each name in this
	// process tombstones prior series of that name first, so a rerun
	// replaces rather than appends to old data.
	KeepExistingNames bool

	// Clock defaults to the real clock. Tests inject a fake to drive
	// flush cycles deterministically.
	Clock clock.Clock

	// Logger defaults to slog.Default(). Flush failures are reported
	// here; they are not surfaced to Write callers.
	Logger *slog.Logger
}

// writeItem is one buffered Write call: every field broadcast to a
// common rows × points shape.
type writeItem struct {
	name       string
	startIndex uint32
	fields     []Field
}

func (w *writeItem) elems() int {
	total := 0
	for _, field := range w.fields {
		total += field.data.elems()
	}
	return total
}

// Logger buffers writes for one scope and ships them to the record
// service on a fixed cadence. Write never blocks on network I/O; the
// background worker owns all RPCs. Delivery is fire and forget.
type Logger struct {
	client     *recordclient.Client
	scope      string
	scopeID    uint32
	flushEvery time.Duration
	keepNames  bool
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	pending []writeItem
	closed  bool

	configMu   sync.Mutex
	configSent bool

	// nameIDs caches server-assigned series ids. Owned by the flush
	// worker after construction.
	nameIDs map[string]uint32

	closeCh chan struct{}
	done    chan struct{}
}

// New connects to the record service, registers the scope, and
// starts the flush worker.
func New(ctx context.Context, cfg Config) (*Logger, error) {
	var errs []error
	if cfg.Address == "" {
		errs = append(errs, errors.New("address must not be empty"))
	}
	if cfg.Scope == "" {
		errs = append(errs, errors.New("scope must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := recordclient.New(cfg.Address)
	scopeID, err := client.WriteScope(ctx, cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("registering scope %q: %w", cfg.Scope, err)
	}

	l := &Logger{
		client:     client,
		scope:      cfg.Scope,
		scopeID:    scopeID,
		flushEvery: cfg.FlushEvery,
		keepNames:  cfg.KeepExistingNames,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		nameIDs:    make(map[string]uint32),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go l.flushLoop()
	return l, nil
}

// Write buffers one batch of points for the named series. Each field
// is normalized to two dimensions (scalar → 1×1, vector → 1×N) and
// all fields are broadcast to a common shape; row r carries series
// index startIndex+r.
//
// Shape errors, duplicate field names, and a batch exceeding the
// per-request element budget are rejected immediately. Network
// failures are not: delivery happens asynchronously and is fire and
// forget.
func (l *Logger) Write(name string, startIndex uint32, fields ...Field) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	if len(fields) == 0 {
		return errors.New("write must carry at least one field")
	}

	rows, points := 1, 1
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		if field.err != nil {
			return fmt.Errorf("field %q: %w", field.name, field.err)
		}
		if field.name == "" {
			return errors.New("field name must not be empty")
		}
		if seen[field.name] {
			return fmt.Errorf("duplicate field name %q", field.name)
		}
		seen[field.name] = true
		rows = max(rows, field.data.rows)
		points = max(points, field.data.points)
	}

	broadcast := make([]Field, len(fields))
	for i, field := range fields {
		data, err := field.data.broadcastTo(rows, points)
		if err != nil {
			return fmt.Errorf("field %q: %w", field.name, err)
		}
		broadcast[i] = Field{name: field.name, data: data}
	}

	item := writeItem{name: name, startIndex: startIndex, fields: broadcast}
	if total := item.elems(); total > record.MaxElementsPerRequest {
		return fmt.Errorf("write carries %d elements, budget is %d", total, record.MaxElementsPerRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("logger is closed")
	}
	l.pending = append(l.pending, item)
	return nil
}

// LogConfig persists one free-form configuration payload for the
// scope. Callable at most once per Logger lifetime; unlike Write
// this is a synchronous RPC.
func (l *Logger) LogConfig(ctx context.Context, attributes any) error {
	l.configMu.Lock()
	defer l.configMu.Unlock()
	if l.configSent {
		return errors.New("config already logged for this logger")
	}
	if err := l.client.WriteConfig(ctx, l.scopeID, attributes); err != nil {
		return err
	}
	l.configSent = true
	return nil
}

// DeleteScope tombstones every surviving series under the scope.
func (l *Logger) DeleteScope(ctx context.Context) error {
	names, err := l.client.Names(ctx, l.scope)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	return l.client.DeleteScopeNames(ctx, l.scope, names)
}

// Close stops accepting writes, flushes everything buffered before
// the call, and waits for the worker to exit. No write buffered
// before Close is lost on a reachable service; writes after Close
// are rejected.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.closeCh)
	<-l.done
	return nil
}

func (l *Logger) flushLoop() {
	defer close(l.done)

	ticker := l.clock.NewTicker(l.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.flush(l.drain())
		case <-l.closeCh:
			// Final flush of everything enqueued before Close.
			l.flush(l.drain())
			return
		}
	}
}

func (l *Logger) drain() []writeItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := l.pending
	l.pending = nil
	return items
}

// flush coalesces, splits, registers, and ships one cycle's worth of
// buffered writes. Failures are logged and the cycle's remaining
// requests still ship; there is no re-send of a failed batch.
func (l *Logger) flush(items []writeItem) {
	if len(items) == 0 {
		return
	}
	ctx := context.Background()

	batch := l.coalesce(items)
	batch = l.splitOverBudget(batch)

	if err := l.registerNames(ctx, batch); err != nil {
		l.logger.Warn("dropping flush batch: registering names failed",
			"scope", l.scope,
			"items", len(batch),
			"error", err,
		)
		return
	}

	for _, datas := range l.packRequests(batch) {
		if err := l.client.WriteData(ctx, datas); err != nil {
			l.logger.Warn("dropping write_data batch",
				"scope", l.scope,
				"rows", len(datas),
				"error", err,
			)
		}
	}
}

// coalesce stable-sorts the cycle's items by (name, start index) and
// concatenates each run along the point axis, preserving the
// original write order within a run. Items that cannot be merged
// (mismatched field sets or row counts) stay separate.
func (l *Logger) coalesce(items []writeItem) []writeItem {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].name != items[j].name {
			return items[i].name < items[j].name
		}
		return items[i].startIndex < items[j].startIndex
	})

	out := items[:0]
	for _, item := range items {
		if len(out) == 0 {
			out = append(out, item)
			continue
		}
		last := &out[len(out)-1]
		if last.name != item.name || last.startIndex != item.startIndex {
			out = append(out, item)
			continue
		}
		merged, err := mergeItems(*last, item)
		if err != nil {
			l.logger.Warn("cannot coalesce writes, keeping separate",
				"name", item.name,
				"start_index", item.startIndex,
				"error", err,
			)
			out = append(out, item)
			continue
		}
		*last = merged
	}
	return out
}

func mergeItems(a, b writeItem) (writeItem, error) {
	if len(a.fields) != len(b.fields) {
		return writeItem{}, fmt.Errorf("field count %d vs %d", len(a.fields), len(b.fields))
	}
	merged := writeItem{name: a.name, startIndex: a.startIndex, fields: make([]Field, len(a.fields))}
	for i := range a.fields {
		if a.fields[i].name != b.fields[i].name {
			return writeItem{}, fmt.Errorf("field %q vs %q at position %d", a.fields[i].name, b.fields[i].name, i)
		}
		data, err := a.fields[i].data.concat(b.fields[i].data)
		if err != nil {
			return writeItem{}, fmt.Errorf("field %q: %w", a.fields[i].name, err)
		}
		merged.fields[i] = Field{name: a.fields[i].name, data: data}
	}
	return merged, nil
}

// splitOverBudget partitions any coalesced item whose element count
// exceeds the per-request budget into contiguous column slices, each
// under the budget. Individual writes are bounded at Write time, so
// only coalescing can push an item over.
func (l *Logger) splitOverBudget(items []writeItem) []writeItem {
	var out []writeItem
	for _, item := range items {
		total := item.elems()
		if total <= record.MaxElementsPerRequest {
			out = append(out, item)
			continue
		}

		parts := (total + record.MaxElementsPerRequest - 1) / record.MaxElementsPerRequest
		points := item.fields[0].data.points
		if parts > points {
			parts = points
		}
		base := points / parts
		extra := points % parts
		beg := 0
		for p := 0; p < parts; p++ {
			width := base
			if p < extra {
				width++
			}
			end := beg + width
			piece := writeItem{name: item.name, startIndex: item.startIndex, fields: make([]Field, len(item.fields))}
			for i, field := range item.fields {
				piece.fields[i] = Field{name: field.name, data: field.data.sliceColumns(beg, end)}
			}
			out = append(out, piece)
			beg = end
		}
	}
	return out
}

// registerNames resolves server ids for every name in the batch that
// this logger has not registered yet, with one write_names RPC
// covering all of them. Unless the logger keeps existing names, the
// new names are tombstoned first so a rerun replaces a previous
// run's series.
func (l *Logger) registerNames(ctx context.Context, batch []writeItem) error {
	var newNames []string
	seen := make(map[string]bool)
	specs := make([]record.NameSpec, 0)
	for _, item := range batch {
		if _, known := l.nameIDs[item.name]; known || seen[item.name] {
			continue
		}
		seen[item.name] = true
		newNames = append(newNames, item.name)

		fields := make([]record.FieldDef, len(item.fields))
		for i, field := range item.fields {
			fields[i] = field.fieldDef()
		}
		specs = append(specs, record.NameSpec{
			ScopeID: l.scopeID,
			Name:    item.name,
			Fields:  fields,
		})
	}
	if len(specs) == 0 {
		return nil
	}

	if !l.keepNames {
		if err := l.client.DeleteScopeNames(ctx, l.scope, newNames); err != nil {
			return fmt.Errorf("clearing previous series: %w", err)
		}
	}

	created, err := l.client.WriteNames(ctx, specs)
	if err != nil {
		return err
	}
	for _, name := range created {
		l.nameIDs[name.Name] = name.NameID
	}
	return nil
}

// packRequests converts the batch to wire rows and groups them into
// write_data requests, closing a request whenever the next item
// would push it over the element budget. Requests ship in batch
// order.
func (l *Logger) packRequests(batch []writeItem) [][]record.Data {
	var requests [][]record.Data
	var current []record.Data
	currentElems := 0

	for _, item := range batch {
		itemElems := item.elems()
		if currentElems+itemElems > record.MaxElementsPerRequest && len(current) > 0 {
			requests = append(requests, current)
			current = nil
			currentElems = 0
		}

		nameID := l.nameIDs[item.name]
		rows := item.fields[0].data.rows
		for r := 0; r < rows; r++ {
			axes := make([]record.Axis, len(item.fields))
			for i, field := range item.fields {
				axes[i] = field.data.row(r)
			}
			current = append(current, record.Data{
				NameID: nameID,
				Index:  item.startIndex + uint32(r),
				Axes:   axes,
			})
		}
		currentElems += itemElems
	}
	if len(current) > 0 {
		requests = append(requests, current)
	}
	return requests
}
