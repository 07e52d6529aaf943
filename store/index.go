// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/wire"
)

// IndexSource supplies index-file bytes for replay. *Store implements
// it; tests substitute in-memory sources.
type IndexSource interface {
	ReadIndexFrom(offset int64) ([]byte, error)
}

// DataSource supplies data-file byte ranges for payload loads.
// *Store implements it.
type DataSource interface {
	ReadDataRange(beg, end int64) ([]byte, error)
}

// scopeName keys the auxiliary (scope, name) → name-id index. Control
// tombstones address series by string pair because one pair can
// accumulate several name ids across delete/recreate cycles; the
// tombstone covers all of them.
type scopeName struct {
	scope string
	name  string
}

// Index is the in-memory cache materialized by replaying a prefix of
// the index file. Updates are incremental (each Update consumes only
// newly arrived bytes), idempotent when no bytes arrived, and purely
// additive except for Control tombstones. An Index is not safe for
// concurrent use; callers that share one serialize access themselves.
type Index struct {
	filter Filter

	scopes        map[uint32]*record.Scope
	names         map[uint32]*record.Name
	entries       map[uint32]*record.DataEntry
	configEntries map[uint32]*record.ConfigEntry

	scopeNameIDs map[scopeName][]uint32
	nameEntries  map[uint32][]uint32
	scopeConfigs map[uint32][]uint32

	// arrivals records, per entry id, the absolute index-file offset
	// of the frame that delivered the entry. Incremental queries
	// stream only entries whose arrival offset is at or past the
	// requester's high-water mark.
	arrivals map[uint32]int64

	fileOffset int64
}

// NewIndex creates an empty Index with the given filter. The filter
// is fixed for the life of the Index.
func NewIndex(filter Filter) *Index {
	return &Index{
		filter:        filter,
		scopes:        make(map[uint32]*record.Scope),
		names:         make(map[uint32]*record.Name),
		entries:       make(map[uint32]*record.DataEntry),
		configEntries: make(map[uint32]*record.ConfigEntry),
		scopeNameIDs:  make(map[scopeName][]uint32),
		nameEntries:   make(map[uint32][]uint32),
		scopeConfigs:  make(map[uint32][]uint32),
		arrivals:      make(map[uint32]int64),
	}
}

// FileOffset returns the index-file offset the replay has consumed up
// to.
func (x *Index) FileOffset() int64 { return x.fileOffset }

// Update reads all index-file bytes past the current file offset from
// src, applies every complete frame in log order, and advances the
// file offset by exactly the consumed byte count. A trailing partial
// frame stays unconsumed and is retried on the next call, so Update
// is idempotent when the file has not grown. Errors indicate
// corruption (undecodable complete frame, duplicate id) and leave the
// offset at the last cleanly applied frame.
func (x *Index) Update(src IndexSource) error {
	buf, err := src.ReadIndexFrom(x.fileOffset)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	frames, _, err := wire.Frames(buf)
	if err != nil {
		return fmt.Errorf("index log at offset %d: %w", x.fileOffset, err)
	}
	for _, frame := range frames {
		rec, err := wire.DecodeFrame(frame.Payload)
		if err != nil {
			return fmt.Errorf("index log frame at offset %d: %w", x.fileOffset+int64(frame.Beg), err)
		}
		if err := x.apply(rec, x.fileOffset+int64(frame.Beg)); err != nil {
			return err
		}
		x.fileOffset += int64(frame.End - frame.Beg)
	}
	return nil
}

// apply folds one index record into the maps. The arrival argument is
// the absolute index-file offset of the record's frame.
func (x *Index) apply(rec *record.Record, arrival int64) error {
	switch rec.Kind() {
	case record.KindScope:
		scope := rec.Scope
		if _, dup := x.scopes[scope.ScopeID]; dup {
			return fmt.Errorf("duplicate scope id %d in index log", scope.ScopeID)
		}
		x.scopes[scope.ScopeID] = scope

	case record.KindName:
		name := rec.Name
		scope, known := x.scopes[name.ScopeID]
		if !known || !x.filter.Match(scope.Scope, name.Name) {
			return nil
		}
		if _, dup := x.names[name.NameID]; dup {
			return fmt.Errorf("duplicate name id %d in index log", name.NameID)
		}
		x.names[name.NameID] = name
		key := scopeName{scope: scope.Scope, name: name.Name}
		x.scopeNameIDs[key] = append(x.scopeNameIDs[key], name.NameID)

	case record.KindControl:
		ctl := rec.Control
		if ctl.Action != record.ActionDeleteName || !x.filter.Match(ctl.Scope, ctl.Name) {
			return nil
		}
		key := scopeName{scope: ctl.Scope, name: ctl.Name}
		for _, nameID := range x.scopeNameIDs[key] {
			delete(x.names, nameID)
			for _, entryID := range x.nameEntries[nameID] {
				delete(x.entries, entryID)
				delete(x.arrivals, entryID)
			}
			delete(x.nameEntries, nameID)
		}
		delete(x.scopeNameIDs, key)

	case record.KindDataEntry:
		entry := rec.DataEntry
		// An entry whose name is unknown (filtered out, or deleted
		// before the entry replayed) is dropped, not an error.
		if _, known := x.names[entry.NameID]; !known {
			return nil
		}
		if _, dup := x.entries[entry.EntryID]; dup {
			return fmt.Errorf("duplicate entry id %d in index log", entry.EntryID)
		}
		x.entries[entry.EntryID] = entry
		x.nameEntries[entry.NameID] = append(x.nameEntries[entry.NameID], entry.EntryID)
		x.arrivals[entry.EntryID] = arrival

	case record.KindConfigEntry:
		entry := rec.ConfigEntry
		if _, known := x.scopes[entry.ScopeID]; !known {
			return nil
		}
		if _, dup := x.configEntries[entry.EntryID]; dup {
			return fmt.Errorf("duplicate config entry id %d in index log", entry.EntryID)
		}
		x.configEntries[entry.EntryID] = entry
		x.scopeConfigs[entry.ScopeID] = append(x.scopeConfigs[entry.ScopeID], entry.EntryID)
		x.arrivals[entry.EntryID] = arrival

	default:
		return fmt.Errorf("unexpected %s record in index log", rec.Kind())
	}
	return nil
}

// EntryList returns the data entries whose arrival offset is at or
// past minOffset, in log order. Pass 0 for all entries. Entries are
// ordered by their begin offset in the data file, which equals append
// order for an append-only log.
func (x *Index) EntryList(minOffset int64) []*record.DataEntry {
	list := make([]*record.DataEntry, 0, len(x.entries))
	for id, entry := range x.entries {
		if x.arrivals[id] >= minOffset {
			list = append(list, entry)
		}
	}
	slices.SortFunc(list, func(a, b *record.DataEntry) int {
		return cmp.Compare(a.BegOffset, b.BegOffset)
	})
	return list
}

// ConfigEntryList returns the config entries whose arrival offset is
// at or past minOffset, in log order.
func (x *Index) ConfigEntryList(minOffset int64) []*record.ConfigEntry {
	list := make([]*record.ConfigEntry, 0, len(x.configEntries))
	for id, entry := range x.configEntries {
		if x.arrivals[id] >= minOffset {
			list = append(list, entry)
		}
	}
	slices.SortFunc(list, func(a, b *record.ConfigEntry) int {
		return cmp.Compare(a.BegOffset, b.BegOffset)
	})
	return list
}

// ScopeList returns the names of scopes that have at least one
// surviving series, sorted.
func (x *Index) ScopeList() []string {
	withNames := make(map[uint32]bool)
	for _, name := range x.names {
		withNames[name.ScopeID] = true
	}
	list := make([]string, 0, len(withNames))
	for scopeID := range withNames {
		list = append(list, x.scopes[scopeID].Scope)
	}
	sort.Strings(list)
	return list
}

// NameList returns the distinct surviving series names, sorted.
func (x *Index) NameList() []string {
	seen := make(map[string]bool, len(x.names))
	for _, name := range x.names {
		seen[name.Name] = true
	}
	list := make([]string, 0, len(seen))
	for name := range seen {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// NamesForScope returns the distinct surviving series names under
// the named scope, sorted.
func (x *Index) NamesForScope(scope string) []string {
	seen := make(map[string]bool)
	for key, ids := range x.scopeNameIDs {
		if key.scope == scope && len(ids) > 0 {
			seen[key.name] = true
		}
	}
	list := make([]string, 0, len(seen))
	for name := range seen {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// Name returns the name record for a name id, or nil if the id is
// unknown (never registered, filtered out, or tombstoned).
func (x *Index) Name(nameID uint32) *record.Name {
	return x.names[nameID]
}

// Scope returns the scope record for a scope id, or nil.
func (x *Index) Scope(scopeID uint32) *record.Scope {
	return x.scopes[scopeID]
}

// ScopeIDByName returns the id of the scope with the given name, or 0
// if no such scope has been replayed.
func (x *Index) ScopeIDByName(scope string) uint32 {
	for id, s := range x.scopes {
		if s.Scope == scope {
			return id
		}
	}
	return 0
}

// Snapshot builds the stream-leading snapshot message: scopes and
// surviving names in id order plus the consumed file offset.
func (x *Index) Snapshot() *record.IndexSnapshot {
	snapshot := &record.IndexSnapshot{FileOffset: x.fileOffset}

	scopeIDs := make([]uint32, 0, len(x.scopes))
	for id := range x.scopes {
		scopeIDs = append(scopeIDs, id)
	}
	slices.Sort(scopeIDs)
	for _, id := range scopeIDs {
		snapshot.Scopes = append(snapshot.Scopes, *x.scopes[id])
	}

	nameIDs := make([]uint32, 0, len(x.names))
	for id := range x.names {
		nameIDs = append(nameIDs, id)
	}
	slices.Sort(nameIDs)
	for _, id := range nameIDs {
		snapshot.Names = append(snapshot.Names, *x.names[id])
	}

	return snapshot
}

// MaxID returns the maximum id across all four entity maps, or 0 when
// the index is empty. Open uses this to rehydrate the id counter.
func (x *Index) MaxID() uint32 {
	var max uint32
	for id := range x.scopes {
		if id > max {
			max = id
		}
	}
	for id := range x.names {
		if id > max {
			max = id
		}
	}
	for id := range x.entries {
		if id > max {
			max = id
		}
	}
	for id := range x.configEntries {
		if id > max {
			max = id
		}
	}
	return max
}

// EntryRange is the byte range of one entry's payload in the data
// file, used by LoadData. DataRange and ConfigRange build it from the
// two entry types.
type EntryRange struct {
	EntryID uint32
	Beg     int64
	End     int64
}

// DataRange returns the payload range of a data entry.
func DataRange(entry *record.DataEntry) EntryRange {
	return EntryRange{EntryID: entry.EntryID, Beg: entry.BegOffset, End: entry.EndOffset}
}

// ConfigRange returns the payload range of a config entry.
func ConfigRange(entry *record.ConfigEntry) EntryRange {
	return EntryRange{EntryID: entry.EntryID, Beg: entry.BegOffset, End: entry.EndOffset}
}

// readAheadGap is the largest hole between two entry ranges that
// LoadData will read through rather than issuing a separate read.
// Entries written by one batch are exactly adjacent; the gap only
// opens across batches or interleaved config payloads.
const readAheadGap = 4096

// LoadData resolves entry payloads from the data file. Ranges are
// sorted by begin offset and physically adjacent runs are read in one
// positional read each (merging across gaps up to readAheadGap)
// instead of one syscall per entry. Decoded payloads are grouped by
// the entry id they carry; the caller streams them in its own entry
// order.
func (x *Index) LoadData(src DataSource, ranges []EntryRange) (map[uint32][]*record.Record, error) {
	byEntry := make(map[uint32][]*record.Record, len(ranges))
	if len(ranges) == 0 {
		return byEntry, nil
	}

	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b EntryRange) int {
		return cmp.Compare(a.Beg, b.Beg)
	})

	for run := 0; run < len(sorted); {
		runEnd := run
		for runEnd+1 < len(sorted) && sorted[runEnd+1].Beg-sorted[runEnd].End <= readAheadGap {
			runEnd++
		}
		beg := sorted[run].Beg
		end := sorted[runEnd].End
		buf, err := src.ReadDataRange(beg, end)
		if err != nil {
			return nil, err
		}
		for i := run; i <= runEnd; i++ {
			r := sorted[i]
			payloads, unconsumed, err := wire.DecodeStream(buf[r.Beg-beg : r.End-beg])
			if err != nil {
				return nil, fmt.Errorf("data log range [%d, %d): %w", r.Beg, r.End, err)
			}
			if unconsumed != 0 {
				return nil, fmt.Errorf("data log range [%d, %d): %d trailing bytes", r.Beg, r.End, unconsumed)
			}
			for _, payload := range payloads {
				switch payload.Kind() {
				case record.KindData:
					byEntry[payload.Data.EntryID] = append(byEntry[payload.Data.EntryID], payload)
				case record.KindConfig:
					byEntry[payload.Config.EntryID] = append(byEntry[payload.Config.EntryID], payload)
				default:
					return nil, fmt.Errorf("unexpected %s record in data log", payload.Kind())
				}
			}
		}
		run = runEnd + 1
	}
	return byEntry, nil
}

// Bytes serializes the full cache back into length-framed index
// bytes: scopes and surviving names in id order, then data and
// config entries in log order. Only the offline compaction tool uses
// this; entry offsets still refer to the pre-compaction data file and
// are rewritten by the caller as it copies payloads.
func (x *Index) Bytes() ([]byte, error) {
	var buf []byte
	var err error

	snapshot := x.Snapshot()
	for i := range snapshot.Scopes {
		if buf, err = wire.AppendFrame(buf, &record.Record{Scope: &snapshot.Scopes[i]}); err != nil {
			return nil, err
		}
	}
	for i := range snapshot.Names {
		if buf, err = wire.AppendFrame(buf, &record.Record{Name: &snapshot.Names[i]}); err != nil {
			return nil, err
		}
	}
	for _, entry := range x.EntryList(0) {
		if buf, err = wire.AppendFrame(buf, &record.Record{DataEntry: entry}); err != nil {
			return nil, err
		}
	}
	for _, entry := range x.ConfigEntryList(0) {
		if buf, err = wire.AppendFrame(buf, &record.Record{ConfigEntry: entry}); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
