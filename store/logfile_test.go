// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/wire"
)

// openStore opens a Store on a fresh log path under t.TempDir.
func openStore(t *testing.T) (*Store, *Index) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run")
	s, catalog, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, catalog
}

func frame(t *testing.T, rec *record.Record) []byte {
	t.Helper()
	buf, err := wire.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf
}

func TestOpenEmptyLog(t *testing.T) {
	s, catalog := openStore(t)
	if s.LastIssuedID() != 0 {
		t.Errorf("LastIssuedID = %d on empty log", s.LastIssuedID())
	}
	if catalog.MaxID() != 0 || catalog.FileOffset() != 0 {
		t.Errorf("catalog not empty: max id %d, offset %d", catalog.MaxID(), catalog.FileOffset())
	}
}

func TestAppendReturnsEndOffset(t *testing.T) {
	s, _ := openStore(t)

	first := frame(t, &record.Record{Scope: &record.Scope{ScopeID: 1, Scope: "train"}})
	end, err := s.AppendIndex(first)
	if err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	if end != int64(len(first)) {
		t.Errorf("first end = %d, want %d", end, len(first))
	}

	second := frame(t, &record.Record{Scope: &record.Scope{ScopeID: 2, Scope: "eval"}})
	end, err = s.AppendIndex(second)
	if err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	if end != int64(len(first)+len(second)) {
		t.Errorf("second end = %d, want %d", end, len(first)+len(second))
	}
}

func TestIssueIDDistinctUnderConcurrency(t *testing.T) {
	s, _ := openStore(t)

	const goroutines = 8
	const perGoroutine = 200
	ids := make(chan uint32, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				ids <- s.IssueID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("%d distinct ids, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestOpenRehydratesIDCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run")

	s, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.AppendIndex(frame(t, &record.Record{Scope: &record.Scope{ScopeID: s.IssueID(), Scope: "train"}})); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	nameID := s.IssueID()
	if _, err := s.AppendIndex(frame(t, &record.Record{Name: &record.Name{
		NameID: nameID, ScopeID: 1, Name: "loss",
		Fields: []record.FieldDef{{Name: "y", Type: record.FieldFloat32}},
	}})); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	s.Close()

	reopened, catalog, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.LastIssuedID() != nameID {
		t.Errorf("rehydrated id = %d, want %d", reopened.LastIssuedID(), nameID)
	}
	if next := reopened.IssueID(); next != nameID+1 {
		t.Errorf("next id = %d, want %d", next, nameID+1)
	}
	if got := catalog.NameList(); len(got) != 1 || got[0] != "loss" {
		t.Errorf("catalog names = %v", got)
	}
}

func TestReadDataRange(t *testing.T) {
	s, _ := openStore(t)

	payload := frame(t, &record.Record{Data: &record.Data{EntryID: 5, NameID: 2, Index: 0, Axes: []record.Axis{
		{Floats: []float32{1.5, 2.5}},
	}}})
	end, err := s.AppendData(payload)
	if err != nil {
		t.Fatalf("AppendData: %v", err)
	}

	got, err := s.ReadDataRange(end-int64(len(payload)), end)
	if err != nil {
		t.Fatalf("ReadDataRange: %v", err)
	}
	records, unconsumed, err := wire.DecodeStream(got)
	if err != nil || unconsumed != 0 || len(records) != 1 {
		t.Fatalf("decode read-back: records=%d unconsumed=%d err=%v", len(records), unconsumed, err)
	}
	if records[0].Data.EntryID != 5 {
		t.Errorf("read-back entry id = %d", records[0].Data.EntryID)
	}
}

func TestDeleteLeavesBytesInPlace(t *testing.T) {
	s, catalog := openStore(t)

	scopeID := s.IssueID()
	nameID := s.IssueID()
	var buf []byte
	var err error
	buf, err = wire.AppendFrame(buf, &record.Record{Scope: &record.Scope{ScopeID: scopeID, Scope: "train"}})
	if err != nil {
		t.Fatal(err)
	}
	buf, err = wire.AppendFrame(buf, &record.Record{Name: &record.Name{
		NameID: nameID, ScopeID: scopeID, Name: "loss",
		Fields: []record.FieldDef{{Name: "y", Type: record.FieldFloat32}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendIndex(buf); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	if err := catalog.Update(s); err != nil {
		t.Fatalf("Update: %v", err)
	}
	sizeBefore, err := s.IndexSize()
	if err != nil {
		t.Fatal(err)
	}

	tombstone := frame(t, &record.Record{Control: &record.Control{Scope: "train", Name: "loss", Action: record.ActionDeleteName}})
	if _, err := s.AppendIndex(tombstone); err != nil {
		t.Fatalf("AppendIndex tombstone: %v", err)
	}
	if err := catalog.Update(s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(catalog.NameList()) != 0 {
		t.Errorf("NameList = %v after delete", catalog.NameList())
	}
	sizeAfter, err := s.IndexSize()
	if err != nil {
		t.Fatal(err)
	}
	if sizeAfter != sizeBefore+int64(len(tombstone)) {
		t.Errorf("index grew by %d, want tombstone size %d", sizeAfter-sizeBefore, len(tombstone))
	}
	// Deletion appends; it never rewrites.
	data, err := os.ReadFile(IndexFile(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != sizeAfter {
		t.Errorf("file length %d, stat size %d", len(data), sizeAfter)
	}
}

func TestLoadDataBatchesAdjacentRanges(t *testing.T) {
	s, _ := openStore(t)

	// Three payloads appended as one batch: exactly adjacent ranges.
	var buf []byte
	var ranges []EntryRange
	offset := int64(0)
	for i := 0; i < 3; i++ {
		entryID := s.IssueID()
		payload := frame(t, &record.Record{Data: &record.Data{
			EntryID: entryID, NameID: 99, Index: uint32(i),
			Axes: []record.Axis{{Ints: []int32{int32(i), int32(i + 1)}}},
		}})
		buf = append(buf, payload...)
		ranges = append(ranges, EntryRange{EntryID: entryID, Beg: offset, End: offset + int64(len(payload))})
		offset += int64(len(payload))
	}
	if _, err := s.AppendData(buf); err != nil {
		t.Fatalf("AppendData: %v", err)
	}

	index := NewIndex(MatchAll())
	byEntry, err := index.LoadData(s, ranges)
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(byEntry) != 3 {
		t.Fatalf("LoadData groups = %d, want 3", len(byEntry))
	}
	for i, r := range ranges {
		payloads := byEntry[r.EntryID]
		if len(payloads) != 1 {
			t.Fatalf("entry %d: %d payloads", r.EntryID, len(payloads))
		}
		if payloads[0].Data.Index != uint32(i) {
			t.Errorf("entry %d: index %d, want %d", r.EntryID, payloads[0].Data.Index, i)
		}
	}
}
