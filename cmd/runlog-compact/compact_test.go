// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/wire"
	"github.com/bureau-foundation/runlog/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// appendIndex writes index records through the store the way the
// record service does: one frame per record, one append per call.
func appendIndex(t *testing.T, s *store.Store, recs ...*record.Record) {
	t.Helper()
	var buf []byte
	var err error
	for _, rec := range recs {
		if buf, err = wire.AppendFrame(buf, rec); err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
	}
	if _, err := s.AppendIndex(buf); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
}

// appendRow persists one data row: the framed payload into the data
// file, then the entry pointing at it into the index file.
func appendRow(t *testing.T, s *store.Store, nameID uint32, index uint32, points []float32) uint32 {
	t.Helper()
	entryID := s.IssueID()
	payload, err := wire.AppendFrame(nil, &record.Record{Data: &record.Data{
		EntryID: entryID,
		NameID:  nameID,
		Index:   index,
		Axes:    []record.Axis{{Floats: points}},
	}})
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	end, err := s.AppendData(payload)
	if err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	appendIndex(t, s, &record.Record{DataEntry: &record.DataEntry{
		EntryID:   entryID,
		NameID:    nameID,
		BegOffset: end - int64(len(payload)),
		EndOffset: end,
	}})
	return entryID
}

func appendConfig(t *testing.T, s *store.Store, scopeID uint32, attributes map[string]any) uint32 {
	t.Helper()
	raw, err := codec.Marshal(attributes)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	entryID := s.IssueID()
	payload, err := wire.AppendFrame(nil, &record.Record{Config: &record.Config{
		EntryID:    entryID,
		ScopeID:    scopeID,
		Attributes: raw,
	}})
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	end, err := s.AppendData(payload)
	if err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	appendIndex(t, s, &record.Record{ConfigEntry: &record.ConfigEntry{
		EntryID:   entryID,
		ScopeID:   scopeID,
		BegOffset: end - int64(len(payload)),
		EndOffset: end,
	}})
	return entryID
}

// buildFixture populates a log with two series under one scope plus a
// config payload, then tombstones the "discard" series. Returns the
// log path and the surviving row's points.
func buildFixture(t *testing.T) (logPath string, keepEntryID uint32) {
	t.Helper()
	logPath = filepath.Join(t.TempDir(), "run")
	s, _, err := store.Open(logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	scopeID := s.IssueID()
	appendIndex(t, s, &record.Record{Scope: &record.Scope{ScopeID: scopeID, Scope: "train"}})

	keepID := s.IssueID()
	discardID := s.IssueID()
	appendIndex(t, s,
		&record.Record{Name: &record.Name{NameID: keepID, ScopeID: scopeID, Name: "keep", Fields: []record.FieldDef{
			{Name: "y", Type: record.FieldFloat32},
		}}},
		&record.Record{Name: &record.Name{NameID: discardID, ScopeID: scopeID, Name: "discard", Fields: []record.FieldDef{
			{Name: "y", Type: record.FieldFloat32},
		}}},
	)

	// Interleave so the surviving bytes are discontiguous before the
	// rewrite.
	appendRow(t, s, discardID, 0, []float32{9, 9, 9})
	keepEntryID = appendRow(t, s, keepID, 0, []float32{1, 2, 3})
	appendRow(t, s, discardID, 1, []float32{8, 8})
	appendConfig(t, s, scopeID, map[string]any{"lr": 0.001})

	appendIndex(t, s, &record.Record{Control: &record.Control{
		Scope: "train", Name: "discard", Action: record.ActionDeleteName,
	}})
	return logPath, keepEntryID
}

func TestCompactDropsTombstonedData(t *testing.T) {
	logPath, keepEntryID := buildFixture(t)
	backupDir := filepath.Join(t.TempDir(), "backup")

	dataBefore := fileSize(t, store.DataFile(logPath))

	if err := compact(testLogger(), logPath, backupDir); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if after := fileSize(t, store.DataFile(logPath)); after >= dataBefore {
		t.Errorf("data file did not shrink: %d -> %d bytes", dataBefore, after)
	}

	s, catalog, err := store.Open(logPath)
	if err != nil {
		t.Fatalf("reopening compacted log: %v", err)
	}
	defer s.Close()

	if got := catalog.NameList(); !reflect.DeepEqual(got, []string{"keep"}) {
		t.Fatalf("NameList = %v, want [keep]", got)
	}
	entries := catalog.EntryList(0)
	if len(entries) != 1 || entries[0].EntryID != keepEntryID {
		t.Fatalf("EntryList = %+v, want just entry %d", entries, keepEntryID)
	}
	if entries[0].BegOffset != 0 {
		t.Errorf("surviving entry begins at %d, want 0 after defragmentation", entries[0].BegOffset)
	}

	loaded, err := catalog.LoadData(s, []store.EntryRange{store.DataRange(entries[0])})
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	payloads := loaded[keepEntryID]
	if len(payloads) != 1 {
		t.Fatalf("entry %d resolved to %d payloads", keepEntryID, len(payloads))
	}
	points := payloads[0].Data.Axes[0].Floats
	if !reflect.DeepEqual(points, []float32{1, 2, 3}) {
		t.Errorf("surviving points = %v, want [1 2 3]", points)
	}

	configs := catalog.ConfigEntryList(0)
	if len(configs) != 1 {
		t.Fatalf("ConfigEntryList = %+v, want one entry", configs)
	}
	configLoaded, err := catalog.LoadData(s, []store.EntryRange{store.ConfigRange(configs[0])})
	if err != nil {
		t.Fatalf("LoadData config: %v", err)
	}
	var attributes map[string]any
	if err := codec.Unmarshal(configLoaded[configs[0].EntryID][0].Config.Attributes, &attributes); err != nil {
		t.Fatalf("decoding config attributes: %v", err)
	}
	if attributes["lr"] != 0.001 {
		t.Errorf("config lr = %v, want 0.001", attributes["lr"])
	}
}

func TestCompactPreservesIDCounter(t *testing.T) {
	logPath, _ := buildFixture(t)

	s, _, err := store.Open(logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	lastBefore := s.LastIssuedID()
	s.Close()

	if err := compact(testLogger(), logPath, filepath.Join(t.TempDir(), "backup")); err != nil {
		t.Fatalf("compact: %v", err)
	}

	s, _, err = store.Open(logPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	// Tombstoned entities drop out of the rewritten index, so the
	// recovered counter may regress to the maximum surviving id but
	// must never fall below it.
	if s.LastIssuedID() > lastBefore {
		t.Errorf("id counter grew across compaction: %d -> %d", lastBefore, s.LastIssuedID())
	}
	if s.LastIssuedID() == 0 {
		t.Error("id counter lost across compaction")
	}
}

func TestCompactRefusesLockedFiles(t *testing.T) {
	logPath, _ := buildFixture(t)

	f, err := os.OpenFile(store.DataFile(logPath), os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("opening data file: %v", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		t.Fatalf("taking lock: %v", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := compact(testLogger(), logPath, filepath.Join(t.TempDir(), "backup")); err == nil {
		t.Error("compact ran despite a held write lock")
	}
}

func TestBackupVerifyRoundTrip(t *testing.T) {
	logPath, _ := buildFixture(t)
	backupDir := filepath.Join(t.TempDir(), "backup")

	if err := writeBackup(logPath, backupDir); err != nil {
		t.Fatalf("writeBackup: %v", err)
	}
	if err := verifyBackup(backupDir); err != nil {
		t.Errorf("verifyBackup on a fresh backup: %v", err)
	}
}

func TestBackupVerifyDetectsTamper(t *testing.T) {
	logPath, _ := buildFixture(t)
	backupDir := filepath.Join(t.TempDir(), "backup")
	if err := writeBackup(logPath, backupDir); err != nil {
		t.Fatalf("writeBackup: %v", err)
	}

	// Recompress different bytes into an existing member: size and
	// compression are plausible but the digest cannot match.
	member := filepath.Join(backupDir, "data.zst")
	original, err := os.ReadFile(store.DataFile(logPath))
	if err != nil {
		t.Fatalf("reading data file: %v", err)
	}
	original[0] ^= 0xff
	tampered := filepath.Join(t.TempDir(), "tampered")
	if err := os.WriteFile(tampered, original, 0o644); err != nil {
		t.Fatalf("writing tampered source: %v", err)
	}
	if _, _, err := compressMember(tampered, member); err != nil {
		t.Fatalf("compressMember: %v", err)
	}

	if err := verifyBackup(backupDir); err == nil {
		t.Error("verifyBackup accepted a tampered member")
	}
}

func TestVerifyMissingManifest(t *testing.T) {
	if err := verifyBackup(t.TempDir()); err == nil {
		t.Error("verifyBackup accepted a directory without a manifest")
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}
