// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/wire"
)

func writeFrames(t *testing.T, path string, recs ...*record.Record) {
	t.Helper()
	var buf []byte
	var err error
	for _, rec := range recs {
		if buf, err = wire.AppendFrame(buf, rec); err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDumpIndexFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.idx")
	writeFrames(t, path,
		&record.Record{Scope: &record.Scope{ScopeID: 1, Scope: "train"}},
		&record.Record{Name: &record.Name{NameID: 2, ScopeID: 1, Name: "loss", Fields: []record.FieldDef{
			{Name: "y", Type: record.FieldFloat32},
		}}},
		&record.Record{DataEntry: &record.DataEntry{EntryID: 3, NameID: 2, BegOffset: 0, EndOffset: 40}},
		&record.Record{Control: &record.Control{Scope: "train", Name: "loss", Action: record.ActionDeleteName}},
	)

	var out strings.Builder
	if err := dumpFile(&out, path); err != nil {
		t.Fatalf("dumpFile: %v", err)
	}
	text := out.String()

	for _, want := range []string{
		"4 frames",
		`scope_id=1 scope="train"`,
		`name_id=2 scope_id=1 name="loss" fields=(y:float32)`,
		"entry_id=3 name_id=2 data=[0,40)",
		`action=delete_name scope="train" name="loss"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("dump output missing %q:\n%s", want, text)
		}
	}
}

func TestDumpDataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	writeFrames(t, path,
		&record.Record{Data: &record.Data{EntryID: 3, NameID: 2, Index: 7, Axes: []record.Axis{
			{Floats: []float32{1, 2, 3}},
			{Ints: []int32{10, 20, 30}},
		}}},
	)

	var out strings.Builder
	if err := dumpFile(&out, path); err != nil {
		t.Fatalf("dumpFile: %v", err)
	}
	if !strings.Contains(out.String(), "entry_id=3 name_id=2 index=7 axes=2 points=6") {
		t.Errorf("dump output missing data line:\n%s", out.String())
	}
}

func TestDumpReportsTrailingBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.idx")
	writeFrames(t, path, &record.Record{Scope: &record.Scope{ScopeID: 1, Scope: "train"}})

	// Simulate a writer mid-append: a length prefix with no payload
	// yet.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening for append: %v", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 9, 0xaa}); err != nil {
		t.Fatalf("appending partial frame: %v", err)
	}
	f.Close()

	var out strings.Builder
	if err := dumpFile(&out, path); err != nil {
		t.Fatalf("dumpFile on truncated log: %v", err)
	}
	if !strings.Contains(out.String(), "5 trailing bytes, incomplete frame") {
		t.Errorf("dump output missing trailing-bytes report:\n%s", out.String())
	}
}

func TestDumpMissingFile(t *testing.T) {
	var out strings.Builder
	if err := dumpFile(&out, filepath.Join(t.TempDir(), "absent.idx")); err == nil {
		t.Error("expected error for missing file")
	}
}
