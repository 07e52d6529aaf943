// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/wire"
)

// dumpFile walks one file's frames and prints a line per record. An
// undecodable complete frame stops the walk with an error at its
// offset; a truncated trailing frame is reported as a count of
// pending bytes.
func dumpFile(out io.Writer, path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	frames, unconsumed, err := wire.Frames(buf)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(out, "%s: %d bytes, %d frames\n", path, len(buf), len(frames))
	for _, frame := range frames {
		rec, err := wire.DecodeFrame(frame.Payload)
		if err != nil {
			return fmt.Errorf("%s: frame at offset %d: %w", path, frame.Beg, err)
		}
		fmt.Fprintf(out, "%10d %6d %-12s %s\n",
			frame.Beg, frame.End-frame.Beg, rec.Kind(), describe(rec))
	}
	if unconsumed > 0 {
		fmt.Fprintf(out, "%10d        (%d trailing bytes, incomplete frame)\n",
			len(buf)-unconsumed, unconsumed)
	}
	return nil
}

// describe renders the ids and offsets of one record, by kind.
func describe(rec *record.Record) string {
	switch rec.Kind() {
	case record.KindScope:
		return fmt.Sprintf("scope_id=%d scope=%q", rec.Scope.ScopeID, rec.Scope.Scope)
	case record.KindName:
		return fmt.Sprintf("name_id=%d scope_id=%d name=%q fields=%s",
			rec.Name.NameID, rec.Name.ScopeID, rec.Name.Name, signature(rec.Name.Fields))
	case record.KindControl:
		return fmt.Sprintf("action=delete_name scope=%q name=%q", rec.Control.Scope, rec.Control.Name)
	case record.KindDataEntry:
		return fmt.Sprintf("entry_id=%d name_id=%d data=[%d,%d)",
			rec.DataEntry.EntryID, rec.DataEntry.NameID, rec.DataEntry.BegOffset, rec.DataEntry.EndOffset)
	case record.KindConfigEntry:
		return fmt.Sprintf("entry_id=%d scope_id=%d data=[%d,%d)",
			rec.ConfigEntry.EntryID, rec.ConfigEntry.ScopeID, rec.ConfigEntry.BegOffset, rec.ConfigEntry.EndOffset)
	case record.KindData:
		points := 0
		for _, axis := range rec.Data.Axes {
			points += axis.Len()
		}
		return fmt.Sprintf("entry_id=%d name_id=%d index=%d axes=%d points=%d",
			rec.Data.EntryID, rec.Data.NameID, rec.Data.Index, len(rec.Data.Axes), points)
	case record.KindConfig:
		return fmt.Sprintf("entry_id=%d scope_id=%d attributes=%d bytes",
			rec.Config.EntryID, rec.Config.ScopeID, len(rec.Config.Attributes))
	default:
		return "invalid"
	}
}

func signature(fields []record.FieldDef) string {
	s := "("
	for i, field := range fields {
		if i > 0 {
			s += ", "
		}
		s += field.Name + ":" + field.Type.String()
	}
	return s + ")"
}
