// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runlog/store"
)

// compact backs up the file pair, replays the index with a match-all
// filter, and rewrites both files with only the surviving records:
// tombstoned series, their data entries, and their payload bytes are
// dropped, and every offset is rebuilt contiguously. Entity ids are
// copied through unchanged.
func compact(logger *slog.Logger, logPath, backupDir string) error {
	unlock, err := lockPair(logPath)
	if err != nil {
		return err
	}
	defer unlock()

	if err := writeBackup(logPath, backupDir); err != nil {
		return err
	}
	logger.Info("backup written", "dir", backupDir)

	logStore, catalog, err := store.Open(logPath)
	if err != nil {
		return err
	}
	defer logStore.Close()

	oldDataSize, err := logStore.DataSize()
	if err != nil {
		return err
	}

	// Surviving payload spans in data-file order. Control tombstones
	// already fell out during replay: the catalog holds only live
	// entries, and anything between their spans is dead bytes.
	type span struct {
		beg, end int64
		set      func(beg, end int64)
	}
	var spans []span
	for _, entry := range catalog.EntryList(0) {
		spans = append(spans, span{
			beg: entry.BegOffset,
			end: entry.EndOffset,
			set: func(beg, end int64) {
				entry.BegOffset = beg
				entry.EndOffset = end
			},
		})
	}
	for _, entry := range catalog.ConfigEntryList(0) {
		spans = append(spans, span{
			beg: entry.BegOffset,
			end: entry.EndOffset,
			set: func(beg, end int64) {
				entry.BegOffset = beg
				entry.EndOffset = end
			},
		})
	}
	slices.SortFunc(spans, func(a, b span) int {
		return cmp.Compare(a.beg, b.beg)
	})

	// Copy surviving payload bytes verbatim into the new data file,
	// assigning contiguous offsets. The catalog's entries are updated
	// in place so its Bytes export below carries the new offsets.
	var newData []byte
	for _, s := range spans {
		payload, err := logStore.ReadDataRange(s.beg, s.end)
		if err != nil {
			return fmt.Errorf("reading payload [%d, %d): %w", s.beg, s.end, err)
		}
		beg := int64(len(newData))
		newData = append(newData, payload...)
		s.set(beg, int64(len(newData)))
	}

	newIndex, err := catalog.Bytes()
	if err != nil {
		return fmt.Errorf("serializing compacted index: %w", err)
	}

	if err := replaceFile(store.DataFile(logPath), newData); err != nil {
		return err
	}
	if err := replaceFile(store.IndexFile(logPath), newIndex); err != nil {
		return err
	}

	logger.Info("compaction complete",
		"path", logPath,
		"data_bytes_before", oldDataSize,
		"data_bytes_after", len(newData),
		"index_bytes_after", len(newIndex),
		"entries", len(spans),
	)
	return nil
}

// lockPair takes a non-blocking exclusive advisory lock on both files
// of the log path and holds it until the returned release function is
// called. A record service appending to the same path takes the same
// lock per write, so a held lock here means the pair cannot change
// underneath the rewrite.
func lockPair(logPath string) (func(), error) {
	var locked []*os.File
	release := func() {
		for _, f := range locked {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
		}
	}
	for _, path := range []string{store.DataFile(logPath), store.IndexFile(logPath)} {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			release()
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			release()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, fmt.Errorf("%s is write-locked by another process (is the record service still running?)", path)
			}
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		locked = append(locked, f)
	}
	return release, nil
}

// replaceFile writes buf to a sibling temp file, syncs it, and
// renames it over path, so a crash mid-rewrite leaves the original
// intact.
func replaceFile(path string, buf []byte) error {
	tmp := path + ".compact"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
