// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DataFile returns the data file path for a log path.
func DataFile(path string) string { return path + ".log" }

// IndexFile returns the index file path for a log path.
func IndexFile(path string) string { return path + ".idx" }

// Store owns the two append-only files of one log path and issues
// entity ids. Appends are serialized by a per-file mutex (goroutines
// in this process) plus an advisory flock on the file (other
// processes on this host); each append is synced to durable storage
// before its end offset is returned, so an offset handed to a reader
// always covers fully durable bytes. Readers use their own handles
// and positional reads and never take the write lock.
//
// Id issuance is in-process only: the counter is rehydrated at Open
// by scanning the index file for the maximum id. Running two
// id-issuing processes against one log path will hand out colliding
// ids — a Store assumes it is the single owner of its path.
type Store struct {
	path string

	appendData  *os.File
	appendIndex *os.File
	readData    *os.File
	readIndex   *os.File

	dataMu  sync.Mutex
	indexMu sync.Mutex

	lastIssued atomic.Uint32
}

// Open opens the four file handles for the log path (creating empty
// files as needed), replays the index file once with a match-all
// filter to recover the id counter, and returns the store along with
// the replayed index. Callers that serve queries keep the returned
// index as their catalog and advance it after each index append.
func Open(path string) (*Store, *Index, error) {
	s := &Store{path: path}

	var err error
	closeAll := func() {
		for _, f := range []*os.File{s.appendData, s.appendIndex, s.readData, s.readIndex} {
			if f != nil {
				f.Close()
			}
		}
	}

	openAppend := func(name string) (*os.File, error) {
		return os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
	if s.appendData, err = openAppend(DataFile(path)); err != nil {
		return nil, nil, fmt.Errorf("opening data file for append: %w", err)
	}
	if s.appendIndex, err = openAppend(IndexFile(path)); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("opening index file for append: %w", err)
	}
	if s.readData, err = os.Open(DataFile(path)); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("opening data file for read: %w", err)
	}
	if s.readIndex, err = os.Open(IndexFile(path)); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("opening index file for read: %w", err)
	}

	catalog := NewIndex(MatchAll())
	if err := catalog.Update(s); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("replaying index %s: %w", IndexFile(path), err)
	}
	s.lastIssued.Store(catalog.MaxID())

	return s, catalog, nil
}

// Path returns the log path the store was opened with.
func (s *Store) Path() string { return s.path }

// IssueID atomically increments and returns the next entity id. Must
// be called before constructing any record that embeds the id.
func (s *Store) IssueID() uint32 {
	return s.lastIssued.Add(1)
}

// LastIssuedID returns the most recently issued id, or the maximum id
// recovered at open time if none has been issued since.
func (s *Store) LastIssuedID() uint32 {
	return s.lastIssued.Load()
}

// AppendData appends buf to the data file and returns the absolute
// offset immediately after the written bytes.
func (s *Store) AppendData(buf []byte) (int64, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return appendLocked(s.appendData, buf)
}

// AppendIndex appends buf to the index file and returns the absolute
// offset immediately after the written bytes.
func (s *Store) AppendIndex(buf []byte) (int64, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return appendLocked(s.appendIndex, buf)
}

// appendLocked performs the write+sync sequence under an exclusive
// advisory lock scoped strictly to this call. Any failure is fatal
// for the write: there is no partial-success reporting and no retry.
func appendLocked(f *os.File, buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, errors.New("refusing to append zero bytes")
	}
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking %s: %w", f.Name(), err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	if _, err := f.Write(buf); err != nil {
		return 0, fmt.Errorf("appending %d bytes to %s: %w", len(buf), f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing %s: %w", f.Name(), err)
	}
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("locating end of %s: %w", f.Name(), err)
	}
	return end, nil
}

// ReadDataRange reads the data file bytes in [beg, end).
func (s *Store) ReadDataRange(beg, end int64) ([]byte, error) {
	if end < beg {
		return nil, fmt.Errorf("invalid data range [%d, %d)", beg, end)
	}
	buf := make([]byte, end-beg)
	if _, err := s.readData.ReadAt(buf, beg); err != nil {
		return nil, fmt.Errorf("reading data range [%d, %d): %w", beg, end, err)
	}
	return buf, nil
}

// ReadIndexFrom reads every currently-available index file byte at or
// after offset. The tail of the returned slice may end mid-frame when
// a writer is appending concurrently; frame decoding tolerates this.
func (s *Store) ReadIndexFrom(offset int64) ([]byte, error) {
	info, err := s.readIndex.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	size := info.Size()
	if offset >= size {
		return nil, nil
	}
	buf := make([]byte, size-offset)
	n, err := s.readIndex.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading index from offset %d: %w", offset, err)
	}
	return buf[:n], nil
}

// DataSize returns the current data file length in bytes.
func (s *Store) DataSize() (int64, error) {
	info, err := s.readData.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat data file: %w", err)
	}
	return info.Size(), nil
}

// IndexSize returns the current index file length in bytes.
func (s *Store) IndexSize() (int64, error) {
	info, err := s.readIndex.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat index file: %w", err)
	}
	return info.Size(), nil
}

// Close closes all four file handles.
func (s *Store) Close() error {
	var errs []error
	for _, f := range []*os.File{s.appendData, s.appendIndex, s.readData, s.readIndex} {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
