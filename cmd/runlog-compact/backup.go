// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/store"
)

// manifestName is the manifest's file name inside a backup directory.
const manifestName = "manifest.cbor"

// backupDomainKey is the 32-byte key for BLAKE3 keyed hashing of
// backup members. A fixed constant: changing it invalidates every
// stored manifest. The bytes are the ASCII domain name zero-padded to
// 32 so the key is recognizable in hex dumps.
var backupDomainKey = [32]byte{
	'r', 'u', 'n', 'l', 'o', 'g', '.', 'b', 'a', 'c', 'k', 'u', 'p', 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// backupManifest describes one backup directory: which log path it
// was taken from and, per member, the uncompressed size and keyed
// digest to verify a restore against.
type backupManifest struct {
	LogPath   string       `cbor:"log_path"`
	CreatedAt int64        `cbor:"created_at"`
	Files     []backupFile `cbor:"files"`
}

type backupFile struct {
	// Name is the member file name inside the backup directory,
	// e.g. "data.zst".
	Name string `cbor:"name"`

	// Size is the uncompressed byte count.
	Size int64 `cbor:"size"`

	// Digest is the hex keyed BLAKE3 digest of the uncompressed
	// bytes.
	Digest string `cbor:"digest"`
}

// writeBackup archives the log path's file pair into dir. Each file
// is zstd-compressed into its own member; the manifest records keyed
// digests of the uncompressed bytes, so verification does not depend
// on the compressed representation being bit-stable across zstd
// versions.
func writeBackup(logPath, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	manifest := backupManifest{
		LogPath:   logPath,
		CreatedAt: time.Now().UnixNano(),
	}
	members := []struct {
		source string
		member string
	}{
		{store.DataFile(logPath), "data.zst"},
		{store.IndexFile(logPath), "index.zst"},
	}
	for _, m := range members {
		size, digest, err := compressMember(m.source, filepath.Join(dir, m.member))
		if err != nil {
			return fmt.Errorf("backing up %s: %w", m.source, err)
		}
		manifest.Files = append(manifest.Files, backupFile{
			Name:   m.member,
			Size:   size,
			Digest: digest,
		})
	}

	buf, err := codec.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding backup manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), buf, 0o644); err != nil {
		return fmt.Errorf("writing backup manifest: %w", err)
	}
	return nil
}

// compressMember streams source through zstd into dest, hashing the
// uncompressed bytes as they pass. Returns the uncompressed size and
// hex digest.
func compressMember(source, dest string) (int64, string, error) {
	in, err := os.Open(source)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, "", err
	}
	defer out.Close()

	compressor, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, "", fmt.Errorf("zstd writer: %w", err)
	}

	hasher, err := blake3.NewKeyed(backupDomainKey[:])
	if err != nil {
		return 0, "", fmt.Errorf("keyed hasher: %w", err)
	}

	size, err := io.Copy(io.MultiWriter(compressor, hasher), in)
	if err != nil {
		compressor.Close()
		return 0, "", err
	}
	if err := compressor.Close(); err != nil {
		return 0, "", fmt.Errorf("finishing zstd stream: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, "", fmt.Errorf("syncing %s: %w", dest, err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// verifyBackup decompresses every member listed in dir's manifest and
// checks size and digest against the manifest entry.
func verifyBackup(dir string) error {
	buf, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return fmt.Errorf("reading backup manifest: %w", err)
	}
	var manifest backupManifest
	if err := codec.Unmarshal(buf, &manifest); err != nil {
		return fmt.Errorf("decoding backup manifest: %w", err)
	}
	if len(manifest.Files) == 0 {
		return fmt.Errorf("backup manifest in %s lists no files", dir)
	}

	for _, member := range manifest.Files {
		size, digest, err := digestMember(filepath.Join(dir, member.Name))
		if err != nil {
			return fmt.Errorf("verifying %s: %w", member.Name, err)
		}
		if size != member.Size {
			return fmt.Errorf("%s: uncompressed size %d, manifest says %d", member.Name, size, member.Size)
		}
		if digest != member.Digest {
			return fmt.Errorf("%s: digest mismatch", member.Name)
		}
	}
	return nil
}

// digestMember decompresses one member and returns the uncompressed
// size and hex keyed digest.
func digestMember(path string) (int64, string, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	decompressor, err := zstd.NewReader(in)
	if err != nil {
		return 0, "", fmt.Errorf("zstd reader: %w", err)
	}
	defer decompressor.Close()

	hasher, err := blake3.NewKeyed(backupDomainKey[:])
	if err != nil {
		return 0, "", fmt.Errorf("keyed hasher: %w", err)
	}
	size, err := io.Copy(hasher, decompressor)
	if err != nil {
		return 0, "", fmt.Errorf("decompressing: %w", err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}
