// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runlog-compact rewrites a record log offline, dropping tombstoned
// series and defragmenting both files. Before touching anything it
// backs the file pair up into a zstd-compressed archive with a
// manifest of keyed BLAKE3 digests, so a bad rewrite is recoverable
// and a stored backup is verifiable later.
//
// The tool refuses to run while another process holds the write lock
// on either file, which is the live-server check: a record service
// serving the same path takes the same advisory lock for every
// append.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var backupDir string
	var verifyDir string
	var showVersion bool

	flagSet := pflag.NewFlagSet("runlog-compact", pflag.ContinueOnError)
	flagSet.StringVar(&backupDir, "backup-dir", "", "directory for the pre-compaction backup (default: <log-path>.backup)")
	flagSet.StringVar(&verifyDir, "verify", "", "verify the backup archive in this directory and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("runlog-compact")
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if verifyDir != "" {
		if len(flagSet.Args()) != 0 {
			return fmt.Errorf("unexpected argument with --verify: %s", flagSet.Args()[0])
		}
		if err := verifyBackup(verifyDir); err != nil {
			return err
		}
		logger.Info("backup verified", "dir", verifyDir)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one log path argument, got %d", len(args))
	}
	logPath := args[0]
	if backupDir == "" {
		backupDir = logPath + ".backup"
	}

	return compact(logger, logPath, backupDir)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Offline compaction for a record log.

For a log path P, backs up P.log and P.idx into a zstd archive with a
digest manifest, then rewrites both files with tombstoned series and
their data removed and all offsets rebuilt contiguously. Entity ids
are preserved, so clients holding ids across the compaction stay
valid.

Refuses to run while a record service (or anything else) holds the
write lock on either file.

Usage:
  runlog-compact [flags] <log-path>
  runlog-compact --verify <backup-dir>

Examples:
  # Compact /var/lib/runlog/train, backup next to it
  runlog-compact /var/lib/runlog/train

  # Backup to a specific directory
  runlog-compact --backup-dir /backups/train-2026-08-30 /var/lib/runlog/train

  # Check a stored backup's digests
  runlog-compact --verify /backups/train-2026-08-30

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
