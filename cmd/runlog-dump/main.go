// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runlog-dump prints a frame-by-frame walk of a record log's files.
// The index file is always walked; --data walks the data file too.
// One line per frame: file offset, framed size, record kind, and the
// ids and offsets the record carries. The debugging tool for an
// append-only binary log.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/version"
	"github.com/bureau-foundation/runlog/store"
)

func main() {
	if err := run(os.Stdout); err != nil {
		process.Fatal(err)
	}
}

func run(out io.Writer) error {
	var withData bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("runlog-dump", pflag.ContinueOnError)
	flagSet.BoolVar(&withData, "data", false, "walk the data file as well as the index file")
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
		version.Print("runlog-dump")
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one log path argument, got %d", len(args))
	}
	logPath := args[0]

	if err := dumpFile(out, store.IndexFile(logPath)); err != nil {
		return err
	}
	if withData {
		fmt.Fprintln(out)
		if err := dumpFile(out, store.DataFile(logPath)); err != nil {
			return err
		}
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Frame-by-frame dump of a record log.

For a log path P, walks P.idx (and with --data, P.log) printing one
line per frame: the frame's file offset and size, the record kind,
and the record's ids and offsets. Trailing bytes that do not form a
complete frame are reported, not an error — a writer may be mid-
append.

Usage:
  runlog-dump [flags] <log-path>

Examples:
  runlog-dump /var/lib/runlog/train
  runlog-dump --data /var/lib/runlog/train

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
