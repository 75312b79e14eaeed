/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"flag"

	"github.com/launix-de/redocap/assemble"
	"github.com/launix-de/redocap/replay"
	"github.com/launix-de/redocap/schema"
)

// cliFlags holds the process-startup-only options that either name an
// external resource (log directories, a bootstrap connection, a checkpoint
// backend) or control ambient wiring rather than replay semantics; those
// stay out of replay.Config, which carries exactly the §6 options the
// replay loop itself consults on every record. Nothing here is reparsed
// or reloaded once Run starts (§6: "populated once at startup, no hot
// reload").
type cliFlags struct {
	onlineDir  string
	archiveDir string
	outputPath string

	bootstrapKind string
	srcHost       string
	srcPort       int
	srcUser       string
	srcPassword   string
	srcDatabase   string

	checkpointKind string
	checkpointPath string
	s3Bucket       string
	s3Key          string
	s3Region       string
	cephPool       string
	cephObject     string
	cephConfigPath string

	consoleEnabled bool
	dashboardAddr  string
}

// parseFlags implements §6's option surface over the standard flag package:
// the teacher's own configuration is driven entirely through its embedded
// scripting language's REPL rather than process flags, so there is no
// precedent in this codebase to follow for command-line parsing, and no
// example in the pack reaches for a third-party flag library either — this
// is the one place this module uses the standard library where the corpus
// offers no alternative (see DESIGN.md).
func parseFlags() (replay.Config, cliFlags, error) {
	cfg := replay.DefaultConfig()
	var f cliFlags

	flag.StringVar(&cfg.Database, "database", "", "identifies this replay stream in checkpoints and status output")

	flag.Uint64Var(&cfg.StartSCN, "start-scn", 0, "source.reader.start-scn")
	var startSeq uint
	flag.UintVar(&startSeq, "start-seq", 0, "source.reader.start-seq, overrides start-scn")
	flag.Int64Var(&cfg.StartTimeRel, "start-time-rel", 0, "source.reader.start-time-rel, seconds before now")

	var arenaSize string
	flag.StringVar(&arenaSize, "arena-size-mb", "256MiB", "per-process transaction arena budget")
	flag.IntVar(&cfg.MaxConcurrentTxns, "max-concurrent-transactions", cfg.MaxConcurrentTxns, "open-transaction heap cap")
	flag.IntVar(&cfg.CheckpointIntervalS, "checkpoint-interval-s", cfg.CheckpointIntervalS, "seconds between automatic checkpoints")
	var disableChecks string
	flag.StringVar(&disableChecks, "disable-checks", "", "comma-separated: grants, supplemental-log, block-checksum")

	flag.BoolVar(&cfg.ArchOnly, "arch-only", false, "never read from the online log, archived copies only")
	flag.BoolVar(&cfg.SchemaKeep, "schema-keep", false, "retain prior schema versions for exact historical decode")
	flag.BoolVar(&cfg.ShowIncompleteTransactions, "show-incomplete-transactions", false, "emit a rollback marker for abandoned transactions")
	flag.BoolVar(&cfg.ShowSystemTransactions, "show-system-transactions", false, "emit events for catalog-table mutations too")
	flag.BoolVar(&cfg.OnErrorContinue, "on-error-continue", false, "skip corrupt records instead of stopping replay")
	flag.BoolVar(&cfg.CommitMarkers, "commit-markers", false, "emit one commit event per committed transaction")

	var timestampFormat, scnFormat, columnFormat string
	flag.StringVar(&timestampFormat, "format-timestamp", "iso8601", "iso8601 or unix")
	flag.StringVar(&scnFormat, "format-scn", "numeric", "numeric or hex")
	flag.StringVar(&columnFormat, "format-column", "changed-only", "changed-only, full-insert-delete, or full-update")
	var unmappedCharset string
	flag.StringVar(&unmappedCharset, "unmapped-charset-policy", "fail", "fail or replace")

	flag.BoolVar(&cfg.Verbose, "verbose", false, "log per-checkpoint progress to stderr")
	flag.BoolVar(&cfg.Trace, "trace", false, "log per-record routing decisions to stderr")

	flag.StringVar(&f.onlineDir, "online-log-dir", ".", "directory the online redo logs are written to")
	flag.StringVar(&f.archiveDir, "archive-log-dir", ".", "directory archived redo logs are copied to")
	flag.StringVar(&f.outputPath, "output", "", "file to append logical events to; empty means stdout")

	flag.StringVar(&f.bootstrapKind, "bootstrap", "", "mysql, postgres, or empty to skip and rely on in-stream DDL only")
	flag.StringVar(&f.srcHost, "source-host", "localhost", "")
	flag.IntVar(&f.srcPort, "source-port", 0, "")
	flag.StringVar(&f.srcUser, "source-user", "", "")
	flag.StringVar(&f.srcPassword, "source-password", "", "")
	flag.StringVar(&f.srcDatabase, "source-database", "", "")

	flag.StringVar(&f.checkpointKind, "checkpoint-backend", "file", "file, s3, or ceph")
	flag.StringVar(&f.checkpointPath, "checkpoint-path", "checkpoint.json", "")
	flag.StringVar(&f.s3Bucket, "checkpoint-s3-bucket", "", "")
	flag.StringVar(&f.s3Key, "checkpoint-s3-key", "checkpoint.json", "")
	flag.StringVar(&f.s3Region, "checkpoint-s3-region", "", "")
	flag.StringVar(&f.cephPool, "checkpoint-ceph-pool", "", "")
	flag.StringVar(&f.cephObject, "checkpoint-ceph-object", "checkpoint.json", "")
	flag.StringVar(&f.cephConfigPath, "checkpoint-ceph-conf", "", "")

	flag.BoolVar(&f.consoleEnabled, "console", true, "run the interactive operator console")
	flag.StringVar(&f.dashboardAddr, "dashboard-listen", "", "address to serve the status dashboard on; empty disables it")

	flag.Parse()

	cfg.StartSeq = uint32(startSeq)

	bytes, err := replay.ParseArenaSize(arenaSize)
	if err != nil {
		return cfg, f, err
	}
	cfg.ArenaSizeMB = bytes

	mask, err := replay.ParseDisableChecks(disableChecks)
	if err != nil {
		return cfg, f, err
	}
	cfg.DisableChecks = mask

	switch timestampFormat {
	case "unix":
		cfg.TimestampFormat = assemble.TimestampUnix
	default:
		cfg.TimestampFormat = assemble.TimestampISO8601
	}
	switch scnFormat {
	case "hex":
		cfg.SCNFormat = assemble.SCNHex
	default:
		cfg.SCNFormat = assemble.SCNNumeric
	}
	switch columnFormat {
	case "full-insert-delete":
		cfg.ColumnFormat = assemble.ColumnFullInsertDelete
	case "full-update":
		cfg.ColumnFormat = assemble.ColumnFullUpdate
	default:
		cfg.ColumnFormat = assemble.ColumnChangedOnly
	}
	switch unmappedCharset {
	case "replace":
		cfg.CharsetPolicy = schema.PolicyReplaceOnUnmappedCharset
	default:
		cfg.CharsetPolicy = schema.PolicyFailOnUnmappedCharset
	}

	return cfg, f, nil
}
