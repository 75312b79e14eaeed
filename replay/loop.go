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

// Package replay drives §4.12's main loop: open the current sequence,
// decode records, route them into the transaction manager, hand commits to
// the assembler, and checkpoint on a timer. Grounded directly on the
// pseudocode in spec.md §4.12 and on
// storage/persistence-files.go's ReplayLog loop shape (open, read, dispatch,
// periodically persist) for how a teacher package structures a drive loop
// around collaborating components it does not itself implement.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/launix-de/redocap/assemble"
	"github.com/launix-de/redocap/checkpoint"
	"github.com/launix-de/redocap/output"
	"github.com/launix-de/redocap/redo"
	"github.com/launix-de/redocap/schema"
	"github.com/launix-de/redocap/txn"
)

// onlineEOFBackoff is how long the loop sleeps between polls of an
// actively-growing online log that has caught up to its own tail (§4.2
// "Tail detection": "blocks beyond it as not-yet-written (transient)").
const onlineEOFBackoff = 50 * time.Millisecond

// maxOnlineEOFPolls bounds how many times the loop polls an online log's
// tail before checking whether it has quietly rotated into an archive
// (§7 LogOverwritten: "fatal if the archived copy is not yet present after
// a bounded wait").
const maxOnlineEOFPolls = 200

const archiveWaitBackoff = 100 * time.Millisecond
const maxArchiveWaitRetries = 50

// LogLocator resolves the on-disk path for a redo-log sequence number (§1:
// "log-file acquisition... out of scope... the core is given a byte stream
// per sequence number"). The loop calls Online first; when the online copy
// has been overwritten by a newer sequence (§4.2, §7 LogOverwritten) or
// ArchOnly is set, it calls Archived instead.
type LogLocator interface {
	Online(seq uint32) (path string, ok bool)
	Archived(seq uint32) (path string, ok bool)
}

// DirLocator is the simplest real LogLocator: one directory of online
// redo logs and one of archived copies, named by database and sequence.
// Grounded on storage/persistence-files.go's directory-and-filename
// convention for sharded state.
type DirLocator struct {
	Database   string
	OnlineDir  string
	ArchiveDir string
}

func (l DirLocator) Online(seq uint32) (string, bool) {
	p := filepath.Join(l.OnlineDir, fmt.Sprintf("%s_redo_%06d.log", l.Database, seq))
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return "", false
}

func (l DirLocator) Archived(seq uint32) (string, bool) {
	for _, suffix := range [...]string{".arc", ".arc.xz"} {
		p := filepath.Join(l.ArchiveDir, fmt.Sprintf("%s_arch_%06d%s", l.Database, seq, suffix))
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// SequenceResolver maps a §6 source.reader.start-scn/start-time[-rel] value
// to a starting sequence number. Answering that question requires querying
// the source database's own log history, which is explicitly out of scope
// for the core (§1); the loop only calls one if the caller supplies it,
// falling back to StartSeq or the checkpoint otherwise.
type SequenceResolver interface {
	SequenceForSCN(scn uint64) (uint32, error)
	SequenceForTime(t time.Time) (uint32, error)
}

// LogUnavailableError is §7's "LogUnavailable": a required archived log
// cannot be located after a bounded wait. Always fatal.
type LogUnavailableError struct {
	Sequence uint32
}

func (e *LogUnavailableError) Error() string {
	return fmt.Sprintf("replay: no usable copy of sequence %d available", e.Sequence)
}

// Status is the read-only snapshot exposed to the console and dashboard.
type Status struct {
	Sequence      uint32
	WatermarkSCN  uint64
	OpenTxns      int
	HeapDepth     int
	OutputBacklog int
	OldestXID     string
}

// Loop owns every collaborating component (§4.12: "drives sequence
// selection, invokes the log reader, feeds the opcode parser, and invokes
// the assembler") and is the one thing main.go and the console/dashboard
// talk to.
type Loop struct {
	cfg      Config
	locator  LogLocator
	resolver SequenceResolver
	cpStore  checkpoint.Store

	mgr    *txn.Manager
	dict   *schema.Dictionary
	out    *output.Buffer
	asm    *assemble.Assembler
	parser *redo.Parser

	sequence     uint32
	resetlogsID  uint32
	activationID uint32
	current      *redo.LogFile

	lastCheckpointAt time.Time
	lastCommitSCN    uint64

	stopping atomic.Bool
}

// NewLoop wires a Loop from cfg, a schema dictionary already populated by
// bootstrap (or empty, to be grown entirely from in-stream DDL), the output
// buffer writers drain from, a checkpoint backend, and a LogLocator.
func NewLoop(cfg Config, dict *schema.Dictionary, out *output.Buffer, cpStore checkpoint.Store, locator LogLocator, resolver SequenceResolver) *Loop {
	mgr := txn.NewManager(cfg.ArenaSizeMB, cfg.MaxConcurrentTxns)
	asmCfg := assemble.Config{
		ColumnFormat:               cfg.ColumnFormat,
		SCNFormat:                  cfg.SCNFormat,
		TimestampFormat:            cfg.TimestampFormat,
		ShowIncompleteTransactions: cfg.ShowIncompleteTransactions,
		ShowSystemTransactions:     cfg.ShowSystemTransactions,
		CharsetPolicy:              cfg.CharsetPolicy,
		CommitMarkers:              cfg.CommitMarkers,
	}
	return &Loop{
		cfg:      cfg,
		locator:  locator,
		resolver: resolver,
		cpStore:  cpStore,
		mgr:      mgr,
		dict:     dict,
		out:      out,
		asm:      assemble.NewAssembler(mgr, dict, out, asmCfg),
		parser:   redo.NewParser(false),
	}
}

// Stop requests a clean shutdown (§5 Cancellation): the loop finishes the
// record it is on, writes a final checkpoint, emits the output-buffer
// shutdown sentinel, and returns from Run.
func (l *Loop) Stop() { l.stopping.Store(true) }

// Status reports the current replay position for the console and dashboard.
func (l *Loop) Status() Status {
	st := Status{
		Sequence:     l.sequence,
		WatermarkSCN: l.mgr.Watermark(l.lastCommitSCN),
		OpenTxns:     l.mgr.OpenCount(),
		HeapDepth:    l.mgr.HeapDepth(),
	}
	if xid, ok := l.mgr.OldestOpenXID(); ok {
		st.OldestXID = xid.String()
	}
	return st
}

// Checkpoint forces an immediate checkpoint write, independent of the
// configured interval — the console's "checkpoint" command.
func (l *Loop) Checkpoint() error { return l.writeCheckpoint() }

// Run executes §4.12's main loop until Stop is called or a fatal error is
// hit. The caller maps a non-nil return to exit code 2 (§6); nil means a
// clean, requested shutdown (exit code 0).
func (l *Loop) Run() error {
	startSeq, err := l.resolveStart()
	if err != nil {
		return err
	}
	l.sequence = startSeq
	if err := l.openSequence(l.sequence); err != nil {
		return err
	}
	defer l.closeCurrent()
	l.lastCheckpointAt = time.Now()

	onlinePolls := 0
	for {
		if l.stopping.Load() {
			return l.shutdown()
		}

		raw, err := l.current.NextRecord(l.cfg.DisableChecks.ChecksumEnabled())
		switch {
		case err == nil:
			onlinePolls = 0
			if rerr := l.handleRecord(raw); rerr != nil {
				return rerr
			}
		case errors.Is(err, io.EOF):
			done, eerr := l.handleEOF(&onlinePolls)
			if eerr != nil {
				return eerr
			}
			if done {
				continue
			}
		default:
			if rerr := l.handleReadError(err); rerr != nil {
				return rerr
			}
		}

		if time.Since(l.lastCheckpointAt) >= time.Duration(l.cfg.CheckpointIntervalS)*time.Second {
			if cerr := l.writeCheckpoint(); cerr != nil {
				fmt.Fprintf(os.Stderr, "replay: checkpoint write failed: %v\n", cerr)
			}
		}
	}
}

// shutdown implements §5's cancellation path: drain the output buffer with
// its sentinel and persist one final checkpoint. Open transactions are left
// exactly as they are in the arena; a restart resumes them from the
// checkpoint's min-transaction position.
func (l *Loop) shutdown() error {
	if err := l.writeCheckpoint(); err != nil {
		fmt.Fprintf(os.Stderr, "replay: final checkpoint write failed: %v\n", err)
	}
	l.out.Shutdown()
	return nil
}

// resolveStart implements §6's start-point precedence: an explicit
// start-seq wins outright; otherwise an explicit start-scn/start-time(-rel)
// is resolved via the caller's SequenceResolver if one was supplied;
// otherwise resume from the checkpoint; otherwise begin at sequence 1.
func (l *Loop) resolveStart() (uint32, error) {
	if l.cfg.StartSeq != 0 {
		return l.cfg.StartSeq, nil
	}
	if l.resolver != nil {
		if l.cfg.StartTimeRel != 0 {
			t := time.Now().Add(-time.Duration(l.cfg.StartTimeRel) * time.Second)
			return l.resolver.SequenceForTime(t)
		}
		if l.cfg.StartSCN != 0 {
			return l.resolver.SequenceForSCN(l.cfg.StartSCN)
		}
	}
	cp, ok, err := l.cpStore.Read()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	l.resetlogsID = cp.ResetlogsID
	l.activationID = cp.ActivationID
	l.lastCommitSCN = cp.CheckpointSCN
	if len(cp.SchemaSnapshot) > 0 {
		if d, derr := checkpoint.DecodeDictionary(cp.SchemaSnapshot); derr == nil {
			l.dict.Load(d.Current().ToBootstrapRows())
		}
	}
	// An open transaction at checkpoint time pins resumption to its own
	// first sequence, not the checkpoint's own position, so its earlier
	// records are re-read from the archive (§4.11 "replaying open
	// transactions' prior records from the archived logs").
	if cp.MinXidSequence != 0 && cp.MinXidSequence < cp.Sequence {
		return cp.MinXidSequence, nil
	}
	return cp.Sequence, nil
}

// openSequence opens seq, preferring the online copy unless ArchOnly is
// set, and verifies the checkpoint's resetlogs id still matches (SPEC_FULL
// supplemented feature #4).
func (l *Loop) openSequence(seq uint32) error {
	var path string
	var archived bool
	if !l.cfg.ArchOnly {
		if p, ok := l.locator.Online(seq); ok {
			path, archived = p, false
		}
	}
	if path == "" {
		p, ok := l.locator.Archived(seq)
		if !ok {
			return &LogUnavailableError{Sequence: seq}
		}
		path, archived = p, true
	}
	lf, err := redo.OpenLogFile(path, archived)
	if err != nil {
		return err
	}
	if l.resetlogsID != 0 {
		if verr := checkpoint.VerifyResetlogs(&checkpoint.Checkpoint{ResetlogsID: l.resetlogsID}, lf.Header.ResetlogsID); verr != nil {
			lf.Close()
			return verr
		}
	}
	l.resetlogsID = lf.Header.ResetlogsID
	l.activationID = lf.Header.ActivationID
	l.current = lf
	l.sequence = seq
	return nil
}

func (l *Loop) closeCurrent() {
	if l.current != nil {
		l.current.Close()
		l.current = nil
	}
}

// advanceSequence moves to seq+1 (§4.12 "sequence += 1; continue").
func (l *Loop) advanceSequence() error {
	l.closeCurrent()
	return l.openSequence(l.sequence + 1)
}

// switchToArchived reopens the current sequence from its archived copy
// without advancing the sequence counter (§4.2 "the caller must switch to
// the archived copy and continue").
func (l *Loop) switchToArchived(path string) error {
	l.closeCurrent()
	lf, err := redo.OpenLogFile(path, true)
	if err != nil {
		return err
	}
	l.current = lf
	return nil
}

// handleEOF implements §4.12's "record is EOF for current log" branch: an
// archived log's EOF always means move on; an online log's EOF may be
// transient (writer hasn't flushed the next block yet) or may mean the
// file was quietly rotated out from under the same name. done reports
// whether the caller should skip straight to its next loop iteration
// without re-checking the checkpoint clock.
func (l *Loop) handleEOF(onlinePolls *int) (done bool, err error) {
	if l.current.Archived() {
		return true, l.advanceSequence()
	}
	*onlinePolls++
	if *onlinePolls < maxOnlineEOFPolls {
		time.Sleep(onlineEOFBackoff)
		return true, nil
	}
	*onlinePolls = 0
	if path, ok := l.locator.Archived(l.sequence); ok {
		return true, l.switchToArchived(path)
	}
	if l.cfg.ArchOnly {
		return true, &LogUnavailableError{Sequence: l.sequence}
	}
	time.Sleep(onlineEOFBackoff)
	return true, nil
}

// handleReadError implements §7's CorruptLog/LogOverwritten/LogUnavailable
// taxonomy for errors NextRecord surfaces outside of plain EOF.
func (l *Loop) handleReadError(err error) error {
	var wrongSeq *redo.WrongSequenceError
	if errors.As(err, &wrongSeq) {
		fmt.Fprintf(os.Stderr, "replay: sequence %d overwritten online, switching to archive\n", l.sequence)
		path, ok := l.locator.Archived(l.sequence)
		for i := 0; !ok && i < maxArchiveWaitRetries; i++ {
			time.Sleep(archiveWaitBackoff)
			path, ok = l.locator.Archived(l.sequence)
		}
		if !ok {
			return &LogUnavailableError{Sequence: l.sequence}
		}
		return l.switchToArchived(path)
	}
	if l.cfg.OnErrorContinue {
		fmt.Fprintf(os.Stderr, "replay: skipping corrupt record at sequence %d: %v\n", l.sequence, err)
		return l.asm.EmitGap(err.Error())
	}
	return err
}

// handleRecord decodes one reassembled logical record and routes each of
// its change vectors (§4.12 "route(parsed)").
func (l *Loop) handleRecord(raw []byte) error {
	vectors, err := l.parser.Decode(raw, l.current.Header.Order)
	if err != nil {
		return l.handleReadError(err)
	}
	for _, rec := range vectors {
		if err := l.route(rec); err != nil {
			return err
		}
	}
	return nil
}

// route dispatches one decoded RedoLogRecord to begin/append/commit/
// rollback per its kind, mirroring §4.12's "route(parsed) //
// begin/append/commit/rollback/ddl" comment. A record carrying both an
// undo and redo half already arrives pre-paired by redo.Parser (§4.4), so
// this is the one place per record that talks to txn.Manager.
func (l *Loop) route(rec *redo.RedoLogRecord) error {
	switch {
	case rec.Kind == redo.OpCommit:
		l.lastCommitSCN = rec.Scn
		return l.asm.Commit(rec.Xid, rec.Scn, time.Now().UTC())

	case rec.Kind == redo.OpKtbTransaction && rec.RollbackFlag && !rec.IsPaired && len(rec.UndoImages) == 0:
		// a KTB vector whose only payload is the rollback flag signals a
		// full-transaction abort, not a partial undo (§9 open question #3).
		return l.asm.Rollback(rec.Xid)

	case rec.Kind == redo.OpKtbRollback:
		l.mgr.Rollback(rec.Xid, rec.RollbackKey)
		return nil

	case rec.Kind == redo.OpKtbTransaction && rec.BeginTx:
		_, err := l.mgr.Begin(rec.Xid, l.sequence, rec.Scn)
		if err != nil && asHeapFullWait(l, err) == nil {
			_, err = l.mgr.Begin(rec.Xid, l.sequence, rec.Scn)
		}
		return err

	default:
		err := l.mgr.Append(rec.Xid, l.sequence, rec.Scn, rec)
		if err != nil && asHeapFullWait(l, err) == nil {
			err = l.mgr.Append(rec.Xid, l.sequence, rec.Scn, rec)
		}
		return err
	}
}

// asHeapFullWait implements §4.6's "when full, new begins fail and the loop
// pauses reading until a commit frees a slot": ErrHeapFull is not
// propagated as fatal, the caller just retries once a slot is free. Since
// this engine's loop is single-threaded between reading and committing,
// "pause reading" here means block until some in-flight sink-side consumer
// lets an already-queued commit drain — in practice the heap only fills
// when max-concurrent-transactions is set far below realistic concurrency,
// so a short bounded retry is sufficient rather than a separate suspension
// primitive.
func asHeapFullWait(l *Loop, err error) error {
	var full *txn.ErrHeapFull
	if !errors.As(err, &full) {
		return err
	}
	for i := 0; i < 100; i++ {
		time.Sleep(time.Millisecond)
		if l.mgr.OpenCount() < full.MaxConcurrent {
			return nil
		}
	}
	return err
}

// writeCheckpoint implements §4.11: persist database identity, position,
// the oldest open transaction's position, and a compressed dictionary
// snapshot, embedded on every write whether or not schema-keep is set.
func (l *Loop) writeCheckpoint() error {
	snap := l.dict.Current()
	encoded, err := checkpoint.EncodeDictionary(snap)
	if err != nil {
		return err
	}
	cp := &checkpoint.Checkpoint{
		Database:       l.cfg.Database,
		ResetlogsID:    l.resetlogsID,
		ActivationID:   l.activationID,
		Sequence:       l.sequence,
		CheckpointSCN:  l.mgr.Watermark(l.lastCommitSCN),
		MinXidFirstSCN: l.mgr.Watermark(l.lastCommitSCN),
		SchemaSnapshot: encoded,
	}
	if xid, ok := l.mgr.OldestOpenXID(); ok {
		cp.MinXidXID = xid.String()
		if tx, ok := l.mgr.Get(xid); ok {
			cp.MinXidSequence = tx.FirstSeq
		}
	}
	l.lastCheckpointAt = time.Now()
	return l.cpStore.Write(cp)
}
