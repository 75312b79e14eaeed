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
package txn

import (
	"github.com/launix-de/redocap/redo"
)

// State is a Transaction's lifecycle stage (§3: "state ∈ {open,
// committing, committed, rolled-back, overflow}"). Mirrors the
// TxActive/TxCommitted/TxAborted shape of storage/transaction.go's TxState,
// extended with the two states this domain adds: committing (between the
// commit record and the assembler finishing its walk) and overflow (the
// arena ran out of chunks for this transaction).
type State uint8

const (
	StateOpen State = iota
	StateCommitting
	StateCommitted
	StateRolledBack
	StateOverflow
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	case StateOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Transaction is the mutable aggregate keyed by XID that every record
// belonging to one source transaction is appended to (§3).
type Transaction struct {
	Xid   redo.XID
	State State

	FirstSeq uint32 // sequence number of the log containing this XID's first record
	FirstSCN uint64
	CommitSCN uint64

	IsDictionaryChange bool // staged a schema.SchemaDelta (§4.10)
	HasRollback        bool // at least one partial rollback cancelled one of its records in place
	IsSystem           bool // touches a catalog table directly, not user data
	Overflowed         bool // arena exhausted mid-transaction; sticky across State transitions

	buf *Buffer
}

// NewTransaction starts tracking a transaction first observed at
// (seq, scn), drawing its chunk list from arena.
func NewTransaction(xid redo.XID, seq uint32, scn uint64, arena *Arena) *Transaction {
	return &Transaction{
		Xid:      xid,
		State:    StateOpen,
		FirstSeq: seq,
		FirstSCN: scn,
		buf:      NewBuffer(arena),
	}
}

// Append adds rec to this transaction's buffer. On ErrArenaExhausted the
// transaction moves to StateOverflow: that record and every later one are
// discarded without error, and the assembler emits a gap event at commit.
func (t *Transaction) Append(rec *redo.RedoLogRecord) error {
	if t.State == StateOverflow {
		return nil
	}
	if _, err := t.buf.Append(rec); err != nil {
		t.State = StateOverflow
		t.Overflowed = true
		return nil
	}
	return nil
}

// CancelTail asks the buffer to cancel its own most recently appended
// record in place; see Buffer.CancelTail.
func (t *Transaction) CancelTail(key redo.RollbackKey) bool {
	return t.buf.CancelTail(key)
}

// Records returns every buffered record in append order.
func (t *Transaction) Records() []*redo.RedoLogRecord { return t.buf.Records() }

// PairCount is the number of undo/redo pairs currently buffered.
func (t *Transaction) PairCount() int { return t.buf.PairCount() }

// ChunkCount is how many arena chunks this transaction currently occupies.
func (t *Transaction) ChunkCount() int { return t.buf.ChunkCount() }

// Release frees this transaction's chunks back to the arena. Called once
// the assembler has finished streaming a commit, or immediately on
// rollback since a rolled-back transaction has nothing left to assemble.
func (t *Transaction) Release() { t.buf.Release() }
