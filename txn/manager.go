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
	"fmt"

	"github.com/launix-de/redocap/redo"
)

// ErrHeapFull is returned by Manager.Begin when the configured concurrent
// transaction limit is already reached (§4.6: "when full, new begins fail
// and the loop pauses reading until a commit frees a slot").
type ErrHeapFull struct {
	MaxConcurrent int
}

func (e *ErrHeapFull) Error() string {
	return fmt.Sprintf("transaction heap full: %d concurrent transactions", e.MaxConcurrent)
}

// Manager owns the arena, the open-transaction table, the heap, and the
// rollback matcher together, since the three collaborate on every record
// (§4.5-§4.7): it is the one piece of this package replay/loop.go and
// assemble/assembler.go actually talk to.
type Manager struct {
	arena         *Arena
	heap          *Heap
	matcher       *RollbackMatcher
	open          map[redo.XID]*Transaction
	maxConcurrent int
}

// NewManager creates a Manager with an arena bounded to arenaMiB and a cap
// of maxConcurrent simultaneously open transactions.
func NewManager(arenaMiB, maxConcurrent int) *Manager {
	return &Manager{
		arena:         NewArena(arenaMiB),
		heap:          NewHeap(),
		matcher:       NewRollbackMatcher(),
		open:          make(map[redo.XID]*Transaction),
		maxConcurrent: maxConcurrent,
	}
}

// Begin starts tracking a new transaction, or returns the existing one if
// this XID is already open (KTB fields recur on every record of a
// transaction, not just the first).
func (m *Manager) Begin(xid redo.XID, seq uint32, scn uint64) (*Transaction, error) {
	if tx, ok := m.open[xid]; ok {
		return tx, nil
	}
	if m.maxConcurrent > 0 && len(m.open) >= m.maxConcurrent {
		return nil, &ErrHeapFull{MaxConcurrent: m.maxConcurrent}
	}
	tx := NewTransaction(xid, seq, scn, m.arena)
	m.open[xid] = tx
	m.heap.Push(tx)
	return tx, nil
}

// Get returns the open transaction for xid, if any.
func (m *Manager) Get(xid redo.XID) (*Transaction, bool) {
	tx, ok := m.open[xid]
	return tx, ok
}

// Append appends rec to xid's transaction, beginning it first if necessary,
// and resolves it against any rollback already queued for its key (§4.7:
// "When a matching data record arrives after a queued rollback ... the
// rollback is applied immediately").
func (m *Manager) Append(xid redo.XID, seq uint32, scn uint64, rec *redo.RedoLogRecord) error {
	tx, err := m.Begin(xid, seq, scn)
	if err != nil {
		return err
	}
	if rec.RollbackKey != (redo.RollbackKey{}) && m.matcher.IsCancelled(rec.RollbackKey) {
		m.matcher.Forget(rec.RollbackKey)
		return nil
	}
	return tx.Append(rec)
}

// Rollback applies a partial rollback (5.4/5.5) for xid against key: try the
// owning transaction's tail chunk first, and queue in the matcher on a miss
// (§4.7, §9 Open Question #3).
func (m *Manager) Rollback(xid redo.XID, key redo.RollbackKey) {
	tx, ok := m.open[xid]
	if ok && tx.CancelTail(key) {
		tx.HasRollback = true
		return
	}
	m.matcher.MarkCancelled(key)
}

// Commit removes xid from the heap and open table and returns its
// transaction for the assembler to walk. The caller is responsible for
// calling Release on the returned transaction once assembly is done.
func (m *Manager) Commit(xid redo.XID, commitSCN uint64) (*Transaction, bool) {
	tx, ok := m.open[xid]
	if !ok {
		return nil, false
	}
	tx.State = StateCommitting
	tx.CommitSCN = commitSCN
	delete(m.open, xid)
	m.heap.Remove(xid)
	return tx, true
}

// AbandonRollback removes xid from the heap and open table without
// assembling anything — the rollback path of §4.8. Entries this
// transaction left in the rollback matcher are abandoned in place: §4.7
// says unclaimed entries at commit belong to pre-empted sub-transactions
// and are simply ignored, and the same holds here.
func (m *Manager) AbandonRollback(xid redo.XID) (*Transaction, bool) {
	tx, ok := m.open[xid]
	if !ok {
		return nil, false
	}
	tx.State = StateRolledBack
	delete(m.open, xid)
	m.heap.Remove(xid)
	return tx, true
}

// CheckRollback reports whether key was cancelled by a deferred partial
// rollback that could not be resolved against the tail chunk when it
// arrived (§4.7, §9 Open Question #3), and forgets the entry if so. The
// assembler calls this once per record while walking a committed
// transaction (§4.8) and skips any record that matches.
func (m *Manager) CheckRollback(key redo.RollbackKey) bool {
	if key == (redo.RollbackKey{}) {
		return false
	}
	if m.matcher.IsCancelled(key) {
		m.matcher.Forget(key)
		return true
	}
	return false
}

// Watermark is the checkpoint-eligible SCN boundary (§4.6, §4.11): the
// first_scn of the transaction at the top of the checkpoint heap when that is
// below commitSCN, otherwise commitSCN.
func (m *Manager) Watermark(commitSCN uint64) uint64 {
	if _, scn, ok := m.heap.Watermark(); ok && scn < commitSCN {
		return scn
	}
	return commitSCN
}

// OpenCount is the number of currently open transactions, for the console.
func (m *Manager) OpenCount() int { return len(m.open) }

// HeapDepth is the number of transactions currently tracked by the
// checkpoint heap, for the console and dashboard.
func (m *Manager) HeapDepth() int { return m.heap.Len() }

// OldestOpenXID returns the XID at the top of the checkpoint heap, the open
// transaction with the smallest (FirstSeq, FirstSCN), for the console's "oldest open transaction" readout.
func (m *Manager) OldestOpenXID() (redo.XID, bool) {
	tx := m.heap.Peek()
	if tx == nil {
		return redo.XID{}, false
	}
	return tx.Xid, true
}

// Arena exposes the shared arena for metrics (InUse) reporting.
func (m *Manager) Arena() *Arena { return m.arena }
