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

// Buffer is the chunk list belonging to one transaction (§4.5: "A
// Transaction is a linked list of chunks..."). Chunks are requested from a
// shared Arena lazily, one at a time, and returned to it when the
// transaction commits or rolls back. Cancelling a tail record (CancelTail)
// removes the record but keeps its chunk.
type Buffer struct {
	arena     *Arena
	chunkIDs  []uint32
	tail      *chunk
	pairCount int
}

// NewBuffer creates an empty chunk list drawing from arena.
func NewBuffer(arena *Arena) *Buffer {
	return &Buffer{arena: arena}
}

// Append stores rec in the tail chunk, rolling over to a fresh chunk when
// the budget is exhausted, and returns a Ref the rollback matcher or
// assembler can use to find it again later (§4.5, §4.7).
func (b *Buffer) Append(rec *redo.RedoLogRecord) (Ref, error) {
	size := approxRecordSize(rec)
	if b.tail == nil || b.tail.used+size > chunkSize {
		c, err := b.arena.alloc()
		if err != nil {
			return Ref{}, err
		}
		b.chunkIDs = append(b.chunkIDs, c.id)
		b.tail = c
	}
	b.tail.records = append(b.tail.records, rec)
	b.tail.used += size
	if rec.IsPaired {
		b.pairCount++
	}
	return Ref{Chunk: b.tail.id, Slot: uint32(len(b.tail.records) - 1)}, nil
}

// CancelTail attempts to remove the most recently appended record in place,
// for a partial rollback (5.4/5.5) that targets the record this transaction
// just wrote (§9 Open Question #3: "try immediate tail-chunk cancel, else
// queue in the matcher"). It reports whether the cancellation matched;
// callers fall back to queuing the rollback key in the matcher when it
// doesn't, because the target record already rolled into an earlier,
// already-released chunk.
func (b *Buffer) CancelTail(key redo.RollbackKey) bool {
	if b.tail == nil || len(b.tail.records) == 0 {
		return false
	}
	last := b.tail.records[len(b.tail.records)-1]
	if last.RollbackKey != key {
		return false
	}
	b.tail.records = b.tail.records[:len(b.tail.records)-1]
	if last.IsPaired {
		b.pairCount--
	}
	return true
}

// PairCount is the number of undo/redo record pairs currently buffered,
// used by the heap/console to report transaction size.
func (b *Buffer) PairCount() int { return b.pairCount }

// Records yields every buffered record across all chunks in append order,
// for the assembler to walk on commit (§4.8).
func (b *Buffer) Records() []*redo.RedoLogRecord {
	var out []*redo.RedoLogRecord
	for _, id := range b.chunkIDs {
		c, ok := b.arena.resolve(id)
		if !ok {
			continue
		}
		out = append(out, c.records...)
	}
	return out
}

// Release returns every chunk in this buffer to the arena's free list
// (§4.5: chunks are reused once the owning transaction is done with them).
func (b *Buffer) Release() {
	for _, id := range b.chunkIDs {
		b.arena.release(id)
	}
	b.chunkIDs = nil
	b.tail = nil
}

// ChunkCount reports how many chunks this buffer currently holds, for
// overflow accounting and the dashboard.
func (b *Buffer) ChunkCount() int { return len(b.chunkIDs) }
