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

// Package txn holds in-flight transactions between the moment their first
// record arrives and the moment they commit or roll back (§4.5, §4.6, §4.7).
package txn

import (
	"fmt"
	"sync"

	"github.com/launix-de/redocap/redo"
)

// chunkSize bounds how many bytes of record data one arena chunk accounts
// for (§4.5: "A pool of 65536-byte chunks drawn from a bounded global
// arena"). Records are kept as decoded *redo.RedoLogRecord values rather
// than a raw byte slab — the chunk enforces the same memory budget the
// original's byte-oriented chunk does, without forcing every consumer to
// re-deserialize what the opcode parser already decoded once.
const chunkSize = 65536

// approxRecordSize is the accounting unit charged against a chunk's budget
// for one record, independent of how many bytes its Go representation
// actually occupies — close enough for admission control, which is all the
// arena needs it for.
func approxRecordSize(rec *redo.RedoLogRecord) int {
	size := 64
	for _, c := range rec.UndoImages {
		size += 8 + len(c.Data)
	}
	for _, c := range rec.RedoImages {
		size += 8 + len(c.Data)
	}
	size += len(rec.DDLText)
	return size
}

// Ref is a (chunk, slot) reference into the arena, used in place of a Go
// pointer so records never outlive the chunk's reuse cycle (§9 redesign
// note: "arena-index references instead of pointers"). The zero Ref is
// never valid — chunk ids are 1-based.
type Ref struct {
	Chunk uint32
	Slot  uint32
}

func (r Ref) Valid() bool { return r.Chunk != 0 }

// chunk is one fixed-budget slab of records plus a used-bytes cursor.
type chunk struct {
	id      uint32
	records []*redo.RedoLogRecord
	used    int
}

// Arena owns every chunk in use or on the free list and enforces the
// configured maximum (§4.5 "bounded global arena (configurable maximum in
// MiB)"). Grounded on storage/shard.go's append-only delta buffers and the
// arena-index discipline storage/blob-refcount.go uses for its blob slab,
// generalized here into a free-list allocator instead of a single
// ever-growing slice.
type Arena struct {
	mu        sync.Mutex
	maxChunks int
	live      map[uint32]*chunk
	free      []*chunk
	nextID    uint32
	inUse     int
}

// ErrArenaExhausted is returned by alloc when the configured maximum has
// been reached. Buffer.Append passes it on, and Transaction.Append
// translates it into the overflow state (§3: "Transaction.state ... overflow").
type ErrArenaExhausted struct {
	MaxChunks int
}

func (e *ErrArenaExhausted) Error() string {
	return fmt.Sprintf("transaction arena exhausted: %d chunks in use", e.MaxChunks)
}

// NewArena creates an arena bounded to maxMiB mebibytes.
func NewArena(maxMiB int) *Arena {
	max := (maxMiB * 1024 * 1024) / chunkSize
	if max < 1 {
		max = 1
	}
	return &Arena{maxChunks: max, live: make(map[uint32]*chunk)}
}

// alloc returns a fresh or reused chunk, or ErrArenaExhausted.
func (a *Arena) alloc() (*chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		c := a.free[n-1]
		a.free = a.free[:n-1]
		c.records = c.records[:0]
		c.used = 0
		a.live[c.id] = c
		a.inUse++
		return c, nil
	}
	if a.inUse >= a.maxChunks {
		return nil, &ErrArenaExhausted{MaxChunks: a.maxChunks}
	}
	a.nextID++
	c := &chunk{id: a.nextID}
	a.live[c.id] = c
	a.inUse++
	return c, nil
}

// release returns a chunk to the free list for reuse by the next
// transaction that needs one (§4.5: chunk reuse on commit/rollback free).
func (a *Arena) release(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.live[id]
	if !ok {
		return
	}
	delete(a.live, id)
	a.free = append(a.free, c)
	a.inUse--
}

// resolve returns the chunk backing a Ref, for read access by the assembler.
func (a *Arena) resolve(id uint32) (*chunk, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.live[id]
	return c, ok
}

// InUse reports the current chunk count, for the console/dashboard
// operability surface (SPEC_FULL supplemented feature #1).
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}
