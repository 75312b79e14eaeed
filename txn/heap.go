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
	"container/heap"

	"github.com/launix-de/redocap/redo"
)

// heapItem is one entry in the underlying container/heap slice.
type heapItem struct {
	tx  *Transaction
	idx int // current position, maintained by heapImpl.Swap
}

// heapImpl is the container/heap.Interface implementation, ordered by
// (FirstSeq, FirstSCN) so Peek always returns the oldest open transaction —
// the watermark below which no open transaction can still commit a record
// (§4.6: "the checkpoint can never cross the oldest open transaction").
type heapImpl []*heapItem

func (h heapImpl) Len() int { return len(h) }
func (h heapImpl) Less(i, j int) bool {
	a, b := h[i].tx, h[j].tx
	if a.FirstSeq != b.FirstSeq {
		return a.FirstSeq < b.FirstSeq
	}
	return a.FirstSCN < b.FirstSCN
}
func (h heapImpl) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *heapImpl) Push(x any) {
	item := x.(*heapItem)
	item.idx = len(*h)
	*h = append(*h, item)
}
func (h *heapImpl) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Heap tracks every open transaction ordered by (first_sequence,
// first_scn), giving O(log n) insertion, O(1) peek, and O(log n) removal of
// an arbitrary transaction by XID — needed because transactions commit (or
// roll back) in an order unrelated to when they opened (§4.6). Grounded on
// stdlib container/heap; no pack library (including google/btree, used
// elsewhere in this repo) offers an indexable priority queue with O(log n)
// arbitrary removal, and container/heap plus a position map is the
// idiomatic Go way to get one.
type Heap struct {
	items    heapImpl
	byXid    map[redo.XID]*heapItem
}

func NewHeap() *Heap {
	return &Heap{byXid: make(map[redo.XID]*heapItem)}
}

// Push adds tx to the heap. tx must not already be present.
func (h *Heap) Push(tx *Transaction) {
	item := &heapItem{tx: tx}
	heap.Push(&h.items, item)
	h.byXid[tx.Xid] = item
}

// Peek returns the oldest open transaction without removing it, or nil if
// the heap is empty.
func (h *Heap) Peek() *Transaction {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0].tx
}

// Remove removes the transaction identified by xid, wherever it sits in the
// heap (not just the root) — used when a transaction commits or rolls back
// out of arrival order (§4.6 "removed from the heap on commit or rollback,
// regardless of position").
func (h *Heap) Remove(xid redo.XID) (*Transaction, bool) {
	item, ok := h.byXid[xid]
	if !ok {
		return nil, false
	}
	delete(h.byXid, xid)
	heap.Remove(&h.items, item.idx)
	return item.tx, true
}

// Get returns the open transaction for xid without removing it, or nil.
func (h *Heap) Get(xid redo.XID) (*Transaction, bool) {
	item, ok := h.byXid[xid]
	if !ok {
		return nil, false
	}
	return item.tx, true
}

// Len is the number of currently open transactions.
func (h *Heap) Len() int { return len(h.items) }

// Watermark returns (first_sequence, first_scn) of the oldest open
// transaction, the checkpoint boundary (§4.6, §4.11): a checkpoint may
// never claim a position past this pair, since that transaction might still
// commit data at or before it.
func (h *Heap) Watermark() (seq uint32, scn uint64, ok bool) {
	tx := h.Peek()
	if tx == nil {
		return 0, 0, false
	}
	return tx.FirstSeq, tx.FirstSCN, true
}
