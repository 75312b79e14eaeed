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
	"sync"

	"github.com/launix-de/redocap/redo"
)

// RollbackMatcher resolves partial rollbacks (5.4/5.5) that cannot be
// cancelled in place because the record they target already left the tail
// chunk of its owning Transaction's buffer (§4.7, §9 Open Question #3: "try
// immediate tail-chunk cancel, otherwise queue in the matcher"). It is a
// plain map behind a mutex rather than third_party/NonLockingReadMap: the
// matcher is write-heavy — every deferred rollback both inserts and later
// deletes an entry — which is the opposite of NonLockingReadMap's "read
// often, write seldom" design point, so reusing it here would fight the
// access pattern instead of fitting it.
type RollbackMatcher struct {
	mu        sync.Mutex
	cancelled map[redo.RollbackKey]struct{}
}

func NewRollbackMatcher() *RollbackMatcher {
	return &RollbackMatcher{cancelled: make(map[redo.RollbackKey]struct{})}
}

// MarkCancelled records that the record identified by key must be skipped
// when its transaction is later assembled.
func (m *RollbackMatcher) MarkCancelled(key redo.RollbackKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[key] = struct{}{}
}

// IsCancelled reports whether key was marked cancelled by an earlier
// partial rollback. The assembler calls this once per record while walking
// a committed transaction (§4.8) and skips any that match.
func (m *RollbackMatcher) IsCancelled(key redo.RollbackKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelled[key]
	return ok
}

// Forget drops a cancellation entry once the assembler has consumed it, so
// the matcher doesn't grow unbounded over a long-running replay.
func (m *RollbackMatcher) Forget(key redo.RollbackKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancelled, key)
}

// Len reports the number of pending cancellations, for the console.
func (m *RollbackMatcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancelled)
}
