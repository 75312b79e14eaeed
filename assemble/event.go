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

// Package assemble walks a committed or rolled-back transaction's buffered
// records and turns them into the logical events the output buffer carries
// (§4.8, §4.10).
package assemble

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/launix-de/redocap/redo"
)

// Op is the event's operation kind, carried verbatim in its JSON "op" field
// (§6 Outputs).
type Op string

const (
	OpInsert   Op = "insert"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
	OpDDL      Op = "ddl"
	OpBegin    Op = "begin"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
	OpGap      Op = "gap"
)

// Event is one logical change, message-encoded onto the output buffer (§6:
// "operation kind, owner, table, row id ..., before and/or after column
// maps, commit SCN, commit timestamp ..., transaction id").
type Event struct {
	Op        Op                `json:"op"`
	Owner     string            `json:"schema,omitempty"`
	Table     string            `json:"table,omitempty"`
	RowID     string            `json:"rowid,omitempty"`
	Before    map[string]string `json:"before,omitempty"`
	After     map[string]string `json:"after,omitempty"`
	SCN       string            `json:"scn"`
	Timestamp string            `json:"ts,omitempty"`
	Xid       string            `json:"xid"`
	DDLKind   string            `json:"ddl_kind,omitempty"`
	DDLText   string            `json:"ddl,omitempty"`
}

// encodeRowID packs (data_obj_id, dba, slot) into the 13 raw bytes that
// base64 without padding turns into exactly 18 characters (§6: "row id
// (ROWID encoded as 18-char base64)") — 13 bytes is 104 bits, which
// base64's 6-bits-per-character alphabet spreads across ceil(104/6) = 18
// characters with no padding needed. The exact byte layout is ours to
// choose (not a copy of the source database's packed ROWID format).
func encodeRowID(dataObjID uint32, dba redo.DBA, slot uint16) string {
	var raw [13]byte
	binary.BigEndian.PutUint32(raw[0:4], dataObjID)
	binary.BigEndian.PutUint16(raw[4:6], dba.File)
	binary.BigEndian.PutUint32(raw[6:10], dba.Block)
	binary.BigEndian.PutUint16(raw[10:12], slot)
	raw[12] = 0
	return base64.RawStdEncoding.EncodeToString(raw[:])
}
