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
package redo

import "fmt"

// XID identifies a transaction: (undo segment, slot, sequence) per §3.
type XID struct {
	Usn uint16
	Slt uint16
	Sqn uint32
}

func (x XID) String() string {
	return fmt.Sprintf("0x%04x.%03x.%08x", x.Usn, x.Slt, x.Sqn)
}

func (x XID) Less(o XID) bool {
	if x.Usn != o.Usn {
		return x.Usn < o.Usn
	}
	if x.Slt != o.Slt {
		return x.Slt < o.Slt
	}
	return x.Sqn < o.Sqn
}

// DBA is a data block address: (file number, block number).
type DBA struct {
	File  uint16
	Block uint32
}

// UBA is an undo block address, used as the rollback matcher's key.
type UBA struct {
	DBA DBA
	Seq uint16
	Rec uint8
}

// RollbackKey is (UBA, slot, rci) — the rollback matcher's index key (§4.7).
type RollbackKey struct {
	Uba  UBA
	Slot uint16
	Rci  uint8
}

// OpcodeKind is the closed tagged union of vectored change-vector opcodes
// this engine understands (§4.4, §9 "virtual process() dispatch" redesign
// note: a closed union + pure per-kind decode function, not virtual dispatch).
type OpcodeKind uint8

const (
	OpUnknown         OpcodeKind = iota
	OpKtbTransaction             // 5.1 undo / transaction control
	OpKtbRollback                // 5.4 / 5.5 partial rollback
	OpInsertRow                  // 11.2
	OpDeleteRow                  // 11.3
	OpUpdateRow                  // 11.5
	OpOverwriteRow                // 11.6
	OpMultiInsert                 // 11.11 QMI
	OpMultiDelete                 // 11.12 QMD
	OpCommit                      // 9.2 (actually carried in the record header, modeled as an opcode)
	OpDDL                         // 24.1
)

func (k OpcodeKind) String() string {
	switch k {
	case OpKtbTransaction:
		return "5.1"
	case OpKtbRollback:
		return "5.4"
	case OpInsertRow:
		return "11.2"
	case OpDeleteRow:
		return "11.3"
	case OpUpdateRow:
		return "11.5"
	case OpOverwriteRow:
		return "11.6"
	case OpMultiInsert:
		return "11.11"
	case OpMultiDelete:
		return "11.12"
	case OpCommit:
		return "9.2"
	case OpDDL:
		return "24.1"
	default:
		return "unknown"
	}
}

// DDLKind enumerates the DDL shapes this engine distinguishes (SPEC_FULL
// supplemented feature #2, grounded on OpCode.cpp's 24.1 handling).
type DDLKind uint8

const (
	DDLUnknown DDLKind = iota
	DDLCreate
	DDLAlter
	DDLDrop
	DDLRename
	DDLTruncate
	DDLTruncatePartition
)

// RowFlag bits from the KDO flag byte (§4.4): row-piece position and type.
type RowFlag uint16

const (
	RowFlagFirst       RowFlag = 1 << iota // F
	RowFlagLast                           // L
	RowFlagNext                           // N
	RowFlagPrev                           // P
	RowFlagHead                           // H
	RowFlagCluster                        // C
	RowFlagKeyCompress                    // K
	RowFlagDeleted                        // D
	RowFlagCleanoutOnly
)

func (f RowFlag) Is(bit RowFlag) bool { return f&bit != 0 }

// ColumnImage is one physically-changed column: its table ordinal, raw bytes
// (nil means SQL NULL), and whether it arrived via supplemental logging.
type ColumnImage struct {
	Ordinal      int
	Data         []byte // nil = NULL
	Supplemental bool
}

// RedoLogRecord is one change vector, decoded uniformly regardless of
// opcode (§3, §4.4). It is created by the opcode parser and owned by the
// transaction buffer until its transaction commits or rolls back.
type RedoLogRecord struct {
	Kind OpcodeKind

	Xid XID
	Scn uint64
	Seq uint8 // subscn/seq field from the 24-byte record header

	ObjID    uint32
	DataObjID uint32
	Dba      DBA
	Slot     uint16

	Flags RowFlag

	// KTB fields
	Uba          UBA
	Itli         uint8
	BeginTx      bool
	CommitTx     bool
	RollbackFlag bool

	// KDO fields
	ColumnCount int
	UndoImages  []ColumnImage
	RedoImages  []ColumnImage
	NullBitmap  []bool // index = table ordinal, true = NULL

	// Multi-row opcodes (11.11/11.12): one slot per logical row; the
	// assembler unrolls this into one event per row (§4.4).
	MultiRowSlots []uint16

	// DDL (24.1)
	DDLKind DDLKind
	Owner   string
	Table   string
	DDLText string

	// rollback-matcher bookkeeping
	RollbackKey RollbackKey
	IsPaired    bool // undo+redo already paired inside this record
}

func (r *RedoLogRecord) IsCleanoutOnly() bool {
	return r.Flags.Is(RowFlagCleanoutOnly) && len(r.UndoImages) == 0 && len(r.RedoImages) == 0
}
