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
package assemble

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/launix-de/redocap/output"
	"github.com/launix-de/redocap/redo"
	"github.com/launix-de/redocap/schema"
	"github.com/launix-de/redocap/txn"
)

func hrEmpDictionary() *schema.Dictionary {
	d := schema.NewDictionary(false)
	d.Load([]schema.BootstrapRow{
		{Table: "objects", ObjID: 10001, DataObjID: 10001, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 10001, Column: schema.Column{Name: "ID", Ordinal: 0, Type: schema.TypeNumber}},
		{Table: "columns", ObjID: 10001, Column: schema.Column{Name: "NAME", Ordinal: 1, Type: schema.TypeVarchar2, CharsetID: 1}},
	})
	return d
}

func numberBytes(t *testing.T, n int64) []byte {
	t.Helper()
	b, err := schema.EncodeNumber(decimal.NewFromInt(n))
	if err != nil {
		t.Fatalf("EncodeNumber: %v", err)
	}
	return b
}

// TestAssemblerSingleInsert follows spec.md §8 scenario 1.
func TestAssemblerSingleInsert(t *testing.T) {
	dict := hrEmpDictionary()
	mgr := txn.NewManager(1, 10)
	out := output.NewBuffer()
	asm := NewAssembler(mgr, dict, out, Config{CommitMarkers: true, SCNFormat: SCNHex, TimestampFormat: TimestampISO8601})

	cursor := out.NewCursor()

	xid := redo.XID{Usn: 1, Slt: 2, Sqn: 7}
	rec := &redo.RedoLogRecord{
		Kind:      redo.OpInsertRow,
		ObjID:     10001,
		DataObjID: 10001,
		Dba:       redo.DBA{File: 1, Block: 2},
		Slot:      5,
		RedoImages: []redo.ColumnImage{
			{Ordinal: 0, Data: numberBytes(t, 1)},
			{Ordinal: 1, Data: []byte("AL")},
		},
	}
	if err := mgr.Append(xid, 42, 0x10, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := asm.Commit(xid, 0x11, time.Time{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	msg, sentinel, ok := out.Read(cursor)
	if !ok || sentinel {
		t.Fatalf("expected an insert event, got sentinel=%v ok=%v", sentinel, ok)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Op != OpInsert || ev.Owner != "HR" || ev.Table != "EMP" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.After["ID"] != "1" || ev.After["NAME"] != "AL" {
		t.Fatalf("unexpected after image: %+v", ev.After)
	}
	if ev.SCN != "0x11" {
		t.Fatalf("unexpected scn: %s", ev.SCN)
	}

	msg2, sentinel2, ok2 := out.Read(cursor)
	if !ok2 || sentinel2 {
		t.Fatalf("expected a commit marker")
	}
	var commitEv Event
	if err := json.Unmarshal(msg2, &commitEv); err != nil {
		t.Fatalf("unmarshal commit: %v", err)
	}
	if commitEv.Op != OpCommit {
		t.Fatalf("expected commit marker, got %+v", commitEv)
	}
}

// TestAssemblerPartialRollbackThenCommit follows spec.md §8 scenario 4: two
// inserts, a partial rollback of the second, then commit produces exactly
// one insert event.
func TestAssemblerPartialRollbackThenCommit(t *testing.T) {
	dict := hrEmpDictionary()
	mgr := txn.NewManager(1, 10)
	out := output.NewBuffer()
	asm := NewAssembler(mgr, dict, out, Config{})

	cursor := out.NewCursor()
	xid := redo.XID{Usn: 1, Slt: 1, Sqn: 1}

	key := redo.RollbackKey{Uba: redo.UBA{DBA: redo.DBA{Block: 9}}, Slot: 1, Rci: 1}
	rec1 := &redo.RedoLogRecord{Kind: redo.OpInsertRow, ObjID: 10001, DataObjID: 10001, Slot: 1,
		RedoImages: []redo.ColumnImage{{Ordinal: 0, Data: numberBytes(t, 1)}, {Ordinal: 1, Data: []byte("AL")}}}
	rec2 := &redo.RedoLogRecord{Kind: redo.OpInsertRow, ObjID: 10001, DataObjID: 10001, Slot: 2, RollbackKey: key,
		RedoImages: []redo.ColumnImage{{Ordinal: 0, Data: numberBytes(t, 2)}, {Ordinal: 1, Data: []byte("BL")}}}

	if err := mgr.Append(xid, 1, 0x10, rec1); err != nil {
		t.Fatalf("append rec1: %v", err)
	}
	if err := mgr.Append(xid, 1, 0x10, rec2); err != nil {
		t.Fatalf("append rec2: %v", err)
	}
	mgr.Rollback(xid, key)

	if err := asm.Commit(xid, 0x12, time.Time{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	msg, sentinel, ok := out.Read(cursor)
	if !ok || sentinel {
		t.Fatalf("expected exactly one insert event")
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.After["NAME"] != "AL" {
		t.Fatalf("expected the first row to survive, got %+v", ev.After)
	}

	out.Shutdown()
	_, sentinel2, ok2 := out.Read(cursor)
	if !ok2 || !sentinel2 {
		t.Fatalf("expected only the sentinel after the single surviving insert")
	}
}

// TestAssemblerUpdateWithSupplementalPK follows spec.md §8 scenario 2: NAME
// is updated while ID (the PK) is unchanged; the real undo carries the old
// NAME and a PK supplemental-log column carries the unchanged ID. Grounded
// on the redo/opcode.go fix that routes supplemental columns onto the same
// image map the KDO vector's before side uses, so a regression here would
// catch the decodeKDO routing bug directly.
func TestAssemblerUpdateWithSupplementalPK(t *testing.T) {
	dict := hrEmpDictionary()
	mgr := txn.NewManager(1, 10)
	out := output.NewBuffer()
	asm := NewAssembler(mgr, dict, out, Config{})

	cursor := out.NewCursor()
	xid := redo.XID{Usn: 1, Slt: 3, Sqn: 9}
	rec := &redo.RedoLogRecord{
		Kind: redo.OpUpdateRow, ObjID: 10001, DataObjID: 10001, Slot: 5,
		RedoImages: []redo.ColumnImage{{Ordinal: 1, Data: []byte("BL")}},
		UndoImages: []redo.ColumnImage{
			{Ordinal: 1, Data: []byte("AL")},                                    // real undo: old NAME
			{Ordinal: 0, Data: numberBytes(t, 1), Supplemental: true},           // PK supplemental log: unchanged ID
		},
	}
	if err := mgr.Append(xid, 1, 0x10, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := asm.Commit(xid, 0x11, time.Time{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	msg, sentinel, ok := out.Read(cursor)
	if !ok || sentinel {
		t.Fatalf("expected an update event")
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Op != OpUpdate {
		t.Fatalf("unexpected op: %+v", ev)
	}
	if ev.Before["ID"] != "1" || ev.Before["NAME"] != "AL" {
		t.Fatalf("unexpected before image: %+v, want the supplemental PK column alongside the undo column", ev.Before)
	}
	if ev.After["NAME"] != "BL" {
		t.Fatalf("unexpected after image: %+v", ev.After)
	}
}

// TestAssemblerDeleteWithSupplementalAll follows spec.md §8 scenario 3: a
// delete whose own KDO vector carries no column data, with the full
// pre-image supplied entirely through supplemental-all logging.
func TestAssemblerDeleteWithSupplementalAll(t *testing.T) {
	dict := hrEmpDictionary()
	mgr := txn.NewManager(1, 10)
	out := output.NewBuffer()
	asm := NewAssembler(mgr, dict, out, Config{})

	cursor := out.NewCursor()
	xid := redo.XID{Usn: 1, Slt: 4, Sqn: 3}
	rec := &redo.RedoLogRecord{
		Kind: redo.OpDeleteRow, ObjID: 10001, DataObjID: 10001, Slot: 5,
		UndoImages: []redo.ColumnImage{
			{Ordinal: 0, Data: numberBytes(t, 1), Supplemental: true},
			{Ordinal: 1, Data: []byte("AL"), Supplemental: true},
		},
	}
	if err := mgr.Append(xid, 1, 0x20, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := asm.Commit(xid, 0x21, time.Time{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	msg, sentinel, ok := out.Read(cursor)
	if !ok || sentinel {
		t.Fatalf("expected a delete event")
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Op != OpDelete {
		t.Fatalf("unexpected op: %+v", ev)
	}
	if ev.Before["ID"] != "1" || ev.Before["NAME"] != "AL" {
		t.Fatalf("unexpected before image: %+v, want the full pre-image via supplemental-all", ev.Before)
	}
}

// TestAssemblerLogSwitchMidTransactionPreservesOrder follows spec.md §8
// scenario 5: a transaction's records arrive from two different sequences
// (a log switch happens between them), and the assembler must still emit
// them in original order. The companion checkpoint-watermark invariant ("never
// advances past the transaction's first_scn") is covered by
// replay.TestWriteCheckpointRecordsOldestOpenTransaction.
func TestAssemblerLogSwitchMidTransactionPreservesOrder(t *testing.T) {
	dict := hrEmpDictionary()
	mgr := txn.NewManager(1, 10)
	out := output.NewBuffer()
	asm := NewAssembler(mgr, dict, out, Config{})

	cursor := out.NewCursor()
	xid := redo.XID{Usn: 1, Slt: 5, Sqn: 1}

	rec1 := &redo.RedoLogRecord{Kind: redo.OpInsertRow, ObjID: 10001, DataObjID: 10001, Slot: 1,
		RedoImages: []redo.ColumnImage{{Ordinal: 0, Data: numberBytes(t, 1)}, {Ordinal: 1, Data: []byte("AL")}}}
	rec2 := &redo.RedoLogRecord{Kind: redo.OpInsertRow, ObjID: 10001, DataObjID: 10001, Slot: 2,
		RedoImages: []redo.ColumnImage{{Ordinal: 0, Data: numberBytes(t, 2)}, {Ordinal: 1, Data: []byte("BO")}}}

	if err := mgr.Append(xid, 42, 0x10, rec1); err != nil { // sequence 42
		t.Fatalf("append rec1: %v", err)
	}
	if err := mgr.Append(xid, 43, 0x12, rec2); err != nil { // sequence 43, after the log switch
		t.Fatalf("append rec2: %v", err)
	}
	if err := asm.Commit(xid, 0x13, time.Time{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	msg1, sentinel1, ok1 := out.Read(cursor)
	if !ok1 || sentinel1 {
		t.Fatalf("expected the first insert event")
	}
	var ev1 Event
	if err := json.Unmarshal(msg1, &ev1); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev1.After["NAME"] != "AL" {
		t.Fatalf("expected sequence-42 record first, got %+v", ev1.After)
	}

	msg2, sentinel2, ok2 := out.Read(cursor)
	if !ok2 || sentinel2 {
		t.Fatalf("expected the second insert event")
	}
	var ev2 Event
	if err := json.Unmarshal(msg2, &ev2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev2.After["NAME"] != "BO" {
		t.Fatalf("expected sequence-43 record second, got %+v", ev2.After)
	}
}

// TestAssemblerDDLAddsColumnVisibleToLaterInsert follows spec.md §8 scenario
// 6: an ALTER TABLE ADD COLUMN ships as a 24.1 DDL vector alongside the
// recursive COL$ insert that performs the actual catalog mutation, in the
// same commit; a later transaction's insert then carries the new column.
func TestAssemblerDDLAddsColumnVisibleToLaterInsert(t *testing.T) {
	dict := hrEmpDictionary()
	dict.Load(append(dict.Current().ToBootstrapRows(),
		schema.BootstrapRow{Table: "objects", ObjID: 18, Owner: "SYS", Name: "COL$"}))
	mgr := txn.NewManager(1, 10)
	out := output.NewBuffer()
	asm := NewAssembler(mgr, dict, out, Config{})

	cursor := out.NewCursor()

	ddlXid := redo.XID{Usn: 1, Slt: 6, Sqn: 1}
	ddlRec := &redo.RedoLogRecord{
		Kind: redo.OpDDL, Owner: "HR", Table: "EMP",
		DDLKind: redo.DDLAlter, DDLText: "ALTER TABLE HR.EMP ADD (SAL NUMBER)",
	}
	colRec := &redo.RedoLogRecord{
		Kind: redo.OpInsertRow, ObjID: 18, DataObjID: 18,
		RedoImages: []redo.ColumnImage{
			{Ordinal: 0, Data: numberBytes(t, 10001)},                       // obj# (HR.EMP)
			{Ordinal: 1, Data: numberBytes(t, 2)},                           // col# (0-based ordinal)
			{Ordinal: 2, Data: []byte("SAL")},
			{Ordinal: 3, Data: numberBytes(t, int64(schema.TypeNumber))},
			{Ordinal: 4, Data: numberBytes(t, 22)},
			{Ordinal: 5, Data: numberBytes(t, 10)},
			{Ordinal: 6, Data: numberBytes(t, 0)},
			{Ordinal: 7, Data: []byte("Y")},
			{Ordinal: 8, Data: numberBytes(t, 1)},
		},
	}
	if err := mgr.Append(ddlXid, 1, 0x100, ddlRec); err != nil {
		t.Fatalf("append ddl: %v", err)
	}
	if err := mgr.Append(ddlXid, 1, 0x100, colRec); err != nil {
		t.Fatalf("append col$: %v", err)
	}
	if err := asm.Commit(ddlXid, 0x100, time.Time{}); err != nil {
		t.Fatalf("commit ddl: %v", err)
	}

	msg, sentinel, ok := out.Read(cursor)
	if !ok || sentinel {
		t.Fatalf("expected a ddl event")
	}
	var ddlEv Event
	if err := json.Unmarshal(msg, &ddlEv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ddlEv.Op != OpDDL || ddlEv.DDLKind != "alter" {
		t.Fatalf("unexpected ddl event: %+v", ddlEv)
	}

	insXid := redo.XID{Usn: 1, Slt: 6, Sqn: 2}
	insRec := &redo.RedoLogRecord{
		Kind: redo.OpInsertRow, ObjID: 10001, DataObjID: 10001, Slot: 9,
		RedoImages: []redo.ColumnImage{
			{Ordinal: 0, Data: numberBytes(t, 2)},
			{Ordinal: 1, Data: []byte("BO")},
			{Ordinal: 2, Data: numberBytes(t, 5000)},
		},
	}
	if err := mgr.Append(insXid, 1, 0x101, insRec); err != nil {
		t.Fatalf("append insert: %v", err)
	}
	if err := asm.Commit(insXid, 0x101, time.Time{}); err != nil {
		t.Fatalf("commit insert: %v", err)
	}

	msg2, sentinel2, ok2 := out.Read(cursor)
	if !ok2 || sentinel2 {
		t.Fatalf("expected the insert event")
	}
	var insEv Event
	if err := json.Unmarshal(msg2, &insEv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if insEv.After["ID"] != "2" || insEv.After["NAME"] != "BO" || insEv.After["SAL"] != "5000" {
		t.Fatalf("expected the new SAL column in the after image: %+v", insEv.After)
	}
}
