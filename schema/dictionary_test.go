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
package schema

import "testing"

func TestDictionaryLoadBuildsTablesAndPKIndex(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{
		{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0, Type: TypeNumber, PKOrdinal: 1}},
		{Table: "columns", ObjID: 1, Column: Column{Name: "NAME", Ordinal: 1, Type: TypeVarchar2}},
	})

	tbl, ok := d.Current().FindTable(1)
	if !ok || tbl.Name != "EMP" || tbl.Owner != "HR" || len(tbl.Columns) != 2 {
		t.Fatalf("unexpected table after Load: %+v ok=%v", tbl, ok)
	}
	if cols := d.Current().PrimaryKeyColumns(1); len(cols) != 1 || cols[0] != "ID" {
		t.Fatalf("PrimaryKeyColumns(1) = %v, want [ID]", cols)
	}
}

func TestDictionaryApplyDictionaryChangeShadowsOldVersion(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{
		{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0, Type: TypeNumber}},
	})
	before := d.Current()

	delta := NewSchemaDelta()
	delta.Stage(BootstrapRow{Table: "columns", ObjID: 1, Column: Column{Name: "SALARY", Ordinal: 1, Type: TypeNumber}})
	d.ApplyDictionaryChange(delta, 500)

	after := d.Current()
	if after == before {
		t.Fatalf("ApplyDictionaryChange should publish a new Schema, not mutate in place")
	}
	if after.SCN != 500 {
		t.Fatalf("after.SCN = %d, want 500", after.SCN)
	}
	tbl, _ := after.FindTable(1)
	if len(tbl.Columns) != 2 {
		t.Fatalf("len(Columns) after adding a column = %d, want 2", len(tbl.Columns))
	}

	// the previously-returned snapshot must still show the old shape: it was
	// an independent copy, not a view into mutable shared state.
	beforeTbl, _ := before.FindTable(1)
	if len(beforeTbl.Columns) != 1 {
		t.Fatalf("earlier snapshot was mutated in place: len(Columns) = %d, want 1", len(beforeTbl.Columns))
	}
}

func TestDictionaryApplyDictionaryChangeDrop(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"}})

	delta := NewSchemaDelta()
	delta.StageDrop(1)
	d.ApplyDictionaryChange(delta, 100)

	if _, ok := d.Current().FindTable(1); ok {
		t.Fatalf("table 1 should no longer be found after a staged drop")
	}
}

func TestSchemaDeltaEmpty(t *testing.T) {
	delta := NewSchemaDelta()
	if !delta.Empty() {
		t.Fatalf("a freshly constructed SchemaDelta should be Empty()")
	}
	delta.Stage(BootstrapRow{ObjID: 1})
	if delta.Empty() {
		t.Fatalf("SchemaDelta should not be Empty() after Stage")
	}
}

func TestDictionarySnapshotAtWithoutSchemaKeepAlwaysReturnsCurrent(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"}})

	delta := NewSchemaDelta()
	delta.Stage(BootstrapRow{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0}})
	d.ApplyDictionaryChange(delta, 900)

	// without schema-keep, a query for an SCN before the DDL still gets the
	// current version — there is no history to consult (§4.3).
	if got := d.SnapshotAt(1); got != d.Current() {
		t.Fatalf("SnapshotAt without schema-keep should always return Current()")
	}
}

func TestDictionarySnapshotAtWithSchemaKeepReturnsHistoricalVersion(t *testing.T) {
	d := NewDictionary(true)
	d.Load([]BootstrapRow{{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"}})
	old := d.Current()

	delta := NewSchemaDelta()
	delta.Stage(BootstrapRow{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0}})
	d.ApplyDictionaryChange(delta, 900)

	if got := d.SnapshotAt(500); got != old {
		t.Fatalf("SnapshotAt(500) with schema-keep should return the version effective before the DDL at SCN 900")
	}
	if got := d.SnapshotAt(900); got != d.Current() {
		t.Fatalf("SnapshotAt(900) should return the version the DDL published")
	}
}

func TestDictionaryPartitionRedirectsToBaseTable(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{
		{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0}},
		{Table: "partitions", ObjID: 2001, DataObjID: 2001, ParentObjID: 1, Name: "EMP_P1"},
	})

	tbl, ok := d.Current().FindTable(2001)
	if !ok || tbl.ObjID != 1 {
		t.Fatalf("FindTable(partition obj id) = %+v ok=%v, want base table 1", tbl, ok)
	}
}

func TestDictionaryPrimaryKeyResolvedFromConstraintRows(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{
		{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0}},
		{Table: "columns", ObjID: 1, Column: Column{Name: "NAME", Ordinal: 1}},
		{Table: "ccoldefs", ObjID: 1, ConstraintID: 500, ConstraintType: ConstraintTypePrimaryKey},
		{Table: "ccoldef_constraints", ConstraintID: 500, Column: Column{Ordinal: 0, PKOrdinal: 1}},
	})

	if cols := d.Current().PrimaryKeyColumns(1); len(cols) != 1 || cols[0] != "ID" {
		t.Fatalf("PrimaryKeyColumns(1) = %v, want [ID] resolved from ccoldefs/ccoldef_constraints", cols)
	}
}

func TestDictionaryConstraintRowsOfOtherTypesDoNotSetPrimaryKey(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{
		{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 1, Column: Column{Name: "ID", Ordinal: 0}},
		{Table: "ccoldefs", ObjID: 1, ConstraintID: 501, ConstraintType: 5}, // CHECK, not primary key
		{Table: "ccoldef_constraints", ConstraintID: 501, Column: Column{Ordinal: 0, PKOrdinal: 1}},
	})

	if cols := d.Current().PrimaryKeyColumns(1); len(cols) != 0 {
		t.Fatalf("PrimaryKeyColumns(1) = %v, want none: constraint 501 is not a primary key", cols)
	}
}

func TestToBootstrapRowsRoundTripsIntoLoad(t *testing.T) {
	d := NewDictionary(false)
	d.Load([]BootstrapRow{
		{Table: "objects", ObjID: 7, Owner: "HR", Name: "DEPT"},
		{Table: "columns", ObjID: 7, Column: Column{Name: "ID", Ordinal: 0, Type: TypeNumber}},
	})
	rows := d.Current().ToBootstrapRows()

	restored := NewDictionary(false)
	restored.Load(rows)
	tbl, ok := restored.Current().FindTable(7)
	if !ok || tbl.Name != "DEPT" || len(tbl.Columns) != 1 {
		t.Fatalf("round trip through ToBootstrapRows/Load lost data: %+v ok=%v", tbl, ok)
	}
}
