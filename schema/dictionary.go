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

// Package schema is the in-memory catalog: users, tables, columns,
// partitions, LOB segments, constraints (§4.3). It mirrors the ten
// row-id-keyed catalog tables of the source database and maintains derived
// indexes rebuilt on every mutation.
package schema

import (
	"sort"
	"sync/atomic"

	"github.com/google/btree"
)

// ColumnType is the physical type code carried on the wire (§4.3).
type ColumnType uint8

const (
	TypeVarchar2    ColumnType = 1
	TypeNumber      ColumnType = 2
	TypeDate        ColumnType = 12
	TypeRaw         ColumnType = 23
	TypeBinaryFloat ColumnType = 100
	TypeBinaryDouble ColumnType = 101
	TypeChar        ColumnType = 96
	TypeTimestamp   ColumnType = 180
)

// Column describes one column of a table version (§3 SchemaColumn).
type Column struct {
	Name         string
	Ordinal      int // segment position, used to order the derived index
	Type         ColumnType
	Length       int
	Precision    int
	Scale        int
	Nullable     bool
	PKOrdinal    int // 0 = not part of PK, else 1-based position
	CharsetID    int
	Supplemental bool   // column carries supplemental-log data by policy
	Default      string // DEFAULT expression text, from the coldefaults catalog table
}

// Table describes one table or partition version (§3 SchemaObject).
type Table struct {
	ObjID     uint32
	DataObjID uint32
	Owner     string
	Name      string
	Columns   []Column // ordered by segment position
	PKOrdinals []int
}

func (t *Table) GetKey() uint32 { return t.ObjID }
func (t *Table) ComputeSize() uint {
	return uint(64 + len(t.Columns)*48)
}

// ConstraintTypePrimaryKey is the CDEF$.TYPE# value this engine treats as
// a primary-key constraint (this engine's own convention, §4.3 leaves the
// physical encoding of the ten catalog tables unspecified).
const ConstraintTypePrimaryKey byte = 3

// BootstrapRow is one already-typed row for one of the ten catalog tables,
// as delivered by an external loader (§6, SPEC_FULL `bootstrap/`). The core
// never executes SQL itself.
type BootstrapRow struct {
	Table string // one of: users, objects, tables, columns, coldefaults,
	// partitions, subpartitions, lobsegments, ccoldefs, ccoldef_constraints
	ObjID     uint32
	DataObjID uint32
	// ParentObjID is the owning table's obj id for partitions, subpartitions
	// and lobsegments rows: a redo record against a partition's own obj id
	// resolves to the base table through this link (§4.3 find_table).
	ParentObjID uint32
	Owner       string
	Name        string
	Column      Column
	// ConstraintID/ConstraintType carry a ccoldefs (CDEF$) row's constraint
	// id and type code; ConstraintID alone carries a ccoldef_constraints
	// (CCOL$) row's constraint id, with the column ordinal and 1-based key
	// position riding in Column.Ordinal/Column.PKOrdinal.
	ConstraintID   uint32
	ConstraintType byte
}

// Schema is one immutable catalog version. A new version is produced by
// ApplyChange and shadows the old one (§3 invariant 5, §4.3 "newer
// snapshots shadow older ones"). Grounded on
// third_party/NonLockingReadMap's copy-on-write discipline: publishing a new
// Schema is a single atomic pointer swap, so readers never observe a
// half-built version.
type Schema struct {
	SCN    uint64
	tables map[uint32]*Table
	pkIdx  *btree.BTreeG[pkEntry] // ordered by (objID, pkOrdinal) for range scans
	// partitionParent redirects a partition's, sub-partition's, or LOB
	// segment's own obj id to the base table it belongs to (§4.3
	// find_table). The three row kinds are functionally identical for this
	// purpose, so they share one map; ToBootstrapRows re-emits them all
	// under the "partitions" kind since the distinction carries no
	// decode-time effect once resolved.
	partitionParent map[uint32]uint32
	// users mirrors USER$: user# -> username. Kept for catalog completeness
	// and checkpoint round-tripping; nothing in this engine currently needs
	// to resolve an owner id through it since "objects" rows already carry
	// the owner name directly.
	users map[uint32]string
}

type pkEntry struct {
	objID   uint32
	ordinal int
	column  string
}

func pkLess(a, b pkEntry) bool {
	if a.objID != b.objID {
		return a.objID < b.objID
	}
	return a.ordinal < b.ordinal
}

func newSchema(scn uint64, tables map[uint32]*Table, partitionParent map[uint32]uint32, users map[uint32]string) *Schema {
	s := &Schema{SCN: scn, tables: tables, partitionParent: partitionParent, users: users, pkIdx: btree.NewG(32, pkLess)}
	s.rebuildIndexes()
	return s
}

// rebuildIndexes rebuilds derived indexes from the canonical tables map
// (§4.3 "Derived indexes... rebuilt whenever the dictionary is mutated").
func (s *Schema) rebuildIndexes() {
	for _, t := range s.tables {
		sort.Slice(t.Columns, func(i, j int) bool { return t.Columns[i].Ordinal < t.Columns[j].Ordinal })
		t.PKOrdinals = t.PKOrdinals[:0]
		for _, c := range t.Columns {
			if c.PKOrdinal > 0 {
				t.PKOrdinals = append(t.PKOrdinals, c.Ordinal)
				s.pkIdx.ReplaceOrInsert(pkEntry{objID: t.ObjID, ordinal: c.PKOrdinal, column: c.Name})
			}
		}
	}
}

// FindTable is find_table(obj_id) -> Option<&Table>, O(1) expected (§4.3).
// A partition's, sub-partition's, or LOB segment's own obj id redirects to
// its base table.
func (s *Schema) FindTable(objID uint32) (*Table, bool) {
	if t, ok := s.tables[objID]; ok {
		return t, true
	}
	if parent, ok := s.partitionParent[objID]; ok {
		if t, ok := s.tables[parent]; ok {
			return t, true
		}
	}
	return nil, false
}

// FindColumn is find_column(table, column_ordinal) -> &Column (§4.3).
func (s *Schema) FindColumn(t *Table, ordinal int) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Ordinal == ordinal {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryKeyColumns returns the table's PK columns in key order, using the
// btree-backed derived index.
func (s *Schema) PrimaryKeyColumns(objID uint32) []string {
	var cols []string
	s.pkIdx.AscendRange(pkEntry{objID: objID}, pkEntry{objID: objID + 1}, func(e pkEntry) bool {
		cols = append(cols, e.column)
		return true
	})
	return cols
}

// Dictionary holds the currently-published Schema and publishes new
// versions under mutation (§4.3). Old versions are kept reachable only by
// whoever already holds a pointer to them (snapshot_at) — the dictionary
// itself only ever tracks "current".
type Dictionary struct {
	current atomic.Pointer[Schema]
	keep    bool // flags.schema-keep: retain prior versions in history
	history []*Schema
}

func NewDictionary(keepHistory bool) *Dictionary {
	d := &Dictionary{keep: keepHistory}
	d.current.Store(newSchema(0, make(map[uint32]*Table), make(map[uint32]uint32), make(map[uint32]string)))
	return d
}

// catalogBuild accumulates one pass over BootstrapRow values for all ten
// catalog table kinds (§4.3) before the caller rebuilds indexes once, so
// rows may arrive in any order within a pass.
type catalogBuild struct {
	tables          map[uint32]*Table
	partitionParent map[uint32]uint32
	users           map[uint32]string
	// pkConstraintTable/pkConstraintCols hold CDEF$/CCOL$ rows only long
	// enough to resolve into Column.PKOrdinal: once resolved, PK membership
	// lives on the column like any directly-supplied PKOrdinal and the
	// constraint bookkeeping itself is discarded.
	pkConstraintTable map[uint32]uint32
	pkConstraintCols  map[uint32][]pkConstraintCol
}

type pkConstraintCol struct {
	ordinal  int
	position int
}

func newCatalogBuild() *catalogBuild {
	return &catalogBuild{
		tables:            make(map[uint32]*Table),
		partitionParent:   make(map[uint32]uint32),
		users:             make(map[uint32]string),
		pkConstraintTable: make(map[uint32]uint32),
		pkConstraintCols:  make(map[uint32][]pkConstraintCol),
	}
}

func (b *catalogBuild) table(objID uint32) *Table {
	t, ok := b.tables[objID]
	if !ok {
		t = &Table{ObjID: objID}
		b.tables[objID] = t
	}
	return t
}

// apply stages one BootstrapRow of any of the ten catalog-table kinds.
func (b *catalogBuild) apply(r BootstrapRow) {
	switch r.Table {
	case "objects", "tables":
		t := b.table(r.ObjID)
		t.DataObjID, t.Owner, t.Name = r.DataObjID, r.Owner, r.Name
	case "columns":
		replaceOrAppendColumn(b.table(r.ObjID), r.Column)
	case "coldefaults":
		setColumnDefault(b.table(r.ObjID), r.Column.Ordinal, r.Column.Default)
	case "users":
		b.users[r.ObjID] = r.Name
	case "partitions", "subpartitions", "lobsegments":
		b.partitionParent[r.ObjID] = r.ParentObjID
	case "ccoldefs":
		if r.ConstraintType == ConstraintTypePrimaryKey {
			b.pkConstraintTable[r.ConstraintID] = r.ObjID
		}
	case "ccoldef_constraints":
		b.pkConstraintCols[r.ConstraintID] = append(b.pkConstraintCols[r.ConstraintID], pkConstraintCol{
			ordinal:  r.Column.Ordinal,
			position: r.Column.PKOrdinal,
		})
	}
}

// resolvePrimaryKeys applies every staged primary-key constraint (CDEF$ of
// type ConstraintTypePrimaryKey joined with its CCOL$ column rows) onto the
// matching table's columns.
func (b *catalogBuild) resolvePrimaryKeys() {
	for constraintID, objID := range b.pkConstraintTable {
		t, ok := b.tables[objID]
		if !ok {
			continue
		}
		for _, pc := range b.pkConstraintCols[constraintID] {
			for i := range t.Columns {
				if t.Columns[i].Ordinal == pc.ordinal {
					t.Columns[i].PKOrdinal = pc.position
				}
			}
		}
	}
}

func replaceOrAppendColumn(t *Table, c Column) {
	for i := range t.Columns {
		if t.Columns[i].Ordinal == c.Ordinal {
			t.Columns[i] = c
			return
		}
	}
	t.Columns = append(t.Columns, c)
}

func setColumnDefault(t *Table, ordinal int, def string) {
	for i := range t.Columns {
		if t.Columns[i].Ordinal == ordinal {
			t.Columns[i].Default = def
			return
		}
	}
}

// Load bulk-loads bootstrap rows in one pass, then rebuilds indexes once
// (§4.3 "On load: ... inserts them all, then triggers one rebuild_indexes()
// pass"). Rows may arrive in any order, across all ten catalog table kinds.
func (d *Dictionary) Load(rows []BootstrapRow) {
	b := newCatalogBuild()
	for _, r := range rows {
		b.apply(r)
	}
	b.resolvePrimaryKeys()
	d.current.Store(newSchema(0, b.tables, b.partitionParent, b.users))
}

// SnapshotAt returns the schema version effective at scn (§3 invariant 5:
// "the schema dictionary used to decode a record is the version effective
// at that record's SCN"). Without schema-keep, only the current version is
// ever available and is returned unconditionally — a record whose SCN
// precedes a DDL that already ran past it decodes against stale columns,
// which is why schema-keep exists for consumers that need exact historical
// fidelity.
func (d *Dictionary) SnapshotAt(scn uint64) *Schema {
	if !d.keep {
		return d.current.Load()
	}
	cur := d.current.Load()
	if scn >= cur.SCN {
		return cur
	}
	for i := len(d.history) - 1; i >= 0; i-- {
		if scn >= d.history[i].SCN {
			return d.history[i]
		}
	}
	if len(d.history) > 0 {
		return d.history[0]
	}
	return cur
}

// Current returns the latest published schema.
func (d *Dictionary) Current() *Schema { return d.current.Load() }

// ToBootstrapRows flattens a Schema back into the row shape Load accepts, so
// a checkpoint can serialize the current dictionary and a later process can
// restore it with Load without the two ever needing a richer wire format
// (SPEC_FULL checkpoint/ "dictionary snapshot").
func (s *Schema) ToBootstrapRows() []BootstrapRow {
	var rows []BootstrapRow
	for id, name := range s.users {
		rows = append(rows, BootstrapRow{Table: "users", ObjID: id, Name: name})
	}
	for _, t := range s.tables {
		rows = append(rows, BootstrapRow{Table: "objects", ObjID: t.ObjID, DataObjID: t.DataObjID, Owner: t.Owner, Name: t.Name})
		for _, c := range t.Columns {
			rows = append(rows, BootstrapRow{Table: "columns", ObjID: t.ObjID, DataObjID: t.DataObjID, Owner: t.Owner, Name: t.Name, Column: c})
			if c.Default != "" {
				rows = append(rows, BootstrapRow{Table: "coldefaults", ObjID: t.ObjID, Column: Column{Ordinal: c.Ordinal, Default: c.Default}})
			}
		}
	}
	for childObjID, parentObjID := range s.partitionParent {
		rows = append(rows, BootstrapRow{Table: "partitions", ObjID: childObjID, ParentObjID: parentObjID})
	}
	return rows
}

// SchemaDelta stages in-stream dictionary mutations for one transaction
// before they are applied on commit (§4.10 system-table mutation tracker).
type SchemaDelta struct {
	touched map[uint32]bool
	rows    []BootstrapRow
	drops   []uint32
}

func NewSchemaDelta() *SchemaDelta {
	return &SchemaDelta{touched: make(map[uint32]bool)}
}

func (d *SchemaDelta) Stage(row BootstrapRow) {
	d.rows = append(d.rows, row)
	d.touched[row.ObjID] = true
}

func (d *SchemaDelta) StageDrop(objID uint32) {
	d.drops = append(d.drops, objID)
	d.touched[objID] = true
}

func (d *SchemaDelta) Empty() bool { return len(d.rows) == 0 && len(d.drops) == 0 }

// ApplyDictionaryChange mutates the dictionary atomically: used both at
// bootstrap (via Load) and during replay (DDL in the stream, via this
// method called by the assembler on commit only) (§4.3, §4.10).
func (d *Dictionary) ApplyDictionaryChange(delta *SchemaDelta, commitSCN uint64) {
	if delta.Empty() {
		return
	}
	prev := d.current.Load()
	b := newCatalogBuild()
	for id, t := range prev.tables {
		cp := *t
		cp.Columns = append([]Column(nil), t.Columns...)
		cp.PKOrdinals = nil
		b.tables[id] = &cp
	}
	for id, parent := range prev.partitionParent {
		b.partitionParent[id] = parent
	}
	for id, name := range prev.users {
		b.users[id] = name
	}
	for _, id := range delta.drops {
		delete(b.tables, id)
	}
	for _, r := range delta.rows {
		b.apply(r)
	}
	b.resolvePrimaryKeys()
	updated := newSchema(commitSCN, b.tables, b.partitionParent, b.users)
	if d.keep {
		d.history = append(d.history, prev)
	}
	d.current.Store(updated)
}
