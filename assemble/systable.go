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
	"strconv"
	"strings"

	"github.com/launix-de/redocap/redo"
	"github.com/launix-de/redocap/schema"
)

// SystemTableTracker is §4.10: records whose obj_id resolves to one of the
// catalog tables are additionally staged into a SchemaDelta and applied to
// the dictionary on commit, so DDL performed inside the captured stream is
// reflected in subsequent decodes. Grounded directly on
// src/builder/SystemTransaction.cpp, which exists for exactly this purpose.
type SystemTableTracker struct {
	catalogNames map[string]bool
}

func NewSystemTableTracker() *SystemTableTracker {
	names := make(map[string]bool)
	for _, n := range []string{
		"USER$", "OBJ$", "TAB$", "COL$", "COLDEF$", "CDEF$", "CCOL$",
		"TABPART$", "TABSUBPART$", "LOB$",
	} {
		names[n] = true
	}
	return &SystemTableTracker{catalogNames: names}
}

// IsCatalogTable reports whether name is one of the ten catalog tables
// §4.3 mirrors (users, objects, tables, columns, column defaults,
// partitions, sub-partitions, LOB segments, constraint columns, constraint
// definitions) under this engine's own naming convention.
func (t *SystemTableTracker) IsCatalogTable(name string) bool {
	return t.catalogNames[strings.ToUpper(name)]
}

// Stage decodes the columns this engine needs from a catalog-table change
// and stages them into delta, using a fixed per-catalog-table column
// ordinal convention (this engine's own, since §4.3 leaves the exact
// physical layout of the ten catalog tables unspecified):
//
//	TAB$/OBJ$ row:        0 obj#(NUMBER) 1 dataobj#(NUMBER) 2 owner(VARCHAR2) 3 name(VARCHAR2)
//	COL$ row:             0 obj#(NUMBER) 1 col#(NUMBER) 2 name(VARCHAR2) 3 type#(NUMBER)
//	                      4 length(NUMBER) 5 precision#(NUMBER) 6 scale(NUMBER)
//	                      7 nullable(CHAR 'Y'/'N') 8 charsetid(NUMBER)
//	USER$ row:            0 user#(NUMBER) 1 name(VARCHAR2)
//	COLDEF$ row:          0 obj#(NUMBER) 1 col#(NUMBER) 2 default text(VARCHAR2)
//	TABPART$/TABSUBPART$: 0 obj#(NUMBER) 1 dataobj#(NUMBER) 2 bo#(NUMBER, base table) 3 name(VARCHAR2)
//	LOB$ row:             0 obj#(NUMBER, LOB segment) 1 col#(NUMBER) 2 bo#(NUMBER, base table)
//	CDEF$ row:            0 con#(NUMBER) 1 obj#(NUMBER) 2 type#(NUMBER)
//	CCOL$ row:            0 con#(NUMBER) 1 col#(NUMBER) 2 pos#(NUMBER)
func (t *SystemTableTracker) Stage(delta *schema.SchemaDelta, rec *redo.RedoLogRecord, table *schema.Table) {
	images := rec.RedoImages
	if len(images) == 0 {
		images = rec.UndoImages
	}
	switch strings.ToUpper(table.Name) {
	case "OBJ$", "TAB$":
		objID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		dataObjID, _ := decodeUint32(images, 1)
		owner, _ := decodeString(images, 2)
		name, _ := decodeString(images, 3)
		delta.Stage(schema.BootstrapRow{Table: "objects", ObjID: objID, DataObjID: dataObjID, Owner: owner, Name: name})
	case "COL$":
		objID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		colOrdinal, _ := decodeUint32(images, 1)
		name, _ := decodeString(images, 2)
		typeCode, _ := decodeUint32(images, 3)
		length, _ := decodeUint32(images, 4)
		precision, _ := decodeUint32(images, 5)
		scale, _ := decodeUint32(images, 6)
		nullable, _ := decodeString(images, 7)
		charsetID, _ := decodeUint32(images, 8)
		delta.Stage(schema.BootstrapRow{
			Table: "columns",
			ObjID: objID,
			Column: schema.Column{
				Name:      name,
				Ordinal:   int(colOrdinal),
				Type:      schema.ColumnType(typeCode),
				Length:    int(length),
				Precision: int(precision),
				Scale:     int(scale),
				Nullable:  strings.EqualFold(nullable, "Y"),
				CharsetID: int(charsetID),
			},
		})
	case "USER$":
		userID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		name, _ := decodeString(images, 1)
		delta.Stage(schema.BootstrapRow{Table: "users", ObjID: userID, Name: name})
	case "COLDEF$":
		objID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		colOrdinal, _ := decodeUint32(images, 1)
		def, _ := decodeString(images, 2)
		delta.Stage(schema.BootstrapRow{Table: "coldefaults", ObjID: objID, Column: schema.Column{Ordinal: int(colOrdinal), Default: def}})
	case "TABPART$", "TABSUBPART$":
		objID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		dataObjID, _ := decodeUint32(images, 1)
		baseObjID, _ := decodeUint32(images, 2)
		name, _ := decodeString(images, 3)
		kind := "partitions"
		if strings.ToUpper(table.Name) == "TABSUBPART$" {
			kind = "subpartitions"
		}
		delta.Stage(schema.BootstrapRow{Table: kind, ObjID: objID, DataObjID: dataObjID, ParentObjID: baseObjID, Name: name})
	case "LOB$":
		objID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		colOrdinal, _ := decodeUint32(images, 1)
		baseObjID, _ := decodeUint32(images, 2)
		delta.Stage(schema.BootstrapRow{Table: "lobsegments", ObjID: objID, ParentObjID: baseObjID, Column: schema.Column{Ordinal: int(colOrdinal)}})
	case "CDEF$":
		constraintID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		objID, _ := decodeUint32(images, 1)
		typeCode, _ := decodeUint32(images, 2)
		delta.Stage(schema.BootstrapRow{Table: "ccoldefs", ObjID: objID, ConstraintID: constraintID, ConstraintType: byte(typeCode)})
	case "CCOL$":
		constraintID, ok := decodeUint32(images, 0)
		if !ok {
			return
		}
		colOrdinal, _ := decodeUint32(images, 1)
		position, _ := decodeUint32(images, 2)
		delta.Stage(schema.BootstrapRow{Table: "ccoldef_constraints", ConstraintID: constraintID, Column: schema.Column{Ordinal: int(colOrdinal), PKOrdinal: int(position)}})
	}
}

func decodeUint32(images []redo.ColumnImage, ordinal int) (uint32, bool) {
	for _, img := range images {
		if img.Ordinal == ordinal {
			if img.Data == nil {
				return 0, false
			}
			d, err := schema.DecodeNumber(img.Data)
			if err != nil {
				return 0, false
			}
			v, _ := strconv.ParseInt(d.String(), 10, 64)
			return uint32(v), true
		}
	}
	return 0, false
}

func decodeString(images []redo.ColumnImage, ordinal int) (string, bool) {
	for _, img := range images {
		if img.Ordinal == ordinal {
			if img.Data == nil {
				return "", false
			}
			return string(img.Data), true
		}
	}
	return "", false
}
