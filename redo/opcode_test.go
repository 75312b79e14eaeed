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

import (
	"encoding/binary"
	"testing"
)

// buildVector assembles one change vector: header + 4-byte-aligned field
// table, matching decodeVector's self-consistent layout.
func buildVector(cls, minor uint8, afn uint16, dba uint32, fields [][]byte) []byte {
	nfields := len(fields)
	lenTableOff := 18
	fieldOff := (lenTableOff + nfields*2 + 3) &^ 3
	buf := make([]byte, fieldOff)
	buf[0] = cls
	buf[1] = minor
	binary.LittleEndian.PutUint16(buf[2:4], afn)
	binary.LittleEndian.PutUint32(buf[4:8], dba)
	// vscn left all-zero: not all-0xFF so not ScnNone, so decodeVector uses
	// it (0) in place of the record-level scn; tests don't depend on the
	// decoded Scn.
	binary.LittleEndian.PutUint16(buf[16:18], uint16(nfields))
	for i, f := range fields {
		binary.LittleEndian.PutUint16(buf[lenTableOff+i*2:], uint16(len(f)))
	}
	for _, f := range fields {
		padded := make([]byte, AlignedFieldLen(uint16(len(f))))
		copy(padded, f)
		buf = append(buf, padded...)
	}
	return buf
}

// buildRecord wraps vectors in a 24-byte record header.
func buildRecord(scn uint64, vectors ...[]byte) []byte {
	body := make([]byte, recordHeaderMinSize)
	// vld byte (offset 4) stays 0: six-byte SCN48 form at offset 5,
	// base(4 LE) + wrap(2 LE), per ReadSCN48.
	binary.LittleEndian.PutUint32(body[5:9], uint32(scn))
	binary.LittleEndian.PutUint16(body[9:11], uint16(scn>>32))
	for _, v := range vectors {
		body = append(body, v...)
	}
	binary.LittleEndian.PutUint32(body[0:4], uint32(len(body)))
	return body
}

func u16b(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32b(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }

func ktbXidField(usn, slt uint16, sqn uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], usn)
	binary.LittleEndian.PutUint16(b[2:4], slt)
	binary.LittleEndian.PutUint32(b[4:8], sqn)
	return b
}

func TestDecodePairsUndoWithRedoUpdate(t *testing.T) {
	xidField := ktbXidField(1, 2, 7)
	ubaField := make([]byte, 7)
	flagsField := []byte{0, 0x02} // itli=0, commit flag set (bit 0x2) — irrelevant here
	undoCols := []byte{'A'} // single-byte value for the (only) undo column
	ktbVec := buildVector(5, 1, 0, 0, [][]byte{
		xidField, ubaField, flagsField, nil,
		u16b(1),       // field4: column count = 1
		[]byte{0x00},  // field5: null bitmap, no nulls
		u16b(1),       // field6: length table, one column of length 1
		undoCols,      // field7: payload
	})

	kdoCols := []byte{'B'}
	field0 := append(u32b(10001), u32b(10001)...)
	field1 := append(append(u16b(5), byte(0)), u16b(1)...) // slot=5, flag=0, colcount=1
	field2 := []byte{0x00}                                 // null bitmap
	field3 := u16b(1)                                      // length table: 1 byte column
	field4 := kdoCols
	kdoVec := buildVector(11, 5, 0, 100, [][]byte{field0, field1, field2, field3, field4})

	raw := buildRecord(0x11, ktbVec, kdoVec)
	p := NewParser(true)
	recs, err := p.Decode(raw, LittleEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 paired record, got %d", len(recs))
	}
	r := recs[0]
	if !r.IsPaired {
		t.Fatalf("expected record to be marked paired")
	}
	if r.Xid != (XID{Usn: 1, Slt: 2, Sqn: 7}) {
		t.Fatalf("xid not propagated from KTB vector: %+v", r.Xid)
	}
	if len(r.UndoImages) != 1 || len(r.UndoImages[0].Data) != 1 || r.UndoImages[0].Data[0] != 'A' {
		t.Fatalf("undo image not carried over: %+v", r.UndoImages)
	}
	if len(r.RedoImages) != 1 || len(r.RedoImages[0].Data) != 1 || r.RedoImages[0].Data[0] != 'B' {
		t.Fatalf("redo image missing: %+v", r.RedoImages)
	}
	if r.ObjID != 10001 {
		t.Fatalf("obj id not decoded: %d", r.ObjID)
	}
}

func TestDecodeUnknownOpcodeNonStrictSkips(t *testing.T) {
	weird := buildVector(99, 99, 0, 0, nil)
	raw := buildRecord(0x20, weird)
	p := NewParser(false)
	recs, err := p.Decode(raw, LittleEndian)
	if err != nil {
		t.Fatalf("non-strict decode should not fail on unknown opcode: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("unknown opcode should produce no record, got %d", len(recs))
	}
}

func TestDecodeUnknownOpcodeStrictFails(t *testing.T) {
	weird := buildVector(99, 99, 0, 0, nil)
	raw := buildRecord(0x20, weird)
	p := NewParser(true)
	if _, err := p.Decode(raw, LittleEndian); err == nil {
		t.Fatalf("strict mode should fail on unknown opcode")
	}
}
