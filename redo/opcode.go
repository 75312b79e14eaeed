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

// Parser decodes one logical record's bytes into a slice of RedoLogRecord,
// one per change vector (§4.4). It is stateless except for the strict flag.
type Parser struct {
	Strict bool // UnknownOpcode is fatal instead of logged-and-discarded
}

func NewParser(strict bool) *Parser { return &Parser{Strict: strict} }

// recordHeader is the decoded 24-byte record header common to every
// logical record (§6).
type recordHeader struct {
	length int
	scn    uint64
	subscn uint16
	seq    uint8
	typ    uint8
}

func (p *Parser) parseRecordHeader(rd *Reader) (recordHeader, int, error) {
	var h recordHeader
	length, err := rd.Uint32(0)
	if err != nil {
		return h, 0, err
	}
	h.length = int(length)
	vld, err := rd.Uint8(4)
	if err != nil {
		return h, 0, err
	}
	var scnWidth int
	if vld&0x80 != 0 {
		h.scn, err = rd.ReadSCN64(5)
		scnWidth = 8
	} else {
		h.scn, err = rd.ReadSCN48(5)
		scnWidth = 6
	}
	if err != nil {
		return h, 0, err
	}
	cursor := 5 + scnWidth
	h.subscn, err = rd.Uint16(cursor)
	if err != nil {
		return h, 0, err
	}
	h.seq, err = rd.Uint8(cursor + 2)
	if err != nil {
		return h, 0, err
	}
	h.typ, err = rd.Uint8(cursor + 3)
	if err != nil {
		return h, 0, err
	}
	return h, recordHeaderMinSize, nil
}

// Decode parses one reassembled logical record (as returned by
// LogFile.NextRecord) into its change vectors.
func (p *Parser) Decode(raw []byte, order ByteOrder) ([]*RedoLogRecord, error) {
	rd := NewReader(raw, order)
	hdr, _, err := p.parseRecordHeader(rd)
	if err != nil {
		return nil, err
	}
	if hdr.length > len(raw) {
		return nil, &CorruptLogError{Reason: "record header declares more bytes than present", Want: hdr.length, Have: len(raw)}
	}

	var out []*RedoLogRecord
	off := recordHeaderMinSize
	for off+16 <= hdr.length {
		vecLen, rec, consumed, err := p.decodeVector(raw[off:hdr.length], order, hdr.scn)
		if err != nil {
			if _, ok := err.(*UnknownOpcodeError); ok && !p.Strict {
				off += consumed
				if consumed == 0 {
					break
				}
				continue
			}
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
		off += vecLen
		if vecLen == 0 {
			break
		}
	}
	return pairVectors(out), nil
}

// ktbContext carries the transaction-control fields of the most recent KTB
// vector in this logical record forward onto the KDO/commit/DDL vectors
// that follow it: a record's vectors share one XID even though only the
// KTB vector encodes it (§4.4 "For KTB fields").
type ktbContext struct {
	xid          XID
	uba          UBA
	itli         uint8
	beginTx      bool
	commitTx     bool
	rollbackFlag bool
	set          bool
}

// pairVectors implements §4.4's "A record may carry both an undo (5.1) and
// a redo (11.x) change vector pointing at the same row; these ... are
// paired immediately inside the record, not across records": a KTB vector
// that itself carries a before-image (no matching KDO vector of its own)
// is held back and merged into the next data vector in the same record,
// picking up that vector's XID/UBA/ITLI context along the way. Vectors that
// never pair (a lone KTB control vector, a rollback vector, a commit
// vector, DDL) pass through unchanged except for the inherited XID.
func pairVectors(vectors []*RedoLogRecord) []*RedoLogRecord {
	out := make([]*RedoLogRecord, 0, len(vectors))
	var ctx ktbContext
	var pendingUndo *RedoLogRecord
	flushPending := func() {
		if pendingUndo != nil {
			out = append(out, pendingUndo)
			pendingUndo = nil
		}
	}
	for _, v := range vectors {
		switch v.Kind {
		case OpKtbTransaction:
			flushPending()
			ctx = ktbContext{xid: v.Xid, uba: v.Uba, itli: v.Itli, beginTx: v.BeginTx, commitTx: v.CommitTx, rollbackFlag: v.RollbackFlag, set: true}
			switch {
			case len(v.UndoImages) > 0:
				pendingUndo = v
			case v.IsCleanoutOnly():
				out = append(out, v) // dropped by the assembler (SPEC_FULL supplemented feature #3), not merged
			case v.BeginTx || v.CommitTx || v.RollbackFlag:
				out = append(out, v) // begin/commit/full-rollback markers travel as their own record
			}
		case OpKtbRollback:
			flushPending()
			if ctx.set {
				v.Xid = ctx.xid
			}
			v.RollbackKey.Uba = v.Uba
			out = append(out, v)
		case OpInsertRow, OpDeleteRow, OpUpdateRow, OpOverwriteRow, OpMultiInsert, OpMultiDelete:
			if ctx.set {
				v.Xid = ctx.xid
				v.Uba = ctx.uba
				v.Itli = ctx.itli
			}
			if pendingUndo != nil {
				v.UndoImages = append(v.UndoImages, pendingUndo.UndoImages...)
				v.IsPaired = true
				pendingUndo = nil
			}
			out = append(out, v)
		case OpCommit:
			flushPending()
			if ctx.set {
				v.Xid = ctx.xid
			}
			out = append(out, v)
		default:
			flushPending()
			out = append(out, v)
		}
	}
	flushPending()
	return out
}

// decodeVector decodes one change vector at the head of buf. Layout (self
// consistent with §6's "(cls, afn, dba, scn_or_sequence, ...)" description):
//
//	0  cls      u8   major opcode
//	1  minor    u8   minor opcode
//	2  afn      u16  absolute file number
//	4  dba      u32
//	8  vscn     scn48 (6 bytes) vector-local scn/sequence
//	14 pad      2 bytes (alignment)
//	16 nfields  u16
//	18 ...      nfields * u16 field lengths, 4-byte aligned field data follows
func (p *Parser) decodeVector(buf []byte, order ByteOrder, recordScn uint64) (int, *RedoLogRecord, int, error) {
	rd := NewReader(buf, order)
	cls, err := rd.Uint8(0)
	if err != nil {
		return 0, nil, 0, err
	}
	minor, err := rd.Uint8(1)
	if err != nil {
		return 0, nil, 0, err
	}
	afn, err := rd.Uint16(2)
	if err != nil {
		return 0, nil, 0, err
	}
	dba, err := rd.Uint32(4)
	if err != nil {
		return 0, nil, 0, err
	}
	vscn, err := rd.ReadSCN48(8)
	if err != nil {
		return 0, nil, 0, err
	}
	nfields, err := rd.Uint16(16)
	if err != nil {
		return 0, nil, 0, err
	}

	lenTableOff := 18
	fieldOff := lenTableOff + int(nfields)*2
	fieldOff = (fieldOff + 3) &^ 3
	fields := make([][]byte, nfields)
	cursor := fieldOff
	for i := 0; i < int(nfields); i++ {
		flen, err := rd.Uint16(lenTableOff + i*2)
		if err != nil {
			return 0, nil, 0, err
		}
		data, err := rd.Bytes(cursor, int(flen))
		if err != nil {
			return 0, nil, 0, &CorruptLogError{Reason: "field too short", Offset: cursor, Want: int(flen)}
		}
		fields[i] = data
		cursor += AlignedFieldLen(flen)
	}

	rec := &RedoLogRecord{
		Scn:   recordScn,
		Dba:   DBA{File: afn, Block: dba},
	}
	if vscn != ScnNone {
		rec.Scn = vscn
	}

	kind, consumeErr := classify(cls, minor)
	rec.Kind = kind

	switch kind {
	case OpKtbTransaction, OpKtbRollback:
		decodeKTB(rec, fields)
	case OpInsertRow, OpDeleteRow, OpUpdateRow, OpOverwriteRow:
		decodeKDO(rec, fields, kind)
	case OpMultiInsert, OpMultiDelete:
		decodeKDOMultiRow(rec, fields, kind)
	case OpDDL:
		decodeDDL(rec, fields)
	case OpCommit:
		rec.CommitTx = true
	default:
		if consumeErr != nil {
			return cursor, nil, cursor, consumeErr
		}
	}

	return cursor, rec, cursor, nil
}

func classify(major, minor uint8) (OpcodeKind, error) {
	switch {
	case major == 5 && minor == 1:
		return OpKtbTransaction, nil
	case major == 5 && (minor == 4 || minor == 5):
		return OpKtbRollback, nil
	case major == 9 && minor == 2:
		return OpCommit, nil
	case major == 11 && minor == 2:
		return OpInsertRow, nil
	case major == 11 && minor == 3:
		return OpDeleteRow, nil
	case major == 11 && minor == 5:
		return OpUpdateRow, nil
	case major == 11 && minor == 6:
		return OpOverwriteRow, nil
	case major == 11 && minor == 11:
		return OpMultiInsert, nil
	case major == 11 && minor == 12:
		return OpMultiDelete, nil
	case major == 24 && minor == 1:
		return OpDDL, nil
	default:
		return OpUnknown, &UnknownOpcodeError{Major: major, Minor: minor}
	}
}

// decodeKTB extracts transaction-control fields (§4.4 "For KTB fields").
// Field layout (this parser's own, self-consistent convention):
//
//	0: xid (usn:u16 slt:u16 sqn:u32, 8 bytes)
//	1: uba (dba:u32 seq:u16 rec:u8, 7 bytes)
//	2: itli + flag byte (2 bytes): itli, then begin/commit/rollback flags
//	3: rollback key (slot:u16 rci:u8) — present only on 5.4/5.5
//	4-7: an optional before-image, present only when this 5.1 vector is the
//	     undo half of a paired update/delete (§3 invariant 4, §4.4): column
//	     count (u16), null bitmap, per-column length table, column payload —
//	     same shape as decodeKDO's fields 1/2/3/4, because §3 invariant 4
//	     treats 5.1 as the opcode that carries the before-image, not merely
//	     a control record.
func decodeKTB(rec *RedoLogRecord, fields [][]byte) {
	if len(fields) > 0 && len(fields[0]) >= 8 {
		b := fields[0]
		rec.Xid = XID{
			Usn: le16(b[0:2]),
			Slt: le16(b[2:4]),
			Sqn: le32(b[4:8]),
		}
	}
	if len(fields) > 1 && len(fields[1]) >= 7 {
		b := fields[1]
		rec.Uba = UBA{
			DBA: DBA{Block: le32(b[0:4])},
			Seq: le16(b[4:6]),
			Rec: b[6],
		}
	}
	if len(fields) > 2 && len(fields[2]) >= 2 {
		b := fields[2]
		rec.Itli = b[0]
		flags := b[1]
		rec.BeginTx = flags&0x1 != 0
		rec.CommitTx = rec.CommitTx || flags&0x2 != 0
		rec.RollbackFlag = flags&0x4 != 0
	}
	if rec.Kind == OpKtbRollback && len(fields) > 3 && len(fields[3]) >= 3 {
		b := fields[3]
		rec.RollbackKey = RollbackKey{
			Uba:  rec.Uba,
			Slot: le16(b[0:2]),
			Rci:  b[2],
		}
	}
	if len(fields) > 2 && len(fields[2]) >= 2 && fields[2][1]&0x8 != 0 {
		rec.Flags |= RowFlagCleanoutOnly // §9 open question #1: best-effort cleanout flag only
	}
	if len(fields) > 4 && len(fields[4]) >= 2 {
		ncols := int(le16(fields[4][0:2]))
		var nullBitmap []bool
		if len(fields) > 5 {
			nullBitmap = decodeNullBitmap(fields[5], ncols)
		}
		var lens []uint16
		if len(fields) > 6 {
			b := fields[6]
			for i := 0; i+1 < len(b); i += 2 {
				lens = append(lens, le16(b[i:i+2]))
			}
		}
		var payload []byte
		if len(fields) > 7 {
			payload = fields[7]
		}
		rec.UndoImages = columnsFromLengths(lens, payload, nullBitmap)
	}
}

// decodeKDO extracts the data-change fields (§4.4 "For KDO fields"). Field
// layout:
//
//	0: obj id (u32) + dataobj id (u32), 8 bytes
//	1: slot (u16) + flag byte + column count (u16), 5 bytes
//	2: null bitmap, 1 bit per column, byte-padded
//	3: per-column length table, u16 each
//	4: column payload, concatenated, lengths from field 3
//	5: supplemental-log columns, same shape as (3,4) packed together:
//	   u16 count, then count*(u16 ordinal, u16 len), then payload
func decodeKDO(rec *RedoLogRecord, fields [][]byte, kind OpcodeKind) {
	if len(fields) > 0 && len(fields[0]) >= 8 {
		b := fields[0]
		rec.ObjID = le32(b[0:4])
		rec.DataObjID = le32(b[4:8])
	}
	if len(fields) > 1 && len(fields[1]) >= 5 {
		b := fields[1]
		rec.Slot = le16(b[0:2])
		rec.Flags |= RowFlag(b[2])
		rec.ColumnCount = int(le16(b[3:5]))
	}
	var nullBitmap []bool
	if len(fields) > 2 {
		nullBitmap = decodeNullBitmap(fields[2], rec.ColumnCount)
	}
	rec.NullBitmap = nullBitmap

	var lens []uint16
	if len(fields) > 3 {
		b := fields[3]
		for i := 0; i+1 < len(b); i += 2 {
			lens = append(lens, le16(b[i:i+2]))
		}
	}
	var payload []byte
	if len(fields) > 4 {
		payload = fields[4]
	}
	images := columnsFromLengths(lens, payload, nullBitmap)

	// §4.4: "A record may carry both an undo (5.1) and a redo (11.x) change
	// vector pointing at the same row; these are paired immediately inside
	// the record, not across records." Here, the KDO vector itself supplies
	// the after-image (redo); the paired 5.1 vector (decoded separately,
	// same record) supplies the before-image, and pairVectors merges the
	// two onto this one RedoLogRecord.
	switch kind {
	case OpDeleteRow:
		rec.UndoImages = images
	default:
		rec.RedoImages = images
	}

	if len(fields) > 5 {
		supp := decodeSupplemental(fields[5])
		// §4.4: supplemental-log columns exist to reconstruct the full
		// before-image for PK/ALL supplemental logging, so they belong on
		// whichever side of this vector already carries the before-image —
		// UndoImages for delete/update, RedoImages (there is no "before" on
		// an insert) otherwise.
		switch kind {
		case OpDeleteRow, OpUpdateRow, OpOverwriteRow:
			rec.UndoImages = append(rec.UndoImages, supp...)
		default:
			rec.RedoImages = append(rec.RedoImages, supp...)
		}
	}
}

func decodeNullBitmap(b []byte, ncols int) []bool {
	out := make([]bool, ncols)
	for i := 0; i < ncols; i++ {
		byteIdx := i / 8
		if byteIdx >= len(b) {
			break
		}
		bit := uint(i % 8)
		out[i] = b[byteIdx]&(1<<bit) != 0
	}
	return out
}

func columnsFromLengths(lens []uint16, payload []byte, nullBitmap []bool) []ColumnImage {
	out := make([]ColumnImage, 0, len(lens))
	off := 0
	for i, l := range lens {
		n := int(l)
		var data []byte
		isNull := i < len(nullBitmap) && nullBitmap[i]
		if !isNull && off+n <= len(payload) {
			data = payload[off : off+n]
		}
		out = append(out, ColumnImage{Ordinal: i, Data: data})
		off += n
	}
	return out
}

// decodeSupplemental parses the tail supplemental-log column block: u16
// count, then count*(ordinal:u16, len:u16), then concatenated payload
// (§4.4 "For supplemental-log fields").
func decodeSupplemental(b []byte) []ColumnImage {
	if len(b) < 2 {
		return nil
	}
	count := int(le16(b[0:2]))
	headerEnd := 2 + count*4
	if headerEnd > len(b) {
		return nil
	}
	out := make([]ColumnImage, 0, count)
	off := headerEnd
	for i := 0; i < count; i++ {
		ordinal := int(le16(b[2+i*4 : 4+i*4]))
		l := int(le16(b[4+i*4 : 6+i*4]))
		var data []byte
		if off+l <= len(b) {
			data = b[off : off+l]
		}
		out = append(out, ColumnImage{Ordinal: ordinal, Data: data, Supplemental: true})
		off += l
	}
	return out
}

// decodeKDOMultiRow handles 11.11/11.12 (§4.4): nrow + a per-row slot array,
// recorded as one logical record; the assembler unrolls it.
func decodeKDOMultiRow(rec *RedoLogRecord, fields [][]byte, kind OpcodeKind) {
	decodeKDO(rec, fields, OpInsertRow)
	if len(fields) > 6 {
		b := fields[6]
		for i := 0; i+1 < len(b); i += 2 {
			rec.MultiRowSlots = append(rec.MultiRowSlots, le16(b[i:i+2]))
		}
	}
	rec.Kind = kind
}

// decodeDDL extracts opcode 24.1 fields (§4.4 "For DDL"). Field layout:
//
//	0: obj id (u32) + ddl kind (u8) + pad, 8 bytes
//	1: owner string (UTF-8)
//	2: table string (UTF-8)
//	3: raw SQL text (UTF-8)
func decodeDDL(rec *RedoLogRecord, fields [][]byte) {
	if len(fields) > 0 && len(fields[0]) >= 8 {
		b := fields[0]
		rec.ObjID = le32(b[0:4])
		rec.DDLKind = ddlKindFromCode(b[4])
	}
	if len(fields) > 1 {
		rec.Owner = string(fields[1])
	}
	if len(fields) > 2 {
		rec.Table = string(fields[2])
	}
	if len(fields) > 3 {
		rec.DDLText = string(fields[3])
	}
}

func ddlKindFromCode(code byte) DDLKind {
	switch code {
	case 1:
		return DDLCreate
	case 2:
		return DDLAlter
	case 3:
		return DDLDrop
	case 4:
		return DDLRename
	case 5:
		return DDLTruncate
	case 6:
		return DDLTruncatePartition
	default:
		return DDLUnknown
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
