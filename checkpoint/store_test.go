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
package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/launix-de/redocap/schema"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "checkpoint.json"))

	if _, ok, err := store.Read(); err != nil || ok {
		t.Fatalf("expected no checkpoint yet, got ok=%v err=%v", ok, err)
	}

	cp := &Checkpoint{
		Database:       "HR",
		ResetlogsID:    7,
		ActivationID:   1,
		Sequence:       42,
		CheckpointSCN:  0x1000,
		MinXidFirstSCN: 0xff0,
	}
	if err := store.Write(cp); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok, err := store.Read()
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got.Sequence != 42 || got.CheckpointSCN != 0x1000 {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}

	// A second write must leave the prior version readable as .old even if
	// the caller's process crashes between the two renames.
	cp.Sequence = 43
	if err := store.Write(cp); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got2, ok, err := store.Read()
	if err != nil || !ok || got2.Sequence != 43 {
		t.Fatalf("unexpected second read: ok=%v err=%v cp=%+v", ok, err, got2)
	}
}

func TestVerifyResetlogs(t *testing.T) {
	cp := &Checkpoint{ResetlogsID: 7}
	if err := VerifyResetlogs(cp, 7); err != nil {
		t.Fatalf("matching resetlogs id should pass: %v", err)
	}
	if err := VerifyResetlogs(cp, 8); err == nil {
		t.Fatalf("mismatched resetlogs id must be fatal")
	}

	// A checkpoint from before this field existed (zero value) never blocks
	// a restart; there is nothing to compare against.
	zero := &Checkpoint{}
	if err := VerifyResetlogs(zero, 9); err != nil {
		t.Fatalf("zero resetlogs id must not block restart: %v", err)
	}
}

func TestEncodeDecodeDictionary(t *testing.T) {
	d := schema.NewDictionary(false)
	d.Load([]schema.BootstrapRow{
		{Table: "objects", ObjID: 1, Owner: "HR", Name: "EMP"},
		{Table: "columns", ObjID: 1, Column: schema.Column{Name: "ID", Ordinal: 0, Type: schema.TypeNumber}},
	})

	compressed, err := EncodeDictionary(d.Current())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	restored, err := DecodeDictionary(compressed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tbl, ok := restored.Current().FindTable(1)
	if !ok || tbl.Name != "EMP" || tbl.Owner != "HR" || len(tbl.Columns) != 1 {
		t.Fatalf("unexpected restored table: %+v ok=%v", tbl, ok)
	}
}
