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

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDecodeVarcharASCIIPassthrough(t *testing.T) {
	got, err := DecodeVarchar([]byte("HELLO"), 1, PolicyFailOnUnmappedCharset)
	if err != nil {
		t.Fatalf("DecodeVarchar: %v", err)
	}
	if got != "HELLO" {
		t.Fatalf("DecodeVarchar(ASCII) = %q, want HELLO", got)
	}
}

func TestDecodeVarcharISO88591(t *testing.T) {
	// 0xE9 in ISO-8859-1 is é.
	got, err := DecodeVarchar([]byte{0xE9}, 31, PolicyFailOnUnmappedCharset)
	if err != nil {
		t.Fatalf("DecodeVarchar: %v", err)
	}
	if got != "é" {
		t.Fatalf("DecodeVarchar(ISO8859P1) = %q, want é", got)
	}
}

func TestDecodeVarcharUnmappedCharset(t *testing.T) {
	if _, err := DecodeVarchar([]byte("x"), 9999, PolicyFailOnUnmappedCharset); err == nil {
		t.Fatalf("unmapped charset id should fail under PolicyFailOnUnmappedCharset")
	}
	got, err := DecodeVarchar([]byte("x"), 9999, PolicyReplaceOnUnmappedCharset)
	if err != nil || got != "x" {
		t.Fatalf("DecodeVarchar(unmapped, replace) = %q, %v; want x, nil", got, err)
	}
}

func TestDecodeNumberZero(t *testing.T) {
	got, err := DecodeNumber([]byte{0x80})
	if err != nil {
		t.Fatalf("DecodeNumber(zero): %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("DecodeNumber([0x80]) = %s, want 0", got)
	}
}

func TestDecodeNumberRejectsEmpty(t *testing.T) {
	if _, err := DecodeNumber(nil); err == nil {
		t.Fatalf("DecodeNumber(nil) should error")
	}
}

func TestNumberEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{"0", "1", "-1", "42", "123.45", "-7.5", "1000000", "0.001"}
	for _, c := range cases {
		v, err := decimal.NewFromString(c)
		if err != nil {
			t.Fatalf("decimal.NewFromString(%q): %v", c, err)
		}
		raw, err := EncodeNumber(v)
		if err != nil {
			t.Fatalf("EncodeNumber(%s): %v", c, err)
		}
		got, err := DecodeNumber(raw)
		if err != nil {
			t.Fatalf("DecodeNumber(EncodeNumber(%s)): %v", c, err)
		}
		if !got.Equal(v) {
			t.Fatalf("round trip for %s produced %s", c, got)
		}
	}
}

func TestDecodeDate(t *testing.T) {
	// 2026-08-01 14:30:00: century 120, year-of-century 126, hour/min/sec
	// biased by +1 (§4.3 type rule 3).
	raw := []byte{120, 126, 8, 1, 15, 31, 1}
	got, err := DecodeDate(raw)
	if err != nil {
		t.Fatalf("DecodeDate: %v", err)
	}
	want := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("DecodeDate(%v) = %v, want %v", raw, got, want)
	}
}

func TestDecodeDateRejectsShortInput(t *testing.T) {
	if _, err := DecodeDate([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DecodeDate should reject fewer than 7 bytes")
	}
}

func TestDecodeRaw(t *testing.T) {
	got := DecodeRaw([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if got != "deadbeef" {
		t.Fatalf("DecodeRaw = %q, want deadbeef", got)
	}
}

func TestDecodeBinaryFloat(t *testing.T) {
	// IEEE754 float32 1.5 = 0x3FC00000; Oracle's BINARY_FLOAT sets the high
	// bit on positive values instead of leaving the sign bit as-is.
	got, err := DecodeBinaryFloat([]byte{0xBF, 0xC0, 0x00, 0x00})
	if err != nil {
		t.Fatalf("DecodeBinaryFloat: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("DecodeBinaryFloat = %v, want 1.5", got)
	}
}

func TestDecodeBinaryFloatNegative(t *testing.T) {
	// IEEE754 float32 -1.5 = 0xBFC00000, bitwise-complemented for negative
	// BINARY_FLOAT storage: 0x403FFFFF.
	got, err := DecodeBinaryFloat([]byte{0x40, 0x3F, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("DecodeBinaryFloat: %v", err)
	}
	if got != -1.5 {
		t.Fatalf("DecodeBinaryFloat = %v, want -1.5", got)
	}
}

func TestDecodeBinaryFloatRejectsWrongLength(t *testing.T) {
	if _, err := DecodeBinaryFloat([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DecodeBinaryFloat should reject a non-4-byte input")
	}
}

func TestDecodeBinaryDouble(t *testing.T) {
	// IEEE754 float64 1.5 = 0x3FF8000000000000, high bit set for storage.
	got, err := DecodeBinaryDouble([]byte{0xBF, 0xF8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("DecodeBinaryDouble: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("DecodeBinaryDouble = %v, want 1.5", got)
	}
}
