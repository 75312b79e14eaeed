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
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

// UnmappedCharsetPolicy controls what happens when a VARCHAR2/CHAR column's
// declared character set cannot be mapped to a known encoding (§4.3).
type UnmappedCharsetPolicy int

const (
	PolicyFailOnUnmappedCharset UnmappedCharsetPolicy = iota
	PolicyReplaceOnUnmappedCharset
)

// charsetByID mirrors the charset-id table of the source catalog closely
// enough to exercise real x/text transcoders for the common families,
// instead of assuming every byte stream is already UTF-8 (§4.3 type rule
// 1, SPEC_FULL domain stack).
var charsetByID = map[int]charsetCodec{
	1:   {name: "US7ASCII", enc: nil}, // ASCII is a UTF-8 subset, no transcode needed
	31:  {name: "WE8ISO8859P1", enc: charmap.ISO8859_1},
	46:  {name: "WE8ISO8859P15", enc: charmap.ISO8859_15},
	830: {name: "JA16SJIS", enc: japanese.ShiftJIS},
	873: {name: "UTF8", enc: nil},
}

type charsetCodec struct {
	name string
	enc  encoding.Encoding
}

func decodeWith(enc encoding.Encoding, raw []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeVarchar implements §4.3 type rule 1: bytes interpreted in the
// column's character set, emitted as UTF-8.
func DecodeVarchar(raw []byte, charsetID int, policy UnmappedCharsetPolicy) (string, error) {
	codec, ok := charsetByID[charsetID]
	if !ok {
		if policy == PolicyFailOnUnmappedCharset {
			return "", fmt.Errorf("unmapped character set id %d", charsetID)
		}
		return string(raw), nil // best-effort passthrough
	}
	if codec.enc == nil {
		return string(raw), nil
	}
	out, err := decodeWith(codec.enc, raw)
	if err != nil {
		if policy == PolicyFailOnUnmappedCharset {
			return "", fmt.Errorf("charset %s decode failed: %w", codec.name, err)
		}
		return string(raw), nil
	}
	return out, nil
}

// DecodeNumber implements §4.3 type rule 2: variable-length base-100 with a
// leading sign/exponent byte (positive if the high bit is set), decoded to
// a decimal.Decimal so callers needing arithmetic don't have to re-parse a
// string.
func DecodeNumber(raw []byte) (decimal.Decimal, error) {
	if len(raw) == 0 {
		return decimal.Zero, fmt.Errorf("empty NUMBER field")
	}
	lead := raw[0]
	positive := lead&0x80 != 0
	var exp int
	if positive {
		exp = int(lead&0x7f) - 65
	} else {
		exp = int(^lead&0x7f) - 65
	}
	digits := raw[1:]
	if !positive && len(digits) > 0 && digits[len(digits)-1] == 0x66 {
		digits = digits[:len(digits)-1] // trailing 0x66 terminator on negative numbers
	}
	var mantissa decimal.Decimal
	scale := int32(0)
	for _, d := range digits {
		var digit int
		if positive {
			digit = int(d) - 1
		} else {
			digit = 101 - int(d)
		}
		if digit < 0 || digit > 99 {
			return decimal.Zero, fmt.Errorf("invalid NUMBER digit byte 0x%02x", d)
		}
		mantissa = mantissa.Mul(decimal.NewFromInt(100)).Add(decimal.NewFromInt(int64(digit)))
		scale += 2
	}
	// value = mantissa * 100^(exp - len(digits) + 1), base-100 exponent is
	// relative to the first digit group
	power := int32(exp+1)*2 - scale
	result := mantissa.Shift(power)
	if !positive {
		result = result.Neg()
	}
	return result, nil
}

// EncodeNumber is the inverse of DecodeNumber, used by §8's round-trip law
// ("encoding a number value N in type 2 and decoding it yields N for any N
// representable within the declared precision/scale") and by tests.
func EncodeNumber(v decimal.Decimal) ([]byte, error) {
	if v.IsZero() {
		return []byte{0x80}, nil
	}
	positive := v.Sign() > 0
	abs := v.Abs()

	unscaled := abs.Coefficient()
	exp := -abs.Exponent() // decimal.Decimal stores value = coefficient * 10^exponent

	// pad so the base-10 exponent is even, then group into base-100 digits
	digitsStr := unscaled.String()
	if exp%2 != 0 {
		digitsStr += "0"
		exp++
	}
	if len(digitsStr)%2 != 0 {
		digitsStr = "0" + digitsStr
	}
	var digits []int
	for i := 0; i < len(digitsStr); i += 2 {
		var d int
		fmt.Sscanf(digitsStr[i:i+2], "%d", &d)
		digits = append(digits, d)
	}
	// bexp anchors the position of the first (most significant) digit group,
	// so it must be computed from the full digit count before any trailing
	// zero groups are stripped below — stripping removes only the
	// least-significant groups and leaves that anchor untouched.
	bexp := len(digits) - 1 - (exp / 2)
	// strip trailing zero digit-groups (they only add precision we don't need)
	for len(digits) > 1 && digits[len(digits)-1] == 0 {
		digits = digits[:len(digits)-1]
	}

	out := make([]byte, 0, len(digits)+1)
	if positive {
		out = append(out, byte(bexp+65)|0x80)
		for _, d := range digits {
			out = append(out, byte(d+1))
		}
	} else {
		out = append(out, byte(^(bexp + 65))&0x7f)
		for _, d := range digits {
			out = append(out, byte(101-d))
		}
		out = append(out, 0x66)
	}
	return out, nil
}

// DecodeDate implements §4.3 type rule 3: 7 fixed bytes
// (yy_hi, yy_lo, mm, dd, hh+1, mi+1, ss+1), yy biased by 100 for AD,
// complemented for BC, emitted ISO-8601.
func DecodeDate(raw []byte) (time.Time, error) {
	if len(raw) < 7 {
		return time.Time{}, fmt.Errorf("DATE field shorter than 7 bytes")
	}
	century := int(raw[0])
	yearLow := int(raw[1])
	var year int
	if century >= 100 {
		year = (century-100)*100 + (yearLow - 100)
	} else {
		// BC: bytes are one's-complemented
		year = -((100 - century) * 100) - (100 - yearLow)
	}
	month := int(raw[2])
	day := int(raw[3])
	hour := int(raw[4]) - 1
	minute := int(raw[5]) - 1
	second := int(raw[6]) - 1
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}

// DecodeRaw implements §4.3 type rule 4: verbatim bytes, hex-encoded.
func DecodeRaw(raw []byte) string {
	return hex.EncodeToString(raw)
}

// DecodeBinaryFloat/DecodeBinaryDouble implement §4.3 type rule 5: IEEE 754
// with the high bit flipped when positive.
func DecodeBinaryFloat(raw []byte) (float32, error) {
	if len(raw) != 4 {
		return 0, fmt.Errorf("BINARY_FLOAT field must be 4 bytes, got %d", len(raw))
	}
	bits := be32(raw)
	if bits&0x80000000 != 0 {
		bits &^= 0x80000000
	} else {
		bits = ^bits
	}
	return math.Float32frombits(bits), nil
}

func DecodeBinaryDouble(raw []byte) (float64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("BINARY_DOUBLE field must be 8 bytes, got %d", len(raw))
	}
	bits := be64(raw)
	if bits&0x8000000000000000 != 0 {
		bits &^= 0x8000000000000000
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func be64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
