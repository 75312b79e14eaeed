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

// CorruptLogError covers every "impossible field length / bad header" case
// from §4.1/§4.4 (FieldTooShort folds into this with a Reason).
type CorruptLogError struct {
	Reason string
	Offset int
	Want   int
	Have   int
}

func (e *CorruptLogError) Error() string {
	if e.Want != 0 || e.Have != 0 {
		return fmt.Sprintf("corrupt log: %s (offset %d, want %d, have %d)", e.Reason, e.Offset, e.Want, e.Have)
	}
	return fmt.Sprintf("corrupt log: %s (offset %d)", e.Reason, e.Offset)
}

// ShortBlockError is raised when fewer bytes than the declared block size
// were read; the log-file reader retries on this (§4.2).
type ShortBlockError struct {
	Want, Have int
}

func (e *ShortBlockError) Error() string {
	return fmt.Sprintf("short block: want %d bytes, have %d", e.Want, e.Have)
}

// BadChecksumError is raised when a block's XOR checksum does not match.
type BadChecksumError struct {
	BlockNumber uint32
}

func (e *BadChecksumError) Error() string {
	return fmt.Sprintf("bad checksum on block %d", e.BlockNumber)
}

// WrongBlockNumberError is raised when a block's self-declared number
// doesn't match the expected sequential number.
type WrongBlockNumberError struct {
	Want, Have uint32
}

func (e *WrongBlockNumberError) Error() string {
	return fmt.Sprintf("wrong block number: want %d, have %d", e.Want, e.Have)
}

// WrongSequenceError means the online log under this filename was
// overwritten by a newer sequence; the caller must switch to the archive.
type WrongSequenceError struct {
	Want, Have uint32
}

func (e *WrongSequenceError) Error() string {
	return fmt.Sprintf("wrong sequence: want %d, have %d (log overwritten)", e.Want, e.Have)
}

// UnknownOpcodeError is non-fatal unless strict mode is set.
type UnknownOpcodeError struct {
	Major, Minor uint8
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %d.%d", e.Major, e.Minor)
}

// InconsistentRecordError covers an undo/redo opcode mismatch within one
// logical record (§4.4).
type InconsistentRecordError struct {
	Reason string
}

func (e *InconsistentRecordError) Error() string {
	return "inconsistent record: " + e.Reason
}

// ResetlogsMismatchError is fatal: a checkpoint's resetlogs id does not match
// the log being opened (SPEC_FULL supplemented feature #4).
type ResetlogsMismatchError struct {
	Checkpoint, Log uint32
}

func (e *ResetlogsMismatchError) Error() string {
	return fmt.Sprintf("resetlogs mismatch: checkpoint has %d, log has %d", e.Checkpoint, e.Log)
}
