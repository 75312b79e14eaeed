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
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ulikunitz/xz"
)

const fileMagic uint32 = 0x524c4f47 // "RLOG"

// LogHeader is block 1 of a redo log (§6 field order).
type LogHeader struct {
	BlockSize    uint16
	BlockCount   uint32
	Magic        uint32
	Sequence     uint32
	FirstSCN     uint64
	NextSCN      uint64
	ResetlogsID  uint32
	ActivationID uint32
	Order        ByteOrder
	Version      uint16
}

// BlockHeader is the 14-byte header prefixing every data block (§6).
type BlockHeader struct {
	Kind        uint8
	Klass       uint8
	BlockNumber uint32
	Sequence    uint32
	Offset      uint16
	Checksum    uint16
}

const blockHeaderSize = 14
const recordHeaderMinSize = 24

// maxBlockReadRetries bounds the "block may be being written" retry loop
// for ShortBlock/BadChecksum/WrongBlockNumber (§4.2).
const maxBlockReadRetries = 5
const blockRetryBackoff = 20 * time.Millisecond

// LogFile streams validated logical records from a redo log in file order.
type LogFile struct {
	path     string
	raw      *os.File
	r        *bufio.Reader
	Header   LogHeader
	archived bool // archived logs: EOF ends the log, with no retry or wait
	watcher  *fsnotify.Watcher

	nextBlockNumber uint32
	pending         []byte // bytes of a logical record being reassembled across blocks
	pendingLen      int    // declared total length of the record being reassembled
}

// OpenLogFile opens a redo log at path. Archived logs are read once to end
// of file; online logs treat end of file as "not yet written" and wait
// (§4.2 "Tail detection"). No block is checked against a highest-written
// block mark from the header, so reading past it is not detected for
// either kind.
// Paths ending in ".xz" are transparently decompressed (SPEC_FULL domain
// stack: archived logs may be retained compressed).
func OpenLogFile(path string, archived bool) (*LogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, err
		}
		r = xr
		archived = true // a compressed log cannot be an actively-growing online log
	}
	lf := &LogFile{
		path:     path,
		raw:      f,
		r:        bufio.NewReaderSize(r, 1<<20),
		archived: archived,
	}
	if err := lf.readFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := lf.readLogHeader(); err != nil {
		f.Close()
		return nil, err
	}
	lf.nextBlockNumber = 2
	if !archived {
		if w, err := fsnotify.NewWatcher(); err == nil {
			if werr := w.Add(filepath.Dir(path)); werr == nil {
				lf.watcher = w
			} else {
				w.Close()
			}
		}
	}
	return lf, nil
}

func (lf *LogFile) Close() error {
	if lf.watcher != nil {
		lf.watcher.Close()
	}
	return lf.raw.Close()
}

func (lf *LogFile) Sequence() uint32 { return lf.Header.Sequence }

// Archived reports whether this log is treated as a closed, immutable
// archive (true) or an actively-growing online log (false) — the
// distinction §4.2's "Tail detection" and §7's LogOverwritten handling
// branch on.
func (lf *LogFile) Archived() bool { return lf.archived }

func (lf *LogFile) readFileHeader() error {
	buf := make([]byte, blockHeaderSize)
	if _, err := io.ReadFull(lf.r, buf); err != nil {
		return &CorruptLogError{Reason: "short file header: " + err.Error()}
	}
	// block 0: magic(4) blockSize(2) blockCount(4), rest reserved
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != fileMagic {
		return &CorruptLogError{Reason: "bad file magic"}
	}
	blockSize := binary.LittleEndian.Uint16(buf[4:6])
	blockCount := binary.LittleEndian.Uint32(buf[6:10])
	if blockSize != 512 && blockSize != 1024 && blockSize != 2048 && blockSize != 4096 {
		return &CorruptLogError{Reason: "unsupported block size"}
	}
	lf.Header.BlockSize = blockSize
	lf.Header.BlockCount = blockCount
	// drain the rest of block 0
	rest := int(blockSize) - blockHeaderSize
	if rest > 0 {
		if _, err := io.CopyN(io.Discard, lf.r, int64(rest)); err != nil {
			return &CorruptLogError{Reason: "short block 0"}
		}
	}
	return nil
}

func (lf *LogFile) readLogHeader() error {
	buf := make([]byte, lf.Header.BlockSize)
	if _, err := io.ReadFull(lf.r, buf); err != nil {
		return &CorruptLogError{Reason: "short log header block: " + err.Error()}
	}
	// byte order is determined by a flag byte at offset 34 (§6); the low
	// bit set means big-endian (§4.1).
	order := ByteOrderFromFlag(buf[34])
	rd := NewReader(buf, order)
	var h LogHeader
	var err error
	bs, _ := rd.Uint16(0)
	h.BlockSize = bs
	bc, _ := rd.Uint32(2)
	h.BlockCount = bc
	h.Magic, _ = rd.Uint32(6)
	h.Sequence, _ = rd.Uint32(10)
	h.FirstSCN, err = rd.ReadSCN48(14)
	if err != nil {
		return err
	}
	h.NextSCN, err = rd.ReadSCN48(20)
	if err != nil {
		return err
	}
	h.ResetlogsID, _ = rd.Uint32(26)
	h.ActivationID, _ = rd.Uint32(30)
	h.Order = order
	h.Version, _ = rd.Uint16(35)
	lf.Header = h
	return nil
}

// readBlock reads and validates one data block (block number >= 2), retrying
// on ShortBlock/BadChecksum/WrongBlockNumber up to maxBlockReadRetries times
// (§4.2: "the log may be being written"). Each retry re-reads the same block
// from its file offset. A partially written block at the end of an online
// log is reported as io.EOF and rewound, so the next call reads it again
// from its start.
func (lf *LogFile) readBlock(checksumEnabled bool) ([]byte, BlockHeader, error) {
	buf := make([]byte, lf.Header.BlockSize)
	blockOffset := int64(lf.nextBlockNumber) * int64(lf.Header.BlockSize)
	var lastErr error
	for attempt := 0; attempt < maxBlockReadRetries; attempt++ {
		if attempt > 0 {
			if _, err := lf.raw.Seek(blockOffset, io.SeekStart); err != nil {
				return nil, BlockHeader{}, err
			}
			lf.r.Reset(lf.raw)
		}
		n, err := io.ReadFull(lf.r, buf)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if n > 0 && !lf.archived {
					lf.raw.Seek(blockOffset, io.SeekStart)
					lf.r.Reset(lf.raw)
				}
				return nil, BlockHeader{}, io.EOF
			}
			lastErr = &ShortBlockError{Want: len(buf), Have: n}
			if lf.retryWait(attempt) {
				continue
			}
			return nil, BlockHeader{}, lastErr
		}
		rd := NewReader(buf, lf.Header.Order)
		var bh BlockHeader
		k, _ := rd.Uint8(0)
		bh.Kind = k
		kl, _ := rd.Uint8(1)
		bh.Klass = kl
		bh.BlockNumber, _ = rd.Uint32(2)
		bh.Sequence, _ = rd.Uint32(6)
		bh.Offset, _ = rd.Uint16(10)
		bh.Checksum, _ = rd.Uint16(12)

		if bh.Sequence != lf.Header.Sequence {
			return nil, BlockHeader{}, &WrongSequenceError{Want: lf.Header.Sequence, Have: bh.Sequence}
		}
		if bh.BlockNumber != lf.nextBlockNumber {
			lastErr = &WrongBlockNumberError{Want: lf.nextBlockNumber, Have: bh.BlockNumber}
			if lf.retryWait(attempt) {
				continue
			}
			return nil, BlockHeader{}, lastErr
		}
		if checksumEnabled {
			if !verifyChecksum(buf, bh.Checksum) {
				lastErr = &BadChecksumError{BlockNumber: bh.BlockNumber}
				if lf.retryWait(attempt) {
					continue
				}
				return nil, BlockHeader{}, lastErr
			}
		}
		lf.nextBlockNumber++
		return buf[blockHeaderSize:], bh, nil
	}
	return nil, BlockHeader{}, lastErr
}

// retryWait waits for more bytes to become available (online log being
// written) before a retry, bounded by maxBlockReadRetries. Archived logs
// never retry past EOF; for them an unrecoverable block is fatal.
func (lf *LogFile) retryWait(attempt int) bool {
	if lf.archived {
		return false
	}
	if lf.watcher != nil {
		select {
		case <-lf.watcher.Events:
			return true
		case <-time.After(blockRetryBackoff << uint(attempt)):
			return true
		}
	}
	time.Sleep(blockRetryBackoff << uint(attempt))
	return true
}

func verifyChecksum(block []byte, want uint16) bool {
	var sum uint16
	for i := 0; i+1 < len(block); i += 2 {
		if i == 12 {
			continue // checksum field itself is excluded
		}
		sum ^= uint16(block[i]) | uint16(block[i+1])<<8
	}
	return sum == want
}

// NextRecord returns the next fully-reassembled logical record, spanning as
// many data blocks as needed (§4.2 "Record reassembly"). Returns io.EOF when
// the current log has no more data: callers decide (per §4.12) whether that
// means "switch to archive" (online, overwritten) or "advance sequence"
// (anything else).
func (lf *LogFile) NextRecord(checksumEnabled bool) ([]byte, error) {
	for {
		block, _, err := lf.readBlock(checksumEnabled)
		if err != nil {
			return nil, err
		}
		off := 0
		for off < len(block) {
			if lf.pendingLen == 0 {
				if off+4 > len(block) {
					break // declared length straddles the block boundary; continue next block
				}
				var length uint32
				if lf.Header.Order.big {
					length = binary.BigEndian.Uint32(block[off : off+4])
				} else {
					length = binary.LittleEndian.Uint32(block[off : off+4])
				}
				if length == 0 {
					off = len(block) // zero-fill tail of block: nothing more here
					break
				}
				if int(length) < recordHeaderMinSize {
					return nil, &CorruptLogError{Reason: "record length shorter than header"}
				}
				lf.pendingLen = int(length)
				lf.pending = lf.pending[:0]
			}
			need := lf.pendingLen - len(lf.pending)
			avail := len(block) - off
			take := need
			if take > avail {
				take = avail
			}
			lf.pending = append(lf.pending, block[off:off+take]...)
			off += take
			if len(lf.pending) == lf.pendingLen {
				out := make([]byte, len(lf.pending))
				copy(out, lf.pending)
				lf.pendingLen = 0
				lf.pending = lf.pending[:0]
				return out, nil
			}
		}
	}
}
