// Package binrec implements the framed-scan/resynchronization engine for
// the two binary side-channels of a capsule (spec §4.4, §6). It reads
// cam_latents.bin (fixed-width records) and cam_residuals.bin (variable-
// width records) from bounded buffers, never mapping a stream whole into
// memory, matching the truncation/torn-write recovery shape of a
// write-ahead-log reader.
package binrec

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"lukechampine.com/blake3"

	"github.com/ocx/flashfreeze/internal/errs"
)

// Fixed on-disk layout constants (spec §6): magic[4] | len:u32 | frame_id:u64
// | ts_ns:u64 | crc:u32, little-endian, packed.
const (
	magicLen   = 4
	lenSize    = 4
	frameIDLen = 8
	tsSize     = 8
	crcSize    = 4
	headerSize = magicLen + lenSize + frameIDLen + tsSize + crcSize
)

var (
	latentMagic   = [4]byte{'L', '1', 0, 0}
	residualMagic = [4]byte{'R', '1', 0, 0}
)

// Status is the per-record outcome reported in the streams row-set
// (spec §3).
type Status string

const (
	StatusOK       Status = "ok"
	StatusResynced Status = "resynced"
	StatusMissing  Status = "missing"
)

// Record is one validated or synthesized row from a binary stream.
type Record struct {
	FrameID     uint64
	TimestampNs uint64
	Offset      int64
	Length      int64
	Status      Status
	ContentHash string // hex BLAKE3-256(payload); empty for Missing rows
}

// Config carries the tunable bounds from spec §4.4.
type Config struct {
	LatentPayloadLen uint32
	ResidualMaxLen   uint32
	ResyncWindow     int64
}

// cursor wraps a sequential reader with a running byte offset; neither
// scan ever seeks backwards, matching the bounded-buffer requirement of
// spec §5 (no stream is ever mapped whole into memory).
type cursor struct {
	r      io.Reader
	offset int64
}

func (c *cursor) readFull(buf []byte) error {
	n, err := io.ReadFull(c.r, buf)
	c.offset += int64(n)
	return err
}

func (c *cursor) readByte() (byte, error) {
	var b [1]byte
	n, err := c.r.Read(b[:])
	c.offset += int64(n)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	return b[0], nil
}

// ScanLatents frame-scans cam_latents.bin. Valid frame_ids must be
// strictly monotonic with a stride of 1; gaps bridged by a successful
// resync are synthesized as Missing rows for the frame_ids the gap
// provably skipped (spec §4.4).
func ScanLatents(r io.Reader, cfg Config) ([]Record, error) {
	return (&scanner{c: &cursor{r: r}, cfg: cfg, magic: latentMagic, fixedWidth: true}).run()
}

// ScanResiduals frame-scans cam_residuals.bin. Residuals may be sparse
// (no Missing synthesis between valid frame_ids), but framing is just as
// strict as the latent scan (spec §4.4).
func ScanResiduals(r io.Reader, cfg Config) ([]Record, error) {
	return (&scanner{c: &cursor{r: r}, cfg: cfg, magic: residualMagic, fixedWidth: false}).run()
}

type scanner struct {
	c          *cursor
	cfg        Config
	magic      [4]byte
	fixedWidth bool

	records     []Record
	havePrev    bool
	prevFrameID uint64
}

func (s *scanner) streamName() string {
	if s.fixedWidth {
		return "cam_latents.bin"
	}
	return "cam_residuals.bin"
}

func (s *scanner) run() ([]Record, error) {
	for {
		rec, attempted, err := s.readRecord()
		switch err {
		case nil:
			if err := s.accept(rec); err != nil {
				return s.records, err
			}
			continue
		case io.EOF:
			return s.records, nil
		case errTruncated:
			return s.records, errs.At(errs.Truncated, s.streamName(), s.c.offset,
				"end of file mid-record")
		}
		// A declared residual length over ResidualMaxLen is fatal at once,
		// before any payload bytes are read.
		if e, ok := err.(*errs.Error); ok && e.Kind == errs.OversizeRecord {
			return s.records, err
		}

		// Validation failed (bad magic, bad length, CRC mismatch): enter
		// resync. The cursor never moves backwards, so the search starts
		// right after the bytes the failed attempt consumed; those bytes
		// are not searched again.
		gapStart := s.c.offset - attempted
		resynced, _, rerr := s.resync()
		if rerr != nil {
			return s.records, rerr
		}

		if s.fixedWidth && s.havePrev {
			s.synthesizeMissing(gapStart, resynced.Offset-gapStart)
		}

		if err := s.accept(resynced); err != nil {
			return s.records, err
		}
	}
}

func (s *scanner) accept(rec Record) error {
	if s.havePrev && rec.FrameID < s.prevFrameID {
		return errs.At(errs.OutOfOrder, s.streamName(), rec.Offset, "frame_id decreased")
	}
	// A forward skip on the clean path (no resync in between) is just as
	// fatal as a decrease: spec §4.4 requires frame_id to advance by
	// exactly one unless a resync produced the gap. rec.Status is only
	// StatusOK here when readRecord parsed it directly with no
	// intervening resync/synthesizeMissing call, so resynced records
	// (which already had their gap handled, or provably couldn't be)
	// are exempt from this check.
	if s.fixedWidth && rec.Status == StatusOK && s.havePrev && rec.FrameID != s.prevFrameID+1 {
		return errs.At(errs.OutOfOrder, s.streamName(), rec.Offset,
			"frame_id skipped ahead without a resync")
	}
	s.records = append(s.records, rec)
	s.prevFrameID = rec.FrameID
	s.havePrev = true
	return nil
}

// synthesizeMissing emits Missing rows for frame_ids provably skipped
// during a resync of the fixed-width latent stream: the byte gap divided
// by the fixed record size.
func (s *scanner) synthesizeMissing(gapStart, gapBytes int64) {
	recordSize := int64(headerSize) + int64(s.cfg.LatentPayloadLen)
	if recordSize <= 0 {
		return
	}
	gapFrames := gapBytes / recordSize
	for i := int64(0); i < gapFrames; i++ {
		s.prevFrameID++
		s.records = append(s.records, Record{
			FrameID: s.prevFrameID,
			Offset:  gapStart,
			Status:  StatusMissing,
		})
	}
}

var errTruncated = truncatedErr("truncated record")

type truncatedErr string

func (t truncatedErr) Error() string { return string(t) }

// readRecord attempts to parse one record at the cursor's current
// position. On a validation failure (not end-of-file/truncation) it also
// reports how many bytes the failed attempt consumed, so the caller can
// compute where the resync search should begin.
func (s *scanner) readRecord() (Record, int64, error) {
	header := make([]byte, headerSize)
	start := s.c.offset
	if err := s.c.readFull(header); err != nil {
		if s.c.offset == start {
			return Record{}, 0, io.EOF
		}
		return Record{}, 0, errTruncated
	}

	var gotMagic [4]byte
	copy(gotMagic[:], header[:magicLen])
	if gotMagic != s.magic {
		return Record{}, int64(headerSize), errs.At(errs.BadMagic, s.streamName(), start,
			"unexpected magic bytes")
	}

	return s.parseBody(header[magicLen:], start)
}

// parseBody validates and reads the length/frame_id/ts/crc/payload that
// follow an already-confirmed magic at byte offset start.
func (s *scanner) parseBody(rest []byte, start int64) (Record, int64, error) {
	declaredLen := binary.LittleEndian.Uint32(rest[:lenSize])
	frameID := binary.LittleEndian.Uint64(rest[lenSize : lenSize+frameIDLen])
	tsNs := binary.LittleEndian.Uint64(rest[lenSize+frameIDLen : lenSize+frameIDLen+tsSize])
	declaredCRC := binary.LittleEndian.Uint32(rest[lenSize+frameIDLen+tsSize:])

	var payloadLen uint32
	if s.fixedWidth {
		if declaredLen != s.cfg.LatentPayloadLen {
			return Record{}, int64(headerSize), errs.At(errs.BadMagic, s.streamName(), start,
				"latent record length does not match configured payload width")
		}
		payloadLen = s.cfg.LatentPayloadLen
	} else {
		if declaredLen > s.cfg.ResidualMaxLen {
			return Record{}, int64(headerSize), errs.At(errs.OversizeRecord, s.streamName(), start,
				"residual length exceeds configured maximum")
		}
		payloadLen = declaredLen
	}

	payload := make([]byte, payloadLen)
	if err := s.c.readFull(payload); err != nil {
		return Record{}, int64(headerSize) + int64(payloadLen), errTruncated
	}

	if crc32.ChecksumIEEE(payload) != declaredCRC {
		return Record{}, int64(headerSize) + int64(payloadLen), errs.At(errs.CrcMismatch, s.streamName(), start,
			"payload CRC-32 mismatch")
	}

	sum := blake3.Sum256(payload)
	return Record{
		FrameID:     frameID,
		TimestampNs: tsNs,
		Offset:      start,
		Length:      int64(headerSize) + int64(payloadLen),
		Status:      StatusOK,
		ContentHash: hexEncode(sum[:]),
	}, 0, nil
}

// resync advances one byte at a time searching for the next magic,
// confirming each candidate by attempting a full CRC-valid parse,
// bounded by cfg.ResyncWindow (spec §4.4). On success it returns the
// confirmed record (marked Resynced) and the number of bytes read during
// the search, including the confirmed record's own header.
func (s *scanner) resync() (Record, int64, error) {
	var window [4]byte
	filled := 0
	var skipped int64

	for {
		if skipped >= s.cfg.ResyncWindow {
			return Record{}, skipped, errs.At(errs.ResyncLimit, s.streamName(), s.c.offset,
				"exceeded resync_window without finding a valid record")
		}

		b, err := s.c.readByte()
		if err != nil {
			return Record{}, skipped, errs.At(errs.Truncated, s.streamName(), s.c.offset,
				"end of file during resync")
		}
		skipped++

		if filled < 4 {
			window[filled] = b
			filled++
		} else {
			window[0], window[1], window[2], window[3] = window[1], window[2], window[3], b
		}
		if filled < 4 || window != s.magic {
			continue
		}

		start := s.c.offset - magicLen
		rest := make([]byte, headerSize-magicLen)
		if err := s.c.readFull(rest); err != nil {
			return Record{}, skipped, errs.At(errs.Truncated, s.streamName(), s.c.offset,
				"end of file during resync")
		}
		skipped += int64(len(rest))

		rec, _, perr := s.parseBody(rest, start)
		if perr == nil {
			rec.Status = StatusResynced
			return rec, skipped, nil
		}
		if perr == errTruncated {
			return Record{}, skipped, errs.At(errs.Truncated, s.streamName(), s.c.offset,
				"end of file during resync")
		}
		// False-positive magic match (validation failed downstream):
		// the candidate's remaining header/payload bytes have already
		// been consumed and counted toward skipped; keep searching from
		// here with a fresh 4-byte window.
		filled = 0
	}
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
