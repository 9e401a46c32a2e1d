// Package columnar is the "thin deterministic encoder" spec.md §9 calls
// for when no columnar library can guarantee byte-reproducible output.
// No parquet-capable library exists anywhere in the retrieval pack (see
// DESIGN.md), so this is the one stdlib-only exception in the tree,
// explicitly sanctioned by the spec's own design note.
package columnar

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ocx/flashfreeze/internal/errs"
)

// FieldKind enumerates the column value types the encoder supports.
type FieldKind uint8

const (
	FieldString FieldKind = iota
	FieldUint64
	FieldInt64
	FieldBytes
)

// Field describes one column of a Schema. Order is significant and fixed
// by the caller (spec §4.7: "fixed schema").
type Field struct {
	Name string
	Kind FieldKind
}

// Schema is an ordered list of fields.
type Schema struct {
	Name   string
	Fields []Field
}

// Row is one record; values are positional, matching Schema.Fields.
type Row []any

// TableWriter accepts row batches and writes deterministic files, the
// "collaborator" role spec.md §1 describes as external to the core but
// which this repository implements directly (§9 design note).
type TableWriter interface {
	WriteRows(schema Schema, rows []Row) ([]byte, error)
}

// DeterministicEncoder implements TableWriter with a fixed binary layout:
// a header (magic, schema hash, field count, row count, per-field
// name+kind), followed by one length-prefixed block per column. Rows are
// written column-major so identical input always produces identical
// bytes, regardless of the host platform's map iteration order or any
// library's internal buffering.
type DeterministicEncoder struct{}

var fileMagic = [4]byte{'F', 'F', 'C', '1'}

// WriteRows encodes schema and rows into the fixed binary layout.
// Row ordering is the caller's responsibility (spec §4.6: lexicographic
// by primary id) — the encoder never reorders.
func (DeterministicEncoder) WriteRows(schema Schema, rows []Row) ([]byte, error) {
	for i, row := range rows {
		if len(row) != len(schema.Fields) {
			return nil, errs.New(errs.InvalidInput,
				fmt.Sprintf("row %d has %d values, schema %q declares %d fields", i, len(row), schema.Name, len(schema.Fields)))
		}
	}

	schemaHash := hashSchema(schema)

	var buf bytes.Buffer
	buf.Write(fileMagic[:])
	buf.Write(schemaHash[:])
	writeUint32(&buf, uint32(len(schema.Fields)))
	writeUint32(&buf, uint32(len(rows)))

	for _, f := range schema.Fields {
		writeString(&buf, f.Name)
		buf.WriteByte(byte(f.Kind))
	}

	for colIdx, f := range schema.Fields {
		block, err := encodeColumn(f, rows, colIdx)
		if err != nil {
			return nil, err
		}
		writeUint32(&buf, uint32(len(block)))
		buf.Write(block)
	}

	return buf.Bytes(), nil
}

// DecodeRows reverses WriteRows, reconstructing the schema (field names
// and kinds, not the original Name) and row-major values from a
// DeterministicEncoder file. Used by the verifier to re-read evidence
// tables for byte-exact span comparison (spec §4.8 step 4).
func DecodeRows(data []byte) (Schema, []Row, error) {
	r := &byteReader{data: data}

	magic, err := r.take(4)
	if err != nil || string(magic) != string(fileMagic[:]) {
		return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file has an invalid or missing magic header")
	}
	if _, err := r.take(32); err != nil { // schema hash, not re-verified here
		return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated in its header")
	}
	fieldCount, err := r.uint32()
	if err != nil {
		return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated reading field count")
	}
	rowCount, err := r.uint32()
	if err != nil {
		return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated reading row count")
	}

	fields := make([]Field, fieldCount)
	for i := range fields {
		name, err := r.string()
		if err != nil {
			return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated reading a field name")
		}
		kindByte, err := r.byteVal()
		if err != nil {
			return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated reading a field kind")
		}
		fields[i] = Field{Name: name, Kind: FieldKind(kindByte)}
	}

	rows := make([]Row, rowCount)
	for i := range rows {
		rows[i] = make(Row, fieldCount)
	}

	for colIdx, f := range fields {
		blockLen, err := r.uint32()
		if err != nil {
			return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated reading a column block length")
		}
		block, err := r.take(int(blockLen))
		if err != nil {
			return Schema{}, nil, errs.New(errs.ManifestInvalid, "columnar file is truncated reading a column block")
		}
		if err := decodeColumn(f, block, rows, colIdx); err != nil {
			return Schema{}, nil, err
		}
	}

	return Schema{Fields: fields}, rows, nil
}

func decodeColumn(f Field, block []byte, rows []Row, colIdx int) error {
	br := &byteReader{data: block}
	for rowIdx := range rows {
		switch f.Kind {
		case FieldString:
			s, err := br.string()
			if err != nil {
				return fieldDecodeErr(f, rowIdx)
			}
			rows[rowIdx][colIdx] = s
		case FieldBytes:
			n, err := br.uint32()
			if err != nil {
				return fieldDecodeErr(f, rowIdx)
			}
			b, err := br.take(int(n))
			if err != nil {
				return fieldDecodeErr(f, rowIdx)
			}
			cp := make([]byte, len(b))
			copy(cp, b)
			rows[rowIdx][colIdx] = cp
		case FieldUint64:
			u, err := br.uint64()
			if err != nil {
				return fieldDecodeErr(f, rowIdx)
			}
			rows[rowIdx][colIdx] = u
		case FieldInt64:
			u, err := br.uint64()
			if err != nil {
				return fieldDecodeErr(f, rowIdx)
			}
			rows[rowIdx][colIdx] = int64(u)
		default:
			return errs.New(errs.ManifestInvalid, fmt.Sprintf("unknown field kind %d while decoding", f.Kind))
		}
	}
	return nil
}

func fieldDecodeErr(f Field, rowIdx int) error {
	return errs.New(errs.ManifestInvalid, fmt.Sprintf("field %q row %d: truncated while decoding", f.Name, rowIdx))
}

// byteReader is a minimal cursor over an in-memory buffer, avoiding the
// allocation overhead of bytes.Reader's interface methods for the
// tight-loop column decode above.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("short read")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) byteVal() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func hashSchema(s Schema) [32]byte {
	var b bytes.Buffer
	b.WriteString(s.Name)
	for _, f := range s.Fields {
		b.WriteString(f.Name)
		b.WriteByte(byte(f.Kind))
	}
	return sha256.Sum256(b.Bytes())
}

func encodeColumn(f Field, rows []Row, colIdx int) ([]byte, error) {
	var buf bytes.Buffer
	for rowIdx, row := range rows {
		v := row[colIdx]
		switch f.Kind {
		case FieldString:
			s, ok := v.(string)
			if !ok {
				return nil, fieldTypeErr(f, rowIdx, v)
			}
			writeString(&buf, s)
		case FieldBytes:
			b, ok := v.([]byte)
			if !ok {
				return nil, fieldTypeErr(f, rowIdx, v)
			}
			writeUint32(&buf, uint32(len(b)))
			buf.Write(b)
		case FieldUint64:
			u, ok := v.(uint64)
			if !ok {
				return nil, fieldTypeErr(f, rowIdx, v)
			}
			writeUint64(&buf, u)
		case FieldInt64:
			n, ok := v.(int64)
			if !ok {
				return nil, fieldTypeErr(f, rowIdx, v)
			}
			writeUint64(&buf, uint64(n))
		default:
			return nil, errs.New(errs.InvalidInput, fmt.Sprintf("unknown field kind %d", f.Kind))
		}
	}
	return buf.Bytes(), nil
}

func fieldTypeErr(f Field, rowIdx int, v any) error {
	return errs.New(errs.InvalidInput, fmt.Sprintf("field %q row %d: unexpected value type %T", f.Name, rowIdx, v))
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// SortRowsByStringField sorts rows in place, lexicographically by the
// byte value of the string field at keyIdx — the deterministic row
// ordering spec §4.6 requires for each graph table.
func SortRowsByStringField(rows []Row, keyIdx int) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i][keyIdx].(string) < rows[j][keyIdx].(string)
	})
}
