// Package binlayout implements the little-endian, host-width-independent
// binary codec used to persist filter configuration and level metadata.
//
// Every integer field is written little-endian at a fixed width, strings
// and byte blobs are length-prefixed with a protobuf-style unsigned varint,
// matching the "length : varint | items : repeat(...)" shape used for
// persisted vectors throughout this module.
package binlayout

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned when a Reader runs out of bytes mid-field.
var ErrShortBuffer = errors.New("binlayout: short buffer")

// Writer appends fixed-width and varint-prefixed fields to an internal
// buffer. The zero value is ready to use; NewWriter preallocates a small
// buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated buffer. The returned slice aliases the
// writer's internal storage and must not be mutated by the caller.
func (w *Writer) Bytes() []byte { return w.buf }

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

// WriteU32 appends a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteU64 appends a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteF64 appends a little-endian IEEE-754 float64.
func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteBool appends a single byte: 1 for true, 0 for false.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

// WriteVarint appends v as an unsigned LEB128 varint.
func (w *Writer) WriteVarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// WriteBytes appends a varint length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteVarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends a varint length prefix followed by the string's bytes.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// Reader consumes fields written by Writer, in the same order.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps data for sequential decoding.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err returns the first error encountered by any Read* call, if any.
// Once set, all subsequent Read* calls are no-ops that return zero values.
func (r *Reader) Err() error { return r.err }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadF64 reads a little-endian IEEE-754 float64.
func (r *Reader) ReadF64() float64 {
	return math.Float64frombits(r.ReadU64())
}

// ReadBool reads a single byte and reports whether it is non-zero.
func (r *Reader) ReadBool() bool {
	return r.ReadU8() != 0
}

// ReadVarint reads an unsigned LEB128 varint.
func (r *Reader) ReadVarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.err = ErrShortBuffer
		return 0
	}
	r.off += n
	return v
}

// ReadBytes reads a varint length prefix followed by that many bytes.
// The returned slice aliases the Reader's input buffer.
func (r *Reader) ReadBytes() []byte {
	n := r.ReadVarint()
	if r.err != nil {
		return nil
	}
	return r.take(int(n))
}

// ReadString reads a varint-length-prefixed string.
func (r *Reader) ReadString() string {
	return string(r.ReadBytes())
}

// Remaining reports whether unread bytes remain.
func (r *Reader) Remaining() bool {
	return r.err == nil && r.off < len(r.buf)
}
