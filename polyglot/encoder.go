package polyglot

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Encoders larger than maxPooled are left to the garbage collector.
const (
	maxPooled   = 64 << 10
	poolInitCap = 512
)

var encoders = sync.Pool{
	New: func() any { return NewEncoder(poolInitCap) },
}

// GetEncoder takes an empty encoder from the pool. Pair it with PutEncoder
// once the encoded bytes have been copied out.
func GetEncoder() *Encoder {
	return encoders.Get().(*Encoder)
}

// PutEncoder resets e and returns it to the pool. Slices obtained from
// e.Buffer are invalid afterwards.
func PutEncoder(e *Encoder) {
	if e == nil || cap(e.buf) > maxPooled {
		return
	}
	e.Reset()
	encoders.Put(e)
}

// Encoder appends tagged values to a growable buffer. All multi-byte
// integers, floats and length prefixes are little-endian.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with the given initial capacity.
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Buffer returns the encoded bytes. The slice aliases the encoder buffer.
func (e *Encoder) Buffer() []byte { return e.buf }

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset discards the encoded bytes and keeps the buffer.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

func (e *Encoder) tag(k Kind) {
	e.buf = append(e.buf, byte(k))
}

func (e *Encoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) u64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) span(b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		panic(fmt.Sprintf("polyglot: %d bytes exceed the u32 length prefix", len(b)))
	}
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// Nil writes the absent marker.
func (e *Encoder) Nil() *Encoder {
	e.tag(NilKind)
	return e
}

// Bool writes a boolean.
func (e *Encoder) Bool(v bool) *Encoder {
	e.tag(BoolKind)
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return e
}

// Uint32 writes an unsigned 32-bit integer.
func (e *Encoder) Uint32(v uint32) *Encoder {
	e.tag(Uint32Kind)
	e.u32(v)
	return e
}

// Uint64 writes an unsigned 64-bit integer.
func (e *Encoder) Uint64(v uint64) *Encoder {
	e.tag(Uint64Kind)
	e.u64(v)
	return e
}

// Int32 writes a signed 32-bit integer.
func (e *Encoder) Int32(v int32) *Encoder {
	e.tag(Int32Kind)
	e.u32(uint32(v))
	return e
}

// Int64 writes a signed 64-bit integer.
func (e *Encoder) Int64(v int64) *Encoder {
	e.tag(Int64Kind)
	e.u64(uint64(v))
	return e
}

// Float32 writes an IEEE-754 single.
func (e *Encoder) Float32(v float32) *Encoder {
	e.tag(Float32Kind)
	e.u32(math.Float32bits(v))
	return e
}

// Float64 writes an IEEE-754 double.
func (e *Encoder) Float64(v float64) *Encoder {
	e.tag(Float64Kind)
	e.u64(math.Float64bits(v))
	return e
}

// String writes a length-prefixed UTF-8 string.
func (e *Encoder) String(v string) *Encoder {
	e.tag(StringKind)
	if uint64(len(v)) > math.MaxUint32 {
		panic(fmt.Sprintf("polyglot: %d bytes exceed the u32 length prefix", len(v)))
	}
	e.u32(uint32(len(v)))
	e.buf = append(e.buf, v...)
	return e
}

// Bytes writes a length-prefixed byte sequence.
func (e *Encoder) Bytes(v []byte) *Encoder {
	e.tag(BytesKind)
	e.span(v)
	return e
}

// Error writes an error message.
func (e *Encoder) Error(err error) *Encoder {
	e.tag(ErrorKind)
	e.span([]byte(err.Error()))
	return e
}

// Enum writes an enum ordinal.
func (e *Encoder) Enum(ordinal uint32) *Encoder {
	e.tag(EnumKind)
	e.u32(ordinal)
	return e
}

// Record writes the presence marker of a record. The record's field stream
// must follow.
func (e *Encoder) Record() *Encoder {
	e.tag(RecordKind)
	return e
}

// Array writes an array header. Exactly count values of elemKind (or Nil for
// record elements) must follow.
func (e *Encoder) Array(count int, elemKind Kind) *Encoder {
	mustElementKind(elemKind)
	e.tag(ArrayKind)
	e.buf = append(e.buf, byte(elemKind))
	e.u32(uint32(count))
	return e
}

// Map writes a map header. Exactly count key/value pairs must follow,
// interleaved.
func (e *Encoder) Map(count int, keyKind, valueKind Kind) *Encoder {
	mustElementKind(keyKind)
	mustElementKind(valueKind)
	e.tag(MapKind)
	e.buf = append(e.buf, byte(keyKind), byte(valueKind))
	e.u32(uint32(count))
	return e
}

func mustElementKind(k Kind) {
	if !k.Valid() || k == NilKind {
		panic(fmt.Sprintf("polyglot: invalid container element kind %s", k))
	}
}
