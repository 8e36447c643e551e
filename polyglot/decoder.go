package polyglot

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/wippyai/polyglot-runtime/errors"
)

// ErrorValue is a decoded Error-kind value.
type ErrorValue string

func (e ErrorValue) Error() string { return string(e) }

// Decoder reads tagged values from an immutable byte slice. Every read
// validates the tag against the requested kind; on failure the cursor stays
// at the offending tag and a format error is returned.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder creates a decoder over buf. The decoder never writes to buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Offset returns the cursor position.
func (d *Decoder) Offset() int { return d.off }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// Done reports whether every byte was consumed.
func (d *Decoder) Done() bool { return d.off == len(d.buf) }

// Peek returns the next tag without consuming it.
func (d *Decoder) Peek() (Kind, error) {
	if d.off >= len(d.buf) {
		return 0, errors.Truncated(d.off, 1, 0)
	}
	k := Kind(d.buf[d.off])
	if !k.Valid() {
		return 0, errors.UnknownKind(d.off, byte(k))
	}
	return k, nil
}

// IsNil consumes and reports an absent marker.
func (d *Decoder) IsNil() bool {
	if d.off < len(d.buf) && Kind(d.buf[d.off]) == NilKind {
		d.off++
		return true
	}
	return false
}

func (d *Decoder) expect(k Kind) error {
	got, err := d.Peek()
	if err != nil {
		return err
	}
	if got != k {
		return errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			Expected(k.String()).
			Actual(got.String()).
			Value(d.off).
			Detail("tag at offset %d", d.off).
			Build()
	}
	d.off++
	return nil
}

func (d *Decoder) need(n int) error {
	if d.Remaining() < n {
		return errors.Truncated(d.off, n, d.Remaining())
	}
	return nil
}

// fixed reads the tag and an n-byte payload. The cursor is restored when the
// payload is short.
func (d *Decoder) fixed(k Kind, n int) ([]byte, error) {
	start := d.off
	if err := d.expect(k); err != nil {
		return nil, err
	}
	if err := d.need(n); err != nil {
		d.off = start
		return nil, err
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) span(k Kind) ([]byte, error) {
	start := d.off
	b, err := d.fixed(k, 4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(n) > uint64(d.Remaining()) {
		at := d.off - 4
		d.off = start
		return nil, errors.LengthOverflow(at, n, len(d.buf)-at-4)
	}
	out := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return out, nil
}

// Bool reads a boolean.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.fixed(BoolKind, 1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	d.off -= 2
	return false, errors.InvalidData(errors.PhaseDecode, nil, "bool payload must be 0 or 1")
}

// Uint32 reads an unsigned 32-bit integer.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.fixed(Uint32Kind, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads an unsigned 64-bit integer.
func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.fixed(Uint64Kind, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int32 reads a signed 32-bit integer.
func (d *Decoder) Int32() (int32, error) {
	b, err := d.fixed(Int32Kind, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// Int64 reads a signed 64-bit integer.
func (d *Decoder) Int64() (int64, error) {
	b, err := d.fixed(Int64Kind, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Float32 reads an IEEE-754 single.
func (d *Decoder) Float32() (float32, error) {
	b, err := d.fixed(Float32Kind, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// Float64 reads an IEEE-754 double.
func (d *Decoder) Float64() (float64, error) {
	b, err := d.fixed(Float64Kind, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// String reads a UTF-8 string.
func (d *Decoder) String() (string, error) {
	start := d.off
	b, err := d.span(StringKind)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		d.off = start
		return "", errors.InvalidUTF8(errors.PhaseDecode, nil, b)
	}
	return string(b), nil
}

// Bytes reads a byte sequence. The result is a copy.
func (d *Decoder) Bytes() ([]byte, error) {
	b, err := d.span(BytesKind)
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 0, len(b)), b...), nil
}

// Error reads an Error-kind value.
func (d *Decoder) Error() (error, error) {
	b, err := d.span(ErrorKind)
	if err != nil {
		return nil, err
	}
	return ErrorValue(b), nil
}

// Enum reads an enum ordinal.
func (d *Decoder) Enum() (uint32, error) {
	b, err := d.fixed(EnumKind, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Record reads a record presence marker. It returns false for the absent
// marker; the record's field stream follows only when it returns true.
func (d *Decoder) Record() (bool, error) {
	if d.IsNil() {
		return false, nil
	}
	if err := d.expect(RecordKind); err != nil {
		return false, err
	}
	return true, nil
}

// ArrayHeader reads an array header of any element kind.
func (d *Decoder) ArrayHeader() (Kind, int, error) {
	start := d.off
	if err := d.expect(ArrayKind); err != nil {
		return 0, 0, err
	}
	if err := d.need(5); err != nil {
		d.off = start
		return 0, 0, err
	}
	elem := Kind(d.buf[d.off])
	if !elem.Valid() || elem == NilKind {
		at := d.off
		d.off = start
		return 0, 0, errors.UnknownKind(at, byte(elem))
	}
	n := binary.LittleEndian.Uint32(d.buf[d.off+1:])
	d.off += 5
	// every element occupies at least its tag byte
	if uint64(n) > uint64(d.Remaining()) {
		at := d.off - 4
		d.off = start
		return 0, 0, errors.LengthOverflow(at, n, len(d.buf)-at-4)
	}
	return elem, int(n), nil
}

// Array reads an array header and checks its element kind.
func (d *Decoder) Array(elemKind Kind) (int, error) {
	start := d.off
	elem, n, err := d.ArrayHeader()
	if err != nil {
		return 0, err
	}
	if elem != elemKind {
		d.off = start
		return 0, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			Expected(elemKind.String()).
			Actual(elem.String()).
			Detail("array element kind at offset %d", start+1).
			Build()
	}
	return n, nil
}

// MapHeader reads a map header of any key and value kind.
func (d *Decoder) MapHeader() (Kind, Kind, int, error) {
	start := d.off
	if err := d.expect(MapKind); err != nil {
		return 0, 0, 0, err
	}
	if err := d.need(6); err != nil {
		d.off = start
		return 0, 0, 0, err
	}
	key, val := Kind(d.buf[d.off]), Kind(d.buf[d.off+1])
	for i, k := range []Kind{key, val} {
		if !k.Valid() || k == NilKind {
			at := d.off + i
			d.off = start
			return 0, 0, 0, errors.UnknownKind(at, byte(k))
		}
	}
	n := binary.LittleEndian.Uint32(d.buf[d.off+2:])
	d.off += 6
	if 2*uint64(n) > uint64(d.Remaining()) {
		at := d.off - 4
		d.off = start
		return 0, 0, 0, errors.LengthOverflow(at, n, len(d.buf)-at-4)
	}
	return key, val, int(n), nil
}

// Map reads a map header and checks its key and value kinds.
func (d *Decoder) Map(keyKind, valueKind Kind) (int, error) {
	start := d.off
	key, val, n, err := d.MapHeader()
	if err != nil {
		return 0, err
	}
	if key != keyKind || val != valueKind {
		d.off = start
		return 0, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			Expected(keyKind.String() + "->" + valueKind.String()).
			Actual(key.String() + "->" + val.String()).
			Detail("map kinds at offset %d", start+1).
			Build()
	}
	return n, nil
}
