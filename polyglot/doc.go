// Package polyglot implements the tagged binary wire format shared by hosts
// and guests of every source language.
//
// # Wire Format
//
// Every value starts with a one-byte Kind tag followed by its payload:
//
//	nil      0x00  (absent record or optional value)
//	array    0x01  elem kind, u32 count, tagged elements
//	map      0x02  key kind, value kind, u32 count, tagged key/value pairs
//	bytes    0x04  u32 length, bytes
//	string   0x05  u32 length, UTF-8 bytes
//	error    0x06  u32 length, message
//	bool     0x07  1 byte
//	uint32   0x0A  4 bytes     uint64  0x0B  8 bytes
//	int32    0x0C  4 bytes     int64   0x0D  8 bytes
//	float32  0x0E  4 bytes     float64 0x0F  8 bytes
//	record   0x10  presence marker, field stream follows
//	enum     0x11  u32 ordinal
//
// Integers, floats and length prefixes are little-endian. Container elements
// carry their own tags and must match the container's declared kinds; the
// only exception is a record element, which may be absent.
//
// # Models
//
// Record types implement Model and encode their fields in a fixed order:
//
//	func (m *Greeting) Encode(e *polyglot.Encoder) {
//		e.String(m.Text)
//		polyglot.EncodeModel(e, m.Sender)
//	}
//
//	func (m *Greeting) Decode(d *polyglot.Decoder) (err error) {
//		if m.Text, err = d.String(); err != nil {
//			return err
//		}
//		m.Sender, err = polyglot.DecodeModel[Sender](d)
//		return err
//	}
//
// DecodeModel returns nil for an absent record, so "not set" stays distinct
// from "set to defaults".
//
// # Maps
//
// Maps keep insertion order. Setting an existing key replaces its value, so
// encoded maps never hold duplicate keys; the decoder rejects input that does.
package polyglot
