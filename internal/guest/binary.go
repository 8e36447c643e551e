package guest

// buffer accumulates wasm binary encoding.
type buffer struct {
	b []byte
}

func (w *buffer) byte(b byte) {
	w.b = append(w.b, b)
}

func (w *buffer) raw(data []byte) {
	w.b = append(w.b, data...)
}

// u32 writes unsigned LEB128.
func (w *buffer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			w.b = append(w.b, b)
			return
		}
		w.b = append(w.b, b|0x80)
	}
}

// s64 writes signed LEB128. i32.const immediates use it too.
func (w *buffer) s64(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			w.b = append(w.b, b)
			return
		}
		w.b = append(w.b, b|0x80)
	}
}

func (w *buffer) name(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

// vector writes a length-prefixed blob.
func (w *buffer) vector(data []byte) {
	w.u32(uint32(len(data)))
	w.raw(data)
}

func (w *buffer) section(id byte, body *buffer) {
	w.byte(id)
	w.vector(body.b)
}
