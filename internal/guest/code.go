package guest

// Code is a function body under construction. Methods append one
// instruction each and return the receiver for chaining.
type Code struct {
	w buffer
}

func (c *Code) op(b ...byte) *Code {
	c.w.raw(b)
	return c
}

func (c *Code) LocalGet(i uint32) *Code  { c.w.byte(0x20); c.w.u32(i); return c }
func (c *Code) LocalSet(i uint32) *Code  { c.w.byte(0x21); c.w.u32(i); return c }
func (c *Code) GlobalGet(i uint32) *Code { c.w.byte(0x23); c.w.u32(i); return c }
func (c *Code) GlobalSet(i uint32) *Code { c.w.byte(0x24); c.w.u32(i); return c }
func (c *Code) Call(fn uint32) *Code     { c.w.byte(0x10); c.w.u32(fn); return c }
func (c *Code) Br(depth uint32) *Code    { c.w.byte(0x0C); c.w.u32(depth); return c }

func (c *Code) I32Const(v int32) *Code { c.w.byte(0x41); c.w.s64(int64(v)); return c }
func (c *Code) I64Const(v int64) *Code { c.w.byte(0x42); c.w.s64(v); return c }

// memarg writes alignment 0 so unaligned addresses are fine.
func (c *Code) mem(opcode byte, offset uint32) *Code {
	c.w.byte(opcode)
	c.w.u32(0)
	c.w.u32(offset)
	return c
}

func (c *Code) I32Load(offset uint32) *Code   { return c.mem(0x28, offset) }
func (c *Code) I64Load(offset uint32) *Code   { return c.mem(0x29, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.mem(0x36, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.mem(0x3A, offset) }

func (c *Code) Unreachable() *Code   { return c.op(0x00) }
func (c *Code) Loop() *Code          { return c.op(0x03, 0x40) }
func (c *Code) End() *Code           { return c.op(0x0B) }
func (c *Code) Drop() *Code          { return c.op(0x1A) }
func (c *Code) I32Add() *Code        { return c.op(0x6A) }
func (c *Code) I32Sub() *Code        { return c.op(0x6B) }
func (c *Code) I32And() *Code        { return c.op(0x71) }
func (c *Code) I64Or() *Code         { return c.op(0x84) }
func (c *Code) I64Shl() *Code        { return c.op(0x86) }
func (c *Code) I64ShrU() *Code       { return c.op(0x88) }
func (c *Code) I32WrapI64() *Code    { return c.op(0xA7) }
func (c *Code) I64ExtendI32U() *Code { return c.op(0xAD) }

// MemoryCopy pops dest, src and n.
func (c *Code) MemoryCopy() *Code { return c.op(0xFC, 0x0A, 0x00, 0x00) }

// Pack leaves ptr<<32 | length on the stack, reading both from i32 locals.
func (c *Code) Pack(ptr, length uint32) *Code {
	return c.LocalGet(ptr).I64ExtendI32U().I64Const(32).I64Shl().
		LocalGet(length).I64ExtendI32U().I64Or()
}

// PackConst leaves a packed constant buffer on the stack.
func (c *Code) PackConst(ptr, length uint32) *Code {
	return c.I64Const(int64(uint64(ptr)<<32 | uint64(length)))
}

// UnpackPtr leaves the pointer half of the packed i64 local on the stack.
func (c *Code) UnpackPtr(packed uint32) *Code {
	return c.LocalGet(packed).I64Const(32).I64ShrU().I32WrapI64()
}

// UnpackLen leaves the length half of the packed i64 local on the stack.
func (c *Code) UnpackLen(packed uint32) *Code {
	return c.LocalGet(packed).I32WrapI64()
}
