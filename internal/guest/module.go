package guest

import "fmt"

// ValType is a wasm value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
)

const (
	sectionType   byte = 1
	sectionImport byte = 2
	sectionFunc   byte = 3
	sectionMemory byte = 5
	sectionGlobal byte = 6
	sectionExport byte = 7
	sectionCode   byte = 10
	sectionData   byte = 11

	exportFunc   byte = 0x00
	exportMemory byte = 0x02
)

// DataBase is where constant data segments start. HeapBase is the first
// address malloc hands out.
const (
	DataBase = 1024
	HeapBase = 1 << 16
)

type funcType struct {
	params, results []ValType
}

type importFunc struct {
	module, name string
	typ          uint32
}

type function struct {
	typ    uint32
	locals []ValType
	code   *Code
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset uint32
	data   []byte
}

// Module builds a core wasm module with one memory. Imports must be declared
// before the first function so function indices stay stable.
type Module struct {
	types   []funcType
	imports []importFunc
	funcs   []function
	globals []int32
	exports []export
	data    []segment
	pages   uint32
	dataTop uint32
}

// NewModule creates a module exporting a memory of pages 64KiB pages.
func NewModule(pages uint32) *Module {
	m := &Module{pages: pages, dataTop: DataBase}
	m.exports = append(m.exports, export{name: "memory", kind: exportMemory})
	return m
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if equal(t.params, params) && equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import declares a function import and returns its function index.
func (m *Module) Import(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic(fmt.Sprintf("guest: import %s.%s declared after functions", module, name))
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. Locals follow the params.
func (m *Module) Func(params, results, locals []ValType, code *Code) uint32 {
	m.funcs = append(m.funcs, function{typ: m.typeIndex(params, results), locals: locals, code: code})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Export exports a function by index.
func (m *Module) Export(name string, fn uint32) {
	m.exports = append(m.exports, export{name: name, kind: exportFunc, idx: fn})
}

// Global defines a mutable i32 global and returns its index.
func (m *Module) Global(init int32) uint32 {
	m.globals = append(m.globals, init)
	return uint32(len(m.globals) - 1)
}

// Data places data in memory below HeapBase and returns its address.
func (m *Module) Data(data []byte) uint32 {
	off := m.dataTop
	if off+uint32(len(data)) > HeapBase {
		panic("guest: data segments overflow the heap base")
	}
	m.data = append(m.data, segment{offset: off, data: data})
	m.dataTop = (off + uint32(len(data)) + 7) &^ 7
	return off
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := &buffer{}
	out.raw([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})

	sec := &buffer{}
	sec.u32(uint32(len(m.types)))
	for _, t := range m.types {
		sec.byte(0x60)
		sec.u32(uint32(len(t.params)))
		for _, p := range t.params {
			sec.byte(byte(p))
		}
		sec.u32(uint32(len(t.results)))
		for _, r := range t.results {
			sec.byte(byte(r))
		}
	}
	out.section(sectionType, sec)

	if len(m.imports) > 0 {
		sec = &buffer{}
		sec.u32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.name(imp.module)
			sec.name(imp.name)
			sec.byte(exportFunc)
			sec.u32(imp.typ)
		}
		out.section(sectionImport, sec)
	}

	sec = &buffer{}
	sec.u32(uint32(len(m.funcs)))
	for _, f := range m.funcs {
		sec.u32(f.typ)
	}
	out.section(sectionFunc, sec)

	sec = &buffer{}
	sec.u32(1)
	sec.byte(0x00)
	sec.u32(m.pages)
	out.section(sectionMemory, sec)

	if len(m.globals) > 0 {
		sec = &buffer{}
		sec.u32(uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.byte(byte(I32))
			sec.byte(0x01)
			sec.byte(0x41)
			sec.s64(int64(g))
			sec.byte(0x0B)
		}
		out.section(sectionGlobal, sec)
	}

	sec = &buffer{}
	sec.u32(uint32(len(m.exports)))
	for _, e := range m.exports {
		sec.name(e.name)
		sec.byte(e.kind)
		sec.u32(e.idx)
	}
	out.section(sectionExport, sec)

	sec = &buffer{}
	sec.u32(uint32(len(m.funcs)))
	for _, f := range m.funcs {
		body := &buffer{}
		body.u32(uint32(len(f.locals)))
		for _, l := range f.locals {
			body.u32(1)
			body.byte(byte(l))
		}
		body.raw(f.code.w.b)
		sec.vector(body.b)
	}
	out.section(sectionCode, sec)

	if len(m.data) > 0 {
		sec = &buffer{}
		sec.u32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.u32(0)
			sec.byte(0x41)
			sec.s64(int64(d.offset))
			sec.byte(0x0B)
			sec.vector(d.data)
		}
		out.section(sectionData, sec)
	}

	return out.b
}

func equal(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
