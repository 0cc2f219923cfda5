// Package wasmgen lowers a relooped, frame-planned program to a binary Wasm
// module: LEB128/section encoding (this file), the module assembler
// (module.go) and the per-function instruction emitter (emitter.go).
// Opcode, section and value-type constants are grounded on
// other_examples/wippyai-wasm-runtime's wasm-constants.go and
// other_examples/lhaig-intent's internal/wasmbe, since the teacher's own
// backend emits WAT text and has no binary encoder to draw on.
package wasmgen

import "math"

// Magic and version header every Wasm module begins with.
var (
	wasmMagic   = []byte{0x00, 0x61, 0x73, 0x6D}
	wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

// Section IDs, in the canonical order they must appear in a module.
const (
	secCustom   byte = 0
	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secTable    byte = 4
	secMemory   byte = 5
	secGlobal   byte = 6
	secExport   byte = 7
	secStart    byte = 8
	secElement  byte = 9
	secCode     byte = 10
	secData     byte = 11
)

// Value types.
const (
	valI32 byte = 0x7F
	valI64 byte = 0x7E
	valF32 byte = 0x7D
	valF64 byte = 0x7C
)

// blockTypeEmpty is the BlockType encoding for a block producing no value --
// every block/loop/if this emitter produces is void, since every IR value
// lives on the shadow stack rather than the Wasm operand stack.
const blockTypeEmpty byte = 0x40

// funcTypeTag marks a Type-section entry as a function signature (the only
// kind of type this compiler ever interns).
const funcTypeTag byte = 0x60

// Import/export descriptor kinds.
const (
	kindFunc   byte = 0x00
	kindTable  byte = 0x01
	kindMemory byte = 0x02
	kindGlobal byte = 0x03
)

// Control-flow opcodes.
const (
	opUnreachable byte = 0x00
	opNop         byte = 0x01
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opBrIf        byte = 0x0D
	opReturn      byte = 0x0F
	opCall        byte = 0x10
)

// Parametric / variable-access opcodes.
const (
	opDrop       byte = 0x1A
	opLocalGet   byte = 0x20
	opLocalSet   byte = 0x21
	opLocalTee   byte = 0x22
	opGlobalGet  byte = 0x23
	opGlobalSet  byte = 0x24
)

// Memory load/store opcodes, one per (type, width, signedness).
const (
	opI32Load    byte = 0x28
	opI64Load    byte = 0x29
	opF32Load    byte = 0x2A
	opF64Load    byte = 0x2B
	opI32Load8S  byte = 0x2C
	opI32Load8U  byte = 0x2D
	opI32Load16S byte = 0x2E
	opI32Load16U byte = 0x2F
	opI64Load8S  byte = 0x30
	opI64Load8U  byte = 0x31
	opI64Load16S byte = 0x32
	opI64Load16U byte = 0x33
	opI64Load32S byte = 0x34
	opI64Load32U byte = 0x35
	opI32Store   byte = 0x36
	opI64Store   byte = 0x37
	opF32Store   byte = 0x38
	opF64Store   byte = 0x39
	opI32Store8  byte = 0x3A
	opI32Store16 byte = 0x3B
	opI64Store8  byte = 0x3C
	opI64Store16 byte = 0x3D
	opI64Store32 byte = 0x3E
)

// Numeric constants.
const (
	opI32Const byte = 0x41
	opI64Const byte = 0x42
	opF32Const byte = 0x43
	opF64Const byte = 0x44
)

// i32 comparisons.
const (
	opI32Eqz byte = 0x45
	opI32Eq  byte = 0x46
	opI32Ne  byte = 0x47
	opI32LtS byte = 0x48
	opI32LtU byte = 0x49
	opI32GtS byte = 0x4A
	opI32GtU byte = 0x4B
	opI32LeS byte = 0x4C
	opI32LeU byte = 0x4D
	opI32GeS byte = 0x4E
	opI32GeU byte = 0x4F
)

// i64 comparisons.
const (
	opI64Eqz byte = 0x50
	opI64Eq  byte = 0x51
	opI64Ne  byte = 0x52
	opI64LtS byte = 0x53
	opI64LtU byte = 0x54
	opI64GtS byte = 0x55
	opI64GtU byte = 0x56
	opI64LeS byte = 0x57
	opI64LeU byte = 0x58
	opI64GeS byte = 0x59
	opI64GeU byte = 0x5A
)

// f32/f64 comparisons.
const (
	opF32Eq byte = 0x5B
	opF32Ne byte = 0x5C
	opF32Lt byte = 0x5D
	opF32Gt byte = 0x5E
	opF32Le byte = 0x5F
	opF32Ge byte = 0x60
	opF64Eq byte = 0x61
	opF64Ne byte = 0x62
	opF64Lt byte = 0x63
	opF64Gt byte = 0x64
	opF64Le byte = 0x65
	opF64Ge byte = 0x66
)

// i32 arithmetic/bitwise.
const (
	opI32Add  byte = 0x6A
	opI32Sub  byte = 0x6B
	opI32Mul  byte = 0x6C
	opI32DivS byte = 0x6D
	opI32DivU byte = 0x6E
	opI32RemS byte = 0x6F
	opI32RemU byte = 0x70
	opI32And  byte = 0x71
	opI32Or   byte = 0x72
	opI32Xor  byte = 0x73
	opI32Shl  byte = 0x74
	opI32ShrS byte = 0x75
	opI32ShrU byte = 0x76
)

// i64 arithmetic/bitwise.
const (
	opI64Add  byte = 0x7C
	opI64Sub  byte = 0x7D
	opI64Mul  byte = 0x7E
	opI64DivS byte = 0x7F
	opI64DivU byte = 0x80
	opI64RemS byte = 0x81
	opI64RemU byte = 0x82
	opI64And  byte = 0x83
	opI64Or   byte = 0x84
	opI64Xor  byte = 0x85
	opI64Shl  byte = 0x86
	opI64ShrS byte = 0x87
	opI64ShrU byte = 0x88
)

// f32/f64 arithmetic.
const (
	opF32Add byte = 0x92
	opF32Sub byte = 0x93
	opF32Mul byte = 0x94
	opF32Div byte = 0x95
	opF64Add byte = 0xA0
	opF64Sub byte = 0xA1
	opF64Mul byte = 0xA2
	opF64Div byte = 0xA3
)

// Conversions used by Convert lowering (pkg/ir's directed From/To pairs).
const (
	opI32WrapI64     byte = 0xA7
	opI32TruncF32S   byte = 0xA8
	opI32TruncF32U   byte = 0xA9
	opI32TruncF64S   byte = 0xAA
	opI32TruncF64U   byte = 0xAB
	opI64ExtendI32S  byte = 0xAC
	opI64ExtendI32U  byte = 0xAD
	opI64TruncF32S   byte = 0xAE
	opI64TruncF32U   byte = 0xAF
	opI64TruncF64S   byte = 0xB0
	opI64TruncF64U   byte = 0xB1
	opF32ConvertI32S byte = 0xB2
	opF32ConvertI32U byte = 0xB3
	opF32ConvertI64S byte = 0xB4
	opF32ConvertI64U byte = 0xB5
	opF32DemoteF64   byte = 0xB6
	opF64ConvertI32S byte = 0xB7
	opF64ConvertI32U byte = 0xB8
	opF64ConvertI64S byte = 0xB9
	opF64ConvertI64U byte = 0xBA
	opF64PromoteF32  byte = 0xBB
)

// Sign-extension proposal opcodes, explicitly permitted by spec section 6.
const (
	opI32Extend8S  byte = 0xC0
	opI32Extend16S byte = 0xC1
)

// encodeLEB128U appends the unsigned LEB128 encoding of v.
func encodeLEB128U(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// encodeLEB128S appends the signed LEB128 encoding of v.
func encodeLEB128S(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func encodeF32(v float32) []byte {
	bits := math.Float32bits(v)
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

func encodeF64(v float64) []byte {
	bits := math.Float64bits(v)
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(bits >> (8 * i))
	}
	return out
}

// encodeVector prefixes contents with its element count as a LEB128 u32 --
// the vec(T) encoding used throughout the binary format (type lists, section
// entries, function locals, byte strings).
func encodeVector(count int, contents []byte) []byte {
	out := encodeLEB128U(uint64(count))
	return append(out, contents...)
}

func encodeString(s string) []byte {
	return encodeVector(len(s), []byte(s))
}

// encodeSection wraps contents in the section-ID-plus-byte-length framing
// every section uses; returns nil (no bytes at all) for an empty section, so
// callers can unconditionally append the result.
func encodeSection(id byte, contents []byte) []byte {
	if len(contents) == 0 {
		return nil
	}
	out := []byte{id}
	out = append(out, encodeLEB128U(uint64(len(contents)))...)
	return append(out, contents...)
}
