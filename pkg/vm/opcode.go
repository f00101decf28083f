package vm

import "fmt"

// Op is the decoded kind of an instruction. The values of the fixed opcodes
// are their bytes; the two polygon families cover a range of bytes each.
type Op uint8

const (
	OpSetI         Op = 0x00
	OpSet          Op = 0x01
	OpAdd          Op = 0x02
	OpAddI         Op = 0x03
	OpCall         Op = 0x04
	OpReturn       Op = 0x05
	OpYield        Op = 0x06
	OpJump         Op = 0x07
	OpSetVector    Op = 0x08
	OpJumpNotZero  Op = 0x09
	OpCondJump     Op = 0x0a
	OpSetPalette   Op = 0x0b
	OpResetThread  Op = 0x0c
	OpSelectPage   Op = 0x0d
	OpFillPage     Op = 0x0e
	OpCopyPage     Op = 0x0f
	OpBlit         Op = 0x10
	OpKill         Op = 0x11
	OpDrawString   Op = 0x12
	OpSub          Op = 0x13
	OpAnd          Op = 0x14
	OpOr           Op = 0x15
	OpShl          Op = 0x16
	OpShr          Op = 0x17
	OpPlaySound    Op = 0x18
	OpLoadResource Op = 0x19
	OpPlayMusic    Op = 0x1a

	// OpDrawPolygon covers 0x40-0x7f; the low six bits select operand modes.
	OpDrawPolygon Op = 0x40
	// OpDrawPolygonShort covers 0x80-0xff; the low seven bits are the high
	// byte of the polygon offset.
	OpDrawPolygonShort Op = 0x80
)

var opNames = map[Op]string{
	OpSetI:             "seti",
	OpSet:              "set",
	OpAdd:              "add",
	OpAddI:             "addi",
	OpCall:             "call",
	OpReturn:           "return",
	OpYield:            "yield",
	OpJump:             "jump",
	OpSetVector:        "setvec",
	OpJumpNotZero:      "jnz",
	OpCondJump:         "condjump",
	OpSetPalette:       "setpalette",
	OpResetThread:      "resetthread",
	OpSelectPage:       "selectpage",
	OpFillPage:         "fillpage",
	OpCopyPage:         "copypage",
	OpBlit:             "blit",
	OpKill:             "kill",
	OpDrawString:       "drawstring",
	OpSub:              "sub",
	OpAnd:              "and",
	OpOr:               "or",
	OpShl:              "shl",
	OpShr:              "shr",
	OpPlaySound:        "playsound",
	OpLoadResource:     "loadresource",
	OpPlayMusic:        "playmusic",
	OpDrawPolygon:      "polygon",
	OpDrawPolygonShort: "polygon.s",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(0x%02x)", uint8(o))
}

// Decode maps an opcode byte to its Op. It returns false for bytes that are
// not part of the instruction set (0x1b-0x3f).
func Decode(b byte) (Op, bool) {
	switch {
	case b&0x80 != 0:
		return OpDrawPolygonShort, true
	case b&0xc0 == 0x40:
		return OpDrawPolygon, true
	case b <= byte(OpPlayMusic):
		return Op(b), true
	}
	return 0, false
}
