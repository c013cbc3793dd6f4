package vm

// Opcode is a single bytecode instruction. The full byte range is the
// dispatch space seen by opcode handlers, even though only the opcodes
// below are defined.
type Opcode byte

const (
	OpNop   Opcode = iota
	OpConst        // u16 constant index
	OpLoad         // u8 local slot
	OpStore        // u8 local slot
	OpAdd
	OpSub
	OpMul
	OpLt
	OpEq
	OpJmp  // u16 target offset
	OpJz   // u16 target offset
	OpCall // u16 function index, u8 argument count
	OpRet
	OpPrint
	OpPop
	OpDup
	OpHalt
	OpStmt // statement boundary
)

type opInfo struct {
	name  string
	width int
}

var opTable = [...]opInfo{
	OpNop:   {"nop", 1},
	OpConst: {"const", 3},
	OpLoad:  {"load", 2},
	OpStore: {"store", 2},
	OpAdd:   {"add", 1},
	OpSub:   {"sub", 1},
	OpMul:   {"mul", 1},
	OpLt:    {"lt", 1},
	OpEq:    {"eq", 1},
	OpJmp:   {"jmp", 3},
	OpJz:    {"jz", 3},
	OpCall:  {"call", 4},
	OpRet:   {"ret", 1},
	OpPrint: {"print", 1},
	OpPop:   {"pop", 1},
	OpDup:   {"dup", 1},
	OpHalt:  {"halt", 1},
	OpStmt:  {"stmt", 1},
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opTable))
	for op, info := range opTable {
		m[info.name] = Opcode(op)
	}
	return m
}()

func (op Opcode) valid() bool {
	return int(op) < len(opTable)
}

func (op Opcode) String() string {
	if !op.valid() {
		return "illegal"
	}
	return opTable[op].name
}

// Width returns the encoded size of the instruction including operands.
func (op Opcode) Width() int {
	if !op.valid() {
		return 1
	}
	return opTable[op].width
}

// LookupOpcode resolves an assembler mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}
