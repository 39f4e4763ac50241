package bytecode

import (
	"fmt"
	"io"
)

// Disassemble writes a human-readable listing of an entire sequence,
// preceded by a header line. It backs the compiler's DumpCode listing;
// the VM's execution tracer uses DisassembleInstruction instead.
//
// Example output:
//
//	== <script> ==
//	0000    1 OP_CONSTANT         0 '1'
//	0002    | OP_PRINT
//	0003    2 OP_NIL
//	0004    | OP_RETURN
func Disassemble(seq *Sequence, name string, w io.Writer) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(seq.Code); {
		offset = DisassembleInstruction(seq, offset, w)
	}
}

// DisassembleInstruction writes one instruction at the given byte offset
// and returns the offset of the next instruction. The line column prints
// "|" when the instruction is on the same source line as its predecessor.
func DisassembleInstruction(seq *Sequence, offset int, w io.Writer) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && seq.Lines[offset] == seq.Lines[offset-1] {
		fmt.Fprintf(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", seq.Lines[offset])
	}

	op := Opcode(seq.Code[offset])
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal:
		return constantInstruction(op, seq, offset, w)
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return byteInstruction(op, seq, offset, w)
	case OpJump, OpJumpIfFalse:
		return jumpInstruction(op, 1, seq, offset, w)
	case OpLoop:
		return jumpInstruction(op, -1, seq, offset, w)
	case OpClosure:
		return closureInstruction(seq, offset, w)
	case OpNil, OpTrue, OpFalse, OpPop, OpEqual, OpGreater, OpLess,
		OpAdd, OpSubtract, OpMultiply, OpDivide, OpNot, OpNegate,
		OpPrint, OpCloseUpvalue, OpReturn:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	default:
		fmt.Fprintf(w, "Unknown opcode %d\n", seq.Code[offset])
		return offset + 1
	}
}

func constantInstruction(op Opcode, seq *Sequence, offset int, w io.Writer) int {
	constant := seq.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, constant, seq.Constants[constant])
	return offset + 2
}

func byteInstruction(op Opcode, seq *Sequence, offset int, w io.Writer) int {
	slot := seq.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(op Opcode, sign int, seq *Sequence, offset int, w io.Writer) int {
	jump := int(seq.Code[offset+1])<<8 | int(seq.Code[offset+2])
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

// closureInstruction prints the wrapped function followed by one line per
// captured variable, showing whether each capture is a local of the
// enclosing function or one of its upvalues.
func closureInstruction(seq *Sequence, offset int, w io.Writer) int {
	offset++
	constant := seq.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d %s\n", OpClosure, constant, seq.Constants[constant])

	function := seq.Constants[constant].AsObj().(*ObjFunction)
	for i := 0; i < function.UpvalueCount; i++ {
		isLocal := seq.Code[offset]
		index := seq.Code[offset+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}
