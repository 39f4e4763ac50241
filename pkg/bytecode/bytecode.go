// Package bytecode defines the instruction format, the runtime value
// representation, and the object model for lox.
//
// The bytecode is the low-level representation the lox virtual machine
// executes. A compiled function owns a Sequence: a flat byte array of
// instructions, a parallel table of source line numbers, and a constant
// pool of literal Values.
//
// Architecture:
//
// The instruction set is stack-based. Instructions are a single opcode
// byte followed by zero or more inline operand bytes:
//   1. Values are pushed onto and popped from a runtime stack
//   2. Operations consume values from the stack and push results back
//   3. Locals live in stack slots; globals live in a hash table
//   4. Jumps carry 16-bit unsigned offsets, constants 8-bit pool indices
//
// Example compilation:
//
//   Source:  print 1 + 2;
//
//   Bytecode:
//     CONSTANT 0      ; push constants[0] = 1
//     CONSTANT 1      ; push constants[1] = 2
//     ADD             ; pop both, push 3
//     PRINT           ; pop and write
//     NIL
//     RETURN          ; implicit end of script
//
//   Constants: [1, 2]
package bytecode

// Opcode represents a bytecode instruction operation.
//
// Opcodes are single bytes, making them compact and fast to decode. Any
// operands follow inline in the code array.
type Opcode byte

// Bytecode instruction opcodes.
//
// These are organized by category for clarity:
const (
	// === Constants and literals ===

	// OpConstant loads a constant from the constant pool onto the stack.
	// Operand: 1 byte, index into the constant pool.
	OpConstant Opcode = iota

	// OpNil, OpTrue and OpFalse push the corresponding literal. Dedicated
	// opcodes keep these common literals out of the constant pool.
	OpNil
	OpTrue
	OpFalse

	// === Stack operations ===

	// OpPop removes the top value from the stack. Used to discard the
	// result of an expression statement.
	OpPop

	// === Variable operations ===

	// OpGetLocal pushes the value of a local variable.
	// Operand: 1 byte, stack slot relative to the frame base.
	OpGetLocal

	// OpSetLocal stores the top of the stack into a local slot. The value
	// stays on the stack because assignment is an expression.
	// Operand: 1 byte, stack slot relative to the frame base.
	OpSetLocal

	// OpGetGlobal pushes the value of a global variable, or raises a
	// runtime error if it is not defined.
	// Operand: 1 byte, constant pool index of the name string.
	OpGetGlobal

	// OpDefineGlobal pops the top of the stack into a global binding,
	// creating or overwriting it.
	// Operand: 1 byte, constant pool index of the name string.
	OpDefineGlobal

	// OpSetGlobal stores the top of the stack into an existing global
	// binding. Assigning to an undefined global is a runtime error. The
	// value stays on the stack.
	// Operand: 1 byte, constant pool index of the name string.
	OpSetGlobal

	// OpGetUpvalue and OpSetUpvalue read or write a captured variable
	// through the current closure.
	// Operand: 1 byte, index into the closure's upvalue array.
	OpGetUpvalue
	OpSetUpvalue

	// === Comparison and arithmetic ===

	// OpEqual pops two values and pushes their equality as a boolean.
	// Any pair of values may be compared.
	OpEqual

	// OpGreater and OpLess pop two numbers and push a boolean. Non-number
	// operands raise a runtime error. The remaining comparison operators
	// are compiled as a pair: a <= b becomes GREATER NOT.
	OpGreater
	OpLess

	// OpAdd pops two operands and pushes their sum: two numbers add, two
	// strings concatenate into a new interned string, anything else is a
	// runtime error.
	OpAdd

	// OpSubtract, OpMultiply and OpDivide are number-only.
	OpSubtract
	OpMultiply
	OpDivide

	// OpNot replaces the top of the stack with its logical negation
	// under lox falsiness: nil and false are falsey, all else is truthy.
	OpNot

	// OpNegate numerically negates the top of the stack.
	OpNegate

	// === Statements ===

	// OpPrint pops the top of the stack and writes its canonical form
	// followed by a newline.
	OpPrint

	// === Control flow ===

	// OpJump skips forward unconditionally.
	// Operand: 2 bytes, big-endian unsigned offset.
	OpJump

	// OpJumpIfFalse skips forward when the top of the stack is falsey.
	// The condition value is not popped; the compiler emits explicit POPs
	// on both paths.
	// Operand: 2 bytes, big-endian unsigned offset.
	OpJumpIfFalse

	// OpLoop jumps backward, to the top of a loop.
	// Operand: 2 bytes, big-endian unsigned offset.
	OpLoop

	// === Functions and closures ===

	// OpCall invokes the callee found beneath the arguments.
	// Operand: 1 byte, argument count.
	//
	// Stack before: [callee, arg1, ..., argN]
	// Stack after:  [result]
	OpCall

	// OpClosure wraps a compiled function in a closure and captures its
	// upvalues.
	// Operands: 1 byte constant pool index of the function, then one
	// (isLocal, index) byte pair per upvalue.
	OpClosure

	// OpCloseUpvalue hoists the local in the top stack slot into its
	// upvalue and pops it. Emitted when a captured local goes out of
	// scope.
	OpCloseUpvalue

	// OpReturn exits the current function, leaving the return value for
	// the caller. Returning from the top-level script halts the machine.
	OpReturn
)

// String returns the disassembler's name for the opcode.
func (op Opcode) String() string {
	names := [...]string{
		OpConstant:     "OP_CONSTANT",
		OpNil:          "OP_NIL",
		OpTrue:         "OP_TRUE",
		OpFalse:        "OP_FALSE",
		OpPop:          "OP_POP",
		OpGetLocal:     "OP_GET_LOCAL",
		OpSetLocal:     "OP_SET_LOCAL",
		OpGetGlobal:    "OP_GET_GLOBAL",
		OpDefineGlobal: "OP_DEFINE_GLOBAL",
		OpSetGlobal:    "OP_SET_GLOBAL",
		OpGetUpvalue:   "OP_GET_UPVALUE",
		OpSetUpvalue:   "OP_SET_UPVALUE",
		OpEqual:        "OP_EQUAL",
		OpGreater:      "OP_GREATER",
		OpLess:         "OP_LESS",
		OpAdd:          "OP_ADD",
		OpSubtract:     "OP_SUBTRACT",
		OpMultiply:     "OP_MULTIPLY",
		OpDivide:       "OP_DIVIDE",
		OpNot:          "OP_NOT",
		OpNegate:       "OP_NEGATE",
		OpPrint:        "OP_PRINT",
		OpJump:         "OP_JUMP",
		OpJumpIfFalse:  "OP_JUMP_IF_FALSE",
		OpLoop:         "OP_LOOP",
		OpCall:         "OP_CALL",
		OpClosure:      "OP_CLOSURE",
		OpCloseUpvalue: "OP_CLOSE_UPVALUE",
		OpReturn:       "OP_RETURN",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "OP_UNKNOWN"
}

// Sequence is a growable instruction stream: the code bytes, a parallel
// array of 1-based source lines (Lines[i] is the line of Code[i]), and
// the constant pool the instructions index into.
type Sequence struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// Write appends one byte of code attributed to the given source line.
func (s *Sequence) Write(b byte, line int) {
	s.Code = append(s.Code, b)
	s.Lines = append(s.Lines, line)
}

// AddConstant appends a value to the constant pool and returns its index.
// The compiler checks the 1-byte index limit and reports "Too many
// constants in one byte sequence" past 256.
func (s *Sequence) AddConstant(v Value) int {
	s.Constants = append(s.Constants, v)
	return len(s.Constants) - 1
}
