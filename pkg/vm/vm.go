// Package vm implements the bytecode virtual machine for lox.
//
// The VM is a stack-based interpreter and the final stage in the
// execution pipeline:
//
//	Source Code -> Scanner -> Compiler -> Bytecode -> VM -> Execution
//
// Virtual Machine Architecture:
//
// The VM executes one function call per CallFrame. A frame records the
// running closure, an instruction pointer into its function's code, and
// the base slot of its window into the shared value stack. Slot 0 of
// every window holds the closure being called; arguments and locals
// follow. Frames are a fixed-size array, so deep recursion fails cleanly
// with a stack overflow error rather than exhausting host memory.
//
// Example execution:
//
//	Source: print 1 + 2;
//
//	Execution trace (slot 0 holds the script's own closure):
//	  CONSTANT 0   -> stack=[<script>,1]
//	  CONSTANT 1   -> stack=[<script>,1,2]
//	  ADD          -> stack=[<script>,3]
//	  PRINT        -> writes "3\n", stack=[<script>]
//
// The VM owns the global variable table, the head of the open-upvalue
// list, and the heap that every object is allocated from. It registers
// itself as a GC root set: the value stack, the frames' closures, the
// open upvalues and the globals keep objects alive across collections.
//
// Error Handling:
//
// Runtime errors (type mismatches, undefined globals, bad calls, arity
// mismatches, frame exhaustion) print the message and a call-stack
// trace, innermost frame first, then reset the machine and return
// InterpretRuntimeError.
package vm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/compiler"
	"github.com/kristofer/lox/pkg/memory"
)

// Trace writes the value stack and the disassembled instruction to the
// error writer before each dispatch.
var Trace = false

// FramesMax is the call depth limit.
const FramesMax = 64

// StackMax sizes the value stack: every frame can address 256 slots.
const StackMax = FramesMax * 256

// InterpretResult is the outcome of one Interpret call.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one function invocation: the closure being run, the
// instruction pointer into its code, and the base of its stack window.
type CallFrame struct {
	closure *bytecode.ObjClosure
	ip      int
	slots   int
}

// VM is the lox virtual machine. It is reusable: Interpret may be called
// repeatedly (the REPL does), and globals persist across calls.
type VM struct {
	heap *memory.Heap

	frames     [FramesMax]CallFrame
	frameCount int

	stack    [StackMax]bytecode.Value
	stackTop int

	globals      bytecode.Table
	openUpvalues *bytecode.ObjUpvalue

	stdout io.Writer
	stderr io.Writer
	start  time.Time
}

// New creates a machine with a fresh heap and the built-in natives
// defined. Output defaults to stdout/stderr.
func New() *VM {
	vm := &VM{
		heap:   memory.NewHeap(),
		stdout: os.Stdout,
		stderr: os.Stderr,
		start:  time.Now(),
	}
	vm.heap.AddRootSet(vm.markRoots)
	vm.defineNative("clock", vm.clockNative)
	return vm
}

// SetOutput redirects program output (the print statement).
func (vm *VM) SetOutput(w io.Writer) { vm.stdout = w }

// SetErrorOutput redirects diagnostics: compile errors, runtime errors
// and stack traces.
func (vm *VM) SetErrorOutput(w io.Writer) { vm.stderr = w }

// Heap exposes the machine's heap, for tests and tooling.
func (vm *VM) Heap() *memory.Heap { return vm.heap }

// Interpret compiles and runs one source text. The compiled script
// function is wrapped in a closure and called with zero arguments.
func (vm *VM) Interpret(source string) InterpretResult {
	c := compiler.New(vm.heap)
	c.SetErrorWriter(vm.stderr)
	function, err := c.Compile(source)
	if err != nil {
		return InterpretCompileError
	}

	// Keep the function rooted while the closure is allocated.
	vm.push(bytecode.ObjValue(function))
	closure := vm.heap.NewClosure(function)
	vm.pop()
	vm.push(bytecode.ObjValue(closure))
	vm.call(closure, 0)

	return vm.run()
}

// === Stack primitives ===

func (vm *VM) push(v bytecode.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() bytecode.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

// peek returns the value distance slots down from the top without
// popping it.
func (vm *VM) peek(distance int) bytecode.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// === GC roots ===

// markRoots marks everything the machine can reach directly: the live
// region of the value stack, each frame's closure, the open upvalues,
// and the global table. The intern set is deliberately absent; its
// references are weak.
func (vm *VM) markRoots(h *memory.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for upvalue := vm.openUpvalues; upvalue != nil; upvalue = upvalue.NextOpen {
		h.MarkObject(upvalue)
	}
	h.MarkTable(&vm.globals)
}

// === Errors ===

// runtimeError reports a runtime error: the message, then one trace line
// per live frame from innermost to outermost, with the source line
// recovered from the instruction just executed. The machine is reset
// afterwards.
func (vm *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(vm.stderr, format+"\n", args...)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		function := frame.closure.Function
		line := function.Seq.Lines[frame.ip-1]
		if function.Name == nil {
			fmt.Fprintf(vm.stderr, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.stderr, "[line %d] in %s()\n", line, function.Name.Chars)
		}
	}

	vm.resetStack()
}

// === Calls ===

// callValue dispatches a call on the callee's kind. Closures get a new
// frame; natives run directly against the argument slots and replace
// callee and arguments with their result.
func (vm *VM) callValue(callee bytecode.Value, argCount int) bool {
	if callee.IsObj() {
		switch callee := callee.AsObj().(type) {
		case *bytecode.ObjClosure:
			return vm.call(callee, argCount)
		case *bytecode.ObjNative:
			result := callee.Function(vm.stack[vm.stackTop-argCount : vm.stackTop])
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true
		}
	}
	vm.runtimeError("Can only call functions")
	return false
}

// call pushes a frame for a closure. The frame's window starts at the
// callee itself, so the arguments already sit in their parameter slots.
func (vm *VM) call(closure *bytecode.ObjClosure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d", closure.Function.Arity, argCount)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow")
		return false
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return true
}

// === Upvalues ===

// captureUpvalue returns the open upvalue for a stack slot, creating and
// splicing in a new one when none exists. The open list is kept sorted
// by strictly descending slot, so the walk can stop as soon as it passes
// the target: two closures over the same variable share one upvalue.
func (vm *VM) captureUpvalue(slot int) *bytecode.ObjUpvalue {
	var prev *bytecode.ObjUpvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot > slot {
		prev = upvalue
		upvalue = upvalue.NextOpen
	}
	if upvalue != nil && upvalue.Slot == slot {
		return upvalue
	}

	created := vm.heap.NewUpvalue(slot)
	created.NextOpen = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot:
// the stack value moves into the upvalue, which owns it from then on.
// Called when a captured local leaves scope and when a frame returns.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.stack[upvalue.Slot]
		upvalue.IsClosed = true
		vm.openUpvalues = upvalue.NextOpen
		upvalue.NextOpen = nil
	}
}

// === Natives ===

// defineNative binds a built-in function as a global. Both the name
// string and the native object are pushed onto the stack across the
// allocations so a collection triggered between them cannot free either.
func (vm *VM) defineNative(name string, fn bytecode.NativeFn) {
	vm.push(bytecode.ObjValue(vm.heap.CopyString(name)))
	vm.push(bytecode.ObjValue(vm.heap.NewNative(fn)))
	vm.globals.Set(vm.stack[0].AsString(), vm.stack[1])
	vm.pop()
	vm.pop()
}

// clockNative returns seconds since the machine was created.
func (vm *VM) clockNative(args []bytecode.Value) bytecode.Value {
	return bytecode.NumberValue(time.Since(vm.start).Seconds())
}

// === Dispatch loop ===

// run is the dispatch loop: fetch one opcode byte, decode its operands,
// execute, repeat. frame caches the innermost call frame and is
// refreshed whenever a call or return changes it.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Seq.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := int(readByte())
		return hi<<8 | int(readByte())
	}
	readConstant := func() bytecode.Value {
		return frame.closure.Function.Seq.Constants[readByte()]
	}
	readString := func() *bytecode.ObjString {
		return readConstant().AsString()
	}

	// binaryNumOp pops two numbers and pushes the result of op, or
	// raises the type mismatch error.
	binaryNumOp := func(op func(a, b float64) bytecode.Value) bool {
		if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
			vm.runtimeError("Operands must be numbers")
			return false
		}
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(op(a, b))
		return true
	}

	for {
		if Trace {
			fmt.Fprintf(vm.stderr, "          ")
			for i := 0; i < vm.stackTop; i++ {
				fmt.Fprintf(vm.stderr, "[ %s ]", vm.stack[i])
			}
			fmt.Fprintf(vm.stderr, "\n")
			bytecode.DisassembleInstruction(&frame.closure.Function.Seq, frame.ip, vm.stderr)
		}

		switch op := bytecode.Opcode(readByte()); op {
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(bytecode.NilValue())
		case bytecode.OpTrue:
			vm.push(bytecode.BoolValue(true))
		case bytecode.OpFalse:
			vm.push(bytecode.BoolValue(false))

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := readByte()
			vm.push(vm.stack[frame.slots+int(slot)])

		case bytecode.OpSetLocal:
			slot := readByte()
			vm.stack[frame.slots+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'", name.Chars)
				return InterpretRuntimeError
			}
			vm.push(value)

		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				// The failed probe inserted the key; take it back out so
				// the miss leaves no binding behind.
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'", name.Chars)
				return InterpretRuntimeError
			}

		case bytecode.OpGetUpvalue:
			slot := readByte()
			upvalue := frame.closure.Upvalues[slot]
			if upvalue.IsClosed {
				vm.push(upvalue.Closed)
			} else {
				vm.push(vm.stack[upvalue.Slot])
			}

		case bytecode.OpSetUpvalue:
			slot := readByte()
			upvalue := frame.closure.Upvalues[slot]
			if upvalue.IsClosed {
				upvalue.Closed = vm.peek(0)
			} else {
				vm.stack[upvalue.Slot] = vm.peek(0)
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(bytecode.BoolValue(bytecode.ValuesEqual(a, b)))

		case bytecode.OpGreater:
			if !binaryNumOp(func(a, b float64) bytecode.Value { return bytecode.BoolValue(a > b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpLess:
			if !binaryNumOp(func(a, b float64) bytecode.Value { return bytecode.BoolValue(a < b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpAdd:
			switch {
			case vm.peek(0).IsString() && vm.peek(1).IsString():
				// Operands stay on the stack across the allocation so
				// the collector cannot free them mid-concatenation.
				b := vm.peek(0).AsString()
				a := vm.peek(1).AsString()
				result := vm.heap.CopyString(a.Chars + b.Chars)
				vm.pop()
				vm.pop()
				vm.push(bytecode.ObjValue(result))
			case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(bytecode.NumberValue(a + b))
			default:
				vm.runtimeError("Operands must be two numbers or strings")
				return InterpretRuntimeError
			}

		case bytecode.OpSubtract:
			if !binaryNumOp(func(a, b float64) bytecode.Value { return bytecode.NumberValue(a - b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpMultiply:
			if !binaryNumOp(func(a, b float64) bytecode.Value { return bytecode.NumberValue(a * b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpDivide:
			if !binaryNumOp(func(a, b float64) bytecode.Value { return bytecode.NumberValue(a / b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpNot:
			vm.push(bytecode.BoolValue(vm.pop().IsFalsey()))

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number")
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberValue(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintf(vm.stdout, "%s\n", vm.pop())

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += offset

		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= offset

		case bytecode.OpCall:
			argCount := int(readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			function := readConstant().AsObj().(*bytecode.ObjFunction)
			closure := vm.heap.NewClosure(function)
			vm.push(bytecode.ObjValue(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := readByte()
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}

			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		default:
			vm.runtimeError("Unknown opcode %d", op)
			return InterpretRuntimeError
		}
	}
}
