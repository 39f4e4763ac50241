// Package compiler implements the single-pass compiler for lox.
//
// There is no AST. The compiler pulls tokens from the scanner and emits
// bytecode into the function being built as it parses, using a Pratt
// (top-down operator precedence) parser for expressions: every token
// type maps to a triple of (prefix rule, infix rule, precedence), and
// parsePrecedence drives dispatch through that table.
//
// Execution pipeline:
//
//	Source Code -> Scanner -> Compiler -> Bytecode -> VM -> Execution
//
// Function compilation nests: each function body is compiled in its own
// context (locals, upvalues, scope depth) linked to the enclosing one,
// and the finished function is emitted into the enclosing sequence as an
// OP_CLOSURE constant. Identifier resolution walks this chain: local
// slots first, then captured upvalues, then globals by name.
//
// Error handling follows panic-mode recovery. The first error in a
// statement is reported; subsequent ones are suppressed until the parser
// synchronizes at a statement boundary. Any error discards the compiled
// function.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/memory"
	"github.com/kristofer/lox/pkg/scanner"
)

// DumpCode disassembles each function to the error writer as it finishes
// compiling, when no compile error has been reported up to that point.
var DumpCode = false

// Precedence levels, lowest to highest. parsePrecedence(p) consumes
// everything at level p or tighter.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // ()
	PrecPrimary
)

// FunctionType distinguishes a user function body from the implicit
// top-level script function.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeScript
)

// maxLocals bounds the locals simultaneously in scope per function,
// including the reserved slot 0; operands index them with one byte.
const maxLocals = 256

// maxUpvalues bounds the variables a single function can capture.
const maxUpvalues = 256

type parseFn func(canAssign bool)

// parseRule is one row of the Pratt table: how a token parses at the
// start of an expression, how it parses as an operator, and how tightly
// that operator binds.
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// local is a variable slot in the current function. depth is the scope
// depth it was declared at, or -1 between declaration and the end of its
// initializer; isCaptured marks locals referenced by a nested function,
// which must be closed rather than popped when they leave scope.
type local struct {
	name       scanner.Token
	depth      int
	isCaptured bool
}

// upvalue describes one captured variable: a local slot of the enclosing
// function (isLocal) or an index into the enclosing function's own
// upvalues.
type upvalue struct {
	index   byte
	isLocal bool
}

// funcContext is the per-function compiler state. Contexts form a stack
// through enclosing, mirroring the nesting of function declarations in
// the source.
type funcContext struct {
	enclosing  *funcContext
	function   *bytecode.ObjFunction
	ftype      FunctionType
	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalue
	scopeDepth int
}

// Compiler compiles one source text into a function. It is single-use:
// create a new Compiler for each call to Compile.
type Compiler struct {
	heap *memory.Heap
	sc   *scanner.Scanner

	current   scanner.Token
	previous  scanner.Token
	hadError  bool
	panicMode bool

	ctx  *funcContext
	errw io.Writer

	rules map[scanner.TokenType]parseRule
}

// New creates a compiler that allocates through the given heap. Error
// reports go to stderr unless redirected with SetErrorWriter.
func New(heap *memory.Heap) *Compiler {
	c := &Compiler{heap: heap, errw: os.Stderr}
	c.rules = map[scanner.TokenType]parseRule{
		scanner.TokenLeftParen:    {c.grouping, c.call, PrecCall},
		scanner.TokenMinus:        {c.unary, c.binary, PrecTerm},
		scanner.TokenPlus:         {nil, c.binary, PrecTerm},
		scanner.TokenSlash:        {nil, c.binary, PrecFactor},
		scanner.TokenStar:         {nil, c.binary, PrecFactor},
		scanner.TokenBang:         {c.unary, nil, PrecNone},
		scanner.TokenBangEqual:    {nil, c.binary, PrecEquality},
		scanner.TokenEqualEqual:   {nil, c.binary, PrecEquality},
		scanner.TokenGreater:      {nil, c.binary, PrecComparison},
		scanner.TokenGreaterEqual: {nil, c.binary, PrecComparison},
		scanner.TokenLess:         {nil, c.binary, PrecComparison},
		scanner.TokenLessEqual:    {nil, c.binary, PrecComparison},
		scanner.TokenIdentifier:   {c.variable, nil, PrecNone},
		scanner.TokenString:       {c.stringLiteral, nil, PrecNone},
		scanner.TokenNumber:       {c.number, nil, PrecNone},
		scanner.TokenAnd:          {nil, c.and, PrecAnd},
		scanner.TokenOr:           {nil, c.or, PrecOr},
		scanner.TokenFalse:        {c.literal, nil, PrecNone},
		scanner.TokenNil:          {c.literal, nil, PrecNone},
		scanner.TokenTrue:         {c.literal, nil, PrecNone},
	}
	return c
}

// SetErrorWriter redirects compile error reports, mainly for tests.
func (c *Compiler) SetErrorWriter(w io.Writer) { c.errw = w }

// rule returns the Pratt table row for a token type. Tokens without an
// entry have no expression role at all.
func (c *Compiler) rule(tt scanner.TokenType) parseRule {
	return c.rules[tt]
}

// Compile parses and compiles an entire source text into the top-level
// script function. On any compile error the function is discarded and a
// non-nil error returned; the individual diagnostics have already been
// written to the error writer.
func (c *Compiler) Compile(source string) (*bytecode.ObjFunction, error) {
	c.sc = scanner.New(source)

	// The functions being built are reachable from nowhere but this
	// compiler, so they are a GC root until compilation finishes.
	removeRoots := c.heap.AddRootSet(c.markRoots)
	defer removeRoots()

	c.initContext(&funcContext{}, TypeScript)

	c.advance()
	for !c.match(scanner.TokenEOF) {
		c.declaration()
	}
	function := c.endContext()

	if c.hadError {
		return nil, errors.New("compile error")
	}
	return function, nil
}

// markRoots marks every function on the context stack. Called by the
// collector when an allocation mid-compile triggers a collection.
func (c *Compiler) markRoots(h *memory.Heap) {
	for ctx := c.ctx; ctx != nil; ctx = ctx.enclosing {
		if ctx.function != nil {
			h.MarkObject(ctx.function)
		}
	}
}

// initContext pushes a fresh per-function context and reserves stack
// slot 0, which the VM uses for the closure being called. Its name is
// empty so no user identifier can ever resolve to it.
func (c *Compiler) initContext(ctx *funcContext, ftype FunctionType) {
	ctx.enclosing = c.ctx
	ctx.ftype = ftype
	c.ctx = ctx
	ctx.function = c.heap.NewFunction()
	if ftype != TypeScript {
		ctx.function.Name = c.heap.CopyString(c.previous.Lexeme)
	}

	slot := &ctx.locals[ctx.localCount]
	ctx.localCount++
	slot.depth = 0
	slot.isCaptured = false
	slot.name = scanner.Token{Lexeme: ""}
}

// endContext seals the current function with an implicit `return nil`,
// pops the context, and returns the finished function.
func (c *Compiler) endContext() *bytecode.ObjFunction {
	c.emitReturn()
	function := c.ctx.function

	if DumpCode && !c.hadError {
		bytecode.Disassemble(&function.Seq, function.String(), c.errw)
	}

	c.ctx = c.ctx.enclosing
	return function
}

// === Token plumbing ===

// advance moves the window one token forward, reporting and skipping any
// error tokens the scanner produces.
func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.sc.ScanToken()
		if c.current.Type != scanner.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

// consume advances past a required token or reports message.
func (c *Compiler) consume(tt scanner.TokenType, message string) {
	if c.current.Type == tt {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(tt scanner.TokenType) bool {
	return c.current.Type == tt
}

// match consumes the current token if it has the given type.
func (c *Compiler) match(tt scanner.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

// === Error reporting ===

func (c *Compiler) errorAt(token scanner.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	fmt.Fprintf(c.errw, "[line %d] Error", token.Line)
	if token.Type == scanner.TokenEOF {
		fmt.Fprintf(c.errw, " at EOF")
	} else if token.Type != scanner.TokenError {
		fmt.Fprintf(c.errw, " at '%s'", token.Lexeme)
	}
	fmt.Fprintf(c.errw, ": %s\n", message)
	c.hadError = true
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

// synchronize exits panic mode by discarding tokens until a statement
// boundary: just past a semicolon, or just before a keyword that starts
// a new statement. The keyword itself is left as the current token for
// the next declaration to pick up.
func (c *Compiler) synchronize() {
	c.panicMode = false

	for c.current.Type != scanner.TokenEOF {
		if c.previous.Type == scanner.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case scanner.TokenClass, scanner.TokenFun, scanner.TokenVar,
			scanner.TokenFor, scanner.TokenIf, scanner.TokenWhile,
			scanner.TokenPrint, scanner.TokenReturn:
			return
		}
		c.advance()
	}
}

// === Emitters ===

func (c *Compiler) currentSeq() *bytecode.Sequence {
	return &c.ctx.function.Seq
}

func (c *Compiler) emitByte(b byte) {
	c.currentSeq().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.Opcode) {
	c.emitByte(byte(op))
}

func (c *Compiler) emitOps(op1, op2 bytecode.Opcode) {
	c.emitOp(op1)
	c.emitOp(op2)
}

func (c *Compiler) emitOpByte(op bytecode.Opcode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitReturn() {
	c.emitOps(bytecode.OpNil, bytecode.OpReturn)
}

// emitJump emits a forward jump with a placeholder offset and returns
// the offset's position for patchJump to fill in later.
func (c *Compiler) emitJump(op bytecode.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentSeq().Code) - 2
}

// patchJump backfills a forward jump to land on the next instruction to
// be emitted.
func (c *Compiler) patchJump(offset int) {
	// -2 adjusts for the operand bytes themselves.
	jump := len(c.currentSeq().Code) - offset - 2
	if jump > 0xffff {
		c.error("Too much code to jump over")
	}
	c.currentSeq().Code[offset] = byte((jump >> 8) & 0xff)
	c.currentSeq().Code[offset+1] = byte(jump & 0xff)
}

// emitLoop emits a backward jump to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)

	offset := len(c.currentSeq().Code) - loopStart + 2
	if offset > 0xffff {
		c.error("Loop body too large")
	}
	c.emitByte(byte((offset >> 8) & 0xff))
	c.emitByte(byte(offset & 0xff))
}

// makeConstant adds a value to the current constant pool, checking the
// 1-byte index limit.
func (c *Compiler) makeConstant(v bytecode.Value) byte {
	index := c.currentSeq().AddConstant(v)
	if index > 0xff {
		c.error("Too many constants in one byte sequence")
		return 0
	}
	return byte(index)
}

func (c *Compiler) emitConstant(v bytecode.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

// === Scopes and variables ===

func (c *Compiler) beginScope() {
	c.ctx.scopeDepth++
}

// endScope unwinds the locals declared in the scope being left. Captured
// locals are closed into their upvalues; the rest are simply popped.
func (c *Compiler) endScope() {
	ctx := c.ctx
	ctx.scopeDepth--
	for ctx.localCount > 0 && ctx.locals[ctx.localCount-1].depth > ctx.scopeDepth {
		if ctx.locals[ctx.localCount-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		ctx.localCount--
	}
}

// identifierConstant stores an identifier's name string in the constant
// pool for the global get/set/define opcodes.
func (c *Compiler) identifierConstant(name scanner.Token) byte {
	return c.makeConstant(bytecode.ObjValue(c.heap.CopyString(name.Lexeme)))
}

// resolveLocal searches the context's locals back to front so inner
// declarations shadow outer ones. Reading a local inside its own
// initializer (depth still -1) is an error.
func (c *Compiler) resolveLocal(ctx *funcContext, name scanner.Token) int {
	for i := ctx.localCount - 1; i >= 0; i-- {
		l := &ctx.locals[i]
		if l.name.Lexeme == name.Lexeme {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

// addUpvalue records a capture in ctx, deduplicating on (index, isLocal)
// so a function referencing the same outer variable twice shares one
// upvalue slot.
func (c *Compiler) addUpvalue(ctx *funcContext, index byte, isLocal bool) int {
	count := ctx.function.UpvalueCount
	for i := 0; i < count; i++ {
		uv := &ctx.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}

	if count == maxUpvalues {
		c.error("Too many closure variables in a function")
		return 0
	}

	ctx.upvalues[count] = upvalue{index: index, isLocal: isLocal}
	ctx.function.UpvalueCount++
	return count
}

// resolveUpvalue resolves name against the enclosing functions. A hit on
// an enclosing local marks that local captured and records a direct
// capture; a hit further out chains through the intermediate function's
// own upvalues, so every level between the use and the declaration gets
// a slot.
func (c *Compiler) resolveUpvalue(ctx *funcContext, name scanner.Token) int {
	if ctx.enclosing == nil {
		return -1
	}

	if localIdx := c.resolveLocal(ctx.enclosing, name); localIdx != -1 {
		ctx.enclosing.locals[localIdx].isCaptured = true
		return c.addUpvalue(ctx, byte(localIdx), true)
	}

	if upvalueIdx := c.resolveUpvalue(ctx.enclosing, name); upvalueIdx != -1 {
		return c.addUpvalue(ctx, byte(upvalueIdx), false)
	}

	return -1
}

// addLocal declares a new local in the current scope, initially marked
// uninitialized (depth -1) until its initializer finishes.
func (c *Compiler) addLocal(name scanner.Token) {
	ctx := c.ctx
	if ctx.localCount == maxLocals {
		c.error("Too many local variables in function")
		return
	}
	l := &ctx.locals[ctx.localCount]
	ctx.localCount++
	l.name = name
	l.depth = -1
	l.isCaptured = false
}

// declareVariable records a local declaration. Globals are late-bound by
// name and need no declaration; two locals with the same name in the
// same scope are an error.
func (c *Compiler) declareVariable() {
	ctx := c.ctx
	if ctx.scopeDepth == 0 {
		return
	}

	name := c.previous
	for i := ctx.localCount - 1; i >= 0; i-- {
		l := &ctx.locals[i]
		if l.depth != -1 && l.depth < ctx.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			c.error("A variable with this name in this scope already exists")
		}
	}
	c.addLocal(name)
}

// parseVariable consumes an identifier and returns its constant pool
// index when the variable is global, or 0 for locals, which are
// addressed by slot instead.
func (c *Compiler) parseVariable(errorMessage string) byte {
	c.consume(scanner.TokenIdentifier, errorMessage)

	c.declareVariable()
	if c.ctx.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

// markInitialized flips the newest local from declared to usable. At
// global scope there is no local to mark and this is a no-op.
func (c *Compiler) markInitialized() {
	if c.ctx.scopeDepth == 0 {
		return
	}
	c.ctx.locals[c.ctx.localCount-1].depth = c.ctx.scopeDepth
}

// defineVariable emits the definition of the variable parseVariable
// began. Locals are already sitting in their stack slot, so nothing is
// emitted beyond marking them initialized.
func (c *Compiler) defineVariable(global byte) {
	if c.ctx.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

// namedVariable compiles a read of name, or a write when an `=` follows
// and assignment is allowed at this precedence. The get/set opcodes
// depend on where the name resolves: local slot, upvalue, or global.
func (c *Compiler) namedVariable(name scanner.Token, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	var arg int

	if arg = c.resolveLocal(c.ctx, name); arg != -1 {
		getOp = bytecode.OpGetLocal
		setOp = bytecode.OpSetLocal
	} else if arg = c.resolveUpvalue(c.ctx, name); arg != -1 {
		getOp = bytecode.OpGetUpvalue
		setOp = bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp = bytecode.OpGetGlobal
		setOp = bytecode.OpSetGlobal
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

// === Expressions ===

// parsePrecedence parses everything binding at least as tightly as the
// given level. canAssign threads down to the variable rule so `a = b`
// only parses as assignment at assignment precedence; a leftover `=`
// afterwards means the target wasn't assignable.
func (c *Compiler) parsePrecedence(precedence Precedence) {
	c.advance()
	prefix := c.rule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expected expression")
		return
	}

	canAssign := precedence <= PrecAssignment
	prefix(canAssign)

	for precedence <= c.rule(c.current.Type).precedence {
		c.advance()
		infix := c.rule(c.previous.Type).infix
		infix(canAssign)
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.error("Invalid assignment target")
	}
}

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) number(canAssign bool) {
	value, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(bytecode.NumberValue(value))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	lexeme := c.previous.Lexeme
	chars := lexeme[1 : len(lexeme)-1] // strip the surrounding quotes
	c.emitConstant(bytecode.ObjValue(c.heap.CopyString(chars)))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case scanner.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case scanner.TokenNil:
		c.emitOp(bytecode.OpNil)
	case scanner.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(scanner.TokenRightParen, "Expected ')' after expression")
}

func (c *Compiler) unary(canAssign bool) {
	operator := c.previous.Type
	c.parsePrecedence(PrecUnary)

	switch operator {
	case scanner.TokenBang:
		c.emitOp(bytecode.OpNot)
	case scanner.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

// binary compiles the right operand one level tighter than the operator
// so binary operators are left-associative, then emits the operator.
// Three comparisons have no dedicated opcode and compile to a pair:
// != is EQUAL NOT, >= is LESS NOT, <= is GREATER NOT.
func (c *Compiler) binary(canAssign bool) {
	operator := c.previous.Type
	c.parsePrecedence(c.rule(operator).precedence + 1)

	switch operator {
	case scanner.TokenBangEqual:
		c.emitOps(bytecode.OpEqual, bytecode.OpNot)
	case scanner.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case scanner.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case scanner.TokenGreaterEqual:
		c.emitOps(bytecode.OpLess, bytecode.OpNot)
	case scanner.TokenLess:
		c.emitOp(bytecode.OpLess)
	case scanner.TokenLessEqual:
		c.emitOps(bytecode.OpGreater, bytecode.OpNot)
	case scanner.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case scanner.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case scanner.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case scanner.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

// and short-circuits: when the left operand is falsey it stays on the
// stack as the result and the right operand is skipped; otherwise it is
// popped and the right operand becomes the result.
func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

// or mirrors and: a falsey left operand falls through to the right, a
// truthy one jumps over it and remains as the result.
func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)

	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)

	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

// argumentList compiles a call's arguments and returns their count.
func (c *Compiler) argumentList() byte {
	var argCount byte
	if !c.check(scanner.TokenRightParen) {
		for {
			c.expression()
			if argCount == 255 {
				c.error("Can't have more than 255 arguments")
			}
			argCount++
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "Expected ')' after arguments")
	return argCount
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argCount)
}

// === Declarations and statements ===

func (c *Compiler) declaration() {
	if c.match(scanner.TokenFun) {
		c.funDeclaration()
	} else if c.match(scanner.TokenVar) {
		c.varDeclaration()
	} else {
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expected variable name")

	if c.match(scanner.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(scanner.TokenSemicolon, "Expected ';' after variable declaration")

	c.defineVariable(global)
}

// funDeclaration marks the name initialized before compiling the body so
// the function can call itself recursively.
func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expected function name")
	c.markInitialized()
	c.function(TypeFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body in a fresh context, then
// emits OP_CLOSURE with one capture descriptor pair per upvalue into the
// enclosing function. The body's scope is never explicitly ended; the
// frame unwind on return discards its locals wholesale.
func (c *Compiler) function(ftype FunctionType) {
	ctx := &funcContext{}
	c.initContext(ctx, ftype)
	c.beginScope()

	c.consume(scanner.TokenLeftParen, "Expected '(' after function name")
	if !c.check(scanner.TokenRightParen) {
		for {
			c.ctx.function.Arity++
			if c.ctx.function.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters")
			}
			constant := c.parseVariable("Expected parameter name")
			c.defineVariable(constant)
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "Expected ')' after parameters")
	c.consume(scanner.TokenLeftBrace, "Expected '{' before function body")
	c.block()

	function := c.endContext()
	c.emitOpByte(bytecode.OpClosure, c.makeConstant(bytecode.ObjValue(function)))

	for i := 0; i < function.UpvalueCount; i++ {
		if ctx.upvalues[i].isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(ctx.upvalues[i].index)
	}
}

func (c *Compiler) block() {
	for !c.check(scanner.TokenRightBrace) && !c.check(scanner.TokenEOF) {
		c.declaration()
	}
	c.consume(scanner.TokenRightBrace, "Expected '}' after block")
}

func (c *Compiler) statement() {
	switch {
	case c.match(scanner.TokenPrint):
		c.printStatement()
	case c.match(scanner.TokenIf):
		c.ifStatement()
	case c.match(scanner.TokenReturn):
		c.returnStatement()
	case c.match(scanner.TokenWhile):
		c.whileStatement()
	case c.match(scanner.TokenFor):
		c.forStatement()
	case c.match(scanner.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expected ';' after value")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expected ';' after expression")
	c.emitOp(bytecode.OpPop)
}

// ifStatement compiles to two forward jumps. The condition value is left
// on the stack by OP_JUMP_IF_FALSE, so both paths begin with a POP.
func (c *Compiler) ifStatement() {
	c.consume(scanner.TokenLeftParen, "Expected '(' after 'if'")
	c.expression()
	c.consume(scanner.TokenRightParen, "Expected ')' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	elseJump := c.emitJump(bytecode.OpJump)

	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(scanner.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) returnStatement() {
	if c.ctx.ftype == TypeScript {
		c.error("Can't return from top-level code")
	}

	if c.match(scanner.TokenSemicolon) {
		c.emitReturn()
	} else {
		c.expression()
		c.consume(scanner.TokenSemicolon, "Expected ';' after return value")
		c.emitOp(bytecode.OpReturn)
	}
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentSeq().Code)
	c.consume(scanner.TokenLeftParen, "Expected '(' after 'while'")
	c.expression()
	c.consume(scanner.TokenRightParen, "Expected ')' after condition")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

// forStatement desugars `for (init; cond; incr) body`. The increment
// clause appears before the body in the source but runs after it, so it
// compiles as a trampoline: jump over the increment into the body, and
// loop back from the body to the increment, which then loops to the
// condition.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(scanner.TokenLeftParen, "Expected '(' after 'for'")

	if c.match(scanner.TokenSemicolon) {
		// No initializer.
	} else if c.match(scanner.TokenVar) {
		c.varDeclaration()
	} else {
		c.expressionStatement()
	}

	loopStart := len(c.currentSeq().Code)
	exitJump := -1
	if !c.match(scanner.TokenSemicolon) {
		c.expression()
		c.consume(scanner.TokenSemicolon, "Expected ';' after loop condition")

		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(scanner.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.currentSeq().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(scanner.TokenRightParen, "Expected ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}

	c.endScope()
}
