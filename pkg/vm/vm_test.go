package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/lox/pkg/memory"
)

// interpret runs one source text on a fresh machine and returns stdout,
// stderr and the result.
func interpret(t *testing.T, source string) (string, string, InterpretResult) {
	t.Helper()
	machine := New()
	var out, errb strings.Builder
	machine.SetOutput(&out)
	machine.SetErrorOutput(&errb)
	result := machine.Interpret(source)
	return out.String(), errb.String(), result
}

// expectOutput asserts a clean run printing exactly the given lines.
func expectOutput(t *testing.T, source string, lines ...string) {
	t.Helper()
	out, errs, result := interpret(t, source)
	require.Equal(t, InterpretOK, result, "stderr: %s", errs)
	want := ""
	if len(lines) > 0 {
		want = strings.Join(lines, "\n") + "\n"
	}
	assert.Equal(t, want, out)
}

func TestArithmetic(t *testing.T) {
	expectOutput(t, "print 1 + 2 * 3;", "7")
	expectOutput(t, "print (1 + 2) * 3;", "9")
	expectOutput(t, "print 10 - 4 / 2;", "8")
	expectOutput(t, "print -(-3);", "3")
	expectOutput(t, "print 0.5 + 0.25;", "0.75")
}

func TestDivisionByZeroYieldsInfinity(t *testing.T) {
	expectOutput(t, "print 1/0 > 0;", "true")
}

func TestNaNIsNotEqualToItself(t *testing.T) {
	expectOutput(t, "print 0/0 == 0/0;", "false")
	expectOutput(t, "print nil == nil;", "true")
}

func TestStringConcatenation(t *testing.T) {
	expectOutput(t, `var a = "he"; var b = "llo"; print a + b;`, "hello")
}

func TestStringInterning(t *testing.T) {
	expectOutput(t, `print "a" == "a";`, "true")
	// A concatenated string interns to the same object as a literal
	// with the same bytes.
	expectOutput(t, `print "a" + "b" == "ab";`, "true")
}

func TestComparisons(t *testing.T) {
	expectOutput(t, "print 1 < 2; print 2 <= 2; print 3 > 2; print 2 >= 3; print 1 != 2;",
		"true", "true", "true", "false", "true")
}

func TestFalsiness(t *testing.T) {
	expectOutput(t, "print !nil; print !false; print !0; print !\"\";",
		"true", "true", "false", "false")
}

func TestLogicalOperators(t *testing.T) {
	expectOutput(t, "print true and false;", "false")
	expectOutput(t, "print 1 and 2;", "2")
	expectOutput(t, `print nil or "x";`, "x")
	expectOutput(t, "print false or nil;", "nil")
}

func TestShortCircuitSkipsRightOperand(t *testing.T) {
	// The undefined variable on the right is never evaluated.
	expectOutput(t, "print false and missing;", "false")
	expectOutput(t, "print true or missing;", "true")
}

func TestGlobalVariables(t *testing.T) {
	expectOutput(t, "var a = 1; a = a + 1; print a;", "2")
	expectOutput(t, "var a; print a;", "nil")
}

func TestAssignmentIsAnExpression(t *testing.T) {
	expectOutput(t, "var a; var b; a = b = 2; print a; print b;", "2", "2")
}

func TestLocalScoping(t *testing.T) {
	expectOutput(t, `
var a = "global";
{
  var a = "local";
  print a;
}
print a;
`, "local", "global")
}

func TestIfElse(t *testing.T) {
	expectOutput(t, "if (1 < 2) print \"then\"; else print \"else\";", "then")
	expectOutput(t, "if (1 > 2) print \"then\"; else print \"else\";", "else")
	expectOutput(t, "if (false) print \"skipped\";")
}

func TestWhileLoop(t *testing.T) {
	expectOutput(t, "var i = 0; while (i < 3) { print i; i = i + 1; }",
		"0", "1", "2")
}

func TestForLoop(t *testing.T) {
	expectOutput(t, "for (var i = 0; i < 3; i = i + 1) print i;",
		"0", "1", "2")
}

func TestForLoopWithoutCondition(t *testing.T) {
	expectOutput(t, `
fun run() {
  for (var i = 0;; i = i + 1) {
    if (i >= 3) return i;
    print i;
  }
}
print run();
`, "0", "1", "2", "3")
}

func TestFunctions(t *testing.T) {
	expectOutput(t, `
fun greet(name) {
  return "hi " + name;
}
print greet("lox");
`, "hi lox")
}

func TestRecursion(t *testing.T) {
	expectOutput(t, `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
print fib(10);
`, "55")
}

func TestImplicitReturnIsNil(t *testing.T) {
	expectOutput(t, "fun f() {} print f();", "nil")
	expectOutput(t, "fun f() { return; } print f();", "nil")
}

func TestClosureCounter(t *testing.T) {
	expectOutput(t, `
fun mk() {
  var x = 0;
  fun inc() {
    x = x + 1;
    return x;
  }
  return inc;
}
var c = mk();
print c();
print c();
print c();
`, "1", "2", "3")
}

func TestClosuresShareCapturedVariable(t *testing.T) {
	expectOutput(t, `
var globalSet;
var globalGet;
fun main() {
  var a = "initial";
  fun set() { a = "updated"; }
  fun get() { print a; }
  globalSet = set;
  globalGet = get;
}
main();
globalSet();
globalGet();
`, "updated")
}

func TestClosureCapturesVariableNotValue(t *testing.T) {
	expectOutput(t, `
var f;
{
  var x = 1;
  fun g() { print x; }
  f = g;
  x = 2;
}
f();
`, "2")
}

func TestIndependentClosures(t *testing.T) {
	expectOutput(t, `
fun mk() {
  var x = 0;
  fun inc() {
    x = x + 1;
    return x;
  }
  return inc;
}
var a = mk();
var b = mk();
print a();
print a();
print b();
`, "1", "2", "1")
}

func TestPrintedForms(t *testing.T) {
	expectOutput(t, "fun f() {} print f;", "<fn f>")
	expectOutput(t, "print clock;", "<native fn>")
	expectOutput(t, "print true; print false; print nil;", "true", "false", "nil")
}

func TestClockNative(t *testing.T) {
	expectOutput(t, "print clock() >= 0;", "true")
	expectOutput(t, "var t = clock(); print clock() >= t;", "true")
}

func TestGlobalsPersistAcrossInterpretCalls(t *testing.T) {
	machine := New()
	var out strings.Builder
	machine.SetOutput(&out)
	machine.SetErrorOutput(&out)

	require.Equal(t, InterpretOK, machine.Interpret("var a = 40;"))
	require.Equal(t, InterpretOK, machine.Interpret("print a + 2;"))
	assert.Equal(t, "42\n", out.String())
}

// === Runtime errors ===

func TestUndefinedVariable(t *testing.T) {
	out, errs, result := interpret(t, "print a;")
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Empty(t, out)
	assert.Contains(t, errs, "Undefined variable 'a'")
	assert.Contains(t, errs, "[line 1] in script")
}

func TestAssigningUndefinedGlobalDoesNotDefineIt(t *testing.T) {
	machine := New()
	var errb strings.Builder
	machine.SetOutput(&errb)
	machine.SetErrorOutput(&errb)

	require.Equal(t, InterpretRuntimeError, machine.Interpret("x = 1;"))
	// The failed assignment must not leave a binding behind.
	require.Equal(t, InterpretRuntimeError, machine.Interpret("print x;"))
	assert.Equal(t, 2, strings.Count(errb.String(), "Undefined variable 'x'"))
}

func TestAddTypeMismatch(t *testing.T) {
	_, errs, result := interpret(t, `1 + "x";`)
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Operands must be two numbers or strings")
}

func TestComparisonTypeMismatch(t *testing.T) {
	_, errs, result := interpret(t, `print "a" < "b";`)
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Operands must be numbers")
}

func TestNegateTypeMismatch(t *testing.T) {
	_, errs, result := interpret(t, "print -nil;")
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Operand must be a number")
}

func TestCallNonCallable(t *testing.T) {
	_, errs, result := interpret(t, `"notfun"();`)
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Can only call functions")

	_, errs, result = interpret(t, "nil();")
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Can only call functions")
}

func TestArityMismatch(t *testing.T) {
	_, errs, result := interpret(t, "fun f(a) {} f(1, 2);")
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Expected 1 arguments but got 2")

	_, errs, result = interpret(t, "fun f(a, b) {} f(1);")
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Expected 2 arguments but got 1")
}

func TestStackOverflow(t *testing.T) {
	_, errs, result := interpret(t, "fun f() { f(); } f();")
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errs, "Stack overflow")
}

func TestRuntimeErrorStackTrace(t *testing.T) {
	_, errs, result := interpret(t, `fun b() {
  return 1 + nil;
}
fun a() {
  return b();
}
a();`)
	require.Equal(t, InterpretRuntimeError, result)

	// Innermost frame first, script last.
	lines := strings.Split(strings.TrimSpace(errs), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Operands must be two numbers or strings", lines[0])
	assert.Equal(t, "[line 2] in b()", lines[1])
	assert.Equal(t, "[line 5] in a()", lines[2])
	assert.Equal(t, "[line 7] in script", lines[3])
}

func TestCompileErrorResult(t *testing.T) {
	out, errs, result := interpret(t, "return 1;")
	assert.Equal(t, InterpretCompileError, result)
	assert.Empty(t, out)
	assert.Contains(t, errs, "Can't return from top-level code")
}

func TestMachineRecoversAfterRuntimeError(t *testing.T) {
	machine := New()
	var out, errb strings.Builder
	machine.SetOutput(&out)
	machine.SetErrorOutput(&errb)

	require.Equal(t, InterpretRuntimeError, machine.Interpret("print missing;"))
	require.Equal(t, InterpretOK, machine.Interpret("print 1 + 1;"))
	assert.Equal(t, "2\n", out.String())
}

// === GC integration ===

func TestRunUnderGCStress(t *testing.T) {
	memory.StressGC = true
	defer func() { memory.StressGC = false }()

	expectOutput(t, `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
print fib(8);
`, "21")
}

func TestStringBuildingUnderGCStress(t *testing.T) {
	memory.StressGC = true
	defer func() { memory.StressGC = false }()

	expectOutput(t, `
var s = "";
var i = 0;
while (i < 10) {
  s = s + "x";
  i = i + 1;
}
print s;
`, "xxxxxxxxxx")
}

func TestClosuresSurviveCollection(t *testing.T) {
	memory.StressGC = true
	defer func() { memory.StressGC = false }()

	expectOutput(t, `
fun mk() {
  var x = "alive";
  fun get() { return x; }
  return get;
}
var g = mk();
print g();
`, "alive")
}

func TestHeapShrinksAfterCollection(t *testing.T) {
	machine := New()
	var out strings.Builder
	machine.SetOutput(&out)
	machine.SetErrorOutput(&out)

	require.Equal(t, InterpretOK, machine.Interpret(`
var i = 0;
var s = "";
while (i < 100) {
  s = "garbage" + "garbage";
  i = i + 1;
}
`))
	before := machine.Heap().BytesAllocated()
	machine.Heap().Collect()
	assert.LessOrEqual(t, machine.Heap().BytesAllocated(), before)
}
