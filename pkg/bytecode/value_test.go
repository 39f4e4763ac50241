package bytecode

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"numbers equal", NumberValue(1.5), NumberValue(1.5), true},
		{"numbers unequal", NumberValue(1), NumberValue(2), false},
		{"nan is not equal to itself", NumberValue(math.NaN()), NumberValue(math.NaN()), false},
		{"nil equals nil", NilValue(), NilValue(), true},
		{"bools equal", BoolValue(true), BoolValue(true), true},
		{"bools unequal", BoolValue(true), BoolValue(false), false},
		{"cross type", NumberValue(0), BoolValue(false), false},
		{"nil vs false", NilValue(), BoolValue(false), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValuesEqual(tc.a, tc.b))
		})
	}
}

func TestObjectEqualityIsIdentity(t *testing.T) {
	a := &ObjString{Chars: "abc", Hash: HashString("abc")}
	b := &ObjString{Chars: "abc", Hash: HashString("abc")}
	assert.True(t, ValuesEqual(ObjValue(a), ObjValue(a)))
	// Identical bytes but distinct objects: unequal. Interning is what
	// makes structurally equal strings identical in practice.
	assert.False(t, ValuesEqual(ObjValue(a), ObjValue(b)))
}

func TestIsFalsey(t *testing.T) {
	assert.True(t, NilValue().IsFalsey())
	assert.True(t, BoolValue(false).IsFalsey())
	assert.False(t, BoolValue(true).IsFalsey())
	assert.False(t, NumberValue(0).IsFalsey())
	assert.False(t, ObjValue(&ObjString{Chars: ""}).IsFalsey())
}

func TestValueString(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{NumberValue(7), "7"},
		{NumberValue(0.5), "0.5"},
		{NumberValue(-1.25), "-1.25"},
		{NumberValue(math.Inf(1)), "+Inf"},
		{BoolValue(true), "true"},
		{BoolValue(false), "false"},
		{NilValue(), "nil"},
		{ObjValue(&ObjString{Chars: "hi"}), "hi"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.value.String())
	}
}

func TestObjectPrintedForms(t *testing.T) {
	script := &ObjFunction{}
	assert.Equal(t, "<script>", script.String())

	named := &ObjFunction{Name: &ObjString{Chars: "fib"}}
	assert.Equal(t, "<fn fib>", named.String())

	native := &ObjNative{}
	assert.Equal(t, "<native fn>", native.String())

	// A closure prints as its underlying function.
	closure := &ObjClosure{Function: named}
	assert.Equal(t, "<fn fib>", closure.String())
}

// Finite numbers round-trip through their printed form.
func TestNumberRoundTrip(t *testing.T) {
	for _, n := range []float64{0, 1, -1, 0.5, 1e9, 3.141592653589793, -123.456} {
		printed := NumberValue(n).String()
		parsed, err := strconv.ParseFloat(printed, 64)
		assert.NoError(t, err)
		assert.True(t, ValuesEqual(NumberValue(n), NumberValue(parsed)), "value %v", n)
	}
}

func TestHashString(t *testing.T) {
	// FNV-1a reference values.
	assert.Equal(t, uint32(2166136261), HashString(""))
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
}

func TestSequenceWrite(t *testing.T) {
	var seq Sequence
	seq.Write(byte(OpConstant), 1)
	seq.Write(0, 1)
	seq.Write(byte(OpReturn), 2)

	assert.Equal(t, []byte{byte(OpConstant), 0, byte(OpReturn)}, seq.Code)
	assert.Equal(t, []int{1, 1, 2}, seq.Lines)
}

func TestSequenceAddConstant(t *testing.T) {
	var seq Sequence
	assert.Equal(t, 0, seq.AddConstant(NumberValue(1)))
	assert.Equal(t, 1, seq.AddConstant(NumberValue(2)))
	assert.Equal(t, 2, len(seq.Constants))
}
