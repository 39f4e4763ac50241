package bytecode

import "fmt"

// ValueType discriminates the variants of a Value.
type ValueType int

const (
	ValBool ValueType = iota
	ValNil
	ValNumber
	ValObj
)

// Value is the uniform runtime representation: a tagged sum of boolean,
// nil, IEEE-754 double, and heap object reference.
//
// The C lineage of this design also supports a NaN-boxed 64-bit encoding.
// That variant is not expressible here: packing an object reference into
// the payload bits of a quiet NaN would hide it from the host runtime's
// reachability analysis. The two encodings only ever had to agree on
// observable equality semantics, which the tagged form provides.
type Value struct {
	Type    ValueType
	boolean bool
	number  float64
	obj     Obj
}

// Constructors for each variant.

func BoolValue(b bool) Value    { return Value{Type: ValBool, boolean: b} }
func NilValue() Value           { return Value{Type: ValNil} }
func NumberValue(n float64) Value { return Value{Type: ValNumber, number: n} }
func ObjValue(o Obj) Value      { return Value{Type: ValObj, obj: o} }

// Type predicates.

func (v Value) IsBool() bool   { return v.Type == ValBool }
func (v Value) IsNil() bool    { return v.Type == ValNil }
func (v Value) IsNumber() bool { return v.Type == ValNumber }
func (v Value) IsObj() bool    { return v.Type == ValObj }

// IsString reports whether v is a heap-allocated string.
func (v Value) IsString() bool {
	if !v.IsObj() {
		return false
	}
	_, ok := v.obj.(*ObjString)
	return ok
}

// Accessors. Each is only meaningful when the corresponding predicate
// holds; the VM type-checks before unwrapping.

func (v Value) AsBool() bool      { return v.boolean }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsObj() Obj        { return v.obj }

// AsString unwraps a string object. It panics on other variants, which
// the VM's type checks make unreachable.
func (v Value) AsString() *ObjString { return v.obj.(*ObjString) }

// IsFalsey implements lox truthiness: nil and false are falsey, every
// other value, including 0 and "", is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// ValuesEqual compares two values under lox equality: numbers by double
// equality (so NaN != NaN), nil equals nil, booleans by value, and
// objects by identity. Strings are interned, so identity comparison is
// structural comparison.
func ValuesEqual(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case ValBool:
		return a.boolean == b.boolean
	case ValNil:
		return true
	case ValNumber:
		return a.number == b.number
	case ValObj:
		return a.obj == b.obj
	default:
		return false
	}
}

// String renders the value's canonical printed form: numbers via %g,
// booleans as true/false, nil as nil, and objects via their own printer.
func (v Value) String() string {
	switch v.Type {
	case ValBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case ValNil:
		return "nil"
	case ValNumber:
		return fmt.Sprintf("%g", v.number)
	case ValObj:
		return v.obj.String()
	default:
		return "unknown"
	}
}
