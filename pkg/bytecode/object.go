package bytecode

import "fmt"

// Obj is the interface satisfied by every heap-allocated lox object.
// Each object embeds ObjHeader, and Header exposes it to the memory
// manager for mark bookkeeping and the intrusive all-objects list.
type Obj interface {
	Header() *ObjHeader
	String() string
}

// ObjHeader is the common prefix of every heap object: the mark flag used
// by the collector and the link in the heap's singly-linked list of all
// live objects, which the sweep phase walks.
type ObjHeader struct {
	marked bool
	size   int
	next   Obj
}

// Header returns the object's header. Embedding ObjHeader gives every
// object variant this method, satisfying Obj.
func (h *ObjHeader) Header() *ObjHeader { return h }

// Marked reports whether the object survived the current mark phase.
func (h *ObjHeader) Marked() bool { return h.marked }

// SetMarked flips the mark flag. The collector sets it during marking and
// clears it on survivors during sweep.
func (h *ObjHeader) SetMarked(m bool) { h.marked = m }

// Size returns the footprint charged against the heap when the object
// was allocated. The collector credits the same amount back on free, so
// the byte counter stays balanced.
func (h *ObjHeader) Size() int { return h.size }

// SetSize records the allocation footprint.
func (h *ObjHeader) SetSize(n int) { h.size = n }

// Next returns the following object on the heap's all-objects list.
func (h *ObjHeader) Next() Obj { return h.next }

// SetNext relinks the all-objects list through this object.
func (h *ObjHeader) SetNext(o Obj) { h.next = o }

// ObjString is an immutable string with its FNV-1a hash precomputed for
// table lookups. Strings are interned: creation goes through the heap,
// which returns the existing object when the bytes already exist, so two
// equal strings are always the same object.
type ObjString struct {
	ObjHeader
	Chars string
	Hash  uint32
}

func (s *ObjString) String() string { return s.Chars }

// HashString computes the 32-bit FNV-1a hash of the given bytes.
func HashString(chars string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(chars); i++ {
		hash ^= uint32(chars[i])
		hash *= 16777619
	}
	return hash
}

// ObjFunction is a compiled function: its arity, how many upvalues its
// closures capture, the bytecode it runs, and its name. The top-level
// script compiles to a nameless function.
type ObjFunction struct {
	ObjHeader
	Arity        int
	UpvalueCount int
	Seq          Sequence
	Name         *ObjString
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NativeFn is the signature of a built-in function. Natives receive the
// argument values directly and return a single result.
type NativeFn func(args []Value) Value

// ObjNative wraps a built-in function so it can live in a variable and be
// called like any lox function.
type ObjNative struct {
	ObjHeader
	Function NativeFn
}

func (n *ObjNative) String() string { return "<native fn>" }

// ObjClosure pairs a function with the captured variables it closes over.
// Every function is wrapped in a closure before it is called, even when
// it captures nothing; the VM then only ever dispatches on closures.
type ObjClosure struct {
	ObjHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) String() string { return c.Function.String() }

// ObjUpvalue is a captured variable. While the variable's stack slot is
// still live the upvalue is "open": Slot indexes the VM value stack and
// reads and writes go through it. When the slot is about to be unwound
// the VM closes the upvalue: the value moves into Closed and the upvalue
// owns it from then on.
//
// Open upvalues are threaded through NextOpen on a list the VM keeps
// sorted by strictly descending Slot.
type ObjUpvalue struct {
	ObjHeader
	Slot     int
	Closed   Value
	IsClosed bool
	NextOpen *ObjUpvalue
}

func (u *ObjUpvalue) String() string { return "upvalue" }
