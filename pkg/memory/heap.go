// Package memory is the allocation chokepoint and garbage collector for
// the lox runtime.
//
// Every heap object (strings, functions, natives, closures, upvalues)
// is created through a Heap. The Heap threads each new object onto a
// single intrusive list, charges its footprint against a byte counter,
// and owns the string intern set. When the counter crosses a threshold
// (or always, under StressGC) the next allocation first runs a full
// tri-color mark-sweep collection:
//
//  1. Mark roots. The Heap knows nothing about the machine executing on
//     top of it, so roots come from registered callbacks: the VM marks
//     its value stack, call frames, open upvalues and globals; the
//     compiler marks the chain of functions it is still building.
//  2. Trace. Gray objects are popped from a worklist and blackened by
//     marking their referents.
//  3. Weak-clear the intern set: unmarked strings are deleted from it
//     before the sweep so interning alone keeps nothing alive.
//  4. Sweep. Unmarked objects are spliced out of the all-objects list
//     and their bytes credited back; survivors have their marks cleared.
//
// The gray worklist is an ordinary slice that grows through the host
// allocator, never through the Heap, so tracing can never re-enter the
// collector.
package memory

import (
	"fmt"
	"io"
	"os"

	"github.com/kristofer/lox/pkg/bytecode"
)

// StressGC forces a collection on every allocation. Useful in tests for
// flushing out objects that are reachable only from unrooted locals.
var StressGC = false

// LogGC writes a line per collection with byte and threshold figures.
var LogGC = false

// nextGCInitial is the byte threshold a fresh heap starts with.
const nextGCInitial = 1024 * 1024

// gcHeapGrowFactor scales the surviving byte count into the next
// collection threshold.
const gcHeapGrowFactor = 2

// Nominal per-object footprints. Variable-length payloads (string bytes)
// are added on top. These drive the collection schedule only; they are
// not byte-exact measurements of the host allocator.
const (
	sizeString   = 40
	sizeFunction = 96
	sizeNative   = 32
	sizeClosure  = 48
	sizeUpvalue  = 56
)

// RootSet is a callback that marks one component's roots by calling
// MarkValue / MarkObject / MarkTable on the heap passed in.
type RootSet func(h *Heap)

type rootEntry struct {
	id int
	fn RootSet
}

// Heap owns every lox object and decides when they die.
type Heap struct {
	objects        bytecode.Obj
	strings        bytecode.Table
	bytesAllocated int
	nextGC         int
	grayStack      []bytecode.Obj
	roots          []rootEntry
	nextRootID     int
	logw           io.Writer
}

// NewHeap creates an empty heap with the initial collection threshold.
func NewHeap() *Heap {
	return &Heap{nextGC: nextGCInitial, logw: os.Stderr}
}

// SetLogWriter redirects LogGC output, mainly for tests.
func (h *Heap) SetLogWriter(w io.Writer) { h.logw = w }

// BytesAllocated returns the live byte estimate.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// NextGC returns the current collection threshold.
func (h *Heap) NextGC() int { return h.nextGC }

// AddRootSet registers a marking callback and returns a function that
// unregisters it. The VM holds its registration for its lifetime; the
// compiler registers for the duration of a compile so that half-built
// functions survive collections triggered mid-parse.
func (h *Heap) AddRootSet(fn RootSet) (remove func()) {
	id := h.nextRootID
	h.nextRootID++
	h.roots = append(h.roots, rootEntry{id: id, fn: fn})
	return func() {
		for i := range h.roots {
			if h.roots[i].id == id {
				h.roots = append(h.roots[:i], h.roots[i+1:]...)
				return
			}
		}
	}
}

// allocate charges size bytes, possibly collecting first, then links the
// new object at the head of the all-objects list. The collection runs
// before the object is linked, so a brand-new object can never be swept
// by the collection its own allocation triggers.
func (h *Heap) allocate(o bytecode.Obj, size int) {
	h.bytesAllocated += size
	if StressGC || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
	o.Header().SetSize(size)
	o.Header().SetNext(h.objects)
	h.objects = o
}

// CopyString interns the given bytes: if an equal string already exists
// it is returned, otherwise a new string object is allocated and added
// to the intern set.
func (h *Heap) CopyString(chars string) *bytecode.ObjString {
	hash := bytecode.HashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	s := &bytecode.ObjString{Chars: chars, Hash: hash}
	h.allocate(s, sizeString+len(chars))
	h.strings.Set(s, bytecode.NilValue())
	return s
}

// NewFunction allocates a blank function object. The compiler fills in
// arity, name and code afterwards, keeping the object rooted through its
// registered root set the whole time.
func (h *Heap) NewFunction() *bytecode.ObjFunction {
	f := &bytecode.ObjFunction{}
	h.allocate(f, sizeFunction)
	return f
}

// NewNative wraps a built-in function in a heap object.
func (h *Heap) NewNative(fn bytecode.NativeFn) *bytecode.ObjNative {
	n := &bytecode.ObjNative{Function: fn}
	h.allocate(n, sizeNative)
	return n
}

// NewClosure allocates a closure over the given function with one nil
// upvalue slot per captured variable; the VM fills the slots while
// executing OP_CLOSURE.
func (h *Heap) NewClosure(f *bytecode.ObjFunction) *bytecode.ObjClosure {
	c := &bytecode.ObjClosure{
		Function: f,
		Upvalues: make([]*bytecode.ObjUpvalue, f.UpvalueCount),
	}
	h.allocate(c, sizeClosure+8*f.UpvalueCount)
	return c
}

// NewUpvalue allocates an open upvalue pointing at a value stack slot.
func (h *Heap) NewUpvalue(slot int) *bytecode.ObjUpvalue {
	u := &bytecode.ObjUpvalue{Slot: slot, Closed: bytecode.NilValue()}
	h.allocate(u, sizeUpvalue)
	return u
}

// MarkValue marks the object behind a value, if any.
func (h *Heap) MarkValue(v bytecode.Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject grays an object. Marking an already-marked object is a
// no-op, which is what terminates tracing over cyclic graphs.
func (h *Heap) MarkObject(o bytecode.Obj) {
	if o == nil || o.Header().Marked() {
		return
	}
	if LogGC {
		fmt.Fprintf(h.logw, "mark %s\n", o)
	}
	o.Header().SetMarked(true)
	h.grayStack = append(h.grayStack, o)
}

// MarkTable marks every key and value in a (strong) table. The intern
// set is never marked this way; its references are weak.
func (h *Heap) MarkTable(t *bytecode.Table) {
	for _, entry := range t.Entries() {
		if entry.Key != nil {
			h.MarkObject(entry.Key)
		}
		h.MarkValue(entry.Value)
	}
}

// blacken marks everything an object refers to.
func (h *Heap) blacken(o bytecode.Obj) {
	switch o := o.(type) {
	case *bytecode.ObjClosure:
		h.MarkObject(o.Function)
		for _, upvalue := range o.Upvalues {
			if upvalue != nil {
				h.MarkObject(upvalue)
			}
		}
	case *bytecode.ObjFunction:
		if o.Name != nil {
			h.MarkObject(o.Name)
		}
		for _, constant := range o.Seq.Constants {
			h.MarkValue(constant)
		}
	case *bytecode.ObjUpvalue:
		h.MarkValue(o.Closed)
	case *bytecode.ObjString, *bytecode.ObjNative:
		// No outgoing edges.
	}
}

func (h *Heap) traceReferences() {
	for len(h.grayStack) > 0 {
		o := h.grayStack[len(h.grayStack)-1]
		h.grayStack = h.grayStack[:len(h.grayStack)-1]
		h.blacken(o)
	}
}

// sweep walks the all-objects list, splicing out and crediting every
// unmarked object and clearing the mark on every survivor.
func (h *Heap) sweep() int {
	freed := 0
	var previous bytecode.Obj
	object := h.objects
	for object != nil {
		header := object.Header()
		if header.Marked() {
			header.SetMarked(false)
			previous = object
			object = header.Next()
			continue
		}

		unreached := object
		object = header.Next()
		if previous == nil {
			h.objects = object
		} else {
			previous.Header().SetNext(object)
		}
		h.bytesAllocated -= unreached.Header().Size()
		unreached.Header().SetNext(nil)
		freed++
	}
	return freed
}

// Collect runs one full mark-sweep cycle and rescales the threshold.
func (h *Heap) Collect() {
	before := h.bytesAllocated
	if LogGC {
		fmt.Fprintf(h.logw, "-- gc begin\n")
	}

	for _, root := range h.roots {
		root.fn(h)
	}
	h.traceReferences()
	h.strings.RemoveWhite()
	freed := h.sweep()

	h.nextGC = h.bytesAllocated * gcHeapGrowFactor

	if LogGC {
		fmt.Fprintf(h.logw, "-- gc end: freed %d objects, %d bytes (from %d to %d), next at %d\n",
			freed, before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
	}
}

// ObjectCount walks the all-objects list; test support.
func (h *Heap) ObjectCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.Header().Next() {
		n++
	}
	return n
}

// Contains reports whether o is on the all-objects list; test support.
func (h *Heap) Contains(o bytecode.Obj) bool {
	for cur := h.objects; cur != nil; cur = cur.Header().Next() {
		if cur == o {
			return true
		}
	}
	return false
}

// InternedCount returns the number of live slots in the intern set,
// tombstones included; test support.
func (h *Heap) InternedCount() int { return h.strings.Count() }

// LookupInterned finds an interned string by content without creating
// one; test support.
func (h *Heap) LookupInterned(chars string) *bytecode.ObjString {
	return h.strings.FindString(chars, bytecode.HashString(chars))
}
