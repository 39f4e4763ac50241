package bytecode

// Table is an open-addressed hash map with linear probing, keyed by
// interned strings. Because keys are interned, pointer comparison is
// enough during probing; byte-level comparison happens only in
// FindString, which is what the intern set itself uses.
//
// The entry array capacity is always a power of two (at least 8) so the
// probe sequence can wrap with a mask. Deleting leaves a tombstone (an
// entry with a nil key and a true value) so probe chains stay intact.
// Tombstones count toward the 75% load factor, which keeps chains from
// degrading as entries churn.
type Table struct {
	count   int // live entries plus tombstones
	entries []Entry
}

// Entry is a single key/value slot. A nil key marks an empty slot when
// Value is nil, or a tombstone when Value is true.
type Entry struct {
	Key   *ObjString
	Value Value
}

const tableMaxLoad = 0.75
const tableMinCapacity = 8

// Count returns the number of occupied slots, tombstones included.
func (t *Table) Count() int { return t.count }

// Capacity returns the size of the entry array.
func (t *Table) Capacity() int { return len(t.entries) }

// Entries exposes the raw slot array for the collector, which needs to
// mark every key and value, and to clear weak intern references.
func (t *Table) Entries() []Entry { return t.entries }

// findEntry locates the slot for key: either the entry holding it, or
// the slot an insertion should use. Passing over a tombstone remembers
// it, so insertions reuse the first tombstone on the chain rather than
// the empty slot that ends it.
func findEntry(entries []Entry, key *ObjString) *Entry {
	mask := uint32(len(entries) - 1)
	index := key.Hash & mask
	var tombstone *Entry

	for {
		entry := &entries[index]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				// Truly empty slot ends the probe chain.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.Key == key {
			return entry
		}
		index = (index + 1) & mask
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]Entry, capacity)
	for i := range entries {
		entries[i].Value = NilValue()
	}

	// Rebuilding drops tombstones, so recount live entries.
	t.count = 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key == nil {
			continue
		}
		dest := findEntry(entries, entry.Key)
		dest.Key = entry.Key
		dest.Value = entry.Value
		t.count++
	}
	t.entries = entries
}

// Get looks up key and returns its value, or false when absent.
func (t *Table) Get(key *ObjString) (Value, bool) {
	if t.count == 0 {
		return NilValue(), false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return NilValue(), false
	}
	return entry.Value, true
}

// Set inserts or overwrites the binding for key. It reports whether the
// key was newly added.
func (t *Table) Set(key *ObjString, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		capacity := len(t.entries) * 2
		if capacity < tableMinCapacity {
			capacity = tableMinCapacity
		}
		t.adjustCapacity(capacity)
	}

	entry := findEntry(t.entries, key)
	isNew := entry.Key == nil
	if isNew && entry.Value.IsNil() {
		// Filling a fresh slot, not a recycled tombstone.
		t.count++
	}
	entry.Key = key
	entry.Value = value
	return isNew
}

// Delete removes the binding for key, leaving a tombstone in its slot.
// It reports whether the key was present.
func (t *Table) Delete(key *ObjString) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return false
	}
	entry.Key = nil
	entry.Value = BoolValue(true)
	return true
}

// AddAll copies every binding from t into to.
func (t *Table) AddAll(to *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			to.Set(entry.Key, entry.Value)
		}
	}
}

// FindString locates an interned string by content. This is the one
// lookup that compares bytes rather than pointers: it is how the intern
// set decides whether a new string's contents already exist.
func (t *Table) FindString(chars string, hash uint32) *ObjString {
	if t.count == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				return nil
			}
		} else if entry.Key.Hash == hash && entry.Key.Chars == chars {
			return entry.Key
		}
		index = (index + 1) & mask
	}
}

// RemoveWhite deletes every entry whose key is unmarked. The collector
// calls this on the intern table between marking and sweeping: the
// table's references are weak, so a string nothing else reaches must not
// survive through the intern set alone.
func (t *Table) RemoveWhite() {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil && !entry.Key.Marked() {
			t.Delete(entry.Key)
		}
	}
}
