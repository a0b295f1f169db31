package objarray

import "iter"

// Iterator walks the registry forward over live objects. Holes are skipped,
// so a full traversal stops once per live object. Two iterators are equal
// when their cursors are at the same index.
type Iterator struct {
	h       *Handle
	index   int32
	current uint64
}

// Begin returns an iterator at the first live object.
func (h *Handle) Begin() Iterator {
	it := Iterator{h: h}
	it.settle()
	return it
}

// End returns the sentinel one past the last index. It resolves nothing.
func (h *Handle) End() Iterator {
	return Iterator{h: h, index: h.Num()}
}

// Next moves to the next live object, or to the end.
func (it *Iterator) Next() {
	it.index++
	it.settle()
}

// settle resolves the object at the cursor, moving forward over holes.
func (it *Iterator) settle() {
	num := it.h.Num()
	for ; it.index < num; it.index++ {
		if it.current = it.h.ByIndex(it.index); it.current != 0 {
			return
		}
	}
	it.index = num
	it.current = 0
}

// Object returns the address of the object under the cursor.
func (it Iterator) Object() uint64 {
	return it.current
}

// Index returns the cursor position.
func (it Iterator) Index() int32 {
	return it.index
}

// Valid reports whether the cursor is before the current end.
func (it Iterator) Valid() bool {
	return it.index < it.h.Num()
}

// Equal compares cursor positions only.
func (it Iterator) Equal(other Iterator) bool {
	return it.index == other.index
}

// All yields the index and address of every live object.
func (h *Handle) All() iter.Seq2[int32, uint64] {
	return func(yield func(int32, uint64) bool) {
		for it := h.Begin(); it.Valid(); it.Next() {
			if !yield(it.Index(), it.Object()) {
				return
			}
		}
	}
}
