// Package slot provides fixed-ceiling slot storage with O(1) reuse through an
// intrusive free list.
package slot

import (
	"errors"
	"fmt"
	"iter"
)

// ErrCapacityExceeded is returned by Add/AddUninitialized when every slot is in use
// and the storage already reached its maximum capacity.
var ErrCapacityExceeded = errors.New("slot: capacity exceeded")

const none = -1

type cell[T any] struct {
	prev  int
	next  int
	value T
}

// Allocator stores values in reusable integer slots.
//
// Free slots are kept in a doubly linked list threaded through the cells, so
// Add and RemoveAt are O(1) and Shrink can unlink truncated cells without a rebuild.
// The most recently freed slot is reused first.
//
// Allocator is not safe for concurrent use.
type Allocator[T any] struct {
	cells     []cell[T]
	allocated []bool

	firstFree int
	freeCount int
	maxCap    int
}

// New returns an allocator that reserves room for initial slots and never grows
// beyond maxCap slots. maxCap <= 0 means unbounded.
func New[T any](initial, maxCap int) *Allocator[T] {
	if initial < 0 {
		initial = 0
	}
	if maxCap > 0 && initial > maxCap {
		initial = maxCap
	}
	return &Allocator[T]{
		cells:     make([]cell[T], 0, initial),
		allocated: make([]bool, 0, initial),
		firstFree: none,
		maxCap:    maxCap,
	}
}

// Len returns the number of slots backed by storage (allocated or free).
func (a *Allocator[T]) Len() int { return len(a.cells) }

// Count returns the number of allocated slots.
func (a *Allocator[T]) Count() int { return len(a.cells) - a.freeCount }

func (a *Allocator[T]) FreeCount() int { return a.freeCount }

// MaxCapacity returns the slot ceiling (0 means unbounded).
func (a *Allocator[T]) MaxCapacity() int { return a.maxCap }

// SetMaxCapacity changes the ceiling. Lowering it below Len does not drop slots;
// it only prevents further growth.
func (a *Allocator[T]) SetMaxCapacity(n int) {
	if n < 0 {
		n = 0
	}
	a.maxCap = n
}

// Add stores v and returns its slot index.
func (a *Allocator[T]) Add(v T) (int, error) {
	i, err := a.alloc()
	if err != nil {
		return none, err
	}
	a.cells[i].value = v
	return i, nil
}

// AddUninitialized reserves a slot holding the zero value.
// Callers use it when they need the index before the value exists.
func (a *Allocator[T]) AddUninitialized() (int, error) {
	return a.alloc()
}

func (a *Allocator[T]) alloc() (int, error) {
	if a.firstFree != none {
		i := a.firstFree
		a.unlink(i)
		a.allocated[i] = true
		a.freeCount--
		return i, nil
	}
	if a.maxCap > 0 && len(a.cells) >= a.maxCap {
		return none, fmt.Errorf("%w (max %d)", ErrCapacityExceeded, a.maxCap)
	}
	a.cells = append(a.cells, cell[T]{prev: none, next: none})
	a.allocated = append(a.allocated, true)
	return len(a.cells) - 1, nil
}

// RemoveAt frees slot i and clears its value.
//
// Freeing an index that is out of range or already free is a programming error
// and panics.
func (a *Allocator[T]) RemoveAt(i int) {
	if !a.IsAllocated(i) {
		panic(fmt.Sprintf("slot: RemoveAt(%d) on a free or out-of-range slot (len=%d)", i, len(a.cells)))
	}
	var zero T
	a.cells[i].value = zero
	a.allocated[i] = false
	a.pushFree(i)
	a.freeCount++
}

// IsAllocated reports whether i is an in-range allocated slot.
func (a *Allocator[T]) IsAllocated(i int) bool {
	return i >= 0 && i < len(a.allocated) && a.allocated[i]
}

// Get returns the value at i, or the zero value when i is not allocated.
func (a *Allocator[T]) Get(i int) T {
	if !a.IsAllocated(i) {
		var zero T
		return zero
	}
	return a.cells[i].value
}

// Set replaces the value at i. Writes to unallocated slots are ignored so the
// free-list links stored alongside them stay intact.
func (a *Allocator[T]) Set(i int, v T) {
	if !a.IsAllocated(i) {
		return
	}
	a.cells[i].value = v
}

// Ref returns a pointer to the value at i, or nil when i is not allocated.
// The pointer is invalidated by the next Add, AddUninitialized, Clear or Shrink.
func (a *Allocator[T]) Ref(i int) *T {
	if !a.IsAllocated(i) {
		return nil
	}
	return &a.cells[i].value
}

// Clear frees every slot. The free list is rebuilt in index order.
func (a *Allocator[T]) Clear() {
	var zero T
	n := len(a.cells)
	for i := range a.cells {
		a.cells[i].value = zero
		a.allocated[i] = false
		a.cells[i].prev = i - 1
		if i+1 < n {
			a.cells[i].next = i + 1
		} else {
			a.cells[i].next = none
		}
	}
	a.freeCount = n
	a.firstFree = none
	if n > 0 {
		a.firstFree = 0
	}
}

// Shrink drops the trailing run of free slots and releases the storage they used.
// Allocated slots keep their indices.
func (a *Allocator[T]) Shrink() {
	last := len(a.allocated) - 1
	for last >= 0 && !a.allocated[last] {
		last--
	}
	keep := last + 1
	if keep == len(a.cells) {
		return
	}
	for i := keep; i < len(a.cells); i++ {
		a.unlink(i)
		a.freeCount--
	}

	cells := make([]cell[T], keep)
	copy(cells, a.cells[:keep])
	allocated := make([]bool, keep)
	copy(allocated, a.allocated[:keep])
	a.cells = cells
	a.allocated = allocated
}

// All yields allocated slots in index order. The sequence is lazy and may be
// ranged over any number of times. Mutating the allocator while ranging is not
// supported.
func (a *Allocator[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := range a.cells {
			if !a.allocated[i] {
				continue
			}
			if !yield(i, a.cells[i].value) {
				return
			}
		}
	}
}

func (a *Allocator[T]) pushFree(i int) {
	c := &a.cells[i]
	c.prev = none
	c.next = a.firstFree
	if a.firstFree != none {
		a.cells[a.firstFree].prev = i
	}
	a.firstFree = i
}

func (a *Allocator[T]) unlink(i int) {
	c := &a.cells[i]
	if c.prev != none {
		a.cells[c.prev].next = c.next
	} else {
		a.firstFree = c.next
	}
	if c.next != none {
		a.cells[c.next].prev = c.prev
	}
	c.prev, c.next = none, none
}
