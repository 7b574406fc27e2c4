package slot

import (
	"errors"
	"math/rand"
	"testing"
)

// checkFreeList walks the free list and verifies it against the allocated bitset.
func checkFreeList[T any](t *testing.T, a *Allocator[T]) {
	t.Helper()
	unallocated := 0
	for _, ok := range a.allocated {
		if !ok {
			unallocated++
		}
	}
	if a.freeCount != unallocated {
		t.Fatalf("freeCount = %d, want %d", a.freeCount, unallocated)
	}
	seen := map[int]bool{}
	prev := none
	for i := a.firstFree; i != none; i = a.cells[i].next {
		if i < 0 || i >= len(a.cells) {
			t.Fatalf("free list points out of range: %d (len=%d)", i, len(a.cells))
		}
		if seen[i] {
			t.Fatalf("free list visits %d twice", i)
		}
		if a.allocated[i] {
			t.Fatalf("free list contains allocated slot %d", i)
		}
		if a.cells[i].prev != prev {
			t.Fatalf("slot %d prev = %d, want %d", i, a.cells[i].prev, prev)
		}
		seen[i] = true
		prev = i
	}
	if len(seen) != unallocated {
		t.Fatalf("free list length = %d, want %d", len(seen), unallocated)
	}
}

func TestCapacityScenario(t *testing.T) {
	t.Parallel()
	a := New[string](4, 4)

	mustAdd := func(v string, want int) {
		t.Helper()
		got, err := a.Add(v)
		if err != nil {
			t.Fatalf("Add(%q) error: %v", v, err)
		}
		if got != want {
			t.Fatalf("Add(%q) = %d, want %d", v, got, want)
		}
	}

	mustAdd("a", 0)
	mustAdd("b", 1)
	a.RemoveAt(0)
	mustAdd("c", 0)
	mustAdd("d", 2)
	mustAdd("e", 3)
	if _, err := a.Add("f"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Add over capacity: err = %v, want ErrCapacityExceeded", err)
	}

	var idx []int
	var vals []string
	for i, v := range a.All() {
		idx = append(idx, i)
		vals = append(vals, v)
	}
	wantIdx := []int{0, 1, 2, 3}
	wantVals := []string{"c", "b", "d", "e"}
	for i := range wantIdx {
		if idx[i] != wantIdx[i] || vals[i] != wantVals[i] {
			t.Fatalf("enumeration = %v %v, want %v %v", idx, vals, wantIdx, wantVals)
		}
	}
	checkFreeList(t, a)
}

func TestEnumerationSkipsFreeAndRestarts(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	for i := 0; i < 6; i++ {
		if _, err := a.Add(i * 10); err != nil {
			t.Fatal(err)
		}
	}
	a.RemoveAt(1)
	a.RemoveAt(4)

	collect := func() []int {
		var out []int
		for i := range a.All() {
			out = append(out, i)
		}
		return out
	}
	first := collect()
	second := collect()
	want := []int{0, 2, 3, 5}
	if len(first) != len(want) || len(second) != len(want) {
		t.Fatalf("enumeration = %v / %v, want %v", first, second, want)
	}
	for i := range want {
		if first[i] != want[i] || second[i] != want[i] {
			t.Fatalf("enumeration = %v / %v, want %v", first, second, want)
		}
	}

	// early break stops the sequence
	n := 0
	for range a.All() {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("break did not stop enumeration: %d", n)
	}
}

func TestRecentlyFreedReusedFirst(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	for i := 0; i < 5; i++ {
		_, _ = a.Add(i)
	}
	a.RemoveAt(1)
	a.RemoveAt(3)
	if i, _ := a.AddUninitialized(); i != 3 {
		t.Fatalf("reuse = %d, want 3", i)
	}
	if i, _ := a.AddUninitialized(); i != 1 {
		t.Fatalf("reuse = %d, want 1", i)
	}
	if got := a.Get(1); got != 0 {
		t.Fatalf("AddUninitialized slot holds %d, want zero value", got)
	}
	checkFreeList(t, a)
}

func TestGetSetOnFreeSlot(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	i, _ := a.Add(7)
	_, _ = a.Add(8)
	a.RemoveAt(i)

	if got := a.Get(i); got != 0 {
		t.Fatalf("Get(free) = %d, want 0", got)
	}
	a.Set(i, 99)
	if a.IsAllocated(i) {
		t.Fatal("Set on free slot allocated it")
	}
	if a.Ref(i) != nil {
		t.Fatal("Ref(free) should be nil")
	}
	if a.Get(-1) != 0 || a.Get(100) != 0 || a.IsAllocated(100) {
		t.Fatal("out of range reads must return zero/false")
	}
	checkFreeList(t, a)
}

func TestRemoveAtFreeSlotPanics(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	i, _ := a.Add(1)
	a.RemoveAt(i)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a.RemoveAt(i)
}

func TestClearRebuildsForwardChain(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	for i := 0; i < 4; i++ {
		_, _ = a.Add(i)
	}
	a.Clear()
	if a.Count() != 0 || a.FreeCount() != 4 {
		t.Fatalf("after Clear: count=%d free=%d", a.Count(), a.FreeCount())
	}
	checkFreeList(t, a)
	for want := 0; want < 4; want++ {
		got, err := a.Add(want)
		if err != nil || got != want {
			t.Fatalf("Add after Clear = %d, %v; want %d", got, err, want)
		}
	}
}

func TestShrinkTruncatesTrailingFree(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	for i := 0; i < 8; i++ {
		_, _ = a.Add(i)
	}
	// free a hole in the middle and the tail
	for _, i := range []int{2, 5, 6, 7} {
		a.RemoveAt(i)
	}
	a.Shrink()
	if a.Len() != 5 {
		t.Fatalf("Len after Shrink = %d, want 5", a.Len())
	}
	if a.FreeCount() != 1 || !a.IsAllocated(4) || a.IsAllocated(2) {
		t.Fatalf("unexpected state: free=%d", a.FreeCount())
	}
	checkFreeList(t, a)

	before := map[int]int{}
	for i, v := range a.All() {
		before[i] = v
	}
	a.Shrink()
	if a.Len() != 5 {
		t.Fatalf("second Shrink changed Len to %d", a.Len())
	}
	for i, v := range a.All() {
		if before[i] != v {
			t.Fatalf("slot %d changed from %d to %d", i, before[i], v)
		}
	}

	// the hole is reused before growing again
	if i, _ := a.Add(42); i != 2 {
		t.Fatalf("Add after Shrink = %d, want 2", i)
	}
	if i, _ := a.Add(43); i != 5 {
		t.Fatalf("Add after Shrink = %d, want 5", i)
	}
	checkFreeList(t, a)
}

func TestShrinkEmpty(t *testing.T) {
	t.Parallel()
	a := New[int](0, 0)
	for i := 0; i < 3; i++ {
		_, _ = a.Add(i)
	}
	for i := 0; i < 3; i++ {
		a.RemoveAt(i)
	}
	a.Shrink()
	if a.Len() != 0 || a.FreeCount() != 0 || a.firstFree != none {
		t.Fatalf("Shrink of empty allocator: len=%d free=%d first=%d", a.Len(), a.FreeCount(), a.firstFree)
	}
	if i, _ := a.Add(1); i != 0 {
		t.Fatalf("Add after full shrink = %d, want 0", i)
	}
}

func TestSetMaxCapacity(t *testing.T) {
	t.Parallel()
	a := New[int](1, 1)
	_, _ = a.Add(1)
	if _, err := a.Add(2); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v", err)
	}
	a.SetMaxCapacity(2)
	if i, err := a.Add(2); err != nil || i != 1 {
		t.Fatalf("Add after raise = %d, %v", i, err)
	}
}

func TestRandomOpsKeepInvariants(t *testing.T) {
	t.Parallel()
	const maxCap = 64
	rng := rand.New(rand.NewSource(1))
	a := New[int](8, maxCap)
	live := map[int]int{}

	for step := 0; step < 5000; step++ {
		switch op := rng.Intn(10); {
		case op < 5:
			i, err := a.Add(step)
			if err != nil {
				if !errors.Is(err, ErrCapacityExceeded) || len(live) != maxCap {
					t.Fatalf("step %d: unexpected error %v with %d live", step, err, len(live))
				}
				continue
			}
			if _, dup := live[i]; dup {
				t.Fatalf("step %d: index %d handed out twice", step, i)
			}
			live[i] = step
		case op < 9:
			for i := range live {
				a.RemoveAt(i)
				delete(live, i)
				break
			}
		default:
			a.Shrink()
		}
		if a.Count() != len(live) {
			t.Fatalf("step %d: Count = %d, want %d", step, a.Count(), len(live))
		}
		if step%97 == 0 {
			checkFreeList(t, a)
			for i, v := range live {
				if a.Get(i) != v {
					t.Fatalf("step %d: slot %d = %d, want %d", step, i, a.Get(i), v)
				}
			}
		}
	}
	checkFreeList(t, a)
}
