// Package scheduler runs frame-driven tasks.
//
// A Runner owns one slot allocator of scheduled items. Register hands out a
// generational Handle right away and parks the item in a pending list; the
// first Update of every frame promotes pending items to the active list, and
// each Update sweeps the active items of one Phase back to front.
//
// Handles are plain values. Presenting a stale handle (its slot was freed and
// possibly reused) to any control operation is a silent no-op.
//
// A Runner is not safe for concurrent use; every call happens on the frame
// goroutine that drives Update.
package scheduler
