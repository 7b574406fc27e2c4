package scheduler

// Snapshot copies the runner state. With items set, every live item is listed,
// pending first, then active in sweep order.
func (r *Runner) Snapshot(items bool) Snapshot {
	s := Snapshot{
		Frame:       r.frame,
		Generation:  r.generation,
		Closed:      r.closed,
		Pending:     len(r.pending),
		Active:      len(r.active),
		Slots:       r.items.Len(),
		Allocated:   r.items.Count(),
		Free:        r.items.FreeCount(),
		MaxCapacity: r.items.MaxCapacity(),
		Registered:  r.registered,
		Completed:   r.completed,
		Cancelled:   r.cancelled,
		Rejected:    r.rejected,
		Shrinks:     r.shrinks,
	}
	if !items {
		return s
	}

	s.Items = make([]ItemSnapshot, 0, s.Pending+s.Active)
	appendItem := func(h Handle) {
		e := r.items.Ref(int(h.Index))
		if e == nil || e.generation != h.Generation {
			return
		}
		s.Items = append(s.Items, ItemSnapshot{
			Handle:  h,
			Kind:    e.task.Kind().String(),
			Phase:   e.phase.String(),
			State:   e.state.String(),
			Paused:  e.task.IsPaused(),
			Done:    e.task.IsDone(),
			Elapsed: e.task.Elapsed(),
			Ticks:   e.task.TickCount(),
			Next:    e.task.Next(),
		})
	}
	for _, h := range r.pending {
		appendItem(h)
	}
	for i := len(r.active) - 1; i >= 0; i-- {
		appendItem(r.active[i])
	}
	return s
}
