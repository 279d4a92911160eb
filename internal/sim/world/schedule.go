package world

import "sort"

type task struct {
	id    uint64
	at    uint64
	every uint64
	fn    func()
}

// After runs fn on the world loop once, ticks ticks from now. A delay of
// zero runs on the next tick.
func (w *World) After(ticks int, fn func()) uint64 {
	return w.schedule(ticks, 0, fn)
}

// Every runs fn on the world loop every ticks ticks, starting ticks from now.
func (w *World) Every(ticks int, fn func()) uint64 {
	if ticks <= 0 {
		return 0
	}
	return w.schedule(ticks, uint64(ticks), fn)
}

func (w *World) Cancel(id uint64) bool {
	for i, t := range w.sched {
		if t.id == id {
			w.sched = append(w.sched[:i], w.sched[i+1:]...)
			return true
		}
	}
	return false
}

func (w *World) schedule(ticks int, every uint64, fn func()) uint64 {
	if fn == nil {
		return 0
	}
	if ticks < 1 {
		ticks = 1
	}
	w.nextTask++
	w.sched = append(w.sched, &task{
		id:    w.nextTask,
		at:    w.tick.Load() + uint64(ticks),
		every: every,
		fn:    fn,
	})
	return w.nextTask
}

// runDue runs every continuation due at tick, earliest first. Continuations
// scheduled while running are not due before the next tick.
func (w *World) runDue(tick uint64) {
	var due, keep []*task
	for _, t := range w.sched {
		if t.at <= tick {
			due = append(due, t)
		} else {
			keep = append(keep, t)
		}
	}
	if len(due) == 0 {
		return
	}
	w.sched = keep
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].id < due[j].id
	})
	for _, t := range due {
		if t.every > 0 {
			t.at = tick + t.every
			w.sched = append(w.sched, t)
		}
		t.fn()
	}
}
