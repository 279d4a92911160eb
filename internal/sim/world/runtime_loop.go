package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingSpawns []spawnReq
	var pendingAdmin []adminReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.spawn:
			pendingSpawns = append(pendingSpawns, req)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case <-ticker.C:
			w.stepInternal(pendingSpawns, pendingAdmin)
			pendingSpawns = pendingSpawns[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering as the server loop.
func (w *World) StepOnce() uint64 {
	tick := w.tick.Load()
	w.stepInternal(nil, nil)
	return tick
}

// stepInternal runs due continuations, then queued spawns, then admin
// requests. Tables built during the tick are persisted before re-broadcasts
// go out to observers.
func (w *World) stepInternal(spawns []spawnReq, admin []adminReq) {
	tick := w.tick.Load()
	w.runDue(tick)
	w.handleSpawnRequests(spawns)
	w.handleAdminRequests(admin)
	if w.flushPending && w.engine != nil {
		w.flushTables()
	}
	w.flushObservers(tick)
	w.tick.Add(1)
}
