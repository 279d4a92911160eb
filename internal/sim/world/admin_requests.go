package world

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"crateloot.ai/internal/loot/engine"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/observerproto"
)

type BlacklistOp int

const (
	BlacklistList BlacklistOp = iota
	BlacklistAdd
	BlacklistRemove
)

type spawnReq struct {
	PrefabID string
	Pos      Vec3
	Resp     chan spawnResp
}

type spawnResp struct {
	Msg observerproto.ContainerMsg
	Err error
}

type adminKind int

const (
	adminRefresh adminKind = iota + 1
	adminBlacklist
	adminTables
	adminStatus
)

type adminReq struct {
	Kind adminKind
	Op   BlacklistOp
	Item string
	Resp chan adminResp
}

type adminResp struct {
	Tick      uint64
	Refresh   engine.RefreshResult
	Blacklist []string
	Tables    []tables.Summary
	Status    Status
	Err       error
}

// Status is a point-in-time summary of the world for operators.
type Status struct {
	WorldID    string           `json:"world_id"`
	Tick       uint64           `json:"tick"`
	TickRateHz int              `json:"tick_rate_hz"`
	Containers int              `json:"containers"`
	Observers  int              `json:"observers"`
	Stats      Stats            `json:"stats"`
	Blacklist  []string         `json:"blacklist"`
	Tables     []tables.Summary `json:"tables"`
}

// RequestSpawn asks the world loop goroutine to spawn a container.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSpawn(ctx context.Context, prefabID string, pos Vec3) (observerproto.ContainerMsg, error) {
	resp := make(chan spawnResp, 1)
	select {
	case w.spawn <- spawnReq{PrefabID: prefabID, Pos: pos, Resp: resp}:
	case <-ctx.Done():
		return observerproto.ContainerMsg{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Msg, r.Err
	case <-ctx.Done():
		return observerproto.ContainerMsg{}, ctx.Err()
	}
}

func (w *World) RequestRefresh(ctx context.Context) (engine.RefreshResult, error) {
	r, err := w.requestAdmin(ctx, adminReq{Kind: adminRefresh})
	return r.Refresh, err
}

// RequestBlacklist applies op to item and returns the resulting blacklist.
// A successful edit schedules a bulk refresh.
func (w *World) RequestBlacklist(ctx context.Context, op BlacklistOp, item string) ([]string, error) {
	r, err := w.requestAdmin(ctx, adminReq{Kind: adminBlacklist, Op: op, Item: item})
	return r.Blacklist, err
}

func (w *World) RequestTables(ctx context.Context) ([]tables.Summary, error) {
	r, err := w.requestAdmin(ctx, adminReq{Kind: adminTables})
	return r.Tables, err
}

func (w *World) RequestStatus(ctx context.Context) (Status, error) {
	r, err := w.requestAdmin(ctx, adminReq{Kind: adminStatus})
	return r.Status, err
}

func (w *World) requestAdmin(ctx context.Context, req adminReq) (adminResp, error) {
	if w == nil || w.admin == nil {
		return adminResp{}, errors.New("admin requests not available")
	}
	resp := make(chan adminResp, 1)
	req.Resp = resp
	select {
	case w.admin <- req:
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (w *World) handleSpawnRequests(reqs []spawnReq) {
	tick := w.tick.Load()
	for _, r := range reqs {
		var out spawnResp
		c, err := w.Spawn(r.PrefabID, r.Pos)
		if err != nil {
			out.Err = err
		} else {
			out.Msg = c.message(tick)
		}
		reply(r.Resp, out)
	}
}

func (w *World) handleAdminRequests(reqs []adminReq) {
	for _, r := range reqs {
		out := adminResp{Tick: w.tick.Load()}
		switch r.Kind {
		case adminRefresh:
			out.Refresh, out.Err = w.Refresh()
		case adminBlacklist:
			out.Blacklist, out.Err = w.applyBlacklist(r.Op, r.Item)
		case adminTables:
			if w.engine == nil {
				out.Err = ErrNoEngine
			} else {
				out.Tables = w.engine.Tables()
			}
		case adminStatus:
			out.Status = w.status()
		default:
			out.Err = fmt.Errorf("unknown admin request %d", r.Kind)
		}
		reply(r.Resp, out)
	}
}

func (w *World) applyBlacklist(op BlacklistOp, item string) ([]string, error) {
	if w.engine == nil {
		return nil, ErrNoEngine
	}
	var err error
	switch op {
	case BlacklistList:
		return w.engine.Blacklist(), nil
	case BlacklistAdd:
		err = w.engine.AddToBlacklist(item)
	case BlacklistRemove:
		err = w.engine.RemoveFromBlacklist(item)
	default:
		err = fmt.Errorf("unknown blacklist op %d", op)
	}
	if err != nil {
		return nil, err
	}
	w.log.Info("blacklist edited", zap.Int("op", int(op)), zap.String("item", item))
	w.scheduleRefresh()
	return w.engine.Blacklist(), nil
}

func (w *World) status() Status {
	st := Status{
		WorldID:    w.cfg.ID,
		Tick:       w.tick.Load(),
		TickRateHz: w.cfg.TickRateHz,
		Containers: len(w.order),
		Observers:  len(w.observers),
		Stats:      w.stats,
	}
	if w.engine != nil {
		st.Blacklist = w.engine.Blacklist()
		st.Tables = w.engine.Tables()
	}
	return st
}

func reply[T any](ch chan T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
		// Client timed out; don't block the sim loop.
	}
}
