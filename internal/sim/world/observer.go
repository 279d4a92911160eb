package world

import (
	"encoding/json"

	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"
)

type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
	Prefabs   []string
	Replay    bool
}

type ObserverSubscribeRequest struct {
	SessionID string
	Prefabs   []string
	Replay    bool
}

type observerClient struct {
	id  string
	out chan []byte
	// empty means every prefab
	prefabs mapset.Set[string]
}

func (o *observerClient) wants(prefabID string) bool {
	return o.prefabs.Size() == 0 || o.prefabs.Has(prefabID)
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	// Replace existing session id if any.
	if old := w.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	o := &observerClient{id: req.SessionID, out: req.Out, prefabs: prefabSet(req.Prefabs)}
	w.observers[req.SessionID] = o
	w.log.Debug("observer joined", zap.String("session", req.SessionID), zap.Int("prefabs", o.prefabs.Size()))
	if req.Replay {
		w.replay(o)
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	o := w.observers[req.SessionID]
	if o == nil {
		return
	}
	o.prefabs = prefabSet(req.Prefabs)
	if req.Replay {
		w.replay(o)
	}
}

func (w *World) handleObserverLeave(id string) {
	o := w.observers[id]
	if o == nil {
		return
	}
	delete(w.observers, id)
	close(o.out)
}

func (w *World) replay(o *observerClient) {
	tick := w.tick.Load()
	for _, c := range w.order {
		if !o.wants(c.prefabID) {
			continue
		}
		b, err := json.Marshal(c.message(tick))
		if err != nil {
			continue
		}
		w.send(o, b)
	}
}

// flushObservers serializes each re-broadcast container once and fans it out.
func (w *World) flushObservers(tick uint64) {
	dirty := w.dirty
	removed := w.removed
	w.dirty = nil
	w.removed = nil

	for _, c := range dirty {
		c.dirty = false
		if c.inv != nil {
			c.inv.dirty = false
		}
		if c.removed || len(w.observers) == 0 {
			continue
		}
		b, err := json.Marshal(c.message(tick))
		if err != nil {
			w.log.Warn("encode container", zap.String("container", c.id), zap.Error(err))
			continue
		}
		for _, o := range w.observers {
			if o.wants(c.prefabID) {
				w.send(o, b)
			}
		}
	}
	for _, m := range removed {
		if len(w.observers) == 0 {
			break
		}
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		for _, o := range w.observers {
			if o.wants(m.PrefabID) {
				w.send(o, b)
			}
		}
	}
}

// send never blocks the sim loop; slow observers lose messages.
func (w *World) send(o *observerClient, b []byte) {
	select {
	case o.out <- b:
	default:
		w.stats.ObserverDrops++
	}
}

func prefabSet(ids []string) mapset.Set[string] {
	s := mapset.New[string]()
	for _, id := range ids {
		if id != "" {
			s.Put(id)
		}
	}
	return s
}
