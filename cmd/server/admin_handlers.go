package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"crateloot.ai/internal/loot/engine"
	"crateloot.ai/internal/persistence/indexdb"
	persistlog "crateloot.ai/internal/persistence/log"
	"crateloot.ai/internal/sim/world"
)

type auditWriter interface {
	WriteAudit(v persistlog.AuditEntry) error
}

// adminAPI serves the local-only operator endpoints.
type adminAPI struct {
	w     *world.World
	idx   *indexdb.SQLiteIndex
	audit auditWriter
	log   *zap.Logger
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.local(a.handleState))
	mux.HandleFunc("/admin/v1/blacklist", a.local(a.handleBlacklist))
	mux.HandleFunc("/admin/v1/refresh", a.local(a.handleRefresh))
	mux.HandleFunc("/admin/v1/tables", a.local(a.handleTables))
	mux.HandleFunc("/admin/v1/spawn", a.local(a.handleSpawn))
}

func (a *adminAPI) local(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.w.RequestStatus(ctx)
	if err != nil {
		writeErr(rw, err)
		return
	}
	resp := struct {
		OK     bool                `json:"ok"`
		Status world.Status        `json:"status"`
		Index  *indexdb.QueueStats `json:"index,omitempty"`
	}{OK: true, Status: st}
	if a.idx != nil {
		qs := a.idx.Stats()
		resp.Index = &qs
	}
	writeJSON(rw, http.StatusOK, resp)
}

type blacklistBody struct {
	Item string `json:"item"`
}

func (a *adminAPI) handleBlacklist(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var op world.BlacklistOp
	var action string
	switch r.Method {
	case http.MethodGet:
		op = world.BlacklistList
	case http.MethodPost:
		op, action = world.BlacklistAdd, "blacklist_add"
	case http.MethodDelete:
		op, action = world.BlacklistRemove, "blacklist_remove"
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	item := strings.TrimSpace(r.URL.Query().Get("item"))
	if op != world.BlacklistList && item == "" {
		var body blacklistBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad body: " + err.Error()})
			return
		}
		item = strings.TrimSpace(body.Item)
	}
	if op != world.BlacklistList && item == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing item"})
		return
	}

	items, err := a.w.RequestBlacklist(ctx, op, item)
	if err != nil {
		writeErr(rw, err)
		return
	}
	if action != "" {
		a.record(action, item, "")
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (a *adminAPI) handleRefresh(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	res, err := a.w.RequestRefresh(ctx)
	if err != nil {
		writeErr(rw, err)
		return
	}
	a.record("refresh", "", fmt.Sprintf("removed=%d repopulated=%d", res.Removed, res.Repopulated))
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (a *adminAPI) handleTables(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	sums, err := a.w.RequestTables(ctx)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tables": sums})
}

type spawnBody struct {
	Prefab string     `json:"prefab"`
	Pos    [3]float64 `json:"pos"`
}

func (a *adminAPI) handleSpawn(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body spawnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Prefab) == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "expected {\"prefab\":...,\"pos\":[x,y,z]}"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	msg, err := a.w.RequestSpawn(ctx, strings.TrimSpace(body.Prefab), world.Vec3{X: body.Pos[0], Y: body.Pos[1], Z: body.Pos[2]})
	if err != nil {
		writeErr(rw, err)
		return
	}
	a.record("spawn", "", msg.PrefabID+" "+msg.ContainerID)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "container": msg})
}

func (a *adminAPI) record(action, item, detail string) {
	if a.audit == nil {
		return
	}
	entry := persistlog.AuditEntry{Tick: a.w.CurrentTick(), Actor: "admin_http", Action: action, Item: item, Detail: detail}
	if err := a.audit.WriteAudit(entry); err != nil {
		a.log.Warn("audit log", zap.String("action", action), zap.Error(err))
	}
}

func writeErr(rw http.ResponseWriter, err error) {
	code := http.StatusServiceUnavailable
	switch {
	case errors.Is(err, engine.ErrUnknownItem), errors.Is(err, world.ErrUnknownPrefab):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotBlacklisted):
		code = http.StatusNotFound
	}
	writeJSON(rw, code, map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
