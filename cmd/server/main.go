package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crateloot.ai/internal/loot/engine"
	"crateloot.ai/internal/loot/rng"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/persistence/indexdb"
	persistlog "crateloot.ai/internal/persistence/log"
	"crateloot.ai/internal/persistence/overrides"
	"crateloot.ai/internal/sim/catalogs"
	"crateloot.ai/internal/sim/tuning"
	"crateloot.ai/internal/sim/world"
	"crateloot.ai/internal/transport/observer"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "http listen address")
		worldID       = flag.String("world", "world_1", "world id")
		seed          = flag.Int64("seed", 1337, "loot rng seed")
		configDir     = flag.String("configs", "./configs", "config directory")
		dataDir       = flag.String("data", "./data", "runtime data directory")
		tuningPath    = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		overridesPath = flag.String("overrides", "", "path to the loot table overrides (default: <data>/loot_tables.json)")
		disableDB     = flag.Bool("disable_db", false, "disable the sqlite blacklist store and loadout index")
		debug         = flag.Bool("debug", false, "development logging")
	)
	flag.Parse()

	logger := newLogger(*debug)
	defer func() { _ = logger.Sync() }()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatal("load tuning", zap.String("path", tp), zap.Error(err))
		}
		logger.Warn("tuning not found; using defaults", zap.String("path", tp))
		tune = tuning.Defaults()
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatal("load catalogs", zap.Error(err))
	}

	op := strings.TrimSpace(*overridesPath)
	if op == "" {
		op = filepath.Join(*dataDir, "loot_tables.json")
	}
	store, err := overrides.Open(op)
	if err != nil {
		logger.Fatal("open overrides", zap.Error(err))
	}
	registry := tables.NewRegistry(cats, tune, store, logger.Named("tables"))
	if err := registry.Load(); err != nil {
		// A corrupt override file is never replaced with defaults.
		logger.Fatal("load loot tables", zap.String("path", op), zap.Error(err))
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatal("open index backend", zap.Error(err))
	}
	if idx != nil {
		defer idx.Close()
	}

	loadouts := persistlog.NewLoadoutLogger(*dataDir)
	defer loadouts.Close()
	audit := persistlog.NewAuditLogger(*dataDir)
	defer audit.Close()

	w, err := world.New(world.WorldConfig{
		ID:                *worldID,
		TickRateHz:        tune.TickRateHz,
		Seed:              *seed,
		RefreshDelayTicks: tune.RefreshDelayTicks,
	}, cats, logger.Named("world"))
	if err != nil {
		logger.Fatal("init world", zap.Error(err))
	}

	ecfg := engine.Config{
		Catalog:  cats,
		Registry: registry,
		Tuning:   tune,
		Sinks:    []engine.Sink{loadouts},
		Rand:     rng.New(*seed),
		Clock:    w.CurrentTick,
		Logger:   logger.Named("engine"),
	}
	if idx != nil {
		ecfg.Blacklist = idx
		ecfg.Sinks = append(ecfg.Sinks, idx)
	}
	eng, err := engine.New(ecfg)
	if err != nil {
		logger.Fatal("init loot engine", zap.Error(err))
	}
	w.SetEngine(eng)

	for _, sp := range tune.Spawns {
		if _, err := w.Spawn(sp.Prefab, world.Vec3{X: sp.Pos[0], Y: sp.Pos[1], Z: sp.Pos[2]}); err != nil {
			logger.Warn("initial spawn", zap.String("prefab", sp.Prefab), zap.Error(err))
		}
	}
	if err := eng.Flush(); err != nil {
		logger.Warn("flush loot tables", zap.Error(err))
	}

	refresh := func() {
		if _, err := w.Refresh(); err != nil {
			logger.Warn("refresh", zap.Error(err))
		}
	}
	w.After(tune.RefreshDelayTicks, refresh)
	if tune.RerollEveryTicks > 0 {
		w.Every(tune.RerollEveryTicks, refresh)
	}

	if idx != nil {
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Warn("index backend: upsert catalogs", zap.Error(err))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("world stopped", zap.Error(err))
			cancel()
		}
	}()

	enableAdminHTTP := envBool("CL_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CL_ENABLE_PPROF_HTTP", false)

	mux := newMux(w, idx, loadouts, audit, logger, enableAdminHTTP)
	if !enableAdminHTTP {
		logger.Info("admin endpoints disabled (CL_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", *addr), zap.String("world", w.ID()), zap.Int("tables", len(registry.IDs())))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe", zap.Error(err))
	}

	if idx != nil {
		if err := idx.Sync(context.Background()); err != nil {
			logger.Warn("index backend: final sync", zap.Error(err))
		}
	}
}

func newLogger(debug bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	return l.Named("server")
}

// newMux registers the public observer routes, metrics and, when enabled,
// the loopback admin API.
func newMux(w *world.World, idx *indexdb.SQLiteIndex, loadouts *persistlog.LoadoutLogger, audit auditWriter, logger *zap.Logger, enableAdmin bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		st, err := w.RequestStatus(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeMetrics(rw, st, idx, loadouts)
	})

	obsSrv := observer.NewServer(w, logger.Named("observer"))
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	if enableAdmin {
		api := &adminAPI{w: w, idx: idx, audit: audit, log: logger.Named("admin")}
		api.register(mux)
	}
	return mux
}

func writeMetrics(rw http.ResponseWriter, st world.Status, idx *indexdb.SQLiteIndex, loadouts *persistlog.LoadoutLogger) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	id := st.WorldID
	fmt.Fprintf(rw, "crateloot_world_tick{world=%q} %d\n", id, st.Tick)
	fmt.Fprintf(rw, "crateloot_containers{world=%q} %d\n", id, st.Containers)
	fmt.Fprintf(rw, "crateloot_observers{world=%q} %d\n", id, st.Observers)
	fmt.Fprintf(rw, "crateloot_blacklist_items{world=%q} %d\n", id, len(st.Blacklist))
	fmt.Fprintf(rw, "crateloot_loot_tables{world=%q} %d\n", id, len(st.Tables))
	fmt.Fprintf(rw, "crateloot_spawned_total{world=%q} %d\n", id, st.Stats.Spawned)
	fmt.Fprintf(rw, "crateloot_engine_filled_total{world=%q} %d\n", id, st.Stats.EngineFilled)
	fmt.Fprintf(rw, "crateloot_default_filled_total{world=%q} %d\n", id, st.Stats.DefaultFilled)
	fmt.Fprintf(rw, "crateloot_despawned_total{world=%q} %d\n", id, st.Stats.Despawned)
	fmt.Fprintf(rw, "crateloot_refreshes_total{world=%q} %d\n", id, st.Stats.Refreshes)
	fmt.Fprintf(rw, "crateloot_observer_drops_total{world=%q} %d\n", id, st.Stats.ObserverDrops)
	if loadouts != nil {
		ls := loadouts.Stats()
		fmt.Fprintf(rw, "crateloot_loadout_log_queue_depth %d\n", ls.QueueDepth)
		fmt.Fprintf(rw, "crateloot_loadout_log_drop_total %d\n", ls.DropTotal)
		fmt.Fprintf(rw, "crateloot_loadout_log_written_total %d\n", ls.WrittenTotal)
		fmt.Fprintf(rw, "crateloot_loadout_log_write_fail_total %d\n", ls.WriteFailTotal)
	}
	if idx == nil {
		return
	}
	qs := idx.Stats()
	fmt.Fprintf(rw, "crateloot_index_queue_depth %d\n", qs.QueueDepth)
	fmt.Fprintf(rw, "crateloot_index_queue_capacity %d\n", qs.QueueCapacity)
	fmt.Fprintf(rw, "crateloot_index_drop_loadout_total %d\n", qs.DropLoadoutTotal)
	fmt.Fprintf(rw, "crateloot_index_written_total %d\n", qs.WrittenTotal)
	fmt.Fprintf(rw, "crateloot_index_write_fail_total %d\n", qs.WriteFailTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
