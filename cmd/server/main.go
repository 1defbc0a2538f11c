package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"machinesync.dev/internal/config"
	"machinesync.dev/internal/machine"
	"machinesync.dev/internal/metrics"
	persistlog "machinesync.dev/internal/persistence/log"
	"machinesync.dev/internal/transport/observer"
	"machinesync.dev/internal/transport/ws"
	"machinesync.dev/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path")
		addr       = flag.String("addr", "", "http listen address (overrides listen_addr)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data_dir)")
		disableDB  = flag.Bool("disable-db", false, "do not load or save machine state")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	machines := make([]*machine.Machine, 0, len(cfg.Machines))
	for _, spec := range cfg.Machines {
		m, err := spec.Build()
		if err != nil {
			logger.Fatalf("machine %s: %v", spec.ID, err)
		}
		machines = append(machines, m)
	}
	w, err := world.New(world.Config{
		TickRateHz:     cfg.TickRateHz,
		SaveEveryTicks: cfg.SaveEveryTicks,
		MenusPerViewer: cfg.MenusPerViewer,
	}, machines, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	store, err := openMachineStore(cfg.DataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open machine store: %v", err)
	}
	if store != nil {
		defer store.Close()
		w.SetMachineStore(store)
		loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := w.LoadState(loadCtx)
		cancelLoad()
		if err != nil {
			logger.Fatalf("load machine state: %v", err)
		}
		logger.Printf("restored %d of %d machines", n, len(machines))
	}

	auditLog := persistlog.NewAuditLogger(cfg.DataDir)
	defer auditLog.Close()
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: store})
	if cfg.TraceSync {
		syncLog := persistlog.NewSyncLogger(cfg.DataDir)
		defer syncLog.Close()
		w.SetSyncTraceLogger(syncLog)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		logger.Fatalf("metrics: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger, cfg.MaxViewerQueue).Handler())

	if envBool("MS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/status", observer.NewServer(w, logger).StatusHandler())
	} else {
		logger.Printf("admin endpoints disabled (MS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("MS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tick_rate=%d machines=%d", cfg.ListenAddr, cfg.TickRateHz, len(machines))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-worldDone
	w.Flush()
	logger.Printf("stopped at tick %d", w.CurrentTick())
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
