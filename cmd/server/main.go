package main

import (
    "compress/gzip"
    "context"
    "io"
    "log"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "sync"
    "syscall"
    "time"

    "goldboard/internal/calendar"
    "goldboard/internal/config"
    "goldboard/internal/fund"
    "goldboard/internal/httpx"
    "goldboard/internal/persist"
    "goldboard/internal/ratelimit"
    "goldboard/internal/refresh"
    "goldboard/internal/source"
    "goldboard/internal/source/eastmoney"
    "goldboard/internal/source/failover"
    "goldboard/internal/source/netease"
    "goldboard/internal/source/sina"
    "goldboard/internal/source/tencent"
    "goldboard/internal/store"
)

func main() {
    cfgPath := os.Getenv("CONFIG_FILE")
    cfg, err := config.Load(cfgPath)
    if err != nil { log.Fatalf("config: %v", err) }

    logger := newLogger(cfg.Server.LogLevel)
    slog.SetDefault(logger)

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    sources, err := buildSources(cfg, httpClient)
    if err != nil { log.Fatalf("sources: %v", err) }
    orch := failover.New(sources,
        failover.WithBreaker(cfg.Refresh.MaxFailCount, time.Duration(cfg.Refresh.MuteDurationSec)*time.Second),
        failover.WithLogger(logger))

    st := store.New(cfg.Refresh.HistoryCapacity)
    cal := calendar.SGE{}

    fileStore := persist.NewFileStore(cfg.Data.File)
    state, err := fileStore.Load()
    if err != nil { log.Fatalf("state: %v", err) }
    st.Seed(state.PriceHistory)

    var fundOpts []fund.ClientOption
    if cfg.Fund.MaxRequestsPerMinute > 0 {
        rate := float64(cfg.Fund.MaxRequestsPerMinute) / 60.0
        burst := cfg.Fund.Burst
        if burst <= 0 { burst = 1 }
        fundOpts = append(fundOpts, fund.WithLimiter(ratelimit.NewTokenBucket(rate, burst)))
    }
    fundClient := fund.NewClient(fundOpts...)

    agg := fund.NewAggregator(fundClient,
        time.Duration(cfg.Fund.CacheTTLSec)*time.Second,
        time.Duration(cfg.Fund.StaleTTLSec)*time.Second,
        cfg.Fund.MaxWorkers,
        time.Duration(cfg.Fund.TimeoutSec)*time.Second,
        fund.WithAggregatorLogger(logger))

    a := &app{
        cfg:       cfg,
        logger:    logger,
        store:     st,
        cal:       cal,
        agg:       agg,
        persist:   fileStore,
        watchlist: state.Watchlist,
        holdings:  state.Holdings,
        alerts:    state.AlertSettings,
    }
    a.portfolio = fund.NewPortfolioService(fundClient,
        time.Duration(cfg.Fund.PortfolioCacheTTLSec)*time.Second,
        cfg.Fund.MinCoverage,
        fund.WithPortfolioLogger(logger),
        fund.WithUpdateHook(func(string, persist.PortfolioRecord) { a.saveState() }))
    a.portfolio.SeedWeights(state.Portfolios)

    loop := refresh.New(orch, st, cal,
        time.Duration(cfg.Refresh.TradingIntervalSec)*time.Second,
        time.Duration(cfg.Refresh.IdleIntervalSec)*time.Second,
        refresh.WithLogger(logger))
    loop.Start(context.Background())

    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(a.routes())))),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      20 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        logger.Info("server listening", "port", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalf("server: %v", err)
        }
    }()

    // graceful shutdown
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    loop.Stop()
    a.saveState()
    logger.Info("shutdown complete")
}

// buildSources instantiates the enabled adapters in configured priority order.
func buildSources(cfg config.Config, hc *httpx.Client) ([]source.Source, error) {
    out := make([]source.Source, 0, len(cfg.Sources))
    for _, sc := range cfg.Sources {
        if !sc.Enabled {
            continue
        }
        d := source.Descriptor{ID: sc.ID, Priority: sc.Priority, Endpoint: sc.Endpoint, Timeout: sc.Timeout()}
        switch sc.ID {
        case "eastmoney":
            out = append(out, eastmoney.New(d, hc))
        case "tencent":
            out = append(out, tencent.New(d, hc))
        case "netease":
            out = append(out, netease.New(d, hc))
        case "sina":
            out = append(out, sina.New(d, hc))
        }
    }
    return out, nil
}

func newLogger(level string) *slog.Logger {
    var lv slog.Level
    switch strings.ToLower(level) {
    case "debug":
        lv = slog.LevelDebug
    case "warn":
        lv = slog.LevelWarn
    case "error":
        lv = slog.LevelError
    default:
        lv = slog.LevelInfo
    }
    return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        // Basic CORS for browser usage; adjust as needed.
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,PUT,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPut && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}
