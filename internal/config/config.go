package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strings"
    "time"
)

// Known source adapter ids, in default priority order.
var KnownSources = []string{"eastmoney", "tencent", "netease", "sina"}

type Server struct {
    Port              string `json:"port"`
    RequestTimeoutSec int    `json:"request_timeout_sec"`
    LogLevel          string `json:"log_level"`
}

// Source configures one upstream price adapter. Lower priority is tried
// first; ties keep registration order.
type Source struct {
    ID         string `json:"id"`
    Enabled    bool   `json:"enabled"`
    Priority   int    `json:"priority"`
    Endpoint   string `json:"endpoint"` // empty = adapter default
    TimeoutSec int    `json:"timeout_sec"`
}

func (s Source) Timeout() time.Duration { return time.Duration(s.TimeoutSec) * time.Second }

type Refresh struct {
    TradingIntervalSec int `json:"trading_interval_sec"`
    IdleIntervalSec    int `json:"idle_interval_sec"`
    HistoryCapacity    int `json:"history_capacity"`
    MaxFailCount       int `json:"max_fail_count"`
    MuteDurationSec    int `json:"mute_duration_sec"`
    StaleThresholdSec  int `json:"stale_threshold_sec"`
}

type Fund struct {
    CacheTTLSec          int     `json:"cache_ttl_sec"`
    StaleTTLSec          int     `json:"stale_ttl_sec"`
    MaxWorkers           int     `json:"max_workers"`
    TimeoutSec           int     `json:"timeout_sec"`
    MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
    Burst                int     `json:"burst"`
    MinCoverage          float64 `json:"min_coverage"`
    PortfolioCacheTTLSec int     `json:"portfolio_cache_ttl_sec"`
}

type Data struct {
    File string `json:"file"`
}

type Config struct {
    Server  Server   `json:"server"`
    Sources []Source `json:"sources"`
    Refresh Refresh  `json:"refresh"`
    Fund    Fund     `json:"fund"`
    Data    Data     `json:"data"`
}

func Default() Config {
    sources := make([]Source, 0, len(KnownSources))
    for i, id := range KnownSources {
        sources = append(sources, Source{ID: id, Enabled: true, Priority: i, TimeoutSec: 3})
    }
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 10, LogLevel: "info"},
        Sources: sources,
        Refresh: Refresh{
            TradingIntervalSec: 5,
            IdleIntervalSec:    300,
            HistoryCapacity:    720, // about one hour at the trading interval
            MaxFailCount:       3,
            MuteDurationSec:    60,
            StaleThresholdSec:  30,
        },
        Fund: Fund{
            CacheTTLSec:          60,
            StaleTTLSec:          300,
            MaxWorkers:           10,
            TimeoutSec:           3,
            MaxRequestsPerMinute: 0, // unlimited by default
            Burst:                1,
            MinCoverage:          0.40,
            PortfolioCacheTTLSec: 86400,
        },
        Data: Data{File: "data/data.json"},
    }
}

// Load reads JSON config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select fields.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := json.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    if err := cfg.Validate(); err != nil {
        return cfg, err
    }
    return cfg, nil
}

// Validate rejects malformed source descriptors. Called once at startup;
// nothing here can fail mid-run.
func (c Config) Validate() error {
    known := make(map[string]bool, len(KnownSources))
    for _, id := range KnownSources { known[id] = true }
    seen := make(map[string]bool, len(c.Sources))
    enabled := 0
    for _, s := range c.Sources {
        if !known[s.ID] {
            return fmt.Errorf("config: unknown source id %q", s.ID)
        }
        if seen[s.ID] {
            return fmt.Errorf("config: duplicate source id %q", s.ID)
        }
        seen[s.ID] = true
        if s.TimeoutSec <= 0 {
            return fmt.Errorf("config: source %q: timeout_sec must be positive", s.ID)
        }
        if s.Enabled { enabled++ }
    }
    if enabled == 0 {
        return errors.New("config: no sources enabled")
    }
    if c.Refresh.HistoryCapacity <= 0 {
        return errors.New("config: refresh.history_capacity must be positive")
    }
    if c.Refresh.TradingIntervalSec <= 0 || c.Refresh.IdleIntervalSec <= 0 {
        return errors.New("config: refresh intervals must be positive")
    }
    if c.Fund.MaxWorkers <= 0 {
        return errors.New("config: fund.max_workers must be positive")
    }
    if c.Fund.MinCoverage < 0 || c.Fund.MinCoverage > 1 {
        return errors.New("config: fund.min_coverage must be within [0,1]")
    }
    return nil
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.Server.LogLevel = v }
    if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Server.RequestTimeoutSec = x }
    }
    if v := os.Getenv("DATA_FILE"); v != "" { cfg.Data.File = v }
    if v := os.Getenv("TRADING_INTERVAL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Refresh.TradingIntervalSec = x }
    }
    if v := os.Getenv("IDLE_INTERVAL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Refresh.IdleIntervalSec = x }
    }
    if v := os.Getenv("HISTORY_CAPACITY"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Refresh.HistoryCapacity = x }
    }
    if v := os.Getenv("FUND_MAX_WORKERS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Fund.MaxWorkers = x }
    }
    if v := os.Getenv("FUND_CACHE_TTL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Fund.CacheTTLSec = x }
    }
    if v := os.Getenv("FUND_MAX_RPM"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Fund.MaxRequestsPerMinute = x }
    }
    if v := os.Getenv("DISABLE_SOURCES"); v != "" {
        off := make(map[string]bool)
        for _, id := range splitCSV(v) { off[strings.ToLower(id)] = true }
        for i := range cfg.Sources {
            if off[cfg.Sources[i].ID] { cfg.Sources[i].Enabled = false }
        }
    }
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
