package main

import (
    "context"
    "encoding/json"
    "errors"
    "flag"
    "fmt"
    "log"
    "os"
    "time"

    "goldboard/internal/config"
    "goldboard/internal/httpx"
    "goldboard/internal/quote"
    "goldboard/internal/source"
    "goldboard/internal/source/eastmoney"
    "goldboard/internal/source/failover"
    "goldboard/internal/source/netease"
    "goldboard/internal/source/sina"
    "goldboard/internal/source/tencent"
)

// One-shot fetch through the failover chain, for poking the upstreams from a
// shell.
func main() {
    var configPath string
    var timeout int
    var only string

    flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
    flag.IntVar(&timeout, "timeout", 15, "overall timeout seconds")
    flag.StringVar(&only, "source", "", "restrict to one source id (eastmoney|tencent|netease|sina)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil { log.Fatalf("config: %v", err) }

    hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    sources := make([]source.Source, 0, len(cfg.Sources))
    for _, sc := range cfg.Sources {
        if !sc.Enabled { continue }
        if only != "" && sc.ID != only { continue }
        d := source.Descriptor{ID: sc.ID, Priority: sc.Priority, Endpoint: sc.Endpoint, Timeout: sc.Timeout()}
        switch sc.ID {
        case "eastmoney":
            sources = append(sources, eastmoney.New(d, hc))
        case "tencent":
            sources = append(sources, tencent.New(d, hc))
        case "netease":
            sources = append(sources, netease.New(d, hc))
        case "sina":
            sources = append(sources, sina.New(d, hc))
        }
    }
    if len(sources) == 0 {
        log.Fatal("no sources enabled")
    }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
    defer cancel()

    orch := failover.New(sources)
    q, err := orch.Fetch(ctx)
    if err != nil {
        var agg *quote.AllSourcesFailed
        if errors.As(err, &agg) {
            for _, reason := range agg.Reasons {
                log.Printf("%s: %v", reason.Source, reason)
            }
            for _, id := range agg.Muted {
                log.Printf("%s: muted", id)
            }
        }
        log.Fatalf("fetch: %v", err)
    }

    b, _ := json.MarshalIndent(q, "", "  ")
    fmt.Println(string(b))
}
