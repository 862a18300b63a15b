package fund

import (
    "context"
    "log/slog"
    "sync"
    "time"

    "golang.org/x/sync/errgroup"

    "goldboard/internal/quote"
)

// Aggregator fans out fund valuation fetches across a bounded worker pool and
// merges results against its own cache. One failing code never fails the
// batch: the entry degrades to the last cached value with IsStale set, so the
// caller never sees a hole where a holding used to be.
type Aggregator struct {
    client *Client
    logger *slog.Logger

    ttl        time.Duration // cache freshness window (fast mode)
    staleTTL   time.Duration // how old a cached value may be served as stale
    maxWorkers int
    timeout    time.Duration // per-fetch bound; batch worst case is one timeout
    now        func() time.Time

    mu    sync.RWMutex
    cache map[string]cachedFund
}

type cachedFund struct {
    q  quote.FundQuote
    at time.Time
}

type AggregatorOption func(*Aggregator)

func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
    return func(a *Aggregator) { a.logger = l }
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
    return func(a *Aggregator) { a.now = now }
}

// NewAggregator builds an Aggregator. ttl is the fast-mode freshness window,
// staleTTL the maximum age of a degraded cache entry, maxWorkers the fan-out
// bound, timeout the per-fetch deadline.
func NewAggregator(client *Client, ttl, staleTTL time.Duration, maxWorkers int, timeout time.Duration, opts ...AggregatorOption) *Aggregator {
    if maxWorkers <= 0 { maxWorkers = 1 }
    a := &Aggregator{
        client:     client,
        logger:     slog.Default(),
        ttl:        ttl,
        staleTTL:   staleTTL,
        maxWorkers: maxWorkers,
        timeout:    timeout,
        now:        time.Now,
        cache:      make(map[string]cachedFund),
    }
    for _, opt := range opts { opt(a) }
    return a
}

// FetchAll returns one FundQuote per requested code. fastMode serves cache
// entries younger than the TTL without a live fetch; otherwise every code is
// fetched concurrently, bounded by the worker pool.
func (a *Aggregator) FetchAll(ctx context.Context, codes []string, fastMode bool) map[string]quote.FundQuote {
    codes = dedupe(codes)
    out := make(map[string]quote.FundQuote, len(codes))
    if len(codes) == 0 {
        return out
    }
    now := a.now()

    // Copy the minimal cache state out; no upstream work under the lock.
    type plan struct {
        code   string
        cached *quote.FundQuote
        age    time.Duration
        fetch  bool
    }
    plans := make([]plan, 0, len(codes))
    a.mu.RLock()
    for _, code := range codes {
        p := plan{code: code, fetch: true}
        if e, ok := a.cache[code]; ok {
            q := e.q
            p.cached = &q
            p.age = now.Sub(e.at)
            if fastMode && p.age < a.ttl {
                p.fetch = false
            }
        }
        plans = append(plans, p)
    }
    a.mu.RUnlock()

    // Fan out over the missing codes; results land in per-index slots, so the
    // reduction is deterministic and lock free.
    type result struct {
        q   quote.FundQuote
        err error
    }
    results := make([]result, len(plans))
    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(a.maxWorkers)
    for i, p := range plans {
        if !p.fetch {
            continue
        }
        i, code := i, p.code
        g.Go(func() error {
            fctx := gctx
            if a.timeout > 0 {
                var cancel context.CancelFunc
                fctx, cancel = context.WithTimeout(gctx, a.timeout)
                defer cancel()
            }
            q, err := a.client.FetchFund(fctx, code)
            results[i] = result{q: q, err: err}
            return nil // a failed code degrades, it never cancels the batch
        })
    }
    _ = g.Wait()

    // Merge in one short critical section.
    a.mu.Lock()
    for i, p := range plans {
        if !p.fetch {
            continue
        }
        if results[i].err == nil {
            a.cache[p.code] = cachedFund{q: results[i].q, at: now}
        }
    }
    a.mu.Unlock()

    for i, p := range plans {
        switch {
        case !p.fetch:
            q := *p.cached
            q.IsStale = p.age >= a.ttl
            out[p.code] = q
        case results[i].err == nil:
            out[p.code] = results[i].q
        case p.cached != nil && p.age < a.staleTTL:
            a.logger.Debug("serving stale fund quote", "code", p.code, "err", results[i].err)
            q := *p.cached
            q.IsStale = true
            out[p.code] = q
        default:
            a.logger.Warn("fund fetch failed with no usable cache", "code", p.code, "err", results[i].err)
            out[p.code] = quote.FundQuote{Code: p.code, IsStale: true, UpdatedAt: now}
        }
    }
    return out
}

func dedupe(in []string) []string {
    seen := make(map[string]struct{}, len(in))
    out := make([]string, 0, len(in))
    for _, s := range in {
        if s == "" { continue }
        if _, ok := seen[s]; ok { continue }
        seen[s] = struct{}{}
        out = append(out, s)
    }
    return out
}
