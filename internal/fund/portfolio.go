package fund

import (
    "context"
    "fmt"
    "log/slog"
    "regexp"
    "strings"
    "sync"
    "time"

    "golang.org/x/sync/singleflight"

    "goldboard/internal/persist"
    "goldboard/internal/quote"
)

// PortfolioService resolves a fund's disclosed top holdings and estimates the
// fund-level contribution of their same-day moves. Disclosures change once a
// quarter, so weights are cached for a long TTL (persisted across runs) and
// concurrent refreshes per fund are coalesced.
type PortfolioService struct {
    client      *Client
    cacheTTL    time.Duration
    minCoverage float64
    now         func() time.Time
    logger      *slog.Logger

    sf singleflight.Group

    mu    sync.Mutex
    cache map[string]persist.PortfolioRecord

    // onUpdate, when set, is called with a freshly scraped record so the
    // persistence collaborator can write it through.
    onUpdate func(code string, rec persist.PortfolioRecord)
}

type PortfolioOption func(*PortfolioService)

func WithPortfolioLogger(l *slog.Logger) PortfolioOption {
    return func(s *PortfolioService) { s.logger = l }
}

func WithPortfolioClock(now func() time.Time) PortfolioOption {
    return func(s *PortfolioService) { s.now = now }
}

func WithUpdateHook(fn func(code string, rec persist.PortfolioRecord)) PortfolioOption {
    return func(s *PortfolioService) { s.onUpdate = fn }
}

func NewPortfolioService(client *Client, cacheTTL time.Duration, minCoverage float64, opts ...PortfolioOption) *PortfolioService {
    s := &PortfolioService{
        client:      client,
        cacheTTL:    cacheTTL,
        minCoverage: minCoverage,
        now:         time.Now,
        logger:      slog.Default(),
        cache:       make(map[string]persist.PortfolioRecord),
    }
    for _, opt := range opts { opt(s) }
    return s
}

// SeedWeights loads persisted disclosure records at startup.
func (s *PortfolioService) SeedWeights(records map[string]persist.PortfolioRecord) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for code, rec := range records {
        s.cache[code] = rec
    }
}

// Snapshot copies the current weight cache for persistence.
func (s *PortfolioService) Snapshot() map[string]persist.PortfolioRecord {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make(map[string]persist.PortfolioRecord, len(s.cache))
    for code, rec := range s.cache {
        out[code] = rec
    }
    return out
}

// Contribution estimates the fund-level effect of the disclosed constituents'
// day moves. refresh forces a new disclosure scrape instead of the cache.
func (s *PortfolioService) Contribution(ctx context.Context, fundCode string, refresh bool) Contribution {
    weights, meta := s.weights(ctx, fundCode, refresh)
    if len(weights) == 0 {
        return Contribution{
            Holdings: []ConstituentRow{},
            Meta: ContributionMeta{
                ConfidenceLabel: "unavailable",
                ReportPeriod:    meta.ReportPeriod,
                Source:          meta.Source,
                EstimateMode:    meta.EstimateMode,
                ParseError:      meta.ParseError,
            },
        }
    }

    codes := make([]string, 0, len(weights))
    for _, w := range weights {
        codes = append(codes, w.StockCode)
    }
    stocks, err := s.client.FetchStockQuotes(ctx, codes)
    if err != nil {
        // Weights without quotes: zero coverage, estimate unavailable but the
        // constituent list still renders.
        s.logger.Warn("constituent quotes unavailable", "fund", fundCode, "err", err)
        stocks = map[string]StockQuote{}
    }

    c := Estimate(weights, stocks, s.minCoverage)
    c.Meta.ReportPeriod = meta.ReportPeriod
    c.Meta.Source = meta.Source
    c.Meta.EstimateMode = meta.EstimateMode
    c.Meta.ParseError = meta.ParseError
    if meta.EstimateMode != "" && c.Meta.WeightCoverage > 0 {
        // Degraded weights are approximate but still usable.
        c.Meta.ContributionAvailable = true
    }
    return c
}

// weightsMeta carries provenance for a resolved weight list.
type weightsMeta struct {
    ReportPeriod string
    Source       string
    EstimateMode string
    ParseError   string
}

func (s *PortfolioService) weights(ctx context.Context, fundCode string, refresh bool) ([]quote.PortfolioWeight, weightsMeta) {
    nowTS := s.now()

    var stale *persist.PortfolioRecord
    if !refresh {
        s.mu.Lock()
        if rec, ok := s.cache[fundCode]; ok {
            if nowTS.Sub(time.Unix(rec.FetchedAt, 0)) < s.cacheTTL {
                s.mu.Unlock()
                return rec.Weights, weightsMeta{ReportPeriod: rec.ReportPeriod, Source: "eastmoney"}
            }
            r := rec
            stale = &r
        }
        s.mu.Unlock()
    }

    type fetched struct {
        rec  persist.PortfolioRecord
        meta weightsMeta
    }
    v, err, _ := s.sf.Do(fundCode, func() (any, error) {
        rec, meta, err := s.scrape(ctx, fundCode)
        if err != nil {
            return nil, err
        }
        return fetched{rec: rec, meta: meta}, nil
    })
    if err == nil {
        f := v.(fetched)
        if len(f.rec.Weights) > 0 && f.meta.EstimateMode == "" {
            s.mu.Lock()
            s.cache[fundCode] = f.rec
            s.mu.Unlock()
            if s.onUpdate != nil {
                s.onUpdate(fundCode, f.rec)
            }
        }
        return f.rec.Weights, f.meta
    }

    // Scrape failed outright: fall back to an expired cache entry if we have
    // one rather than dropping the view.
    if stale != nil && len(stale.Weights) > 0 {
        s.logger.Debug("using expired disclosure cache", "fund", fundCode, "err", err)
        return stale.Weights, weightsMeta{
            ReportPeriod: stale.ReportPeriod,
            Source:       "eastmoney",
            EstimateMode: "cached_stale",
            ParseError:   "disclosure refresh failed, serving expired cache",
        }
    }
    return nil, weightsMeta{Source: "eastmoney", ParseError: err.Error()}
}

var (
    reportPeriodRe = regexp.MustCompile(`(\d{4})年(\d)季度`)
    holdingRowRe   = regexp.MustCompile(`(?s)<td[^>]*>\s*<a[^>]*>(\d{5,6})</a>\s*</td>\s*<td[^>]*>\s*<a[^>]*>([^<]+)</a>\s*</td>.*?<td[^>]*>(\d+\.?\d*)%\s*</td>`)
    contentRe      = regexp.MustCompile(`(?s)content\s*:\s*"(.*)"`)
    noDisclosureRe = regexp.MustCompile(`暂无持仓|暂无数据|无重仓股|未披露`)
    stockCodesRe   = regexp.MustCompile(`stockCodes=\[(.*?)\]`)
)

const maxConstituents = 10

// scrape pulls the F10 top-holdings table. When the table cannot be parsed
// it degrades to the legacy constituent list with equal weights.
func (s *PortfolioService) scrape(ctx context.Context, fundCode string) (persist.PortfolioRecord, weightsMeta, error) {
    body, err := s.client.get(ctx, fmt.Sprintf(s.client.portfolioURL, fundCode), "http://fundf10.eastmoney.com/", false)
    if err != nil {
        return persist.PortfolioRecord{}, weightsMeta{}, fmt.Errorf("portfolio %s: %w", fundCode, err)
    }
    text := string(body)
    if len(text) < 200 {
        return s.legacy(ctx, fundCode, "response too short")
    }
    if noDisclosureRe.MatchString(text) {
        return persist.PortfolioRecord{},
            weightsMeta{Source: "eastmoney", ParseError: "no disclosed holdings"},
            nil
    }
    if m := contentRe.FindStringSubmatch(text); m != nil {
        text = strings.NewReplacer(`\r`, "", `\n`, "", `\t`, "", `\"`, `"`).Replace(m[1])
    }

    reportPeriod := ""
    if m := reportPeriodRe.FindStringSubmatch(text); m != nil {
        reportPeriod = m[0]
    }

    rows := holdingRowRe.FindAllStringSubmatch(text, -1)
    if len(rows) == 0 {
        return s.legacy(ctx, fundCode, "disclosure table parse failed")
    }

    weights := make([]quote.PortfolioWeight, 0, maxConstituents)
    seen := make(map[string]bool, maxConstituents)
    for _, row := range rows {
        if len(weights) >= maxConstituents {
            break
        }
        code := row[1]
        if seen[code] {
            continue
        }
        seen[code] = true
        weights = append(weights, quote.PortfolioWeight{
            StockCode:    code,
            Name:         row[2],
            Weight:       num(row[3]) / 100,
            ReportPeriod: reportPeriod,
        })
    }

    rec := persist.PortfolioRecord{
        FetchedAt:    s.now().Unix(),
        ReportPeriod: reportPeriod,
        Weights:      weights,
    }
    return rec, weightsMeta{ReportPeriod: reportPeriod, Source: "eastmoney"}, nil
}

// legacy reads the old pingzhongdata constituent list. It has no weights, so
// constituents get an equal-weight estimate.
func (s *PortfolioService) legacy(ctx context.Context, fundCode, reason string) (persist.PortfolioRecord, weightsMeta, error) {
    body, err := s.client.get(ctx, fmt.Sprintf(s.client.legacyURL, fundCode), "http://fund.eastmoney.com/", false)
    if err != nil {
        return persist.PortfolioRecord{}, weightsMeta{}, fmt.Errorf("portfolio %s: %s; legacy: %w", fundCode, reason, err)
    }
    m := stockCodesRe.FindStringSubmatch(string(body))
    if m == nil || strings.TrimSpace(m[1]) == "" {
        return persist.PortfolioRecord{}, weightsMeta{}, fmt.Errorf("portfolio %s: %s; legacy list empty", fundCode, reason)
    }

    raw := strings.Split(m[1], ",")
    codes := make([]string, 0, maxConstituents)
    for _, c := range raw {
        c = strings.Trim(strings.TrimSpace(c), `"'`)
        // Legacy codes carry a market suffix digit beyond the 6-digit code.
        if len(c) > 6 {
            c = c[:6]
        }
        if c == "" {
            continue
        }
        codes = append(codes, c)
        if len(codes) >= maxConstituents {
            break
        }
    }
    if len(codes) == 0 {
        return persist.PortfolioRecord{}, weightsMeta{}, fmt.Errorf("portfolio %s: %s; legacy list empty", fundCode, reason)
    }

    w := 1.0 / float64(len(codes))
    weights := make([]quote.PortfolioWeight, 0, len(codes))
    for _, c := range codes {
        weights = append(weights, quote.PortfolioWeight{StockCode: c, Weight: w})
    }
    meta := weightsMeta{
        Source:       "fallback",
        EstimateMode: "equal_weight",
        ParseError:   reason + ", using equal-weight estimate",
    }
    return persist.PortfolioRecord{FetchedAt: s.now().Unix(), Weights: weights}, meta, nil
}
