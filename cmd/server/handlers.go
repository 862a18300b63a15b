package main

import (
    "encoding/json"
    "log/slog"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "goldboard/internal/calendar"
    "goldboard/internal/config"
    "goldboard/internal/fund"
    "goldboard/internal/persist"
    "goldboard/internal/quote"
    "goldboard/internal/store"
)

// app carries the handler dependencies. Watchlist and holdings are the only
// mutable server-side user state; everything else is read-through.
type app struct {
    cfg       config.Config
    logger    *slog.Logger
    store     *store.Store
    cal       calendar.Calendar
    agg       *fund.Aggregator
    portfolio *fund.PortfolioService
    persist   persist.Store

    mu        sync.Mutex
    watchlist []string
    holdings  []quote.Holding
    alerts    json.RawMessage // opaque UI state, round-tripped untouched

    saveMu sync.Mutex
}

func (a *app) routes() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", a.handleHealthz)
    mux.HandleFunc("/api/price", a.handlePrice)
    mux.HandleFunc("/api/history", a.handleHistory)
    mux.HandleFunc("/api/trading-status", a.handleTradingStatus)
    mux.HandleFunc("/api/funds", a.handleFunds)
    mux.HandleFunc("/api/holdings", a.handleHoldings)
    mux.HandleFunc("/api/fund-portfolio", a.handleFundPortfolio)
    return mux
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{
        "status":    "ok",
        "connected": a.store.Connected(),
    })
}

func (a *app) handlePrice(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        writeError(w, http.StatusMethodNotAllowed, "method not allowed")
        return
    }
    q, ok := a.store.ReadLatest()
    if !ok {
        writeError(w, http.StatusServiceUnavailable, "no price data yet")
        return
    }
    stale := !a.store.Connected() ||
        time.Since(q.ObservedAt) > time.Duration(a.cfg.Refresh.StaleThresholdSec)*time.Second
    writeJSON(w, http.StatusOK, map[string]any{
        "success":   true,
        "data":      q,
        "is_stale":  stale,
        "connected": a.store.Connected(),
    })
}

func (a *app) handleHistory(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        writeError(w, http.StatusMethodNotAllowed, "method not allowed")
        return
    }
    since := time.Time{}
    if v := r.URL.Query().Get("minutes"); v != "" {
        mins, err := strconv.Atoi(v)
        if err != nil || mins <= 0 {
            writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
            return
        }
        since = time.Now().Add(-time.Duration(mins) * time.Minute)
    }
    hist := a.store.ReadHistory(since)
    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "data":    hist,
        "count":   len(hist),
    })
}

func (a *app) handleTradingStatus(w http.ResponseWriter, r *http.Request) {
    status := a.cal.Status(time.Now())
    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "data":    status,
    })
}

func (a *app) handleFunds(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        a.getFunds(w, r)
    case http.MethodPut:
        a.putWatchlist(w, r)
    default:
        writeError(w, http.StatusMethodNotAllowed, "method not allowed")
    }
}

func (a *app) getFunds(w http.ResponseWriter, r *http.Request) {
    codes := splitCSV(r.URL.Query().Get("codes"))
    if len(codes) == 0 {
        a.mu.Lock()
        codes = append(codes, a.watchlist...)
        a.mu.Unlock()
    }
    fast := r.URL.Query().Get("fast") == "1"
    quotes := a.agg.FetchAll(r.Context(), codes, fast)

    // Keep request order in the response.
    out := make([]quote.FundQuote, 0, len(codes))
    seen := make(map[string]bool, len(codes))
    for _, code := range codes {
        if seen[code] { continue }
        seen[code] = true
        if fq, ok := quotes[code]; ok {
            out = append(out, fq)
        }
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "data":    out,
        "count":   len(out),
    })
}

type watchlistBody struct {
    Codes []string `json:"codes"`
}

func (a *app) putWatchlist(w http.ResponseWriter, r *http.Request) {
    var b watchlistBody
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&b); err != nil {
        writeError(w, http.StatusBadRequest, "invalid JSON body")
        return
    }
    seen := make(map[string]bool, len(b.Codes))
    for _, code := range b.Codes {
        if !validFundCode(code) {
            writeError(w, http.StatusBadRequest, "fund code must be 6 digits: "+code)
            return
        }
        if seen[code] {
            writeError(w, http.StatusBadRequest, "duplicate fund code "+code)
            return
        }
        seen[code] = true
    }

    a.mu.Lock()
    a.watchlist = b.Codes
    a.mu.Unlock()
    a.saveState()

    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "count":   len(b.Codes),
    })
}

func (a *app) handleHoldings(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        a.getHoldings(w, r)
    case http.MethodPut:
        a.putHoldings(w, r)
    default:
        writeError(w, http.StatusMethodNotAllowed, "method not allowed")
    }
}

func (a *app) getHoldings(w http.ResponseWriter, r *http.Request) {
    a.mu.Lock()
    holdings := make([]quote.Holding, len(a.holdings))
    copy(holdings, a.holdings)
    a.mu.Unlock()

    codes := make([]string, 0, len(holdings))
    for _, h := range holdings {
        codes = append(codes, h.Code)
    }
    fast := r.URL.Query().Get("fast") == "1"
    quotes := a.agg.FetchAll(r.Context(), codes, fast)
    s := fund.BuildSummary(holdings, quotes)
    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "data":    s.PerHolding,
        "summary": s.Aggregates,
    })
}

type holdingsBody struct {
    Holdings []quote.Holding `json:"holdings"`
}

func (a *app) putHoldings(w http.ResponseWriter, r *http.Request) {
    var b holdingsBody
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&b); err != nil {
        writeError(w, http.StatusBadRequest, "invalid JSON body")
        return
    }
    seen := make(map[string]bool, len(b.Holdings))
    for _, h := range b.Holdings {
        if h.Code == "" {
            writeError(w, http.StatusBadRequest, "holding with empty code")
            return
        }
        if seen[h.Code] {
            writeError(w, http.StatusBadRequest, "duplicate holding "+h.Code)
            return
        }
        seen[h.Code] = true
        if h.Shares < 0 || h.CostPrice < 0 {
            writeError(w, http.StatusBadRequest, "holding "+h.Code+" has negative shares or cost")
            return
        }
    }

    a.mu.Lock()
    a.holdings = b.Holdings
    a.mu.Unlock()
    a.saveState()

    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "count":   len(b.Holdings),
    })
}

func (a *app) handleFundPortfolio(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        writeError(w, http.StatusMethodNotAllowed, "method not allowed")
        return
    }
    code := r.URL.Query().Get("code")
    if code == "" {
        writeError(w, http.StatusBadRequest, "missing code query param")
        return
    }
    refresh := r.URL.Query().Get("refresh") == "1"
    c := a.portfolio.Contribution(r.Context(), code, refresh)
    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "data":    c.Holdings,
        "meta":    c.Meta,
    })
}

// saveState snapshots the mutable state and writes it through the persistence
// collaborator. Serialized so concurrent mutations cannot interleave writes.
func (a *app) saveState() {
    a.mu.Lock()
    st := persist.State{
        Watchlist:     append([]string(nil), a.watchlist...),
        Holdings:      append([]quote.Holding(nil), a.holdings...),
        PriceHistory:  a.store.ReadHistory(time.Time{}),
        Portfolios:    a.portfolio.Snapshot(),
        AlertSettings: a.alerts,
    }
    a.mu.Unlock()

    a.saveMu.Lock()
    defer a.saveMu.Unlock()
    if err := a.persist.Save(st); err != nil {
        a.logger.Warn("state save failed", "err", err)
    }
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
    writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func validFundCode(code string) bool {
    if len(code) != 6 {
        return false
    }
    for _, r := range code {
        if r < '0' || r > '9' {
            return false
        }
    }
    return true
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
