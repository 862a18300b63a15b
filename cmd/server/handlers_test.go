package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "io"
    "log/slog"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "goldboard/internal/calendar"
    "goldboard/internal/config"
    "goldboard/internal/fund"
    "goldboard/internal/persist"
    "goldboard/internal/quote"
    "goldboard/internal/store"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

// estimateDoer answers the fundgz endpoint for any code in the URL.
func estimateDoer(price float64) doerFunc {
    return func(req *http.Request) (*http.Response, error) {
        url := req.URL.String()
        i := strings.Index(url, "/js/")
        if i < 0 {
            return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
        }
        code := url[i+4 : i+10]
        body := fmt.Sprintf(`jsonpgz({"fundcode":"%s","name":"fund %s","dwjz":"1.0","gsz":"%.4f","gszzl":"1.5","gztime":"2025-06-02 10:30"});`, code, code, price)
        return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
    }
}

type memPersist struct {
    saves []persist.State
}

func (m *memPersist) Load() (persist.State, error) { return persist.State{}, nil }
func (m *memPersist) Save(st persist.State) error  { m.saves = append(m.saves, st); return nil }

func newTestApp(doer fund.HTTPDoer) (*app, *memPersist) {
    cfg := config.Default()
    client := fund.NewClient(fund.WithHTTPDoer(doer))
    mp := &memPersist{}
    a := &app{
        cfg:       cfg,
        logger:    slog.Default(),
        store:     store.New(10),
        cal:       calendar.SGE{},
        agg:       fund.NewAggregator(client, time.Minute, 5*time.Minute, 4, time.Second),
        portfolio: fund.NewPortfolioService(client, 24*time.Hour, cfg.Fund.MinCoverage),
        persist:   mp,
    }
    return a, mp
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
    t.Helper()
    var m map[string]any
    if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
        t.Fatalf("decode: %v body=%s", err, rr.Body.String())
    }
    return m
}

func TestPriceHandler(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))

    // Before the first fetch: 503 with a structured error.
    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/price", nil))
    if rr.Code != http.StatusServiceUnavailable {
        t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
    }
    if m := decode(t, rr); m["success"] != false {
        t.Fatalf("expected success=false: %v", m)
    }

    a.store.Write(quote.Quote{Price: 485.30, Change: 1.2, ObservedAt: time.Now(), Source: "tencent"})
    rr = httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/price", nil))
    if rr.Code != http.StatusOK {
        t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
    }
    m := decode(t, rr)
    if m["success"] != true || m["is_stale"] != false || m["connected"] != true {
        t.Fatalf("unexpected envelope: %v", m)
    }
    data := m["data"].(map[string]any)
    if data["price"].(float64) != 485.30 || data["source"] != "tencent" {
        t.Fatalf("unexpected data: %v", data)
    }
}

func TestPriceHandler_StaleWhenDisconnected(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))
    a.store.Write(quote.Quote{Price: 485.30, ObservedAt: time.Now()})
    a.store.SetConnected(false)

    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/price", nil))
    m := decode(t, rr)
    if m["is_stale"] != true || m["connected"] != false {
        t.Fatalf("disconnected store should serve stale data: %v", m)
    }
    if m["data"].(map[string]any)["price"].(float64) != 485.30 {
        t.Fatalf("last-known quote missing: %v", m)
    }
}

func TestHistoryHandler(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))
    now := time.Now()
    for _, min := range []int{-9, -7, -5, -3, -1} {
        a.store.Write(quote.Quote{Price: 480, ObservedAt: now.Add(time.Duration(min) * time.Minute)})
    }

    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
    if m := decode(t, rr); m["count"].(float64) != 5 {
        t.Fatalf("want all 5 entries: %v", m)
    }

    rr = httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?minutes=4", nil))
    if m := decode(t, rr); m["count"].(float64) != 2 {
        t.Fatalf("want 2 entries in window: %v", m)
    }

    rr = httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?minutes=-1", nil))
    if rr.Code != http.StatusBadRequest {
        t.Fatalf("negative minutes should 400, got %d", rr.Code)
    }
}

func TestTradingStatusHandler(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))
    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/trading-status", nil))
    if rr.Code != http.StatusOK {
        t.Fatalf("status=%d", rr.Code)
    }
    m := decode(t, rr)
    data := m["data"].(map[string]any)
    if _, ok := data["trading_phase"]; !ok {
        t.Fatalf("missing trading_phase: %v", data)
    }
    if _, ok := data["is_trading_time"]; !ok {
        t.Fatalf("missing is_trading_time: %v", data)
    }
}

func TestFundsHandler(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))
    a.watchlist = []string{"000001", "000002"}

    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/funds", nil))
    if m := decode(t, rr); m["count"].(float64) != 2 {
        t.Fatalf("want watchlist quotes: %v", m)
    }

    // codes param overrides the watchlist.
    rr = httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/funds?codes=000003", nil))
    m := decode(t, rr)
    if m["count"].(float64) != 1 {
        t.Fatalf("want 1 quote: %v", m)
    }
    row := m["data"].([]any)[0].(map[string]any)
    if row["code"] != "000003" {
        t.Fatalf("unexpected code: %v", row)
    }
}

func TestHoldingsHandler_GetBuildsSummary(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))
    a.holdings = []quote.Holding{{Code: "000001", CostPrice: 1.0, Shares: 1000}}

    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/holdings", nil))
    if rr.Code != http.StatusOK {
        t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
    }
    m := decode(t, rr)
    summary := m["summary"].(map[string]any)
    if summary["total_cost"].(float64) != 1000 || summary["total_value"].(float64) != 1050 {
        t.Fatalf("unexpected summary: %v", summary)
    }
    row := m["data"].([]any)[0].(map[string]any)
    if row["data_available"] != true {
        t.Fatalf("row should have data: %v", row)
    }
}

func TestHoldingsHandler_PutValidatesAndPersists(t *testing.T) {
    a, mp := newTestApp(estimateDoer(1.05))
    a.alerts = json.RawMessage(`{"price_above":500}`)

    body := `{"holdings":[{"code":"005827","name":"x","cost_price":2.0,"shares":1000}]}`
    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/holdings", strings.NewReader(body)))
    if rr.Code != http.StatusOK {
        t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
    }
    if len(mp.saves) != 1 || len(mp.saves[0].Holdings) != 1 {
        t.Fatalf("state not persisted: %+v", mp.saves)
    }
    if string(mp.saves[0].AlertSettings) != `{"price_above":500}` {
        t.Fatalf("alert settings dropped on save: %s", mp.saves[0].AlertSettings)
    }
    if len(a.holdings) != 1 || a.holdings[0].Code != "005827" {
        t.Fatalf("holdings not updated: %+v", a.holdings)
    }

    for _, bad := range []string{
        `{"holdings":[{"code":"","cost_price":1,"shares":1}]}`,
        `{"holdings":[{"code":"a","shares":-1}]}`,
        `{"holdings":[{"code":"a"},{"code":"a"}]}`,
        `{not json`,
    } {
        rr := httptest.NewRecorder()
        a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/holdings", strings.NewReader(bad)))
        if rr.Code != http.StatusBadRequest {
            t.Fatalf("body %q: want 400, got %d", bad, rr.Code)
        }
    }
    if len(mp.saves) != 1 {
        t.Fatalf("rejected updates must not persist: %d saves", len(mp.saves))
    }
}

func TestFundsHandler_PutReplacesWatchlist(t *testing.T) {
    a, mp := newTestApp(estimateDoer(1.05))

    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/funds", strings.NewReader(`{"codes":["005827","000001"]}`)))
    if rr.Code != http.StatusOK {
        t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
    }
    if len(a.watchlist) != 2 || a.watchlist[0] != "005827" {
        t.Fatalf("watchlist not updated: %v", a.watchlist)
    }
    if len(mp.saves) != 1 || len(mp.saves[0].Watchlist) != 2 {
        t.Fatalf("state not persisted: %+v", mp.saves)
    }

    for _, bad := range []string{
        `{"codes":["12345"]}`,
        `{"codes":["00582a"]}`,
        `{"codes":["005827","005827"]}`,
        `{not json`,
    } {
        rr := httptest.NewRecorder()
        a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/funds", strings.NewReader(bad)))
        if rr.Code != http.StatusBadRequest {
            t.Fatalf("body %q: want 400, got %d", bad, rr.Code)
        }
    }
    if len(a.watchlist) != 2 {
        t.Fatalf("rejected updates must not apply: %v", a.watchlist)
    }
}

func TestFundPortfolioHandler_RequiresCode(t *testing.T) {
    a, _ := newTestApp(estimateDoer(1.05))
    rr := httptest.NewRecorder()
    a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/fund-portfolio", nil))
    if rr.Code != http.StatusBadRequest {
        t.Fatalf("missing code should 400, got %d", rr.Code)
    }
}
