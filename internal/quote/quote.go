package quote

import "time"

// Quote is one observed Au99.99 price point, normalized across sources.
// Price is CNY per gram; Change is price minus the previous close.
// Immutable once produced by an adapter.
type Quote struct {
    Price      float64   `json:"price"`
    Change     float64   `json:"change"`
    Open       float64   `json:"open"`
    PrevClose  float64   `json:"prev_close"`
    High       float64   `json:"high"`
    Low        float64   `json:"low"`
    ObservedAt time.Time `json:"observed_at"`
    Source     string    `json:"source"`
}

// FundQuote is a per-fund valuation snapshot. Price is the intraday NAV
// estimate; PrevNAV the last published unit NAV; ChangePct the estimated
// percent change. IsStale marks a cached value served after a fetch failure.
type FundQuote struct {
    Code      string    `json:"code"`
    Name      string    `json:"name"`
    Price     float64   `json:"price"`
    PrevNAV   float64   `json:"prev_nav"`
    ChangePct float64   `json:"change"`
    UpdatedAt time.Time `json:"updated_at"`
    Source    string    `json:"source"`
    IsStale   bool      `json:"is_stale"`
}

// Holding is a user-entered fund position. Owned by the persistence
// collaborator; the core only reads it during aggregation.
type Holding struct {
    Code      string  `json:"code"`
    Name      string  `json:"name,omitempty"`
    CostPrice float64 `json:"cost_price"`
    Shares    float64 `json:"shares"`
    Note      string  `json:"note,omitempty"`
}

// PortfolioWeight is one disclosed constituent of a fund's top holdings.
// Weight is a fraction in [0,1].
type PortfolioWeight struct {
    StockCode    string  `json:"code"`
    Name         string  `json:"name"`
    Weight       float64 `json:"weight"`
    ReportPeriod string  `json:"report_period"`
}
