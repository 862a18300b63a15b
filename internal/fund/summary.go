package fund

import (
    "time"

    "github.com/shopspring/decimal"

    "goldboard/internal/quote"
)

// HoldingRow is one holding with its valuation and P/L.
type HoldingRow struct {
    Code          string    `json:"code"`
    Name          string    `json:"name"`
    CostPrice     float64   `json:"cost_price"`
    Shares        float64   `json:"shares"`
    CurrentPrice  float64   `json:"current_price"`
    ChangePct     float64   `json:"change"`
    ProfitRate    float64   `json:"profit_rate"`
    ProfitAmount  float64   `json:"profit_amount"`
    TodayProfit   float64   `json:"today_profit"`
    MarketValue   float64   `json:"market_value"`
    Cost          float64   `json:"cost"`
    UpdatedAt     time.Time `json:"updated_at,omitzero"`
    Source        string    `json:"source,omitempty"`
    Note          string    `json:"note,omitempty"`
    DataAvailable bool      `json:"data_available"`
    IsStale       bool      `json:"is_stale"`
}

// Aggregates are the portfolio-level totals.
type Aggregates struct {
    TotalCost       float64 `json:"total_cost"`
    TotalValue      float64 `json:"total_value"`
    TotalProfit     float64 `json:"total_profit"`
    TotalProfitRate float64 `json:"total_profit_rate"`
    TodayProfit     float64 `json:"today_profit"`
    Count           int     `json:"count"`
}

// Summary combines per-holding rows with the recomputed aggregates.
type Summary struct {
    PerHolding []HoldingRow `json:"data"`
    Aggregates Aggregates   `json:"summary"`
}

// BuildSummary merges holdings with the fetched fund quotes and recomputes
// all aggregates. Pure: no locks, no I/O. Money math runs on decimals and is
// rounded once at the edge.
func BuildSummary(holdings []quote.Holding, quotes map[string]quote.FundQuote) Summary {
    rows := make([]HoldingRow, 0, len(holdings))
    totalCost := decimal.Zero
    totalValue := decimal.Zero
    todayProfit := decimal.Zero

    for _, h := range holdings {
        fq, ok := quotes[h.Code]
        costPrice := decimal.NewFromFloat(h.CostPrice)
        shares := decimal.NewFromFloat(h.Shares)
        cost := costPrice.Mul(shares)
        totalCost = totalCost.Add(cost)

        row := HoldingRow{
            Code:      h.Code,
            Name:      h.Name,
            CostPrice: round(costPrice, 4),
            Shares:    round(shares, 2),
            Cost:      round(cost, 2),
            Note:      h.Note,
        }
        if ok && fq.Price > 0 {
            price := decimal.NewFromFloat(fq.Price)
            value := price.Mul(shares)
            profit := value.Sub(cost)
            totalValue = totalValue.Add(value)

            row.Name = pick(fq.Name, h.Name)
            row.CurrentPrice = round(price, 4)
            row.ChangePct = fq.ChangePct
            row.MarketValue = round(value, 2)
            row.ProfitAmount = round(profit, 2)
            if costPrice.IsPositive() {
                row.ProfitRate = round(price.Sub(costPrice).Div(costPrice).Mul(decimal.NewFromInt(100)), 2)
            }
            if prev := previousNAV(fq); prev.IsPositive() {
                tp := price.Sub(prev).Mul(shares)
                row.TodayProfit = round(tp, 2)
                todayProfit = todayProfit.Add(tp)
            }
            row.UpdatedAt = fq.UpdatedAt
            row.Source = fq.Source
            row.DataAvailable = true
            row.IsStale = fq.IsStale
        }
        rows = append(rows, row)
    }

    totalProfit := totalValue.Sub(totalCost)
    agg := Aggregates{
        TotalCost:   round(totalCost, 2),
        TotalValue:  round(totalValue, 2),
        TotalProfit: round(totalProfit, 2),
        TodayProfit: round(todayProfit, 2),
        Count:       len(rows),
    }
    if totalCost.IsPositive() {
        agg.TotalProfitRate = round(totalProfit.Div(totalCost).Mul(decimal.NewFromInt(100)), 2)
    }
    return Summary{PerHolding: rows, Aggregates: agg}
}

// previousNAV returns the reference NAV for today's P/L. When the upstream
// omits it, the estimate and the percent change let us back it out:
// prev = price / (1 + change/100).
func previousNAV(fq quote.FundQuote) decimal.Decimal {
    if fq.PrevNAV > 0 {
        return decimal.NewFromFloat(fq.PrevNAV)
    }
    if fq.Price > 0 && fq.ChangePct != 0 {
        factor := decimal.NewFromFloat(1 + fq.ChangePct/100)
        if !factor.IsZero() {
            return decimal.NewFromFloat(fq.Price).Div(factor)
        }
    }
    return decimal.Zero
}

func round(d decimal.Decimal, places int32) float64 {
    f, _ := d.Round(places).Float64()
    return f
}

func pick(a, b string) string {
    if a != "" {
        return a
    }
    return b
}
