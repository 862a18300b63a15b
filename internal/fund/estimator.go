package fund

import (
    "math"

    "goldboard/internal/quote"
)

// ConstituentRow is one disclosed stock with its resolved day move and the
// resulting contribution. Contribution is nil when the stock's quote or
// weight could not be resolved.
type ConstituentRow struct {
    Code         string   `json:"code"`
    Name         string   `json:"name"`
    Weight       float64  `json:"weight"`
    Price        float64  `json:"price"`
    ChangePct    float64  `json:"change_percent"`
    Contribution *float64 `json:"contribution"`
    ReportPeriod string   `json:"report_period,omitempty"`
}

// ContributionMeta qualifies the estimate. The number is never presented
// without it: WeightCoverage says how much of the fund the resolved
// constituents explain, and ConfidenceLabel/ContributionAvailable tell the
// presentation layer how hard to lean on it.
type ContributionMeta struct {
    WeightCoverage        float64 `json:"weight_coverage"`
    ContributionTotal     float64 `json:"contribution_total"`
    ContributionAvailable bool    `json:"contribution_available"`
    ConfidenceLabel       string  `json:"confidence_label"`
    ReportPeriod          string  `json:"report_period"`
    Source                string  `json:"source,omitempty"`
    EstimateMode          string  `json:"estimate_mode,omitempty"`
    ParseError            string  `json:"parse_error,omitempty"`
}

// Contribution is the full estimate for one fund.
type Contribution struct {
    Holdings []ConstituentRow `json:"holdings"`
    Meta     ContributionMeta `json:"meta"`
}

// Coverage band above which the label reads "high".
const highCoverage = 0.70

// Estimate combines disclosed weights with same-day stock moves:
// contribution_i = weight_i * changePct_i, summed over constituents whose
// quote resolved. Coverage is the summed weight of those constituents;
// estimates below minCoverage are flagged unavailable rather than presented
// as exact.
func Estimate(weights []quote.PortfolioWeight, stocks map[string]StockQuote, minCoverage float64) Contribution {
    rows := make([]ConstituentRow, 0, len(weights))
    coverage := 0.0
    total := 0.0

    for _, w := range weights {
        row := ConstituentRow{
            Code:         w.StockCode,
            Name:         w.Name,
            Weight:       w.Weight,
            ReportPeriod: w.ReportPeriod,
        }
        if sq, ok := stocks[w.StockCode]; ok && sq.Price > 0 {
            if sq.Name != "" && row.Name == "" {
                row.Name = sq.Name
            }
            row.Price = sq.Price
            row.ChangePct = sq.ChangePct
            if w.Weight > 0 {
                c := round4(w.Weight * sq.ChangePct)
                row.Contribution = &c
                coverage += w.Weight
                total += c
            }
        }
        rows = append(rows, row)
    }

    meta := ContributionMeta{
        WeightCoverage:        round4(coverage),
        ContributionTotal:     round4(total),
        ContributionAvailable: coverage >= minCoverage && coverage > 0,
        ConfidenceLabel:       confidence(coverage, minCoverage),
    }
    if len(rows) > 0 {
        meta.ReportPeriod = rows[0].ReportPeriod
    }
    return Contribution{Holdings: rows, Meta: meta}
}

func confidence(coverage, minCoverage float64) string {
    switch {
    case coverage >= highCoverage:
        return "high"
    case coverage >= minCoverage && coverage > 0:
        return "medium"
    case coverage > 0:
        return "low"
    default:
        return "unavailable"
    }
}

func round4(v float64) float64 {
    return math.Round(v*10000) / 10000
}
