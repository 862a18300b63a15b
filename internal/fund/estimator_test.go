package fund_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goldboard/internal/fund"
	"goldboard/internal/quote"
)

func TestEstimate_WeightedContribution(t *testing.T) {
	t.Parallel()

	weights := []quote.PortfolioWeight{
		{StockCode: "600519", Name: "贵州茅台", Weight: 0.3, ReportPeriod: "2025年1季度"},
		{StockCode: "000858", Name: "五粮液", Weight: 0.2, ReportPeriod: "2025年1季度"},
	}
	stocks := map[string]fund.StockQuote{
		"600519": {Code: "600519", Price: 1713.44, ChangePct: 2.0},
		"000858": {Code: "000858", Price: 139.59, ChangePct: -1.0},
	}

	c := fund.Estimate(weights, stocks, 0.40)
	require.Len(t, c.Holdings, 2)

	require.NotNil(t, c.Holdings[0].Contribution)
	require.InDelta(t, 0.6, *c.Holdings[0].Contribution, 1e-9)
	require.NotNil(t, c.Holdings[1].Contribution)
	require.InDelta(t, -0.2, *c.Holdings[1].Contribution, 1e-9)

	require.InDelta(t, 0.4, c.Meta.ContributionTotal, 1e-9)
	require.InDelta(t, 0.5, c.Meta.WeightCoverage, 1e-9)
	require.True(t, c.Meta.ContributionAvailable)
	require.Equal(t, "medium", c.Meta.ConfidenceLabel)
	require.Equal(t, "2025年1季度", c.Meta.ReportPeriod)
}

func TestEstimate_LowCoverageIsFlaggedNotPresented(t *testing.T) {
	t.Parallel()

	weights := []quote.PortfolioWeight{
		{StockCode: "600519", Weight: 0.3},
		{StockCode: "000858", Weight: 0.2},
	}
	stocks := map[string]fund.StockQuote{
		"600519": {Code: "600519", Price: 1713.44, ChangePct: 2.0},
		"000858": {Code: "000858", Price: 139.59, ChangePct: -1.0},
	}

	// Coverage 0.5 sits below a 0.6 floor: the number is still computed but
	// must not be presented as reliable.
	c := fund.Estimate(weights, stocks, 0.60)
	require.InDelta(t, 0.5, c.Meta.WeightCoverage, 1e-9)
	require.False(t, c.Meta.ContributionAvailable)
	require.Equal(t, "low", c.Meta.ConfidenceLabel)
}

func TestEstimate_HighCoverage(t *testing.T) {
	t.Parallel()

	weights := []quote.PortfolioWeight{
		{StockCode: "600519", Weight: 0.45},
		{StockCode: "000858", Weight: 0.30},
	}
	stocks := map[string]fund.StockQuote{
		"600519": {Price: 1713.44, ChangePct: 1.0},
		"000858": {Price: 139.59, ChangePct: 1.0},
	}

	c := fund.Estimate(weights, stocks, 0.40)
	require.Equal(t, "high", c.Meta.ConfidenceLabel)
	require.InDelta(t, 0.75, c.Meta.WeightCoverage, 1e-9)
}

func TestEstimate_UnresolvedStockExcludedFromCoverage(t *testing.T) {
	t.Parallel()

	weights := []quote.PortfolioWeight{
		{StockCode: "600519", Weight: 0.3},
		{StockCode: "688000", Weight: 0.4}, // no quote resolved
	}
	stocks := map[string]fund.StockQuote{
		"600519": {Price: 1713.44, ChangePct: 2.0},
	}

	c := fund.Estimate(weights, stocks, 0.40)
	require.Len(t, c.Holdings, 2) // the row still renders
	require.Nil(t, c.Holdings[1].Contribution)
	require.InDelta(t, 0.3, c.Meta.WeightCoverage, 1e-9)
	require.Equal(t, "low", c.Meta.ConfidenceLabel)
	require.False(t, c.Meta.ContributionAvailable)
}

func TestEstimate_NoData(t *testing.T) {
	t.Parallel()

	c := fund.Estimate(nil, nil, 0.40)
	require.Empty(t, c.Holdings)
	require.Equal(t, "unavailable", c.Meta.ConfidenceLabel)
	require.False(t, c.Meta.ContributionAvailable)
}
