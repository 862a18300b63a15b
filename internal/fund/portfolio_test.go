package fund_test

import (
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"goldboard/internal/fund"
	"goldboard/internal/persist"
	"goldboard/internal/quote"
)

const f10Body = `var apidata={ content:"<div class='boxitem'><h4>2025年1季度 股票投资明细</h4><table><tbody>` +
	`<tr><td>1</td><td><a href='x'>600519</a></td><td><a href='x'>贵州茅台</a></td><td>份额</td><td>9.50%</td></tr>` +
	`<tr><td>2</td><td><a href='x'>000858</a></td><td><a href='x'>五粮液</a></td><td>份额</td><td>7.20%</td></tr>` +
	`</tbody></table></div>",arryear:[2025],curyear:2025};`

const hqBody = `var hq_str_sh600519="贵州茅台,1700.00,1680.00,1713.44";` + "\n" +
	`var hq_str_sz000858="五粮液,140.00,141.00,139.59";`

// portfolioDoer routes the F10 disclosure, legacy list, and sina hq endpoints.
type routes struct {
	mu     sync.Mutex
	f10    func() (*http.Response, error)
	legacy func() (*http.Response, error)
	hq     func() (*http.Response, error)

	f10Calls int
}

func newPortfolioDoer(t *testing.T, ctrl *gomock.Controller, r *routes) *MockHTTPDoer {
	doer := NewMockHTTPDoer(ctrl)
	doer.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			url := req.URL.String()
			switch {
			case strings.Contains(url, "FundArchivesDatas"):
				r.f10Calls++
				return r.f10()
			case strings.Contains(url, "pingzhongdata"):
				return r.legacy()
			case strings.Contains(url, "hq.sinajs"):
				return r.hq()
			}
			t.Errorf("unexpected request: %s", url)
			return response(http.StatusNotFound, nil), nil
		}).
		AnyTimes()
	return doer
}

func okF10() (*http.Response, error) { return response(http.StatusOK, []byte(f10Body)), nil }

func okHQ(t *testing.T) func() (*http.Response, error) {
	body := gbk(t, hqBody)
	return func() (*http.Response, error) { return response(http.StatusOK, body), nil }
}

func down() (*http.Response, error) { return response(http.StatusBadGateway, nil), nil }

func TestContribution_ScrapedWeights(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	r := &routes{f10: okF10, hq: okHQ(t)}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40)

	got := svc.Contribution(t.Context(), "005827", false)
	require.Len(t, got.Holdings, 2)

	h0 := got.Holdings[0]
	require.Equal(t, "600519", h0.Code)
	require.Equal(t, "贵州茅台", h0.Name)
	require.InDelta(t, 0.095, h0.Weight, 1e-9)
	require.InDelta(t, 1713.44, h0.Price, 1e-9)
	require.NotNil(t, h0.Contribution)
	require.InDelta(t, 0.1891, *h0.Contribution, 1e-3) // 0.095 * 1.99, rounded

	require.Equal(t, "2025年1季度", got.Meta.ReportPeriod)
	require.Equal(t, "eastmoney", got.Meta.Source)
	require.Empty(t, got.Meta.EstimateMode)
	require.InDelta(t, 0.167, got.Meta.WeightCoverage, 1e-3)
	require.Equal(t, "low", got.Meta.ConfidenceLabel) // 16.7% of the fund explained
	require.False(t, got.Meta.ContributionAvailable)
}

func TestContribution_CachesWeightsAcrossCalls(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	r := &routes{f10: okF10, hq: okHQ(t)}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40)

	svc.Contribution(t.Context(), "005827", false)
	svc.Contribution(t.Context(), "005827", false)
	require.Equal(t, 1, r.f10Calls, "second call should use the weight cache")

	// refresh=true bypasses the cache.
	svc.Contribution(t.Context(), "005827", true)
	require.Equal(t, 2, r.f10Calls)
}

func TestContribution_UpdateHookAndSeed(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	r := &routes{f10: okF10, hq: okHQ(t)}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))

	var hookMu sync.Mutex
	saved := map[string]persist.PortfolioRecord{}
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40,
		fund.WithUpdateHook(func(code string, rec persist.PortfolioRecord) {
			hookMu.Lock()
			saved[code] = rec
			hookMu.Unlock()
		}))

	svc.Contribution(t.Context(), "005827", false)
	hookMu.Lock()
	rec, ok := saved["005827"]
	hookMu.Unlock()
	require.True(t, ok, "scraped weights should be written through")
	require.Len(t, rec.Weights, 2)
	require.Equal(t, "2025年1季度", rec.ReportPeriod)

	// A second service seeded from the persisted record never hits F10.
	r2 := &routes{f10: okF10, hq: okHQ(t)}
	svc2 := fund.NewPortfolioService(
		fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r2))),
		24*time.Hour, 0.40)
	svc2.SeedWeights(map[string]persist.PortfolioRecord{"005827": rec})
	got := svc2.Contribution(t.Context(), "005827", false)
	require.Len(t, got.Holdings, 2)
	require.Zero(t, r2.f10Calls)
}

func TestContribution_NoDisclosure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	body := `var apidata={ content:"` + strings.Repeat("x", 300) + `暂无持仓数据"};`
	r := &routes{f10: func() (*http.Response, error) { return response(http.StatusOK, []byte(body)), nil }}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40)

	got := svc.Contribution(t.Context(), "005827", false)
	require.Empty(t, got.Holdings)
	require.Equal(t, "unavailable", got.Meta.ConfidenceLabel)
	require.False(t, got.Meta.ContributionAvailable)
	require.NotEmpty(t, got.Meta.ParseError)
}

func TestContribution_LegacyEqualWeightFallback(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	garbage := `var apidata={ content:"` + strings.Repeat("no table here ", 30) + `"};`
	legacy := `var stockCodes=["6005191","0008582"];var stockGraph=[];`
	r := &routes{
		f10:    func() (*http.Response, error) { return response(http.StatusOK, []byte(garbage)), nil },
		legacy: func() (*http.Response, error) { return response(http.StatusOK, []byte(legacy)), nil },
		hq:     okHQ(t),
	}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40)

	got := svc.Contribution(t.Context(), "005827", false)
	require.Len(t, got.Holdings, 2)
	require.InDelta(t, 0.5, got.Holdings[0].Weight, 1e-9)
	require.Equal(t, "equal_weight", got.Meta.EstimateMode)
	require.Equal(t, "fallback", got.Meta.Source)
	require.NotEmpty(t, got.Meta.ParseError)
	require.True(t, got.Meta.ContributionAvailable)
}

func TestContribution_StaleCacheWhenRefreshFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	r := &routes{f10: down, legacy: down, hq: okHQ(t)}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))

	now := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40,
		fund.WithPortfolioClock(func() time.Time { return now }))
	svc.SeedWeights(map[string]persist.PortfolioRecord{
		"005827": {
			FetchedAt:    now.Add(-48 * time.Hour).Unix(), // expired
			ReportPeriod: "2024年4季度",
			Weights: []quote.PortfolioWeight{
				{StockCode: "600519", Name: "贵州茅台", Weight: 0.095},
			},
		},
	})

	got := svc.Contribution(t.Context(), "005827", false)
	require.Len(t, got.Holdings, 1)
	require.Equal(t, "cached_stale", got.Meta.EstimateMode)
	require.Equal(t, "2024年4季度", got.Meta.ReportPeriod)
	require.NotEmpty(t, got.Meta.ParseError)
}

func TestContribution_ScrapeFailsWithNoCache(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	r := &routes{f10: down, legacy: down}
	c := fund.NewClient(fund.WithHTTPDoer(newPortfolioDoer(t, ctrl, r)))
	svc := fund.NewPortfolioService(c, 24*time.Hour, 0.40)

	got := svc.Contribution(t.Context(), "005827", false)
	require.Empty(t, got.Holdings)
	require.Equal(t, "unavailable", got.Meta.ConfidenceLabel)
	require.NotEmpty(t, got.Meta.ParseError)
}
