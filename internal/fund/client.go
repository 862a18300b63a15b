package fund

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"goldboard/internal/httpx"
	"goldboard/internal/quote"
	"goldboard/internal/ratelimit"
)

// HTTPDoer describes an HTTP client.
//
//go:generate mockgen -package=fund_test -destination=mock_http_doer_test.go -source=client.go HTTPDoer
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the fund valuation and stock quote upstreams: the
// eastmoney fundgz jsonp feed (primary), the sina fund NAV endpoint
// (backup), the eastmoney F10 disclosure page (portfolio weights), and the
// sina hq batch endpoint (constituent stock quotes).
type Client struct {
	doer         HTTPDoer
	limiter      *ratelimit.TokenBucket
	now          func() time.Time
	estimateURL  string
	navURL       string
	hqURL        string
	portfolioURL string
	legacyURL    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPDoer sets the HTTP client.
func WithHTTPDoer(doer HTTPDoer) ClientOption {
	return func(c *Client) { c.doer = doer }
}

// WithLimiter gates every upstream call through a token bucket.
func WithLimiter(tb *ratelimit.TokenBucket) ClientOption {
	return func(c *Client) { c.limiter = tb }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithEstimateURL overrides the fundgz endpoint (format verb takes the code).
func WithEstimateURL(u string) ClientOption { return func(c *Client) { c.estimateURL = u } }

// WithNAVURL overrides the sina fund NAV endpoint.
func WithNAVURL(u string) ClientOption { return func(c *Client) { c.navURL = u } }

// WithHQURL overrides the sina batch stock quote endpoint.
func WithHQURL(u string) ClientOption { return func(c *Client) { c.hqURL = u } }

// WithPortfolioURL overrides the eastmoney F10 disclosure endpoint.
func WithPortfolioURL(u string) ClientOption { return func(c *Client) { c.portfolioURL = u } }

// WithLegacyPortfolioURL overrides the legacy pingzhongdata endpoint.
func WithLegacyPortfolioURL(u string) ClientOption { return func(c *Client) { c.legacyURL = u } }

func NewClient(options ...ClientOption) *Client {
	c := &Client{
		doer:         http.DefaultClient,
		now:          time.Now,
		estimateURL:  "http://fundgz.1234567.com.cn/js/%s.js?rt=%d",
		navURL:       "http://hq.sinajs.cn/list=fu_%s",
		hqURL:        "http://hq.sinajs.cn/list=%s",
		portfolioURL: "http://fundf10.eastmoney.com/FundArchivesDatas.aspx?type=jjcc&code=%s&topline=10",
		legacyURL:    "http://fund.eastmoney.com/pingzhongdata/%s.js",
	}
	for _, option := range options {
		option(c)
	}
	return c
}

var jsonpgzRe = regexp.MustCompile(`jsonpgz\((.*)\);`)

type estimatePayload struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	DWJZ     string `json:"dwjz"`  // last published unit NAV
	GSZ      string `json:"gsz"`   // intraday NAV estimate
	GSZZL    string `json:"gszzl"` // estimated change percent
	GZTime   string `json:"gztime"`
}

// FetchEstimate reads the eastmoney fundgz feed for one fund.
func (c *Client) FetchEstimate(ctx context.Context, code string) (quote.FundQuote, error) {
	url := fmt.Sprintf(c.estimateURL, code, c.now().UnixMilli())
	body, err := c.get(ctx, url, "http://fund.eastmoney.com/", false)
	if err != nil {
		return quote.FundQuote{}, err
	}
	m := jsonpgzRe.FindSubmatch(body)
	if m == nil {
		return quote.FundQuote{}, fmt.Errorf("fundgz %s: no jsonpgz payload", code)
	}
	var p estimatePayload
	if err := json.Unmarshal(m[1], &p); err != nil {
		return quote.FundQuote{}, fmt.Errorf("fundgz %s: %w", code, err)
	}
	price := num(p.GSZ)
	if price <= 0 {
		return quote.FundQuote{}, fmt.Errorf("fundgz %s: estimate %q", code, p.GSZ)
	}
	ts := c.now()
	if t, err := time.ParseInLocation("2006-01-02 15:04", p.GZTime, time.Local); err == nil {
		ts = t
	}
	return quote.FundQuote{
		Code:      p.FundCode,
		Name:      p.Name,
		Price:     price,
		PrevNAV:   num(p.DWJZ),
		ChangePct: num(p.GSZZL),
		UpdatedAt: ts,
		Source:    "eastmoney",
	}, nil
}

// FetchNAV reads the sina fund endpoint. It only carries the published NAV,
// no intraday estimate, so ChangePct stays zero.
func (c *Client) FetchNAV(ctx context.Context, code string) (quote.FundQuote, error) {
	body, err := c.get(ctx, fmt.Sprintf(c.navURL, code), "https://finance.sina.com.cn", true)
	if err != nil {
		return quote.FundQuote{}, err
	}
	payload, err := quoted(string(body))
	if err != nil {
		return quote.FundQuote{}, fmt.Errorf("sina fund %s: %w", code, err)
	}
	// name, NAV, accumulated NAV, date
	parts := strings.Split(payload, ",")
	if len(parts) < 2 {
		return quote.FundQuote{}, fmt.Errorf("sina fund %s: short payload", code)
	}
	price := num(parts[1])
	if price <= 0 {
		return quote.FundQuote{}, fmt.Errorf("sina fund %s: nav %q", code, parts[1])
	}
	return quote.FundQuote{
		Code:      code,
		Name:      parts[0],
		Price:     price,
		PrevNAV:   price,
		UpdatedAt: c.now(),
		Source:    "sina",
	}, nil
}

// FetchFund tries the estimate feed first, then falls back to the NAV-only
// backup.
func (c *Client) FetchFund(ctx context.Context, code string) (quote.FundQuote, error) {
	fq, err := c.FetchEstimate(ctx, code)
	if err == nil {
		return fq, nil
	}
	if ctx.Err() != nil {
		return quote.FundQuote{}, err
	}
	return c.FetchNAV(ctx, code)
}

// StockQuote is a constituent stock's same-day move.
type StockQuote struct {
	Code      string
	Name      string
	Price     float64
	ChangePct float64
}

// FetchStockQuotes resolves current price and day change for the given stock
// codes in one sina hq batch call. Codes that cannot be mapped or parsed are
// simply absent from the result.
func (c *Client) FetchStockQuotes(ctx context.Context, codes []string) (map[string]StockQuote, error) {
	sinaCodes := make([]string, 0, len(codes))
	byHQ := make(map[string]string, len(codes))
	for _, code := range codes {
		hq, ok := sinaSymbol(code)
		if !ok {
			continue
		}
		sinaCodes = append(sinaCodes, hq)
		byHQ[hq] = code
	}
	if len(sinaCodes) == 0 {
		return map[string]StockQuote{}, nil
	}

	url := fmt.Sprintf(c.hqURL, strings.Join(sinaCodes, ","))
	body, err := c.get(ctx, url, "https://finance.sina.com.cn", true)
	if err != nil {
		return nil, err
	}

	out := make(map[string]StockQuote, len(sinaCodes))
	text := string(body)
	for _, hq := range sinaCodes {
		payload, ok := hqLine(text, hq)
		if !ok {
			continue
		}
		parts := strings.Split(payload, ",")
		code := byHQ[hq]
		var sq StockQuote
		if strings.HasPrefix(hq, "rt_hk") {
			// HK: eng name, cn name, open, prev close, high, low, last, ...
			if len(parts) <= 6 {
				continue
			}
			sq = StockQuote{Code: code, Name: parts[1], Price: num(parts[6])}
			if prev := num(parts[3]); prev > 0 && sq.Price > 0 {
				sq.ChangePct = round2((sq.Price - prev) / prev * 100)
			}
		} else {
			// A-share: name, open, prev close, current, ...
			if len(parts) <= 3 {
				continue
			}
			sq = StockQuote{Code: code, Name: parts[0], Price: num(parts[3])}
			if prev := num(parts[2]); prev > 0 && sq.Price > 0 {
				sq.ChangePct = round2((sq.Price - prev) / prev * 100)
			}
		}
		out[code] = sq
	}
	return out, nil
}

// sinaSymbol maps a disclosed stock code to the sina hq symbol. Five digits
// means Hong Kong; six digits pick an exchange prefix by leading digit.
func sinaSymbol(code string) (string, bool) {
	switch len(code) {
	case 5:
		return "rt_hk" + code, true
	case 6:
		switch code[0] {
		case '6', '9':
			return "sh" + code, true
		case '0', '3':
			return "sz" + code, true
		case '4', '8':
			return "bj" + code, true
		default:
			return "sh" + code, true
		}
	}
	return "", false
}

// hqLine extracts the quoted payload of one `var hq_str_<sym>="...";` line.
func hqLine(text, sym string) (string, bool) {
	marker := "hq_str_" + sym + "=\""
	i := strings.Index(text, marker)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(marker):]
	j := strings.Index(rest, "\"")
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

func (c *Client) get(ctx context.Context, url, referer string, gbk bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s -> %d", url, resp.StatusCode)
	}
	if gbk {
		return httpx.ReadBodyGBK(resp, 1<<20)
	}
	return httpx.ReadBody(resp, 1<<20)
}

func quoted(text string) (string, error) {
	start := strings.Index(text, `"`)
	end := strings.LastIndex(text, `"`)
	if start < 0 || end <= start {
		return "", fmt.Errorf("no quoted payload")
	}
	return text[start+1 : end], nil
}

func num(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
