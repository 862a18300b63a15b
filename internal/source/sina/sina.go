package sina

import (
    "context"
    "fmt"
    "strconv"
    "strings"
    "time"

    "goldboard/internal/httpx"
    "goldboard/internal/quote"
    "goldboard/internal/source"
)

const defaultEndpoint = "https://hq.sinajs.cn/list=gds_AUTD"

// Adapter reads the sina hq endpoint (GBK). The payload is a javascript
// assignment whose quoted value is comma delimited:
// name, open, prev close, price, high, low, ...
type Adapter struct {
    d  source.Descriptor
    hc *httpx.Client
}

func New(d source.Descriptor, hc *httpx.Client) *Adapter {
    if d.ID == "" { d.ID = "sina" }
    if d.Endpoint == "" { d.Endpoint = defaultEndpoint }
    if d.Timeout <= 0 { d.Timeout = 3 * time.Second }
    return &Adapter{d: d, hc: hc}
}

func (a *Adapter) Descriptor() source.Descriptor { return a.d }

func (a *Adapter) Fetch(ctx context.Context) (quote.Quote, error) {
    b, err := source.Get(ctx, a.hc, a.d, map[string]string{
        "Referer": "https://finance.sina.com.cn",
    }, true)
    if err != nil {
        return quote.Quote{}, err
    }

    text := string(b)
    start := strings.Index(text, `"`)
    end := strings.LastIndex(text, `"`)
    if start < 0 || end <= start {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("no quoted payload"))
    }
    parts := strings.Split(text[start+1:end], ",")
    if len(parts) < 6 {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("short payload: %d fields", len(parts)))
    }

    price := num(parts[3])
    if price <= 0 {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("price %q", parts[3]))
    }
    prev := num(parts[2])

    return quote.Quote{
        Price:      price,
        Change:     price - prev,
        Open:       num(parts[1]),
        PrevClose:  prev,
        High:       num(parts[4]),
        Low:        num(parts[5]),
        ObservedAt: time.Now(),
        Source:     a.d.ID,
    }, nil
}

func num(s string) float64 {
    v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil {
        return 0
    }
    return v
}
