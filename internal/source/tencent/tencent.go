package tencent

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

const defaultEndpoint = "https://qt.gtimg.cn/q=nf_AU9999"

// Adapter reads the tencent finance quote endpoint. The payload is a GBK
// javascript assignment: v_nf_AU9999="1~黄金9999~AU9999~price~prev~open~...".
type Adapter struct {
    d  source.Descriptor
    hc *httpx.Client
}

func New(d source.Descriptor, hc *httpx.Client) *Adapter {
    if d.ID == "" { d.ID = "tencent" }
    if d.Endpoint == "" { d.Endpoint = defaultEndpoint }
    if d.Timeout <= 0 { d.Timeout = 3 * time.Second }
    return &Adapter{d: d, hc: hc}
}

func (a *Adapter) Descriptor() source.Descriptor { return a.d }

// Tilde-delimited field positions in the tencent layout.
const (
    fieldPrice     = 3
    fieldPrevClose = 4
    fieldOpen      = 5
    fieldTime      = 30
    fieldHigh      = 33
    fieldLow       = 34
)

func (a *Adapter) Fetch(ctx context.Context) (quote.Quote, error) {
    b, err := source.Get(ctx, a.hc, a.d, map[string]string{
        "Referer": "https://gu.qq.com/",
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
    parts := strings.Split(text[start+1:end], "~")
    if len(parts) <= fieldLow {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("short payload: %d fields", len(parts)))
    }

    price := num(parts[fieldPrice])
    if price <= 0 {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("price %q", parts[fieldPrice]))
    }
    prev := num(parts[fieldPrevClose])

    ts := time.Now()
    if t, err := time.ParseInLocation("20060102150405", parts[fieldTime], time.Local); err == nil {
        ts = t
    }
    return quote.Quote{
        Price:      price,
        Change:     price - prev,
        Open:       num(parts[fieldOpen]),
        PrevClose:  prev,
        High:       num(parts[fieldHigh]),
        Low:        num(parts[fieldLow]),
        ObservedAt: ts,
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
