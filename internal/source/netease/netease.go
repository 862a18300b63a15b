package netease

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    "goldboard/internal/httpx"
    "goldboard/internal/quote"
    "goldboard/internal/source"
)

const defaultEndpoint = "https://api.money.126.net/data/feed/SGE_AU9999?callback=_ntes_quote_callback"

// Adapter reads the netease money feed. The payload is a jsonp envelope:
// _ntes_quote_callback({"SGE_AU9999":{...}});
type Adapter struct {
    d  source.Descriptor
    hc *httpx.Client
}

func New(d source.Descriptor, hc *httpx.Client) *Adapter {
    if d.ID == "" { d.ID = "netease" }
    if d.Endpoint == "" { d.Endpoint = defaultEndpoint }
    if d.Timeout <= 0 { d.Timeout = 3 * time.Second }
    return &Adapter{d: d, hc: hc}
}

func (a *Adapter) Descriptor() source.Descriptor { return a.d }

type item struct {
    Price     float64 `json:"price"`
    YestClose float64 `json:"yestclose"`
    Open      float64 `json:"open"`
    High      float64 `json:"high"`
    Low       float64 `json:"low"`
    Time      string  `json:"time"` // "2006/01/02 15:04:05"
}

func (a *Adapter) Fetch(ctx context.Context) (quote.Quote, error) {
    b, err := source.Get(ctx, a.hc, a.d, map[string]string{
        "Referer": "https://money.163.com/",
    }, false)
    if err != nil {
        return quote.Quote{}, err
    }

    payload, err := stripJSONP(string(b))
    if err != nil {
        return quote.Quote{}, quote.Malformed(a.d.ID, err)
    }
    var feed map[string]item
    if err := json.Unmarshal([]byte(payload), &feed); err != nil {
        return quote.Quote{}, quote.Malformed(a.d.ID, err)
    }
    var it item
    found := false
    for _, v := range feed {
        it = v
        found = true
        break
    }
    if !found || it.Price <= 0 {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("no usable quote in feed"))
    }

    ts := time.Now()
    if t, err := time.ParseInLocation("2006/01/02 15:04:05", it.Time, time.Local); err == nil {
        ts = t
    }
    return quote.Quote{
        Price:      it.Price,
        Change:     it.Price - it.YestClose,
        Open:       it.Open,
        PrevClose:  it.YestClose,
        High:       it.High,
        Low:        it.Low,
        ObservedAt: ts,
        Source:     a.d.ID,
    }, nil
}

// stripJSONP unwraps callback(...) and a trailing semicolon.
func stripJSONP(s string) (string, error) {
    open := strings.Index(s, "(")
    close := strings.LastIndex(s, ")")
    if open < 0 || close <= open {
        return "", fmt.Errorf("not a jsonp payload")
    }
    return s[open+1 : close], nil
}
