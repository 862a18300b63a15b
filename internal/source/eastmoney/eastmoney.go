package eastmoney

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "goldboard/internal/httpx"
    "goldboard/internal/quote"
    "goldboard/internal/source"
)

const defaultEndpoint = "https://push2.eastmoney.com/api/qt/stock/get?secid=118.Au99.99&fields=f43,f44,f45,f46,f60,f86"

// Adapter reads the eastmoney push2 quote API for SGE Au99.99.
// Prices arrive as integers scaled by 100.
type Adapter struct {
    d  source.Descriptor
    hc *httpx.Client
}

func New(d source.Descriptor, hc *httpx.Client) *Adapter {
    if d.ID == "" { d.ID = "eastmoney" }
    if d.Endpoint == "" { d.Endpoint = defaultEndpoint }
    if d.Timeout <= 0 { d.Timeout = 3 * time.Second }
    return &Adapter{d: d, hc: hc}
}

func (a *Adapter) Descriptor() source.Descriptor { return a.d }

type apiResponse struct {
    Data *struct {
        Price     json.Number `json:"f43"`
        High      json.Number `json:"f44"`
        Low       json.Number `json:"f45"`
        Open      json.Number `json:"f46"`
        PrevClose json.Number `json:"f60"`
        Time      int64       `json:"f86"`
    } `json:"data"`
}

func (a *Adapter) Fetch(ctx context.Context) (quote.Quote, error) {
    b, err := source.Get(ctx, a.hc, a.d, map[string]string{
        "Referer": "https://quote.eastmoney.com/",
        "Accept":  "application/json",
    }, false)
    if err != nil {
        return quote.Quote{}, err
    }

    var api apiResponse
    if err := json.Unmarshal(b, &api); err != nil {
        return quote.Quote{}, quote.Malformed(a.d.ID, err)
    }
    if api.Data == nil {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("empty data"))
    }

    price, err := scaled(api.Data.Price)
    if err != nil || price <= 0 {
        return quote.Quote{}, quote.Malformed(a.d.ID, fmt.Errorf("price %q", api.Data.Price))
    }
    prev, _ := scaled(api.Data.PrevClose)
    open, _ := scaled(api.Data.Open)
    high, _ := scaled(api.Data.High)
    low, _ := scaled(api.Data.Low)

    ts := time.Now()
    if api.Data.Time > 0 {
        ts = time.Unix(api.Data.Time, 0)
    }
    return quote.Quote{
        Price:      price,
        Change:     price - prev,
        Open:       open,
        PrevClose:  prev,
        High:       high,
        Low:        low,
        ObservedAt: ts,
        Source:     a.d.ID,
    }, nil
}

// scaled converts a push2 price-times-100 integer to a float price.
func scaled(n json.Number) (float64, error) {
    v, err := n.Float64()
    if err != nil {
        return 0, err
    }
    return v / 100, nil
}
