package source

import (
    "context"
    "net/http"
    "sort"
    "time"

    "goldboard/internal/httpx"
    "goldboard/internal/quote"
)

// Descriptor is the static configuration of one upstream source.
// Immutable after startup; Priority ordering defines the failover sequence
// (lower first, registration order on ties).
type Descriptor struct {
    ID       string
    Priority int
    Endpoint string
    Timeout  time.Duration
}

// Source is one upstream price adapter. Fetch either fully parses a Quote or
// returns a classified *quote.SourceError; partial quotes are never surfaced.
// Implementations are stateless and safe for concurrent use.
type Source interface {
    Descriptor() Descriptor
    Fetch(ctx context.Context) (quote.Quote, error)
}

// Order returns sources sorted by ascending priority. The sort is stable, so
// equal priorities keep registration order.
func Order(in []Source) []Source {
    out := make([]Source, len(in))
    copy(out, in)
    sort.SliceStable(out, func(i, j int) bool {
        return out[i].Descriptor().Priority < out[j].Descriptor().Priority
    })
    return out
}

// Get issues a GET bounded by the descriptor timeout and returns the decoded
// body. Every failure comes back as a *quote.SourceError; gbk forces legacy
// charset decoding for endpoints that do not declare one.
func Get(ctx context.Context, hc *httpx.Client, d Descriptor, headers map[string]string, gbk bool) ([]byte, error) {
    ctx, cancel := context.WithTimeout(ctx, d.Timeout)
    defer cancel()

    req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint, http.NoBody)
    if err != nil {
        return nil, quote.Malformed(d.ID, err)
    }
    for k, v := range headers { req.Header.Set(k, v) }
    resp, err := hc.Do(ctx, req)
    if err != nil {
        return nil, quote.ClassifyTransport(d.ID, err)
    }
    defer resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return nil, quote.HTTPStatus(d.ID, resp.StatusCode)
    }
    var b []byte
    if gbk {
        b, err = httpx.ReadBodyGBK(resp, 1<<20)
    } else {
        b, err = httpx.ReadBody(resp, 1<<20)
    }
    if err != nil {
        return nil, quote.Malformed(d.ID, err)
    }
    return b, nil
}
