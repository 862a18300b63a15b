package eastmoney

import (
    "context"
    "errors"
    "math"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "goldboard/internal/httpx"
    "goldboard/internal/quote"
    "goldboard/internal/source"
)

func adapter(url string) *Adapter {
    return New(source.Descriptor{Endpoint: url, Timeout: time.Second}, httpx.New(2*time.Second))
}

func close2(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFetch_ParsesScaledPrices(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"data":{"f43":48530,"f44":48710,"f45":48200,"f46":48350,"f60":48410,"f86":1748831400}}`))
    }))
    defer srv.Close()

    q, err := adapter(srv.URL).Fetch(context.Background())
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if !close2(q.Price, 485.30) || !close2(q.PrevClose, 484.10) {
        t.Fatalf("unexpected price/prev: %+v", q)
    }
    if !close2(q.Open, 483.50) || !close2(q.High, 487.10) || !close2(q.Low, 482.00) {
        t.Fatalf("unexpected ohl: %+v", q)
    }
    if !close2(q.Change, q.Price-q.PrevClose) {
        t.Fatalf("change should be price-prev: %+v", q)
    }
    if !q.ObservedAt.Equal(time.Unix(1748831400, 0)) {
        t.Fatalf("timestamp should come from f86: %v", q.ObservedAt)
    }
    if q.Source != "eastmoney" {
        t.Fatalf("source tag: %q", q.Source)
    }
}

func TestFetch_NullDataIsMalformed(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Write([]byte(`{"data":null}`))
    }))
    defer srv.Close()

    _, err := adapter(srv.URL).Fetch(context.Background())
    var serr *quote.SourceError
    if !errors.As(err, &serr) || serr.Kind != quote.FailMalformedResponse {
        t.Fatalf("want malformed SourceError, got %v", err)
    }
}

func TestFetch_HTTPErrorClassified(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusBadGateway)
    }))
    defer srv.Close()

    _, err := adapter(srv.URL).Fetch(context.Background())
    var serr *quote.SourceError
    if !errors.As(err, &serr) || serr.Kind != quote.FailHTTPError || serr.Status != http.StatusBadGateway {
        t.Fatalf("want http-error SourceError with status, got %v", err)
    }
}

func TestFetch_TimeoutClassified(t *testing.T) {
    block := make(chan struct{})
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        <-block
    }))
    defer srv.Close()
    defer close(block)

    a := New(source.Descriptor{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, httpx.New(5*time.Second))
    _, err := a.Fetch(context.Background())
    var serr *quote.SourceError
    if !errors.As(err, &serr) || serr.Kind != quote.FailTimeout {
        t.Fatalf("want timeout SourceError, got %v", err)
    }
}

func TestFetch_ZeroPriceRejected(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Write([]byte(`{"data":{"f43":0,"f60":48410}}`))
    }))
    defer srv.Close()

    _, err := adapter(srv.URL).Fetch(context.Background())
    var serr *quote.SourceError
    if !errors.As(err, &serr) || serr.Kind != quote.FailMalformedResponse {
        t.Fatalf("zero price should be malformed, got %v", err)
    }
}
