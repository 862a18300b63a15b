package httpx

import (
    "context"
    "io"
    "net"
    "net/http"
    "strings"
    "time"

    "golang.org/x/text/encoding/simplifiedchinese"
    "golang.org/x/text/transform"
)

// Client is a small wrapper around http.Client with sane defaults.
// The upstream CN finance endpoints reject requests without a browser-ish
// User-Agent and Referer, so defaults can be attached per request.
type Client struct {
    HTTP      *http.Client
    UserAgent string
    Headers   map[string]string
}

func New(timeout time.Duration) *Client {
    transport := &http.Transport{
        Proxy: http.ProxyFromEnvironment,
        DialContext: (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
        MaxIdleConns:          100,
        MaxIdleConnsPerHost:   20,
        ForceAttemptHTTP2:     true,
        IdleConnTimeout:       90 * time.Second,
        TLSHandshakeTimeout:   3 * time.Second,
        ExpectContinueTimeout: 1 * time.Second,
        ResponseHeaderTimeout: 5 * time.Second,
    }
    return &Client{
        HTTP:      &http.Client{Timeout: timeout, Transport: transport},
        UserAgent: "goldboard/1.0",
    }
}

func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
    if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
        req.Header.Set("User-Agent", c.UserAgent)
    }
    for k, v := range c.Headers {
        if req.Header.Get(k) == "" {
            req.Header.Set(k, v)
        }
    }
    return c.HTTP.Do(req.WithContext(ctx))
}

// ReadBody drains a response body, decoding GBK when the Content-Type charset
// says so (sina and tencent still serve legacy encodings). The reader is
// limited to keep a misbehaving upstream from ballooning memory.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
    if limit <= 0 { limit = 1 << 20 }
    var r io.Reader = io.LimitReader(resp.Body, limit)
    if isGBK(resp.Header.Get("Content-Type")) {
        r = transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
    }
    return io.ReadAll(r)
}

// ReadBodyGBK decodes unconditionally, for endpoints that serve GBK without
// declaring a charset.
func ReadBodyGBK(resp *http.Response, limit int64) ([]byte, error) {
    if limit <= 0 { limit = 1 << 20 }
    r := transform.NewReader(io.LimitReader(resp.Body, limit), simplifiedchinese.GBK.NewDecoder())
    return io.ReadAll(r)
}

func isGBK(contentType string) bool {
    ct := strings.ToLower(contentType)
    return strings.Contains(ct, "gbk") || strings.Contains(ct, "gb2312") || strings.Contains(ct, "gb18030")
}
