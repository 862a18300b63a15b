package failover

import (
    "context"
    "log/slog"
    "sync"
    "time"

    "goldboard/internal/quote"
    "goldboard/internal/source"
)

// Orchestrator produces one authoritative Quote per call by trying sources in
// ascending priority order and short-circuiting on the first success. A source
// that fails MaxFails times in a row is muted for MuteFor and skipped until
// the mute expires; a success resets its counter.
type Orchestrator struct {
    sources []source.Source
    logger  *slog.Logger

    maxFails int
    muteFor  time.Duration
    now      func() time.Time

    mu    sync.Mutex
    state map[string]*breaker
}

type breaker struct {
    fails     int
    muteUntil time.Time
}

type Option func(*Orchestrator)

// WithBreaker configures the per-source circuit breaker. maxFails <= 0
// disables muting entirely.
func WithBreaker(maxFails int, muteFor time.Duration) Option {
    return func(o *Orchestrator) { o.maxFails = maxFails; o.muteFor = muteFor }
}

func WithLogger(l *slog.Logger) Option {
    return func(o *Orchestrator) { o.logger = l }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
    return func(o *Orchestrator) { o.now = now }
}

func New(sources []source.Source, opts ...Option) *Orchestrator {
    o := &Orchestrator{
        sources:  source.Order(sources),
        logger:   slog.Default(),
        maxFails: 3,
        muteFor:  time.Minute,
        now:      time.Now,
        state:    make(map[string]*breaker, len(sources)),
    }
    for _, opt := range opts { opt(o) }
    return o
}

// Fetch walks the failover sequence. On success it returns immediately
// without touching lower-priority sources. If every source fails or is muted
// it returns a *quote.AllSourcesFailed carrying the per-source reasons.
func (o *Orchestrator) Fetch(ctx context.Context) (quote.Quote, error) {
    agg := &quote.AllSourcesFailed{}
    for _, s := range o.sources {
        d := s.Descriptor()
        if o.muted(d.ID) {
            agg.Muted = append(agg.Muted, d.ID)
            continue
        }
        q, err := s.Fetch(ctx)
        if err == nil {
            o.recordSuccess(d.ID)
            return q, nil
        }
        o.recordFailure(d.ID)
        if serr, ok := err.(*quote.SourceError); ok {
            agg.Reasons = append(agg.Reasons, serr)
        } else {
            // Adapters must classify; anything else is a programming error we
            // still refuse to let escape the taxonomy.
            agg.Reasons = append(agg.Reasons, &quote.SourceError{Source: d.ID, Kind: quote.FailUnreachable, Err: err})
        }
        o.logger.Debug("source failed", "source", d.ID, "err", err)
        if ctx.Err() != nil {
            break
        }
    }
    return quote.Quote{}, agg
}

func (o *Orchestrator) muted(id string) bool {
    if o.maxFails <= 0 {
        return false
    }
    o.mu.Lock()
    defer o.mu.Unlock()
    b, ok := o.state[id]
    return ok && o.now().Before(b.muteUntil)
}

func (o *Orchestrator) recordSuccess(id string) {
    o.mu.Lock()
    defer o.mu.Unlock()
    delete(o.state, id)
}

func (o *Orchestrator) recordFailure(id string) {
    if o.maxFails <= 0 {
        return
    }
    o.mu.Lock()
    defer o.mu.Unlock()
    b, ok := o.state[id]
    if !ok {
        b = &breaker{}
        o.state[id] = b
    }
    b.fails++
    if b.fails >= o.maxFails {
        b.muteUntil = o.now().Add(o.muteFor)
        b.fails = 0
        o.logger.Warn("source muted", "source", id, "until", b.muteUntil)
    }
}
