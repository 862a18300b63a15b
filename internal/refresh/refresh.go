package refresh

import (
    "context"
    "log/slog"
    "sync"
    "time"

    "goldboard/internal/calendar"
    "goldboard/internal/quote"
    "goldboard/internal/store"
)

// Fetcher produces one authoritative quote per tick. Satisfied by the
// failover orchestrator.
type Fetcher interface {
    Fetch(ctx context.Context) (quote.Quote, error)
}

// Loop is the single background driver for price refresh. One goroutine runs
// ticks back to back, so a tick still in flight when the next would fire is
// absorbed, never queued. The interval tracks the market session: short while
// trading, long while closed, re-evaluated every tick so a phase change takes
// effect without a restart.
type Loop struct {
    fetcher Fetcher
    store   *store.Store
    cal     calendar.Calendar
    logger  *slog.Logger

    tradingInterval time.Duration
    idleInterval    time.Duration

    now   func() time.Time
    sleep func(ctx context.Context, d time.Duration) error

    // OnQuote, when set, is called after each accepted write (persist hook).
    onQuote func(quote.Quote)

    mu     sync.Mutex
    cancel context.CancelFunc
    done   chan struct{}
}

type Option func(*Loop)

func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.logger = l } }

// WithClock injects the wall clock and sleeper for deterministic tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
    return func(lp *Loop) { lp.now = now; lp.sleep = sleep }
}

func WithQuoteHook(fn func(quote.Quote)) Option { return func(lp *Loop) { lp.onQuote = fn } }

func New(f Fetcher, st *store.Store, cal calendar.Calendar, trading, idle time.Duration, opts ...Option) *Loop {
    l := &Loop{
        fetcher:         f,
        store:           st,
        cal:             cal,
        logger:          slog.Default(),
        tradingInterval: trading,
        idleInterval:    idle,
        now:             time.Now,
        sleep:           defaultSleep,
    }
    for _, opt := range opts { opt(l) }
    return l
}

// Start launches the background loop. Calling Start twice is a no-op until
// Stop has completed.
func (l *Loop) Start(ctx context.Context) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.done != nil {
        return
    }
    ctx, cancel := context.WithCancel(ctx)
    l.cancel = cancel
    l.done = make(chan struct{})
    go l.run(ctx, l.done)
}

// Stop cancels the loop and waits for the in-flight tick to finish or abandon.
func (l *Loop) Stop() {
    l.mu.Lock()
    cancel, done := l.cancel, l.done
    l.cancel, l.done = nil, nil
    l.mu.Unlock()
    if cancel == nil {
        return
    }
    cancel()
    <-done
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
    defer close(done)
    l.logger.Info("refresh loop started")

    lastPhase := calendar.Phase("")
    for {
        status := l.cal.Status(l.now())
        if lastPhase != "" && status.Phase != lastPhase {
            l.logger.Info("session phase changed", "from", lastPhase, "to", status.Phase)
        }
        lastPhase = status.Phase

        interval := l.idleInterval
        if status.Trading {
            interval = l.tradingInterval
        }

        l.tick(ctx)

        if err := l.sleep(ctx, interval); err != nil {
            l.logger.Info("refresh loop stopped")
            return
        }
    }
}

// tick runs one fetch cycle. Failures are logged, never fatal: the store's
// last-known quote stays untouched and only the connectivity flag flips.
func (l *Loop) tick(ctx context.Context) {
    q, err := l.fetcher.Fetch(ctx)
    if err != nil {
        if ctx.Err() != nil {
            return
        }
        l.store.SetConnected(false)
        l.logger.Warn("refresh tick failed", "err", err)
        return
    }
    if !l.store.Write(q) {
        l.logger.Debug("dropped out-of-order quote", "source", q.Source, "observed_at", q.ObservedAt)
        return
    }
    if l.onQuote != nil {
        l.onQuote(q)
    }
}

func defaultSleep(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
