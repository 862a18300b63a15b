// Package calendar provides market-session awareness for the refresh loop.
// The static SGE implementation covers weekday session windows; holiday
// feeds are a separate collaborator and can wrap Calendar with their own
// closed-day logic.
package calendar

import "time"

type Phase string

const (
    PhaseClosed       Phase = "closed"
    PhaseDayAuction   Phase = "day_auction"
    PhaseDaySession   Phase = "day_session"
    PhaseNightAuction Phase = "night_auction"
    PhaseNightSession Phase = "night_session"
)

// Status describes the market session at one instant.
type Status struct {
    Trading       bool      `json:"is_trading_time"`
    Phase         Phase     `json:"trading_phase"`
    NextEvent     string    `json:"next_event,omitempty"`
    NextEventTime time.Time `json:"next_event_time,omitzero"`
}

// Calendar answers session questions for one instrument.
type Calendar interface {
    Status(at time.Time) Status
}

// SGE implements Calendar for Shanghai Gold Exchange Au99.99:
// day session 09:00-15:30 Mon-Fri with an 08:50 auction, night session
// 20:00-02:30 Mon-Thu evenings with a 19:50 auction.
type SGE struct{}

// Minutes of day for the session boundaries.
const (
    dayAuctionStart   = 8*60 + 50
    dayOpen           = 9 * 60
    dayClose          = 15*60 + 30
    nightAuctionStart = 19*60 + 50
    nightOpen         = 20 * 60
    nightClose        = 2*60 + 30
)

func (SGE) Status(at time.Time) Status {
    mod := at.Hour()*60 + at.Minute()
    wd := at.Weekday()

    // Early morning continuation of the previous evening's night session.
    if mod < nightClose {
        if prev := at.AddDate(0, 0, -1).Weekday(); prev >= time.Monday && prev <= time.Thursday {
            return Status{
                Trading:       true,
                Phase:         PhaseNightSession,
                NextEvent:     "night_close",
                NextEventTime: atMinute(at, nightClose),
            }
        }
    }

    if wd == time.Saturday || wd == time.Sunday {
        return closedUntilNextOpen(at)
    }

    switch {
    case mod >= dayAuctionStart && mod < dayOpen-1:
        return Status{Trading: true, Phase: PhaseDayAuction, NextEvent: "day_open", NextEventTime: atMinute(at, dayOpen)}
    case mod >= dayOpen && mod < dayClose:
        return Status{Trading: true, Phase: PhaseDaySession, NextEvent: "day_close", NextEventTime: atMinute(at, dayClose)}
    case wd <= time.Thursday && mod >= nightAuctionStart && mod < nightOpen-1:
        return Status{Trading: true, Phase: PhaseNightAuction, NextEvent: "night_open", NextEventTime: atMinute(at, nightOpen)}
    case wd <= time.Thursday && mod >= nightOpen:
        return Status{
            Trading:       true,
            Phase:         PhaseNightSession,
            NextEvent:     "night_close",
            NextEventTime: atMinute(at.AddDate(0, 0, 1), nightClose),
        }
    }

    // Closed gaps within a weekday.
    if mod < dayAuctionStart {
        return Status{Phase: PhaseClosed, NextEvent: "day_open", NextEventTime: atMinute(at, dayOpen)}
    }
    if wd <= time.Thursday && mod < nightAuctionStart {
        return Status{Phase: PhaseClosed, NextEvent: "night_open", NextEventTime: atMinute(at, nightOpen)}
    }
    return closedUntilNextOpen(at)
}

func closedUntilNextOpen(at time.Time) Status {
    next := at.AddDate(0, 0, 1)
    for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
        next = next.AddDate(0, 0, 1)
    }
    return Status{Phase: PhaseClosed, NextEvent: "day_open", NextEventTime: atMinute(next, dayOpen)}
}

func atMinute(day time.Time, mod int) time.Time {
    return time.Date(day.Year(), day.Month(), day.Day(), mod/60, mod%60, 0, 0, day.Location())
}
