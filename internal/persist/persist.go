// Package persist owns durable dashboard state: the watchlist, holdings, a
// price history seed, and the portfolio weight cache. The core treats it as a
// boundary; the file format and atomicity guarantee live here.
package persist

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"

    "goldboard/internal/quote"
)

// State is everything the dashboard persists between runs. AlertSettings is
// an opaque passthrough: a UI collaborator owns its shape, the core only
// round-trips it so a save never drops it.
type State struct {
    Watchlist     []string                   `json:"watchlist"`
    Holdings      []quote.Holding            `json:"holdings"`
    PriceHistory  []quote.Quote              `json:"price_history"`
    Portfolios    map[string]PortfolioRecord `json:"fund_portfolios,omitempty"`
    AlertSettings json.RawMessage            `json:"alert_settings,omitempty"`
}

// PortfolioRecord caches a fund's disclosed top holdings with the fetch time.
type PortfolioRecord struct {
    FetchedAt    int64                   `json:"fetched_at"`
    ReportPeriod string                  `json:"report_period"`
    Weights      []quote.PortfolioWeight `json:"weights"`
}

// Store is the persistence collaborator contract.
type Store interface {
    Load() (State, error)
    Save(State) error
}

// FileStore persists State as one JSON file with write-temp-then-rename
// semantics, so the file is never observed half-written.
type FileStore struct {
    Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

// Load reads the state file. A missing file yields an empty state; malformed
// holdings are a startup-fatal configuration problem.
func (f *FileStore) Load() (State, error) {
    var st State
    b, err := os.ReadFile(f.Path)
    if errors.Is(err, os.ErrNotExist) {
        return st, nil
    }
    if err != nil {
        return st, fmt.Errorf("load state: %w", err)
    }
    if err := json.Unmarshal(b, &st); err != nil {
        return st, fmt.Errorf("parse state: %w", err)
    }
    if err := validate(st); err != nil {
        return st, err
    }
    return st, nil
}

func validate(st State) error {
    seen := make(map[string]bool, len(st.Holdings))
    for _, h := range st.Holdings {
        if h.Code == "" {
            return errors.New("state: holding with empty code")
        }
        if seen[h.Code] {
            return fmt.Errorf("state: duplicate holding %q", h.Code)
        }
        seen[h.Code] = true
        if h.Shares < 0 || h.CostPrice < 0 {
            return fmt.Errorf("state: holding %q has negative shares or cost", h.Code)
        }
    }
    return nil
}

// Save writes to a temp file in the same directory and renames over the
// target.
func (f *FileStore) Save(st State) error {
    b, err := json.MarshalIndent(st, "", "  ")
    if err != nil {
        return fmt.Errorf("encode state: %w", err)
    }
    dir := filepath.Dir(f.Path)
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("save state: %w", err)
    }
    tmp, err := os.CreateTemp(dir, ".data-*.json")
    if err != nil {
        return fmt.Errorf("save state: %w", err)
    }
    if _, err := tmp.Write(b); err != nil {
        tmp.Close()
        os.Remove(tmp.Name())
        return fmt.Errorf("save state: %w", err)
    }
    if err := tmp.Close(); err != nil {
        os.Remove(tmp.Name())
        return fmt.Errorf("save state: %w", err)
    }
    if err := os.Rename(tmp.Name(), f.Path); err != nil {
        os.Remove(tmp.Name())
        return fmt.Errorf("save state: %w", err)
    }
    return nil
}
