// Package stats builds the yearly and severity reports from the persisted
// record set. It only reads from the store, never mutates it.
package stats

import (
	"encoding/json"
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/vulnstats/nvd-cve-stats/cve"
	"github.com/vulnstats/nvd-cve-stats/db"
)

// ErrInvalidSeveritySystem is returned for severity-system selectors other
// than v2, v3 or all/combined. It is fatal to the invocation.
var ErrInvalidSeveritySystem = xerrors.New("invalid severity system")

// Store is the read-side of the record store.
type Store interface {
	Count(f db.Filter) (int, error)
	GetRawByID(id string) (json.RawMessage, error)
}

type Aggregator struct {
	store Store
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// YearTotals is one row of the yearly report. Valid excludes rejected,
// disputed and reserved records; YoYGrowthPercent compares Valid against the
// previous year in the range and degenerates to 0 without a usable baseline.
type YearTotals struct {
	Year             int     `yaml:"year"`
	Total            int     `yaml:"total"`
	Rejected         int     `yaml:"rejected"`
	Disputed         int     `yaml:"disputed"`
	Reserved         int     `yaml:"reserved"`
	Valid            int     `yaml:"valid"`
	YoYGrowthPercent float64 `yaml:"yoyGrowthPercent"`
}

// YearlyTotals reports per-year counts from startYear through endYear
// inclusive. It is a pure read: running it twice against an unchanged store
// yields identical output.
func (a *Aggregator) YearlyTotals(startYear, endYear int) ([]YearTotals, error) {
	var totals []YearTotals
	lastValid := 0
	for year := startYear; year <= endYear; year++ {
		total, err := a.store.Count(db.Filter{Year: year})
		if err != nil {
			return nil, xerrors.Errorf("unable to count year %d: %w", year, err)
		}
		rejected, err := a.store.Count(db.Filter{Year: year, Classification: cve.ClassificationReject})
		if err != nil {
			return nil, xerrors.Errorf("unable to count rejected in %d: %w", year, err)
		}
		disputed, err := a.store.Count(db.Filter{Year: year, Classification: cve.ClassificationDisputed})
		if err != nil {
			return nil, xerrors.Errorf("unable to count disputed in %d: %w", year, err)
		}
		reserved, err := a.store.Count(db.Filter{Year: year, Classification: cve.ClassificationReserved})
		if err != nil {
			return nil, xerrors.Errorf("unable to count reserved in %d: %w", year, err)
		}

		valid := total - rejected - disputed - reserved
		growth := 0.0
		if lastValid > 0 {
			growth = float64(valid-lastValid) / float64(lastValid) * 100
		}
		lastValid = valid

		totals = append(totals, YearTotals{
			Year:             year,
			Total:            total,
			Rejected:         rejected,
			Disputed:         disputed,
			Reserved:         reserved,
			Valid:            valid,
			YoYGrowthPercent: growth,
		})
	}
	return totals, nil
}

// SeveritySystem selects which severity field a distribution is counted on.
type SeveritySystem string

const (
	SystemV2       SeveritySystem = "V2"
	SystemV3       SeveritySystem = "V3"
	SystemCombined SeveritySystem = "COMBINED"
)

// ParseSeveritySystem maps a CLI selector to a SeveritySystem.
// "all" is accepted as an alias for the combined impact field.
func ParseSeveritySystem(s string) (SeveritySystem, error) {
	switch strings.ToUpper(s) {
	case "V2":
		return SystemV2, nil
	case "V3":
		return SystemV3, nil
	case "ALL", "COMBINED":
		return SystemCombined, nil
	}
	return "", xerrors.Errorf("%s: %w", s, ErrInvalidSeveritySystem)
}

// SeverityCounts is one row of the severity report.
type SeverityCounts struct {
	Year     int `yaml:"year"`
	Critical int `yaml:"critical"`
	High     int `yaml:"high"`
	Medium   int `yaml:"medium"`
	Low      int `yaml:"low"`
	Total    int `yaml:"total"`
}

var reportedSeverities = []cve.Severity{
	cve.SeverityCritical,
	cve.SeverityHigh,
	cve.SeverityMedium,
	cve.SeverityLow,
}

// SeverityDistribution counts records per severity label and year, using the
// V2, V3 or reconciled impact field depending on the selected system.
func (a *Aggregator) SeverityDistribution(system SeveritySystem, startYear, endYear int) ([]SeverityCounts, error) {
	if !slices.Contains([]SeveritySystem{SystemV2, SystemV3, SystemCombined}, system) {
		return nil, xerrors.Errorf("%s: %w", system, ErrInvalidSeveritySystem)
	}

	var distribution []SeverityCounts
	for year := startYear; year <= endYear; year++ {
		counts := SeverityCounts{Year: year}
		for _, severity := range reportedSeverities {
			filter := db.Filter{Year: year}
			switch system {
			case SystemV2:
				filter.SeverityV2 = severity
			case SystemV3:
				filter.SeverityV3 = severity
			case SystemCombined:
				filter.Impact = severity
			}
			n, err := a.store.Count(filter)
			if err != nil {
				return nil, xerrors.Errorf("unable to count %s in %d: %w", severity, year, err)
			}
			switch severity {
			case cve.SeverityCritical:
				counts.Critical = n
			case cve.SeverityHigh:
				counts.High = n
			case cve.SeverityMedium:
				counts.Medium = n
			case cve.SeverityLow:
				counts.Low = n
			}
			counts.Total += n
		}
		distribution = append(distribution, counts)
	}
	return distribution, nil
}

// LookupResult is the outcome for one requested identifier. Err carries
// db.ErrNotFound for misses; a miss never aborts the remaining lookups.
type LookupResult struct {
	ID      string
	Payload json.RawMessage
	Err     error
}

func (a *Aggregator) Lookup(ids []string) []LookupResult {
	results := make([]LookupResult, 0, len(ids))
	for _, id := range ids {
		payload, err := a.store.GetRawByID(id)
		results = append(results, LookupResult{ID: id, Payload: payload, Err: err})
	}
	return results
}
