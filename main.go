package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/vulnstats/nvd-cve-stats/db"
	"github.com/vulnstats/nvd-cve-stats/nvd"
	"github.com/vulnstats/nvd-cve-stats/stats"
)

const defaultStartYear = 1999

var (
	action      = flag.String("action", "", "action (import, year-stats, severity-stats, lookup)")
	dbPath      = flag.String("db", "nvdcves.db", "path of the SQLite database")
	year        = flag.Int("year", 0, "restrict a report to a single year")
	startYear   = flag.Int("start-year", defaultStartYear, "first year of a report range")
	currentYear = flag.Int("current-year", time.Now().UTC().Year(), "last year of a report range and of the import")
	system      = flag.String("system", "all", "severity system for severity-stats (v2, v3, all)")
	output      = flag.String("output", "text", "report output format (text, yaml)")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()

	store, err := db.New(*dbPath)
	if err != nil {
		return xerrors.Errorf("unable to open store: %w", err)
	}
	defer store.Close()

	switch *action {
	case "import":
		return runImport(store)
	case "year-stats":
		return runYearStats(store)
	case "severity-stats":
		return runSeverityStats(store)
	case "lookup":
		return runLookup(store)
	default:
		return xerrors.New("unknown action")
	}
}

func runImport(store *db.Store) error {
	log.Println("Loading and downloading NVD entries")
	updater := nvd.NewUpdater(nvd.WithCurrentYear(*currentYear))
	records, err := updater.Update()
	if err != nil {
		return xerrors.Errorf("error in NVD update: %w", err)
	}
	if err = store.ReplaceAll(records); err != nil {
		return xerrors.Errorf("error in store rebuild: %w", err)
	}
	log.Printf("Imported %d rows\n", len(records))
	return nil
}

// yearRange resolves the requested report span. A -year flag narrows the
// report to that single year.
func yearRange() (int, int) {
	if *year != 0 {
		return *year, *year
	}
	return *startYear, *currentYear
}

func runYearStats(store *db.Store) error {
	from, to := yearRange()
	totals, err := stats.New(store).YearlyTotals(from, to)
	if err != nil {
		return xerrors.Errorf("error in yearly totals: %w", err)
	}

	if *output == "yaml" {
		return renderYAML(totals)
	}
	fmt.Println("CVE counts per year")
	for _, t := range totals {
		fmt.Printf("%d: %d YoY: %.2f%% (all=%d,reject=%d,disputed=%d,reserved=%d)\n",
			t.Year, t.Valid, t.YoYGrowthPercent, t.Total, t.Rejected, t.Disputed, t.Reserved)
	}
	return nil
}

func runSeverityStats(store *db.Store) error {
	severitySystem, err := stats.ParseSeveritySystem(*system)
	if err != nil {
		return xerrors.Errorf("invalid -system value: %w", err)
	}

	from, to := yearRange()
	distribution, err := stats.New(store).SeverityDistribution(severitySystem, from, to)
	if err != nil {
		return xerrors.Errorf("error in severity distribution: %w", err)
	}

	if *output == "yaml" {
		return renderYAML(distribution)
	}
	fmt.Printf("CVE severity distribution (%s)\n", severitySystem)
	for _, d := range distribution {
		fmt.Printf("%d: critical=%d,high=%d,medium=%d,low=%d (total=%d)\n",
			d.Year, d.Critical, d.High, d.Medium, d.Low, d.Total)
	}
	return nil
}

func runLookup(store *db.Store) error {
	ids := flag.Args()
	if len(ids) == 0 {
		return xerrors.New("lookup requires at least one CVE ID")
	}

	for _, result := range stats.New(store).Lookup(ids) {
		if result.Err != nil {
			log.Printf("%s: %s\n", result.ID, result.Err)
			continue
		}
		fmt.Printf("%s\n", result.Payload)
	}
	return nil
}

func renderYAML(report interface{}) error {
	b, err := yaml.Marshal(report)
	if err != nil {
		return xerrors.Errorf("unable to render report: %w", err)
	}
	fmt.Print(string(b))
	return nil
}
