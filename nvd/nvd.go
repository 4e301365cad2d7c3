// Package nvd downloads the NVD yearly JSON 1.1 feed archives, keeps a local
// cache of them and turns their entries into normalized vulnerability records.
package nvd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/vulnstats/nvd-cve-stats/cve"
	"github.com/vulnstats/nvd-cve-stats/utils"
)

const (
	defaultBaseURL = "https://nvd.nist.gov/feeds/json/cve/1.1"
	feedFileFormat = "nvdcve-1.1-%d.json.gz"
	metaFileFormat = "nvdcve-1.1-%d.meta"

	// NVD yearly feeds start in 2002; earlier CVEs are folded into that feed.
	firstFeedYear = 2002

	retry       = 5
	cacheMaxAge = 24 * time.Hour
)

// feed is the top level of one yearly archive. Entries stay raw so each one
// carries its own failure boundary through normalization.
type feed struct {
	CVEItems []json.RawMessage `json:"CVE_Items"`
}

type option func(u *Updater)

func WithBaseURL(v string) option {
	return func(u *Updater) { u.baseURL = v }
}

func WithCacheDir(v string) option {
	return func(u *Updater) { u.cacheDir = v }
}

func WithAppFs(v afero.Fs) option {
	return func(u *Updater) { u.appFs = v }
}

func WithRetry(v int) option {
	return func(u *Updater) { u.retry = v }
}

// WithCurrentYear pins the last feed year instead of reading the wall clock,
// which keeps runs reproducible.
func WithCurrentYear(v int) option {
	return func(u *Updater) { u.currentYear = v }
}

func WithFirstYear(v int) option {
	return func(u *Updater) { u.firstYear = v }
}

type Updater struct {
	baseURL     string
	cacheDir    string
	appFs       afero.Fs
	apiKey      string
	retry       int
	firstYear   int
	currentYear int
}

func NewUpdater(options ...option) *Updater {
	updater := &Updater{
		baseURL:     defaultBaseURL,
		cacheDir:    utils.CacheDir(),
		appFs:       afero.NewOsFs(),
		apiKey:      os.Getenv("NVD_API_KEY"),
		retry:       retry,
		firstYear:   firstFeedYear,
		currentYear: time.Now().UTC().Year(),
	}
	for _, option := range options {
		option(updater)
	}
	return updater
}

// Update fetches every yearly feed from the first feed year through the
// current year and normalizes all entries in order. A failed year or a
// malformed record is logged and skipped, it never aborts the rest.
func (u *Updater) Update() ([]cve.VulnerabilityRecord, error) {
	if err := u.appFs.MkdirAll(u.cacheDir, 0755); err != nil {
		return nil, xerrors.Errorf("unable to create cache dir: %w", err)
	}

	log.Printf("Fetching NVD feeds %d-%d\n", u.firstYear, u.currentYear)
	var records []cve.VulnerabilityRecord
	skipped := 0

	bar := pb.StartNew(u.currentYear - u.firstYear + 1)
	for year := u.firstYear; year <= u.currentYear; year++ {
		bar.Increment()

		path, err := u.fetchYearFeed(year)
		if err != nil {
			log.Printf("skipping year %d: %s\n", year, err)
			continue
		}
		items, err := u.parseFeed(path)
		if err != nil {
			log.Printf("skipping year %d: %s\n", year, err)
			continue
		}

		for _, raw := range items {
			record, err := cve.Normalize(raw)
			if err != nil {
				skipped++
				log.Printf("%s\n", err)
				continue
			}
			records = append(records, record)
		}
	}
	bar.Finish()

	log.Printf("loaded %d records, skipped %d malformed\n", len(records), skipped)
	return records, nil
}

// fetchYearFeed returns the local path of one year's archive. A cached copy
// younger than 24 hours is reused as is; a stale copy is only re-downloaded
// when the feed's meta file reports a newer remote archive. A failed refresh
// falls back to the stale copy.
func (u *Updater) fetchYearFeed(year int) (string, error) {
	name := fmt.Sprintf(feedFileFormat, year)
	path := filepath.Join(u.cacheDir, name)

	info, err := u.appFs.Stat(path)
	cached := err == nil
	if cached && time.Since(info.ModTime()) <= cacheMaxAge {
		return path, nil
	}
	if cached && !u.remoteNewer(year, info.ModTime()) {
		return path, nil
	}

	body, err := utils.FetchURL(u.baseURL+"/"+name, u.apiKey, u.retry)
	if err != nil {
		if cached {
			log.Printf("failed to refresh %s, reusing cached copy: %s\n", name, err)
			return path, nil
		}
		return "", xerrors.Errorf("unable to fetch %s: %w", name, err)
	}
	if err = afero.WriteFile(u.appFs, path, body, 0644); err != nil {
		return "", xerrors.Errorf("unable to cache %s: %w", name, err)
	}
	return path, nil
}

func (u *Updater) parseFeed(path string) ([]json.RawMessage, error) {
	f, err := u.appFs.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, xerrors.Errorf("unable to decompress %s: %w", path, err)
	}
	defer gz.Close()

	var fd feed
	if err = json.NewDecoder(gz).Decode(&fd); err != nil {
		return nil, xerrors.Errorf("unable to decode %s: %w", path, err)
	}
	return fd.CVEItems, nil
}
