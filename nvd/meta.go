package nvd

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/vulnstats/nvd-cve-stats/utils"
)

// remoteNewer consults the feed's meta sidecar to decide whether a stale
// cached archive actually needs a re-download. Any error reading or parsing
// the meta file counts as "newer" so the archive gets refreshed.
func (u *Updater) remoteNewer(year int, cachedAt time.Time) bool {
	url := fmt.Sprintf("%s/"+metaFileFormat, u.baseURL, year)
	body, err := utils.FetchURL(url, u.apiKey, 0)
	if err != nil {
		return true
	}

	for _, line := range strings.Split(string(body), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || key != "lastModifiedDate" {
			continue
		}
		modified, err := dateparse.ParseAny(value)
		if err != nil {
			return true
		}
		return modified.After(cachedAt)
	}
	return true
}
