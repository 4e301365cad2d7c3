package nvd_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnstats/nvd-cve-stats/cve"
	"github.com/vulnstats/nvd-cve-stats/nvd"
)

func newFeedServer(t *testing.T, fileNames map[string]string, archiveHits *int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if archiveHits != nil && strings.HasSuffix(r.URL.Path, ".json.gz") {
			*archiveHits++
		}
		fileName, ok := fileNames[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, fileName)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func recordIDs(records []cve.VulnerabilityRecord) []string {
	return lo.Map(records, func(r cve.VulnerabilityRecord, _ int) string { return r.ID })
}

func TestUpdater_Update(t *testing.T) {
	ts := newFeedServer(t, map[string]string{
		"/nvdcve-1.1-2002.json.gz": "testdata/nvdcve-1.1-2002.json.gz",
		"/nvdcve-1.1-2003.json.gz": "testdata/nvdcve-1.1-2003.json.gz",
	}, nil)

	appFs := afero.NewMemMapFs()
	u := nvd.NewUpdater(
		nvd.WithBaseURL(ts.URL),
		nvd.WithCacheDir("/cache"),
		nvd.WithAppFs(appFs),
		nvd.WithRetry(0),
		nvd.WithFirstYear(2002),
		nvd.WithCurrentYear(2003))

	records, err := u.Update()
	require.NoError(t, err)

	// the 2002 feed carries one malformed entry which must be skipped
	assert.Equal(t, []string{"CVE-2002-0001", "CVE-2002-0002", "CVE-2003-0001"}, recordIDs(records))

	assert.Equal(t, cve.ClassificationValid, records[0].Classification)
	assert.Equal(t, cve.SeverityHigh, records[0].Impact)
	assert.Equal(t, cve.ClassificationReject, records[1].Classification)
	assert.Equal(t, cve.SeverityNone, records[1].Impact)
	assert.Equal(t, cve.SeverityCritical, records[2].Impact)
	assert.NotEmpty(t, records[2].RawPayload)

	// both archives must now be cached
	for _, name := range []string{"nvdcve-1.1-2002.json.gz", "nvdcve-1.1-2003.json.gz"} {
		exists, err := afero.Exists(appFs, filepath.Join("/cache", name))
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
}

func TestUpdater_UpdateSkipsFailedYear(t *testing.T) {
	// 2002 is missing upstream, 2003 must still be imported
	ts := newFeedServer(t, map[string]string{
		"/nvdcve-1.1-2003.json.gz": "testdata/nvdcve-1.1-2003.json.gz",
	}, nil)

	u := nvd.NewUpdater(
		nvd.WithBaseURL(ts.URL),
		nvd.WithCacheDir("/cache"),
		nvd.WithAppFs(afero.NewMemMapFs()),
		nvd.WithRetry(0),
		nvd.WithFirstYear(2002),
		nvd.WithCurrentYear(2003))

	records, err := u.Update()
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2003-0001"}, recordIDs(records))
}

func TestUpdater_UpdateReusesFreshCache(t *testing.T) {
	var archiveHits int
	ts := newFeedServer(t, map[string]string{}, &archiveHits)

	appFs := afero.NewMemMapFs()
	seedCache(t, appFs, "/cache/nvdcve-1.1-2002.json.gz", time.Now())

	u := nvd.NewUpdater(
		nvd.WithBaseURL(ts.URL),
		nvd.WithCacheDir("/cache"),
		nvd.WithAppFs(appFs),
		nvd.WithRetry(0),
		nvd.WithFirstYear(2002),
		nvd.WithCurrentYear(2002))

	records, err := u.Update()
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2002-0001", "CVE-2002-0002"}, recordIDs(records))
	assert.Equal(t, 0, archiveHits)
}

func TestUpdater_UpdateSkipsDownloadWhenRemoteUnchanged(t *testing.T) {
	// stale cache, but the meta sidecar reports no remote change since 2000
	var archiveHits int
	ts := newFeedServer(t, map[string]string{
		"/nvdcve-1.1-2002.meta": "testdata/nvdcve-1.1-2002.meta",
	}, &archiveHits)

	appFs := afero.NewMemMapFs()
	seedCache(t, appFs, "/cache/nvdcve-1.1-2002.json.gz", time.Now().Add(-48*time.Hour))

	u := nvd.NewUpdater(
		nvd.WithBaseURL(ts.URL),
		nvd.WithCacheDir("/cache"),
		nvd.WithAppFs(appFs),
		nvd.WithRetry(0),
		nvd.WithFirstYear(2002),
		nvd.WithCurrentYear(2002))

	records, err := u.Update()
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2002-0001", "CVE-2002-0002"}, recordIDs(records))
	assert.Equal(t, 0, archiveHits)
}

func TestUpdater_UpdateKeepsStaleCacheOnFetchFailure(t *testing.T) {
	// no meta and no archive upstream: the stale copy is reused untouched
	ts := newFeedServer(t, map[string]string{}, nil)

	appFs := afero.NewMemMapFs()
	seedCache(t, appFs, "/cache/nvdcve-1.1-2002.json.gz", time.Now().Add(-48*time.Hour))

	u := nvd.NewUpdater(
		nvd.WithBaseURL(ts.URL),
		nvd.WithCacheDir("/cache"),
		nvd.WithAppFs(appFs),
		nvd.WithRetry(0),
		nvd.WithFirstYear(2002),
		nvd.WithCurrentYear(2002))

	records, err := u.Update()
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2002-0001", "CVE-2002-0002"}, recordIDs(records))
}

func seedCache(t *testing.T, appFs afero.Fs, path string, modTime time.Time) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", filepath.Base(path)))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(appFs, path, b, 0644))
	require.NoError(t, appFs.Chtimes(path, modTime, modTime))
}
