package utils_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnstats/nvd-cve-stats/utils"
)

func TestFetchURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("feed body"))
		case "/with-key":
			assert.Equal(t, "secret", r.Header.Get("apiKey"))
			w.Write([]byte("authorized"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	body, err := utils.FetchURL(ts.URL+"/ok", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("feed body"), body)

	body, err = utils.FetchURL(ts.URL+"/with-key", "secret", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("authorized"), body)

	_, err = utils.FetchURL(ts.URL+"/missing", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code: 404")
}

func TestFetchURLRetriesAfterFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps between attempts")
	}

	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("feed body"))
	}))
	defer ts.Close()

	body, err := utils.FetchURL(ts.URL, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("feed body"), body)
	assert.Equal(t, 2, attempts)
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("NVD_CVE_STATS_TEST_KEY", "set")
	assert.Equal(t, "set", utils.LookupEnv("NVD_CVE_STATS_TEST_KEY", "default"))
	assert.Equal(t, "default", utils.LookupEnv("NVD_CVE_STATS_TEST_MISSING", "default"))
}
