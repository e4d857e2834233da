package peraturan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

func TestTotalPagesFromAdvertisedCount(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/perda", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body><p>59 Perda ditemukan</p></body></html>`)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL, PageSize: 20}, zap.NewNop())
	pages, err := src.TotalPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
}

func TestTotalPagesFallsBackToExpectedItems(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/perda", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body><p>selamat datang</p></body></html>`)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL, PageSize: 20, ExpectedItems: 100}, zap.NewNop())
	pages, err := src.TotalPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, pages)
}

func TestParsePageExtractsRecords(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/perda", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(listingHTML)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, zap.NewNop())
	sess, err := src.NewSession(0)
	require.NoError(t, err)
	defer sess.Close()

	records, err := sess.ParsePage(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, srv.URL+"/id/perda-no-7-tahun-2019", records[0].DetailURL)
}

func TestParsePageEmptyBody(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/perda", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, zap.NewNop())
	sess, err := src.NewSession(0)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.ParsePage(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, harvest.CategoryEmpty, harvest.Categorize(err))
}

func TestParsePageRateLimited(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/perda", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, zap.NewNop())
	sess, err := src.NewSession(0)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.ParsePage(context.Background(), 2)
	require.Error(t, err)

	var rlErr *harvest.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 7*time.Second, rlErr.RetryAfter)
}

func TestResolveArtifactURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/id/perda-no-7-tahun-2019", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body><a href="/download/perda-7.pdf">Unduh</a></body></html>`)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := New(Config{BaseURL: srv.URL}, zap.NewNop())
	sess, err := src.NewSession(0)
	require.NoError(t, err)
	defer sess.Close()

	url, err := sess.ResolveArtifactURL(context.Background(), srv.URL+"/id/perda-no-7-tahun-2019")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/download/perda-7.pdf", url)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 120*time.Second, parseRetryAfter("120"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 90*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}
