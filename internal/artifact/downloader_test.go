package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pdfBody is a minimal payload that sniffs as binary.
var pdfBody = append([]byte("%PDF-1.4\n"), make([]byte, 600)...)

func newDownloader(t *testing.T) *Downloader {
	t.Helper()
	return New(Config{BaseDir: t.TempDir(), Timeout: 5 * time.Second}, nil)
}

func TestDestPathLayout(t *testing.T) {
	t.Parallel()

	d := New(Config{BaseDir: "/data/pdfs"}, nil)

	got := d.DestPath(2019, "Jawa Barat", "Peraturan Daerah Nomor 7 Tahun 2019")
	assert.Equal(t,
		filepath.Join("/data/pdfs", "2019", "Jawa_Barat", "Peraturan_Daerah_Nomor_7_Tahun_2019.pdf"),
		got)
}

func TestDestPathSanitizesSegments(t *testing.T) {
	t.Parallel()

	d := New(Config{BaseDir: "/data/pdfs"}, nil)

	got := d.DestPath(0, "", `Kab. "X" / Y: Z?`)
	assert.Equal(t, filepath.Join("/data/pdfs", "unknown_year", "unknown_region", "Kab_X_Y_Z.pdf"), got)

	long := strings.Repeat("a", 300)
	got = d.DestPath(2020, "Bali", long)
	base := filepath.Base(got)
	assert.Len(t, base, 100+len(".pdf"))
}

func TestFetchDownloadsAndPlacesFile(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBody) //nolint:errcheck
	}))
	defer srv.Close()

	d := newDownloader(t)
	path, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf", 2019, "Jawa Barat", "Perda 7")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchSkipsExistingFile(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBody) //nolint:errcheck
	}))
	defer srv.Close()

	d := newDownloader(t)
	first, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf", 2019, "Bali", "Perda 3")
	require.NoError(t, err)

	second, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf", 2019, "Bali", "Perda 3")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load(), "existing file must not be re-fetched")
}

func TestFetchRejectsHTMLWithoutRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>session expired</body></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	d := newDownloader(t)
	path, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf", 2019, "Bali", "Perda 3")

	require.Error(t, err)
	assert.Empty(t, path)
	assert.Contains(t, err.Error(), "non-binary response")
	assert.Equal(t, int32(1), hits.Load(), "a sniffed HTML body must not be retried")

	_, statErr := os.Stat(d.DestPath(2019, "Bali", "Perda 3"))
	assert.True(t, os.IsNotExist(statErr), "rejected responses must leave no file")
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBody) //nolint:errcheck
	}))
	defer srv.Close()

	d := newDownloader(t)
	path, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf", 2020, "Bali", "Perda 9")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchEmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	path, err := newDownloader(t).Fetch(context.Background(), "", 2020, "Bali", "Perda 9")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := newDownloader(t)

	done := make(chan error, 1)
	go func() {
		_, err := d.Fetch(ctx, srv.URL+"/doc.pdf", 2020, "Bali", "Perda 9")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Fetch did not stop on cancellation")
	}
}
