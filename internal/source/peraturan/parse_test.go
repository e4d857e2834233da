package peraturan

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const listingHTML = `
<html><body>
<div class="container">
  <p>985 Perda ditemukan</p>
  <div class="row">
    <p>Peraturan Daerah Provinsi Jawa Barat Nomor 7 Tahun 2019</p>
    <div>
      <a href="/id/perda-no-7-tahun-2019">Penyelenggaraan Pendidikan</a>
      <a href="/files/perda-7-2019.pdf">PDF</a>
    </div>
  </div>
  <div class="row">
    <p>Peraturan Daerah Kota Bandung Nomor 3 Tahun 2021</p>
    <div>
      <a href="/id/perda-no-3-tahun-2021">Pengelolaan Sampah</a>
    </div>
  </div>
  <ul class="pagination">
    <li><a href="/perda?page=2&amp;per-page=20">2</a></li>
    <li><a href="/perda?page=985&amp;per-page=20">&raquo;</a></li>
  </ul>
</div>
</body></html>`

const fallbackHTML = `
<html><body>
<p>Peraturan Daerah Kabupaten Badung Nomor 2 Tahun 2020</p>
<p><a href="/detail/badung-2-2020">Lihat detail</a></p>
<p><a href="/files/badung-2-2020.pdf">Unduh</a></p>
</body></html>`

func newTestSession(t *testing.T) *session {
	t.Helper()
	src := New(Config{BaseURL: "https://peraturan.go.id"}, zap.NewNop())
	sess, err := src.NewSession(0)
	require.NoError(t, err)
	return sess.(*session)
}

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	ps := newTestSession(t)
	records := ps.parseListing(docFrom(t, listingHTML), 1)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "Peraturan Daerah Provinsi Jawa Barat Nomor 7 Tahun 2019", first.Title)
	assert.Equal(t, "Penyelenggaraan Pendidikan", first.Description)
	assert.Equal(t, "https://peraturan.go.id/id/perda-no-7-tahun-2019", first.DetailURL)
	assert.Equal(t, "https://peraturan.go.id/files/perda-7-2019.pdf", first.PDFURL)
	assert.Equal(t, 2019, first.Year)
	assert.Equal(t, "7", first.Number)
	assert.Equal(t, "Jawa Barat", first.RegionName)
	assert.Equal(t, "Provinsi", first.RegionType)
	assert.Equal(t, "peraturan_go_id", first.Source)
	assert.False(t, first.ScrapedAt.IsZero())

	second := records[1]
	assert.Equal(t, "https://peraturan.go.id/id/perda-no-3-tahun-2021", second.DetailURL)
	assert.Empty(t, second.PDFURL, "second entry carries no inline pdf link")
	assert.Equal(t, "Bandung", second.RegionName)
	assert.Equal(t, "Kota", second.RegionType)
}

func TestParseListingFallback(t *testing.T) {
	t.Parallel()

	ps := newTestSession(t)
	records := ps.parseListing(docFrom(t, fallbackHTML), 4)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Peraturan Daerah Kabupaten Badung Nomor 2 Tahun 2020", rec.Title)
	assert.Equal(t, "https://peraturan.go.id/detail/badung-2-2020", rec.DetailURL)
	assert.Equal(t, "https://peraturan.go.id/files/badung-2-2020.pdf", rec.PDFURL)
	assert.Equal(t, "Badung", rec.RegionName)
	assert.Equal(t, "Kabupaten", rec.RegionType)
	assert.Equal(t, 2020, rec.Year)
}

func TestParseListingEmptyDocument(t *testing.T) {
	t.Parallel()

	ps := newTestSession(t)
	records := ps.parseListing(docFrom(t, "<html><body><p>tidak ada hasil</p></body></html>"), 9)
	assert.Empty(t, records)
}

func TestMaxPageFromPagination(t *testing.T) {
	t.Parallel()

	pages, ok := maxPageFromPagination(docFrom(t, listingHTML))
	assert.True(t, ok)
	assert.Equal(t, 985, pages)

	_, ok = maxPageFromPagination(docFrom(t, fallbackHTML))
	assert.False(t, ok)
}

func TestPDFFromDetail(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		html string
		want string
		ok   bool
	}{
		{
			name: "direct pdf href",
			html: `<a href="/download/perda-7.pdf">Berkas</a>`,
			want: "https://peraturan.go.id/download/perda-7.pdf",
			ok:   true,
		},
		{
			name: "localized link text",
			html: `<a href="/download/123">Unduh Berkas</a>`,
			want: "https://peraturan.go.id/download/123",
			ok:   true,
		},
		{
			name: "download text",
			html: `<a href="/files/123">Download</a>`,
			want: "https://peraturan.go.id/files/123",
			ok:   true,
		},
		{
			name: "no candidates",
			html: `<a href="/home">Beranda</a>`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := docFrom(t, "<html><body>"+tc.html+"</body></html>")
			got, ok := pdfFromDetail(doc, "https://peraturan.go.id")
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
