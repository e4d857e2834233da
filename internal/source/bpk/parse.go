package bpk

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

// Patterns for the info line under each card title, e.g. "Peraturan Daerah
// (Perda) Kabupaten Bandung Nomor 55 Tahun 2025".
var (
	numberRe = regexp.MustCompile(`(?i)Nomor\s+(\d+)`)
	yearRe   = regexp.MustCompile(`(?i)Tahun\s+(\d{4})`)
	regionRe = regexp.MustCompile(`(Kabupaten|Kota|Provinsi)\s+([^N]+)`)
)

// parseCards extracts records from the card-based search result layout.
// Each card carries a detail link, an info line with number/year/region,
// an abstract, status badges, and usually an inline download link.
func (b *session) parseCards(doc *goquery.Document, pageNum int) []harvest.Record {
	var records []harvest.Record
	doc.Find("div.card").Each(func(_ int, card *goquery.Selection) {
		if rec, ok := b.buildRecord(card); ok {
			records = append(records, rec)
		}
	})
	if len(records) == 0 {
		b.logger.Debug("no cards parsed", zap.Int("page", pageNum))
	}
	return records
}

// buildRecord assembles a Record from one card. Cards without a detail
// link are navigation chrome and are dropped.
func (b *session) buildRecord(card *goquery.Selection) (harvest.Record, bool) {
	link := card.Find(`a[href*="/Details/"]`).First()
	if link.Length() == 0 {
		return harvest.Record{}, false
	}

	now := time.Now().UTC()
	rec := harvest.Record{
		Source:    b.src.Name(),
		Title:     strings.TrimSpace(link.Text()),
		ScrapedAt: now,
		UpdatedAt: now,
	}
	if href, ok := link.Attr("href"); ok {
		rec.DetailURL = b.absURL(href)
	}
	if rec.Title == "" || rec.DetailURL == "" {
		return harvest.Record{}, false
	}

	if info := strings.TrimSpace(card.Find("div.fw-semibold").First().Text()); info != "" {
		rec.Number = matchGroup(numberRe, info)
		if y := matchGroup(yearRe, info); y != "" {
			rec.Year, _ = strconv.Atoi(y)
		}
		if m := regionRe.FindStringSubmatch(info); m != nil {
			rec.RegionType = m[1]
			rec.RegionName = strings.TrimSpace(m[2])
		}
	}

	rec.Description = strings.TrimSpace(card.Find("div.text-gray-700").First().Text())

	if pdf := card.Find(`a[href*="/Download/"]`).First(); pdf.Length() > 0 {
		if href, ok := pdf.Attr("href"); ok {
			rec.PDFURL = b.absURL(href)
		}
	}

	var badges []string
	card.Find("span.badge").Each(func(_ int, badge *goquery.Selection) {
		if text := strings.TrimSpace(badge.Text()); text != "" {
			badges = append(badges, text)
		}
	})
	rec.Status = strings.Join(badges, ", ")

	return rec, true
}

func matchGroup(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// absURL resolves href against the source base URL.
func (b *session) absURL(href string) string {
	base, err := url.Parse(b.src.cfg.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
