package peraturan

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

// parseListing extracts perda records from a listing page. The primary pass
// anchors on detail links; when the markup shifts and that yields nothing,
// a fallback pass anchors on title paragraphs instead.
func (p *session) parseListing(doc *goquery.Document, pageNum int) []harvest.Record {
	var records []harvest.Record

	doc.Find(`a[href*="/id/perda-"]`).Each(func(_ int, link *goquery.Selection) {
		titlePara := findTitlePara(link)
		pdfLink := findPDFLink(link)
		if rec, ok := p.buildRecord(link, pdfLink, titlePara, pageNum); ok {
			records = append(records, rec)
		}
	})

	if len(records) == 0 {
		records = p.parseListingFallback(doc, pageNum)
	}
	if len(records) == 0 {
		p.logger.Debug("no records parsed", zap.Int("page", pageNum))
	}
	return records
}

// parseListingFallback anchors on paragraphs naming a regulation and walks
// forward to the detail and PDF links.
func (p *session) parseListingFallback(doc *goquery.Document, pageNum int) []harvest.Record {
	var records []harvest.Record
	doc.Find("p").Each(func(_ int, para *goquery.Selection) {
		if !strings.Contains(para.Text(), "Peraturan Daerah") {
			return
		}
		next := para.Next()
		if !next.Is("p") {
			return
		}
		link := next.Find("a").First()
		if link.Length() == 0 {
			return
		}
		pdfLink := next.Next().Find(`a[href$=".pdf"], a[href*=".pdf"]`).First()
		if rec, ok := p.buildRecord(link, pdfLink, para, pageNum); ok {
			records = append(records, rec)
		}
	})
	return records
}

// findTitlePara walks up from a detail link looking for the preceding
// paragraph that names the regulation.
func findTitlePara(link *goquery.Selection) *goquery.Selection {
	container := link.Parent()
	for container.Length() > 0 && !container.Is("body") && !container.Is("html") {
		prev := container.Prev()
		if prev.Is("p") {
			text := strings.TrimSpace(prev.Text())
			if strings.Contains(text, "Peraturan Daerah") || strings.Contains(text, "Nomor") {
				return prev
			}
		}
		container = container.Parent()
	}
	return nil
}

// findPDFLink searches the detail link's surrounding markup for an inline
// PDF link. Many listings omit it; the detail page is the fallback.
func findPDFLink(link *goquery.Selection) *goquery.Selection {
	area := link.Parent().Parent()
	if area.Length() == 0 {
		area = link.Parent()
	}
	return area.Find(`a[href*=".pdf"]`).First()
}

// buildRecord assembles a Record from the listing elements. Records without
// a title or description are dropped.
func (p *session) buildRecord(
	detailLink, pdfLink, titlePara *goquery.Selection,
	pageNum int,
) (harvest.Record, bool) {
	now := time.Now().UTC()
	rec := harvest.Record{
		Source:    p.src.Name(),
		ScrapedAt: now,
		UpdatedAt: now,
	}

	if href, ok := detailLink.Attr("href"); ok {
		rec.DetailURL = p.absURL(href)
	}
	rec.Description = strings.TrimSpace(detailLink.Text())

	if titlePara != nil && titlePara.Length() > 0 {
		title := strings.TrimSpace(titlePara.Text())
		rec.Title = title
		rec.Year = p.extract.year(title)
		region := p.extract.region(title)
		rec.RegionName = region.name
		rec.RegionType = region.kind
		rec.Number = extractNumber(title)
	}

	if pdfLink != nil && pdfLink.Length() > 0 {
		if href, ok := pdfLink.Attr("href"); ok {
			rec.PDFURL = p.absURL(href)
		}
	}

	if rec.Title == "" && rec.Description == "" {
		return harvest.Record{}, false
	}
	return rec, true
}

// absURL resolves href against the source base URL.
func (p *session) absURL(href string) string {
	base, err := url.Parse(p.src.cfg.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// pdfFromDetail finds the PDF download link on a record's detail page.
// Download buttons use either a direct .pdf href or localized link text.
func pdfFromDetail(doc *goquery.Document, baseURL string) (string, bool) {
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		text := strings.ToLower(strings.TrimSpace(link.Text()))
		if strings.Contains(strings.ToLower(href), ".pdf") ||
			strings.Contains(text, "download") ||
			strings.Contains(text, "unduh") {
			found = href
			return false
		}
		return true
	})
	if found == "" {
		return "", false
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return found, true
	}
	ref, err := url.Parse(found)
	if err != nil {
		return found, true
	}
	return base.ResolveReference(ref).String(), true
}

// totalFromText reads the advertised result count, e.g. "19686 Perda
// ditemukan".
func totalFromText(text string) (int, bool) {
	m := totalCountRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	total, err := strconv.Atoi(m[1])
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}

// maxPageFromPagination scans the pagination widget for the highest page
// number, from both link text and page query parameters.
func maxPageFromPagination(doc *goquery.Document) (int, bool) {
	maxPage := 1
	doc.Find("ul.pagination a, div.pagination a").Each(func(_ int, link *goquery.Selection) {
		if href, ok := link.Attr("href"); ok {
			if u, err := url.Parse(href); err == nil {
				if n, err := strconv.Atoi(u.Query().Get("page")); err == nil && n > maxPage {
					maxPage = n
				}
			}
		}
		if n, err := strconv.Atoi(strings.TrimSpace(link.Text())); err == nil && n > maxPage {
			maxPage = n
		}
	})
	if maxPage <= 1 {
		return 0, false
	}
	return maxPage, true
}
