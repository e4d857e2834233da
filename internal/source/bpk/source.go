// Package bpk implements the harvest.Source for the peraturan.bpk.go.id
// regulation database, the BPK audit board's catalog.
package bpk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

// Regulation type codes accepted by the BPK search endpoint. 19 is
// Peraturan Daerah, 20 Peraturan Gubernur, 23 Peraturan Bupati/Walikota,
// 30 Keputusan.
var defaultJenis = []string{"20", "23", "30"}

const (
	defaultBaseURL = "https://peraturan.bpk.go.id"
	// The BPK pagination widget only links the first ten pages and never
	// reveals the total, so the catalog size is configured rather than
	// discovered.
	defaultExpectedPages = 5893
	// BPK throttles harder than peraturan.go.id; the default timeout is
	// correspondingly longer.
	defaultTimeout = 45 * time.Second
)

// Config controls the source.
type Config struct {
	BaseURL   string
	UserAgent string
	// Jenis filters the search to these regulation type codes.
	Jenis []string
	// ExpectedPages is the catalog size in pages, used as the page count
	// since the site never advertises one.
	ExpectedPages int
	Timeout       time.Duration
}

// Source lists regulations from the BPK search endpoint. One Source serves
// many sessions; each worker gets its own Session with an isolated
// collector.
type Source struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Source.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Jenis) == 0 {
		cfg.Jenis = defaultJenis
	}
	if cfg.ExpectedPages <= 0 {
		cfg.ExpectedPages = defaultExpectedPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	})

	return &Source{cfg: cfg, base: c, logger: logger}
}

// Name identifies the source in logs and the store.
func (s *Source) Name() string { return "bpk" }

// searchURL builds the search URL for a page. The endpoint takes the jenis
// filter as a repeated query parameter and pages with "p".
func (s *Source) searchURL(page int) string {
	q := url.Values{}
	q.Set("keywords", "")
	q.Set("tentang", "")
	q.Set("nomor", "")
	for _, jenis := range s.cfg.Jenis {
		q.Add("jenis", jenis)
	}
	q.Set("p", strconv.Itoa(page))
	return s.cfg.BaseURL + "/Search?" + q.Encode()
}

// TotalPages returns the configured catalog size. The first search page is
// still fetched so a dead or blocked endpoint fails the run up front
// instead of from inside the pool.
func (s *Source) TotalPages(ctx context.Context) (int, error) {
	sess, err := s.NewSession(-1)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	bs := sess.(*session)
	body, err := bs.fetch(ctx, s.searchURL(1), 1)
	if err != nil {
		return 0, fmt.Errorf("fetch search page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse search page: %w", err)
	}

	if doc.Find("a.page-link").Length() == 0 {
		s.logger.Warn("no pagination on search page, catalog may have moved",
			zap.Int("pages", s.cfg.ExpectedPages))
	} else {
		s.logger.Info("search endpoint answering",
			zap.Int("pages", s.cfg.ExpectedPages))
	}
	return s.cfg.ExpectedPages, nil
}

// NewSession builds a worker-owned Session around a collector clone.
func (s *Source) NewSession(workerID int) (harvest.Session, error) {
	return &session{
		src:       s,
		collector: s.base.Clone(),
		logger:    s.logger.With(zap.Int("worker", workerID)),
	}, nil
}

// session is owned by a single worker goroutine and is not safe for
// concurrent use.
type session struct {
	src       *Source
	collector *colly.Collector
	logger    *zap.Logger
}

// ParsePage fetches one search page and extracts its regulation cards.
func (b *session) ParsePage(ctx context.Context, pageNum int) ([]harvest.Record, error) {
	body, err := b.fetch(ctx, b.src.searchURL(pageNum), pageNum)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, harvest.NewRequestError(harvest.CategoryEmpty, pageNum,
			fmt.Errorf("empty response for page %d", pageNum))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, harvest.NewRequestError(harvest.CategoryParse, pageNum,
			fmt.Errorf("parse page %d: %w", pageNum, err))
	}
	return b.parseCards(doc, pageNum), nil
}

// ResolveArtifactURL visits a record's detail page and returns its download
// link. Most cards already carry one; this covers the rest.
func (b *session) ResolveArtifactURL(ctx context.Context, detailURL string) (string, error) {
	body, err := b.fetch(ctx, detailURL, 0)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse detail page: %w", err)
	}
	link := doc.Find(`a[href*="/Download/"]`).First()
	href, ok := link.Attr("href")
	if !ok {
		return "", fmt.Errorf("no download link on %s", detailURL)
	}
	return b.absURL(href), nil
}

func (b *session) Close() error { return nil }

// fetch performs one GET through the collector, bridging colly's callback
// model to a blocking call that honors ctx.
func (b *session) fetch(ctx context.Context, url string, pageNum int) ([]byte, error) {
	var (
		body     []byte
		status   int
		retryHdr string
		fetchErr error
	)

	c := b.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
			retryHdr = r.Headers.Get("Retry-After")
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.Visit(url) }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case visitErr := <-done:
		if fetchErr == nil {
			fetchErr = visitErr
		}
	}

	if status == http.StatusTooManyRequests {
		return nil, &harvest.RateLimitError{RetryAfter: retryAfter(retryHdr)}
	}
	if fetchErr != nil {
		category := harvest.CategoryConnection
		var netErr net.Error
		if errors.As(fetchErr, &netErr) && netErr.Timeout() {
			category = harvest.CategoryTimeout
		}
		return nil, harvest.NewRequestError(category, pageNum, fetchErr)
	}
	return body, nil
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
