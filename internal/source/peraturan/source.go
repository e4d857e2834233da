// Package peraturan implements the harvest.Source for the peraturan.go.id
// regional regulation catalog.
package peraturan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

const (
	defaultBaseURL       = "https://peraturan.go.id"
	defaultPageSize      = 20
	defaultExpectedItems = 19686
	defaultTimeout       = 30 * time.Second
)

// Config controls the source.
type Config struct {
	BaseURL   string
	UserAgent string
	PageSize  int
	// ExpectedItems is the fallback catalog size used when the landing page
	// reveals neither a total count nor pagination.
	ExpectedItems int
	Timeout       time.Duration
}

// Source lists regional regulations ("perda") from peraturan.go.id. One
// Source serves many sessions; each worker gets its own Session with an
// isolated collector.
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
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ExpectedItems <= 0 {
		cfg.ExpectedItems = defaultExpectedItems
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
	c.WithTransport(newHTTPTransport())

	return &Source{cfg: cfg, base: c, logger: logger}
}

// Name identifies the source in logs and the store.
func (s *Source) Name() string { return "peraturan_go_id" }

// listingURL builds the perda listing URL for a page.
func (s *Source) listingURL(page int) string {
	return fmt.Sprintf("%s/perda?page=%d&per-page=%d", s.cfg.BaseURL, page, s.cfg.PageSize)
}

// TotalPages fetches the first listing page and derives the page count from
// the advertised total, the pagination widget, or the configured fallback,
// in that order.
func (s *Source) TotalPages(ctx context.Context) (int, error) {
	sess, err := s.NewSession(-1)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	ps := sess.(*session)
	body, err := ps.fetch(ctx, s.listingURL(1), 1)
	if err != nil {
		return 0, fmt.Errorf("fetch landing page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse landing page: %w", err)
	}

	if total, ok := totalFromText(doc.Text()); ok {
		pages := (total + s.cfg.PageSize - 1) / s.cfg.PageSize
		s.logger.Info("catalog size discovered",
			zap.Int("total_items", total),
			zap.Int("pages", pages),
		)
		return pages, nil
	}

	if pages, ok := maxPageFromPagination(doc); ok {
		s.logger.Info("page count from pagination", zap.Int("pages", pages))
		return pages, nil
	}

	pages := (s.cfg.ExpectedItems + s.cfg.PageSize - 1) / s.cfg.PageSize
	s.logger.Warn("could not determine total pages, using expected catalog size",
		zap.Int("pages", pages),
	)
	return pages, nil
}

// NewSession builds a worker-owned Session around a collector clone.
func (s *Source) NewSession(workerID int) (harvest.Session, error) {
	return &session{
		src:       s,
		collector: s.base.Clone(),
		extract:   newExtractor(),
		logger:    s.logger.With(zap.Int("worker", workerID)),
	}, nil
}

// session is owned by a single worker goroutine and is not safe for
// concurrent use.
type session struct {
	src       *Source
	collector *colly.Collector
	extract   *extractor
	logger    *zap.Logger
}

// ParsePage fetches one listing page and extracts its records.
func (p *session) ParsePage(ctx context.Context, pageNum int) ([]harvest.Record, error) {
	body, err := p.fetch(ctx, p.src.listingURL(pageNum), pageNum)
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

	records := p.parseListing(doc, pageNum)
	return records, nil
}

// ResolveArtifactURL fetches a record's detail page and returns the PDF
// download link found there.
func (p *session) ResolveArtifactURL(ctx context.Context, detailURL string) (string, error) {
	body, err := p.fetch(ctx, detailURL, 0)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse detail page: %w", err)
	}
	url, ok := pdfFromDetail(doc, p.src.cfg.BaseURL)
	if !ok {
		return "", fmt.Errorf("no pdf link on %s", detailURL)
	}
	return url, nil
}

func (p *session) Close() error { return nil }

// fetch performs one GET through the collector, bridging colly's callback
// model to a blocking call that honors ctx.
func (p *session) fetch(ctx context.Context, url string, pageNum int) ([]byte, error) {
	var (
		body     []byte
		status   int
		retryHdr string
		fetchErr error
	)

	c := p.collector.Clone()
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
		return nil, &harvest.RateLimitError{RetryAfter: parseRetryAfter(retryHdr)}
	}
	if fetchErr != nil {
		return nil, harvest.NewRequestError(categorizeFetch(fetchErr), pageNum, fetchErr)
	}
	return body, nil
}

func categorizeFetch(err error) harvest.Category {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return harvest.CategoryTimeout
	}
	return harvest.CategoryConnection
}

func parseRetryAfter(value string) time.Duration {
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

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
