// Package scrape fetches a news page and extracts its headline and body.
package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"golang.org/x/time/rate"
)

// ErrNoContent is returned when a page has no paragraph text.
var ErrNoContent = errors.New("no article text found")

// Article is the extracted content of one page.
type Article struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetcher downloads pages politely: one limiter is shared by every call.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBytes  int64
	logger    log.Logger
}

// New returns a Fetcher configured from the scraper section.
func New(cfg config.ScraperConfig) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    log.GetLoggerWithName("scrape"),
	}
}

// Fetch downloads rawURL and extracts the article.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Article, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Article{}, errors.NewValidationError("url", "must be an absolute http(s) URL", rawURL)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return Article{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Article{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Article{}, errors.Wrapf(err, "fetch %s", u)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Article{}, errors.Newf("received status code %d for URL: %s", resp.StatusCode, u)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return Article{}, errors.Wrap(err, "parse html")
	}

	a := Article{URL: u.String(), Title: extractTitle(doc), Text: extractText(doc)}
	if a.Text == "" {
		return a, errors.Wrapf(ErrNoContent, "%s", u)
	}
	f.logger.Debug("Article fetched", "url", a.URL, "chars", len(a.Text))
	return a, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := squash(og); t != "" {
			return t
		}
	}
	for _, sel := range []string{"title", "h1"} {
		if t := squash(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// extractText joins the paragraphs of the first container that has any.
func extractText(doc *goquery.Document) string {
	for _, sel := range []string{"article p", "main p", "body p"} {
		var parts []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := squash(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

func squash(s string) string { return strings.Join(strings.Fields(s), " ") }
