// Package parser extracts structured news records and article links
// from raw HTML pages.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/solovyov/newswire/internal/news"
)

// Selectors matching the source site's layout. A page that matches
// neither set is reported as a schema mismatch rather than guessed at.
const (
	selListingItem  = "div.article_title > a"
	selLoadMore     = "button#btn_get-news"
	selArticleTitle = ".article-detail__title h1"
	selArticleDay   = ".cat-n-views .date .day a"
	selArticleMonth = ".cat-n-views .date .month"
	selArticleYear  = ".cat-n-views .date .year"
	selCategory     = ".cat-n-views .category_title a"
	selSummary      = ".article-detail__preview"
	selBody         = ".article-detail_text"
)

// Config controls discovery behavior on listing pages.
type Config struct {
	// PageParam is the pagination query parameter, e.g. "PAGEN_1".
	PageParam string
	// MaxPages caps how deep listing pagination is followed. Zero or
	// negative means unbounded.
	MaxPages int
}

// Result is the outcome of one parse: exactly one branch is populated,
// decided by the page's structure.
type Result struct {
	Kind news.PageKind
	// Record is set for article pages.
	Record news.NewsRecord
	// Refs is set for listing pages: discovered article links plus, when
	// the page carries a load-more control, the next listing page.
	Refs []news.ArticleRef
}

// Parser turns raw pages into records or refs. It holds no per-page
// state, so one instance serves a whole worker pool.
type Parser struct {
	cfg   Config
	clock news.Clock
}

// New constructs a Parser.
func New(cfg Config, clock news.Clock) *Parser {
	if cfg.PageParam == "" {
		cfg.PageParam = "PAGEN_1"
	}
	return &Parser{cfg: cfg, clock: clock}
}

// Parse resolves the page kind by structural inspection and runs the
// matching extraction branch. Pages matching neither layout yield a
// schema-mismatch error; bodies that are not valid UTF-8 yield a
// malformed-encoding error. Neither aborts the run.
func (p *Parser) Parse(page news.RawPage) (Result, error) {
	if !utf8.Valid(page.Body) {
		return Result{}, &news.ParseError{URL: page.URL, Reason: news.ParseMalformedEncoding}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return Result{}, &news.ParseError{URL: page.URL, Reason: news.ParseSchemaMismatch, Err: err}
	}

	if doc.Find(selListingItem).Length() > 0 {
		return p.parseListing(doc, page)
	}
	if doc.Find(selArticleTitle).Length() > 0 {
		return p.parseArticle(doc, page)
	}
	return Result{}, &news.ParseError{
		URL:    page.URL,
		Reason: news.ParseSchemaMismatch,
		Err:    fmt.Errorf("neither listing nor article structure found"),
	}
}

func (p *Parser) parseListing(doc *goquery.Document, page news.RawPage) (Result, error) {
	now := p.clock.Now()
	seen := make(map[string]struct{})
	var refs []news.ArticleRef

	doc.Find(selListingItem).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		canonical, err := news.Resolve(page.URL, href)
		if err != nil {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		refs = append(refs, news.ArticleRef{
			URL:          canonical,
			Kind:         news.PageKindArticle,
			DiscoveredAt: now,
		})
	})

	if doc.Find(selLoadMore).Length() > 0 {
		if next, ok := p.nextListingURL(page.URL); ok {
			refs = append(refs, news.ArticleRef{
				URL:          next,
				Kind:         news.PageKindListing,
				DiscoveredAt: now,
			})
		}
	}

	return Result{Kind: news.PageKindListing, Refs: refs}, nil
}

// nextListingURL builds the URL of the following listing page. The
// site paginates with a plain query parameter; the first page carries
// none.
func (p *Parser) nextListingURL(pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	current := 1
	if raw := q.Get(p.cfg.PageParam); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", false
		}
		current = n
	}
	next := current + 1
	if p.cfg.MaxPages > 0 && next > p.cfg.MaxPages {
		return "", false
	}
	q.Set(p.cfg.PageParam, strconv.Itoa(next))
	u.RawQuery = q.Encode()

	canonical, err := news.Canonicalize(u.String())
	if err != nil {
		return "", false
	}
	return canonical, true
}

func (p *Parser) parseArticle(doc *goquery.Document, page news.RawPage) (Result, error) {
	title := text(doc, selArticleTitle)
	dayText := text(doc, selArticleDay)
	monthText := text(doc, selArticleMonth)
	category := text(doc, selCategory)
	body := text(doc, selBody)

	for field, value := range map[string]string{
		"title":    title,
		"day":      dayText,
		"month":    monthText,
		"category": category,
		"body":     body,
	} {
		if value == "" {
			return Result{}, &news.ParseError{
				URL:    page.URL,
				Reason: news.ParseSchemaMismatch,
				Err:    fmt.Errorf("missing %s", field),
			}
		}
	}

	publishedAt, err := p.publishedDate(dayText, monthText, text(doc, selArticleYear))
	if err != nil {
		return Result{}, &news.ParseError{URL: page.URL, Reason: news.ParseSchemaMismatch, Err: err}
	}

	record := news.NewsRecord{
		ID:          news.RecordID(page.URL),
		Title:       title,
		Category:    category,
		PublishedAt: publishedAt,
		Summary:     text(doc, selSummary),
		Body:        body,
		URL:         page.URL,
		ScrapedAt:   p.clock.Now(),
	}
	if err := record.Validate(); err != nil {
		return Result{}, &news.ParseError{URL: page.URL, Reason: news.ParseSchemaMismatch, Err: err}
	}
	return Result{Kind: news.PageKindArticle, Record: record}, nil
}

// publishedDate combines the site's day and month labels into a date.
// The layout omits the year on recent articles, so a missing year is
// inferred: a date that would land in the future belongs to last year.
func (p *Parser) publishedDate(dayText, monthText, yearText string) (time.Time, error) {
	day, convErr := strconv.Atoi(strings.TrimSpace(dayText))
	if convErr != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("bad day %q", dayText)
	}
	month, ok := monthByName(monthText)
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q", monthText)
	}

	now := p.clock.Now()
	year := now.Year()
	if yearText != "" {
		y, convErr := strconv.Atoi(strings.TrimSpace(yearText))
		if convErr != nil {
			return time.Time{}, fmt.Errorf("bad year %q", yearText)
		}
		year = y
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if yearText == "" && date.After(now) {
		date = time.Date(year-1, month, day, 0, 0, 0, 0, time.UTC)
	}
	return date, nil
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}
