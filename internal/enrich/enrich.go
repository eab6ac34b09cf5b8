// Package enrich extracts contacts, deadlines and eligibility
// requirements from a funder's website.
package enrich

import (
	"bytes"
	"context"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	ahocorasick "github.com/cloudflare/ahocorasick"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/model"
)

// ErrUnavailable means nothing usable could be extracted. Callers treat it
// as a skipped enrichment, never as a failure.
var ErrUnavailable = eris.New("web intelligence unavailable")

// Options bound one crawl.
type Options struct {
	MaxPages  int
	MaxDepth  int
	Timeout   time.Duration
	UserAgent string
}

// OptionsFromConfig converts the enrich config section.
func OptionsFromConfig(cfg config.EnrichConfig) Options {
	return Options{
		MaxPages:  cfg.MaxPages,
		MaxDepth:  cfg.MaxDepth,
		Timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
		UserAgent: cfg.UserAgent,
	}
}

var (
	deadlineKeywords    = []string{"deadline", "due date", "applications due", "proposals due", "due by", "submission date", "closes on", "letters of inquiry"}
	eligibilityKeywords = []string{"eligibility", "eligible", "who can apply", "who may apply", "who we fund", "requirements", "criteria"}
	followKeywords      = []string{"grant", "fund", "apply", "application", "eligib", "guideline", "contact", "deadline", "rfp"}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	}
	phoneRe = regexp.MustCompile(`[0-9+().\-\s]{7,}`)
)

// Enricher crawls a funder's site with colly and extracts fields with
// goquery.
type Enricher struct {
	opts        Options
	strip       *bluemonday.Policy
	deadlines   *ahocorasick.Matcher
	eligibility *ahocorasick.Matcher
	follow      *ahocorasick.Matcher
	now         func() time.Time
}

// New creates an Enricher. Zero options take defaults.
func New(opts Options) *Enricher {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 8
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "grant-funnel/1.0"
	}
	return &Enricher{
		opts:        opts,
		strip:       bluemonday.StrictPolicy(),
		deadlines:   ahocorasick.NewStringMatcher(deadlineKeywords),
		eligibility: ahocorasick.NewStringMatcher(eligibilityKeywords),
		follow:      ahocorasick.NewStringMatcher(followKeywords),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// crawl accumulates extraction results across pages.
type crawl struct {
	mu           sync.Mutex
	pages        int
	contacts     []model.Contact
	deadlines    []string
	requirements []string
	seen         map[string]bool
}

func (c *crawl) add(kind, v string, apply func()) {
	key := kind + "|" + strings.ToLower(v)
	if v == "" || c.seen[key] {
		return
	}
	c.seen[key] = true
	apply()
}

// Enrich crawls rawURL and the same-host pages it links to, bounded by
// the configured page count, depth and timeout.
func (e *Enricher) Enrich(ctx context.Context, rawURL string) (*model.WebIntelligence, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, eris.Wrapf(ErrUnavailable, "enrich: invalid url %q", rawURL)
	}
	log := zap.L().With(zap.String("url", rawURL))

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	c := colly.NewCollector(
		colly.AllowedDomains(u.Hostname()),
		colly.MaxDepth(e.opts.MaxDepth+1),
		colly.UserAgent(e.opts.UserAgent),
		colly.MaxBodySize(5<<20),
	)
	c.SetRequestTimeout(e.opts.Timeout)

	st := &crawl{seen: make(map[string]bool)}
	var requested int

	c.OnRequest(func(r *colly.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		if ctx.Err() != nil || requested >= e.opts.MaxPages {
			r.Abort()
			return
		}
		requested++
	})

	c.OnResponse(func(r *colly.Response) {
		if !strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "html") {
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		st.pages++
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			log.Debug("enrich: parse failed", zap.String("page", r.Request.URL.String()), zap.Error(err))
			return
		}
		before := len(st.deadlines)
		e.extract(doc, st)
		if len(st.deadlines) == before {
			e.readabilityDeadlines(r.Body, r.Request.URL, st)
		}
	})

	c.OnHTML("a[href]", func(h *colly.HTMLElement) {
		href := h.Attr("href")
		if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "#") {
			return
		}
		target := strings.ToLower(h.Text + " " + href)
		if len(e.follow.MatchThreadSafe([]byte(target))) == 0 {
			return
		}
		_ = h.Request.Visit(href)
	})

	c.OnError(func(r *colly.Response, err error) {
		log.Debug("enrich: page failed", zap.String("page", r.Request.URL.String()), zap.Int("status", r.StatusCode), zap.Error(err))
	})

	if err := c.Visit(u.String()); err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "enrich: visit %s: %v", rawURL, err)
	}
	c.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()
	wi := &model.WebIntelligence{
		URL:                     rawURL,
		Contacts:                st.contacts,
		Deadlines:               st.deadlines,
		EligibilityRequirements: st.requirements,
		PagesVisited:            st.pages,
		ExtractedAt:             e.now(),
	}
	wi.ExtractionConfidence = confidence(wi)
	if st.pages == 0 || wi.ExtractionConfidence == 0 {
		return nil, eris.Wrapf(ErrUnavailable, "enrich: nothing extracted from %s (%d pages)", rawURL, st.pages)
	}
	log.Debug("enrich: extracted",
		zap.Int("pages", st.pages),
		zap.Int("contacts", len(wi.Contacts)),
		zap.Int("deadlines", len(wi.Deadlines)),
		zap.Int("requirements", len(wi.EligibilityRequirements)),
	)
	return wi, nil
}

// confidence is the share of the three field groups that were found.
func confidence(wi *model.WebIntelligence) float64 {
	found := 0
	for _, n := range []int{len(wi.Contacts), len(wi.Deadlines), len(wi.EligibilityRequirements)} {
		if n > 0 {
			found++
		}
	}
	return float64(found) / 3
}

func (e *Enricher) extract(doc *goquery.Document, st *crawl) {
	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		addr = strings.TrimSpace(addr)
		st.add("email", addr, func() {
			st.contacts = append(st.contacts, model.Contact{Email: addr, Name: e.text(s.Text())})
		})
	})
	doc.Find("a[href^='tel:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		phone := strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
		if !phoneRe.MatchString(phone) {
			return
		}
		st.add("phone", phone, func() {
			st.contacts = append(st.contacts, model.Contact{Phone: phone})
		})
	})

	doc.Find("p, li, td, dd, h1, h2, h3, h4, h5, h6, strong").Each(func(_ int, s *goquery.Selection) {
		e.collectDeadlines(e.text(s.Text()), st)
	})

	doc.Find("h1, h2, h3, h4, h5, h6, strong, dt").Each(func(_ int, s *goquery.Selection) {
		heading := strings.ToLower(e.text(s.Text()))
		if heading == "" || len(heading) > 120 || len(e.eligibility.MatchThreadSafe([]byte(heading))) == 0 {
			return
		}
		list := s.NextAllFiltered("ul, ol").First()
		if list.Length() == 0 {
			list = s.Parent().NextAllFiltered("ul, ol").First()
		}
		list.Find("li").Each(func(_ int, li *goquery.Selection) {
			req := e.text(li.Text())
			st.add("req", req, func() {
				st.requirements = append(st.requirements, req)
			})
		})
	})
}

// collectDeadlines records dates found in text that mentions a deadline.
func (e *Enricher) collectDeadlines(text string, st *crawl) {
	if text == "" || len(e.deadlines.MatchThreadSafe([]byte(strings.ToLower(text)))) == 0 {
		return
	}
	for _, re := range datePatterns {
		for _, d := range re.FindAllString(text, -1) {
			st.add("deadline", d, func() {
				st.deadlines = append(st.deadlines, d)
			})
		}
	}
}

// readabilityDeadlines reruns deadline detection over the page's main
// text, for pages whose markup hides dates in layout elements.
func (e *Enricher) readabilityDeadlines(body []byte, pageURL *url.URL, st *crawl) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return
	}
	for _, line := range strings.FieldsFunc(article.TextContent, func(r rune) bool { return r == '\n' || r == '.' }) {
		e.collectDeadlines(e.text(line), st)
	}
}

// text strips markup and collapses whitespace.
func (e *Enricher) text(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(e.strip.Sanitize(s))), " ")
}
