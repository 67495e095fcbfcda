package curator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"

	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/storage"
	"github.com/docutag/curator/thumbnail"
)

// Fetch failure reasons, also used as metric labels
const (
	ReasonFetchError  = "fetch_error"
	ReasonHTTPStatus  = "http_status"
	ReasonBoilerplate = "boilerplate"
	ReasonTooShort    = "too_short"
	ReasonTooFewWords = "too_few_words"
	ReasonNoDocument  = "document_unavailable"
)

// FetcherConfig contains fetcher configuration
type FetcherConfig struct {
	HTTPTimeout   time.Duration
	UserAgent     string
	MaxBodyBytes  int64
	MaxTextLength int // in characters
	MinChars      int
	MinWords      int
}

// DefaultFetcherConfig returns default fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		HTTPTimeout:   15 * time.Second,
		UserAgent:     thumbnail.BrowserUserAgent,
		MaxBodyBytes:  10 * 1024 * 1024,
		MaxTextLength: 8000,
		MinChars:      200,
		MinWords:      50,
	}
}

// FetchResult is the cleaned text of a page and whether it is worth sending to the model
type FetchResult struct {
	Text   string
	Usable bool
	Reason string // empty when usable
}

// Fetcher downloads pages and reduces them to plain text
type Fetcher struct {
	config     FetcherConfig
	httpClient *http.Client
	documents  storage.Backend
}

// NewFetcher creates a Fetcher. documents may be nil, in which case
// document:// URLs are never usable.
func NewFetcher(config FetcherConfig, documents storage.Backend) *Fetcher {
	defaults := DefaultFetcherConfig()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.MaxTextLength <= 0 {
		config.MaxTextLength = defaults.MaxTextLength
	}
	if config.MinChars <= 0 {
		config.MinChars = defaults.MinChars
	}
	if config.MinWords <= 0 {
		config.MinWords = defaults.MinWords
	}

	return &Fetcher{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		documents: documents,
	}
}

// FetchAndClean downloads rawURL and returns its visible text. Failures are
// reported through FetchResult.Usable, never as errors.
func (f *Fetcher) FetchAndClean(ctx context.Context, rawURL string) FetchResult {
	var result FetchResult
	if strings.HasPrefix(strings.ToLower(rawURL), DocumentScheme) {
		result = f.readDocument(ctx, rawURL)
	} else {
		result = f.fetchPage(ctx, rawURL)
	}

	metrics.ObserveFetch(result.Usable, result.Reason)
	if !result.Usable {
		slog.Info("page content unusable", "url", rawURL, "reason", result.Reason)
	}
	return result
}

func (f *Fetcher) fetchPage(ctx context.Context, rawURL string) FetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{Reason: ReasonFetchError}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		slog.Debug("page fetch failed", "url", rawURL, "error", err)
		return FetchResult{Reason: ReasonFetchError}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("page fetch returned non-2xx", "url", rawURL, "status", resp.StatusCode)
		return FetchResult{Reason: ReasonHTTPStatus}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return FetchResult{Reason: ReasonFetchError}
	}

	text, err := SanitizeHTML(body)
	if err != nil {
		return FetchResult{Reason: ReasonFetchError}
	}
	return f.judge(text)
}

func (f *Fetcher) readDocument(ctx context.Context, rawURL string) FetchResult {
	if f.documents == nil {
		return FetchResult{Reason: ReasonNoDocument}
	}

	key := rawURL[len(DocumentScheme):]
	data, err := f.documents.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to read document", "key", key, "error", err)
		}
		return FetchResult{Reason: ReasonNoDocument}
	}

	text := collapseWhitespace(string(data))
	if strings.HasPrefix(storage.ContentTypeForKey(key), "text/html") {
		if text, err = SanitizeHTML(data); err != nil {
			return FetchResult{Reason: ReasonNoDocument}
		}
	}
	return f.judge(text)
}

// judge applies the usability heuristics and truncates usable text
func (f *Fetcher) judge(text string) FetchResult {
	if matchesBoilerplate(text) {
		return FetchResult{Reason: ReasonBoilerplate}
	}
	if utf8.RuneCountInString(text) < f.config.MinChars {
		return FetchResult{Reason: ReasonTooShort}
	}
	if len(strings.Fields(text)) < f.config.MinWords {
		return FetchResult{Reason: ReasonTooFewWords}
	}

	return FetchResult{Text: truncateRunes(text, f.config.MaxTextLength), Usable: true}
}

// skippedElements never contribute visible text
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
}

// SanitizeHTML returns the visible text of an HTML document with
// whitespace collapsed to single spaces.
func SanitizeHTML(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)

	return collapseWhitespace(buf.String()), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// boilerplateSignatures identify footer-only pages and error pages. They are
// anchored to the start or end of the text.
var boilerplateSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\W*(©|\(c\)|copyright)\s*\d{0,4}.{0,150}$`),
	regexp.MustCompile(`(?i)^\W*just a moment\.{0,3}`),
	regexp.MustCompile(`(?i)we use cookies.{0,80}(accept|consent).{0,40}$`),
	regexp.MustCompile(`(?i)^\W*(access denied|403 forbidden|page not found|404 not found)\b`),
}

// interstitialSignatures identify bot walls and script gates. Articles mention
// these phrases too, so they only count on pages shorter than interstitialMaxChars.
var interstitialSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(please|you need to|you must)\s+(enable|turn on)\s+javascript`),
	regexp.MustCompile(`(?i)javascript is (disabled|required|not enabled)`),
	regexp.MustCompile(`(?i)checking (if the site connection is secure|your browser before accessing)`),
	regexp.MustCompile(`(?i)verify(ing)? (that )?you are (a )?human`),
	regexp.MustCompile(`(?i)attention required!? \| cloudflare`),
}

const interstitialMaxChars = 600

func matchesBoilerplate(text string) bool {
	for _, sig := range boilerplateSignatures {
		if sig.MatchString(text) {
			return true
		}
	}
	if utf8.RuneCountInString(text) >= interstitialMaxChars {
		return false
	}
	for _, sig := range interstitialSignatures {
		if sig.MatchString(text) {
			return true
		}
	}
	return false
}

// truncateRunes cuts s to at most n characters without splitting a rune
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
