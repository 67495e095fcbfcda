// Package thumbnail finds a representative preview image for a URL.
//
// Extraction never fails: network errors, non-2xx responses and pages without
// a usable image all produce "no thumbnail".
package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/curator/metrics"
)

// BrowserUserAgent is sent when scraping pages for preview images
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Extraction strategies, also used as metric labels
const (
	StrategyYouTube  = "youtube"
	StrategyVimeo    = "vimeo"
	StrategyLinkedIn = "linkedin"
	StrategyTwitter  = "twitter"
	StrategyGeneric  = "generic"
	StrategyDocument = "document"
)

// Config contains extractor configuration
type Config struct {
	HTTPTimeout    time.Duration
	UserAgent      string
	VimeoOEmbedURL string
	MaxPageBytes   int64
}

// DefaultConfig returns default extractor configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:    10 * time.Second,
		UserAgent:      BrowserUserAgent,
		VimeoOEmbedURL: "https://vimeo.com/api/oembed.json",
		MaxPageBytes:   5 * 1024 * 1024,
	}
}

// Extractor finds thumbnails for URLs
type Extractor struct {
	config     Config
	httpClient *http.Client
}

// New creates an Extractor. Zero config fields take their defaults.
func New(config Config) *Extractor {
	defaults := DefaultConfig()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.VimeoOEmbedURL == "" {
		config.VimeoOEmbedURL = defaults.VimeoOEmbedURL
	}
	if config.MaxPageBytes <= 0 {
		config.MaxPageBytes = defaults.MaxPageBytes
	}

	return &Extractor{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Extract returns a thumbnail URL for rawURL. hint is an optional content type;
// "document" skips extraction.
func (e *Extractor) Extract(ctx context.Context, rawURL, hint string) (string, bool) {
	strategy := Strategy(rawURL, hint)

	var thumb string
	switch strategy {
	case StrategyDocument:
		// uploaded documents carry no preview image
	case StrategyYouTube:
		thumb = YouTubeThumbnail(rawURL)
	case StrategyVimeo:
		thumb = e.vimeoThumbnail(ctx, rawURL)
	default:
		thumb = e.scrapeThumbnail(ctx, rawURL, strategy)
	}

	found := thumb != ""
	metrics.ObserveThumbnail(strategy, found)
	if found {
		slog.Debug("thumbnail extracted", "url", rawURL, "strategy", strategy, "thumbnail", thumb)
	}
	return thumb, found
}

// Strategy picks the extraction strategy for a URL
func Strategy(rawURL, hint string) string {
	lower := strings.ToLower(rawURL)
	host := hostOf(lower)

	switch {
	case strings.EqualFold(hint, "document") || strings.HasPrefix(lower, "document://"):
		return StrategyDocument
	case strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be"):
		return StrategyYouTube
	case strings.Contains(lower, "linkedin.com"):
		return StrategyLinkedIn
	case strings.Contains(lower, "vimeo.com"):
		return StrategyVimeo
	case host == "twitter.com" || strings.HasSuffix(host, ".twitter.com") || host == "x.com" || strings.HasSuffix(host, ".x.com"):
		return StrategyTwitter
	default:
		return StrategyGeneric
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

var youTubeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// YouTubeVideoID extracts the video ID from watch, short-link, embed and shorts URLs
func YouTubeVideoID(rawURL string) string {
	var id string

	switch {
	case strings.Contains(rawURL, "youtu.be/"):
		id = after(rawURL, "youtu.be/")
	case strings.Contains(rawURL, "/embed/"):
		id = after(rawURL, "/embed/")
	case strings.Contains(rawURL, "/shorts/"):
		id = after(rawURL, "/shorts/")
	default:
		if u, err := url.Parse(rawURL); err == nil {
			id = u.Query().Get("v")
		}
	}

	if id == "" || !youTubeID.MatchString(id) {
		return ""
	}
	return id
}

// after returns the text following marker up to the next URL delimiter
func after(s, marker string) string {
	_, rest, ok := strings.Cut(s, marker)
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "?&#/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// YouTubeThumbnail returns the high-resolution thumbnail template for a video URL.
// No network request is made.
func YouTubeThumbnail(rawURL string) string {
	id := YouTubeVideoID(rawURL)
	if id == "" {
		return ""
	}
	return "https://img.youtube.com/vi/" + id + "/maxresdefault.jpg"
}

var vimeoID = regexp.MustCompile(`vimeo\.com/(\d+)`)

func (e *Extractor) vimeoThumbnail(ctx context.Context, rawURL string) string {
	match := vimeoID.FindStringSubmatch(rawURL)
	if match == nil {
		return ""
	}

	endpoint := e.config.VimeoOEmbedURL + "?url=" + url.QueryEscape("https://vimeo.com/"+match[1])
	body, err := e.get(ctx, endpoint)
	if err != nil {
		slog.Debug("vimeo oembed failed", "url", rawURL, "error", err)
		return ""
	}

	var oembed struct {
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.Unmarshal(body, &oembed); err != nil {
		return ""
	}
	return oembed.ThumbnailURL
}

// metaSelectors is the priority order for preview images shared by every scraped page
var metaSelectors = []string{
	`meta[property="og:image"]`,
	`meta[name="twitter:image"]`,
	`meta[property="article:image"]`,
	`meta[itemprop="image"]`,
	`meta[name="image"]`,
}

// platformSelectors are tried before metaSelectors
var platformSelectors = map[string][]string{
	StrategyTwitter:  {`meta[name="twitter:image:src"]`, `meta[name="twitter:image"]`, `meta[property="twitter:image"]`},
	StrategyLinkedIn: {`meta[property="og:image:secure_url"]`},
}

var linkedInImageJSON = regexp.MustCompile(`"image"\s*:\s*"([^"]+)"`)

func (e *Extractor) scrapeThumbnail(ctx context.Context, pageURL, strategy string) string {
	body, err := e.get(ctx, pageURL)
	if err != nil {
		slog.Debug("thumbnail page fetch failed", "url", pageURL, "error", err)
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	selectors := append(append([]string{}, platformSelectors[strategy]...), metaSelectors...)
	for _, selector := range selectors {
		content, ok := doc.Find(selector).First().Attr("content")
		if !ok {
			continue
		}
		if candidate := strings.TrimSpace(content); IsValidImageURL(candidate) {
			return ResolveURL(candidate, pageURL)
		}
	}

	if strategy == StrategyLinkedIn {
		if m := linkedInImageJSON.FindSubmatch(body); m != nil {
			candidate := strings.NewReplacer(`\u002F`, "/", `\/`, "/").Replace(string(m[1]))
			if IsValidImageURL(candidate) {
				return ResolveURL(candidate, pageURL)
			}
		}
	}

	if src, ok := doc.Find("img[src]").First().Attr("src"); ok {
		if candidate := strings.TrimSpace(src); IsValidImageURL(candidate) {
			return ResolveURL(candidate, pageURL)
		}
	}

	return ""
}

func (e *Extractor) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

var (
	imageExtension = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|svg|bmp)(\?|#|$)`)
	imagePathHint  = regexp.MustCompile(`(?i)(image|img|photo|picture|thumbnail|avatar|media)`)
)

// IsValidImageURL accepts URLs that look like images by extension or path
func IsValidImageURL(candidate string) bool {
	if candidate == "" || strings.HasPrefix(strings.ToLower(candidate), "data:") {
		return false
	}

	if _, err := url.Parse(candidate); err != nil {
		return false
	}

	return imageExtension.MatchString(candidate) || imagePathHint.MatchString(candidate)
}

// ResolveURL makes an image URL absolute against the page it was found on
func ResolveURL(imageURL, pageURL string) string {
	lower := strings.ToLower(imageURL)
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return imageURL
	case strings.HasPrefix(imageURL, "//"):
		return "https:" + imageURL
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return imageURL
	}

	if strings.HasPrefix(imageURL, "/") {
		return base.Scheme + "://" + base.Host + imageURL
	}

	ref, err := url.Parse(imageURL)
	if err != nil {
		return imageURL
	}
	return base.ResolveReference(ref).String()
}
