package slug

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength is the longest slug Generate returns
const MaxLength = 100

var (
	invalidChars = regexp.MustCompile("[^a-z0-9-]+")
	hyphenRuns   = regexp.MustCompile("-+")
)

// Generate creates a storage-key friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(s)
	s = transliterate(s)

	// Spaces, underscores and dots all separate words
	s = strings.NewReplacer(" ", "-", "_", "-", ".", "-").Replace(s)

	s = invalidChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxLength {
		s = strings.TrimRight(s[:MaxLength], "-")
	}

	return s
}

// GenerateWithFallback generates a slug, falling back to a default if the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	slug := Generate(s)
	if slug == "" {
		return Generate(fallback)
	}
	return slug
}

// transliterate strips diacritics so "café" becomes "cafe"
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// isMn checks if a rune is a nonspacing mark (accents, diacritics)
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// MakeUnique appends a counter to a slug; counter 0 returns the slug unchanged
func MakeUnique(slug string, counter int) string {
	if counter == 0 {
		return slug
	}
	return slug + "-" + strconv.Itoa(counter)
}

// FromFilename generates a slug from an uploaded file name, dropping its extension
func FromFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return Generate(name)
}

// FromURL generates a slug from the last path segment of a URL.
// The host is used when the path carries nothing usable.
func FromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return FromFilename(raw)
	}

	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" {
		segment = ""
	}

	if s := FromFilename(segment); s != "" {
		return s
	}
	return Generate(strings.TrimPrefix(u.Hostname(), "www."))
}
