package curator

import (
	"net/url"
	"path"
	"strings"

	"github.com/docutag/curator/models"
)

// DocumentScheme prefixes the URL of an uploaded document
const DocumentScheme = "document://"

// documentExtensions are file types treated as documents even when linked over http
var documentExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".rtf":  true,
	".odt":  true,
}

// platformHosts is checked in order; the first substring hit wins
var platformHosts = []struct {
	substr string
	source models.Source
}{
	{"youtube.com", models.SourceYouTube},
	{"youtu.be", models.SourceYouTube},
	{"linkedin.com", models.SourceLinkedIn},
	{"medium.com", models.SourceMedium},
	{"substack.com", models.SourceSubstack},
}

// Classify guesses the platform of rawURL. It always returns a valid source,
// defaulting to web.
func Classify(rawURL string) models.Source {
	lower := strings.ToLower(strings.TrimSpace(rawURL))

	if strings.HasPrefix(lower, DocumentScheme) || documentExtensions[urlExtension(lower)] {
		return models.SourceDocument
	}

	for _, p := range platformHosts {
		if strings.Contains(lower, p.substr) {
			return p.source
		}
	}

	return models.SourceWeb
}

func urlExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return path.Ext(p)
}
