package curator

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/docutag/curator/models"
)

// Fallback record text, used when the model's answer cannot be recognized
const (
	FallbackSummary  = "This item was saved, but its content could not be analyzed automatically."
	FallbackTakeaway = "Automatic analysis was unavailable for this item; open the original link for details."
)

// FallbackAnalysis builds a deterministic analysis from the URL alone.
// The title comes from the last path segment, or the host when the path is empty,
// and the tags always contain the classified source.
func FallbackAnalysis(rawURL string) models.Analysis {
	source := Classify(rawURL)
	return models.Analysis{
		Title:        titleFromURL(rawURL),
		Summary:      FallbackSummary,
		Tags:         []string{string(source)},
		KeyTakeaways: []string{FallbackTakeaway},
		SourceType:   string(source),
	}
}

var titleCaser = cases.Title(language.English)

func titleFromURL(rawURL string) string {
	var host, p string
	if strings.HasPrefix(strings.ToLower(rawURL), DocumentScheme) {
		p = rawURL[len(DocumentScheme):]
	} else if u, err := url.Parse(rawURL); err == nil {
		host, p = u.Hostname(), u.Path
	} else {
		p = rawURL
	}

	segment := path.Base(strings.TrimRight(p, "/"))
	if segment == "." || segment == "/" {
		segment = ""
	}
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(segment))
	if len(words) > 0 {
		return titleCaser.String(strings.Join(words, " "))
	}

	if host = strings.TrimPrefix(host, "www."); host != "" {
		return host
	}
	return "Untitled"
}

// NormalizeAnalysis trims the model's fields, guarantees non-nil lists and
// replaces an unknown source_type with the classifier's guess for rawURL.
func NormalizeAnalysis(a models.Analysis, rawURL string) models.Analysis {
	a.Title = strings.TrimSpace(a.Title)
	a.Summary = strings.TrimSpace(a.Summary)
	a.Tags = cleanList(a.Tags)
	a.KeyTakeaways = cleanList(a.KeyTakeaways)

	if source, ok := models.ParseSource(a.SourceType); ok {
		a.SourceType = string(source)
	} else {
		a.SourceType = string(Classify(rawURL))
	}
	return a
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
