package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docutag/curator/models"
)

// PromptVariant selects how the model is asked to analyze a URL.
type PromptVariant int

const (
	// VariantDirect sends the cleaned page text.
	VariantDirect PromptVariant = iota
	// VariantWebSearch sends only the URL and lets the model retrieve the page itself.
	VariantWebSearch
)

func (v PromptVariant) String() string {
	switch v {
	case VariantDirect:
		return "direct"
	case VariantWebSearch:
		return "web_search"
	default:
		return "unknown"
	}
}

// Analysis sampling parameters
const (
	analysisTemperature = 0.1
	analysisTopK        = 32
	analysisTopP        = 1
	analysisMaxTokens   = 1000
)

// Payload is the input for one analysis call.
type Payload struct {
	URL        string
	Text       string
	SourceHint models.Source
}

const fieldInstructions = `Respond with a JSON object containing exactly these fields:
- "title": a clear, concise title for this content
- "summary": a 2-3 sentence summary
- "tags": an array of 3-5 relevant tags or keywords
- "key_takeaways": an array of 2-4 key insights or important points
- "source_type": one of "web", "youtube", "linkedin", "medium", "substack", "document"

Respond with valid JSON only.`

// BuildPrompt renders the prompt for variant and payload.
func BuildPrompt(variant PromptVariant, p Payload) (string, error) {
	switch variant {
	case VariantDirect:
		if strings.TrimSpace(p.Text) == "" {
			return "", errors.New("direct analysis requires page text")
		}
		var b strings.Builder
		b.WriteString("Analyze the following content and provide a structured summary.\n\n")
		b.WriteString(fieldInstructions)
		if p.URL != "" {
			b.WriteString("\n\nURL: ")
			b.WriteString(p.URL)
		}
		b.WriteString("\n\nContent: ")
		b.WriteString(p.Text)
		return b.String(), nil

	case VariantWebSearch:
		if strings.TrimSpace(p.URL) == "" {
			return "", errors.New("web search analysis requires a url")
		}
		var b strings.Builder
		b.WriteString("The page at the URL below could not be fetched directly. ")
		b.WriteString("Use web search to find out what it contains and provide a structured summary.\n\n")
		b.WriteString(fieldInstructions)
		b.WriteString("\n\nURL: ")
		b.WriteString(p.URL)
		if p.SourceHint != "" {
			fmt.Fprintf(&b, "\nLikely source type: %s", p.SourceHint)
		}
		return b.String(), nil
	}

	return "", fmt.Errorf("unknown prompt variant %d", variant)
}

// Analyze asks the model to analyze one URL and returns its raw text.
func (c *Client) Analyze(ctx context.Context, variant PromptVariant, p Payload) (string, error) {
	prompt, err := BuildPrompt(variant, p)
	if err != nil {
		return "", fmt.Errorf("model analyze: %w", err)
	}

	return c.Generate(ctx, GenerateRequest{
		Prompt:          prompt,
		Temperature:     analysisTemperature,
		TopK:            analysisTopK,
		TopP:            analysisTopP,
		MaxOutputTokens: analysisMaxTokens,
		WebSearch:       variant == VariantWebSearch,
	})
}
