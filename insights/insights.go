// Package insights produces an aggregate analysis of a user's processed content.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/docutag/curator/llm"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
)

const (
	// NoContentMessage is returned when the user has no completed items
	NoContentMessage = "No processed content found to analyze. Please add and process some content first."
	// UnavailableMessage accompanies an error response
	UnavailableMessage = "Unable to generate insights at this time. Please try again later."

	// DefaultLimit is how many recent items are analyzed when no ids are given
	DefaultLimit = 20
	// topicCount is how many tags the fallback reports as topics
	topicCount = 5
)

// Sampling parameters for insight generation
const (
	insightsTemperature = 0.3
	insightsTopK        = 40
	insightsTopP        = 0.95
	insightsMaxTokens   = 1500
)

const variantLabel = "insights"

// ContentSource loads completed items for a user
type ContentSource interface {
	CompletedContent(ctx context.Context, userID string, ids []string, limit int) ([]*models.ContentItem, error)
}

// Model runs a single generation call
type Model interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

// Generator answers insight requests
type Generator struct {
	content ContentSource
	model   Model
}

// New creates a Generator
func New(content ContentSource, model Model) *Generator {
	return &Generator{content: content, model: model}
}

// summaryItem is the per-item view sent to the model
type summaryItem struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Takeaways []string `json:"takeaways"`
}

// Generate analyzes the user's completed content. With a query the model's
// answer is returned verbatim; otherwise a structured analysis is requested and
// a tag-frequency summary replaces it when the answer cannot be parsed.
func (g *Generator) Generate(ctx context.Context, req models.InsightsRequest) (*models.InsightsResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New("missing userId parameter")
	}

	items, err := g.content.CompletedContent(ctx, req.UserID, req.ContentIDs, DefaultLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	if len(items) == 0 {
		return emptyResponse(NoContentMessage), nil
	}

	collection, err := encodeCollection(items)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(req.Query)
	genReq := llm.GenerateRequest{
		Temperature:     insightsTemperature,
		TopK:            insightsTopK,
		TopP:            insightsTopP,
		MaxOutputTokens: insightsMaxTokens,
	}
	if query != "" {
		genReq.Prompt = queryPrompt(query, collection)
	} else {
		genReq.Prompt = analysisPrompt(collection)
		genReq.JSON = true
	}

	raw, err := g.model.Generate(ctx, genReq)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(variantLabel, "error").Inc()
		return nil, fmt.Errorf("failed to generate insights: %w", err)
	}
	metrics.LLMRequests.WithLabelValues(variantLabel, "ok").Inc()

	if query != "" {
		return emptyResponse(raw), nil
	}

	var resp models.InsightsResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil || strings.TrimSpace(resp.Insights) == "" {
		slog.Warn("insights response not parseable, using tag summary", "user_id", req.UserID, "error", err)
		return Fallback(items), nil
	}
	resp.Error = ""
	return withLists(&resp), nil
}

func encodeCollection(items []*models.ContentItem) (string, error) {
	summary := make([]summaryItem, 0, len(items))
	for _, item := range items {
		summary = append(summary, summaryItem{
			Title:     item.Title,
			Summary:   item.Summary,
			Tags:      item.Tags,
			Takeaways: item.KeyTakeaways,
		})
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode content collection: %w", err)
	}
	return string(encoded), nil
}

func queryPrompt(query, collection string) string {
	return fmt.Sprintf(`Based on the user's content collection, answer this specific question: %q

Content collection: %s

Provide insights and recommendations based on their saved content.`, query, collection)
}

func analysisPrompt(collection string) string {
	return `Analyze this user's content collection and provide insights in JSON format with these fields:
- "insights": a comprehensive analysis of their interests and knowledge patterns
- "patterns": an array of 3-4 key patterns you notice in their content
- "recommendations": an array of 3-4 actionable recommendations for further learning
- "topics": an array of the main topics they're interested in

Content collection: ` + collection + `

Respond with valid JSON only.`
}

// Fallback summarizes items from tag frequency alone
func Fallback(items []*models.ContentItem) *models.InsightsResponse {
	topics := TopTags(items, topicCount)

	insights := fmt.Sprintf("Based on your %d saved items", len(items))
	if len(topics) > 0 {
		lead := topics
		if len(lead) > 3 {
			lead = lead[:3]
		}
		insights += ", you show strong interests in " + strings.Join(lead, ", ")
	}
	insights += ". Your content suggests a focus on learning and professional development."

	return &models.InsightsResponse{
		Insights: insights,
		Patterns: []string{
			"Consistent focus on technology and innovation",
			"Interest in practical, actionable content",
			"Preference for in-depth analysis",
		},
		Recommendations: []string{
			"Explore advanced topics in your areas of interest",
			"Consider creating content to share your knowledge",
			"Connect with others in your field of expertise",
		},
		Topics: topics,
	}
}

// TopTags returns the n most frequent tags, ties broken alphabetically
func TopTags(items []*models.ContentItem, n int) []string {
	counts := make(map[string]int)
	for _, item := range items {
		for _, tag := range item.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				counts[tag]++
			}
		}
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

func emptyResponse(insights string) *models.InsightsResponse {
	return &models.InsightsResponse{
		Insights:        insights,
		Patterns:        []string{},
		Recommendations: []string{},
		Topics:          []string{},
	}
}

// ErrorResponse is the body sent alongside a failed request
func ErrorResponse(err error) *models.InsightsResponse {
	resp := emptyResponse(UnavailableMessage)
	resp.Error = err.Error()
	return resp
}

func withLists(resp *models.InsightsResponse) *models.InsightsResponse {
	if resp.Patterns == nil {
		resp.Patterns = []string{}
	}
	if resp.Recommendations == nil {
		resp.Recommendations = []string{}
	}
	if resp.Topics == nil {
		resp.Topics = []string{}
	}
	return resp
}
