// Package curator enriches saved links: it fetches the page, asks the model for
// a structured summary, finds a thumbnail and writes the result back to the store.
package curator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docutag/curator/db"
	"github.com/docutag/curator/llm"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/realtime"
)

// ErrMissingParameters is returned when a process request lacks url, userId or contentId
var ErrMissingParameters = errors.New("missing required parameters: url, userId, or contentId")

// Enrichment outcomes, also used as metric labels
const (
	OutcomeCompleted = "completed"
	OutcomeFallback  = "fallback"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var tracer = otel.Tracer("github.com/docutag/curator")

// Store is the persistence the orchestrator needs
type Store interface {
	TransitionStatus(ctx context.Context, userID, id string, next models.ProcessingStatus) error
	ApplyEnrichment(ctx context.Context, userID, id string, e models.Enrichment) error
	MarkFailed(ctx context.Context, userID, id, summary string) error
}

// PageFetcher returns the cleaned text of a page
type PageFetcher interface {
	FetchAndClean(ctx context.Context, rawURL string) FetchResult
}

// Analyzer asks the model to analyze a page
type Analyzer interface {
	Analyze(ctx context.Context, variant llm.PromptVariant, p llm.Payload) (string, error)
}

// ThumbnailExtractor finds a preview image for a URL
type ThumbnailExtractor interface {
	Extract(ctx context.Context, rawURL, hint string) (string, bool)
}

// ThumbnailMirror copies a remote image into our own storage
type ThumbnailMirror interface {
	Mirror(ctx context.Context, imageURL string) (string, error)
}

// Notifier publishes row changes
type Notifier interface {
	Publish(ctx context.Context, c realtime.Change) error
}

// Config contains orchestrator configuration
type Config struct {
	ContentTextLimit int           // characters of page text kept on the record
	FailureTimeout   time.Duration // budget for recording a failure after the request context is gone
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		ContentTextLimit: 2000,
		FailureTimeout:   10 * time.Second,
	}
}

// Dependencies are the collaborators of an Orchestrator. Mirror and Notifier are optional.
type Dependencies struct {
	Store      Store
	Fetcher    PageFetcher
	Analyzer   Analyzer
	Thumbnails ThumbnailExtractor
	Mirror     ThumbnailMirror
	Notifier   Notifier
}

// Orchestrator runs the enrichment pipeline for one content item at a time.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	config Config
	deps   Dependencies
}

// New creates an Orchestrator
func New(config Config, deps Dependencies) *Orchestrator {
	defaults := DefaultConfig()
	if config.ContentTextLimit <= 0 {
		config.ContentTextLimit = defaults.ContentTextLimit
	}
	if config.FailureTimeout <= 0 {
		config.FailureTimeout = defaults.FailureTimeout
	}
	return &Orchestrator{config: config, deps: deps}
}

// NewPendingItem returns a new content item waiting for enrichment
func NewPendingItem(userID, rawURL, notes string) *models.ContentItem {
	now := time.Now().UTC()
	return &models.ContentItem{
		ID:               uuid.New().String(),
		UserID:           userID,
		Title:            models.PlaceholderTitle,
		ContentText:      strings.TrimSpace(notes),
		URL:              strings.TrimSpace(rawURL),
		Source:           Classify(rawURL),
		Tags:             []string{},
		KeyTakeaways:     []string{},
		ProcessingStatus: models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks that a process request names a url, user and content item
func Validate(req models.ProcessRequest) error {
	var missing []string
	if strings.TrimSpace(req.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(req.ContentID) == "" {
		missing = append(missing, "contentId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w (missing %s)", ErrMissingParameters, strings.Join(missing, ", "))
	}
	return nil
}

// Process enriches one content item. The item must be pending.
//
// The returned analysis is what was written to the record, which is the
// fallback analysis when the model's answer could not be recognized. A
// model or store error marks the record failed and is returned.
func (o *Orchestrator) Process(ctx context.Context, req models.ProcessRequest) (*models.Analysis, error) {
	if err := Validate(req); err != nil {
		metrics.Enrichments.WithLabelValues(OutcomeRejected, "none").Inc()
		return nil, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "curator.Process", trace.WithAttributes(
		attribute.String("content.id", req.ContentID),
		attribute.String("content.url", req.URL),
	))
	defer span.End()

	logger := slog.With("content_id", req.ContentID, "user_id", req.UserID, "url", req.URL)
	logger.Info("enrichment started")

	if err := o.deps.Store.TransitionStatus(ctx, req.UserID, req.ContentID, models.StatusProcessing); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition to processing")
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrInvalidTransition) {
			metrics.Enrichments.WithLabelValues(OutcomeRejected, "none").Inc()
			return nil, fmt.Errorf("failed to start processing: %w", err)
		}
		return nil, o.fail(ctx, logger, req, "none", fmt.Errorf("failed to start processing: %w", err))
	}
	o.notify(ctx, req.UserID, req.ContentID)

	classified := Classify(req.URL)

	// The thumbnail lookup overlaps with fetch and analysis. The buffered
	// channel lets the goroutine finish even if Process returns early.
	thumbCtx, cancelThumb := context.WithCancel(ctx)
	defer cancelThumb()
	thumbCh := make(chan string, 1)
	go func() {
		hint := ""
		if classified == models.SourceDocument {
			hint = string(models.SourceDocument)
		}
		thumb, _ := o.deps.Thumbnails.Extract(thumbCtx, req.URL, hint)
		thumbCh <- thumb
	}()

	page := o.fetch(ctx, req.URL)

	variant := llm.VariantDirect
	payload := llm.Payload{URL: req.URL, SourceHint: classified}
	if page.Usable {
		payload.Text = page.Text
	} else {
		variant = llm.VariantWebSearch
	}
	mode := variant.String()
	span.SetAttributes(attribute.String("analysis.mode", mode))

	raw, err := o.analyze(ctx, variant, payload)
	if err != nil {
		return nil, o.fail(ctx, logger, req, mode, fmt.Errorf("model analysis failed: %w", err))
	}

	outcome := OutcomeCompleted
	var analysis models.Analysis
	switch r := llm.ParseAnalysis(raw).(type) {
	case llm.Recognized:
		analysis = NormalizeAnalysis(r.Analysis, req.URL)
	case llm.Unrecognized:
		logger.Warn("model response not recognized, using fallback analysis", "reason", r.Reason)
		analysis = FallbackAnalysis(req.URL)
		outcome = OutcomeFallback
	}

	var thumbnailURL *string
	if thumb := o.thumbnail(ctx, logger, thumbCh); thumb != "" {
		thumbnailURL = &thumb
	}

	enrichment := models.Enrichment{
		Title:        analysis.Title,
		Summary:      analysis.Summary,
		ContentText:  truncateRunes(page.Text, o.config.ContentTextLimit),
		Tags:         analysis.Tags,
		KeyTakeaways: analysis.KeyTakeaways,
		Source:       models.Source(analysis.SourceType),
		ThumbnailURL: thumbnailURL,
	}
	if err := o.deps.Store.ApplyEnrichment(ctx, req.UserID, req.ContentID, enrichment); err != nil {
		return nil, o.fail(ctx, logger, req, mode, fmt.Errorf("failed to save enrichment: %w", err))
	}
	o.notify(ctx, req.UserID, req.ContentID)

	elapsed := time.Since(start)
	metrics.Enrichments.WithLabelValues(outcome, mode).Inc()
	metrics.EnrichmentDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	logger.Info("enrichment completed",
		"mode", mode,
		"outcome", outcome,
		"source", analysis.SourceType,
		"has_thumbnail", thumbnailURL != nil,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &analysis, nil
}

func (o *Orchestrator) fetch(ctx context.Context, rawURL string) FetchResult {
	ctx, span := tracer.Start(ctx, "curator.fetch")
	defer span.End()

	result := o.deps.Fetcher.FetchAndClean(ctx, rawURL)
	span.SetAttributes(
		attribute.Bool("fetch.usable", result.Usable),
		attribute.String("fetch.reason", result.Reason),
		attribute.Int("fetch.text_length", len(result.Text)),
	)
	return result
}

func (o *Orchestrator) analyze(ctx context.Context, variant llm.PromptVariant, payload llm.Payload) (string, error) {
	ctx, span := tracer.Start(ctx, "curator.analyze", trace.WithAttributes(
		attribute.String("analysis.variant", variant.String()),
	))
	defer span.End()

	raw, err := o.deps.Analyzer.Analyze(ctx, variant, payload)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(variant.String(), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "model request failed")
		return "", err
	}
	metrics.LLMRequests.WithLabelValues(variant.String(), "ok").Inc()
	return raw, nil
}

// thumbnail waits for the extraction goroutine and optionally mirrors the result.
// A failed mirror keeps the original URL.
func (o *Orchestrator) thumbnail(ctx context.Context, logger *slog.Logger, thumbCh <-chan string) string {
	ctx, span := tracer.Start(ctx, "curator.thumbnail")
	defer span.End()

	var thumb string
	select {
	case thumb = <-thumbCh:
	case <-ctx.Done():
		return ""
	}

	if thumb == "" || o.deps.Mirror == nil {
		return thumb
	}

	mirrored, err := o.deps.Mirror.Mirror(ctx, thumb)
	if err != nil {
		logger.Warn("failed to mirror thumbnail, keeping original", "thumbnail", thumb, "error", err)
		return thumb
	}
	return mirrored
}

// fail records err on the item and returns it. The write uses a fresh context
// so a cancelled request still leaves the item failed rather than processing.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, req models.ProcessRequest, mode string, err error) error {
	metrics.Enrichments.WithLabelValues(OutcomeFailed, mode).Inc()
	trace.SpanFromContext(ctx).RecordError(err)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
	logger.Error("enrichment failed", "mode", mode, "error", err)

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.FailureTimeout)
	defer cancel()

	if markErr := o.deps.Store.MarkFailed(failCtx, req.UserID, req.ContentID, FailureSummary(err)); markErr != nil {
		logger.Error("failed to mark content as failed", "error", markErr)
		return err
	}
	o.notify(failCtx, req.UserID, req.ContentID)
	return err
}

// FailureSummary is the summary written to a failed record
func FailureSummary(err error) string {
	return "Processing failed: " + err.Error()
}

func (o *Orchestrator) notify(ctx context.Context, userID, contentID string) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.Publish(ctx, realtime.NewChange(userID, realtime.TableContent, realtime.OpUpdate, contentID)); err != nil {
		slog.Warn("failed to publish change", "content_id", contentID, "error", err)
	}
}
