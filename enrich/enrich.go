// Package enrich turns a bare saved URL into a richer link record: Open
// Graph metadata scraped from the page plus an AI-generated summary and tag
// set. The whole pipeline is best-effort; a broken or slow page must never
// make the caller's save look failed, so fetch and AI problems degrade to
// empty fields rather than errors.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/linkloom/linkloom/llm"
	"github.com/linkloom/linkloom/metrics"
	"github.com/linkloom/linkloom/models"
)

// LinkStore is the slice of the link store the enricher writes through.
type LinkStore interface {
	UpdateLinkFields(ctx context.Context, ownerID, id string, fields models.LinkFields) error
	FillThumbnail(ctx context.Context, ownerID, id, thumbnail string) error
}

// Gateway is the slice of the AI gateway the enricher calls.
type Gateway interface {
	Configured() bool
	CallTool(ctx context.Context, messages []llm.Message, tool llm.Tool) (json.RawMessage, error)
}

// Config contains enrichment configuration.
type Config struct {
	HTTPTimeout time.Duration
	UserAgent   string
}

// DefaultConfig returns default enrichment configuration.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 15 * time.Second,
		UserAgent:   "Mozilla/5.0 (compatible; Linkloom/1.0; +https://linkloom.app)",
	}
}

// Service runs the enrichment pipeline.
type Service struct {
	config     Config
	store      LinkStore
	gateway    Gateway
	httpClient *http.Client
	log        logrus.FieldLogger
}

// New creates an enrichment service. gateway may be nil-configured; the
// summarization step is skipped then.
func New(config Config, store LinkStore, gateway Gateway, log logrus.FieldLogger) *Service {
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}
	return &Service{
		config:  config,
		store:   store,
		gateway: gateway,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.WithField("component", "enrich"),
	}
}

const analyzeSystemPrompt = "You analyze web pages. Return a JSON object with: " +
	"summary (1-2 sentence summary), tags (array of 3-5 relevant single-word tags). " +
	"Only return valid JSON, nothing else."

var analyzeTool = llm.Tool{
	Name:        "analyze_page",
	Description: "Return analysis of the web page",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "description": "1-2 sentence summary"},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "3-5 relevant tags"}
		},
		"required": ["summary", "tags"],
		"additionalProperties": false
	}`),
}

// Enrich fetches rawURL, extracts page metadata, asks the gateway for a
// summary and tags, and persists whatever was found onto (ownerID, linkID).
// Only an empty URL is an error; everything downstream degrades gracefully
// and still reports success. The returned result reflects what was extracted
// even when the persistence write fails.
func (s *Service) Enrich(ctx context.Context, ownerID, rawURL, linkID string) (*models.EnrichmentResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: url is required", models.ErrInvalidInput)
	}

	log := s.log.WithFields(logrus.Fields{"url": rawURL, "link_id": linkID})

	result := &models.EnrichmentResult{}
	meta, ok := s.fetchAndExtract(ctx, rawURL, log)
	if ok {
		result.Title = meta.Title
		result.OGImage = meta.OGImage
		result.OGDescription = meta.OGDescription
		result.Favicon = meta.Favicon
	}

	if ok && meta.PlainText != "" && s.gateway != nil && s.gateway.Configured() {
		summary, tags := s.summarize(ctx, rawURL, meta, log)
		result.Summary = summary
		result.AITags = tags
	}

	if linkID != "" {
		s.persist(ctx, ownerID, linkID, result, log)
	}

	if result.Empty() {
		metrics.EnrichmentTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.EnrichmentTotal.WithLabelValues("enriched").Inc()
	}
	log.WithField("empty", result.Empty()).Info("enrichment complete")
	return result, nil
}

// fetchAndExtract downloads the page and extracts metadata. Any failure is
// reported as ok=false and absorbed by the caller.
func (s *Service) fetchAndExtract(ctx context.Context, rawURL string, log logrus.FieldLogger) (pageMetadata, bool) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		log.WithError(err).Warn("unparseable or non-http url, skipping fetch")
		return pageMetadata{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		log.WithError(err).Warn("failed to build fetch request")
		return pageMetadata{}, false
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("page fetch failed")
		return pageMetadata{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status", resp.StatusCode).Warn("page fetch returned non-2xx")
		return pageMetadata{}, false
	}

	// The redirect chain may have moved us to another host; favicon paths
	// resolve against where the page actually lives.
	finalURL := resp.Request.URL

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		log.WithError(err).Warn("failed to detect page charset")
		return pageMetadata{}, false
	}
	doc, err := html.Parse(body)
	if err != nil {
		log.WithError(err).Warn("failed to parse page html")
		return pageMetadata{}, false
	}

	return extractMetadata(doc, finalURL), true
}

type pageAnalysis struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// summarize issues the single summarization call. Failures leave summary and
// tags empty; enrichment never blocks on or retries this step.
func (s *Service) summarize(ctx context.Context, rawURL string, meta pageMetadata, log logrus.FieldLogger) (string, []string) {
	messages := []llm.Message{
		{Role: "system", Content: analyzeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("URL: %s\nTitle: %s\nDescription: %s\nContent: %s",
			rawURL, meta.Title, meta.OGDescription, meta.PlainText)},
	}

	args, err := s.gateway.CallTool(ctx, messages, analyzeTool)
	if err != nil {
		log.WithError(err).Warn("summarization call failed")
		return "", nil
	}
	if args == nil {
		log.Warn("gateway returned no tool invocation for summarization")
		return "", nil
	}

	var analysis pageAnalysis
	if err := json.Unmarshal(args, &analysis); err != nil {
		log.WithError(err).Warn("failed to parse summarization arguments")
		return "", nil
	}
	return analysis.Summary, analysis.Tags
}

// persist writes non-empty fields back to the link. Empty fields never
// overwrite existing data, and write failures are logged, not surfaced: by
// the time enrichment runs the user-visible save has already succeeded.
func (s *Service) persist(ctx context.Context, ownerID, linkID string, result *models.EnrichmentResult, log logrus.FieldLogger) {
	fields := models.LinkFields{}
	if result.Title != "" {
		fields.Title = &result.Title
	}
	if result.OGImage != "" {
		fields.OGImage = &result.OGImage
	}
	if result.OGDescription != "" {
		fields.OGDescription = &result.OGDescription
	}
	if result.Favicon != "" {
		fields.Favicon = &result.Favicon
	}
	if result.Summary != "" {
		fields.Summary = &result.Summary
	}
	if len(result.AITags) > 0 {
		tags := result.AITags
		fields.AITags = &tags
	}

	if fields == (models.LinkFields{}) {
		return
	}

	if err := s.store.UpdateLinkFields(ctx, ownerID, linkID, fields); err != nil {
		// ErrNotFound means the link was deleted before enrichment finished;
		// the late write is a harmless no-op.
		log.WithError(err).Warn("failed to persist enrichment")
		return
	}
	if result.OGImage != "" {
		if err := s.store.FillThumbnail(ctx, ownerID, linkID, result.OGImage); err != nil {
			log.WithError(err).Warn("failed to mirror og image into thumbnail")
		}
	}
}
