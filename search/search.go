// Package search answers free-text questions about a user's saved links.
// There is no local index: the full corpus is rendered into the prompt and
// the gateway's forced search_results tool call does the matching.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkloom/linkloom/llm"
	"github.com/linkloom/linkloom/metrics"
	"github.com/linkloom/linkloom/models"
)

// Canned responses for the two no-AI paths.
const (
	emptyCorpusAnswer = "You haven't saved any links yet. Start by saving some links and I'll be able to help you find them!"
	noMatchAnswer     = "I couldn't find anything matching your query."
)

// LinkStore is the slice of the link store the searcher reads from. The
// whole corpus is loaded deliberately: the gateway does the matching, so
// there is no narrower query to push down.
type LinkStore interface {
	AllLinks(ctx context.Context, ownerID string) ([]*models.SavedLink, error)
}

// Gateway is the slice of the AI gateway the searcher calls.
type Gateway interface {
	Configured() bool
	CallTool(ctx context.Context, messages []llm.Message, tool llm.Tool) (json.RawMessage, error)
}

// Service runs natural-language searches.
type Service struct {
	store   LinkStore
	gateway Gateway
	log     logrus.FieldLogger
}

// New creates a search service.
func New(store LinkStore, gateway Gateway, log logrus.FieldLogger) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		log:     log.WithField("component", "search"),
	}
}

var searchTool = llm.Tool{
	Name:        "search_results",
	Description: "Return search results with answer and matched link IDs",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"answer": {"type": "string", "description": "Natural language answer to the user's query"},
			"matched_ids": {"type": "array", "items": {"type": "string"}, "description": "IDs of matching saved links"}
		},
		"required": ["answer", "matched_ids"],
		"additionalProperties": false
	}`),
}

type searchArguments struct {
	Answer     string   `json:"answer"`
	MatchedIDs []string `json:"matched_ids"`
}

// Search answers query against ownerID's saved links. Unlike enrichment,
// gateway failures here are user-facing and surface as typed errors: the
// caller can act on rate limiting and quota exhaustion.
func (s *Service) Search(ctx context.Context, ownerID, query string) (*models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", models.ErrInvalidInput)
	}

	log := s.log.WithField("owner_id", ownerID)

	links, err := s.store.AllLinks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}

	if len(links) == 0 {
		metrics.SearchTotal.WithLabelValues("empty_corpus").Inc()
		return &models.SearchResult{Answer: emptyCorpusAnswer, MatchedIDs: []string{}}, nil
	}

	systemPrompt := fmt.Sprintf(`You are a helpful search assistant for a link-saving app called Linkloom. The user has saved links listed below. Answer their question naturally, referencing specific saved links when relevant. If they're looking for something, identify the matching links by their IDs.

User's saved links:
%s`, renderCorpus(links))

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: query},
	}

	args, err := s.gateway.CallTool(ctx, messages, searchTool)
	if err != nil {
		outcome := "upstream_error"
		switch {
		case errors.Is(err, llm.ErrRateLimited):
			outcome = "rate_limited"
		case errors.Is(err, llm.ErrQuotaExhausted):
			outcome = "quota_exhausted"
		}
		metrics.SearchTotal.WithLabelValues(outcome).Inc()
		log.WithError(err).Error("search gateway call failed")
		return nil, err
	}

	result := &models.SearchResult{Answer: noMatchAnswer, MatchedIDs: []string{}}
	if args == nil {
		// The model answered without invoking the tool; treat it as
		// "nothing found" rather than a failure.
		metrics.SearchTotal.WithLabelValues("ok").Inc()
		log.Warn("gateway returned no tool invocation for search")
		return result, nil
	}

	var parsed searchArguments
	if err := json.Unmarshal(args, &parsed); err != nil {
		metrics.SearchTotal.WithLabelValues("upstream_error").Inc()
		return nil, fmt.Errorf("%w: malformed search arguments: %v", llm.ErrUpstream, err)
	}
	if parsed.Answer != "" {
		result.Answer = parsed.Answer
	}
	if parsed.MatchedIDs != nil {
		result.MatchedIDs = parsed.MatchedIDs
	}

	metrics.SearchTotal.WithLabelValues("ok").Inc()
	log.WithField("matches", len(result.MatchedIDs)).Info("search complete")
	return result, nil
}

// renderCorpus builds the one-line-per-link context block, preserving the
// store's newest-first order.
func renderCorpus(links []*models.SavedLink) string {
	var b strings.Builder
	for i, l := range links {
		tags := append(append([]string{}, l.Tags...), l.AITags...)
		description := l.Summary
		if description == "" {
			description = l.OGDescription
		}
		if description == "" {
			description = l.Notes
		}
		fmt.Fprintf(&b, "[%d] ID:%s | %q | %s | Tags: %s | %s | %s | Saved: %s\n",
			i+1, l.ID, l.Title, l.Platform, strings.Join(tags, ", "),
			description, l.URL, l.CreatedAt.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}
