package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkloom/linkloom/llm"
	"github.com/linkloom/linkloom/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeLinks struct {
	links []*models.SavedLink
	err   error
}

func (f *fakeLinks) AllLinks(_ context.Context, _ string) ([]*models.SavedLink, error) {
	return f.links, f.err
}

type fakeGateway struct {
	args     json.RawMessage
	err      error
	calls    int
	messages []llm.Message
}

func (f *fakeGateway) Configured() bool { return true }

func (f *fakeGateway) CallTool(_ context.Context, messages []llm.Message, _ llm.Tool) (json.RawMessage, error) {
	f.calls++
	f.messages = messages
	return f.args, f.err
}

func savedLink(id, title string) *models.SavedLink {
	return &models.SavedLink{
		ID:        id,
		Title:     title,
		URL:       "https://example.com/" + id,
		Platform:  models.PlatformArticle,
		Tags:      []string{"saved"},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSearchBlankQuery(t *testing.T) {
	s := New(&fakeLinks{}, &fakeGateway{}, testLogger())
	_, err := s.Search(context.Background(), "u1", "  ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSearchEmptyCorpusSkipsGateway(t *testing.T) {
	gateway := &fakeGateway{}
	s := New(&fakeLinks{}, gateway, testLogger())

	result, err := s.Search(context.Background(), "u1", "pasta recipes")
	require.NoError(t, err)
	assert.Equal(t, emptyCorpusAnswer, result.Answer)
	assert.Empty(t, result.MatchedIDs)
	assert.NotNil(t, result.MatchedIDs)
	assert.Equal(t, 0, gateway.calls)
}

func TestSearchReturnsToolResult(t *testing.T) {
	store := &fakeLinks{links: []*models.SavedLink{
		savedLink("id-1", "Pasta Carbonara"),
		savedLink("id-2", "Go Concurrency Patterns"),
	}}
	gateway := &fakeGateway{
		args: json.RawMessage(`{"answer":"You saved a carbonara recipe.","matched_ids":["id-1"]}`),
	}

	s := New(store, gateway, testLogger())
	result, err := s.Search(context.Background(), "u1", "that pasta recipe")
	require.NoError(t, err)
	assert.Equal(t, "You saved a carbonara recipe.", result.Answer)
	assert.Equal(t, []string{"id-1"}, result.MatchedIDs)
	assert.Equal(t, 1, gateway.calls)

	// The whole corpus rides in the system prompt; the query is the user turn.
	require.Len(t, gateway.messages, 2)
	assert.Equal(t, "system", gateway.messages[0].Role)
	assert.Contains(t, gateway.messages[0].Content, "ID:id-1")
	assert.Contains(t, gateway.messages[0].Content, "ID:id-2")
	assert.Equal(t, "that pasta recipe", gateway.messages[1].Content)
}

func TestSearchGatewayErrorsPassThrough(t *testing.T) {
	for _, sentinel := range []error{llm.ErrRateLimited, llm.ErrQuotaExhausted, llm.ErrUpstream} {
		gateway := &fakeGateway{err: sentinel}
		s := New(&fakeLinks{links: []*models.SavedLink{savedLink("id-1", "t")}}, gateway, testLogger())

		_, err := s.Search(context.Background(), "u1", "anything")
		assert.ErrorIs(t, err, sentinel)
	}
}

func TestSearchNoToolInvocation(t *testing.T) {
	gateway := &fakeGateway{args: nil}
	s := New(&fakeLinks{links: []*models.SavedLink{savedLink("id-1", "t")}}, gateway, testLogger())

	result, err := s.Search(context.Background(), "u1", "anything")
	require.NoError(t, err)
	assert.Equal(t, noMatchAnswer, result.Answer)
	assert.Empty(t, result.MatchedIDs)
}

func TestSearchMalformedArguments(t *testing.T) {
	gateway := &fakeGateway{args: json.RawMessage(`"not an object"`)}
	s := New(&fakeLinks{links: []*models.SavedLink{savedLink("id-1", "t")}}, gateway, testLogger())

	_, err := s.Search(context.Background(), "u1", "anything")
	assert.ErrorIs(t, err, llm.ErrUpstream)
}

func TestSearchStoreError(t *testing.T) {
	s := New(&fakeLinks{err: errors.New("db down")}, &fakeGateway{}, testLogger())
	_, err := s.Search(context.Background(), "u1", "anything")
	assert.Error(t, err)
}

func TestRenderCorpus(t *testing.T) {
	reminder := savedLink("id-1", "Pasta Carbonara")
	reminder.AITags = []string{"cooking"}
	reminder.Summary = "A recipe for carbonara."

	fallback := savedLink("id-2", "Quiet Link")
	fallback.Tags = nil
	fallback.OGDescription = "og description text"

	notesOnly := savedLink("id-3", "Notes Link")
	notesOnly.Notes = "remember this one"

	corpus := renderCorpus([]*models.SavedLink{reminder, fallback, notesOnly})
	lines := strings.Split(corpus, "\n")
	require.Len(t, lines, 3)

	assert.Equal(t,
		`[1] ID:id-1 | "Pasta Carbonara" | article | Tags: saved, cooking | A recipe for carbonara. | https://example.com/id-1 | Saved: 2026-03-01T12:00:00Z`,
		lines[0])

	// Description falls back summary → og description → notes.
	assert.Contains(t, lines[1], "og description text")
	assert.Contains(t, lines[2], "remember this one")
}
