package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

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

type fakeStore struct {
	mu         sync.Mutex
	updates    []models.LinkFields
	thumbnails []string
	updateErr  error
}

func (f *fakeStore) UpdateLinkFields(_ context.Context, _, _ string, fields models.LinkFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeStore) FillThumbnail(_ context.Context, _, _, thumbnail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbnails = append(f.thumbnails, thumbnail)
	return nil
}

type fakeGateway struct {
	configured bool
	args       json.RawMessage
	err        error
	calls      int
}

func (f *fakeGateway) Configured() bool { return f.configured }

func (f *fakeGateway) CallTool(_ context.Context, _ []llm.Message, _ llm.Tool) (json.RawMessage, error) {
	f.calls++
	return f.args, f.err
}

const recipePage = `<!DOCTYPE html>
<html>
<head>
	<title>Perfect Pasta</title>
	<meta property="og:image" content="https://example.com/pasta.jpg">
	<meta property="og:description" content="A classic recipe.">
	<link rel="icon" href="/icon.png">
</head>
<body><p>Boil water. Add pasta.</p></body>
</html>`

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEnrichBlankURL(t *testing.T) {
	s := New(Config{}, &fakeStore{}, &fakeGateway{}, testLogger())
	_, err := s.Enrich(context.Background(), "u1", "   ", "l1")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestEnrichFullPipeline(t *testing.T) {
	page := servePage(t, recipePage)
	store := &fakeStore{}
	gateway := &fakeGateway{
		configured: true,
		args:       json.RawMessage(`{"summary":"How to cook pasta.","tags":["cooking","pasta","recipe"]}`),
	}

	s := New(Config{}, store, gateway, testLogger())
	result, err := s.Enrich(context.Background(), "u1", page.URL, "l1")
	require.NoError(t, err)

	assert.Equal(t, "Perfect Pasta", result.Title)
	assert.Equal(t, "https://example.com/pasta.jpg", result.OGImage)
	assert.Equal(t, "A classic recipe.", result.OGDescription)
	assert.Equal(t, page.URL+"/icon.png", result.Favicon)
	assert.Equal(t, "How to cook pasta.", result.Summary)
	assert.Equal(t, []string{"cooking", "pasta", "recipe"}, result.AITags)
	assert.Equal(t, 1, gateway.calls)

	require.Len(t, store.updates, 1)
	fields := store.updates[0]
	require.NotNil(t, fields.Title)
	assert.Equal(t, "Perfect Pasta", *fields.Title)
	require.NotNil(t, fields.Summary)
	assert.Equal(t, "How to cook pasta.", *fields.Summary)

	// og:image is mirrored into the thumbnail slot.
	assert.Equal(t, []string{"https://example.com/pasta.jpg"}, store.thumbnails)
}

// Re-running enrichment against unchanged page content must extract the same
// fields and issue equivalent writes: enrichment overwrites, never merges.
func TestEnrichRepeatedRunsAreIdempotent(t *testing.T) {
	page := servePage(t, recipePage)
	store := &fakeStore{}
	gateway := &fakeGateway{
		configured: true,
		args:       json.RawMessage(`{"summary":"How to cook pasta.","tags":["cooking","pasta"]}`),
	}
	s := New(Config{}, store, gateway, testLogger())

	first, err := s.Enrich(context.Background(), "u1", page.URL, "l1")
	require.NoError(t, err)
	second, err := s.Enrich(context.Background(), "u1", page.URL, "l1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, gateway.calls)

	require.Len(t, store.updates, 2)
	assert.Equal(t, store.updates[0], store.updates[1])
	assert.Equal(t, []string{
		"https://example.com/pasta.jpg",
		"https://example.com/pasta.jpg",
	}, store.thumbnails)
}

func TestEnrichFetchFailureIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeStore{}
	gateway := &fakeGateway{configured: true}
	s := New(Config{}, store, gateway, testLogger())

	result, err := s.Enrich(context.Background(), "u1", server.URL, "l1")
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Equal(t, 0, gateway.calls)
	assert.Empty(t, store.updates)
	assert.Empty(t, store.thumbnails)
}

func TestEnrichGatewayFailureKeepsMetadata(t *testing.T) {
	page := servePage(t, recipePage)
	store := &fakeStore{}
	gateway := &fakeGateway{configured: true, err: llm.ErrRateLimited}

	s := New(Config{}, store, gateway, testLogger())
	result, err := s.Enrich(context.Background(), "u1", page.URL, "l1")
	require.NoError(t, err)

	assert.Equal(t, "Perfect Pasta", result.Title)
	assert.Empty(t, result.Summary)
	assert.Empty(t, result.AITags)
	require.Len(t, store.updates, 1)
	assert.Nil(t, store.updates[0].Summary)
}

func TestEnrichUnconfiguredGatewaySkipsSummarization(t *testing.T) {
	page := servePage(t, recipePage)
	gateway := &fakeGateway{configured: false}

	s := New(Config{}, &fakeStore{}, gateway, testLogger())
	result, err := s.Enrich(context.Background(), "u1", page.URL, "l1")
	require.NoError(t, err)
	assert.Equal(t, 0, gateway.calls)
	assert.Equal(t, "Perfect Pasta", result.Title)
	assert.Empty(t, result.Summary)
}

func TestEnrichWithoutLinkIDSkipsPersistence(t *testing.T) {
	page := servePage(t, recipePage)
	store := &fakeStore{}

	s := New(Config{}, store, &fakeGateway{}, testLogger())
	result, err := s.Enrich(context.Background(), "u1", page.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "Perfect Pasta", result.Title)
	assert.Empty(t, store.updates)
}

func TestEnrichDeletedLinkIsANoOp(t *testing.T) {
	page := servePage(t, recipePage)
	store := &fakeStore{updateErr: models.ErrNotFound}

	s := New(Config{}, store, &fakeGateway{}, testLogger())
	result, err := s.Enrich(context.Background(), "u1", page.URL, "l-gone")
	require.NoError(t, err)
	assert.Equal(t, "Perfect Pasta", result.Title)
	assert.Empty(t, store.thumbnails)
}

func TestEnrichNonHTTPScheme(t *testing.T) {
	s := New(Config{}, &fakeStore{}, &fakeGateway{}, testLogger())
	result, err := s.Enrich(context.Background(), "u1", "ftp://example.com/file", "l1")
	require.NoError(t, err)
	assert.True(t, result.Empty())
}
