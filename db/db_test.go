package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkloom/linkloom/models"
)

// setupTestDB connects to the database named by TEST_DATABASE_DSN and skips
// the test when none is configured. Migrations run on connect, so each test
// gets the full schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set; skipping database integration test")
	}
	db, err := New(Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB) string {
	t.Helper()
	id, err := db.CreateUser(context.Background(), "test-"+time.Now().Format("150405.000000000")+"@example.com")
	require.NoError(t, err)
	return id
}

func TestTokenRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	digest := "digest-" + userID
	require.NoError(t, db.InsertToken(ctx, userID, digest))

	got, err := db.UserIDByToken(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = db.UserIDByToken(ctx, "unknown-digest")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLinkLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	link := &models.SavedLink{
		OwnerID:  userID,
		URL:      "https://example.com/article",
		Title:    "An Article",
		Platform: models.PlatformArticle,
		Tags:     []string{"reading"},
	}
	require.NoError(t, db.CreateLink(ctx, link))
	require.NotEmpty(t, link.ID)

	got, err := db.GetLink(ctx, userID, link.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "An Article", got.Title)
	assert.Equal(t, []string{"reading"}, got.Tags)
	assert.Nil(t, got.ReminderAt)

	// Partial update leaves unspecified fields alone.
	summary := "A summary."
	aiTags := []string{"article", "example"}
	err = db.UpdateLinkFields(ctx, userID, link.ID, models.LinkFields{
		Summary: &summary,
		AITags:  &aiTags,
	})
	require.NoError(t, err)

	got, err = db.GetLink(ctx, userID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "An Article", got.Title)
	assert.Equal(t, "A summary.", got.Summary)
	assert.Equal(t, aiTags, got.AITags)

	// Other owners cannot see or touch the link.
	other := createTestUser(t, db)
	invisible, err := db.GetLink(ctx, other, link.ID)
	require.NoError(t, err)
	assert.Nil(t, invisible)
	assert.ErrorIs(t, db.DeleteLink(ctx, other, link.ID), models.ErrNotFound)

	require.NoError(t, db.DeleteLink(ctx, userID, link.ID))
	assert.ErrorIs(t, db.DeleteLink(ctx, userID, link.ID), models.ErrNotFound)
}

func TestUpdateMissingLink(t *testing.T) {
	db := setupTestDB(t)
	userID := createTestUser(t, db)

	title := "ghost"
	err := db.UpdateLinkFields(context.Background(), userID,
		"00000000-0000-0000-0000-000000000000", models.LinkFields{Title: &title})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFillThumbnailNeverOverwrites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	link := &models.SavedLink{OwnerID: userID, URL: "https://example.com/a", Title: "a", Platform: models.PlatformArticle}
	require.NoError(t, db.CreateLink(ctx, link))

	require.NoError(t, db.FillThumbnail(ctx, userID, link.ID, "https://example.com/first.jpg"))
	require.NoError(t, db.FillThumbnail(ctx, userID, link.ID, "https://example.com/second.jpg"))

	got, err := db.GetLink(ctx, userID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/first.jpg", got.Thumbnail)
}

func TestListLinksFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	highlighted := true
	for _, l := range []*models.SavedLink{
		{OwnerID: userID, URL: "https://youtube.com/watch?v=1", Title: "v", Platform: models.PlatformYouTube},
		{OwnerID: userID, URL: "https://example.com/a", Title: "a", Platform: models.PlatformArticle},
	} {
		require.NoError(t, db.CreateLink(ctx, l))
	}

	videos, err := db.ListLinks(ctx, userID, ListFilter{Platform: models.PlatformYouTube})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, models.PlatformYouTube, videos[0].Platform)

	require.NoError(t, db.UpdateLinkFields(ctx, userID, videos[0].ID,
		models.LinkFields{IsHighlighted: &highlighted}))

	starred, err := db.ListLinks(ctx, userID, ListFilter{HighlightedOnly: true})
	require.NoError(t, err)
	require.Len(t, starred, 1)
	assert.Equal(t, videos[0].ID, starred[0].ID)
}

func TestCollectionSharing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	c := &models.Collection{OwnerID: userID, Name: "Recipes"}
	require.NoError(t, db.CreateCollection(ctx, c))
	assert.Equal(t, "#FF6B35", c.Color)
	assert.Equal(t, "folder", c.Icon)

	slug := "recipes-" + c.ID[:8]
	require.NoError(t, db.SetCollectionSharing(ctx, userID, c.ID, true, slug))

	public, err := db.PublicCollectionBySlug(ctx, slug)
	require.NoError(t, err)
	require.NotNil(t, public)
	assert.Equal(t, c.ID, public.ID)

	// Unsharing makes the slug unresolvable.
	require.NoError(t, db.SetCollectionSharing(ctx, userID, c.ID, false, ""))
	public, err = db.PublicCollectionBySlug(ctx, slug)
	require.NoError(t, err)
	assert.Nil(t, public)
}

func TestDeleteCollectionDetachesLinks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	c := &models.Collection{OwnerID: userID, Name: "Temp"}
	require.NoError(t, db.CreateCollection(ctx, c))

	link := &models.SavedLink{
		OwnerID: userID, URL: "https://example.com/x", Title: "x",
		Platform: models.PlatformArticle, CollectionID: c.ID,
	}
	require.NoError(t, db.CreateLink(ctx, link))

	require.NoError(t, db.DeleteCollection(ctx, userID, c.ID))

	got, err := db.GetLink(ctx, userID, link.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.CollectionID)
}
