// Package db implements the link store on PostgreSQL. All row access is
// owner-scoped and all row-to-struct mapping happens here; nothing outside
// this package sees raw rows.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/linkloom/linkloom/models"
)

// DB wraps the database connection and provides data access methods.
type DB struct {
	conn *sql.DB
}

// Config contains database configuration.
type Config struct {
	DSN string // PostgreSQL connection string
}

// New opens a connection, verifies it, and runs migrations.
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection for stats collection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// --- users and tokens ---

// CreateUser inserts a user and returns its id.
func (db *DB) CreateUser(ctx context.Context, email string) (string, error) {
	id := uuid.New().String()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2)`, id, email)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// InsertToken registers a token digest for a user. The raw token never
// reaches the database.
func (db *DB) InsertToken(ctx context.Context, userID, tokenDigest string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO api_tokens (token_digest, user_id) VALUES ($1, $2)`,
		tokenDigest, userID)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// UserIDByToken resolves a token digest to its owner. Unknown digests return
// models.ErrNotFound.
func (db *DB) UserIDByToken(ctx context.Context, tokenDigest string) (string, error) {
	var userID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id FROM api_tokens WHERE token_digest = $1`, tokenDigest).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query token: %w", err)
	}
	return userID, nil
}

// --- saved links ---

const linkColumns = `id, user_id, url, title, platform, thumbnail, notes, tags,
	summary, ai_tags, og_image, og_description, favicon, collection_id,
	is_highlighted, reminder_at, created_at, updated_at`

// CreateLink inserts a link, assigning an id and timestamps when absent.
func (db *DB) CreateLink(ctx context.Context, link *models.SavedLink) error {
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	if link.Tags == nil {
		link.Tags = []string{}
	}

	tagsJSON, err := json.Marshal(link.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	aiTagsJSON, err := json.Marshal(emptyIfNil(link.AITags))
	if err != nil {
		return fmt.Errorf("failed to marshal ai tags: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO saved_links
			(id, user_id, url, title, platform, thumbnail, notes, tags,
			 summary, ai_tags, og_image, og_description, favicon, collection_id,
			 is_highlighted, reminder_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		link.ID, link.OwnerID, link.URL, link.Title, string(link.Platform),
		link.Thumbnail, link.Notes, string(tagsJSON),
		link.Summary, string(aiTagsJSON), link.OGImage, link.OGDescription,
		link.Favicon, nullable(link.CollectionID),
		link.IsHighlighted, link.ReminderAt, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// GetLink retrieves one link scoped to its owner. Missing rows return
// (nil, nil).
func (db *DB) GetLink(ctx context.Context, ownerID, id string) (*models.SavedLink, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM saved_links WHERE user_id = $1 AND id = $2`,
		ownerID, id)
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query link: %w", err)
	}
	return link, nil
}

// ListFilter narrows ListLinks. Zero values mean "no constraint".
type ListFilter struct {
	Platform        models.Platform
	CollectionID    string
	HighlightedOnly bool
}

// ListLinks returns the owner's links, newest first.
func (db *DB) ListLinks(ctx context.Context, ownerID string, filter ListFilter) ([]*models.SavedLink, error) {
	query := `SELECT ` + linkColumns + ` FROM saved_links WHERE user_id = $1`
	args := []interface{}{ownerID}

	if filter.Platform != "" {
		args = append(args, string(filter.Platform))
		query += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if filter.CollectionID != "" {
		args = append(args, filter.CollectionID)
		query += fmt.Sprintf(" AND collection_id = $%d", len(args))
	}
	if filter.HighlightedOnly {
		query += " AND is_highlighted"
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := []*models.SavedLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// AllLinks returns the owner's entire corpus, newest first.
func (db *DB) AllLinks(ctx context.Context, ownerID string) ([]*models.SavedLink, error) {
	return db.ListLinks(ctx, ownerID, ListFilter{})
}

// UpdateLinkFields applies a partial update without touching unspecified
// columns. Updating a row that no longer exists returns models.ErrNotFound;
// late enrichment writes treat that as a no-op.
func (db *DB) UpdateLinkFields(ctx context.Context, ownerID, id string, fields models.LinkFields) error {
	set := []string{}
	args := []interface{}{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Title != nil {
		add("title", *fields.Title)
	}
	if fields.Thumbnail != nil {
		add("thumbnail", *fields.Thumbnail)
	}
	if fields.Notes != nil {
		add("notes", *fields.Notes)
	}
	if fields.Tags != nil {
		tagsJSON, err := json.Marshal(emptyIfNil(*fields.Tags))
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		add("tags", string(tagsJSON))
	}
	if fields.Summary != nil {
		add("summary", *fields.Summary)
	}
	if fields.AITags != nil {
		aiTagsJSON, err := json.Marshal(emptyIfNil(*fields.AITags))
		if err != nil {
			return fmt.Errorf("failed to marshal ai tags: %w", err)
		}
		add("ai_tags", string(aiTagsJSON))
	}
	if fields.OGImage != nil {
		add("og_image", *fields.OGImage)
	}
	if fields.OGDescription != nil {
		add("og_description", *fields.OGDescription)
	}
	if fields.Favicon != nil {
		add("favicon", *fields.Favicon)
	}
	if fields.CollectionID != nil {
		add("collection_id", nullable(*fields.CollectionID))
	}
	if fields.IsHighlighted != nil {
		add("is_highlighted", *fields.IsHighlighted)
	}
	if fields.ReminderAt != nil {
		add("reminder_at", *fields.ReminderAt)
	}

	if len(set) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, ownerID, id)
	query := fmt.Sprintf(
		"UPDATE saved_links SET %s WHERE user_id = $%d AND id = $%d",
		strings.Join(set, ", "), len(args)-1, len(args))

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FillThumbnail sets the thumbnail only when the link has none. Existing
// thumbnails are never overwritten, and missing rows are a silent no-op.
func (db *DB) FillThumbnail(ctx context.Context, ownerID, id, thumbnail string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE saved_links SET thumbnail = $1, updated_at = $2
		 WHERE user_id = $3 AND id = $4 AND thumbnail = ''`,
		thumbnail, time.Now().UTC(), ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to fill thumbnail: %w", err)
	}
	return nil
}

// DeleteLink removes one link. Missing rows return models.ErrNotFound.
func (db *DB) DeleteLink(ctx context.Context, ownerID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM saved_links WHERE user_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// --- collections ---

// CreateCollection inserts a collection, assigning id, defaults, and
// timestamps when absent.
func (db *DB) CreateCollection(ctx context.Context, c *models.Collection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Color == "" {
		c.Color = "#FF6B35"
	}
	if c.Icon == "" {
		c.Icon = "folder"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO collections (id, user_id, name, description, color, icon, is_public, share_slug, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.OwnerID, c.Name, c.Description, c.Color, c.Icon,
		c.IsPublic, nullable(c.ShareSlug), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// GetCollection retrieves one collection scoped to its owner. Missing rows
// return (nil, nil).
func (db *DB) GetCollection(ctx context.Context, ownerID, id string) (*models.Collection, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, color, icon, is_public, share_slug, created_at
		FROM collections WHERE user_id = $1 AND id = $2`, ownerID, id)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	return c, nil
}

// ListCollections returns the owner's collections, newest first.
func (db *DB) ListCollections(ctx context.Context, ownerID string) ([]*models.Collection, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, name, description, color, icon, is_public, share_slug, created_at
		FROM collections WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	collections := []*models.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

// DeleteCollection removes a collection and detaches its links. Links are
// never deleted alongside their collection.
func (db *DB) DeleteCollection(ctx context.Context, ownerID, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE saved_links SET collection_id = NULL WHERE user_id = $1 AND collection_id = $2`,
		ownerID, id); err != nil {
		return fmt.Errorf("failed to detach links: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM collections WHERE user_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return tx.Commit()
}

// SetCollectionSharing flips a collection's visibility. Slug is stored for
// public collections and cleared otherwise.
func (db *DB) SetCollectionSharing(ctx context.Context, ownerID, id string, isPublic bool, slug string) error {
	var slugVal interface{}
	if isPublic {
		slugVal = slug
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE collections SET is_public = $1, share_slug = $2 WHERE user_id = $3 AND id = $4`,
		isPublic, slugVal, ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to update sharing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// PublicCollectionBySlug resolves a share slug to its collection. Private and
// unknown slugs both return (nil, nil) so the caller cannot distinguish them.
func (db *DB) PublicCollectionBySlug(ctx context.Context, slug string) (*models.Collection, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, color, icon, is_public, share_slug, created_at
		FROM collections WHERE share_slug = $1 AND is_public`, slug)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query collection by slug: %w", err)
	}
	return c, nil
}

// --- row mapping ---

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanLink(row scannable) (*models.SavedLink, error) {
	var (
		link         models.SavedLink
		platform     string
		tagsJSON     string
		aiTagsJSON   string
		collectionID sql.NullString
		reminderAt   sql.NullTime
	)
	err := row.Scan(&link.ID, &link.OwnerID, &link.URL, &link.Title, &platform,
		&link.Thumbnail, &link.Notes, &tagsJSON,
		&link.Summary, &aiTagsJSON, &link.OGImage, &link.OGDescription,
		&link.Favicon, &collectionID,
		&link.IsHighlighted, &reminderAt, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return nil, err
	}

	link.Platform = models.Platform(platform)
	if !link.Platform.Valid() {
		link.Platform = models.PlatformOther
	}
	if err := json.Unmarshal([]byte(tagsJSON), &link.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for link %s: %w", link.ID, err)
	}
	if err := json.Unmarshal([]byte(aiTagsJSON), &link.AITags); err != nil {
		return nil, fmt.Errorf("corrupt ai_tags for link %s: %w", link.ID, err)
	}
	if collectionID.Valid {
		link.CollectionID = collectionID.String
	}
	if reminderAt.Valid {
		t := reminderAt.Time
		link.ReminderAt = &t
	}
	return &link, nil
}

func scanCollection(row scannable) (*models.Collection, error) {
	var (
		c    models.Collection
		slug sql.NullString
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.Color,
		&c.Icon, &c.IsPublic, &slug, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if slug.Valid {
		c.ShareSlug = slug.String
	}
	return &c, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
