package models

import (
	"errors"
	"strings"
	"time"
)

// Sentinel errors shared across the service layers. The HTTP layer maps
// these onto status codes.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Platform identifies the kind of site a link was saved from.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
	PlatformShopping  Platform = "shopping"
	PlatformArticle   Platform = "article"
	PlatformOther     Platform = "other"
)

// Valid reports whether p is one of the known platform values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformYouTube, PlatformTwitter,
		PlatformShopping, PlatformArticle, PlatformOther:
		return true
	}
	return false
}

// DetectPlatform guesses the platform from a URL's host. Unknown hosts are
// treated as articles; an empty URL is "other".
func DetectPlatform(rawURL string) Platform {
	if rawURL == "" {
		return PlatformOther
	}
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "instagram.com"):
		return PlatformInstagram
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(lower, "twitter.com"), strings.Contains(lower, "x.com"):
		return PlatformTwitter
	case strings.Contains(lower, "amazon."), strings.Contains(lower, "ebay."),
		strings.Contains(lower, "etsy."):
		return PlatformShopping
	}
	return PlatformArticle
}

// SavedLink is the core persisted entity: one user-saved URL plus its
// organizational and enrichment metadata. Enrichment fields start empty and
// are overwritten, never merged, by later enrichment passes.
type SavedLink struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Platform      Platform   `json:"platform"`
	Thumbnail     string     `json:"thumbnail,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Tags          []string   `json:"tags"`
	Summary       string     `json:"summary,omitempty"`
	AITags        []string   `json:"ai_tags,omitempty"`
	OGImage       string     `json:"og_image,omitempty"`
	OGDescription string     `json:"og_description,omitempty"`
	Favicon       string     `json:"favicon,omitempty"`
	CollectionID  string     `json:"collection_id,omitempty"`
	IsHighlighted bool       `json:"is_highlighted"`
	ReminderAt    *time.Time `json:"reminder_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Collection is a named grouping of links. Public collections are readable
// without authentication through their share slug.
type Collection struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	Icon        string    `json:"icon"`
	IsPublic    bool      `json:"is_public"`
	ShareSlug   string    `json:"share_slug,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EnrichmentResult is the ephemeral output of one enrichment pass. Empty
// fields mean "nothing found" and are never written over existing data.
type EnrichmentResult struct {
	Title         string   `json:"title,omitempty"`
	OGImage       string   `json:"og_image,omitempty"`
	OGDescription string   `json:"og_description,omitempty"`
	Favicon       string   `json:"favicon,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	AITags        []string `json:"ai_tags,omitempty"`
}

// Empty reports whether the pass produced nothing at all.
func (r EnrichmentResult) Empty() bool {
	return r.Title == "" && r.OGImage == "" && r.OGDescription == "" &&
		r.Favicon == "" && r.Summary == "" && len(r.AITags) == 0
}

// SearchResult is the ephemeral output of one natural-language search.
// MatchedIDs is a highlight membership set, not a display ranking.
type SearchResult struct {
	Answer     string   `json:"answer"`
	MatchedIDs []string `json:"matchedIds"`
}

// LinkFields carries a partial update for a SavedLink. Nil pointers mean
// "leave the stored value alone"; the store must never clobber unspecified
// fields.
type LinkFields struct {
	Title         *string
	Thumbnail     *string
	Notes         *string
	Tags          *[]string
	Summary       *string
	AITags        *[]string
	OGImage       *string
	OGDescription *string
	Favicon       *string
	CollectionID  *string // empty string detaches the link
	IsHighlighted *bool
	ReminderAt    **time.Time
}
