package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/linkloom/linkloom/db"
	"github.com/linkloom/linkloom/llm"
	"github.com/linkloom/linkloom/models"
	"github.com/linkloom/linkloom/slug"
)

// enrichTimeout bounds the background enrichment pass kicked off after a
// link is saved. It must outlive the request that spawned it.
const enrichTimeout = 2 * time.Minute

// --- links ---

type createLinkRequest struct {
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Platform     string   `json:"platform"`
	Notes        string   `json:"notes"`
	Tags         []string `json:"tags"`
	CollectionID string   `json:"collection_id"`
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		respondError(w, http.StatusBadRequest, "url must be http or https")
		return
	}

	platform := models.Platform(req.Platform)
	if req.Platform == "" {
		platform = models.DetectPlatform(req.URL)
	} else if !platform.Valid() {
		respondError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	title := req.Title
	if title == "" {
		title = req.URL
	}

	link := &models.SavedLink{
		OwnerID:      ownerID(r),
		URL:          req.URL,
		Title:        title,
		Platform:     platform,
		Notes:        req.Notes,
		Tags:         req.Tags,
		CollectionID: req.CollectionID,
	}
	if err := s.store.CreateLink(r.Context(), link); err != nil {
		s.log.WithError(err).Error("failed to create link")
		respondError(w, http.StatusInternalServerError, "failed to save link")
		return
	}

	// The response does not wait for enrichment. The pass runs on its own
	// context so client disconnects cannot cancel it, and its errors only
	// ever reach the logs.
	go func(ownerID, url, linkID string) {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		defer cancel()
		if _, err := s.enricher.Enrich(ctx, ownerID, url, linkID); err != nil {
			s.log.WithError(err).WithField("link_id", linkID).Warn("background enrichment failed")
		}
	}(link.OwnerID, link.URL, link.ID)

	respondJSON(w, http.StatusCreated, link)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.ListFilter{
		Platform:        models.Platform(q.Get("platform")),
		CollectionID:    q.Get("collection"),
		HighlightedOnly: q.Get("highlighted") == "true",
	}
	if filter.Platform != "" && !filter.Platform.Valid() {
		respondError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	links, err := s.store.ListLinks(r.Context(), ownerID(r), filter)
	if err != nil {
		s.log.WithError(err).Error("failed to list links")
		respondError(w, http.StatusInternalServerError, "failed to list links")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"links": links,
		"count": len(links),
	})
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.store.GetLink(r.Context(), ownerID(r), mux.Vars(r)["id"])
	if err != nil {
		s.log.WithError(err).Error("failed to get link")
		respondError(w, http.StatusInternalServerError, "failed to get link")
		return
	}
	if link == nil {
		respondError(w, http.StatusNotFound, "link not found")
		return
	}
	respondJSON(w, http.StatusOK, link)
}

type updateLinkRequest struct {
	Title         *string   `json:"title"`
	Notes         *string   `json:"notes"`
	Tags          *[]string `json:"tags"`
	IsHighlighted *bool     `json:"is_highlighted"`
	// RawMessage keeps absent and null distinguishable: absent leaves the
	// reminder alone, null clears it.
	ReminderAt   json.RawMessage `json:"reminder_at"`
	CollectionID *string         `json:"collection_id"`
}

func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	var req updateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fields := models.LinkFields{
		Title:         req.Title,
		Notes:         req.Notes,
		Tags:          req.Tags,
		IsHighlighted: req.IsHighlighted,
		CollectionID:  req.CollectionID,
	}
	if req.ReminderAt != nil {
		var when *time.Time
		if err := json.Unmarshal(req.ReminderAt, &when); err != nil {
			respondError(w, http.StatusBadRequest, "reminder_at must be an RFC 3339 timestamp or null")
			return
		}
		fields.ReminderAt = &when
	}
	if err := s.store.UpdateLinkFields(r.Context(), ownerID(r), mux.Vars(r)["id"], fields); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		s.log.WithError(err).Error("failed to update link")
		respondError(w, http.StatusInternalServerError, "failed to update link")
		return
	}
	s.respondWithLink(w, r, mux.Vars(r)["id"])
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLink(r.Context(), ownerID(r), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		s.log.WithError(err).Error("failed to delete link")
		respondError(w, http.StatusInternalServerError, "failed to delete link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleHighlight(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	link, err := s.store.GetLink(r.Context(), ownerID(r), id)
	if err != nil {
		s.log.WithError(err).Error("failed to get link")
		respondError(w, http.StatusInternalServerError, "failed to toggle highlight")
		return
	}
	if link == nil {
		respondError(w, http.StatusNotFound, "link not found")
		return
	}

	highlighted := !link.IsHighlighted
	err = s.store.UpdateLinkFields(r.Context(), ownerID(r), id,
		models.LinkFields{IsHighlighted: &highlighted})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		s.log.WithError(err).Error("failed to toggle highlight")
		respondError(w, http.StatusInternalServerError, "failed to toggle highlight")
		return
	}
	link.IsHighlighted = highlighted
	respondJSON(w, http.StatusOK, link)
}

type setReminderRequest struct {
	ReminderAt *time.Time `json:"reminder_at"` // null clears the reminder
}

func (s *Server) handleSetReminder(w http.ResponseWriter, r *http.Request) {
	var req setReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.store.UpdateLinkFields(r.Context(), ownerID(r), mux.Vars(r)["id"],
		models.LinkFields{ReminderAt: &req.ReminderAt})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		s.log.WithError(err).Error("failed to set reminder")
		respondError(w, http.StatusInternalServerError, "failed to set reminder")
		return
	}
	s.respondWithLink(w, r, mux.Vars(r)["id"])
}

type moveToCollectionRequest struct {
	CollectionID string `json:"collection_id"` // empty detaches the link
}

func (s *Server) handleMoveToCollection(w http.ResponseWriter, r *http.Request) {
	var req moveToCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CollectionID != "" {
		c, err := s.store.GetCollection(r.Context(), ownerID(r), req.CollectionID)
		if err != nil {
			s.log.WithError(err).Error("failed to check collection")
			respondError(w, http.StatusInternalServerError, "failed to move link")
			return
		}
		if c == nil {
			respondError(w, http.StatusNotFound, "collection not found")
			return
		}
	}

	err := s.store.UpdateLinkFields(r.Context(), ownerID(r), mux.Vars(r)["id"],
		models.LinkFields{CollectionID: &req.CollectionID})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		s.log.WithError(err).Error("failed to move link")
		respondError(w, http.StatusInternalServerError, "failed to move link")
		return
	}
	s.respondWithLink(w, r, mux.Vars(r)["id"])
}

// respondWithLink re-reads a link after a mutation so the client sees the
// stored state, updated_at included.
func (s *Server) respondWithLink(w http.ResponseWriter, r *http.Request, id string) {
	link, err := s.store.GetLink(r.Context(), ownerID(r), id)
	if err != nil || link == nil {
		// The mutation already succeeded; report that even if the re-read
		// raced a delete.
		respondJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	respondJSON(w, http.StatusOK, link)
}

// --- enrichment and search ---

type enrichRequest struct {
	URL    string `json:"url"`
	LinkID string `json:"linkId"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.enricher.Enrich(r.Context(), ownerID(r), req.URL, req.LinkID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.WithError(err).Error("enrichment failed")
		respondError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.searcher.Search(r.Context(), ownerID(r), req.Query)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, llm.ErrRateLimited):
			respondError(w, http.StatusTooManyRequests, "Rate limit exceeded, please try again later.")
		case errors.Is(err, llm.ErrQuotaExhausted):
			respondError(w, http.StatusPaymentRequired, "AI credits exhausted. Please add more credits.")
		default:
			s.log.WithError(err).Error("search failed")
			respondError(w, http.StatusInternalServerError, "AI search failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// --- collections ---

type createCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &models.Collection{
		OwnerID:     ownerID(r),
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
	}
	if err := s.store.CreateCollection(r.Context(), c); err != nil {
		s.log.WithError(err).Error("failed to create collection")
		respondError(w, http.StatusInternalServerError, "failed to create collection")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.store.ListCollections(r.Context(), ownerID(r))
	if err != nil {
		s.log.WithError(err).Error("failed to list collections")
		respondError(w, http.StatusInternalServerError, "failed to list collections")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collections": collections,
		"count":       len(collections),
	})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCollection(r.Context(), ownerID(r), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "collection not found")
			return
		}
		s.log.WithError(err).Error("failed to delete collection")
		respondError(w, http.StatusInternalServerError, "failed to delete collection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareCollectionRequest struct {
	Public bool `json:"public"`
}

func (s *Server) handleShareCollection(w http.ResponseWriter, r *http.Request) {
	var req shareCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := mux.Vars(r)["id"]
	c, err := s.store.GetCollection(r.Context(), ownerID(r), id)
	if err != nil {
		s.log.WithError(err).Error("failed to get collection")
		respondError(w, http.StatusInternalServerError, "failed to update sharing")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "collection not found")
		return
	}

	shareSlug := ""
	if req.Public {
		// Slugs are stable across repeated shares of the same collection.
		shareSlug = c.ShareSlug
		if shareSlug == "" {
			shareSlug = slug.ForCollection(c.Name, c.ID)
		}
	}

	if err := s.store.SetCollectionSharing(r.Context(), ownerID(r), id, req.Public, shareSlug); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "collection not found")
			return
		}
		s.log.WithError(err).Error("failed to update sharing")
		respondError(w, http.StatusInternalServerError, "failed to update sharing")
		return
	}

	c.IsPublic = req.Public
	c.ShareSlug = shareSlug
	respondJSON(w, http.StatusOK, c)
}

// handleSharedCollection is the only unauthenticated data route. Private and
// unknown slugs are indistinguishable to the caller.
func (s *Server) handleSharedCollection(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.PublicCollectionBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.log.WithError(err).Error("failed to resolve share slug")
		respondError(w, http.StatusInternalServerError, "failed to load collection")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "collection not found")
		return
	}

	links, err := s.store.ListLinks(r.Context(), c.OwnerID, db.ListFilter{CollectionID: c.ID})
	if err != nil {
		s.log.WithError(err).Error("failed to load shared links")
		respondError(w, http.StatusInternalServerError, "failed to load collection")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collection": c,
		"links":      links,
	})
}
