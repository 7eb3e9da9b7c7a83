// Story HTTP handlers.
//
// This file exposes REST endpoints for image uploads and story resources:
//   - POST   /images             (upload an image, returns its public URL)
//   - POST   /stories/generate   (run the generation pipeline)
//   - GET    /stories            (list, paginated, ETag support)
//   - GET    /stories/{id}       (fetch one story)
//   - DELETE /stories/{id}       (delete one story)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-story-backend/internal/domain"
	"github.com/tbourn/go-story-backend/internal/http/middleware"
	"github.com/tbourn/go-story-backend/internal/repo"
	"github.com/tbourn/go-story-backend/internal/services"
	"github.com/tbourn/go-story-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// StoryService defines the story operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type StoryService interface {
	// Generate runs the full image-to-story pipeline and persists the result.
	Generate(ctx context.Context, userID, imageURL, imageBase64 string) (*domain.Story, error)
	// ListPage returns a page of the user's stories and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Story, int64, error)
	// Get returns one story owned by userID.
	Get(ctx context.Context, userID, id string) (*domain.Story, error)
	// Delete removes one story owned by userID.
	Delete(ctx context.Context, userID, id string) error
}

// UploadService defines the image upload operation consumed by HTTP handlers.
type UploadService interface {
	// Upload stores a base64 image payload and returns its public URL.
	Upload(ctx context.Context, payload, filename string) (string, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for uploads and stories. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	storySvc  StoryService
	uploadSvc UploadService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(storySvc StoryService, uploadSvc UploadService) *Handlers {
	return &Handlers{storySvc: storySvc, uploadSvc: uploadSvc}
}

// userID extracts the authenticated user id from the Gin context (set by
// middleware.RequireUser). Protected routes never reach a handler without
// it; the empty fallback keeps direct handler tests honest.
func userID(c *gin.Context) string {
	if v, ok := c.Get(middleware.ContextUserKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

//
// DTOs
//

// UploadImageRequest is the JSON payload for uploading an image.
type UploadImageRequest struct {
	// Base64 is the image payload, optionally with a data URL prefix.
	Base64 string `json:"base64" binding:"required" example:"iVBORw0KGgoAAAANSUhEUg..."`
	// Filename is the client-side file name, used in the storage key.
	Filename string `json:"filename" example:"sunset.jpg"`
}

// UploadImageResponse returns the durable public URL of the stored image.
type UploadImageResponse struct {
	URL string `json:"url" example:"https://cdn.example.com/stories/1717000000000-sunset.jpg"`
}

// GenerateStoryRequest is the JSON payload for generating a story.
type GenerateStoryRequest struct {
	// ImageURL is the durable URL returned by the upload endpoint.
	ImageURL string `json:"image_url" binding:"required,url" example:"https://cdn.example.com/stories/1717000000000-sunset.jpg"`
	// ImageBase64 optionally carries the image inline for the vision model.
	ImageBase64 string `json:"image_base64,omitempty"`
}

// StoryResponse is the public representation of a story record. Characters
// are exposed as an array even though they are stored serialized.
type StoryResponse struct {
	ID               string    `json:"id"`
	ImageURL         string    `json:"image_url"`
	ImageDescription string    `json:"image_description"`
	Story            string    `json:"story"`
	Title            string    `json:"title"`
	Genre            string    `json:"genre"`
	Mood             string    `json:"mood"`
	Characters       []string  `json:"characters"`
	Setting          string    `json:"setting"`
	CreatedAt        time.Time `json:"created_at"`
}

// GenerateStoryResponse wraps the persisted story.
type GenerateStoryResponse struct {
	Success bool          `json:"success"`
	Story   StoryResponse `json:"story"`
}

// DeleteStoryResponse acknowledges a deletion.
type DeleteStoryResponse struct {
	Success bool `json:"success"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListStoriesResponse wraps a page of stories and pagination information.
type ListStoriesResponse struct {
	Stories    []StoryResponse `json:"stories"`
	Pagination Pagination      `json:"pagination"`
}

//
// Helpers
//

// toStoryResponse maps a persisted story to its public shape. A malformed
// characters blob degrades to an empty list rather than failing the request.
func toStoryResponse(s *domain.Story) StoryResponse {
	chars, err := s.CharacterList()
	if err != nil {
		chars = []string{}
	}
	return StoryResponse{
		ID:               s.ID,
		ImageURL:         s.ImageURL,
		ImageDescription: s.ImageDescription,
		Story:            s.Story,
		Title:            s.Title,
		Genre:            s.Genre,
		Mood:             s.Mood,
		Characters:       chars,
		Setting:          s.Setting,
		CreatedAt:        s.CreatedAt,
	}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// UploadImage godoc
// @ID          uploadImage
// @Summary     Upload an image
// @Description Stores a base64-encoded image and returns its durable public URL.
// @Tags        Images
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (gateway header)"  example(user123)
// @Param       body       body    handlers.UploadImageRequest  true  "Upload payload"
//
// @Success     201  {object}  handlers.UploadImageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /images [post]
func (h *Handlers) UploadImage(c *gin.Context) {
	var req UploadImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	url, err := h.uploadSvc.Upload(c.Request.Context(), req.Base64, req.Filename)
	switch {
	case errors.Is(err, services.ErrBadImage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image payload is not valid base64")
		return
	case errors.Is(err, services.ErrImageTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "image exceeds maximum allowed size")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, "failed to upload image")
		return
	}
	ok(c, http.StatusCreated, UploadImageResponse{URL: url})
}

// GenerateStory godoc
// @ID          generateStory
// @Summary     Generate a story from an image
// @Description Runs the extraction and synthesis pipeline and persists the resulting story for the current user.
// @Tags        Stories
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (gateway header)"  example(user123)
// @Param       body       body    handlers.GenerateStoryRequest  true  "Generation payload"
//
// @Success     201  {object}  handlers.GenerateStoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Generation or persistence failed"
// @Router      /stories/generate [post]
func (h *Handlers) GenerateStory(c *gin.Context) {
	var req GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_url required and must be a valid URL")
		return
	}

	story, err := h.storySvc.Generate(c.Request.Context(), userID(c), req.ImageURL, req.ImageBase64)
	switch {
	case errors.Is(err, services.ErrCreateFailed):
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "story could not be saved")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeGenerationFailed, "failed to generate story")
		return
	}
	ok(c, http.StatusCreated, GenerateStoryResponse{Success: true, Story: toStoryResponse(story)})
}

// ListStories godoc
// @ID          listStories
// @Summary     List stories (paginated)
// @Description Returns a page of the user's stories, most recent first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Stories
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "User ID (gateway header)"     example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"   example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                   minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"                minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListStoriesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stories [get]
func (h *Handlers) ListStories(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.storySvc.(*services.StoryService); isConcrete && svc.DB != nil {
		db, _ = svc.DB.DB()
	}
	if db != nil {
		count, maxTS, err := repo.StoriesStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"stories:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.storySvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "failed to list stories")
		return
	}

	stories := make([]StoryResponse, 0, len(items))
	for i := range items {
		stories = append(stories, toStoryResponse(&items[i]))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListStoriesResponse{
		Stories: stories,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetStory godoc
// @ID          getStory
// @Summary     Fetch a story
// @Description Returns a single story owned by the current user.
// @Tags        Stories
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (gateway header)"  example(user123)
// @Param       id         path    string  true  "Story ID (UUID)"           format(uuid)
//
// @Success     200  {object} handlers.StoryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Story owned by another user"
// @Failure     404  {object} handlers.ErrorResponse "Story not found"
// @Router      /stories/{id} [get]
func (h *Handlers) GetStory(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "story id must be a UUID")
		return
	}

	story, err := h.storySvc.Get(c.Request.Context(), userID(c), id)
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "unauthorized")
		return
	case err != nil:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "story not found")
		return
	}
	ok(c, http.StatusOK, toStoryResponse(story))
}

// DeleteStory godoc
// @ID          deleteStory
// @Summary     Delete a story
// @Description Deletes a single story owned by the current user.
// @Tags        Stories
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (gateway header)"  example(user123)
// @Param       id         path    string  true  "Story ID (UUID)"           format(uuid)
//
// @Success     200  {object} handlers.DeleteStoryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Story owned by another user"
// @Failure     404  {object} handlers.ErrorResponse "Story not found"
// @Router      /stories/{id} [delete]
func (h *Handlers) DeleteStory(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "story id must be a UUID")
		return
	}

	err := h.storySvc.Delete(c.Request.Context(), userID(c), id)
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "unauthorized")
		return
	case err != nil:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "story not found")
		return
	}
	ok(c, http.StatusOK, DeleteStoryResponse{Success: true})
}
