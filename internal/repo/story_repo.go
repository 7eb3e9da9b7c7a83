// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Story model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Ownership semantics deserve a note: GetStory and DeleteStory deliberately
// do NOT filter by owner. The fetch-then-compare ownership check lives in
// services.StoryService so that every read and delete passes through a single
// authorization guard; the repository stays a dumb keyed store.
//
// Error semantics:
//   - When a story is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-story-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateStory inserts a fully-populated Story row. The caller (the pipeline
// orchestrator) is responsible for generating the ID and serializing the
// character list; CreatedAt/UpdatedAt are set here when unset.
func CreateStory(ctx context.Context, db *gorm.DB, s *domain.Story) error {
	if s.CreatedAt.IsZero() {
		now := time.Now().UTC()
		s.CreatedAt = now
		s.UpdatedAt = now
	}
	return db.WithContext(ctx).Create(s).Error
}

// ListStories returns all stories belonging to userID, ordered by creation
// time descending (most recent first). It returns an empty slice if the user
// has no stories. On DB error, it returns the error.
func ListStories(ctx context.Context, db *gorm.DB, userID string) ([]domain.Story, error) {
	var out []domain.Story
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountStories returns the total number of stories owned by userID.
// On DB error, it returns the error.
func CountStories(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Story{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListStoriesPage returns a paginated slice of stories for userID, ordered by
// creation time descending. Use CountStories to obtain the total for
// pagination metadata. On DB error, it returns the error.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListStoriesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Story, error) {
	var out []domain.Story
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetStory fetches a single story by its ID, regardless of owner. If the
// record does not exist, it returns ErrNotFound. On other DB errors, the raw
// error is returned. Callers must compare UserID before exposing the result.
func GetStory(ctx context.Context, db *gorm.DB, id string) (*domain.Story, error) {
	var s domain.Story
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteStory removes a story by ID unconditionally. If no rows are affected
// (story missing), it returns ErrNotFound. On DB error, the raw error is
// returned. The ownership check is the caller's responsibility.
func DeleteStory(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Story{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
