// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// Users originate in the external auth layer; this backend only mirrors them
// so that stories can reference a stable owner row. UpsertUser is called on
// every authenticated request boundary that carries fresh profile data.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-story-backend/internal/domain"
)

// UpsertUser inserts the user or, when the row already exists, refreshes the
// mutable profile columns (name, email, login_method, last_signed_in). Role
// and CreatedAt are never overwritten by an upsert.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastSignedIn.IsZero() {
		u.LastSignedIn = now
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "email", "login_method", "last_signed_in",
			}),
		}).
		Create(u).Error
}

// GetUser fetches a user by ID. Returns ErrNotFound when absent.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}
