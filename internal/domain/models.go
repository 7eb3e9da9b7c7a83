// Package domain defines the persistence models for users and their
// generated stories. These types are mapped with GORM and form the core
// data layer of the story backend.
package domain

import (
	"encoding/json"
	"time"
)

// Role values allowed for User.Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User mirrors the identity record produced by the external auth layer.
// The backend only upserts and reads it; it never owns the login flow.
//
// Fields:
//   - ID: stable identifier assigned by the auth provider (varchar(64)).
//   - Name / Email / LoginMethod: profile data, all optional.
//   - Role: "user" or "admin" (enforced by DB constraint).
//   - CreatedAt: first time the user was seen.
//   - LastSignedIn: refreshed on every sign-in.
type User struct {
	ID           string    `json:"id"            gorm:"type:varchar(64);primaryKey"`
	Name         string    `json:"name"          gorm:"type:text"`
	Email        string    `json:"email"         gorm:"type:varchar(320)"`
	LoginMethod  string    `json:"login_method"  gorm:"type:varchar(64)"`
	Role         string    `json:"role"          gorm:"type:varchar(16);not null;default:'user';check:role IN ('user','admin')"`
	CreatedAt    time.Time `json:"created_at"`
	LastSignedIn time.Time `json:"last_signed_in"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Story is a narrative generated from a single uploaded image. A story
// belongs to exactly one user; the owner never changes after creation and
// there is no edit flow, so rows are write-once apart from deletion.
//
// Fields:
//   - ID: UUID primary key generated by the pipeline, not the database.
//   - UserID: identifier of the owner; indexed for per-user listing.
//   - ImageURL: durable object-store URL of the source image (never a
//     data: URL).
//   - ImageDescription: what the model saw in the image.
//   - Story: the synthesized narrative. May be empty when the model
//     returned no prose; the record is still persisted.
//   - Title / Genre / Mood / Setting: extracted story metadata.
//   - Characters: the character list serialized as a JSON array text blob;
//     use CharacterList / MarshalCharacters to convert.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Story struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID           string    `json:"user_id"           gorm:"type:varchar(64);not null;index:idx_user_stories"`
	ImageURL         string    `json:"image_url"         gorm:"type:text;not null"`
	ImageDescription string    `json:"image_description" gorm:"type:text"`
	Story            string    `json:"story"             gorm:"type:text;not null"`
	Title            string    `json:"title"             gorm:"type:varchar(255)"`
	Genre            string    `json:"genre"             gorm:"type:varchar(100)"`
	Mood             string    `json:"mood"              gorm:"type:varchar(100)"`
	Characters       string    `json:"characters"        gorm:"type:text"`
	Setting          string    `json:"setting"           gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Story.
func (Story) TableName() string { return "stories" }

// CharacterList deserializes the Characters JSON blob back into the ordered
// character slice. An empty blob yields an empty, non-nil slice.
func (s *Story) CharacterList() ([]string, error) {
	if s.Characters == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.Characters), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalCharacters serializes an ordered character list to the JSON text
// representation stored in Story.Characters.
func MarshalCharacters(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
