package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-story-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("story_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedStory(t *testing.T, db *gorm.DB, id, userID string, createdAt time.Time) domain.Story {
	t.Helper()
	s := domain.Story{
		ID:         id,
		UserID:     userID,
		ImageURL:   "https://store/stories/1-img.jpg",
		Story:      "once upon a time",
		Title:      "T-" + id,
		Genre:      "Fiction",
		Mood:       "Calm",
		Characters: `["A"]`,
		Setting:    "somewhere",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return s
}

func TestCreateStory_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	err := CreateStory(context.Background(), db, &domain.Story{ID: "s1", UserID: "u1"})
	if err == nil {
		t.Fatal("expected error creating without table")
	}
}

func TestCreateStory_SetsTimestampsAndPersists(t *testing.T) {
	db := newTestDB(t, &domain.Story{})

	start := time.Now().UTC().Add(-time.Minute)
	s := &domain.Story{
		ID:         "s1",
		UserID:     "u1",
		ImageURL:   "https://store/stories/171-cat.jpg",
		Story:      "a story",
		Title:      "The Alley Cat",
		Genre:      "fantasy",
		Mood:       "whimsical",
		Characters: `["Whiskers"]`,
		Setting:    "a rainy alley",
	}
	if err := CreateStory(context.Background(), db, s); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	if s.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset: %v", s.CreatedAt)
	}

	var got domain.Story
	if err := db.First(&got, "id = ?", "s1").Error; err != nil {
		t.Fatalf("load created story: %v", err)
	}
	if got.UserID != "u1" || got.Title != "The Alley Cat" || got.Characters != `["Whiskers"]` {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.ImageURL != "https://store/stories/171-cat.jpg" {
		t.Fatalf("ImageURL = %q", got.ImageURL)
	}
}

func TestListStories_OrderDescendingAndFilter(t *testing.T) {
	db := newTestDB(t, &domain.Story{})

	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC) // oldest
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour) // newest for u1
	seedStory(t, db, "s1", "u1", t1)
	seedStory(t, db, "s2", "u1", t2)
	seedStory(t, db, "s3", "u1", t3)
	seedStory(t, db, "sx", "u2", t2)

	out, err := ListStories(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d; want 3", len(out))
	}
	if out[0].ID != "s3" || out[1].ID != "s2" || out[2].ID != "s1" {
		t.Fatalf("order = %s,%s,%s; want s3,s2,s1", out[0].ID, out[1].ID, out[2].ID)
	}
	for _, s := range out {
		if s.UserID != "u1" {
			t.Fatalf("foreign story leaked: %+v", s)
		}
	}
}

func TestListStories_IdenticalOnConsecutiveCalls(t *testing.T) {
	db := newTestDB(t, &domain.Story{})

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seedStory(t, db, "a", "u1", ts)
	seedStory(t, db, "b", "u1", ts) // same createdAt: tie

	first, err := ListStories(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := ListStories(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order not stable at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestCountAndListStoriesPage(t *testing.T) {
	db := newTestDB(t, &domain.Story{})

	base := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedStory(t, db, fmt.Sprintf("s%d", i), "u1", base.Add(time.Duration(i)*time.Minute))
	}

	total, err := CountStories(context.Background(), db, "u1")
	if err != nil || total != 5 {
		t.Fatalf("CountStories = %d, %v; want 5", total, err)
	}

	page, err := ListStoriesPage(context.Background(), db, "u1", 2, 2)
	if err != nil {
		t.Fatalf("ListStoriesPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page len = %d; want 2", len(page))
	}
	// Descending: s4,s3 | s2,s1 | s0
	if page[0].ID != "s2" || page[1].ID != "s1" {
		t.Fatalf("page = %s,%s; want s2,s1", page[0].ID, page[1].ID)
	}
}

func TestGetStory_FoundAndAbsent(t *testing.T) {
	db := newTestDB(t, &domain.Story{})
	seedStory(t, db, "s1", "u1", time.Now().UTC())

	got, err := GetStory(context.Background(), db, "s1")
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	// No owner filter: the record comes back regardless of the caller.
	if got.UserID != "u1" {
		t.Fatalf("UserID = %q", got.UserID)
	}

	if _, err := GetStory(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteStory(t *testing.T) {
	db := newTestDB(t, &domain.Story{})
	seedStory(t, db, "s1", "u1", time.Now().UTC())

	if err := DeleteStory(context.Background(), db, "s1"); err != nil {
		t.Fatalf("DeleteStory: %v", err)
	}
	if _, err := GetStory(context.Background(), db, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := DeleteStory(context.Background(), db, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestStoriesStats(t *testing.T) {
	db := newTestDB(t, &domain.Story{})

	count, maxTS, err := StoriesStats(context.Background(), db, "u1")
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty stats = %d, %v, %v", count, maxTS, err)
	}

	t1 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	seedStory(t, db, "s1", "u1", t1)
	seedStory(t, db, "s2", "u1", t2)

	count, maxTS, err = StoriesStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("StoriesStats: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d; want 2", count)
	}
	if maxTS == nil || !maxTS.Equal(t2) {
		t.Fatalf("maxTS = %v; want %v", maxTS, t2)
	}
}
