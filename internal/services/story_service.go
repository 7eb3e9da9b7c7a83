// Package services – StoryService
//
// This file implements StoryService, the orchestrator of the story pipeline
// and the owner of per-user story access. A pipeline run is one strictly
// sequential chain: extract story elements from the image, synthesize prose
// from those elements, then persist a single Story row under a freshly
// generated UUID. The two model calls never run in parallel because
// synthesis consumes extraction's output.
//
// Error policy (see errors.go): model-stage failures abort the run and
// surface as ErrGenerationFailed with no partial row persisted; a
// persistence failure after both stages succeeded surfaces as ErrCreateFailed
// and the generated text is lost. Reads degrade to empty/absent when the
// database is unreachable instead of crashing the caller.
//
// Ownership: the repository exposes stories by bare ID. Every read and
// delete in this service passes through authorize(), the single
// fetch-then-compare guard, so a new endpoint cannot forget the check.
//
// Observability: public methods are OpenTelemetry-instrumented; pipeline
// stages additionally feed the Prometheus metrics in metrics.go.
package services

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-story-backend/internal/domain"
	"github.com/tbourn/go-story-backend/internal/llm"
	"github.com/tbourn/go-story-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StoryRepo defines the repository contract required by StoryService.
// Implementations are responsible for persistence of story records.
type StoryRepo interface {
	// CreateStory inserts a fully-populated story row.
	CreateStory(ctx context.Context, db *gorm.DB, s *domain.Story) error

	// ListStories returns all stories for a user, most recent first.
	ListStories(ctx context.Context, db *gorm.DB, userID string) ([]domain.Story, error)

	// CountStories returns the total number of stories for pagination.
	CountStories(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListStoriesPage returns a page of a user's stories.
	ListStoriesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Story, error)

	// GetStory fetches a story by bare ID (no owner filter).
	GetStory(ctx context.Context, db *gorm.DB, id string) (*domain.Story, error)

	// DeleteStory removes a story by bare ID (no owner filter).
	DeleteStory(ctx context.Context, db *gorm.DB, id string) error
}

// StoryService coordinates the generation pipeline and story retrieval.
type StoryService struct {
	// DB is the lazily-initialized database handle; a failed open degrades
	// reads to empty results and refuses writes, it never panics.
	DB *repo.Handle
	// Repo is the story repository used by this service.
	Repo StoryRepo
	// Extractor derives structured elements from the image.
	Extractor llm.Extractor
	// Writer synthesizes prose from extracted elements.
	Writer llm.Writer
}

// NewStoryService constructs a StoryService bound to the given collaborators.
func NewStoryService(db *repo.Handle, r StoryRepo, ex llm.Extractor, w llm.Writer) *StoryService {
	return &StoryService{DB: db, Repo: r, Extractor: ex, Writer: w}
}

// Generate runs one full pipeline for the authenticated user and returns the
// persisted record. imageURL must be the durable object-store URL from the
// preceding upload step; imageBase64 optionally carries the same image
// inline and is preferred for the model call since it is self-contained.
// The persisted ImageURL is always the durable URL, never the data URL.
func (s *StoryService) Generate(ctx context.Context, userID, imageURL, imageBase64 string) (*domain.Story, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	// Stage 1: structured extraction (internal fallback to defaults on
	// malformed output; only transport failures reach this branch).
	start := time.Now()
	elements, err := s.Extractor.Extract(ctx, llm.ImageInput{URL: imageURL, Base64: imageBase64})
	observeStage(stageExtract, start)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("story generation: extraction stage failed")
		storyGenerations.WithLabelValues(outcomeExtractError).Inc()
		return nil, ErrGenerationFailed
	}
	if reflect.DeepEqual(elements, llm.DefaultElements()) {
		extractionFallbacks.Inc()
	}

	// Stage 2: prose synthesis. An empty body is acceptable; the record is
	// persisted either way.
	start = time.Now()
	text, err := s.Writer.Write(ctx, elements)
	observeStage(stageSynthesize, start)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("story generation: synthesis stage failed")
		storyGenerations.WithLabelValues(outcomeWriteError).Inc()
		return nil, ErrGenerationFailed
	}

	characters, err := domain.MarshalCharacters(elements.Characters)
	if err != nil {
		log.Error().Err(err).Msg("story generation: could not serialize characters")
		storyGenerations.WithLabelValues(outcomeWriteError).Inc()
		return nil, ErrGenerationFailed
	}

	// Stage 3: persist under a fresh UUID generated here, not by the store.
	story := &domain.Story{
		ID:               uuid.NewString(),
		UserID:           userID,
		ImageURL:         imageURL,
		ImageDescription: elements.ImageDescription,
		Story:            text,
		Title:            elements.Title,
		Genre:            elements.Genre,
		Mood:             elements.Mood,
		Characters:       characters,
		Setting:          elements.Setting,
	}

	start = time.Now()
	db, err := s.DB.DB()
	if err != nil {
		log.Error().Err(err).Msg("story generation: database unavailable, generated text dropped")
		storyGenerations.WithLabelValues(outcomePersistError).Inc()
		return nil, ErrCreateFailed
	}
	if err := s.Repo.CreateStory(ctx, db, story); err != nil {
		observeStage(stagePersist, start)
		log.Error().Err(err).Str("story_id", story.ID).Msg("story generation: persistence failed")
		storyGenerations.WithLabelValues(outcomePersistError).Inc()
		return nil, ErrCreateFailed
	}
	observeStage(stagePersist, start)

	storyGenerations.WithLabelValues(outcomeOK).Inc()
	span.SetAttributes(attribute.String("story.id", story.ID))
	return story, nil
}

// List returns all stories for a user, most recent first. When the database
// is unreachable or the query fails it degrades to an empty slice: the
// caller should treat an empty result as "nothing to show right now", not as
// proof that zero stories exist.
func (s *StoryService) List(ctx context.Context, userID string) ([]domain.Story, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	db, err := s.DB.DB()
	if err != nil {
		log.Warn().Err(err).Msg("list stories: database unavailable")
		return []domain.Story{}, nil
	}
	out, err := s.Repo.ListStories(ctx, db, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("list stories: query failed")
		return []domain.Story{}, nil
	}
	if out == nil {
		out = []domain.Story{}
	}
	return out, nil
}

// ListPage returns one page of a user's stories plus the total count.
// It applies defaults for invalid page/pageSize and degrades like List.
func (s *StoryService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Story, int64, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	db, err := s.DB.DB()
	if err != nil {
		log.Warn().Err(err).Msg("list stories page: database unavailable")
		return []domain.Story{}, 0, nil
	}

	total, err := s.Repo.CountStories(ctx, db, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("list stories page: count failed")
		return []domain.Story{}, 0, nil
	}
	if total == 0 {
		return []domain.Story{}, 0, nil
	}

	items, err := s.Repo.ListStoriesPage(ctx, db, userID, offset, pageSize)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("list stories page: query failed")
		return []domain.Story{}, 0, nil
	}
	return items, total, nil
}

// Get returns the story with the given ID if it belongs to userID.
func (s *StoryService) Get(ctx context.Context, userID, id string) (*domain.Story, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("story.id", id),
		),
	)
	defer span.End()

	return s.authorize(ctx, userID, id)
}

// Delete removes the story with the given ID if it belongs to userID.
// Non-owners get ErrUnauthorized and the record is left unchanged.
func (s *StoryService) Delete(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("story.id", id),
		),
	)
	defer span.End()

	if _, err := s.authorize(ctx, userID, id); err != nil {
		return err
	}
	db, err := s.DB.DB()
	if err != nil {
		log.Warn().Err(err).Msg("delete story: database unavailable")
		return ErrStoryNotFound
	}
	if err := s.Repo.DeleteStory(ctx, db, id); err != nil {
		log.Warn().Err(err).Str("story_id", id).Msg("delete story: delete failed")
		return ErrStoryNotFound
	}
	return nil
}

// authorize is the single ownership guard: fetch the story by bare ID, then
// compare owners. Every read and every mutation must pass through here
// before touching the row. An unreachable database reads as "absent".
func (s *StoryService) authorize(ctx context.Context, userID, id string) (*domain.Story, error) {
	db, err := s.DB.DB()
	if err != nil {
		log.Warn().Err(err).Msg("authorize story: database unavailable")
		return nil, ErrStoryNotFound
	}
	story, err := s.Repo.GetStory(ctx, db, id)
	if err != nil {
		return nil, ErrStoryNotFound
	}
	if story.UserID != userID {
		return nil, ErrUnauthorized
	}
	return story, nil
}
