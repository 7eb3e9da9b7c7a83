package services

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-story-backend/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadService accepts base64 image payloads and writes them to the blob
// store, returning the durable public URL the pipeline will persist.
type UploadService struct {
	// Store is the blob store backing uploads.
	Store storage.BlobStore
	// MaxBytes caps the decoded payload size; 0 means no cap.
	MaxBytes int64
	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

// NewUploadService constructs an UploadService over the given store.
func NewUploadService(store storage.BlobStore, maxBytes int64) *UploadService {
	return &UploadService{Store: store, MaxBytes: maxBytes, now: time.Now}
}

// Upload decodes the payload, derives a timestamped object key from the
// client filename and stores the bytes. The payload may carry an optional
// "data:<mime>;base64," prefix, which browsers produce from FileReader; only
// the part after the comma is decoded. Images are stored as image/jpeg
// regardless of the advertised mime, matching what the generation pipeline
// sends to the vision model.
func (s *UploadService) Upload(ctx context.Context, payload, filename string) (string, error) {
	tr := otel.Tracer("services/UploadService")
	ctx, span := tr.Start(ctx, "Upload",
		trace.WithAttributes(attribute.String("upload.filename", filename)),
	)
	defer span.End()

	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil || len(data) == 0 {
		log.Warn().Err(err).Str("filename", filename).Msg("image upload: undecodable payload")
		return "", ErrBadImage
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		log.Warn().Int("size", len(data)).Int64("max", s.MaxBytes).Msg("image upload: payload too large")
		return "", ErrImageTooLarge
	}

	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	key := storage.ObjectKey(filename, nowFn())
	url, err := s.Store.Put(ctx, key, data, "image/jpeg")
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("image upload: object store write failed")
		return "", ErrUploadFailed
	}
	span.SetAttributes(attribute.String("upload.key", key))
	return url, nil
}
