// Package services defines the business logic of the story backend: the
// generation pipeline, image uploads, and per-user story access. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer. Detailed causes (upstream model errors, SQL errors) are
// logged where they occur and deliberately NOT propagated, so the boundary
// only ever sees the generic failure.
package services

import "errors"

var (
	// ErrStoryNotFound indicates that the requested story does not exist.
	// It is also returned when the backing database cannot be reached,
	// since "absent" is the safe degraded answer for reads.
	ErrStoryNotFound = errors.New("story not found")

	// ErrUnauthorized is returned when a caller attempts to read or delete
	// a story owned by a different user. The record is left untouched.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrGenerationFailed is the single generic error surfaced for any
	// failure of the two model stages. The detailed cause is logged only.
	ErrGenerationFailed = errors.New("failed to generate story")

	// ErrCreateFailed is returned when both model stages succeeded but the
	// story could not be persisted. The generated text is lost on this
	// path; callers should treat it as "regenerate if needed".
	ErrCreateFailed = errors.New("story could not be saved")

	// ErrUploadFailed is the generic error surfaced for any image upload
	// failure (object-store write errors included).
	ErrUploadFailed = errors.New("failed to upload image")

	// ErrBadImage is returned when the uploaded payload is not decodable
	// base64 or is empty after decoding.
	ErrBadImage = errors.New("image payload is not valid base64")

	// ErrImageTooLarge is returned when the decoded image exceeds the
	// configured upload cap.
	ErrImageTooLarge = errors.New("image exceeds maximum allowed size")
)
