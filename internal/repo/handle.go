// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides Handle, a lazily-initialized,
// process-scoped database handle.
//
// The service layer is expected to keep working (in a degraded, read-empty /
// write-refused mode) when the database is unreachable at startup. Handle
// makes that explicit: the first caller that finds no connection attempts to
// open one; a failed attempt is NOT cached, so the next call retries. Once a
// connection is established it is memoized for the life of the process.
//
// Handle is injected into services rather than accessed as a package global,
// which keeps the services testable with a stub Open function.
package repo

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

// ErrDBUnavailable is returned by Handle.DB when no connection could be
// established. Callers should degrade gracefully rather than crash.
var ErrDBUnavailable = errors.New("database unavailable")

// Handle is a concurrency-safe, lazily-opened *gorm.DB provider.
//
// Open is called under the internal mutex, so it must not call back into the
// same Handle. Initialization is idempotent under concurrent first use: one
// goroutine opens while the rest wait, and all observe the same handle.
type Handle struct {
	// Open establishes the connection (and runs migrations, if desired).
	Open func() (*gorm.DB, error)

	mu sync.Mutex
	db *gorm.DB
}

// NewHandle returns a Handle backed by the given open function.
func NewHandle(open func() (*gorm.DB, error)) *Handle {
	return &Handle{Open: open}
}

// Static wraps an already-open connection in a Handle. Used by tests and by
// callers that open the database eagerly at startup.
func Static(db *gorm.DB) *Handle {
	return &Handle{db: db}
}

// DB returns the memoized connection, opening it on first use. A failed open
// returns ErrDBUnavailable (wrapping the cause) and leaves the Handle ready
// to retry on the next call; there is no internal backoff timer.
func (h *Handle) DB() (*gorm.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db != nil {
		return h.db, nil
	}
	if h.Open == nil {
		return nil, ErrDBUnavailable
	}
	db, err := h.Open()
	if err != nil {
		return nil, errors.Join(ErrDBUnavailable, err)
	}
	h.db = db
	return h.db, nil
}
