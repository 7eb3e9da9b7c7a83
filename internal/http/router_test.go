package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-story-backend/internal/config"
	"github.com/tbourn/go-story-backend/internal/domain"
	"github.com/tbourn/go-story-backend/internal/llm"
	"github.com/tbourn/go-story-backend/internal/repo"
)

// --- fakes for the pipeline adapters ---

type fakeExtractor struct{}

func (fakeExtractor) Extract(context.Context, llm.ImageInput) (llm.StoryElements, error) {
	return llm.StoryElements{
		Title:            "Test Title",
		Genre:            "Fiction",
		Mood:             "Calm",
		Characters:       []string{"A"},
		Setting:          "Somewhere",
		ImageDescription: "A test image",
	}, nil
}

type fakeWriter struct{}

func (fakeWriter) Write(context.Context, llm.StoryElements) (string, error) {
	return "A short tale.", nil
}

type fakeStore struct{}

func (fakeStore) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "https://cdn.test/" + key, nil
}

// --- test DB helper (pure-Go sqlite, no CGO) ---

func newTestHandle(t *testing.T) *repo.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Story{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.Static(db)
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		MaxUploadBytes: 8 << 20,
		CORS:           config.CORSConfig{AllowedOrigins: nil},
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestHandle(t), fakeExtractor{}, fakeWriter{}, fakeStore{}, cfg)
	return r
}

func TestRegisterRoutes_HealthMetricsFallbacks(t *testing.T) {
	r := newTestRouter(t, testConfig())

	// /health works and AllowAllOrigins sets "*".
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404 envelope.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	r := newTestRouter(t, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected origin echo, got %q", got)
	}
}

func TestRegisterRoutes_ProtectedRoutesRequireAuth(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stories", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d; want 401", w.Code)
	}
}

// End-to-end through real services against sqlite: upload, generate, list,
// fetch, delete.
func TestRegisterRoutes_StoryLifecycle(t *testing.T) {
	r := newTestRouter(t, testConfig())

	do := func(method, path, user string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Upload.
	w := do(http.MethodPost, "/api/v1/images", "u1",
		map[string]string{"base64": "aGVsbG8=", "filename": "x.jpg"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d body=%s", w.Code, w.Body.String())
	}
	var up struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &up); err != nil || up.URL == "" {
		t.Fatalf("upload body = %s (err %v)", w.Body.String(), err)
	}

	// Generate.
	w = do(http.MethodPost, "/api/v1/stories/generate", "u1",
		map[string]string{"image_url": up.URL})
	if w.Code != http.StatusCreated {
		t.Fatalf("generate = %d body=%s", w.Code, w.Body.String())
	}
	var gen struct {
		Success bool `json:"success"`
		Story   struct {
			ID    string `json:"id"`
			Story string `json:"story"`
		} `json:"story"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &gen); err != nil {
		t.Fatalf("decode generate: %v", err)
	}
	if !gen.Success || gen.Story.ID == "" || gen.Story.Story != "A short tale." {
		t.Fatalf("generate body = %s", w.Body.String())
	}

	// List shows it for the owner, with an ETag.
	w = do(http.MethodGet, "/api/v1/stories", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if w.Header().Get("ETag") == "" {
		t.Fatal("expected ETag on list")
	}

	// Foreign fetch is refused.
	w = do(http.MethodGet, "/api/v1/stories/"+gen.Story.ID, "u2", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign fetch = %d; want 403", w.Code)
	}

	// Owner delete succeeds, second delete 404s.
	w = do(http.MethodDelete, "/api/v1/stories/"+gen.Story.ID, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d body=%s", w.Code, w.Body.String())
	}
	w = do(http.MethodDelete, "/api/v1/stories/"+gen.Story.ID, "u1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d; want 404", w.Code)
	}
}

// Authenticated requests mirror the caller into the users table.
func TestRegisterRoutes_RecordsPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandle(t)
	r := gin.New()
	RegisterRoutes(r, h, fakeExtractor{}, fakeWriter{}, fakeStore{}, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stories", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Name", "Mara")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}

	db, err := h.DB()
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	u, err := repo.GetUser(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Name != "Mara" || u.LastSignedIn.IsZero() {
		t.Fatalf("unexpected user row: %+v", u)
	}
}

func TestRegisterRoutes_ListETag304(t *testing.T) {
	r := newTestRouter(t, testConfig())

	do := func(inm string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stories", nil)
		req.Header.Set("X-User-ID", "u1")
		if inm != "" {
			req.Header.Set("If-None-Match", inm)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := do("")
	if first.Code != http.StatusOK {
		t.Fatalf("first list = %d", first.Code)
	}
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag")
	}
	second := do(etag)
	if second.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d; want 304", second.Code)
	}
}
