package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"memorybox/config"
	"memorybox/db"
	"memorybox/mailer"
	"memorybox/models"
	"memorybox/reset"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// --- Test Doubles ---

// memStorage keeps the document in memory and can be told to fail saves.
type memStorage struct {
	mu   sync.Mutex
	data []byte
	fail bool
}

func (s *memStorage) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, db.ErrNoDocument
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memStorage) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) String() string { return "mem://test" }

func (s *memStorage) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// recordingMailer captures sent messages instead of delivering them.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", fmt.Errorf("%w: test: %w", mailer.ErrSendFailure, m.err)
	}
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("ref-%d", len(m.sent)), nil
}

func (m *recordingMailer) Close() error { return nil }

func (m *recordingMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no message was sent")
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Setup ---

type testServer struct {
	router  *gin.Engine
	db      *db.Database
	resets  *reset.MemoryRegistry
	mail    *recordingMailer
	clock   *testClock
	storage *memStorage
}

// setupTestServer wires the router exactly like main.go does, over an
// in-memory document and a registry with predictable codes.
func setupTestServer(t *testing.T, mutate ...func(cfg *config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{MaxBodyBytes: 1 << 20}
	for _, m := range mutate {
		m(cfg)
	}

	storage := &memStorage{}
	database, err := db.NewDatabase(context.Background(), db.Options{
		Storage: storage,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err, "Failed to initialize test database")

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	var next int
	registry := reset.NewMemoryRegistry(reset.DefaultTTL,
		reset.WithClock(clock.Now),
		reset.WithCodeGenerator(func() (string, error) {
			next++
			return fmt.Sprintf("%06d", 111110+next), nil
		}),
	)

	mail := &recordingMailer{}
	router := NewRouter(&Deps{
		Config:   cfg,
		DB:       database,
		Resets:   registry,
		Mailer:   mail,
		Logger:   zaptest.NewLogger(t),
		Gatherer: prometheus.NewRegistry(),
	})

	t.Cleanup(func() {
		if err := database.Close(context.Background()); err != nil {
			t.Logf("Warning: Error closing test database: %v", err)
		}
	})
	return &testServer{router: router, db: database, resets: registry, mail: mail, clock: clock, storage: storage}
}

// performRequest executes an HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		panic(fmt.Sprintf("Failed to create request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// marshalJSONBody marshals data into a request body.
func marshalJSONBody(t *testing.T, data interface{}) *bytes.Buffer {
	bodyBytes, err := json.Marshal(data)
	require.NoError(t, err, "Failed to marshal JSON body for request")
	return bytes.NewBuffer(bodyBytes)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	return decode[utils.APIError](t, rr).Error
}

// signup creates an account through the API.
func signup(t *testing.T, router *gin.Engine, email, username, password string) models.AccountView {
	t.Helper()
	rr := performRequest(router, http.MethodPost, "/api/auth/signup", marshalJSONBody(t, gin.H{
		"email":    email,
		"password": password,
		"name":     strings.Split(email, "@")[0],
		"username": username,
	}))
	require.Equal(t, http.StatusOK, rr.Code, "Signup failed: %s", rr.Body.String())
	return decode[AuthResponse](t, rr).User
}

// --- Auth Endpoint Tests ---

func TestAuthEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	router := ts.router

	t.Run("Signup Success", func(t *testing.T) {
		rr := performRequest(router, http.MethodPost, "/api/auth/signup", marshalJSONBody(t, gin.H{
			"email":    "ann@example.com",
			"password": "secret1",
			"name":     "Ann",
			"username": "Ann_B",
		}))
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decode[AuthResponse](t, rr)
		assert.True(t, resp.Success)
		assert.Equal(t, "ann@example.com", resp.User.ID)
		assert.Equal(t, "Ann", resp.User.Name)
		assert.Equal(t, "ann_b", resp.User.Username)
		assert.NotContains(t, rr.Body.String(), "secret1", "Password must never be returned")

		assert.Empty(t, ts.db.ListPhotos("ann@example.com"))
		assert.Contains(t, ts.db.Snapshot().Photos, "ann@example.com", "Signup creates the empty box")
	})

	t.Run("Signup Rejections", func(t *testing.T) {
		cases := []struct {
			name   string
			body   gin.H
			status int
		}{
			{"duplicate email", gin.H{"email": "ann@example.com", "password": "secret1", "username": "other"}, http.StatusConflict},
			{"duplicate username any case", gin.H{"email": "bob@example.com", "password": "secret1", "username": "ANN_B"}, http.StatusConflict},
			{"invalid username", gin.H{"email": "bob@example.com", "password": "secret1", "username": "bob smith"}, http.StatusBadRequest},
			{"short password", gin.H{"email": "bob@example.com", "password": "12345", "username": "bob"}, http.StatusBadRequest},
			{"missing password", gin.H{"email": "bob@example.com", "username": "bob"}, http.StatusBadRequest},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rr := performRequest(router, http.MethodPost, "/api/auth/signup", marshalJSONBody(t, tc.body))
				assert.Equal(t, tc.status, rr.Code, rr.Body.String())
				assert.NotEmpty(t, errorMessage(t, rr))
			})
		}
		_, err := ts.db.GetAccount("bob@example.com")
		assert.ErrorIs(t, err, db.ErrNotFound, "No rejected signup may create an account")
	})

	t.Run("Login", func(t *testing.T) {
		for _, identifier := range []string{"ann@example.com", "ann_b", "ANN_B"} {
			rr := performRequest(router, http.MethodPost, "/api/auth/login", marshalJSONBody(t, gin.H{
				"identifier": identifier, "password": "secret1",
			}))
			require.Equal(t, http.StatusOK, rr.Code, "identifier %q", identifier)
			assert.Equal(t, "ann@example.com", decode[AuthResponse](t, rr).User.ID)
		}

		rr := performRequest(router, http.MethodPost, "/api/auth/login", marshalJSONBody(t, gin.H{
			"email": "ann@example.com", "password": "secret1",
		}))
		assert.Equal(t, http.StatusOK, rr.Code, "The email field is accepted as identifier")
	})

	t.Run("Login Failures", func(t *testing.T) {
		rr := performRequest(router, http.MethodPost, "/api/auth/login", marshalJSONBody(t, gin.H{
			"identifier": "ann@example.com", "password": "wrong-password",
		}))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "Invalid password.", errorMessage(t, rr))

		rr = performRequest(router, http.MethodPost, "/api/auth/login", marshalJSONBody(t, gin.H{
			"identifier": "nobody", "password": "secret1",
		}))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "User not found.", errorMessage(t, rr))

		rr = performRequest(router, http.MethodPost, "/api/auth/login", marshalJSONBody(t, gin.H{"password": "secret1"}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

// --- Password Reset Tests ---

func TestPasswordResetFlow(t *testing.T) {
	ts := setupTestServer(t)
	router := ts.router
	signup(t, router, "ann@example.com", "ann", "secret1")

	rr := performRequest(router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{"identifier": "ANN"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sent := decode[CodeSentResponse](t, rr)
	assert.Equal(t, "ann@example.com", sent.Email)
	assert.Equal(t, "ann***@example.com", sent.MaskedEmail)
	assert.Equal(t, int64(120), sent.ExpiresInSeconds)

	msg := ts.mail.last(t)
	assert.Equal(t, "ann@example.com", msg.To)
	assert.Equal(t, "ann", msg.DisplayName)
	assert.Equal(t, reset.DefaultTTL, msg.TTL)
	code := msg.Code

	rr = performRequest(router, http.MethodPost, "/api/auth/reset-password", marshalJSONBody(t, gin.H{
		"email": "ann@example.com", "code": code, "newPassword": "newsecret",
	}))
	assert.Equal(t, http.StatusForbidden, rr.Code, "Reset requires a verified code")

	rr = performRequest(router, http.MethodPost, "/api/auth/verify-code", marshalJSONBody(t, gin.H{
		"email": "ann@example.com", "code": "000000",
	}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = performRequest(router, http.MethodPost, "/api/auth/verify-code", marshalJSONBody(t, gin.H{
		"email": "ann@example.com", "code": code,
	}))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = performRequest(router, http.MethodPost, "/api/auth/reset-password", marshalJSONBody(t, gin.H{
		"email": "ann@example.com", "code": code, "newPassword": "123",
	}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	_, stillPending := ts.resets.Lookup("ann@example.com")
	assert.True(t, stillPending, "A rejected password must not consume the code")

	rr = performRequest(router, http.MethodPost, "/api/auth/reset-password", marshalJSONBody(t, gin.H{
		"email": "ann@example.com", "code": code, "newPassword": "newsecret",
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = performRequest(router, http.MethodPost, "/api/auth/reset-password", marshalJSONBody(t, gin.H{
		"email": "ann@example.com", "code": code, "newPassword": "another1",
	}))
	assert.Equal(t, http.StatusNotFound, rr.Code, "A code is consumed exactly once")

	_, err := ts.db.Authenticate("ann", "newsecret")
	assert.NoError(t, err)
	_, err = ts.db.Authenticate("ann", "secret1")
	assert.ErrorIs(t, err, db.ErrBadPassword)
}

func TestPasswordResetEdgeCases(t *testing.T) {
	t.Run("unknown account", func(t *testing.T) {
		ts := setupTestServer(t)
		rr := performRequest(ts.router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{"identifier": "ghost"}))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = performRequest(ts.router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("expired code", func(t *testing.T) {
		ts := setupTestServer(t)
		signup(t, ts.router, "ann@example.com", "ann", "secret1")

		rr := performRequest(ts.router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{"email": "ann@example.com"}))
		require.Equal(t, http.StatusOK, rr.Code)
		code := ts.mail.last(t).Code

		ts.clock.Advance(reset.DefaultTTL + time.Second)
		rr = performRequest(ts.router, http.MethodPost, "/api/auth/verify-code", marshalJSONBody(t, gin.H{
			"email": "ann@example.com", "code": code,
		}))
		assert.Equal(t, http.StatusGone, rr.Code)

		rr = performRequest(ts.router, http.MethodPost, "/api/auth/resend-code", marshalJSONBody(t, gin.H{"email": "ann@example.com"}))
		require.Equal(t, http.StatusOK, rr.Code, "Reissue after expiry succeeds")
		fresh := ts.mail.last(t).Code
		assert.NotEqual(t, code, fresh)

		rr = performRequest(ts.router, http.MethodPost, "/api/auth/verify-code", marshalJSONBody(t, gin.H{
			"email": "ann@example.com", "code": fresh,
		}))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("resend retires the previous code", func(t *testing.T) {
		ts := setupTestServer(t)
		signup(t, ts.router, "ann@example.com", "ann", "secret1")

		performRequest(ts.router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{"identifier": "ann"}))
		first := ts.mail.last(t).Code
		rr := performRequest(ts.router, http.MethodPost, "/api/auth/resend-code", marshalJSONBody(t, gin.H{"email": "ann@example.com"}))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = performRequest(ts.router, http.MethodPost, "/api/auth/verify-code", marshalJSONBody(t, gin.H{
			"email": "ann@example.com", "code": first,
		}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = performRequest(ts.router, http.MethodPost, "/api/auth/resend-code", marshalJSONBody(t, gin.H{"email": "ghost@example.com"}))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("mail failure drops the code", func(t *testing.T) {
		ts := setupTestServer(t)
		signup(t, ts.router, "ann@example.com", "ann", "secret1")
		ts.mail.setErr(errors.New("relay down"))

		rr := performRequest(ts.router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{"identifier": "ann"}))
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		_, pending := ts.resets.Lookup("ann@example.com")
		assert.False(t, pending)

		ts.mail.setErr(nil)
		rr = performRequest(ts.router, http.MethodPost, "/api/auth/forgot-password", marshalJSONBody(t, gin.H{"identifier": "ann"}))
		assert.Equal(t, http.StatusOK, rr.Code, "Issuance can be retried after a failed send")
	})

	t.Run("verify without pending reset", func(t *testing.T) {
		ts := setupTestServer(t)
		rr := performRequest(ts.router, http.MethodPost, "/api/auth/verify-code", marshalJSONBody(t, gin.H{
			"email": "ann@example.com", "code": "123456",
		}))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

// --- User Endpoint Tests ---

func TestUserEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	router := ts.router
	signup(t, router, "ann@example.com", "ann", "secret1")
	signup(t, router, "bob@example.com", "bob", "secret2")

	t.Run("List", func(t *testing.T) {
		_, err := ts.db.AppendPhoto(context.Background(), "bob@example.com", db.NewPhoto{ImageData: "data:x"})
		require.NoError(t, err)

		rr := performRequest(router, http.MethodGet, "/api/users", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		users := decode[[]models.AccountSummary](t, rr)
		require.Len(t, users, 2)

		counts := map[string]int{}
		for _, u := range users {
			counts[u.ID] = u.PhotoCount
		}
		assert.Equal(t, map[string]int{"ann@example.com": 0, "bob@example.com": 1}, counts)
	})

	t.Run("Get With Encoded Key", func(t *testing.T) {
		rr := performRequest(router, http.MethodGet, "/api/users/ann%40example.com", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		view := decode[models.AccountView](t, rr)
		assert.Equal(t, "ann@example.com", view.ID)
		assert.NotContains(t, rr.Body.String(), "password")

		rr = performRequest(router, http.MethodGet, "/api/users/ghost%40example.com", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "User not found.", errorMessage(t, rr))
	})

	t.Run("Patch", func(t *testing.T) {
		path := "/api/users/ann%40example.com"

		rr := performRequest(router, http.MethodPatch, path, strings.NewReader(`{"name":"Ann B","profilePhoto":"data:image/png;base64,AAAA"}`))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		view := decode[models.AccountView](t, rr)
		assert.Equal(t, "Ann B", view.Name)
		require.NotNil(t, view.ProfilePhoto)
		assert.Equal(t, "ann", view.Username, "Absent fields are unchanged")

		rr = performRequest(router, http.MethodPatch, path, strings.NewReader(`{"name":"Ann C"}`))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotNil(t, decode[models.AccountView](t, rr).ProfilePhoto, "An absent profilePhoto is kept")

		rr = performRequest(router, http.MethodPatch, path, strings.NewReader(`{"profilePhoto":null}`))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, decode[models.AccountView](t, rr).ProfilePhoto, "An explicit null clears the photo")

		rr = performRequest(router, http.MethodPatch, path, strings.NewReader(`{"username":"BOB"}`))
		assert.Equal(t, http.StatusConflict, rr.Code)

		rr = performRequest(router, http.MethodPatch, path, strings.NewReader(`{"username":"Ann"}`))
		assert.Equal(t, http.StatusOK, rr.Code, "An account may keep its own username in another case")

		for _, body := range []string{`{"username":"no spaces"}`, `{"name":null}`, `{"name":5}`, `[1,2]`, `not json`} {
			rr = performRequest(router, http.MethodPatch, path, strings.NewReader(body))
			assert.Equal(t, http.StatusBadRequest, rr.Code, "body %s", body)
		}

		rr = performRequest(router, http.MethodPatch, "/api/users/ghost%40example.com", strings.NewReader(`{"name":"x"}`))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rr := performRequest(router, http.MethodDelete, "/api/users/bob%40example.com", marshalJSONBody(t, gin.H{"password": "wrong1"}))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = performRequest(router, http.MethodDelete, "/api/users/bob%40example.com", marshalJSONBody(t, gin.H{}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = performRequest(router, http.MethodDelete, "/api/users/bob%40example.com", marshalJSONBody(t, gin.H{"password": "secret2"}))
		require.Equal(t, http.StatusOK, rr.Code)

		snap := ts.db.Snapshot()
		assert.NotContains(t, snap.Users, "bob@example.com")
		assert.NotContains(t, snap.Photos, "bob@example.com", "The box goes with the account")

		rr = performRequest(router, http.MethodDelete, "/api/users/bob%40example.com", marshalJSONBody(t, gin.H{"password": "secret2"}))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

// --- Photo Endpoint Tests ---

func TestPhotoEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	router := ts.router
	signup(t, router, "ann@example.com", "ann", "secret1")
	base := "/api/photos/ann%40example.com"

	var photoID string
	t.Run("Add", func(t *testing.T) {
		rr := performRequest(router, http.MethodPost, base, marshalJSONBody(t, gin.H{
			"imageData": "data:image/png;base64,AAAA",
			"caption":   "beach",
			"angle":     12.5,
			"radius":    0.4,
			"group":     "summer",
		}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		photo := decode[models.Photo](t, rr)
		assert.NotEmpty(t, photo.ID)
		assert.Equal(t, "beach", photo.Caption)
		assert.Equal(t, 12.5, photo.Angle)
		require.NotNil(t, photo.Group)
		assert.Equal(t, "summer", *photo.Group)
		photoID = photo.ID

		rr = performRequest(router, http.MethodPost, base, marshalJSONBody(t, gin.H{"imageData": "data:b", "group": ""}))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"group":null`)
		assert.Contains(t, rr.Body.String(), `"caption":""`)

		rr = performRequest(router, http.MethodPost, base, marshalJSONBody(t, gin.H{"caption": "no image"}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("List", func(t *testing.T) {
		rr := performRequest(router, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		photos := decode[[]models.Photo](t, rr)
		require.Len(t, photos, 2)
		assert.Equal(t, photoID, photos[0].ID, "Insertion order is kept")

		rr = performRequest(router, http.MethodGet, "/api/photos/ghost%40example.com", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
	})

	t.Run("Patch", func(t *testing.T) {
		path := base + "/" + photoID

		rr := performRequest(router, http.MethodPatch, path, strings.NewReader(`{"caption":"sunset"}`))
		require.Equal(t, http.StatusOK, rr.Code)
		photo := decode[models.Photo](t, rr)
		assert.Equal(t, "sunset", photo.Caption)
		require.NotNil(t, photo.Group, "An absent group is kept")

		rr = performRequest(router, http.MethodPatch, path, strings.NewReader(`{"group":null}`))
		require.Equal(t, http.StatusOK, rr.Code)
		photo = decode[models.Photo](t, rr)
		assert.Nil(t, photo.Group)
		assert.Equal(t, "sunset", photo.Caption)

		rr = performRequest(router, http.MethodPatch, path, strings.NewReader(`{"caption":null}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = performRequest(router, http.MethodPatch, base+"/404", strings.NewReader(`{"caption":"x"}`))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "Photo not found.", errorMessage(t, rr))
	})

	t.Run("Delete And Clear", func(t *testing.T) {
		rr := performRequest(router, http.MethodDelete, base+"/"+photoID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, ts.db.ListPhotos("ann@example.com"), 1)

		rr = performRequest(router, http.MethodDelete, base+"/"+photoID, nil)
		assert.Equal(t, http.StatusOK, rr.Code, "Removing an unknown photo succeeds")

		rr = performRequest(router, http.MethodDelete, base, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, ts.db.ListPhotos("ann@example.com"))
		_, err := ts.db.GetAccount("ann@example.com")
		assert.NoError(t, err, "Clearing keeps the account")
	})
}

func TestBodyLimit(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) { cfg.MaxBodyBytes = 64 })
	big := strings.Repeat("A", 256)

	rr := performRequest(ts.router, http.MethodPost, "/api/photos/ann%40example.com", marshalJSONBody(t, gin.H{"imageData": big}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, ts.db.ListPhotos("ann@example.com"))
}

func TestStoreUnavailable(t *testing.T) {
	ts := setupTestServer(t)
	signup(t, ts.router, "ann@example.com", "ann", "secret1")
	ts.storage.setFail(true)

	rr := performRequest(ts.router, http.MethodPost, "/api/photos/ann%40example.com", marshalJSONBody(t, gin.H{"imageData": "data:x"}))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Empty(t, ts.db.ListPhotos("ann@example.com"), "A failed save leaves the document unchanged")

	rr = performRequest(ts.router, http.MethodPost, "/api/auth/signup", marshalJSONBody(t, gin.H{
		"email": "bob@example.com", "password": "secret1", "username": "bob",
	}))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	ts.storage.setFail(false)
	rr = performRequest(ts.router, http.MethodPost, "/api/photos/ann%40example.com", marshalJSONBody(t, gin.H{"imageData": "data:x"}))
	assert.Equal(t, http.StatusOK, rr.Code)
}

// --- Operational Routes ---

func TestOperationalRoutes(t *testing.T) {
	ts := setupTestServer(t)

	rr := performRequest(ts.router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = performRequest(ts.router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = performRequest(ts.router, http.MethodGet, "/docs/swagger.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"/api/auth/forgot-password"`)

	rr = performRequest(ts.router, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Route not found.", errorMessage(t, rr))

	rr = performRequest(ts.router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "No static directory configured")

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login.html"), []byte("<h1>login</h1>"), 0o644))
	ts := setupTestServer(t, func(cfg *config.Config) { cfg.StaticDir = dir })

	rr := performRequest(ts.router, http.MethodGet, "/login.html", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "login")

	rr = performRequest(ts.router, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{db.ErrInvalidUsername, http.StatusBadRequest},
		{fmt.Errorf("%w: too short", db.ErrInvalidInput), http.StatusBadRequest},
		{db.ErrDuplicateEmail, http.StatusConflict},
		{db.ErrDuplicateUsername, http.StatusConflict},
		{fmt.Errorf("account 'x': %w", db.ErrNotFound), http.StatusNotFound},
		{db.ErrBadPassword, http.StatusUnauthorized},
		{reset.ErrNoEntry, http.StatusNotFound},
		{reset.ErrExpired, http.StatusGone},
		{reset.ErrMismatch, http.StatusBadRequest},
		{reset.ErrNotVerified, http.StatusForbidden},
		{fmt.Errorf("%w: save: boom", db.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: smtp: boom", mailer.ErrSendFailure), http.StatusBadGateway},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, message := statusFor(tc.err)
		assert.Equal(t, tc.status, status, "error %v", tc.err)
		assert.NotEmpty(t, message)
	}
}
