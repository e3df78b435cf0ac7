package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pwardo/nextjs-threads/internal/auth"
	"github.com/pwardo/nextjs-threads/internal/media"
	"github.com/pwardo/nextjs-threads/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestHandler(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	return NewHTTPServer(svc, auth.NewVerifier(testSecret, ""), "http://localhost:3000").Handler(), svc
}

func tokenFor(t *testing.T, externalID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   externalID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func onboard(t *testing.T, handler http.Handler, externalID, username string) string {
	t.Helper()
	token := tokenFor(t, externalID)
	rec := doRequest(t, handler, http.MethodPut, "/api/users/me", token, map[string]any{
		"username": username,
		"name":     "Name " + username,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return token
}

func TestHealthSetsRequestID(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestReadyChecksDatabase(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse[map[string]any](t, rec)
	assert.Equal(t, "ready", body["status"])
}

func TestPreflightAndUnknownRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodOptions, "/api/threads", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doRequest(t, handler, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeResponse[map[string]any](t, rec)["code"])
}

func TestAuthFailures(t *testing.T) {
	handler, _ := newTestHandler(t)
	body := map[string]any{"text": "hello world"}

	rec := doRequest(t, handler, http.MethodPost, "/api/threads", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/threads", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/threads", tokenFor(t, "user_new"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ONBOARDING_REQUIRED", decodeResponse[map[string]any](t, rec)["code"])
}

func TestThreadRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)
	alice := onboard(t, handler, "user_alice", "alice")
	bob := onboard(t, handler, "user_bob", "bob")

	rec := doRequest(t, handler, http.MethodPost, "/api/threads", alice, map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/threads", alice, map[string]any{"text": "hello world", "path": "/"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	thread := decodeResponse[store.Thread](t, rec)
	assert.Equal(t, "hello world", thread.Content)

	rec = doRequest(t, handler, http.MethodPost, "/api/threads/"+thread.ID+"/replies", bob, map[string]any{"text": "hello alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, handler, http.MethodGet, "/api/threads?page=1&pageSize=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decodeResponse[ThreadPage](t, rec)
	require.Len(t, feed.Threads, 1)
	assert.Len(t, feed.Threads[0].Children, 1)
	assert.False(t, feed.IsNext)

	rec = doRequest(t, handler, http.MethodGet, "/api/threads?page=two", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/threads?page=2&pageSize=500", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeResponse[map[string]any](t, rec)["code"])

	rec = doRequest(t, handler, http.MethodGet, "/api/threads/"+thread.ID+"?depth=abc", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/threads/"+thread.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResponse[store.Thread](t, rec).Children, 1)

	rec = doRequest(t, handler, http.MethodGet, "/api/activity", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activity := decodeResponse[map[string][]store.Thread](t, rec)
	assert.Len(t, activity["activity"], 1)

	rec = doRequest(t, handler, http.MethodDelete, "/api/threads/"+thread.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/api/threads/"+thread.ID+"?path=/", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeResponse[store.DeleteResult](t, rec).DeletedIDs, 2)

	rec = doRequest(t, handler, http.MethodGet, "/api/threads/"+thread.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserAndCommunityRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)
	alice := onboard(t, handler, "user_alice", "alice")
	bob := onboard(t, handler, "user_bob", "bob")

	rec := doRequest(t, handler, http.MethodPut, "/api/users/me", bob, map[string]any{"username": "alice", "name": "Bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "USERNAME_TAKEN", decodeResponse[map[string]any](t, rec)["code"])

	rec = doRequest(t, handler, http.MethodGet, "/api/users?q=bo", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeResponse[UserPage](t, rec)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "user_bob", users.Users[0].ExternalID)

	rec = doRequest(t, handler, http.MethodGet, "/api/users/user_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/communities", alice, map[string]any{"id": "org_go", "name": "Gophers", "username": "gophers"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, handler, http.MethodPost, "/api/communities/org_go/members", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, handler, http.MethodGet, "/api/communities/org_go", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResponse[store.Community](t, rec).Members, 2)

	rec = doRequest(t, handler, http.MethodDelete, "/api/communities/org_go/members/user_bob", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/api/communities/org_go", bob, map[string]any{"name": "Mine", "username": "mine"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/communities?q=goph", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResponse[CommunityPage](t, rec).Communities, 1)

	rec = doRequest(t, handler, http.MethodDelete, "/api/communities/org_go", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/communities/org_go/threads", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartImage(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestUploadRoute(t *testing.T) {
	handler, svc := newTestHandler(t)
	token := tokenFor(t, "user_new")

	post := func() *httptest.ResponseRecorder {
		body, contentType := multipartImage(t, "avatar.png", []byte("fake image"))
		req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UPLOADS_DISABLED", decodeResponse[map[string]any](t, rec)["code"])

	var received string
	svc.uploads = fakeUploader{upload: func(_ context.Context, filename string, data []byte) (media.Upload, error) {
		received = filename + ":" + string(data)
		return media.Upload{URL: "http://cdn/" + filename}, nil
	}}
	rec = post()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "avatar.png:fake image", received)
	assert.True(t, strings.HasSuffix(decodeResponse[media.Upload](t, rec).URL, "avatar.png"))
}
