package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pwardo/nextjs-threads/internal/auth"
	"github.com/pwardo/nextjs-threads/internal/logging"
	"github.com/pwardo/nextjs-threads/internal/media"
	"github.com/pwardo/nextjs-threads/internal/store"
	"github.com/sirupsen/logrus"
)

type tokenVerifier interface {
	Verify(token string) (string, error)
}

type HTTPServer struct {
	service    *Service
	verifier   tokenVerifier
	corsOrigin string
}

func NewHTTPServer(service *Service, verifier *auth.Verifier, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, verifier: verifier, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Get("/threads", s.handleListThreads)
		r.Post("/threads", s.handleCreateThread)
		r.Get("/threads/{id}", s.handleGetThread)
		r.Delete("/threads/{id}", s.handleDeleteThread)
		r.Post("/threads/{id}/replies", s.handleAddReply)
		r.Get("/activity", s.handleActivity)

		r.Get("/users", s.handleListUsers)
		r.Put("/users/me", s.handleUpdateMe)
		r.Get("/users/{externalId}", s.handleGetUser)
		r.Get("/users/{externalId}/threads", s.handleUserThreads)

		r.Get("/communities", s.handleListCommunities)
		r.Post("/communities", s.handleCreateCommunity)
		r.Get("/communities/{externalId}", s.handleGetCommunity)
		r.Put("/communities/{externalId}", s.handleUpdateCommunity)
		r.Delete("/communities/{externalId}", s.handleDeleteCommunity)
		r.Get("/communities/{externalId}/threads", s.handleCommunityThreads)
		r.Post("/communities/{externalId}/members", s.handleAddMember)
		r.Delete("/communities/{externalId}/members/{userId}", s.handleRemoveMember)

		r.Post("/uploads", s.handleUpload)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListThreads(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := pageParams(w, r)
	if !ok {
		return
	}
	result, err := s.service.FetchThreads(r.Context(), page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var body CreateThreadInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.AuthorID = actor.ID
	thread, err := s.service.CreateThread(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (s *HTTPServer) handleGetThread(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", s.service.ThreadDepth())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]any{"field": "depth"})
		return
	}
	thread, err := s.service.FetchThreadByID(r.Context(), chi.URLParam(r, "id"), depth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "thread not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *HTTPServer) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	result, err := s.service.DeleteThread(r.Context(), DeleteThreadInput{
		ID:      chi.URLParam(r, "id"),
		ActorID: actor.ID,
		Path:    r.URL.Query().Get("path"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleAddReply(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
		Path string `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	reply, err := s.service.AddReply(r.Context(), chi.URLParam(r, "id"), body.Text, actor.ID, body.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	replies, err := s.service.GetActivity(r.Context(), actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": replies})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	externalID, ok := s.identity(w, r)
	if !ok {
		return
	}
	page, pageSize, ok := pageParams(w, r)
	if !ok {
		return
	}
	result, err := s.service.FetchUsers(r.Context(), UserSearchInput{
		ActorExternalID: externalID,
		Search:          r.URL.Query().Get("q"),
		Page:            page,
		PageSize:        pageSize,
		Sort:            r.URL.Query().Get("sort"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	externalID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var body UpdateUserInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.ExternalID = externalID
	user, err := s.service.UpdateUser(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.FetchUser(r.Context(), chi.URLParam(r, "externalId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUserThreads(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.FetchUserThreads(r.Context(), chi.URLParam(r, "externalId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleListCommunities(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := pageParams(w, r)
	if !ok {
		return
	}
	result, err := s.service.FetchCommunities(r.Context(), CommunitySearchInput{
		Search:   r.URL.Query().Get("q"),
		Page:     page,
		PageSize: pageSize,
		Sort:     r.URL.Query().Get("sort"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateCommunity(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var body CreateCommunityInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.CreatorExternalID = actor.ExternalID
	community, err := s.service.CreateCommunity(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, community)
}

func (s *HTTPServer) handleGetCommunity(w http.ResponseWriter, r *http.Request) {
	community, err := s.service.FetchCommunityDetails(r.Context(), chi.URLParam(r, "externalId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if community == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "community not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, community)
}

func (s *HTTPServer) handleUpdateCommunity(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var body UpdateCommunityInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.ExternalID = chi.URLParam(r, "externalId")
	body.ActorID = actor.ID
	community, err := s.service.UpdateCommunityInfo(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, community)
}

func (s *HTTPServer) handleDeleteCommunity(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	result, err := s.service.DeleteCommunity(r.Context(), chi.URLParam(r, "externalId"), actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCommunityThreads(w http.ResponseWriter, r *http.Request) {
	community, err := s.service.FetchCommunityThreads(r.Context(), chi.URLParam(r, "externalId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if community == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "community not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, community)
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.UserID == "" {
		body.UserID = actor.ExternalID
	}
	err := s.service.AddMemberToCommunity(r.Context(), MembershipInput{
		CommunityExternalID: chi.URLParam(r, "externalId"),
		UserExternalID:      body.UserID,
		ActorID:             actor.ID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	removed, err := s.service.RemoveUserFromCommunity(r.Context(), MembershipInput{
		CommunityExternalID: chi.URLParam(r, "externalId"),
		UserExternalID:      chi.URLParam(r, "userId"),
		ActorID:             actor.ID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file must be at most 4MB", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, media.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
		return
	}
	upload, err := s.service.Upload(r.Context(), header.Filename, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}

// identity returns the external id carried by the bearer token.
func (s *HTTPServer) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	externalID, err := s.verifier.Verify(token)
	if err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return externalID, true
}

// actor resolves the bearer token to an onboarded user.
func (s *HTTPServer) actor(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	externalID, ok := s.identity(w, r)
	if !ok {
		return store.User{}, false
	}
	user, err := s.service.ResolveActor(r.Context(), externalID)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Status == http.StatusForbidden {
			writeError(w, http.StatusForbidden, "ONBOARDING_REQUIRED", domainErr.Message, nil)
			return store.User{}, false
		}
		s.fail(w, r, err)
		return store.User{}, false
	}
	return user, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		logging.Log.WithError(err).
			WithField("request_id", requestID(r.Context())).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]any{"field": "page"})
		return 0, 0, false
	}
	pageSize, err := queryInt(r, "pageSize", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]any{"field": "pageSize"})
		return 0, 0, false
	}
	return page, pageSize, true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return value, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		logging.Log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Conflict", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
