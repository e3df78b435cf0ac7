package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pwardo/nextjs-threads/internal/config"
	"github.com/pwardo/nextjs-threads/internal/media"
	"github.com/pwardo/nextjs-threads/internal/revalidate"
	"github.com/pwardo/nextjs-threads/internal/search"
	"github.com/pwardo/nextjs-threads/internal/store"
)

type dataStore interface {
	UpsertUser(context.Context, store.UserUpsert) (store.User, error)
	GetUserByExternalID(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUserCommunities(context.Context, string) ([]store.CommunityRef, error)
	CreateCommunity(context.Context, store.NewCommunity) (store.Community, error)
	GetCommunityByExternalID(context.Context, string) (store.Community, error)
	ListCommunityMembers(context.Context, []string) (map[string][]store.UserRef, error)
	AddCommunityMember(context.Context, string, string) error
	RemoveCommunityMember(context.Context, string, string) (bool, error)
	UpdateCommunity(context.Context, string, store.CommunityUpdate) (store.Community, error)
	DeleteCommunity(context.Context, string) (store.DeleteResult, error)
	CreateThread(context.Context, store.NewThread) (*store.Thread, error)
	CreateReply(context.Context, string, store.NewThread) (*store.Thread, error)
	GetThread(context.Context, string) (*store.Thread, error)
	ListTopLevelThreads(context.Context, int, int) ([]*store.Thread, error)
	CountTopLevelThreads(context.Context) (int, error)
	ListThreadsByUser(context.Context, string) ([]*store.Thread, error)
	ListThreadsByCommunity(context.Context, string) ([]*store.Thread, error)
	ListActivity(context.Context, string) ([]*store.Thread, error)
	PopulateThreads(context.Context, []*store.Thread, int) error
	DeleteThreadTree(context.Context, string) (store.DeleteResult, error)
	Ping(context.Context) error
}

type directory interface {
	Users(context.Context, store.UserQuery) ([]store.User, int, error)
	Communities(context.Context, store.CommunityQuery) ([]store.Community, int, error)
	IndexUser(store.User)
	IndexCommunity(store.Community)
	DeleteCommunity(string)
}

type uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (media.Upload, error)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	search     directory
	revalidate revalidate.Publisher
	uploads    uploader
}

// New wires the service. publisher and uploads may be nil.
func New(cfg config.Config, st *store.SQLStore, searchService *search.Service, publisher revalidate.Publisher, uploads *media.Uploader) *Service {
	if searchService == nil {
		searchService = search.NewService(nil, st)
	}
	if publisher == nil {
		publisher = revalidate.Noop{}
	}
	svc := &Service{
		cfg:        cfg,
		store:      st,
		search:     searchService,
		revalidate: publisher,
	}
	if uploads != nil {
		svc.uploads = uploads
	}
	return svc
}

// Ping verifies the database connection is alive
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ThreadDepth is the reply depth used when a caller does not ask for one.
func (s *Service) ThreadDepth() int {
	return s.cfg.ThreadDepth
}

// ResolveActor maps an identity-provider id to the stored user.
func (s *Service) ResolveActor(ctx context.Context, externalID string) (store.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, forbidden("complete onboarding first")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

// Upload stores an image for use as a profile or community picture.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (media.Upload, error) {
	if s.uploads == nil {
		return media.Upload{}, domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "uploads are not configured", nil)
	}
	upload, err := s.uploads.Upload(ctx, filename, data)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return media.Upload{}, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file must be at most 4MB", nil)
	case errors.Is(err, media.ErrUnsupported):
		return media.Upload{}, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "only images can be uploaded", nil)
	case errors.Is(err, media.ErrEmpty):
		return media.Upload{}, validationError("file is required", map[string]any{"field": "file"})
	case err != nil:
		return media.Upload{}, fmt.Errorf("failed to upload file: %w", err)
	}
	return upload, nil
}

func (s *Service) signal(ctx context.Context, path string) {
	if path == "" {
		return
	}
	go s.revalidate.Revalidate(context.WithoutCancel(ctx), path)
}
