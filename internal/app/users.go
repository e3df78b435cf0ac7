package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pwardo/nextjs-threads/internal/store"
)

const profileEditPath = "/profile/edit"

type UpdateUserInput struct {
	ExternalID string `json:"-"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Bio        string `json:"bio"`
	Image      string `json:"image"`
	Path       string `json:"path"`
}

type UserSearchInput struct {
	ActorExternalID string
	Search          string
	Page            int
	PageSize        int
	Sort            string
}

type UserPage struct {
	Users  []store.User `json:"users"`
	IsNext bool         `json:"isNext"`
}

// UpdateUser creates the user on first call and updates the profile after
// that. Only the profile edit page is revalidated.
func (s *Service) UpdateUser(ctx context.Context, in UpdateUserInput) (store.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	if err := required("externalId", in.ExternalID); err != nil {
		return store.User{}, err
	}
	if err := validateLength("name", in.Name, minNameLength, maxNameLength); err != nil {
		return store.User{}, err
	}
	if err := validateLength("username", in.Username, minNameLength, maxNameLength); err != nil {
		return store.User{}, err
	}
	if err := validateLength("bio", in.Bio, 0, maxBioLength); err != nil {
		return store.User{}, err
	}

	user, err := s.store.UpsertUser(ctx, store.UserUpsert{
		ExternalID: in.ExternalID,
		Name:       in.Name,
		Username:   in.Username,
		Image:      in.Image,
		Bio:        in.Bio,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "username is already taken", map[string]any{"username": in.Username})
	}
	if err != nil {
		return store.User{}, fmt.Errorf("failed to create/update user: %w", err)
	}

	s.search.IndexUser(user)
	if in.Path == profileEditPath {
		s.signal(ctx, in.Path)
	}
	return user, nil
}

// FetchUser returns the user with their communities, or nil when unknown.
func (s *Service) FetchUser(ctx context.Context, externalID string) (*store.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	communities, err := s.store.ListUserCommunities(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	user.Communities = communities
	return &user, nil
}

func (s *Service) FetchUserThreads(ctx context.Context, externalID string) (*store.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user's threads: %w", err)
	}
	threads, err := s.store.ListThreadsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user's threads: %w", err)
	}
	if err := s.store.PopulateThreads(ctx, threads, 1); err != nil {
		return nil, fmt.Errorf("failed to fetch user's threads: %w", err)
	}
	if threads == nil {
		threads = []*store.Thread{}
	}
	user.Threads = threads
	return &user, nil
}

func (s *Service) FetchUsers(ctx context.Context, in UserSearchInput) (UserPage, error) {
	size, skip, err := pageWindow(in.Page, in.PageSize, s.cfg.FeedPageSize)
	if err != nil {
		return UserPage{}, err
	}
	users, total, err := s.search.Users(ctx, store.UserQuery{
		ExcludeExternalID: in.ActorExternalID,
		Search:            in.Search,
		Offset:            skip,
		Limit:             size,
		Sort:              normalizeSort(in.Sort),
	})
	if err != nil {
		return UserPage{}, fmt.Errorf("failed to fetch users: %w", err)
	}
	if users == nil {
		users = []store.User{}
	}
	return UserPage{Users: users, IsNext: total > skip+len(users)}, nil
}
