package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pwardo/nextjs-threads/internal/rbac"
	"github.com/pwardo/nextjs-threads/internal/store"
)

type CreateCommunityInput struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Username          string `json:"username"`
	Image             string `json:"image"`
	Bio               string `json:"bio"`
	CreatorExternalID string `json:"createdById"`
}

type UpdateCommunityInput struct {
	ExternalID string `json:"-"`
	ActorID    string `json:"-"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Image      string `json:"image"`
}

// MembershipInput identifies a community and a user by their external ids.
// ActorID is the internal id of the caller; empty for system callers.
type MembershipInput struct {
	CommunityExternalID string
	UserExternalID      string
	ActorID             string
}

type CommunitySearchInput struct {
	Search   string
	Page     int
	PageSize int
	Sort     string
}

type CommunityPage struct {
	Communities []store.Community `json:"communities"`
	IsNext      bool              `json:"isNext"`
}

func (s *Service) CreateCommunity(ctx context.Context, in CreateCommunityInput) (store.Community, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	if err := required("id", in.ID); err != nil {
		return store.Community{}, err
	}
	if err := validateCommunityNames(in.Name, in.Username); err != nil {
		return store.Community{}, err
	}
	if err := validateLength("bio", in.Bio, 0, maxBioLength); err != nil {
		return store.Community{}, err
	}

	creator, err := s.store.GetUserByExternalID(ctx, in.CreatorExternalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Community{}, notFound("user not found")
	}
	if err != nil {
		return store.Community{}, fmt.Errorf("failed to create community: %w", err)
	}

	community, err := s.store.CreateCommunity(ctx, store.NewCommunity{
		ExternalID: in.ID,
		Name:       in.Name,
		Username:   in.Username,
		Image:      in.Image,
		Bio:        in.Bio,
		CreatedBy:  creator.ID,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.Community{}, domainError(http.StatusConflict, "COMMUNITY_EXISTS", "community id or username is already taken", nil)
	}
	if err != nil {
		return store.Community{}, fmt.Errorf("failed to create community: %w", err)
	}
	s.search.IndexCommunity(community)
	return community, nil
}

// FetchCommunityDetails returns the community with its creator and members,
// or nil when it does not exist.
func (s *Service) FetchCommunityDetails(ctx context.Context, externalID string) (*store.Community, error) {
	community, err := s.store.GetCommunityByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch community details: %w", err)
	}

	creator, err := s.store.GetUserByID(ctx, community.CreatedBy)
	switch {
	case err == nil:
		ref := creator.Ref()
		community.Creator = &ref
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to fetch community details: %w", err)
	}

	members, err := s.store.ListCommunityMembers(ctx, []string{community.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch community details: %w", err)
	}
	community.Members = members[community.ID]
	if community.Members == nil {
		community.Members = []store.UserRef{}
	}
	return &community, nil
}

func (s *Service) FetchCommunityThreads(ctx context.Context, externalID string) (*store.Community, error) {
	community, err := s.store.GetCommunityByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch community threads: %w", err)
	}
	threads, err := s.store.ListThreadsByCommunity(ctx, community.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch community threads: %w", err)
	}
	if err := s.store.PopulateThreads(ctx, threads, 1); err != nil {
		return nil, fmt.Errorf("failed to fetch community threads: %w", err)
	}
	if threads == nil {
		threads = []*store.Thread{}
	}
	community.Threads = threads
	return &community, nil
}

func (s *Service) FetchCommunities(ctx context.Context, in CommunitySearchInput) (CommunityPage, error) {
	size, skip, err := pageWindow(in.Page, in.PageSize, s.cfg.FeedPageSize)
	if err != nil {
		return CommunityPage{}, err
	}
	communities, total, err := s.search.Communities(ctx, store.CommunityQuery{
		Search: in.Search,
		Offset: skip,
		Limit:  size,
		Sort:   normalizeSort(in.Sort),
	})
	if err != nil {
		return CommunityPage{}, fmt.Errorf("failed to fetch communities: %w", err)
	}

	ids := make([]string, 0, len(communities))
	for _, community := range communities {
		ids = append(ids, community.ID)
	}
	members, err := s.store.ListCommunityMembers(ctx, ids)
	if err != nil {
		return CommunityPage{}, fmt.Errorf("failed to fetch communities: %w", err)
	}
	for i := range communities {
		communities[i].Members = members[communities[i].ID]
		if communities[i].Members == nil {
			communities[i].Members = []store.UserRef{}
		}
	}
	if communities == nil {
		communities = []store.Community{}
	}
	return CommunityPage{Communities: communities, IsNext: total > skip+len(communities)}, nil
}

func (s *Service) AddMemberToCommunity(ctx context.Context, in MembershipInput) error {
	community, member, err := s.resolveMembership(ctx, in, rbac.ActionAddMember)
	if err != nil {
		return err
	}
	if err := s.store.AddCommunityMember(ctx, community.ID, member.ID); err != nil {
		return fmt.Errorf("failed to add member to community: %w", err)
	}
	return nil
}

// RemoveUserFromCommunity reports whether a membership was removed.
func (s *Service) RemoveUserFromCommunity(ctx context.Context, in MembershipInput) (bool, error) {
	community, member, err := s.resolveMembership(ctx, in, rbac.ActionRemoveMember)
	if err != nil {
		return false, err
	}
	removed, err := s.store.RemoveCommunityMember(ctx, community.ID, member.ID)
	if err != nil {
		return false, fmt.Errorf("failed to remove user from community: %w", err)
	}
	return removed, nil
}

func (s *Service) resolveMembership(ctx context.Context, in MembershipInput, action rbac.Action) (store.Community, store.User, error) {
	community, err := s.store.GetCommunityByExternalID(ctx, in.CommunityExternalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Community{}, store.User{}, notFound("community not found")
	}
	if err != nil {
		return store.Community{}, store.User{}, fmt.Errorf("failed to resolve community: %w", err)
	}
	member, err := s.store.GetUserByExternalID(ctx, in.UserExternalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Community{}, store.User{}, notFound("user not found")
	}
	if err != nil {
		return store.Community{}, store.User{}, fmt.Errorf("failed to resolve user: %w", err)
	}
	if in.ActorID != "" && !rbac.Can(in.ActorID, action, rbac.Subject{OwnerID: community.CreatedBy, MemberID: member.ID}) {
		return store.Community{}, store.User{}, forbidden("not allowed to change this membership")
	}
	return community, member, nil
}

func (s *Service) UpdateCommunityInfo(ctx context.Context, in UpdateCommunityInput) (store.Community, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateCommunityNames(in.Name, in.Username); err != nil {
		return store.Community{}, err
	}

	community, err := s.authorizeCommunity(ctx, in.ExternalID, in.ActorID, rbac.ActionUpdateCommunity)
	if err != nil {
		return store.Community{}, err
	}
	updated, err := s.store.UpdateCommunity(ctx, community.ID, store.CommunityUpdate{
		Name:     in.Name,
		Username: in.Username,
		Image:    in.Image,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Community{}, notFound("community not found")
	case errors.Is(err, store.ErrConflict):
		return store.Community{}, domainError(http.StatusConflict, "COMMUNITY_EXISTS", "community username is already taken", nil)
	case err != nil:
		return store.Community{}, fmt.Errorf("failed to update community: %w", err)
	}
	s.search.IndexCommunity(updated)
	return updated, nil
}

// DeleteCommunity removes the community, every thread posted in it with all
// replies, and its memberships.
func (s *Service) DeleteCommunity(ctx context.Context, externalID, actorID string) (store.DeleteResult, error) {
	community, err := s.authorizeCommunity(ctx, externalID, actorID, rbac.ActionDeleteCommunity)
	if err != nil {
		return store.DeleteResult{}, err
	}
	result, err := s.store.DeleteCommunity(ctx, community.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DeleteResult{}, notFound("community not found")
	}
	if err != nil {
		return store.DeleteResult{}, fmt.Errorf("failed to delete community: %w", err)
	}
	s.search.DeleteCommunity(community.ID)
	return result, nil
}

func (s *Service) authorizeCommunity(ctx context.Context, externalID, actorID string, action rbac.Action) (store.Community, error) {
	community, err := s.store.GetCommunityByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Community{}, notFound("community not found")
	}
	if err != nil {
		return store.Community{}, fmt.Errorf("failed to resolve community: %w", err)
	}
	if actorID != "" && !rbac.Can(actorID, action, rbac.Subject{OwnerID: community.CreatedBy}) {
		return store.Community{}, forbidden("only the creator can change this community")
	}
	return community, nil
}
