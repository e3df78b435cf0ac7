package search

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/pwardo/nextjs-threads/internal/logging"
	"github.com/pwardo/nextjs-threads/internal/store"
	"golang.org/x/sync/errgroup"
)

// Directory is the store side of user and community listing.
type Directory interface {
	ListUsers(ctx context.Context, q store.UserQuery) ([]store.User, error)
	CountUsers(ctx context.Context, q store.UserQuery) (int, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]store.User, error)
	ListAllUsers(ctx context.Context) ([]store.User, error)
	ListCommunities(ctx context.Context, q store.CommunityQuery) ([]store.Community, error)
	CountCommunities(ctx context.Context, q store.CommunityQuery) (int, error)
	GetCommunitiesByIDs(ctx context.Context, ids []string) ([]store.Community, error)
	ListAllCommunities(ctx context.Context) ([]store.Community, error)
}

// Service is the facade that answers text searches from the index when it is
// healthy and falls back to SQL otherwise.
type Service struct {
	index Index
	dir   Directory
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, dir Directory) *Service {
	return &Service{index: index, dir: dir}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// maxIndexCandidates bounds how many ids one index lookup may return. It
// matches the default maxTotalHits of a Meilisearch index.
const maxIndexCandidates = 1000

// Users returns one page of users and the total number of matches.
func (s *Service) Users(ctx context.Context, q store.UserQuery) ([]store.User, int, error) {
	if text := strings.TrimSpace(q.Search); text != "" && s.indexReady() {
		if users, total, ok := s.usersFromIndex(ctx, q, text); ok {
			return users, total, nil
		}
	}

	var (
		items []store.User
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.dir.ListUsers(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.dir.CountUsers(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// usersFromIndex treats index hits as candidates. The page is served from
// them only when the hits that pass q.Matches are exactly the SQL result
// set; otherwise ok is false and the caller falls back to SQL.
func (s *Service) usersFromIndex(ctx context.Context, q store.UserQuery, text string) ([]store.User, int, bool) {
	ids, err := s.index.SearchIDs(IdxUsers, Query{
		Text:              text,
		ExcludeExternalID: q.ExcludeExternalID,
		Limit:             maxIndexCandidates,
	})
	if err != nil {
		logging.Log.WithError(err).Warn("search: meilisearch error, falling back to sql")
		return nil, 0, false
	}
	total, err := s.dir.CountUsers(ctx, q)
	if err != nil || total > len(ids) {
		return nil, 0, false
	}
	users, err := s.dir.GetUsersByIDs(ctx, ids)
	if err != nil {
		logging.Log.WithError(err).Warn("search: hydrate users failed, falling back to sql")
		return nil, 0, false
	}
	matched := slices.DeleteFunc(users, func(u store.User) bool { return !q.Matches(u) })
	if len(matched) != total {
		logging.Log.WithField("search", text).Debug("search: index candidates incomplete, falling back to sql")
		return nil, 0, false
	}
	return pageOf(matched, q.Sort, q.Offset, q.Limit, func(u store.User) (time.Time, string) { return u.CreatedAt, u.ID }), total, true
}

// Communities returns one page of communities and the total number of matches.
func (s *Service) Communities(ctx context.Context, q store.CommunityQuery) ([]store.Community, int, error) {
	if text := strings.TrimSpace(q.Search); text != "" && s.indexReady() {
		if communities, total, ok := s.communitiesFromIndex(ctx, q, text); ok {
			return communities, total, nil
		}
	}

	var (
		items []store.Community
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.dir.ListCommunities(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.dir.CountCommunities(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) communitiesFromIndex(ctx context.Context, q store.CommunityQuery, text string) ([]store.Community, int, bool) {
	ids, err := s.index.SearchIDs(IdxCommunities, Query{Text: text, Limit: maxIndexCandidates})
	if err != nil {
		logging.Log.WithError(err).Warn("search: meilisearch error, falling back to sql")
		return nil, 0, false
	}
	total, err := s.dir.CountCommunities(ctx, q)
	if err != nil || total > len(ids) {
		return nil, 0, false
	}
	communities, err := s.dir.GetCommunitiesByIDs(ctx, ids)
	if err != nil {
		logging.Log.WithError(err).Warn("search: hydrate communities failed, falling back to sql")
		return nil, 0, false
	}
	matched := slices.DeleteFunc(communities, func(c store.Community) bool { return !q.Matches(c) })
	if len(matched) != total {
		logging.Log.WithField("search", text).Debug("search: index candidates incomplete, falling back to sql")
		return nil, 0, false
	}
	return pageOf(matched, q.Sort, q.Offset, q.Limit, func(c store.Community) (time.Time, string) { return c.CreatedAt, c.ID }), total, true
}

// IndexUser indexes a user (fire-and-forget to Meilisearch).
func (s *Service) IndexUser(user store.User) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexUsers([]UserRecord{UserRecordFrom(user)}); err != nil {
			logging.Log.WithError(err).WithField("user_id", user.ID).Warn("search: index user")
		}
	}()
}

// IndexCommunity indexes a community (fire-and-forget to Meilisearch).
func (s *Service) IndexCommunity(community store.Community) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexCommunities([]CommunityRecord{CommunityRecordFrom(community)}); err != nil {
			logging.Log.WithError(err).WithField("community_id", community.ID).Warn("search: index community")
		}
	}()
}

// DeleteCommunity removes a community from the search index (fire-and-forget).
func (s *Service) DeleteCommunity(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteCommunity(id); err != nil {
			logging.Log.WithError(err).WithField("community_id", id).Warn("search: delete community")
		}
	}()
}

// ReindexAll pushes every user and community from the store into the index.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.indexReady() {
		return
	}

	users, err := s.dir.ListAllUsers(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("search: reindex load users failed")
		return
	}
	records := make([]UserRecord, 0, len(users))
	for _, user := range users {
		records = append(records, UserRecordFrom(user))
	}
	if err := s.index.IndexUsers(records); err != nil {
		logging.Log.WithError(err).Warn("search: reindex users")
	}

	communities, err := s.dir.ListAllCommunities(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("search: reindex load communities failed")
		return
	}
	communityRecords := make([]CommunityRecord, 0, len(communities))
	for _, community := range communities {
		communityRecords = append(communityRecords, CommunityRecordFrom(community))
	}
	if err := s.index.IndexCommunities(communityRecords); err != nil {
		logging.Log.WithError(err).Warn("search: reindex communities")
	}
}

// pageOf orders items the way the store does, by creation time then id,
// and cuts the offset/limit window.
func pageOf[T any](items []T, sort store.SortOrder, offset, limit int, key func(T) (time.Time, string)) []T {
	slices.SortFunc(items, func(a, b T) int {
		at, aid := key(a)
		bt, bid := key(b)
		c := at.Compare(bt)
		if c == 0 {
			c = strings.Compare(aid, bid)
		}
		if sort != store.SortAsc {
			c = -c
		}
		return c
	})
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
