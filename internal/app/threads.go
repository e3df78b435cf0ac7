package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pwardo/nextjs-threads/internal/rbac"
	"github.com/pwardo/nextjs-threads/internal/store"
	"golang.org/x/sync/errgroup"
)

type ThreadPage struct {
	Threads []*store.Thread `json:"threads"`
	IsNext  bool            `json:"isNext"`
}

type CreateThreadInput struct {
	Text        string `json:"text"`
	AuthorID    string `json:"-"`
	CommunityID string `json:"communityId"`
	Path        string `json:"path"`
}

type DeleteThreadInput struct {
	ID      string
	ActorID string
	Path    string
}

// FetchThreads returns one page of top-level threads, newest first, with
// authors, communities and direct replies resolved.
func (s *Service) FetchThreads(ctx context.Context, page, pageSize int) (ThreadPage, error) {
	size, skip, err := pageWindow(page, pageSize, s.cfg.FeedPageSize)
	if err != nil {
		return ThreadPage{}, err
	}

	var (
		threads []*store.Thread
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		threads, err = s.store.ListTopLevelThreads(gctx, skip, size)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountTopLevelThreads(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return ThreadPage{}, fmt.Errorf("failed to fetch threads: %w", err)
	}
	if err := s.store.PopulateThreads(ctx, threads, 1); err != nil {
		return ThreadPage{}, fmt.Errorf("failed to fetch threads: %w", err)
	}
	if threads == nil {
		threads = []*store.Thread{}
	}
	return ThreadPage{Threads: threads, IsNext: total > skip+len(threads)}, nil
}

// FetchThreadByID returns nil without an error when the thread does not exist.
func (s *Service) FetchThreadByID(ctx context.Context, id string, depth int) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}
	if err := s.store.PopulateThreads(ctx, []*store.Thread{thread}, depth); err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}
	return thread, nil
}

func (s *Service) AddReply(ctx context.Context, parentID, text, actorID, path string) (*store.Thread, error) {
	text, err := validateThreadText(text)
	if err != nil {
		return nil, err
	}
	reply, err := s.store.CreateReply(ctx, parentID, store.NewThread{Content: text, AuthorID: actorID})
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("thread not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add comment to thread: %w", err)
	}
	s.signal(ctx, path)
	return reply, nil
}

func (s *Service) CreateThread(ctx context.Context, in CreateThreadInput) (*store.Thread, error) {
	text, err := validateThreadText(in.Text)
	if err != nil {
		return nil, err
	}

	var communityID string
	if in.CommunityID != "" {
		community, err := s.store.GetCommunityByExternalID(ctx, in.CommunityID)
		switch {
		case err == nil:
			communityID = community.ID
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}
	}

	thread, err := s.store.CreateThread(ctx, store.NewThread{
		Content:     text,
		AuthorID:    in.AuthorID,
		CommunityID: communityID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	s.signal(ctx, in.Path)
	return thread, nil
}

// DeleteThread removes a thread with all of its replies. An empty ActorID
// skips the ownership check.
func (s *Service) DeleteThread(ctx context.Context, in DeleteThreadInput) (store.DeleteResult, error) {
	if in.ActorID != "" {
		root, err := s.store.GetThread(ctx, in.ID)
		if errors.Is(err, store.ErrNotFound) {
			return store.DeleteResult{}, notFound("thread not found")
		}
		if err != nil {
			return store.DeleteResult{}, fmt.Errorf("failed to delete thread: %w", err)
		}
		if !rbac.Can(in.ActorID, rbac.ActionDeleteThread, rbac.Subject{OwnerID: root.AuthorID}) {
			return store.DeleteResult{}, forbidden("only the author can delete this thread")
		}
	}

	result, err := s.store.DeleteThreadTree(ctx, in.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DeleteResult{}, notFound("thread not found")
	}
	if err != nil {
		return store.DeleteResult{}, fmt.Errorf("failed to delete thread: %w", err)
	}
	s.signal(ctx, in.Path)
	return result, nil
}

func (s *Service) GetActivity(ctx context.Context, userID string) ([]*store.Thread, error) {
	replies, err := s.store.ListActivity(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch the user's activity: %w", err)
	}
	if replies == nil {
		replies = []*store.Thread{}
	}
	return replies, nil
}
