package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pwardo/nextjs-threads/internal/util"
)

func threadColumns(alias string) string {
	cols := []string{"id", "content", "author_id", "community_id", "parent_id", "created_at"}
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func scanThread(row rowScanner) (*Thread, error) {
	var (
		item        Thread
		communityID sql.NullString
		parentID    sql.NullString
	)
	if err := row.Scan(&item.ID, &item.Content, &item.AuthorID, &communityID, &parentID, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.CommunityID = stringPtr(communityID)
	item.ParentID = stringPtr(parentID)
	item.ChildIDs = []string{}
	return &item, nil
}

func collectThreads(rows *sql.Rows) ([]*Thread, error) {
	defer rows.Close()
	items := make([]*Thread, 0)
	for rows.Next() {
		item, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

// CreateThread inserts a top-level thread and records it on the author's
// thread list and, when CommunityID is set, on the community's.
func (s *SQLStore) CreateThread(ctx context.Context, in NewThread) (*Thread, error) {
	item := s.newThread(in, "")
	err := s.withTx(ctx, func(tx conn) error {
		if err := insertThread(ctx, tx, item); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO user_threads (user_id, thread_id, added_at) VALUES ($1, $2, $3)
		`, item.AuthorID, item.ID, item.CreatedAt); err != nil {
			return fmt.Errorf("insert user thread: %w", err)
		}
		if item.CommunityID != nil {
			if _, err := tx.exec(ctx, `
				INSERT INTO community_threads (community_id, thread_id, added_at) VALUES ($1, $2, $3)
			`, *item.CommunityID, item.ID, item.CreatedAt); err != nil {
				return fmt.Errorf("insert community thread: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CreateReply inserts a reply under parentID. It fails with ErrNotFound when
// the parent does not exist.
func (s *SQLStore) CreateReply(ctx context.Context, parentID string, in NewThread) (*Thread, error) {
	item := s.newThread(in, parentID)
	err := s.withTx(ctx, func(tx conn) error {
		var exists int
		if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM threads WHERE id=$1`, parentID).Scan(&exists); err != nil {
			return fmt.Errorf("lookup parent thread: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return insertThread(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SQLStore) newThread(in NewThread, parentID string) *Thread {
	item := &Thread{
		ID:        util.NewID("thr"),
		Content:   in.Content,
		AuthorID:  in.AuthorID,
		ChildIDs:  []string{},
		CreatedAt: s.now(),
	}
	if in.CommunityID != "" {
		communityID := in.CommunityID
		item.CommunityID = &communityID
	}
	if parentID != "" {
		item.ParentID = &parentID
	}
	return item
}

func insertThread(ctx context.Context, tx conn, item *Thread) error {
	var communityID, parentID sql.NullString
	if item.CommunityID != nil {
		communityID = nullString(*item.CommunityID)
	}
	if item.ParentID != nil {
		parentID = nullString(*item.ParentID)
	}
	_, err := tx.exec(ctx, `
		INSERT INTO threads (id, content, author_id, community_id, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Content, item.AuthorID, communityID, parentID, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *SQLStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	item, err := scanThread(s.c.queryRow(ctx, `SELECT `+threadColumns("")+` FROM threads WHERE id=$1`, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return item, nil
}

// ListTopLevelThreads returns one page of threads without a parent, newest first.
func (s *SQLStore) ListTopLevelThreads(ctx context.Context, offset, limit int) ([]*Thread, error) {
	rows, err := s.c.query(ctx, `
		SELECT `+threadColumns("")+`
		FROM threads
		WHERE parent_id IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list top-level threads: %w", err)
	}
	return collectThreads(rows)
}

func (s *SQLStore) CountTopLevelThreads(ctx context.Context) (int, error) {
	var count int
	if err := s.c.queryRow(ctx, `SELECT COUNT(*) FROM threads WHERE parent_id IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count top-level threads: %w", err)
	}
	return count, nil
}

// ListThreadsByUser returns the threads on the user's own thread list, newest first.
func (s *SQLStore) ListThreadsByUser(ctx context.Context, userID string) ([]*Thread, error) {
	rows, err := s.c.query(ctx, `
		SELECT `+threadColumns("t")+`
		FROM user_threads ut
		JOIN threads t ON t.id = ut.thread_id
		WHERE ut.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user threads: %w", err)
	}
	return collectThreads(rows)
}

// ListThreadsByCommunity returns the threads on the community's thread list, newest first.
func (s *SQLStore) ListThreadsByCommunity(ctx context.Context, communityID string) ([]*Thread, error) {
	rows, err := s.c.query(ctx, `
		SELECT `+threadColumns("t")+`
		FROM community_threads ct
		JOIN threads t ON t.id = ct.thread_id
		WHERE ct.community_id = $1
		ORDER BY t.created_at DESC, t.id DESC
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list community threads: %w", err)
	}
	return collectThreads(rows)
}

// ListActivity returns replies to any thread authored by userID that were
// written by someone else, newest first, with authors resolved.
func (s *SQLStore) ListActivity(ctx context.Context, userID string) ([]*Thread, error) {
	rows, err := s.c.query(ctx, `
		SELECT `+threadColumns("c")+`
		FROM threads c
		JOIN threads p ON p.id = c.parent_id
		WHERE p.author_id = $1 AND c.author_id <> $1
		ORDER BY c.created_at DESC, c.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	items, err := collectThreads(rows)
	if err != nil {
		return nil, err
	}
	if err := s.populateRefs(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// PopulateThreads resolves replies beneath threads one level per query.
// The first depth levels get Children with authors and communities; nodes on
// the last level only get ChildIDs. A negative depth resolves the whole tree.
func (s *SQLStore) PopulateThreads(ctx context.Context, threads []*Thread, depth int) error {
	if len(threads) == 0 {
		return nil
	}

	loaded := slices.Clone(threads)
	frontier := threads
	for level := 0; len(frontier) > 0 && (depth < 0 || level < depth); level++ {
		byID := indexThreads(frontier)
		children, err := s.listChildren(ctx, threadIDs(frontier))
		if err != nil {
			return err
		}
		for _, child := range children {
			parent := byID[*child.ParentID]
			parent.ChildIDs = append(parent.ChildIDs, child.ID)
			parent.Children = append(parent.Children, child)
		}
		loaded = append(loaded, children...)
		frontier = children
	}

	if len(frontier) > 0 {
		byID := indexThreads(frontier)
		edges, err := s.listChildEdges(ctx, threadIDs(frontier))
		if err != nil {
			return err
		}
		for _, edge := range edges {
			parent := byID[edge.parentID]
			parent.ChildIDs = append(parent.ChildIDs, edge.childID)
		}
	}

	return s.populateRefs(ctx, loaded)
}

func (s *SQLStore) listChildren(ctx context.Context, parentIDs []string) ([]*Thread, error) {
	items := make([]*Thread, 0)
	for _, chunk := range chunks(parentIDs, maxInParams) {
		rows, err := s.c.query(ctx, `
			SELECT `+threadColumns("")+`
			FROM threads
			WHERE parent_id IN (`+inList(1, len(chunk))+`)
			ORDER BY created_at ASC, id ASC
		`, toArgs(nil, chunk)...)
		if err != nil {
			return nil, fmt.Errorf("list replies: %w", err)
		}
		batch, err := collectThreads(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

type childEdge struct {
	parentID string
	childID  string
}

func (s *SQLStore) listChildEdges(ctx context.Context, parentIDs []string) ([]childEdge, error) {
	edges := make([]childEdge, 0)
	for _, chunk := range chunks(parentIDs, maxInParams) {
		rows, err := s.c.query(ctx, `
			SELECT parent_id, id
			FROM threads
			WHERE parent_id IN (`+inList(1, len(chunk))+`)
			ORDER BY created_at ASC, id ASC
		`, toArgs(nil, chunk)...)
		if err != nil {
			return nil, fmt.Errorf("list reply ids: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var edge childEdge
				if err := rows.Scan(&edge.parentID, &edge.childID); err != nil {
					return fmt.Errorf("scan reply id: %w", err)
				}
				edges = append(edges, edge)
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, fmt.Errorf("iterate reply ids: %w", err)
		}
	}
	return edges, nil
}

// populateRefs fills Author and Community on every thread.
func (s *SQLStore) populateRefs(ctx context.Context, threads []*Thread) error {
	var authorIDs, communityIDs []string
	for _, item := range threads {
		authorIDs = append(authorIDs, item.AuthorID)
		if item.CommunityID != nil {
			communityIDs = append(communityIDs, *item.CommunityID)
		}
	}

	authors, err := s.GetUsersByIDs(ctx, distinct(authorIDs))
	if err != nil {
		return fmt.Errorf("resolve authors: %w", err)
	}
	authorByID := make(map[string]UserRef, len(authors))
	for _, author := range authors {
		authorByID[author.ID] = author.Ref()
	}

	communityByID := map[string]CommunityRef{}
	if len(communityIDs) > 0 {
		communities, err := s.GetCommunitiesByIDs(ctx, distinct(communityIDs))
		if err != nil {
			return fmt.Errorf("resolve communities: %w", err)
		}
		for _, community := range communities {
			communityByID[community.ID] = community.Ref()
		}
	}

	for _, item := range threads {
		if ref, ok := authorByID[item.AuthorID]; ok {
			item.Author = &ref
		}
		if item.CommunityID != nil {
			if ref, ok := communityByID[*item.CommunityID]; ok {
				item.Community = &ref
			}
		}
	}
	return nil
}

// DeleteThreadTree deletes rootID and every descendant, and removes the
// deleted ids from all user and community thread lists.
func (s *SQLStore) DeleteThreadTree(ctx context.Context, rootID string) (DeleteResult, error) {
	var result DeleteResult
	err := s.withTx(ctx, func(tx conn) error {
		roots, err := scanNodes(tx.query(ctx, `SELECT id, author_id, community_id FROM threads WHERE id=$1`, rootID))
		if err != nil {
			return fmt.Errorf("lookup thread: %w", err)
		}
		if len(roots) == 0 {
			return ErrNotFound
		}
		result, err = deleteTrees(ctx, tx, roots)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

type threadNode struct {
	id          string
	authorID    string
	communityID sql.NullString
}

func scanNodes(rows *sql.Rows, err error) ([]threadNode, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nodes := make([]threadNode, 0)
	for rows.Next() {
		var node threadNode
		if err := rows.Scan(&node.id, &node.authorID, &node.communityID); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// deleteTrees collects the descendants of roots level by level, then deletes
// the whole set and scrubs it from user_threads and community_threads.
func deleteTrees(ctx context.Context, tx conn, roots []threadNode) (DeleteResult, error) {
	result := DeleteResult{DeletedIDs: []string{}, AuthorIDs: []string{}, CommunityIDs: []string{}}
	if len(roots) == 0 {
		return result, nil
	}

	seen := make(map[string]bool, len(roots))
	all := make([]threadNode, 0, len(roots))
	frontier := make([]string, 0, len(roots))
	for _, root := range roots {
		if seen[root.id] {
			continue
		}
		seen[root.id] = true
		all = append(all, root)
		frontier = append(frontier, root.id)
	}

	for len(frontier) > 0 {
		var next []string
		for _, chunk := range chunks(frontier, maxInParams) {
			children, err := scanNodes(tx.query(ctx, `
				SELECT id, author_id, community_id FROM threads WHERE parent_id IN (`+inList(1, len(chunk))+`)
			`, toArgs(nil, chunk)...))
			if err != nil {
				return DeleteResult{}, fmt.Errorf("collect replies: %w", err)
			}
			for _, child := range children {
				if seen[child.id] {
					continue
				}
				seen[child.id] = true
				all = append(all, child)
				next = append(next, child.id)
			}
		}
		frontier = next
	}

	var authorIDs, communityIDs []string
	for _, node := range all {
		result.DeletedIDs = append(result.DeletedIDs, node.id)
		authorIDs = append(authorIDs, node.authorID)
		if node.communityID.Valid {
			communityIDs = append(communityIDs, node.communityID.String)
		}
	}
	result.AuthorIDs = append(result.AuthorIDs, distinct(authorIDs)...)
	result.CommunityIDs = append(result.CommunityIDs, distinct(communityIDs)...)

	// Deepest levels first so no statement removes a parent before its replies.
	ordered := slices.Clone(result.DeletedIDs)
	slices.Reverse(ordered)
	for _, chunk := range chunks(ordered, maxInParams) {
		in := inList(1, len(chunk))
		args := toArgs(nil, chunk)
		if _, err := tx.exec(ctx, `DELETE FROM user_threads WHERE thread_id IN (`+in+`)`, args...); err != nil {
			return DeleteResult{}, fmt.Errorf("scrub user threads: %w", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM community_threads WHERE thread_id IN (`+in+`)`, args...); err != nil {
			return DeleteResult{}, fmt.Errorf("scrub community threads: %w", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM threads WHERE id IN (`+in+`)`, args...); err != nil {
			return DeleteResult{}, fmt.Errorf("delete threads: %w", err)
		}
	}
	return result, nil
}

func indexThreads(threads []*Thread) map[string]*Thread {
	byID := make(map[string]*Thread, len(threads))
	for _, item := range threads {
		byID[item.ID] = item
	}
	return byID
}

func threadIDs(threads []*Thread) []string {
	ids := make([]string, len(threads))
	for i, item := range threads {
		ids[i] = item.ID
	}
	return ids
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}
