package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pwardo/nextjs-threads/internal/util"
)

const userColumns = `id, external_id, name, username, image, bio, onboarded, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.ExternalID, &user.Name, &user.Username, &user.Image, &user.Bio, &user.Onboarded, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// UpsertUser creates or updates the user keyed on its external id and marks
// it onboarded. Usernames are stored lowercased.
func (s *SQLStore) UpsertUser(ctx context.Context, in UserUpsert) (User, error) {
	now := s.now()
	_, err := s.c.exec(ctx, `
		INSERT INTO users (id, external_id, name, name_lower, username, image, bio, onboarded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
		ON CONFLICT (external_id) DO UPDATE
		SET name=excluded.name, name_lower=excluded.name_lower, username=excluded.username, image=excluded.image, bio=excluded.bio, onboarded=TRUE, updated_at=excluded.updated_at
	`, util.NewID("usr"), in.ExternalID, in.Name, strings.ToLower(in.Name), strings.ToLower(strings.TrimSpace(in.Username)), in.Image, in.Bio, now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("upsert user: username %q: %w", in.Username, ErrConflict)
		}
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserByExternalID(ctx, in.ExternalID)
}

func (s *SQLStore) GetUserByExternalID(ctx context.Context, externalID string) (User, error) {
	user, err := scanUser(s.c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id=$1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUsersByIDs returns the users that exist among ids, in no particular order.
func (s *SQLStore) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	items := make([]User, 0, len(ids))
	for _, chunk := range chunks(ids, maxInParams) {
		rows, err := s.c.query(ctx, `SELECT `+userColumns+` FROM users WHERE id IN (`+inList(1, len(chunk))+`)`, toArgs(nil, chunk)...)
		if err != nil {
			return nil, fmt.Errorf("list users by id: %w", err)
		}
		batch, err := collectUsers(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

// ListUsers returns one page of the user directory.
func (s *SQLStore) ListUsers(ctx context.Context, q UserQuery) ([]User, error) {
	where, args := userFilter(q)
	n := len(args)
	args = append(args, q.Limit, q.Offset)
	rows, err := s.c.query(ctx, fmt.Sprintf(`SELECT %s FROM users%s ORDER BY %s LIMIT $%d OFFSET $%d`, userColumns, where, orderBy(q.Sort), n+1, n+2), args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectUsers(rows)
}

// CountUsers counts every user ListUsers could page through for q.
func (s *SQLStore) CountUsers(ctx context.Context, q UserQuery) (int, error) {
	where, args := userFilter(q)
	var count int
	if err := s.c.queryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// ListAllUsers is used to rebuild the search index.
func (s *SQLStore) ListAllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.c.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all users: %w", err)
	}
	return collectUsers(rows)
}

// ListUserCommunities returns the communities the user is a member of.
func (s *SQLStore) ListUserCommunities(ctx context.Context, userID string) ([]CommunityRef, error) {
	rows, err := s.c.query(ctx, `
		SELECT c.id, c.external_id, c.name, c.image
		FROM community_members m
		JOIN communities c ON c.id = m.community_id
		WHERE m.user_id = $1
		ORDER BY m.joined_at ASC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user communities: %w", err)
	}
	defer rows.Close()

	items := make([]CommunityRef, 0)
	for rows.Next() {
		var item CommunityRef
		if err := rows.Scan(&item.ID, &item.ExternalID, &item.Name, &item.Image); err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communities: %w", err)
	}
	return items, nil
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	defer rows.Close()
	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func userFilter(q UserQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.ExcludeExternalID != "" {
		args = append(args, q.ExcludeExternalID)
		clauses = append(clauses, fmt.Sprintf("external_id <> $%d", len(args)))
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		args = append(args, likePattern(search))
		clauses = append(clauses, nameOrUsernameLike(len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// nameOrUsernameLike matches against name_lower and username, both lowered
// with strings.ToLower on write so non-ASCII letters fold on every dialect.
func nameOrUsernameLike(param int) string {
	return fmt.Sprintf(`(name_lower LIKE $%d ESCAPE '\' OR username LIKE $%d ESCAPE '\')`, param, param)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a case-insensitive substring pattern with the LIKE
// wildcards in search matched literally.
func likePattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

// Matches reports whether user belongs to the result set of q, ignoring
// paging. It agrees with the WHERE clause ListUsers and CountUsers build.
func (q UserQuery) Matches(user User) bool {
	if q.ExcludeExternalID != "" && user.ExternalID == q.ExcludeExternalID {
		return false
	}
	return containsFolded(q.Search, user.Name, user.Username)
}

// Matches reports whether community belongs to the result set of q.
func (q CommunityQuery) Matches(community Community) bool {
	return containsFolded(q.Search, community.Name, community.Username)
}

func containsFolded(search string, fields ...string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}
