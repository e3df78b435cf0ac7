package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pwardo/nextjs-threads/internal/util"
)

const communityColumns = `id, external_id, name, username, image, bio, created_by, created_at, updated_at`

func scanCommunity(row rowScanner) (Community, error) {
	var item Community
	err := row.Scan(&item.ID, &item.ExternalID, &item.Name, &item.Username, &item.Image, &item.Bio, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// CreateCommunity inserts the community and its creator's membership together.
func (s *SQLStore) CreateCommunity(ctx context.Context, in NewCommunity) (Community, error) {
	now := s.now()
	item := Community{
		ID:         util.NewID("com"),
		ExternalID: in.ExternalID,
		Name:       in.Name,
		Username:   strings.ToLower(strings.TrimSpace(in.Username)),
		Image:      in.Image,
		Bio:        in.Bio,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withTx(ctx, func(tx conn) error {
		if _, err := tx.exec(ctx, `
			INSERT INTO communities (id, external_id, name, name_lower, username, image, bio, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		`, item.ID, item.ExternalID, item.Name, strings.ToLower(item.Name), item.Username, item.Image, item.Bio, item.CreatedBy, now); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert community %q: %w", item.ExternalID, ErrConflict)
			}
			return fmt.Errorf("insert community: %w", err)
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO community_members (community_id, user_id, joined_at)
			VALUES ($1, $2, $3)
		`, item.ID, item.CreatedBy, now); err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return Community{}, err
	}
	return item, nil
}

func (s *SQLStore) GetCommunityByExternalID(ctx context.Context, externalID string) (Community, error) {
	item, err := scanCommunity(s.c.queryRow(ctx, `SELECT `+communityColumns+` FROM communities WHERE external_id=$1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return Community{}, ErrNotFound
	}
	if err != nil {
		return Community{}, fmt.Errorf("get community: %w", err)
	}
	return item, nil
}

func (s *SQLStore) GetCommunitiesByIDs(ctx context.Context, ids []string) ([]Community, error) {
	items := make([]Community, 0, len(ids))
	for _, chunk := range chunks(ids, maxInParams) {
		rows, err := s.c.query(ctx, `SELECT `+communityColumns+` FROM communities WHERE id IN (`+inList(1, len(chunk))+`)`, toArgs(nil, chunk)...)
		if err != nil {
			return nil, fmt.Errorf("list communities by id: %w", err)
		}
		batch, err := collectCommunities(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

func (s *SQLStore) ListCommunities(ctx context.Context, q CommunityQuery) ([]Community, error) {
	where, args := communityFilter(q)
	n := len(args)
	args = append(args, q.Limit, q.Offset)
	rows, err := s.c.query(ctx, fmt.Sprintf(`SELECT %s FROM communities%s ORDER BY %s LIMIT $%d OFFSET $%d`, communityColumns, where, orderBy(q.Sort), n+1, n+2), args...)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	return collectCommunities(rows)
}

func (s *SQLStore) CountCommunities(ctx context.Context, q CommunityQuery) (int, error) {
	where, args := communityFilter(q)
	var count int
	if err := s.c.queryRow(ctx, `SELECT COUNT(*) FROM communities`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count communities: %w", err)
	}
	return count, nil
}

func (s *SQLStore) ListAllCommunities(ctx context.Context) ([]Community, error) {
	rows, err := s.c.query(ctx, `SELECT `+communityColumns+` FROM communities ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all communities: %w", err)
	}
	return collectCommunities(rows)
}

// ListCommunityMembers returns member refs keyed by community id, in join order.
func (s *SQLStore) ListCommunityMembers(ctx context.Context, communityIDs []string) (map[string][]UserRef, error) {
	members := make(map[string][]UserRef, len(communityIDs))
	for _, chunk := range chunks(communityIDs, maxInParams) {
		rows, err := s.c.query(ctx, `
			SELECT m.community_id, u.id, u.external_id, u.name, u.username, u.image
			FROM community_members m
			JOIN users u ON u.id = m.user_id
			WHERE m.community_id IN (`+inList(1, len(chunk))+`)
			ORDER BY m.joined_at ASC, u.id ASC
		`, toArgs(nil, chunk)...)
		if err != nil {
			return nil, fmt.Errorf("list community members: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var communityID string
				var ref UserRef
				if err := rows.Scan(&communityID, &ref.ID, &ref.ExternalID, &ref.Name, &ref.Username, &ref.Image); err != nil {
					return fmt.Errorf("scan community member: %w", err)
				}
				members[communityID] = append(members[communityID], ref)
			}
			if err := rows.Err(); err != nil {
				return fmt.Errorf("iterate community members: %w", err)
			}
			return nil
		}()
		if err != nil {
			return nil, err
		}
	}
	return members, nil
}

// AddCommunityMember is idempotent.
func (s *SQLStore) AddCommunityMember(ctx context.Context, communityID, userID string) error {
	_, err := s.c.exec(ctx, `
		INSERT INTO community_members (community_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (community_id, user_id) DO NOTHING
	`, communityID, userID, s.now())
	if err != nil {
		return fmt.Errorf("add community member: %w", err)
	}
	return nil
}

// RemoveCommunityMember reports whether a membership was removed.
func (s *SQLStore) RemoveCommunityMember(ctx context.Context, communityID, userID string) (bool, error) {
	result, err := s.c.exec(ctx, `DELETE FROM community_members WHERE community_id=$1 AND user_id=$2`, communityID, userID)
	if err != nil {
		return false, fmt.Errorf("remove community member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove community member rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) UpdateCommunity(ctx context.Context, communityID string, in CommunityUpdate) (Community, error) {
	result, err := s.c.exec(ctx, `
		UPDATE communities
		SET name=$2, name_lower=$3, username=$4, image=$5, updated_at=$6
		WHERE id=$1
	`, communityID, in.Name, strings.ToLower(in.Name), strings.ToLower(strings.TrimSpace(in.Username)), in.Image, s.now())
	if err != nil {
		if isUniqueViolation(err) {
			return Community{}, fmt.Errorf("update community: username %q: %w", in.Username, ErrConflict)
		}
		return Community{}, fmt.Errorf("update community: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Community{}, fmt.Errorf("update community rows: %w", err)
	}
	if affected == 0 {
		return Community{}, ErrNotFound
	}

	item, err := scanCommunity(s.c.queryRow(ctx, `SELECT `+communityColumns+` FROM communities WHERE id=$1`, communityID))
	if err != nil {
		return Community{}, fmt.Errorf("reload community: %w", err)
	}
	return item, nil
}

// DeleteCommunity removes the community, every thread posted in it together
// with all replies beneath those threads, and its memberships.
func (s *SQLStore) DeleteCommunity(ctx context.Context, communityID string) (DeleteResult, error) {
	var result DeleteResult
	err := s.withTx(ctx, func(tx conn) error {
		var exists int
		if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM communities WHERE id=$1`, communityID).Scan(&exists); err != nil {
			return fmt.Errorf("lookup community: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		roots, err := scanNodes(tx.query(ctx, `SELECT id, author_id, community_id FROM threads WHERE community_id=$1`, communityID))
		if err != nil {
			return fmt.Errorf("list community threads: %w", err)
		}
		result, err = deleteTrees(ctx, tx, roots)
		if err != nil {
			return err
		}

		if _, err := tx.exec(ctx, `DELETE FROM community_threads WHERE community_id=$1`, communityID); err != nil {
			return fmt.Errorf("delete community threads: %w", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM community_members WHERE community_id=$1`, communityID); err != nil {
			return fmt.Errorf("delete community members: %w", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM communities WHERE id=$1`, communityID); err != nil {
			return fmt.Errorf("delete community: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

func collectCommunities(rows *sql.Rows) ([]Community, error) {
	defer rows.Close()
	items := make([]Community, 0)
	for rows.Next() {
		item, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communities: %w", err)
	}
	return items, nil
}

func communityFilter(q CommunityQuery) (string, []any) {
	search := strings.TrimSpace(q.Search)
	if search == "" {
		return "", nil
	}
	return " WHERE " + nameOrUsernameLike(1), []any{likePattern(search)}
}
