package search

import (
	"github.com/pwardo/nextjs-threads/internal/store"
)

// Query describes a directory search.
type Query struct {
	Text              string
	ExcludeExternalID string
	Limit             int
	Offset            int
	Sort              store.SortOrder
}

// Index can search and update the user and community directories.
type Index interface {
	Healthy() bool
	SearchIDs(uid string, q Query) ([]string, error)
	IndexUsers(users []UserRecord) error
	IndexCommunities(communities []CommunityRecord) error
	DeleteCommunity(id string) error
}

// UserRecord is the data we index for a user.
type UserRecord struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Image      string `json:"image"`
	CreatedAt  int64  `json:"createdAt"`
}

// CommunityRecord is the data we index for a community.
type CommunityRecord struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Image      string `json:"image"`
	CreatedAt  int64  `json:"createdAt"`
}

func UserRecordFrom(user store.User) UserRecord {
	return UserRecord{
		ID:         user.ID,
		ExternalID: user.ExternalID,
		Name:       user.Name,
		Username:   user.Username,
		Image:      user.Image,
		CreatedAt:  user.CreatedAt.UnixNano(),
	}
}

func CommunityRecordFrom(community store.Community) CommunityRecord {
	return CommunityRecord{
		ID:         community.ID,
		ExternalID: community.ExternalID,
		Name:       community.Name,
		Username:   community.Username,
		Image:      community.Image,
		CreatedAt:  community.CreatedAt.UnixNano(),
	}
}
