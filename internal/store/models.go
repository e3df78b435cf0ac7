package store

import "time"

type User struct {
	ID          string         `json:"id"`
	ExternalID  string         `json:"externalId"`
	Name        string         `json:"name"`
	Username    string         `json:"username"`
	Image       string         `json:"image"`
	Bio         string         `json:"bio"`
	Onboarded   bool           `json:"onboarded"`
	Communities []CommunityRef `json:"communities,omitempty"`
	Threads     []*Thread      `json:"threads,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// UserRef is the projection of a user embedded in other entities.
type UserRef struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Image      string `json:"image"`
}

func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, ExternalID: u.ExternalID, Name: u.Name, Username: u.Username, Image: u.Image}
}

type Community struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`
	Image      string    `json:"image"`
	Bio        string    `json:"bio"`
	CreatedBy  string    `json:"createdBy"`
	Creator    *UserRef  `json:"creator,omitempty"`
	Members    []UserRef `json:"members,omitempty"`
	Threads    []*Thread `json:"threads,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type CommunityRef struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Image      string `json:"image"`
}

func (c Community) Ref() CommunityRef {
	return CommunityRef{ID: c.ID, ExternalID: c.ExternalID, Name: c.Name, Image: c.Image}
}

// Thread is a post or, when ParentID is set, a reply. ChildIDs is always
// loaded; Children only down to the requested depth.
type Thread struct {
	ID          string        `json:"id"`
	Content     string        `json:"text"`
	AuthorID    string        `json:"authorId"`
	Author      *UserRef      `json:"author,omitempty"`
	CommunityID *string       `json:"communityId"`
	Community   *CommunityRef `json:"community"`
	ParentID    *string       `json:"parentId"`
	ChildIDs    []string      `json:"childIds"`
	Children    []*Thread     `json:"children,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

type NewThread struct {
	Content     string
	AuthorID    string
	CommunityID string
}

type UserUpsert struct {
	ExternalID string
	Name       string
	Username   string
	Image      string
	Bio        string
}

type NewCommunity struct {
	ExternalID string
	Name       string
	Username   string
	Image      string
	Bio        string
	CreatedBy  string
}

type CommunityUpdate struct {
	Name     string
	Username string
	Image    string
}

type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// UserQuery filters the user directory. Search matches name or username,
// case-insensitively; an empty Search matches everyone.
type UserQuery struct {
	ExcludeExternalID string
	Search            string
	Offset            int
	Limit             int
	Sort              SortOrder
}

type CommunityQuery struct {
	Search string
	Offset int
	Limit  int
	Sort   SortOrder
}

// DeleteResult reports what a cascading delete touched.
type DeleteResult struct {
	DeletedIDs   []string `json:"deletedIds"`
	AuthorIDs    []string `json:"authorIds"`
	CommunityIDs []string `json:"communityIds"`
}
