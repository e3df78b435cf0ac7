// Package rbac decides which destructive operations an actor may perform.
// Threads and communities are owned by their author and creator; nobody else
// may remove or reshape them.
package rbac

type Action string

const (
	ActionDeleteThread    Action = "thread:delete"
	ActionUpdateCommunity Action = "community:update"
	ActionDeleteCommunity Action = "community:delete"
	ActionAddMember       Action = "community:add-member"
	ActionRemoveMember    Action = "community:remove-member"
)

// Subject describes the target of an action in terms of user ids.
type Subject struct {
	// OwnerID is the thread author or the community creator.
	OwnerID string
	// MemberID is the user being added to or removed from a community.
	MemberID string
}

func Can(actorID string, action Action, subject Subject) bool {
	if actorID == "" {
		return false
	}
	switch action {
	case ActionDeleteThread, ActionUpdateCommunity, ActionDeleteCommunity:
		return actorID == subject.OwnerID
	case ActionAddMember, ActionRemoveMember:
		return actorID == subject.OwnerID || actorID == subject.MemberID
	default:
		return false
	}
}
