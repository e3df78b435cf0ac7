package rbac

import "testing"

func TestCan(t *testing.T) {
	owned := Subject{OwnerID: "usr_owner"}
	membership := Subject{OwnerID: "usr_owner", MemberID: "usr_member"}

	cases := []struct {
		name    string
		actor   string
		action  Action
		subject Subject
		allow   bool
	}{
		{name: "author deletes thread", actor: "usr_owner", action: ActionDeleteThread, subject: owned, allow: true},
		{name: "stranger deletes thread", actor: "usr_other", action: ActionDeleteThread, subject: owned, allow: false},
		{name: "anonymous deletes thread", actor: "", action: ActionDeleteThread, subject: Subject{}, allow: false},
		{name: "creator updates community", actor: "usr_owner", action: ActionUpdateCommunity, subject: owned, allow: true},
		{name: "member deletes community", actor: "usr_member", action: ActionDeleteCommunity, subject: membership, allow: false},
		{name: "creator adds member", actor: "usr_owner", action: ActionAddMember, subject: membership, allow: true},
		{name: "member joins", actor: "usr_member", action: ActionAddMember, subject: membership, allow: true},
		{name: "member leaves", actor: "usr_member", action: ActionRemoveMember, subject: membership, allow: true},
		{name: "stranger removes member", actor: "usr_other", action: ActionRemoveMember, subject: membership, allow: false},
		{name: "unknown action", actor: "usr_owner", action: Action("thread:pin"), subject: owned, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.actor, tc.action, tc.subject); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.actor, tc.action, got, tc.allow)
			}
		})
	}
}
