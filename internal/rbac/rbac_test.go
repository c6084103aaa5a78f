package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		level  Level
		action Action
		allow  bool
	}{
		{name: "view read", level: LevelView, action: ActionRead, allow: true},
		{name: "view write", level: LevelView, action: ActionWrite, allow: false},
		{name: "view comment", level: LevelView, action: ActionComment, allow: false},
		{name: "comment read", level: LevelComment, action: ActionRead, allow: true},
		{name: "comment comment", level: LevelComment, action: ActionComment, allow: true},
		{name: "comment write", level: LevelComment, action: ActionWrite, allow: false},
		{name: "edit write", level: LevelEdit, action: ActionWrite, allow: true},
		{name: "unknown read", level: Level("owner"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.level, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.level, tc.action, got, tc.allow)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	grants := []Grant{
		{UserID: "alice", Level: LevelEdit},
		{UserID: "bob", Level: LevelComment},
	}
	cases := []struct {
		name     string
		locked   bool
		def      Level
		userID   string
		expected Level
	}{
		{name: "unlocked default edit ignores grants", locked: false, def: LevelEdit, userID: "bob", expected: LevelEdit},
		{name: "unlocked default edit no grant", locked: false, def: LevelEdit, userID: "carol", expected: LevelEdit},
		{name: "unlocked default view ignores edit grant", locked: false, def: LevelView, userID: "alice", expected: LevelView},
		{name: "locked no grant is view", locked: true, def: LevelEdit, userID: "carol", expected: LevelView},
		{name: "locked grant edit", locked: true, def: LevelView, userID: "alice", expected: LevelEdit},
		{name: "locked grant comment", locked: true, def: LevelEdit, userID: "bob", expected: LevelComment},
		{name: "unlocked unknown default", locked: false, def: Level("root"), userID: "alice", expected: LevelView},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.locked, tc.def, grants, tc.userID); got != tc.expected {
				t.Fatalf("Resolve(%v, %q, _, %q) = %q, want %q", tc.locked, tc.def, tc.userID, got, tc.expected)
			}
		})
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(LevelEdit, LevelComment) {
		t.Fatal("edit should satisfy comment")
	}
	if AtLeast(LevelView, LevelComment) {
		t.Fatal("view should not satisfy comment")
	}
	if !AtLeast(LevelComment, LevelComment) {
		t.Fatal("comment should satisfy comment")
	}
}
