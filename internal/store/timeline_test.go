package store

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func seq(n int64) *int64 {
	return &n
}

func msg(id string, minute int) Message {
	return Message{ID: id, SpaceID: "sp_1", SenderID: "u_other", Content: id, CreatedAt: at(minute)}
}

func ids(messages []Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func assertOrdered(t *testing.T, messages []Message) {
	t.Helper()
	for i := 1; i < len(messages); i++ {
		a, b := messages[i-1], messages[i]
		if a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID >= b.ID) {
			t.Fatalf("timeline out of order at %d: %v", i, ids(messages))
		}
	}
}

func TestApplyPageOrdersByCreatedAtThenID(t *testing.T) {
	cases := []struct {
		name      string
		first     []Message
		second    []Message
		paginated bool
		want      []string
	}{
		{
			name:  "fresh load sorts",
			first: []Message{msg("m3", 3), msg("m1", 1), msg("m2", 2)},
			want:  []string{"m1", "m2", "m3"},
		},
		{
			name:  "ties break on id",
			first: []Message{msg("b", 1), msg("a", 1), msg("c", 0)},
			want:  []string{"c", "a", "b"},
		},
		{
			name:      "older page merges in order",
			first:     []Message{msg("m5", 5), msg("m6", 6)},
			second:    []Message{msg("m2", 2), msg("m1", 1)},
			paginated: true,
			want:      []string{"m1", "m2", "m5", "m6"},
		},
		{
			name:      "duplicates dropped",
			first:     []Message{msg("m5", 5), msg("m6", 6)},
			second:    []Message{msg("m4", 4), msg("m5", 5)},
			paginated: true,
			want:      []string{"m4", "m5", "m6"},
		},
		{
			name:   "fresh load replaces",
			first:  []Message{msg("m5", 5), msg("m6", 6)},
			second: []Message{msg("m7", 7)},
			want:   []string{"m7"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New("u_me")
			s.ApplyPage("sp_1", Page{Messages: tc.first}, false)
			if tc.second != nil {
				s.ApplyPage("sp_1", Page{Messages: tc.second}, tc.paginated)
			}
			got := s.Timeline("sp_1").Messages
			assertOrdered(t, got)
			if len(got) != len(tc.want) {
				t.Fatalf("ids = %v, want %v", ids(got), tc.want)
			}
			for i := range got {
				if got[i].ID != tc.want[i] {
					t.Fatalf("ids = %v, want %v", ids(got), tc.want)
				}
			}
		})
	}
}

func TestApplyPagePrependsOlderPage(t *testing.T) {
	s := New("u_me")
	s.ApplyPage("sp_1", Page{Messages: []Message{msg("a", 0), msg("b", 3), msg("c", 5)}, HasMore: true}, false)

	res := s.ApplyPage("sp_1", Page{Messages: []Message{msg("x", -10), msg("y", -5)}, HasMore: false}, true)
	if res.Direction != MergePrepend {
		t.Fatalf("direction = %q, want %q", res.Direction, MergePrepend)
	}
	if res.Added != 2 {
		t.Fatalf("added = %d, want 2", res.Added)
	}
	snap := s.Timeline("sp_1")
	if snap.HasMore {
		t.Fatal("expected hasMore to follow the latest page")
	}
	if got := ids(snap.Messages); got[0] != "x" || got[1] != "y" || got[4] != "c" {
		t.Fatalf("ids = %v", got)
	}
}

func TestApplyPageAppendsNewerPage(t *testing.T) {
	s := New("u_me")
	s.ApplyPage("sp_1", Page{Messages: []Message{msg("a", 0)}}, false)
	res := s.ApplyPage("sp_1", Page{Messages: []Message{msg("b", 1)}}, true)
	if res.Direction != MergeAppend {
		t.Fatalf("direction = %q, want %q", res.Direction, MergeAppend)
	}
}

func TestFetchedMessagesAreDelivered(t *testing.T) {
	s := New("u_me")
	s.ApplyPage("sp_1", Page{Messages: []Message{msg("a", 0)}}, false)
	if !s.Timeline("sp_1").Messages[0].Delivered {
		t.Fatal("fetched message should be delivered")
	}
}

func TestFreshLoadKeepsReadFlag(t *testing.T) {
	s := New("u_me")
	mine := msg("a", 0)
	mine.SenderID = "u_me"
	mine.Seq = seq(1)
	s.ApplyPage("sp_1", Page{Messages: []Message{mine}}, false)
	s.MarkRead("sp_1", seq(1), "u_other")

	s.ApplyPage("sp_1", Page{Messages: []Message{mine}}, false)
	got := s.Timeline("sp_1").Messages[0]
	if !got.Read || !got.Delivered {
		t.Fatalf("flags regressed: delivered=%v read=%v", got.Delivered, got.Read)
	}
}

func TestFreshLoadKeepsProvisionalReadState(t *testing.T) {
	s := New("u_me")
	s.AddProvisional(Message{ClientMessageID: "temp-1", SpaceID: "sp_1", SenderID: "u_me", Content: "hi"}, at(0))
	if n := s.MarkRead("sp_1", nil, "u_other"); n != 1 {
		t.Fatalf("marked = %d, want 1", n)
	}
	s.AddReaction("temp-1", "u_other", "+1")

	s.ApplyPage("sp_1", Page{}, false)
	got := s.Timeline("sp_1").Messages
	if len(got) != 1 || got[0].ID != "temp-1" {
		t.Fatalf("ids = %v, want [temp-1]", ids(got))
	}
	if !got[0].Read || len(got[0].Reactions) != 1 {
		t.Fatalf("provisional lost local state: read=%v reactions=%v", got[0].Read, got[0].Reactions)
	}

	res := s.ApplyMessage(Message{ID: "abc", ClientMessageID: "temp-1", SpaceID: "sp_1", SenderID: "u_me", Content: "hi", Seq: seq(42), CreatedAt: at(0)})
	if !res.Reconciled {
		t.Fatalf("result = %+v, want reconciled", res)
	}
	got = s.Timeline("sp_1").Messages
	if len(got) != 1 || got[0].ID != "abc" || !got[0].Read || !got[0].Delivered {
		t.Fatalf("after echo = %+v", got)
	}
}

func threadReply(id string, minute int) Message {
	m := msg(id, minute)
	m.ParentMessageID = "m1"
	return m
}

func TestApplyThreadPagePrependsOlderPage(t *testing.T) {
	s := New("u_me")
	s.ApplyThreadPage("m1", Page{Messages: []Message{threadReply("r3", 3), threadReply("r4", 4), threadReply("r5", 5)}, HasMore: true}, false)

	oldest, ok := s.OldestReply("m1")
	if !ok || oldest.ID != "r3" {
		t.Fatalf("oldest = %+v ok=%v", oldest, ok)
	}

	res := s.ApplyThreadPage("m1", Page{Messages: []Message{threadReply("r1", 1), threadReply("r2", 2), threadReply("r3", 3)}, HasMore: false}, true)
	if res.Direction != MergePrepend {
		t.Fatalf("direction = %q, want %q", res.Direction, MergePrepend)
	}
	if res.Added != 2 {
		t.Fatalf("added = %d, want 2", res.Added)
	}
	snap := s.Thread("m1")
	if snap.HasMore {
		t.Fatal("expected hasMore to follow the latest page")
	}
	got := ids(snap.Messages)
	want := []string{"r1", "r2", "r3", "r4", "r5"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestThreadPageIsSeparateFromSpace(t *testing.T) {
	s := New("u_me")
	reply := msg("r1", 1)
	reply.ParentMessageID = "m1"
	s.ApplyPage("sp_1", Page{Messages: []Message{msg("m1", 0)}}, false)
	s.ApplyThreadPage("m1", Page{Messages: []Message{reply}}, false)

	if got := ids(s.Thread("m1").Messages); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("thread ids = %v", got)
	}
	if got := ids(s.Timeline("sp_1").Messages); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("space ids = %v", got)
	}
}

func TestTimelineLoadingAndError(t *testing.T) {
	s := New("u_me")
	s.SetTimelineLoading("sp_1")
	if !s.Timeline("sp_1").Loading {
		t.Fatal("expected loading")
	}
	s.SetTimelineError("sp_1", "boom")
	snap := s.Timeline("sp_1")
	if snap.Loading || snap.Error != "boom" {
		t.Fatalf("snapshot = %+v", snap)
	}
	s.ApplyPage("sp_1", Page{}, false)
	if s.Timeline("sp_1").Error != "" {
		t.Fatal("successful load should clear the error")
	}
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	s := New("u_me")
	m := msg("a", 0)
	m.Reactions = []Reaction{{UserID: "u1", Emoji: "+1"}}
	s.ApplyPage("sp_1", Page{Messages: []Message{m}}, false)

	snap := s.Timeline("sp_1")
	snap.Messages[0].Reactions[0].Emoji = "changed"
	snap.Messages[0].Content = "changed"

	again := s.Timeline("sp_1").Messages[0]
	if again.Content != "a" || again.Reactions[0].Emoji != "+1" {
		t.Fatalf("store was mutated through a snapshot: %+v", again)
	}
}
