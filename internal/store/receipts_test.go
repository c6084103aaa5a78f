package store

import "testing"

func ownMessages(seqs ...int64) []Message {
	out := make([]Message, 0, len(seqs))
	for i, n := range seqs {
		m := msg("m"+string(rune('a'+i)), i)
		m.SenderID = "u_me"
		m.Seq = seq(n)
		out = append(out, m)
	}
	return out
}

func readSeqs(messages []Message) map[int64]bool {
	out := map[int64]bool{}
	for _, m := range messages {
		out[*m.Seq] = m.Read
	}
	return out
}

func TestMarkRead(t *testing.T) {
	cases := []struct {
		name    string
		upTo    *int64
		reader  string
		want    map[int64]bool
		changed int
	}{
		{name: "up to five", upTo: seq(5), reader: "u_other", want: map[int64]bool{1: true, 3: true, 5: true, 7: false}, changed: 3},
		{name: "no seq marks all", upTo: nil, reader: "u_other", want: map[int64]bool{1: true, 3: true, 5: true, 7: true}, changed: 4},
		{name: "own receipt ignored", upTo: seq(7), reader: "u_me", want: map[int64]bool{1: false, 3: false, 5: false, 7: false}, changed: 0},
		{name: "below everything", upTo: seq(0), reader: "u_other", want: map[int64]bool{1: false, 3: false, 5: false, 7: false}, changed: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New("u_me")
			s.ApplyPage("sp_1", Page{Messages: ownMessages(1, 3, 5, 7)}, false)
			if got := s.MarkRead("sp_1", tc.upTo, tc.reader); got != tc.changed {
				t.Fatalf("changed = %d, want %d", got, tc.changed)
			}
			got := readSeqs(s.Timeline("sp_1").Messages)
			for n, want := range tc.want {
				if got[n] != want {
					t.Fatalf("seq %d read = %v, want %v", n, got[n], want)
				}
			}
		})
	}
}

func TestMarkReadSkipsOtherSenders(t *testing.T) {
	s := New("u_me")
	theirs := msg("t1", 0)
	theirs.Seq = seq(1)
	s.ApplyPage("sp_1", Page{Messages: []Message{theirs}}, false)
	s.MarkRead("sp_1", seq(5), "u_third")
	if s.Timeline("sp_1").Messages[0].Read {
		t.Fatal("only the local user's messages take read receipts")
	}
}

func TestReadIsMonotonic(t *testing.T) {
	s := New("u_me")
	s.ApplyPage("sp_1", Page{Messages: ownMessages(1, 2)}, false)
	s.MarkRead("sp_1", seq(2), "u_other")
	s.MarkRead("sp_1", seq(1), "u_other")
	s.ApplyPage("sp_1", Page{Messages: ownMessages(1, 2)}, true)
	for _, m := range s.Timeline("sp_1").Messages {
		if !m.Read || !m.Delivered {
			t.Fatalf("flags regressed on %s: %+v", m.ID, m)
		}
	}
}

func TestUnreadCounters(t *testing.T) {
	s := New("u_me")
	s.IncrementUnread("sp_1")
	s.IncrementUnread("sp_1")
	s.IncrementUnread("sp_2")
	if got := s.UnreadCount("sp_1"); got != 2 {
		t.Fatalf("sp_1 = %d, want 2", got)
	}

	s.SetActiveSpace("sp_1")
	if got := s.UnreadCount("sp_1"); got != 0 {
		t.Fatalf("active sp_1 = %d, want 0", got)
	}
	if got := s.IncrementUnread("sp_1"); got != 0 {
		t.Fatal("active space should not count")
	}

	s.SetUnreadCounts(map[string]int{"sp_1": 4, "sp_3": 1, "sp_4": 0})
	counts := s.UnreadCounts()
	if _, ok := counts["sp_1"]; ok {
		t.Fatal("refresh should not resurrect the active space")
	}
	if counts["sp_3"] != 1 || len(counts) != 1 {
		t.Fatalf("counts = %v", counts)
	}

	s.ResetUnread("sp_3")
	if len(s.UnreadCounts()) != 0 {
		t.Fatal("reset should zero the counter")
	}
}

func TestSpacesDirectory(t *testing.T) {
	s := New("u_me")
	s.SetSpacesLoading()
	if !s.Spaces().Loading {
		t.Fatal("expected loading")
	}
	s.SetSpaces([]Space{{ID: "sp_1", Name: "general", Type: SpaceTenant, CurrentSeq: 3}})
	s.SetSpacesError("timeout")
	snap := s.Spaces()
	if snap.Loading || snap.Error != "timeout" || len(snap.Spaces) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	s.ApplyMessage(Message{ID: "m9", SpaceID: "sp_1", Seq: seq(9), CreatedAt: base})
	if space, _ := s.Space("sp_1"); space.CurrentSeq != 9 {
		t.Fatalf("current seq = %d, want 9", space.CurrentSeq)
	}
}
