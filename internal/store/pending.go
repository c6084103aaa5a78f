package store

import (
	"sort"
	"time"
)

// PendingSend tracks a message the local user sent that the server has not
// echoed back yet. It is keyed by the message's client message id.
type PendingSend struct {
	Message Message   `json:"message"`
	SentAt  time.Time `json:"sentAt"`
	Failed  bool      `json:"failed"`
}

func (p PendingSend) CorrelationID() string {
	return p.Message.ClientMessageID
}

// AddProvisional inserts a locally composed message into its timeline and the
// pending table. msg must carry a ClientMessageID.
func (s *Store) AddProvisional(msg Message, sentAt time.Time) {
	if msg.ClientMessageID == "" {
		return
	}
	msg = copyMessage(msg)
	if msg.ID == "" {
		msg.ID = msg.ClientMessageID
	}
	msg.Delivered = false
	msg.Read = false
	msg.SendFailed = false
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = sentAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.timelineForLocked(msg)
	if i := indexOf(t.messages, msg); i >= 0 {
		t.messages[i] = msg
	} else {
		t.messages = append(t.messages, msg)
	}
	sortMessages(t.messages)
	s.pending[msg.ClientMessageID] = &PendingSend{Message: copyMessage(msg), SentAt: sentAt}
}

// ApplyResult reports what ApplyMessage did with an inbound message.
type ApplyResult struct {
	// Reconciled is set when the message replaced a provisional entry.
	Reconciled bool
	// Inserted is set when no existing entry matched.
	Inserted bool
	Thread   bool
}

// ApplyMessage folds an authoritative message into the right timeline. A
// provisional entry with the same client message id is replaced in place and
// its pending record is dropped. A message matching nothing is inserted.
func (s *Store) ApplyMessage(msg Message) ApplyResult {
	msg = copyMessage(msg)
	msg.Delivered = true
	msg.SendFailed = false

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.timelineForLocked(msg)
	res := ApplyResult{Thread: msg.ParentMessageID != ""}

	idx := -1
	if msg.ClientMessageID != "" {
		for i := range t.messages {
			if t.messages[i].ClientMessageID == msg.ClientMessageID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := range t.messages {
			if t.messages[i].ID == msg.ID {
				idx = i
				break
			}
		}
	}

	if idx >= 0 {
		carryFlags(&msg, t.messages[idx])
		if _, ok := s.pending[msg.ClientMessageID]; ok && msg.ClientMessageID != "" {
			res.Reconciled = true
		}
		t.messages[idx] = msg
		t.messages = dedupeByID(t.messages)
	} else {
		t.messages = append(t.messages, msg)
		res.Inserted = true
	}
	if msg.ClientMessageID != "" {
		delete(s.pending, msg.ClientMessageID)
	}
	sortMessages(t.messages)
	s.bumpSeqLocked(msg.SpaceID, msg.Seq)
	return res
}

// dedupeByID keeps the first entry of each id and folds the flags of any
// later duplicates into it.
func dedupeByID(messages []Message) []Message {
	seen := make(map[string]int, len(messages))
	out := messages[:0]
	for _, m := range messages {
		if i, ok := seen[m.ID]; ok {
			carryFlags(&out[i], m)
			continue
		}
		seen[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// DeleteMessage removes a message, by server id or client message id, from
// every timeline and thread and from the pending table.
func (s *Store) DeleteMessage(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := Message{ID: key, ClientMessageID: key}
	removed := false
	for _, group := range []map[string]*timeline{s.timelines, s.threads} {
		for _, t := range group {
			kept := t.messages[:0]
			for _, m := range t.messages {
				if sameIdentity(m, target) {
					removed = true
					if m.ClientMessageID != "" {
						delete(s.pending, m.ClientMessageID)
					}
					continue
				}
				kept = append(kept, m)
			}
			t.messages = kept
		}
	}
	if _, ok := s.pending[key]; ok {
		delete(s.pending, key)
		removed = true
	}
	return removed
}

// AddReaction records emoji by userID on a message. Adding the same
// reaction twice is a no-op.
func (s *Store) AddReaction(messageID, userID, emoji string) bool {
	return s.mutateMessage(messageID, func(m *Message) {
		for _, r := range m.Reactions {
			if r.UserID == userID && r.Emoji == emoji {
				return
			}
		}
		m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
	})
}

func (s *Store) RemoveReaction(messageID, userID, emoji string) bool {
	return s.mutateMessage(messageID, func(m *Message) {
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID == userID && r.Emoji == emoji {
				continue
			}
			kept = append(kept, r)
		}
		m.Reactions = kept
	})
}

// SetReactions replaces the reaction list of a message with the server's.
func (s *Store) SetReactions(messageID string, reactions []Reaction) bool {
	return s.mutateMessage(messageID, func(m *Message) {
		m.Reactions = append([]Reaction{}, reactions...)
	})
}

func (s *Store) mutateMessage(key string, fn func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := Message{ID: key, ClientMessageID: key}
	found := false
	for _, group := range []map[string]*timeline{s.timelines, s.threads} {
		for _, t := range group {
			for i := range t.messages {
				if sameIdentity(t.messages[i], target) {
					fn(&t.messages[i])
					found = true
				}
			}
		}
	}
	return found
}

// ExpirePending marks every pending send older than timeout as failed and
// returns the newly failed records. Failed sends stay in place so the user
// can delete or resend them.
func (s *Store) ExpirePending(now time.Time, timeout time.Duration) []PendingSend {
	if timeout <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []PendingSend
	for cid, p := range s.pending {
		if p.Failed || now.Sub(p.SentAt) < timeout {
			continue
		}
		p.Failed = true
		p.Message.SendFailed = true
		t := s.timelineForLocked(p.Message)
		for i := range t.messages {
			if t.messages[i].ClientMessageID == cid {
				t.messages[i].SendFailed = true
			}
		}
		failed = append(failed, PendingSend{Message: copyMessage(p.Message), SentAt: p.SentAt, Failed: true})
	}
	sortPending(failed)
	return failed
}

// Pending returns the pending table ordered by send time.
func (s *Store) Pending() []PendingSend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingSend, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, PendingSend{Message: copyMessage(p.Message), SentAt: p.SentAt, Failed: p.Failed})
	}
	sortPending(out)
	return out
}

// RestorePending reinstalls pending sends saved by an earlier session,
// skipping any the timelines already show as delivered.
func (s *Store) RestorePending(records []PendingSend) int {
	restored := 0
	for _, p := range records {
		if existing, ok := s.FindMessage(p.Message.ClientMessageID); ok && existing.Delivered {
			continue
		}
		s.AddProvisional(p.Message, p.SentAt)
		if p.Failed {
			s.markFailed(p.Message.ClientMessageID)
		}
		restored++
	}
	return restored
}

func (s *Store) markFailed(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[cid]
	if !ok {
		return
	}
	p.Failed = true
	p.Message.SendFailed = true
	t := s.timelineForLocked(p.Message)
	for i := range t.messages {
		if t.messages[i].ClientMessageID == cid {
			t.messages[i].SendFailed = true
		}
	}
}

func sortPending(list []PendingSend) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SentAt.Equal(list[j].SentAt) {
			return list[i].CorrelationID() < list[j].CorrelationID()
		}
		return list[i].SentAt.Before(list[j].SentAt)
	})
}
