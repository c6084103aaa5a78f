package store

// MarkRead applies a read receipt for spaceID. Messages sent by the local
// user with a seq at or below lastReadSeq become read, in the space timeline
// and in any thread under it. Receipts from the local user (readerID equal
// to the current user) only acknowledge our own reading and change nothing.
// A nil lastReadSeq marks every loaded message of the local user as read.
// The local user is the one the store was created for, so callers do not
// pass a current user id.
func (s *Store) MarkRead(spaceID string, lastReadSeq *int64, readerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if readerID != "" && readerID == s.currentUserID {
		return 0
	}
	changed := 0
	apply := func(t *timeline) {
		for i := range t.messages {
			m := &t.messages[i]
			if m.SpaceID != spaceID || m.SenderID != s.currentUserID || m.Read {
				continue
			}
			if lastReadSeq != nil && (m.Seq == nil || *m.Seq > *lastReadSeq) {
				continue
			}
			m.Read = true
			changed++
		}
	}
	if t, ok := s.timelines[spaceID]; ok {
		apply(t)
	}
	for _, t := range s.threads {
		apply(t)
	}
	return changed
}

// IncrementUnread counts one more unread message in spaceID unless it is the
// active space.
func (s *Store) IncrementUnread(spaceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spaceID == s.activeSpace {
		return 0
	}
	s.unread[spaceID]++
	return s.unread[spaceID]
}

func (s *Store) ResetUnread(spaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread, spaceID)
}

// SetUnreadCounts replaces every counter with server-provided values. Zero
// counts are dropped and the active space always reads zero.
func (s *Store) SetUnreadCounts(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = make(map[string]int, len(counts))
	for spaceID, n := range counts {
		if n <= 0 || spaceID == s.activeSpace {
			continue
		}
		s.unread[spaceID] = n
	}
}

func (s *Store) UnreadCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCounts(s.unread)
}

func (s *Store) UnreadCount(spaceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[spaceID]
}

// SetActiveSpace makes spaceID the space the user is looking at and clears
// its counter. An empty id means no space is active.
func (s *Store) SetActiveSpace(spaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSpace = spaceID
	if spaceID != "" {
		delete(s.unread, spaceID)
	}
}

func (s *Store) ActiveSpace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeSpace
}
