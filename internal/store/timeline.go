package store

import "sort"

type timeline struct {
	messages []Message
	hasMore  bool
	loading  bool
	err      string
}

type TimelineSnapshot struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
	Loading  bool      `json:"loading"`
	Error    string    `json:"error,omitempty"`
}

// MergeDirection says where a paginated page landed relative to the loaded
// messages.
type MergeDirection string

const (
	MergeReplace MergeDirection = "replace"
	MergePrepend MergeDirection = "prepend"
	MergeAppend  MergeDirection = "append"
)

type MergeResult struct {
	Direction MergeDirection
	Added     int
}

func sameIdentity(a, b Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.ClientMessageID != "" && a.ClientMessageID == b.ClientMessageID
}

// carryFlags keeps local-only state from prev on next. Delivered and Read
// never go back to false.
func carryFlags(next *Message, prev Message) {
	next.Delivered = next.Delivered || prev.Delivered
	next.Read = next.Read || prev.Read
	if next.ClientMessageID == "" {
		next.ClientMessageID = prev.ClientMessageID
	}
}

func sortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func indexOf(messages []Message, m Message) int {
	for i := range messages {
		if sameIdentity(messages[i], m) {
			return i
		}
	}
	return -1
}

func copyMessage(m Message) Message {
	m.Reactions = append([]Reaction{}, m.Reactions...)
	m.Attachments = append([]Attachment{}, m.Attachments...)
	m.Metadata.Mentions = append([]string(nil), m.Metadata.Mentions...)
	m.Metadata.LinkPreviews = append([]LinkPreview(nil), m.Metadata.LinkPreviews...)
	if m.Seq != nil {
		seq := *m.Seq
		m.Seq = &seq
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		m.EditedAt = &at
	}
	return m
}

// merge folds a server page into t. A fresh load replaces the list. A
// paginated load drops duplicates and lands before the loaded messages when
// everything new is older than them, after otherwise.
func (t *timeline) merge(page Page, paginated bool) MergeResult {
	incoming := make([]Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		m = copyMessage(m)
		m.Delivered = true
		if i := indexOf(incoming, m); i >= 0 {
			carryFlags(&m, incoming[i])
			incoming[i] = m
			continue
		}
		incoming = append(incoming, m)
	}

	t.loading = false
	t.err = ""
	t.hasMore = page.HasMore

	if !paginated {
		for i := range incoming {
			if j := indexOf(t.messages, incoming[i]); j >= 0 {
				carryFlags(&incoming[i], t.messages[j])
			}
		}
		sortMessages(incoming)
		t.messages = incoming
		return MergeResult{Direction: MergeReplace, Added: len(incoming)}
	}

	fresh := incoming[:0]
	for _, m := range incoming {
		if j := indexOf(t.messages, m); j >= 0 {
			carryFlags(&m, t.messages[j])
			m.SendFailed = false
			t.messages[j] = m
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return MergeResult{Direction: MergeAppend}
	}

	direction := MergeAppend
	if len(t.messages) > 0 {
		newestIncoming := fresh[0].CreatedAt
		for _, m := range fresh[1:] {
			if m.CreatedAt.After(newestIncoming) {
				newestIncoming = m.CreatedAt
			}
		}
		oldestLoaded := t.messages[0].CreatedAt
		for _, m := range t.messages[1:] {
			if m.CreatedAt.Before(oldestLoaded) {
				oldestLoaded = m.CreatedAt
			}
		}
		if newestIncoming.Before(oldestLoaded) {
			direction = MergePrepend
		}
	}

	sortMessages(fresh)
	if direction == MergePrepend {
		t.messages = append(fresh, t.messages...)
	} else {
		t.messages = append(t.messages, fresh...)
	}
	sortMessages(t.messages)
	return MergeResult{Direction: direction, Added: len(fresh)}
}

func (t *timeline) snapshot() TimelineSnapshot {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = copyMessage(m)
	}
	return TimelineSnapshot{Messages: out, HasMore: t.hasMore, Loading: t.loading, Error: t.err}
}

func timelineIn(m map[string]*timeline, key string) *timeline {
	t, ok := m[key]
	if !ok {
		t = &timeline{}
		m[key] = t
	}
	return t
}

// timelineForLocked picks the thread timeline for replies and the space
// timeline for everything else.
func (s *Store) timelineForLocked(m Message) *timeline {
	if m.ParentMessageID != "" {
		return timelineIn(s.threads, m.ParentMessageID)
	}
	return timelineIn(s.timelines, m.SpaceID)
}

func (s *Store) SetTimelineLoading(spaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := timelineIn(s.timelines, spaceID)
	t.loading = true
	t.err = ""
}

func (s *Store) SetTimelineError(spaceID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := timelineIn(s.timelines, spaceID)
	t.loading = false
	t.err = message
}

// ApplyPage merges a timeline page. paginated is true when the page was
// requested with a before cursor.
func (s *Store) ApplyPage(spaceID string, page Page, paginated bool) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := timelineIn(s.timelines, spaceID)
	s.syncPendingLocked(t)
	res := t.merge(page, paginated)
	for _, m := range page.Messages {
		s.bumpSeqLocked(spaceID, m.Seq)
	}
	s.settlePendingLocked(t, func(p *PendingSend) bool {
		return p.Message.SpaceID == spaceID && p.Message.ParentMessageID == ""
	})
	return res
}

// syncPendingLocked copies the provisional entries of t, with their current
// read flag and reactions, back into their pending records so a fresh load
// reinstates them as the user last saw them.
func (s *Store) syncPendingLocked(t *timeline) {
	for _, m := range t.messages {
		if m.ClientMessageID == "" || m.ID != m.ClientMessageID {
			continue
		}
		p, ok := s.pending[m.ClientMessageID]
		if !ok {
			continue
		}
		failed := p.Message.SendFailed
		p.Message = copyMessage(m)
		p.Message.SendFailed = failed || m.SendFailed
	}
}

// settlePendingLocked drops pending sends the server has confirmed through a
// page and puts back provisional entries a fresh load replaced away.
func (s *Store) settlePendingLocked(t *timeline, belongs func(*PendingSend) bool) {
	for cid, p := range s.pending {
		if !belongs(p) {
			continue
		}
		i := indexOf(t.messages, p.Message)
		if i >= 0 && t.messages[i].ID != p.Message.ID {
			delete(s.pending, cid)
			continue
		}
		if i < 0 {
			m := copyMessage(p.Message)
			m.SendFailed = p.Failed
			t.messages = append(t.messages, m)
		}
	}
	t.messages = dedupeByID(t.messages)
	sortMessages(t.messages)
}

func (s *Store) Timeline(spaceID string) TimelineSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timelines[spaceID]
	if !ok {
		return TimelineSnapshot{Messages: []Message{}}
	}
	return t.snapshot()
}

func (s *Store) SetThreadLoading(parentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := timelineIn(s.threads, parentID)
	t.loading = true
	t.err = ""
}

func (s *Store) SetThreadError(parentID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := timelineIn(s.threads, parentID)
	t.loading = false
	t.err = message
}

// ApplyThreadPage merges a page of replies under parentID the same way
// ApplyPage merges a space timeline.
func (s *Store) ApplyThreadPage(parentID string, page Page, paginated bool) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := timelineIn(s.threads, parentID)
	s.syncPendingLocked(t)
	res := t.merge(page, paginated)
	s.settlePendingLocked(t, func(p *PendingSend) bool {
		return p.Message.ParentMessageID == parentID
	})
	return res
}

func (s *Store) Thread(parentID string) TimelineSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[parentID]
	if !ok {
		return TimelineSnapshot{Messages: []Message{}}
	}
	return t.snapshot()
}

// OldestMessage returns the earliest loaded message of a space, used as the
// cursor for the next older page.
func (s *Store) OldestMessage(spaceID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timelines[spaceID]
	if !ok || len(t.messages) == 0 {
		return Message{}, false
	}
	return copyMessage(t.messages[0]), true
}

// OldestReply returns the earliest loaded reply under parentID.
func (s *Store) OldestReply(parentID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[parentID]
	if !ok || len(t.messages) == 0 {
		return Message{}, false
	}
	return copyMessage(t.messages[0]), true
}

// FindMessage looks a message up by id or client message id across every
// timeline and thread.
func (s *Store) FindMessage(key string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target := Message{ID: key, ClientMessageID: key}
	for _, group := range []map[string]*timeline{s.timelines, s.threads} {
		for _, t := range group {
			if i := indexOf(t.messages, target); i >= 0 {
				return copyMessage(t.messages[i]), true
			}
		}
	}
	return Message{}, false
}

// LoadedMessages returns every loaded message and thread reply in timeline
// order, skipping deleted ones.
func (s *Store) LoadedMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, group := range []map[string]*timeline{s.timelines, s.threads} {
		for _, t := range group {
			for _, m := range t.messages {
				if m.Deleted {
					continue
				}
				out = append(out, copyMessage(m))
			}
		}
	}
	sortMessages(out)
	return out
}
