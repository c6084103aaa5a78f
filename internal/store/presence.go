package store

import (
	"hash/fnv"
	"sort"
	"time"
)

var presencePalette = []string{
	"#E57373", "#64B5F6", "#81C784", "#FFB74D",
	"#BA68C8", "#4DB6AC", "#F06292", "#A1887F",
}

// ColorFor returns the display color for a user. The same id always maps to
// the same color.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return presencePalette[h.Sum32()%uint32(len(presencePalette))]
}

func normalizePresence(p CollaboratorPresence, now time.Time) CollaboratorPresence {
	if p.Color == "" {
		p.Color = ColorFor(p.ID)
	}
	if p.Status == "" {
		p.Status = StatusViewing
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	if p.Selection != nil {
		sel := *p.Selection
		p.Selection = &sel
	}
	return p
}

// ReplaceRoster installs the full collaborator list for a document. A user
// listed twice keeps only the last entry.
func (s *Store) ReplaceRoster(documentID string, users []CollaboratorPresence, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)

	index := make(map[string]int, len(users))
	roster := make([]CollaboratorPresence, 0, len(users))
	for _, user := range users {
		if user.ID == "" {
			continue
		}
		user = normalizePresence(user, now)
		if i, ok := index[user.ID]; ok {
			roster[i] = user
			continue
		}
		index[user.ID] = len(roster)
		roster = append(roster, user)
	}
	region.collaborators = roster
}

// UpsertCollaborator records a user-joined event. Rejoining replaces the
// previous entry but keeps the original join time when the event omits one.
func (s *Store) UpsertCollaborator(documentID string, user CollaboratorPresence, now time.Time) {
	if user.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	if i := region.findCollaborator(user.ID); i >= 0 {
		if user.JoinedAt.IsZero() {
			user.JoinedAt = region.collaborators[i].JoinedAt
		}
		region.collaborators[i] = normalizePresence(user, now)
		return
	}
	region.collaborators = append(region.collaborators, normalizePresence(user, now))
}

func (s *Store) RemoveCollaborator(documentID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	region, ok := s.documents[documentID]
	if !ok {
		return false
	}
	i := region.findCollaborator(userID)
	if i < 0 {
		return false
	}
	region.collaborators = append(region.collaborators[:i], region.collaborators[i+1:]...)
	return true
}

// UpdateCursor moves a collaborator's cursor, adding the collaborator if the
// roster did not know about them yet.
func (s *Store) UpdateCursor(documentID string, userID, name, color string, cursor Range, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	p := region.ensureCollaborator(userID, name, color, now)
	p.Cursor = cursor
}

func (s *Store) UpdateSelection(documentID string, userID, name, color string, selection *Range, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	p := region.ensureCollaborator(userID, name, color, now)
	if selection == nil {
		p.Selection = nil
		return
	}
	sel := *selection
	p.Selection = &sel
}

func (s *Store) SetCollaboratorStatus(documentID, userID string, status PresenceStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	region, ok := s.documents[documentID]
	if !ok {
		return false
	}
	i := region.findCollaborator(userID)
	if i < 0 {
		return false
	}
	region.collaborators[i].Status = status
	return true
}

// Collaborators returns the roster ordered by join time.
func (s *Store) Collaborators(documentID string) []CollaboratorPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	region, ok := s.documents[documentID]
	if !ok {
		return []CollaboratorPresence{}
	}
	return copyRoster(region.collaborators)
}

func copyRoster(in []CollaboratorPresence) []CollaboratorPresence {
	out := make([]CollaboratorPresence, len(in))
	for i, p := range in {
		if p.Selection != nil {
			sel := *p.Selection
			p.Selection = &sel
		}
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *documentRegion) findCollaborator(userID string) int {
	for i := range r.collaborators {
		if r.collaborators[i].ID == userID {
			return i
		}
	}
	return -1
}

func (r *documentRegion) ensureCollaborator(userID, name, color string, now time.Time) *CollaboratorPresence {
	i := r.findCollaborator(userID)
	if i < 0 {
		r.collaborators = append(r.collaborators, normalizePresence(CollaboratorPresence{ID: userID, Name: name, Color: color}, now))
		i = len(r.collaborators) - 1
	}
	p := &r.collaborators[i]
	if name != "" {
		p.Name = name
	}
	if color != "" {
		p.Color = color
	}
	return p
}
