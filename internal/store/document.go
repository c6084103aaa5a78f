package store

import (
	"encoding/json"
	"sort"
	"time"

	"workhub/collab/internal/rbac"
)

type documentRegion struct {
	state             DocumentState
	collaborators     []CollaboratorPresence
	grants            []DocumentPermission
	permissionsLoaded bool
	lastRemoteEdit    *RemoteEdit
	commandError      string
}

// DocumentSnapshot is a copy of everything the store holds for one document.
type DocumentSnapshot struct {
	State          DocumentState          `json:"state"`
	Collaborators  []CollaboratorPresence `json:"collaborators"`
	Permissions    []DocumentPermission   `json:"permissions"`
	LastRemoteEdit *RemoteEdit            `json:"lastRemoteEdit,omitempty"`
	CommandError   string                 `json:"commandError,omitempty"`
}

func (s *Store) documentLocked(documentID string) *documentRegion {
	region, ok := s.documents[documentID]
	if !ok {
		region = &documentRegion{state: DocumentState{ID: documentID, UserPermission: rbac.LevelView}}
		s.documents[documentID] = region
	}
	return region
}

// resolve recomputes the effective level once the grant list is known.
// Before that the server-provided level stands.
func (r *documentRegion) resolve(userID string) {
	if !r.permissionsLoaded {
		r.state.UserPermission = rbac.Normalize(string(r.state.UserPermission))
		return
	}
	grants := make([]rbac.Grant, 0, len(r.grants))
	for _, g := range r.grants {
		grants = append(grants, rbac.Grant{UserID: g.UserID, Level: g.Permission})
	}
	r.state.UserPermission = rbac.Resolve(r.state.IsLocked, r.state.DefaultPermission, grants, userID)
}

// SetDocumentState installs a document-state snapshot from the server. The
// default level is kept when the snapshot does not carry one.
func (s *Store) SetDocumentState(state DocumentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(state.ID)
	if state.DefaultPermission == "" {
		state.DefaultPermission = region.state.DefaultPermission
	}
	state.Content = cloneRaw(state.Content)
	state.LockedBy = cloneString(state.LockedBy)
	region.state = state
	region.resolve(s.currentUserID)
}

func (s *Store) ApplyLockChange(documentID string, isLocked bool, lockedBy *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	region.state.IsLocked = isLocked
	if isLocked {
		region.state.LockedBy = cloneString(lockedBy)
	} else {
		region.state.LockedBy = nil
	}
	region.resolve(s.currentUserID)
}

// SetPermissions replaces the grant list and default level and re-resolves
// the local user's level.
func (s *Store) SetPermissions(documentID string, defaultLevel rbac.Level, grants []DocumentPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	region.state.DefaultPermission = rbac.Normalize(string(defaultLevel))
	region.grants = append([]DocumentPermission(nil), grants...)
	region.permissionsLoaded = true
	region.resolve(s.currentUserID)
}

func (s *Store) UpsertGrant(documentID string, grant DocumentPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	grant.Permission = rbac.Normalize(string(grant.Permission))
	replaced := false
	for i := range region.grants {
		if region.grants[i].UserID == grant.UserID {
			region.grants[i] = grant
			replaced = true
			break
		}
	}
	if !replaced {
		region.grants = append(region.grants, grant)
	}
	region.resolve(s.currentUserID)
}

func (s *Store) RemoveGrant(documentID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	region, ok := s.documents[documentID]
	if !ok {
		return false
	}
	for i := range region.grants {
		if region.grants[i].UserID == userID {
			region.grants = append(region.grants[:i], region.grants[i+1:]...)
			region.resolve(s.currentUserID)
			return true
		}
	}
	return false
}

func (s *Store) ApplyContentSaved(documentID string, savedAt time.Time, savedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	at := savedAt
	region.state.LastSavedAt = &at
	region.state.LastSavedBy = savedBy
}

// SetLocalContent records content edited by the local user.
func (s *Store) SetLocalContent(documentID string, content json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	region.state.Content = cloneRaw(content)
}

// ApplyRemoteEdit applies an in-progress edit broadcast by another editor.
// The last frame received wins.
func (s *Store) ApplyRemoteEdit(documentID string, edit RemoteEdit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.documentLocked(documentID)
	edit.Update = cloneRaw(edit.Update)
	if edit.CursorPosition != nil {
		pos := *edit.CursorPosition
		edit.CursorPosition = &pos
	}
	if len(edit.Update) > 0 {
		region.state.Content = cloneRaw(edit.Update)
	}
	region.lastRemoteEdit = &edit
	if edit.From != "" && edit.CursorPosition != nil {
		if i := region.findCollaborator(edit.From); i >= 0 {
			region.collaborators[i].Cursor = Range{From: *edit.CursorPosition, To: *edit.CursorPosition}
		}
	}
}

func (s *Store) SetCommandError(documentID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documentLocked(documentID).commandError = message
}

// DropDocument forgets all state for a document the client has left.
func (s *Store) DropDocument(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, documentID)
}

func (s *Store) Document(documentID string) (DocumentSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	region, ok := s.documents[documentID]
	if !ok {
		return DocumentSnapshot{}, false
	}
	state := region.state
	state.Content = cloneRaw(state.Content)
	state.LockedBy = cloneString(state.LockedBy)
	if state.LastSavedAt != nil {
		at := *state.LastSavedAt
		state.LastSavedAt = &at
	}
	grants := append([]DocumentPermission{}, region.grants...)
	sort.SliceStable(grants, func(i, j int) bool { return grants[i].UserID < grants[j].UserID })
	snap := DocumentSnapshot{
		State:         state,
		Collaborators: copyRoster(region.collaborators),
		Permissions:   grants,
		CommandError:  region.commandError,
	}
	if region.lastRemoteEdit != nil {
		edit := *region.lastRemoteEdit
		edit.Update = cloneRaw(edit.Update)
		snap.LastRemoteEdit = &edit
	}
	return snap, true
}

// UserPermission returns the effective level of the local user, view when the
// document is unknown.
func (s *Store) UserPermission(documentID string) rbac.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	region, ok := s.documents[documentID]
	if !ok {
		return rbac.LevelView
	}
	return region.state.UserPermission
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	return append(json.RawMessage(nil), in...)
}

func cloneString(in *string) *string {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}
