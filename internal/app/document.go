package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"workhub/collab/internal/channel"
	"workhub/collab/internal/rbac"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/store"
	"workhub/collab/internal/versions"
)

const editDeniedMessage = "You do not have permission to edit this document"

// JoinDocument subscribes to documentID, leaving any other document first.
// The document and its epoch are recorded before the join frame goes out.
// Events from earlier subscriptions are dropped from here on. A failed join
// leaves no document active.
func (s *Service) JoinDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "documentId is required", nil)
	}
	if current, _, err := s.joinedDocument(); err == nil && current != documentID {
		s.LeaveDocument()
	}

	epoch, err := s.channel.Join(channel.JoinDocument{
		DocumentID: documentID,
		ProjectID:  s.cfg.ProjectID,
		TenantID:   s.cfg.TenantID,
		UserID:     s.state.CurrentUserID(),
	}, func(epoch uint64) {
		s.mu.Lock()
		s.activeDocument = documentID
		s.documentEpoch = epoch
		s.mu.Unlock()
	})
	if err != nil {
		s.mu.Lock()
		if s.activeDocument == documentID && s.documentEpoch == epoch {
			s.activeDocument = ""
		}
		s.mu.Unlock()
		return fmt.Errorf("join document %s: %w", documentID, err)
	}
	s.logger.Info("document joined", zap.String("document_id", documentID), zap.Uint64("epoch", epoch))
	return nil
}

// LeaveDocument ends the active subscription and drops the document's
// presence, permission and content state.
func (s *Service) LeaveDocument() {
	s.mu.Lock()
	documentID := s.activeDocument
	s.activeDocument = ""
	s.mu.Unlock()

	epoch := s.channel.Leave()

	s.mu.Lock()
	s.documentEpoch = epoch
	s.mu.Unlock()

	if documentID != "" {
		s.state.DropDocument(documentID)
		s.logger.Info("document left", zap.String("document_id", documentID), zap.Uint64("epoch", epoch))
	}
}

func (s *Service) ActiveDocument() string {
	documentID, _, _ := s.joinedDocument()
	return documentID
}

func (s *Service) MoveCursor(from, to int) error {
	if _, _, err := s.joinedDocument(); err != nil {
		return err
	}
	return s.channel.Emit(channel.MoveCursor{From: from, To: to})
}

func (s *Service) ChangeSelection(from, to int) error {
	if _, _, err := s.joinedDocument(); err != nil {
		return err
	}
	return s.channel.Emit(channel.ChangeSelection{From: from, To: to})
}

func (s *Service) ChangeStatus(status store.PresenceStatus) error {
	switch status {
	case store.StatusViewing, store.StatusEditing, store.StatusCommenting:
	default:
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be viewing, editing or commenting", nil)
	}
	if _, _, err := s.joinedDocument(); err != nil {
		return err
	}
	return s.channel.Emit(channel.ChangeStatus{Status: status})
}

// BroadcastEdit sends an in-progress edit to the other editors. Nothing is
// persisted; the update also becomes the local content hint.
func (s *Service) BroadcastEdit(update json.RawMessage, cursorPosition *int) error {
	documentID, _, err := s.joinedDocument()
	if err != nil {
		return err
	}
	s.state.SetLocalContent(documentID, update)
	return s.channel.Emit(channel.BroadcastSync{
		DocumentID:     documentID,
		ProjectID:      s.cfg.ProjectID,
		TenantID:       s.cfg.TenantID,
		Update:         update,
		CursorPosition: cursorPosition,
		Origin:         s.origin,
	})
}

// SaveContent asks the server to persist content. Without edit permission
// the refusal is recorded as the document's command error and nothing is
// sent.
func (s *Service) SaveContent(content json.RawMessage) error {
	documentID, _, err := s.joinedDocument()
	if err != nil {
		return err
	}
	if !rbac.Can(s.state.UserPermission(documentID), rbac.ActionWrite) {
		s.state.SetCommandError(documentID, editDeniedMessage)
		s.logger.Debug("save refused", zap.String("document_id", documentID))
		return nil
	}
	s.state.SetCommandError(documentID, "")
	s.state.SetLocalContent(documentID, content)
	return s.channel.Emit(channel.SaveContent{
		DocumentID: documentID,
		ProjectID:  s.cfg.ProjectID,
		TenantID:   s.cfg.TenantID,
		Content:    content,
	})
}

// ToggleLock flips the lock through the resource store and applies the
// result locally without waiting for the lock-change broadcast.
func (s *Service) ToggleLock(ctx context.Context, documentID string) (rest.LockState, error) {
	current, _ := s.state.Document(documentID)
	lock, err := s.api.SetLock(ctx, documentID, !current.State.IsLocked)
	if err != nil {
		s.state.SetCommandError(documentID, rest.Message(err, "failed to update lock"))
		return rest.LockState{}, fmt.Errorf("toggle lock on %s: %w", documentID, err)
	}
	s.state.ApplyLockChange(documentID, lock.IsLocked, lock.LockedBy)
	return lock, nil
}

// LoadPermissions installs the document's default level and grant list. When
// the server omits the default, the level already known locally is kept.
func (s *Service) LoadPermissions(ctx context.Context, documentID string) error {
	list, err := s.api.ListPermissions(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load permissions for %s: %w", documentID, err)
	}
	defaultLevel := list.DefaultPermission
	if defaultLevel == "" {
		current, _ := s.state.Document(documentID)
		defaultLevel = current.State.DefaultPermission
		if defaultLevel == "" {
			defaultLevel = current.State.UserPermission
		}
	}
	s.state.SetPermissions(documentID, defaultLevel, list.Permissions)
	return nil
}

func (s *Service) SetPermission(ctx context.Context, documentID, userID string, level rbac.Level) (store.DocumentPermission, error) {
	if strings.TrimSpace(userID) == "" {
		return store.DocumentPermission{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil)
	}
	if rbac.Normalize(string(level)) != level {
		return store.DocumentPermission{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "permission must be view, comment or edit", nil)
	}
	grant, err := s.api.SetPermission(ctx, documentID, userID, level)
	if err != nil {
		return store.DocumentPermission{}, fmt.Errorf("set permission for %s on %s: %w", userID, documentID, err)
	}
	s.state.UpsertGrant(documentID, grant)
	return grant, nil
}

func (s *Service) RemovePermission(ctx context.Context, documentID, userID string) error {
	if err := s.api.RemovePermission(ctx, documentID, userID); err != nil {
		return fmt.Errorf("remove permission for %s on %s: %w", userID, documentID, err)
	}
	s.state.RemoveGrant(documentID, userID)
	return nil
}

func (s *Service) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	return s.versions.List(ctx, documentID)
}

func (s *Service) CreateVersion(ctx context.Context, documentID, summary string) (store.DocumentVersion, error) {
	return s.versions.Create(ctx, documentID, strings.TrimSpace(summary))
}

// RestoreVersion brings back versionID's content. History is only
// snapshotted first when snapshotFirst is set.
func (s *Service) RestoreVersion(ctx context.Context, documentID, versionID string, snapshotFirst bool) (json.RawMessage, error) {
	var (
		content json.RawMessage
		err     error
	)
	if snapshotFirst {
		_, content, err = versions.RestoreWithSnapshot(ctx, s.versions, documentID, versionID, "Before restore")
	} else {
		content, err = s.versions.Restore(ctx, documentID, versionID)
	}
	if err != nil {
		return nil, err
	}
	s.state.SetLocalContent(documentID, content)
	return content, nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]store.Template, error) {
	return s.api.ListTemplates(ctx)
}
