package app

import (
	"go.uber.org/zap"

	"workhub/collab/internal/channel"
	"workhub/collab/internal/store"
)

// apply folds one delivery into the state tree. Document events only count
// for the current subscription; messaging events are session-wide.
func (s *Service) apply(d channel.Delivery) {
	now := d.ReceivedAt
	if now.IsZero() {
		now = s.now()
	}

	switch e := d.Event.(type) {
	case channel.NewMessage:
		s.applyNewMessage(e.Message)
		return
	case channel.MessageDeleted:
		s.state.DeleteMessage(e.MessageID)
		if s.search != nil {
			s.search.DeleteMessage(e.MessageID)
		}
		return
	case channel.ReactionUpdate:
		if e.Action == channel.ReactionRemoved {
			s.state.RemoveReaction(e.MessageID, e.UserID, e.Emoji)
		} else {
			s.state.AddReaction(e.MessageID, e.UserID, e.Emoji)
		}
		return
	case channel.MessagesRead:
		marked := s.state.MarkRead(e.SpaceID, e.LastReadSeq, e.ReaderID)
		s.logger.Debug("read receipt applied", zap.String("space_id", e.SpaceID), zap.Int("marked", marked))
		return
	case channel.UnreadCounts:
		s.state.SetUnreadCounts(e.Counts)
		return
	case channel.Error:
		s.logger.Warn("command failed", zap.String("code", e.Code), zap.String("command", e.Command), zap.String("message", e.Message))
		if documentID, _, err := s.joinedDocument(); err == nil {
			s.state.SetCommandError(documentID, e.Message)
		}
		return
	}

	documentID, ok := s.accepts(d)
	if !ok {
		s.logger.Debug("stale document event dropped",
			zap.String("event", d.Event.EventName()),
			zap.Uint64("epoch", d.Epoch),
		)
		return
	}

	switch e := d.Event.(type) {
	case channel.DocumentState:
		state := e.State
		state.ID = documentID
		s.state.SetDocumentState(state)
	case channel.UsersPresent:
		s.state.ReplaceRoster(documentID, e.Users, now)
	case channel.UserJoined:
		if len(e.AllUsers) > 0 {
			s.state.ReplaceRoster(documentID, e.AllUsers, now)
		} else {
			s.state.UpsertCollaborator(documentID, e.User, now)
		}
	case channel.UserLeft:
		if len(e.AllUsers) > 0 {
			s.state.ReplaceRoster(documentID, e.AllUsers, now)
		}
		s.state.RemoveCollaborator(documentID, e.UserID)
	case channel.UserStatusUpdate:
		if !s.state.SetCollaboratorStatus(documentID, e.UserID, e.Status) && len(e.AllUsers) > 0 {
			s.state.ReplaceRoster(documentID, e.AllUsers, now)
		}
	case channel.CursorUpdate:
		if e.UserID != s.state.CurrentUserID() {
			s.state.UpdateCursor(documentID, e.UserID, e.Name, e.Color, e.Cursor, now)
		}
	case channel.SelectionUpdate:
		if e.UserID != s.state.CurrentUserID() {
			s.state.UpdateSelection(documentID, e.UserID, e.Name, e.Color, e.Selection, now)
		}
	case channel.ContentSaved:
		s.state.ApplyContentSaved(documentID, e.SavedAt, e.SavedBy)
	case channel.LockChange:
		s.state.ApplyLockChange(documentID, e.IsLocked, e.LockedBy)
	case channel.SyncUpdate:
		if e.Origin != "" && e.Origin == s.origin {
			return
		}
		s.state.ApplyRemoteEdit(documentID, store.RemoteEdit{
			Update:         e.Update,
			Origin:         e.Origin,
			From:           e.From,
			CursorPosition: e.CursorPosition,
			ReceivedAt:     now,
		})
	default:
		s.logger.Debug("unhandled event", zap.String("event", d.Event.EventName()))
	}
}

// accepts reports whether a document event belongs to the active
// subscription and returns that document's id.
func (s *Service) accepts(d channel.Delivery) (string, bool) {
	documentID, epoch, err := s.joinedDocument()
	if err != nil || d.Epoch != epoch {
		return "", false
	}
	if scoped, ok := d.Event.(channel.DocumentScoped); ok {
		if scope := scoped.DocumentScope(); scope != "" && scope != documentID {
			return "", false
		}
	}
	return documentID, true
}

func (s *Service) applyNewMessage(msg store.Message) {
	res := s.state.ApplyMessage(msg)
	if res.Reconciled {
		s.logger.Debug("send reconciled", zap.String("client_message_id", msg.ClientMessageID), zap.String("space_id", msg.SpaceID))
	}
	if res.Inserted && msg.SenderID != s.state.CurrentUserID() {
		s.state.IncrementUnread(msg.SpaceID)
	}
	if s.search != nil {
		s.search.IndexMessage(msg)
	}
}
