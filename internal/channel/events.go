// Package channel speaks the real-time event channel: a websocket carrying
// JSON frames of the form {"event": name, "data": {...}}.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workhub/collab/internal/store"
)

const (
	EventDocumentState    = "document-state"
	EventUsersPresent     = "users-present"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventUserStatusUpdate = "user-status-update"
	EventCursorUpdate     = "cursor-update"
	EventSelectionUpdate  = "selection-update"
	EventContentSaved     = "content-saved"
	EventLockChange       = "lock-change"
	EventSyncUpdate       = "sync-update"
	EventNewMessage       = "new-message"
	EventMessageDeleted   = "message-deleted"
	EventReactionUpdate   = "reaction-update"
	EventMessagesRead     = "messages-read"
	EventUnreadCounts     = "unread-counts"
	EventError            = "error"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidFrame = errors.New("invalid frame")
)

// Event is one decoded inbound frame. The set of implementations is closed.
type Event interface {
	EventName() string
}

// DocumentScoped is implemented by events that belong to a single document
// subscription. DocumentScope returns "" when the frame did not say which.
type DocumentScoped interface {
	Event
	DocumentScope() string
}

type Scope struct {
	DocumentID string `json:"documentId,omitempty"`
}

func (s Scope) DocumentScope() string { return s.DocumentID }

type DocumentState struct {
	State store.DocumentState
}

type UsersPresent struct {
	Scope
	Users []store.CollaboratorPresence `json:"users"`
}

type UserJoined struct {
	Scope
	User     store.CollaboratorPresence   `json:"user"`
	AllUsers []store.CollaboratorPresence `json:"allUsers"`
}

type UserLeft struct {
	Scope
	UserID   string                       `json:"userId"`
	AllUsers []store.CollaboratorPresence `json:"allUsers"`
}

type UserStatusUpdate struct {
	Scope
	UserID   string                       `json:"userId"`
	Status   store.PresenceStatus         `json:"status"`
	AllUsers []store.CollaboratorPresence `json:"allUsers"`
}

type CursorUpdate struct {
	Scope
	UserID string      `json:"userId"`
	Cursor store.Range `json:"cursor"`
	Color  string      `json:"color"`
	Name   string      `json:"name"`
}

type SelectionUpdate struct {
	Scope
	UserID    string       `json:"userId"`
	Selection *store.Range `json:"selection"`
	Color     string       `json:"color"`
	Name      string       `json:"name"`
}

type ContentSaved struct {
	Scope
	SavedAt time.Time `json:"savedAt"`
	SavedBy string    `json:"savedBy"`
}

type LockChange struct {
	Scope
	IsLocked bool    `json:"isLocked"`
	LockedBy *string `json:"lockedBy"`
}

type SyncUpdate struct {
	Scope
	Update         json.RawMessage `json:"update"`
	Origin         string          `json:"origin"`
	From           string          `json:"from"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
}

type NewMessage struct {
	Message store.Message `json:"message"`
}

type MessageDeleted struct {
	SpaceID   string `json:"spaceId"`
	MessageID string `json:"messageId"`
}

const (
	ReactionAdded   = "add"
	ReactionRemoved = "remove"
)

type ReactionUpdate struct {
	SpaceID   string `json:"spaceId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
}

type MessagesRead struct {
	SpaceID     string `json:"spaceId"`
	ReaderID    string `json:"readerId"`
	LastReadSeq *int64 `json:"lastReadSeq,omitempty"`
}

type UnreadCounts struct {
	Counts map[string]int `json:"counts"`
}

// Error is a command failure reported by the server.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

func (DocumentState) EventName() string    { return EventDocumentState }
func (UsersPresent) EventName() string     { return EventUsersPresent }
func (UserJoined) EventName() string       { return EventUserJoined }
func (UserLeft) EventName() string         { return EventUserLeft }
func (UserStatusUpdate) EventName() string { return EventUserStatusUpdate }
func (CursorUpdate) EventName() string     { return EventCursorUpdate }
func (SelectionUpdate) EventName() string  { return EventSelectionUpdate }
func (ContentSaved) EventName() string     { return EventContentSaved }
func (LockChange) EventName() string       { return EventLockChange }
func (SyncUpdate) EventName() string       { return EventSyncUpdate }
func (NewMessage) EventName() string       { return EventNewMessage }
func (MessageDeleted) EventName() string   { return EventMessageDeleted }
func (ReactionUpdate) EventName() string   { return EventReactionUpdate }
func (MessagesRead) EventName() string     { return EventMessagesRead }
func (UnreadCounts) EventName() string     { return EventUnreadCounts }
func (Error) EventName() string            { return EventError }

func (e DocumentState) DocumentScope() string { return e.State.ID }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode parses and validates one inbound frame.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrInvalidFrame)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = json.RawMessage(`{}`)
	}

	var (
		event Event
		err   error
	)
	switch env.Event {
	case EventDocumentState:
		var e DocumentState
		err = json.Unmarshal(env.Data, &e.State)
		event = e
	case EventUsersPresent:
		event, err = decodeInto[UsersPresent](env.Data)
	case EventUserJoined:
		event, err = decodeInto[UserJoined](env.Data)
	case EventUserLeft:
		event, err = decodeInto[UserLeft](env.Data)
	case EventUserStatusUpdate:
		event, err = decodeInto[UserStatusUpdate](env.Data)
	case EventCursorUpdate:
		event, err = decodeInto[CursorUpdate](env.Data)
	case EventSelectionUpdate:
		event, err = decodeInto[SelectionUpdate](env.Data)
	case EventContentSaved:
		event, err = decodeInto[ContentSaved](env.Data)
	case EventLockChange:
		event, err = decodeInto[LockChange](env.Data)
	case EventSyncUpdate:
		event, err = decodeInto[SyncUpdate](env.Data)
	case EventNewMessage:
		event, err = decodeInto[NewMessage](env.Data)
	case EventMessageDeleted:
		event, err = decodeInto[MessageDeleted](env.Data)
	case EventReactionUpdate:
		event, err = decodeInto[ReactionUpdate](env.Data)
	case EventMessagesRead:
		event, err = decodeInto[MessagesRead](env.Data)
	case EventUnreadCounts:
		event, err = decodeInto[UnreadCounts](env.Data)
	case EventError:
		event, err = decodeInto[Error](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFrame, env.Event, err)
	}
	if err := validate(event); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFrame, env.Event, err)
	}
	return event, nil
}

func decodeInto[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func validate(event Event) error {
	switch e := event.(type) {
	case UserJoined:
		if e.User.ID == "" {
			return errors.New("user.id is required")
		}
	case UserLeft:
		if e.UserID == "" {
			return errors.New("userId is required")
		}
	case UserStatusUpdate:
		if e.UserID == "" {
			return errors.New("userId is required")
		}
		switch e.Status {
		case store.StatusViewing, store.StatusEditing, store.StatusCommenting:
		default:
			return fmt.Errorf("unknown status %q", e.Status)
		}
	case CursorUpdate:
		if e.UserID == "" {
			return errors.New("userId is required")
		}
	case SelectionUpdate:
		if e.UserID == "" {
			return errors.New("userId is required")
		}
	case NewMessage:
		if e.Message.ID == "" || e.Message.SpaceID == "" {
			return errors.New("message.id and message.space_id are required")
		}
	case MessageDeleted:
		if e.MessageID == "" {
			return errors.New("messageId is required")
		}
	case ReactionUpdate:
		if e.MessageID == "" || e.UserID == "" || e.Emoji == "" {
			return errors.New("messageId, userId and emoji are required")
		}
		if e.Action != ReactionAdded && e.Action != ReactionRemoved {
			return fmt.Errorf("unknown action %q", e.Action)
		}
	case MessagesRead:
		if e.SpaceID == "" {
			return errors.New("spaceId is required")
		}
	}
	return nil
}
