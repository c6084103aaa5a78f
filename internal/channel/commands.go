package channel

import (
	"encoding/json"
	"fmt"

	"workhub/collab/internal/store"
)

const (
	CommandJoinDocument    = "join-document"
	CommandLeaveDocument   = "leave-document"
	CommandCursorMove      = "cursor-move"
	CommandSelectionChange = "selection-change"
	CommandStatusChange    = "status-change"
	CommandSyncUpdate      = "sync-update"
	CommandContentSave     = "content-save"
	CommandMessageSend     = "message-send"
)

// Command is one outbound frame.
type Command interface {
	CommandName() string
}

type JoinDocument struct {
	DocumentID string `json:"documentId"`
	ProjectID  string `json:"projectId"`
	TenantID   string `json:"tenantId"`
	UserID     string `json:"userId"`
}

type LeaveDocument struct {
	DocumentID string `json:"documentId"`
}

type MoveCursor struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type ChangeSelection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type ChangeStatus struct {
	Status store.PresenceStatus `json:"status"`
}

type BroadcastSync struct {
	DocumentID     string          `json:"documentId"`
	ProjectID      string          `json:"projectId"`
	TenantID       string          `json:"tenantId"`
	Update         json.RawMessage `json:"update"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
	Origin         string          `json:"origin"`
}

type SaveContent struct {
	DocumentID string          `json:"documentId"`
	ProjectID  string          `json:"projectId"`
	TenantID   string          `json:"tenantId"`
	Content    json.RawMessage `json:"content"`
}

type SendMessage struct {
	SpaceID         string             `json:"space_id"`
	ParentMessageID string             `json:"parent_message_id,omitempty"`
	Content         string             `json:"content"`
	ContentType     string             `json:"content_type,omitempty"`
	ClientMessageID string             `json:"client_message_id"`
	Attachments     []store.Attachment `json:"attachments,omitempty"`
	Mentions        []string           `json:"mentions,omitempty"`
}

func (JoinDocument) CommandName() string    { return CommandJoinDocument }
func (LeaveDocument) CommandName() string   { return CommandLeaveDocument }
func (MoveCursor) CommandName() string      { return CommandCursorMove }
func (ChangeSelection) CommandName() string { return CommandSelectionChange }
func (ChangeStatus) CommandName() string    { return CommandStatusChange }
func (BroadcastSync) CommandName() string   { return CommandSyncUpdate }
func (SaveContent) CommandName() string     { return CommandContentSave }
func (SendMessage) CommandName() string     { return CommandMessageSend }

func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandName(), err)
	}
	return json.Marshal(envelope{Event: cmd.CommandName(), Data: data})
}
