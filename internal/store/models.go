package store

import (
	"encoding/json"
	"time"

	"workhub/collab/internal/rbac"
)

type SpaceType string

const (
	SpaceDirect  SpaceType = "direct"
	SpaceGroup   SpaceType = "group"
	SpaceProject SpaceType = "project"
	SpaceTenant  SpaceType = "tenant"
)

type Space struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Type       SpaceType `json:"type"`
	Name       string    `json:"name"`
	Archived   bool      `json:"archived"`
	CreatedBy  string    `json:"created_by"`
	CurrentSeq int64     `json:"current_seq"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
}

type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type MessageMetadata struct {
	Mentions     []string      `json:"mentions,omitempty"`
	LinkPreviews []LinkPreview `json:"link_previews,omitempty"`
}

type Message struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	SpaceID         string          `json:"space_id"`
	SenderID        string          `json:"sender_id"`
	ParentMessageID string          `json:"parent_message_id,omitempty"`
	Content         string          `json:"content"`
	ContentType     string          `json:"content_type"`
	Metadata        MessageMetadata `json:"metadata"`
	Deleted         bool            `json:"is_deleted"`
	EditedAt        *time.Time      `json:"edited_at,omitempty"`
	Seq             *int64          `json:"seq"`
	ClientMessageID string          `json:"client_message_id,omitempty"`
	Reactions       []Reaction      `json:"reactions"`
	Attachments     []Attachment    `json:"attachments"`
	CreatedAt       time.Time       `json:"created_at"`

	// Local-only. Both only ever move from false to true.
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`

	SendFailed bool `json:"send_failed,omitempty"`
}

// Page is one server response for a timeline or thread fetch.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

type PresenceStatus string

const (
	StatusViewing    PresenceStatus = "viewing"
	StatusEditing    PresenceStatus = "editing"
	StatusCommenting PresenceStatus = "commenting"
)

type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type CollaboratorPresence struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Color     string         `json:"color"`
	Cursor    Range          `json:"cursor"`
	Selection *Range         `json:"selection,omitempty"`
	Status    PresenceStatus `json:"status"`
	JoinedAt  time.Time      `json:"joinedAt"`
}

type DocumentState struct {
	ID                string          `json:"documentId"`
	Title             string          `json:"title"`
	Content           json.RawMessage `json:"content,omitempty"`
	IsLocked          bool            `json:"isLocked"`
	LockedBy          *string         `json:"lockedBy,omitempty"`
	UserPermission    rbac.Level      `json:"userPermission"`
	DefaultPermission rbac.Level      `json:"defaultPermission,omitempty"`
	LastSavedAt       *time.Time      `json:"lastSavedAt,omitempty"`
	LastSavedBy       string          `json:"lastSavedBy,omitempty"`
}

type DocumentPermission struct {
	UserID     string     `json:"userId"`
	Permission rbac.Level `json:"permission"`
	GrantedAt  time.Time  `json:"grantedAt"`
	GrantedBy  string     `json:"grantedBy"`
}

type DocumentVersion struct {
	ID            string    `json:"id"`
	Number        int       `json:"versionNumber"`
	ChangeSummary string    `json:"changeSummary,omitempty"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// RemoteEdit is the latest ephemeral sync frame received from another editor.
type RemoteEdit struct {
	Update         json.RawMessage `json:"update"`
	Origin         string          `json:"origin"`
	From           string          `json:"from"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
	ReceivedAt     time.Time       `json:"receivedAt"`
}

type ConnectionStatus string

const (
	ConnectionIdle         ConnectionStatus = "idle"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)
