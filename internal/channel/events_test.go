package channel

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"workhub/collab/internal/store"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		frame   string
		want    string
		wantErr error
	}{
		{name: "document state", frame: `{"event":"document-state","data":{"documentId":"doc_1","isLocked":true,"userPermission":"comment"}}`, want: EventDocumentState},
		{name: "users present", frame: `{"event":"users-present","data":{"users":[{"id":"u1"}]}}`, want: EventUsersPresent},
		{name: "user joined", frame: `{"event":"user-joined","data":{"user":{"id":"u1"},"allUsers":[{"id":"u1"}]}}`, want: EventUserJoined},
		{name: "user left", frame: `{"event":"user-left","data":{"userId":"u1","allUsers":[]}}`, want: EventUserLeft},
		{name: "status", frame: `{"event":"user-status-update","data":{"userId":"u1","status":"editing"}}`, want: EventUserStatusUpdate},
		{name: "selection cleared", frame: `{"event":"selection-update","data":{"userId":"u1","selection":null}}`, want: EventSelectionUpdate},
		{name: "content saved", frame: `{"event":"content-saved","data":{"savedAt":"2026-03-01T10:00:00Z","savedBy":"u1"}}`, want: EventContentSaved},
		{name: "lock change", frame: `{"event":"lock-change","data":{"isLocked":false}}`, want: EventLockChange},
		{name: "sync update", frame: `{"event":"sync-update","data":{"update":{"ops":[]},"origin":"o1","from":"u1"}}`, want: EventSyncUpdate},
		{name: "new message", frame: `{"event":"new-message","data":{"message":{"id":"m1","space_id":"sp_1","seq":3}}}`, want: EventNewMessage},
		{name: "reaction", frame: `{"event":"reaction-update","data":{"messageId":"m1","userId":"u1","emoji":"+1","action":"add"}}`, want: EventReactionUpdate},
		{name: "read", frame: `{"event":"messages-read","data":{"spaceId":"sp_1","readerId":"u2","lastReadSeq":5}}`, want: EventMessagesRead},
		{name: "unread", frame: `{"event":"unread-counts","data":{"counts":{"sp_1":2}}}`, want: EventUnreadCounts},
		{name: "error", frame: `{"event":"error","data":{"code":"forbidden","message":"no"}}`, want: EventError},
		{name: "missing data", frame: `{"event":"lock-change"}`, want: EventLockChange},

		{name: "not json", frame: `nope`, wantErr: ErrInvalidFrame},
		{name: "no name", frame: `{"data":{}}`, wantErr: ErrInvalidFrame},
		{name: "unknown", frame: `{"event":"rename-space","data":{}}`, wantErr: ErrUnknownEvent},
		{name: "bad status", frame: `{"event":"user-status-update","data":{"userId":"u1","status":"sleeping"}}`, wantErr: ErrInvalidFrame},
		{name: "joined without id", frame: `{"event":"user-joined","data":{"user":{}}}`, wantErr: ErrInvalidFrame},
		{name: "message without space", frame: `{"event":"new-message","data":{"message":{"id":"m1"}}}`, wantErr: ErrInvalidFrame},
		{name: "reaction bad action", frame: `{"event":"reaction-update","data":{"messageId":"m1","userId":"u1","emoji":"x","action":"toggle"}}`, wantErr: ErrInvalidFrame},
		{name: "wrong type", frame: `{"event":"lock-change","data":{"isLocked":"yes"}}`, wantErr: ErrInvalidFrame},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := Decode([]byte(tc.frame))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Decode(%s) error = %v, want %v", tc.frame, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%s) error = %v", tc.frame, err)
			}
			if event.EventName() != tc.want {
				t.Fatalf("Decode(%s) = %q, want %q", tc.frame, event.EventName(), tc.want)
			}
		})
	}
}

func TestDecodeFields(t *testing.T) {
	event, err := Decode([]byte(`{"event":"content-saved","data":{"documentId":"doc_1","savedAt":"2026-03-01T10:00:00Z","savedBy":"u1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	saved := event.(ContentSaved)
	if saved.DocumentScope() != "doc_1" || saved.SavedBy != "u1" || !saved.SavedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("content saved = %+v", saved)
	}

	event, err = Decode([]byte(`{"event":"document-state","data":{"documentId":"doc_2","isLocked":true,"lockedBy":"u9","userPermission":"view"}}`))
	if err != nil {
		t.Fatal(err)
	}
	state := event.(DocumentState)
	if state.DocumentScope() != "doc_2" || !state.State.IsLocked || *state.State.LockedBy != "u9" {
		t.Fatalf("document state = %+v", state)
	}

	event, err = Decode([]byte(`{"event":"new-message","data":{"message":{"id":"abc","space_id":"sp_1","seq":42,"client_message_id":"temp-1000"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	m := event.(NewMessage).Message
	if m.ID != "abc" || *m.Seq != 42 || m.ClientMessageID != "temp-1000" {
		t.Fatalf("message = %+v", m)
	}
}

func TestEncode(t *testing.T) {
	pos := 4
	data, err := Encode(BroadcastSync{DocumentID: "doc_1", Update: json.RawMessage(`{"a":1}`), CursorPosition: &pos, Origin: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != CommandSyncUpdate || env.Data["origin"] != "o1" || env.Data["cursorPosition"] != float64(4) {
		t.Fatalf("encoded = %s", data)
	}

	data, err = Encode(SendMessage{SpaceID: "sp_1", Content: "hi", ClientMessageID: "temp-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != CommandMessageSend || env.Data["space_id"] != "sp_1" || env.Data["client_message_id"] != "temp-1" {
		t.Fatalf("encoded = %s", data)
	}
	if _, ok := env.Data["parent_message_id"]; ok {
		t.Fatal("empty parent should be omitted")
	}
}

func TestStatusValues(t *testing.T) {
	event, err := Decode([]byte(`{"event":"user-status-update","data":{"userId":"u1","status":"commenting"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if event.(UserStatusUpdate).Status != store.StatusCommenting {
		t.Fatalf("status = %+v", event)
	}
}
