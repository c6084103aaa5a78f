package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"workhub/collab/internal/attachments"
	"workhub/collab/internal/channel"
	"workhub/collab/internal/config"
	"workhub/collab/internal/rbac"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/store"
	"workhub/collab/internal/versions"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seq(n int64) *int64 {
	return &n
}

type fakeChannel struct {
	mu      sync.Mutex
	epoch   uint64
	sent    []channel.Command
	emitErr error
	status  store.ConnectionStatus
	events  chan channel.Delivery

	afterJoin func(epoch uint64)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{status: store.ConnectionConnected, events: make(chan channel.Delivery, 16)}
}

// Join mirrors channel.Client.Join. afterJoin runs once the frame is queued
// and before Join returns, standing in for a server reply that races the
// caller.
func (f *fakeChannel) Join(payload channel.JoinDocument, subscribed func(epoch uint64)) (uint64, error) {
	f.mu.Lock()
	f.epoch++
	epoch := f.epoch
	f.mu.Unlock()
	if subscribed != nil {
		subscribed(epoch)
	}

	f.mu.Lock()
	err := f.emitErr
	if err == nil {
		f.sent = append(f.sent, payload)
	}
	afterJoin := f.afterJoin
	f.mu.Unlock()
	if err != nil {
		return epoch, err
	}
	if afterJoin != nil {
		afterJoin(epoch)
	}
	return epoch, nil
}

func (f *fakeChannel) Leave() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
	return f.epoch
}

func (f *fakeChannel) Emit(cmd channel.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) Status() store.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeChannel) Events() <-chan channel.Delivery {
	return f.events
}

func (f *fakeChannel) commands(name string) []channel.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []channel.Command
	for _, cmd := range f.sent {
		if cmd.CommandName() == name {
			out = append(out, cmd)
		}
	}
	return out
}

type fakeAPI struct {
	listSpacesFn       func(context.Context, []store.SpaceType) ([]store.Space, error)
	listMessagesFn     func(context.Context, string, string, int) (store.Page, error)
	listThreadFn       func(context.Context, string, string, int) (store.Page, error)
	unreadCountsFn     func(context.Context) (map[string]int, error)
	markSpaceReadFn    func(context.Context, string, *int64) error
	deleteMessageFn    func(context.Context, string) error
	addReactionFn      func(context.Context, string, string) error
	removeReactionFn   func(context.Context, string, string) error
	listPermissionsFn  func(context.Context, string) (rest.PermissionList, error)
	setPermissionFn    func(context.Context, string, string, rbac.Level) (store.DocumentPermission, error)
	removePermissionFn func(context.Context, string, string) error
	setLockFn          func(context.Context, string, bool) (rest.LockState, error)
	listTemplatesFn    func(context.Context) ([]store.Template, error)
	pingFn             func(context.Context) error
	listVersionsFn     func(context.Context, string) ([]store.DocumentVersion, error)
	createVersionFn    func(context.Context, string, string) (store.DocumentVersion, error)
	restoreVersionFn   func(context.Context, string, string) (json.RawMessage, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) ListSpaces(ctx context.Context, types []store.SpaceType) ([]store.Space, error) {
	f.record("ListSpaces")
	if f.listSpacesFn != nil {
		return f.listSpacesFn(ctx, types)
	}
	return nil, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, spaceID, before string, limit int) (store.Page, error) {
	f.record("ListMessages")
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, spaceID, before, limit)
	}
	return store.Page{}, nil
}

func (f *fakeAPI) ListThread(ctx context.Context, parentID, before string, limit int) (store.Page, error) {
	f.record("ListThread")
	if f.listThreadFn != nil {
		return f.listThreadFn(ctx, parentID, before, limit)
	}
	return store.Page{}, nil
}

func (f *fakeAPI) UnreadCounts(ctx context.Context) (map[string]int, error) {
	f.record("UnreadCounts")
	if f.unreadCountsFn != nil {
		return f.unreadCountsFn(ctx)
	}
	return map[string]int{}, nil
}

func (f *fakeAPI) MarkSpaceRead(ctx context.Context, spaceID string, lastReadSeq *int64) error {
	f.record("MarkSpaceRead")
	if f.markSpaceReadFn != nil {
		return f.markSpaceReadFn(ctx, spaceID, lastReadSeq)
	}
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageID string) error {
	f.record("DeleteMessage")
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return nil
}

func (f *fakeAPI) AddReaction(ctx context.Context, messageID, emoji string) error {
	f.record("AddReaction")
	if f.addReactionFn != nil {
		return f.addReactionFn(ctx, messageID, emoji)
	}
	return nil
}

func (f *fakeAPI) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	f.record("RemoveReaction")
	if f.removeReactionFn != nil {
		return f.removeReactionFn(ctx, messageID, emoji)
	}
	return nil
}

func (f *fakeAPI) ListPermissions(ctx context.Context, documentID string) (rest.PermissionList, error) {
	f.record("ListPermissions")
	if f.listPermissionsFn != nil {
		return f.listPermissionsFn(ctx, documentID)
	}
	return rest.PermissionList{}, nil
}

func (f *fakeAPI) SetPermission(ctx context.Context, documentID, userID string, level rbac.Level) (store.DocumentPermission, error) {
	f.record("SetPermission")
	if f.setPermissionFn != nil {
		return f.setPermissionFn(ctx, documentID, userID, level)
	}
	return store.DocumentPermission{UserID: userID, Permission: level}, nil
}

func (f *fakeAPI) RemovePermission(ctx context.Context, documentID, userID string) error {
	f.record("RemovePermission")
	if f.removePermissionFn != nil {
		return f.removePermissionFn(ctx, documentID, userID)
	}
	return nil
}

func (f *fakeAPI) SetLock(ctx context.Context, documentID string, isLocked bool) (rest.LockState, error) {
	f.record("SetLock")
	if f.setLockFn != nil {
		return f.setLockFn(ctx, documentID, isLocked)
	}
	return rest.LockState{IsLocked: isLocked}, nil
}

func (f *fakeAPI) ListTemplates(ctx context.Context) ([]store.Template, error) {
	f.record("ListTemplates")
	if f.listTemplatesFn != nil {
		return f.listTemplatesFn(ctx)
	}
	return nil, nil
}

func (f *fakeAPI) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeAPI) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	f.record("ListVersions")
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeAPI) CreateVersion(ctx context.Context, documentID, summary string) (store.DocumentVersion, error) {
	f.record("CreateVersion")
	if f.createVersionFn != nil {
		return f.createVersionFn(ctx, documentID, summary)
	}
	return store.DocumentVersion{ID: "ver_new", ChangeSummary: summary}, nil
}

func (f *fakeAPI) RestoreVersion(ctx context.Context, documentID, versionID string) (json.RawMessage, error) {
	f.record("RestoreVersion")
	if f.restoreVersionFn != nil {
		return f.restoreVersionFn(ctx, documentID, versionID)
	}
	return nil, nil
}

type fakeUploader struct {
	uploadFn func(context.Context, string, attachments.Upload) (store.Attachment, error)
}

func (f *fakeUploader) Upload(ctx context.Context, spaceID string, file attachments.Upload) (store.Attachment, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, spaceID, file)
	}
	return store.Attachment{ID: "att_1", Name: file.Name, ContentType: file.ContentType, Size: file.Size}, nil
}

type testEnv struct {
	svc   *Service
	ch    *fakeChannel
	api   *fakeAPI
	state *store.Store
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ch := newFakeChannel()
	api := &fakeAPI{}
	state := store.New("u_me")
	svc := New(config.Config{TenantID: "t_1", ProjectID: "p_1", PageSize: 50}, Deps{
		State:    state,
		Channel:  ch,
		API:      api,
		Versions: versions.NewREST(api),
	})
	svc.now = func() time.Time { return base }
	return testEnv{svc: svc, ch: ch, api: api, state: state}
}

// deliver applies event as if it arrived on the current channel epoch.
func (e testEnv) deliver(event channel.Event) {
	e.ch.mu.Lock()
	epoch := e.ch.epoch
	e.ch.mu.Unlock()
	e.svc.apply(channel.Delivery{Epoch: epoch, Event: event, ReceivedAt: base})
}
