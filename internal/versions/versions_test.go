package versions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"workhub/collab/internal/gitrepo"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/store"
)

type fakeRemote struct {
	listFn    func(context.Context, string) ([]store.DocumentVersion, error)
	createFn  func(context.Context, string, string) (store.DocumentVersion, error)
	restoreFn func(context.Context, string, string) (json.RawMessage, error)
	calls     []string
}

func (f *fakeRemote) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	f.calls = append(f.calls, "list")
	if f.listFn != nil {
		return f.listFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeRemote) CreateVersion(ctx context.Context, documentID, summary string) (store.DocumentVersion, error) {
	f.calls = append(f.calls, "create")
	if f.createFn != nil {
		return f.createFn(ctx, documentID, summary)
	}
	return store.DocumentVersion{}, nil
}

func (f *fakeRemote) RestoreVersion(ctx context.Context, documentID, versionID string) (json.RawMessage, error) {
	f.calls = append(f.calls, "restore")
	if f.restoreFn != nil {
		return f.restoreFn(ctx, documentID, versionID)
	}
	return nil, nil
}

func staticContent(raw string) ContentSource {
	return func(string) json.RawMessage { return json.RawMessage(raw) }
}

func TestRESTListIsNewestFirst(t *testing.T) {
	remote := &fakeRemote{listFn: func(context.Context, string) ([]store.DocumentVersion, error) {
		return []store.DocumentVersion{{ID: "v1", Number: 1}, {ID: "v3", Number: 3}, {ID: "v2", Number: 2}}, nil
	}}
	list, err := NewREST(remote).List(context.Background(), "doc_1")
	if err != nil {
		t.Fatal(err)
	}
	if list[0].ID != "v3" || list[2].ID != "v1" {
		t.Fatalf("list = %+v", list)
	}
}

func TestRestoreDoesNotSnapshot(t *testing.T) {
	remote := &fakeRemote{restoreFn: func(context.Context, string, string) (json.RawMessage, error) {
		return json.RawMessage(`{"text":"old"}`), nil
	}}
	content, err := NewREST(remote).Restore(context.Background(), "doc_1", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"text":"old"}` {
		t.Fatalf("content = %s", content)
	}
	if len(remote.calls) != 1 || remote.calls[0] != "restore" {
		t.Fatalf("calls = %v", remote.calls)
	}
}

func TestRestoreWithSnapshot(t *testing.T) {
	remote := &fakeRemote{
		createFn: func(_ context.Context, _ string, summary string) (store.DocumentVersion, error) {
			return store.DocumentVersion{ID: "v4", Number: 4, ChangeSummary: summary}, nil
		},
		restoreFn: func(context.Context, string, string) (json.RawMessage, error) {
			return json.RawMessage(`{"text":"old"}`), nil
		},
	}
	snap, content, err := RestoreWithSnapshot(context.Background(), NewREST(remote), "doc_1", "v1", "before restore")
	if err != nil {
		t.Fatal(err)
	}
	if snap.ID != "v4" || string(content) != `{"text":"old"}` {
		t.Fatalf("snapshot = %+v content = %s", snap, content)
	}
	if len(remote.calls) != 2 || remote.calls[0] != "create" || remote.calls[1] != "restore" {
		t.Fatalf("calls = %v", remote.calls)
	}
}

func TestRestoreWithSnapshotStopsWhenSnapshotFails(t *testing.T) {
	remote := &fakeRemote{createFn: func(context.Context, string, string) (store.DocumentVersion, error) {
		return store.DocumentVersion{}, &rest.APIError{Status: 403, Message: "forbidden"}
	}}
	if _, _, err := RestoreWithSnapshot(context.Background(), NewREST(remote), "doc_1", "v1", ""); err == nil {
		t.Fatal("expected error")
	}
	if len(remote.calls) != 1 {
		t.Fatalf("restore should not run: %v", remote.calls)
	}
}

func TestGitBackend(t *testing.T) {
	content := `{"text":"now"}`
	g := NewGit(gitrepo.New(t.TempDir()), func(string) json.RawMessage { return json.RawMessage(content) }, "Avery")
	ctx := context.Background()

	v1, err := g.Create(ctx, "doc_1", "first")
	if err != nil {
		t.Fatal(err)
	}
	content = `{"text":"later"}`
	if _, err := g.Create(ctx, "doc_1", "second"); err != nil {
		t.Fatal(err)
	}

	list, err := g.List(ctx, "doc_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Number != 2 {
		t.Fatalf("list = %+v", list)
	}

	restored, err := g.Restore(ctx, "doc_1", v1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != `{"text":"now"}` {
		t.Fatalf("restored = %s", restored)
	}
	if list, _ := g.List(ctx, "doc_1"); len(list) != 2 {
		t.Fatal("restore must not add a version")
	}
}

func TestMirroredCopiesAndFallsBack(t *testing.T) {
	mirror := NewGit(gitrepo.New(t.TempDir()), staticContent(`{"text":"mirrored"}`), "Avery")
	reachable := true
	remote := &fakeRemote{
		createFn: func(context.Context, string, string) (store.DocumentVersion, error) {
			return store.DocumentVersion{ID: "ver_7", Number: 7}, nil
		},
		restoreFn: func(context.Context, string, string) (json.RawMessage, error) {
			if !reachable {
				return nil, errors.New("dial tcp: connection refused")
			}
			return nil, &rest.APIError{Status: 404, Message: "version not found"}
		},
	}
	m := NewMirrored(NewREST(remote), mirror, nil)
	ctx := context.Background()

	v, err := m.Create(ctx, "doc_1", "mirror me")
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != "ver_7" {
		t.Fatalf("version = %+v", v)
	}

	if _, err := m.Restore(ctx, "doc_1", "ver_7"); !rest.IsNotFound(err) {
		t.Fatalf("API errors should pass through, got %v", err)
	}

	reachable = false
	content, err := m.Restore(ctx, "doc_1", "ver_7")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"text":"mirrored"}` {
		t.Fatalf("content = %s", content)
	}

	if _, err := m.Restore(ctx, "doc_1", "ver_unknown"); err == nil {
		t.Fatal("expected the remote error when the mirror has nothing")
	}
}
