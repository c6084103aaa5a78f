// Package versions lists, creates and restores document versions against the
// resource store, a local git mirror, or both.
package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"workhub/collab/internal/gitrepo"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/store"
)

// Store is a version backend. List is ordered newest first. Restore returns
// the content of the chosen version and never snapshots the current content
// on its own.
type Store interface {
	List(ctx context.Context, documentID string) ([]store.DocumentVersion, error)
	Create(ctx context.Context, documentID, summary string) (store.DocumentVersion, error)
	Restore(ctx context.Context, documentID, versionID string) (json.RawMessage, error)
}

// RemoteAPI is the part of the resource store client versions need.
type RemoteAPI interface {
	ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error)
	CreateVersion(ctx context.Context, documentID, summary string) (store.DocumentVersion, error)
	RestoreVersion(ctx context.Context, documentID, versionID string) (json.RawMessage, error)
}

// ContentSource returns the current content of a document.
type ContentSource func(documentID string) json.RawMessage

func sortNewestFirst(list []store.DocumentVersion) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Number > list[j].Number
	})
}

type REST struct {
	api RemoteAPI
}

func NewREST(api RemoteAPI) *REST {
	return &REST{api: api}
}

func (r *REST) List(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	list, err := r.api.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	sortNewestFirst(list)
	return list, nil
}

func (r *REST) Create(ctx context.Context, documentID, summary string) (store.DocumentVersion, error) {
	v, err := r.api.CreateVersion(ctx, documentID, summary)
	if err != nil {
		return store.DocumentVersion{}, fmt.Errorf("create version: %w", err)
	}
	return v, nil
}

func (r *REST) Restore(ctx context.Context, documentID, versionID string) (json.RawMessage, error) {
	content, err := r.api.RestoreVersion(ctx, documentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("restore version %s: %w", versionID, err)
	}
	return content, nil
}

// Git keeps versions in a local repository per document.
type Git struct {
	repo    *gitrepo.Service
	content ContentSource
	author  string
	now     func() time.Time
}

func NewGit(repo *gitrepo.Service, content ContentSource, author string) *Git {
	return &Git{repo: repo, content: content, author: author, now: time.Now}
}

func (g *Git) List(_ context.Context, documentID string) ([]store.DocumentVersion, error) {
	list, err := g.repo.Versions(documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	sortNewestFirst(list)
	return list, nil
}

func (g *Git) Create(_ context.Context, documentID, summary string) (store.DocumentVersion, error) {
	return g.commit(documentID, summary, "")
}

func (g *Git) commit(documentID, summary, remoteID string) (store.DocumentVersion, error) {
	v, err := g.repo.Commit(documentID, g.content(documentID), gitrepo.CommitOptions{
		Author:   g.author,
		Summary:  summary,
		RemoteID: remoteID,
		When:     g.now(),
	})
	if err != nil {
		return store.DocumentVersion{}, fmt.Errorf("create version: %w", err)
	}
	return v, nil
}

func (g *Git) Restore(_ context.Context, documentID, versionID string) (json.RawMessage, error) {
	content, err := g.repo.Content(documentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("restore version %s: %w", versionID, err)
	}
	return content, nil
}

// Mirrored uses the resource store as the source of truth and copies every
// version it creates into the local git mirror. Restore falls back to the
// mirror when the resource store cannot be reached.
type Mirrored struct {
	remote *REST
	mirror *Git
	logger *zap.Logger
}

func NewMirrored(remote *REST, mirror *Git, logger *zap.Logger) *Mirrored {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirrored{remote: remote, mirror: mirror, logger: logger.Named("versions")}
}

func (m *Mirrored) List(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	return m.remote.List(ctx, documentID)
}

func (m *Mirrored) Create(ctx context.Context, documentID, summary string) (store.DocumentVersion, error) {
	v, err := m.remote.Create(ctx, documentID, summary)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	if _, err := m.mirror.commit(documentID, summary, v.ID); err != nil {
		m.logger.Warn("version mirror failed",
			zap.String("document_id", documentID),
			zap.String("version_id", v.ID),
			zap.Error(err))
	}
	return v, nil
}

func (m *Mirrored) Restore(ctx context.Context, documentID, versionID string) (json.RawMessage, error) {
	content, err := m.remote.Restore(ctx, documentID, versionID)
	if err == nil {
		return content, nil
	}
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		return nil, err
	}
	local, mirrorErr := m.mirror.Restore(ctx, documentID, versionID)
	if mirrorErr != nil {
		return nil, err
	}
	m.logger.Info("restored from local mirror",
		zap.String("document_id", documentID),
		zap.String("version_id", versionID),
		zap.NamedError("remote_error", err))
	return local, nil
}

// RestoreWithSnapshot records the current content as a new version and then
// restores versionID.
func RestoreWithSnapshot(ctx context.Context, s Store, documentID, versionID, summary string) (store.DocumentVersion, json.RawMessage, error) {
	snapshot, err := s.Create(ctx, documentID, summary)
	if err != nil {
		return store.DocumentVersion{}, nil, err
	}
	content, err := s.Restore(ctx, documentID, versionID)
	if err != nil {
		return snapshot, nil, err
	}
	return snapshot, content, nil
}
