package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"workhub/collab/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile   = "content.json"
	mainBranch    = "main"
	remoteTrailer = "Version-Id: "
)

var ErrVersionNotFound = errors.New("version not found")

// CommitOptions describes one version snapshot.
type CommitOptions struct {
	Author  string
	Summary string
	// RemoteID is the resource store's id for the same version, if any.
	RemoteID string
	When     time.Time
}

// Service keeps one git repository per document under baseDir. Every version
// is a commit on main; a version's number is its commit depth.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records content as the next version of documentID, creating the
// repository on first use.
func (s *Service) Commit(documentID string, content json.RawMessage, opts CommitOptions) (store.DocumentVersion, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(documentID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.DocumentVersion{}, fmt.Errorf("open worktree: %w", err)
	}

	payload := bytes.TrimSpace(content)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(append([]byte{}, payload...), '\n'), 0o644); err != nil {
		return store.DocumentVersion{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return store.DocumentVersion{}, fmt.Errorf("git add content: %w", err)
	}

	when := opts.When
	if when.IsZero() {
		when = time.Now()
	}
	author := opts.Author
	if author == "" {
		author = "collab"
	}
	hash, err := worktree.Commit(commitMessage(opts), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.collab", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return store.DocumentVersion{}, fmt.Errorf("commit content: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.DocumentVersion{}, fmt.Errorf("read commit object: %w", err)
	}
	depth, err := commitDepth(repo, hash)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	return toVersion(commitObj, depth), nil
}

// Versions lists every version of documentID, newest first.
func (s *Service) Versions(documentID string) ([]store.DocumentVersion, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []store.DocumentVersion{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	commits, err := mainHistory(repo)
	if err != nil {
		return nil, err
	}
	versions := make([]store.DocumentVersion, 0, len(commits))
	for i, commitObj := range commits {
		versions = append(versions, toVersion(commitObj, len(commits)-i))
	}
	return versions, nil
}

// Content returns the content stored for a version. ref is a commit hash
// (full or abbreviated) or the remote version id recorded at commit time.
func (s *Service) Content(documentID, ref string) (json.RawMessage, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty ref", ErrVersionNotFound)
	}
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	commits, err := mainHistory(repo)
	if err != nil {
		return nil, err
	}
	for _, commitObj := range commits {
		if strings.HasPrefix(commitObj.Hash.String(), ref) || remoteID(commitObj.Message) == ref {
			return readContentFromCommit(commitObj)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, ref)
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func mainHistory(repo *git.Repository) ([]*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(commitObj *object.Commit) error {
		commits = append(commits, commitObj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return commits, nil
}

func commitDepth(repo *git.Repository, hash plumbing.Hash) (int, error) {
	iter, err := repo.Log(&git.LogOptions{From: hash})
	if err != nil {
		return 0, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()
	depth := 0
	err = iter.ForEach(func(*object.Commit) error {
		depth++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate log: %w", err)
	}
	return depth, nil
}

func commitMessage(opts CommitOptions) string {
	summary := strings.TrimSpace(opts.Summary)
	if summary == "" {
		summary = "Snapshot"
	}
	if opts.RemoteID == "" {
		return summary
	}
	return summary + "\n\n" + remoteTrailer + opts.RemoteID
}

func remoteID(message string) string {
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, remoteTrailer) {
			return strings.TrimSpace(strings.TrimPrefix(line, remoteTrailer))
		}
	}
	return ""
}

func summaryOf(message string) string {
	first, _, _ := strings.Cut(message, "\n")
	first = strings.TrimSpace(first)
	if first == "Snapshot" {
		return ""
	}
	return first
}

func readContentFromCommit(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("decode commit content: invalid json in %s", commitObj.Hash)
	}
	return json.RawMessage(data), nil
}

func toVersion(commitObj *object.Commit, number int) store.DocumentVersion {
	id := remoteID(commitObj.Message)
	if id == "" {
		id = commitObj.Hash.String()[:7]
	}
	return store.DocumentVersion{
		ID:            id,
		Number:        number,
		ChangeSummary: summaryOf(commitObj.Message),
		CreatedBy:     commitObj.Author.Name,
		CreatedAt:     commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
