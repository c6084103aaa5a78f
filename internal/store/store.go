// Package store owns the client-side collaboration state tree.
//
// Every region (presence, documents, spaces, timelines, threads, pending
// sends, unread counters, connection) is mutated only through the typed
// methods on Store and read through copies, so callers never alias the
// internal slices and maps.
package store

import (
	"sync"
)

type Store struct {
	mu sync.RWMutex

	currentUserID string
	connection    ConnectionStatus
	connectionErr string

	documents map[string]*documentRegion
	directory directory
	timelines map[string]*timeline
	threads   map[string]*timeline
	pending   map[string]*PendingSend

	unread      map[string]int
	activeSpace string
}

func New(currentUserID string) *Store {
	return &Store{
		currentUserID: currentUserID,
		connection:    ConnectionIdle,
		documents:     make(map[string]*documentRegion),
		timelines:     make(map[string]*timeline),
		threads:       make(map[string]*timeline),
		pending:       make(map[string]*PendingSend),
		unread:        make(map[string]int),
	}
}

func (s *Store) CurrentUserID() string {
	return s.currentUserID
}

func (s *Store) SetConnection(status ConnectionStatus, errMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = status
	s.connectionErr = errMessage
}

func (s *Store) Connection() (ConnectionStatus, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection, s.connectionErr
}

// Summary is a compact, copy-only view of the whole tree.
type Summary struct {
	CurrentUserID string           `json:"currentUserId"`
	Connection    ConnectionStatus `json:"connection"`
	ConnectionErr string           `json:"connectionError,omitempty"`
	Documents     []string         `json:"documents"`
	Spaces        int              `json:"spaces"`
	Timelines     int              `json:"timelines"`
	Threads       int              `json:"threads"`
	Pending       int              `json:"pending"`
	ActiveSpace   string           `json:"activeSpace,omitempty"`
	Unread        map[string]int   `json:"unread"`
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]string, 0, len(s.documents))
	for id := range s.documents {
		docs = append(docs, id)
	}
	return Summary{
		CurrentUserID: s.currentUserID,
		Connection:    s.connection,
		ConnectionErr: s.connectionErr,
		Documents:     sortedStrings(docs),
		Spaces:        len(s.directory.spaces),
		Timelines:     len(s.timelines),
		Threads:       len(s.threads),
		Pending:       len(s.pending),
		ActiveSpace:   s.activeSpace,
		Unread:        copyCounts(s.unread),
	}
}
