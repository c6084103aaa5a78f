package store

import "sort"

type directory struct {
	spaces  []Space
	loading bool
	err     string
}

type DirectorySnapshot struct {
	Spaces  []Space `json:"spaces"`
	Loading bool    `json:"loading"`
	Error   string  `json:"error,omitempty"`
}

func (s *Store) SetSpacesLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory.loading = true
	s.directory.err = ""
}

// SetSpaces replaces the directory with a fresh server listing.
func (s *Store) SetSpaces(spaces []Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory.spaces = append([]Space{}, spaces...)
	s.directory.loading = false
	s.directory.err = ""
}

// SetSpacesError records a failed listing. The last good list is kept.
func (s *Store) SetSpacesError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory.loading = false
	s.directory.err = message
}

func (s *Store) Spaces() DirectorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DirectorySnapshot{
		Spaces:  append([]Space{}, s.directory.spaces...),
		Loading: s.directory.loading,
		Error:   s.directory.err,
	}
}

func (s *Store) Space(spaceID string) (Space, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, space := range s.directory.spaces {
		if space.ID == spaceID {
			return space, true
		}
	}
	return Space{}, false
}

// bumpSeqLocked raises the cached head sequence of a space.
func (s *Store) bumpSeqLocked(spaceID string, seq *int64) {
	if seq == nil {
		return
	}
	for i := range s.directory.spaces {
		if s.directory.spaces[i].ID == spaceID && *seq > s.directory.spaces[i].CurrentSeq {
			s.directory.spaces[i].CurrentSeq = *seq
			return
		}
	}
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
