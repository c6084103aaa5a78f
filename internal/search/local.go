package search

import (
	"sort"
	"strings"

	"workhub/collab/internal/store"
)

const snippetRadius = 40

// Local implements Searcher over whatever the state tree has loaded. It is
// the fallback when Meilisearch is not configured or unhealthy.
type Local struct {
	state *store.Store
}

func NewLocal(state *store.Store) *Local {
	return &Local{state: state}
}

// Healthy always returns true, the state tree is in-process.
func (l *Local) Healthy() bool {
	return true
}

// Search matches every query term case-insensitively. Message hits come back
// newest first, space hits by name.
func (l *Local) Search(q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	visible := make(map[string]bool, len(q.SpaceIDs))
	for _, id := range q.SpaceIDs {
		visible[id] = true
	}
	inScope := func(spaceID string) bool {
		if q.FilterSpaceID != "" && spaceID != q.FilterSpaceID {
			return false
		}
		return len(visible) == 0 || visible[spaceID]
	}

	var results []Result

	if q.FilterType == "" || q.FilterType == ResultMessage || q.FilterType == ResultReply {
		messages := l.state.LoadedMessages()
		for i := len(messages) - 1; i >= 0; i-- {
			m := messages[i]
			rec := MessageRecordFrom(m)
			if q.FilterType != "" && rec.Kind != string(q.FilterType) {
				continue
			}
			if !inScope(m.SpaceID) || !matchesAll(m.Content, terms) {
				continue
			}
			results = append(results, Result{
				Type:            ResultType(rec.Kind),
				ID:              m.ID,
				Title:           m.SenderID,
				Snippet:         highlight(m.Content, terms[0]),
				SpaceID:         m.SpaceID,
				ParentMessageID: m.ParentMessageID,
				SenderID:        m.SenderID,
				CreatedAt:       rec.CreatedAt,
			})
		}
	}

	if q.FilterType == "" || q.FilterType == ResultSpace {
		var spaces []Result
		for _, sp := range l.state.Spaces().Spaces {
			if sp.Archived || !inScope(sp.ID) || !matchesAll(sp.Name, terms) {
				continue
			}
			spaces = append(spaces, Result{
				Type:    ResultSpace,
				ID:      sp.ID,
				Title:   highlight(sp.Name, terms[0]),
				SpaceID: sp.ID,
			})
		}
		sort.SliceStable(spaces, func(i, j int) bool { return spaces[i].ID < spaces[j].ID })
		results = append(results, spaces...)
	}

	total := len(results)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + normalizeLimit(q.Limit)
	if end > total {
		end = total
	}
	return results[offset:end], total, nil
}

func matchesAll(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// highlight wraps the first occurrence of term in <mark> and trims the text
// to a window around it.
func highlight(text, term string) string {
	idx := strings.Index(strings.ToLower(text), term)
	if idx < 0 || len(strings.ToLower(text)) != len(text) {
		return text
	}
	start := idx - snippetRadius
	prefix := "…"
	if start <= 0 {
		start = 0
		prefix = ""
	}
	end := idx + len(term) + snippetRadius
	suffix := "…"
	if end >= len(text) {
		end = len(text)
		suffix = ""
	}
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	return prefix + text[start:idx] + "<mark>" + text[idx:idx+len(term)] + "</mark>" + text[idx+len(term):end] + suffix
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
