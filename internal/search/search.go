package search

import (
	"workhub/collab/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultMessage ResultType = "message"
	ResultReply   ResultType = "reply"
	ResultSpace   ResultType = "space"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type            ResultType `json:"type"`
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Snippet         string     `json:"snippet"`
	SpaceID         string     `json:"spaceId"`
	ParentMessageID string     `json:"parentMessageId,omitempty"`
	SenderID        string     `json:"senderId,omitempty"`
	CreatedAt       int64      `json:"createdAt,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterSpaceID string
	// SpaceIDs limits hits to spaces the caller can see. Empty means no limit.
	SpaceIDs []string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexMessage(m MessageRecord) error
	IndexSpace(s SpaceRecord) error
	DeleteMessage(id string) error
}

// MessageRecord is the data we index for a message or thread reply.
type MessageRecord struct {
	ID              string `json:"id"`
	SpaceID         string `json:"spaceId"`
	SenderID        string `json:"senderId"`
	ParentMessageID string `json:"parentMessageId"`
	Content         string `json:"content"`
	Kind            string `json:"kind"`
	CreatedAt       int64  `json:"createdAt"`
}

// SpaceRecord is the data we index for a space.
type SpaceRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	Archived bool   `json:"archived"`
}

func MessageRecordFrom(m store.Message) MessageRecord {
	kind := ResultMessage
	if m.ParentMessageID != "" {
		kind = ResultReply
	}
	return MessageRecord{
		ID:              m.ID,
		SpaceID:         m.SpaceID,
		SenderID:        m.SenderID,
		ParentMessageID: m.ParentMessageID,
		Content:         m.Content,
		Kind:            string(kind),
		CreatedAt:       m.CreatedAt.Unix(),
	}
}

func SpaceRecordFrom(s store.Space) SpaceRecord {
	return SpaceRecord{
		ID:       s.ID,
		Name:     s.Name,
		Type:     string(s.Type),
		TenantID: s.TenantID,
		Archived: s.Archived,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
