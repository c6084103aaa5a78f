package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxMessages = "collab_messages"
	idxSpaces   = "collab_spaces"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// An unreachable server is not an error: the client starts unhealthy and the
// health loop picks it up once it answers.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger.Named("search"),
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxMessages,
			filterable: []string{"spaceId", "senderId", "parentMessageId", "kind"},
			searchable: []string{"content"},
		},
		{
			uid:        idxSpaces,
			filterable: []string{"id", "type", "archived"},
			searchable: []string{"name"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("create index (may already exist)", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the message and space indexes (or one of them) and merges
// the hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := buildRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, sr.IndexUID))
		}
	}
	return results, total, nil
}

func buildRequests(q Query) []*meili.SearchRequest {
	limit := int64(normalizeLimit(q.Limit))
	var queries []*meili.SearchRequest

	wantMessages := q.FilterType == "" || q.FilterType == ResultMessage || q.FilterType == ResultReply
	if wantMessages {
		sr := &meili.SearchRequest{
			IndexUID:              idxMessages,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"content"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		var filters []string
		if q.FilterType != "" {
			filters = append(filters, fmt.Sprintf("kind = %q", string(q.FilterType)))
		}
		filters = append(filters, spaceFilters("spaceId", q)...)
		if len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}

	if q.FilterType == "" || q.FilterType == ResultSpace {
		sr := &meili.SearchRequest{
			IndexUID:              idxSpaces,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"name"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		filters := append([]string{"archived = false"}, spaceFilters("id", q)...)
		sr.Filter = filters
		queries = append(queries, sr)
	}
	return queries
}

func spaceFilters(field string, q Query) []string {
	var filters []string
	if q.FilterSpaceID != "" {
		filters = append(filters, fmt.Sprintf("%s = %q", field, q.FilterSpaceID))
	}
	if len(q.SpaceIDs) > 0 {
		quoted := make([]string, len(q.SpaceIDs))
		for i, id := range q.SpaceIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		filters = append(filters, fmt.Sprintf("%s IN [%s]", field, strings.Join(quoted, ", ")))
	}
	return filters
}

func hitToResult(hit meili.Hit, indexUID string) Result {
	var r Result
	switch indexUID {
	case idxSpaces:
		r.Type = ResultSpace
		r.ID = decodeString(hit, "id")
		r.SpaceID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
	default:
		r.Type = ResultType(firstNonBlank(decodeString(hit, "kind"), string(ResultMessage)))
		r.ID = decodeString(hit, "id")
		r.SpaceID = decodeString(hit, "spaceId")
		r.SenderID = decodeString(hit, "senderId")
		r.ParentMessageID = decodeString(hit, "parentMessageId")
		r.Title = r.SenderID
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
		r.CreatedAt = decodeInt(hit, "createdAt")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexMessage adds or updates a message in the search index.
func (m *Meili) IndexMessage(rec MessageRecord) error {
	_, err := m.client.Index(idxMessages).AddDocuments([]MessageRecord{rec}, nil)
	return err
}

// IndexSpace adds or updates a space in the search index.
func (m *Meili) IndexSpace(rec SpaceRecord) error {
	_, err := m.client.Index(idxSpaces).AddDocuments([]SpaceRecord{rec}, nil)
	return err
}

// DeleteMessage removes a message from the search index.
func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}

// IndexMessages bulk-indexes messages.
func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(records, nil)
	return err
}

// IndexSpaces bulk-indexes spaces.
func (m *Meili) IndexSpaces(records []SpaceRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSpaces).AddDocuments(records, nil)
	return err
}
