package search

import (
	"go.uber.org/zap"

	"workhub/collab/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local state tree.
type Service struct {
	meili  *Meili
	local  *Local
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, local *Local, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, local: local, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to the local index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to local search", zap.Error(err))
	}

	if s.local == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.local.Search(q)
	if err != nil {
		s.logger.Warn("local search error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage indexes a confirmed message (fire-and-forget to Meilisearch).
// Provisional messages are skipped, their server id is not known yet.
func (s *Service) IndexMessage(m store.Message) {
	if s.meili == nil || !s.meili.Healthy() || m.Deleted || m.ID == "" || m.ID == m.ClientMessageID {
		return
	}
	rec := MessageRecordFrom(m)
	go func() {
		if err := s.meili.IndexMessage(rec); err != nil {
			s.logger.Warn("index message", zap.String("id", rec.ID), zap.Error(err))
		}
	}()
}

// DeleteMessage removes a message from the search index (fire-and-forget).
func (s *Service) DeleteMessage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			s.logger.Warn("delete message", zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes the given spaces and messages to Meilisearch. Called
// after the space directory and timelines have loaded.
func (s *Service) ReindexAll(spaces []store.Space, messages []store.Message) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	spaceRecords := make([]SpaceRecord, 0, len(spaces))
	for _, sp := range spaces {
		spaceRecords = append(spaceRecords, SpaceRecordFrom(sp))
	}
	messageRecords := make([]MessageRecord, 0, len(messages))
	for _, m := range messages {
		if m.Deleted || m.ID == m.ClientMessageID {
			continue
		}
		messageRecords = append(messageRecords, MessageRecordFrom(m))
	}

	if err := s.meili.IndexSpaces(spaceRecords); err != nil {
		s.logger.Warn("reindex spaces", zap.Error(err))
	}
	if err := s.meili.IndexMessages(messageRecords); err != nil {
		s.logger.Warn("reindex messages", zap.Error(err))
	}
}

// Healthy reports whether any backend can answer.
func (s *Service) Healthy() bool {
	if s.meili != nil && s.meili.Healthy() {
		return true
	}
	return s.local != nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
