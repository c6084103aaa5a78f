package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"workhub/collab/internal/attachments"
	"workhub/collab/internal/channel"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/store"
	"workhub/collab/internal/util"
)

type SendOptions struct {
	ParentMessageID string
	ContentType     string
	Mentions        []string
	Files           []attachments.Upload
}

// LoadSpaces replaces the directory with the spaces of the given types, all
// types when none are given. On failure the previous list stays.
func (s *Service) LoadSpaces(ctx context.Context, types ...store.SpaceType) error {
	s.state.SetSpacesLoading()
	spaces, err := s.api.ListSpaces(ctx, types)
	if err != nil {
		s.state.SetSpacesError(rest.Message(err, "failed to load spaces"))
		return fmt.Errorf("load spaces: %w", err)
	}
	if len(types) > 0 {
		wanted := make(map[store.SpaceType]bool, len(types))
		for _, t := range types {
			wanted[t] = true
		}
		filtered := spaces[:0]
		for _, sp := range spaces {
			if wanted[sp.Type] {
				filtered = append(filtered, sp)
			}
		}
		spaces = filtered
	}
	s.state.SetSpaces(spaces)
	if s.search != nil {
		s.search.ReindexAll(spaces, nil)
	}
	return nil
}

// FetchPage loads the latest page of a space, or with older set the page
// before the oldest loaded message.
func (s *Service) FetchPage(ctx context.Context, spaceID string, older bool) (store.MergeResult, error) {
	before := ""
	if older {
		if oldest, ok := s.state.OldestMessage(spaceID); ok {
			before = oldest.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
	}

	s.state.SetTimelineLoading(spaceID)
	page, err := s.api.ListMessages(ctx, spaceID, before, s.cfg.PageSize)
	if err != nil {
		s.state.SetTimelineError(spaceID, rest.Message(err, "failed to load messages"))
		return store.MergeResult{}, fmt.Errorf("load messages for %s: %w", spaceID, err)
	}
	res := s.state.ApplyPage(spaceID, page, before != "")
	if s.search != nil {
		s.search.ReindexAll(nil, page.Messages)
	}
	s.logger.Debug("timeline page applied",
		zap.String("space_id", spaceID),
		zap.String("direction", string(res.Direction)),
		zap.Int("added", res.Added),
	)
	return res, nil
}

// FetchThread loads the latest replies under parentID, or with older set the
// replies before the oldest loaded one.
func (s *Service) FetchThread(ctx context.Context, parentID string, older bool) (store.MergeResult, error) {
	before := ""
	if older {
		if oldest, ok := s.state.OldestReply(parentID); ok {
			before = oldest.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
	}

	s.state.SetThreadLoading(parentID)
	page, err := s.api.ListThread(ctx, parentID, before, s.cfg.PageSize)
	if err != nil {
		s.state.SetThreadError(parentID, rest.Message(err, "failed to load thread"))
		return store.MergeResult{}, fmt.Errorf("load thread %s: %w", parentID, err)
	}
	res := s.state.ApplyThreadPage(parentID, page, before != "")
	if s.search != nil {
		s.search.ReindexAll(nil, page.Messages)
	}
	return res, nil
}

// SendMessage shows the message at once as a provisional entry and emits it.
// The entry is reconciled when the server echoes the client message id back.
// An emit failure is returned but the entry stays pending; nothing retries.
func (s *Service) SendMessage(ctx context.Context, spaceID, content string, opts SendOptions) (store.Message, error) {
	spaceID = strings.TrimSpace(spaceID)
	if spaceID == "" {
		return store.Message{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "spaceId is required", nil)
	}
	if strings.TrimSpace(content) == "" && len(opts.Files) == 0 {
		return store.Message{}, domainError(http.StatusBadRequest, "EMPTY_MESSAGE", "Message content is required", nil)
	}

	var uploaded []store.Attachment
	if len(opts.Files) > 0 {
		if s.uploader == nil {
			return store.Message{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachment storage is not configured", nil)
		}
		for _, file := range opts.Files {
			att, err := s.uploader.Upload(ctx, spaceID, file)
			if err != nil {
				return store.Message{}, fmt.Errorf("send message: %w", err)
			}
			uploaded = append(uploaded, att)
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text"
	}
	cid := util.NewCorrelationID()
	now := s.now()
	msg := store.Message{
		ID:              cid,
		ClientMessageID: cid,
		TenantID:        s.cfg.TenantID,
		SpaceID:         spaceID,
		SenderID:        s.state.CurrentUserID(),
		ParentMessageID: opts.ParentMessageID,
		Content:         content,
		ContentType:     contentType,
		Metadata:        store.MessageMetadata{Mentions: opts.Mentions},
		Attachments:     uploaded,
		CreatedAt:       now,
	}
	s.state.AddProvisional(msg, now)

	err := s.channel.Emit(channel.SendMessage{
		SpaceID:         spaceID,
		ParentMessageID: opts.ParentMessageID,
		Content:         content,
		ContentType:     contentType,
		ClientMessageID: cid,
		Attachments:     uploaded,
		Mentions:        opts.Mentions,
	})
	if err != nil {
		level := s.logger.Warn
		if !isChannelDown(err) {
			level = s.logger.Error
		}
		level("message left pending", zap.String("client_message_id", cid), zap.String("space_id", spaceID), zap.Error(err))
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a message locally by id or client message id and,
// when the server knows it, deletes it there too. Deleting twice is fine.
func (s *Service) DeleteMessage(ctx context.Context, messageKey string) error {
	existing, found := s.state.FindMessage(messageKey)
	s.state.DeleteMessage(messageKey)

	serverID := messageKey
	if found {
		serverID = existing.ID
	}
	if util.IsProvisionalID(serverID) {
		return nil
	}
	if s.search != nil {
		s.search.DeleteMessage(serverID)
	}
	if err := s.api.DeleteMessage(ctx, serverID); err != nil && !rest.IsNotFound(err) {
		return fmt.Errorf("delete message %s: %w", serverID, err)
	}
	return nil
}

// React adds the local user's emoji to a message. The local change is rolled
// back if the server refuses it.
func (s *Service) React(ctx context.Context, messageID, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "emoji is required", nil)
	}
	userID := s.state.CurrentUserID()
	added := s.state.AddReaction(messageID, userID, emoji)
	if util.IsProvisionalID(messageID) {
		return nil
	}
	if err := s.api.AddReaction(ctx, messageID, emoji); err != nil {
		if added {
			s.state.RemoveReaction(messageID, userID, emoji)
		}
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (s *Service) Unreact(ctx context.Context, messageID, emoji string) error {
	userID := s.state.CurrentUserID()
	removed := s.state.RemoveReaction(messageID, userID, emoji)
	if util.IsProvisionalID(messageID) {
		return nil
	}
	if err := s.api.RemoveReaction(ctx, messageID, emoji); err != nil {
		if removed {
			s.state.AddReaction(messageID, userID, emoji)
		}
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// ActivateSpace makes spaceID the space the user is looking at, zeroes its
// unread counter and tells the server how far the user has read.
func (s *Service) ActivateSpace(ctx context.Context, spaceID string) error {
	s.state.SetActiveSpace(spaceID)
	if spaceID == "" {
		return nil
	}
	var lastReadSeq *int64
	if sp, ok := s.state.Space(spaceID); ok && sp.CurrentSeq > 0 {
		seq := sp.CurrentSeq
		lastReadSeq = &seq
	}
	if err := s.api.MarkSpaceRead(ctx, spaceID, lastReadSeq); err != nil {
		return fmt.Errorf("mark space %s read: %w", spaceID, err)
	}
	return nil
}

// RefreshUnread replaces every unread counter with the server's.
func (s *Service) RefreshUnread(ctx context.Context) error {
	counts, err := s.api.UnreadCounts(ctx)
	if err != nil {
		return fmt.Errorf("refresh unread counts: %w", err)
	}
	s.state.SetUnreadCounts(counts)
	return nil
}

// SweepPending marks sends older than the configured timeout as failed.
func (s *Service) SweepPending(now time.Time) []store.PendingSend {
	failed := s.state.ExpirePending(now, s.cfg.PendingTimeout)
	for _, p := range failed {
		s.logger.Warn("send timed out",
			zap.String("client_message_id", p.CorrelationID()),
			zap.String("space_id", p.Message.SpaceID),
			zap.Duration("age", now.Sub(p.SentAt)),
		)
	}
	return failed
}
