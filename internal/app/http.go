package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"workhub/collab/internal/channel"
	"workhub/collab/internal/rbac"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/search"
	"workhub/collab/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.ReadinessChecks(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "state":
		s.handleState(w, r, parts[2:])
	case "search":
		s.handleSearch(w, r)
	case "spaces":
		s.handleSpaces(w, r, parts[2:])
	case "messages":
		s.handleMessages(w, r, parts[2:])
	case "documents":
		s.handleDocuments(w, r, parts[2:])
	case "templates":
		s.handleTemplates(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	state := s.service.State()
	query := r.URL.Query()

	switch parts[0] {
	case "summary":
		writeJSON(w, http.StatusOK, state.Summary())
	case "presence":
		documentID := strings.TrimSpace(query.Get("documentId"))
		if documentID == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "documentId is required", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "users": state.Collaborators(documentID)})
	case "document":
		documentID := strings.TrimSpace(query.Get("documentId"))
		doc, ok := state.Document(documentID)
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Document not loaded", nil)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case "spaces":
		writeJSON(w, http.StatusOK, state.Spaces())
	case "timeline":
		spaceID := strings.TrimSpace(query.Get("spaceId"))
		if spaceID == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "spaceId is required", nil)
			return
		}
		writeJSON(w, http.StatusOK, state.Timeline(spaceID))
	case "thread":
		parentID := strings.TrimSpace(query.Get("parentId"))
		if parentID == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "parentId is required", nil)
			return
		}
		writeJSON(w, http.StatusOK, state.Thread(parentID))
	case "unread":
		writeJSON(w, http.StatusOK, map[string]any{"counts": state.UnreadCounts(), "activeSpace": state.ActiveSpace()})
	case "pending":
		writeJSON(w, http.StatusOK, map[string]any{"pending": state.Pending()})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:          text,
		FilterType:    search.ResultType(query.Get("type")),
		FilterSpaceID: query.Get("spaceId"),
		Limit:         limit,
		Offset:        offset,
	}))
}

func (s *HTTPServer) handleSpaces(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var types []store.SpaceType
		for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, store.SpaceType(t))
			}
		}
		if err := s.service.LoadSpaces(ctx, types...); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.service.State().Spaces())
		return
	}

	spaceID := parts[0]
	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "load":
		older := r.URL.Query().Get("older") == "true"
		res, err := s.service.FetchPage(ctx, spaceID, older)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"direction": res.Direction, "added": res.Added})
	case "activate":
		if err := s.service.ActivateSpace(ctx, spaceID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activeSpace": spaceID})
	case "messages":
		var body struct {
			Content         string   `json:"content"`
			ParentMessageID string   `json:"parentMessageId"`
			ContentType     string   `json:"contentType"`
			Mentions        []string `json:"mentions"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		msg, err := s.service.SendMessage(ctx, spaceID, body.Content, SendOptions{
			ParentMessageID: body.ParentMessageID,
			ContentType:     body.ContentType,
			Mentions:        body.Mentions,
		})
		if err != nil && msg.ClientMessageID == "" {
			s.writeMappedError(w, err)
			return
		}
		payload := map[string]any{"message": msg}
		if err != nil {
			payload["warning"] = err.Error()
		}
		writeJSON(w, http.StatusAccepted, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	messageID := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteMessage(ctx, messageID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 2 && parts[1] == "thread" && r.Method == http.MethodPost {
		older := r.URL.Query().Get("older") == "true"
		if _, err := s.service.FetchThread(ctx, messageID, older); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.service.State().Thread(messageID))
		return
	}

	if len(parts) == 2 && parts[1] == "reactions" && (r.Method == http.MethodPost || r.Method == http.MethodDelete) {
		var body struct {
			Emoji string `json:"emoji"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var err error
		if r.Method == http.MethodPost {
			err = s.service.React(ctx, messageID, body.Emoji)
		} else {
			err = s.service.Unreact(ctx, messageID, body.Emoji)
		}
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && parts[0] == "leave" && r.Method == http.MethodPost {
		s.service.LeaveDocument()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	documentID := parts[0]

	switch {
	case parts[1] == "permissions":
		s.handlePermissions(w, r, documentID, parts[2:])
	case parts[1] == "versions":
		s.handleVersions(w, r, documentID, parts[2:])
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleDocumentAction(w, r, documentID, parts[1])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocumentAction(w http.ResponseWriter, r *http.Request, documentID, action string) {
	ctx := r.Context()

	switch action {
	case "join":
		if err := s.service.JoinDocument(ctx, documentID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID})
		return
	case "lock":
		lock, err := s.service.ToggleLock(ctx, documentID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lock)
		return
	case "save", "sync", "cursor", "selection", "status":
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// The remaining actions go out on the live subscription.
	if s.service.ActiveDocument() != documentID {
		s.writeMappedError(w, ErrNotJoined)
		return
	}

	var body struct {
		Content        json.RawMessage      `json:"content"`
		Update         json.RawMessage      `json:"update"`
		CursorPosition *int                 `json:"cursorPosition"`
		From           int                  `json:"from"`
		To             int                  `json:"to"`
		Status         store.PresenceStatus `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var err error
	switch action {
	case "save":
		if len(body.Content) == 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "content is required", nil)
			return
		}
		err = s.service.SaveContent(body.Content)
	case "sync":
		if len(body.Update) == 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "update is required", nil)
			return
		}
		err = s.service.BroadcastEdit(body.Update, body.CursorPosition)
	case "cursor":
		err = s.service.MoveCursor(body.From, body.To)
	case "selection":
		err = s.service.ChangeSelection(body.From, body.To)
	case "status":
		err = s.service.ChangeStatus(body.Status)
	}
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	doc, _ := s.service.State().Document(documentID)
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handlePermissions(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodPost {
		if err := s.service.LoadPermissions(ctx, documentID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		doc, _ := s.service.State().Document(documentID)
		writeJSON(w, http.StatusOK, doc)
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	userID := parts[0]

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Permission string `json:"permission"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		grant, err := s.service.SetPermission(ctx, documentID, userID, rbac.Level(strings.TrimSpace(body.Permission)))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)
	case http.MethodDelete:
		if err := s.service.RemovePermission(ctx, documentID, userID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			list, err := s.service.ListVersions(ctx, documentID)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			if list == nil {
				list = []store.DocumentVersion{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": list})
		case http.MethodPost:
			var body struct {
				Summary string `json:"summary"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			version, err := s.service.CreateVersion(ctx, documentID, body.Summary)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, version)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost {
		var body struct {
			SnapshotFirst bool `json:"snapshotFirst"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		content, err := s.service.RestoreVersion(ctx, documentID, parts[0], body.SnapshotFirst)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "versionId": parts[0], "content": content})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if templates == nil {
		templates = []store.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code == "" {
			code = "UPSTREAM_ERROR"
		}
		return apiErr.Status, code, apiErr.Message, nil
	}
	if errors.Is(err, ErrNotJoined) {
		return http.StatusConflict, "NOT_JOINED", "No document joined", nil
	}
	if errors.Is(err, channel.ErrNotConnected) || errors.Is(err, channel.ErrSendBufferFull) {
		return http.StatusServiceUnavailable, "CHANNEL_UNAVAILABLE", "Event channel unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
