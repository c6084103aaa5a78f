// Package rest is the client for the external resource store: spaces,
// messages, documents and their permissions, versions and templates.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"workhub/collab/internal/rbac"
	"workhub/collab/internal/store"
)

type Client struct {
	baseURL    string
	token      string
	tenantID   string
	httpClient *http.Client
}

func New(baseURL, token, tenantID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any, fallback string) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return newAPIError(res.StatusCode, data, fallback)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func pageQuery(before string, limit int) url.Values {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) ListSpaces(ctx context.Context, types []store.SpaceType) ([]store.Space, error) {
	q := url.Values{}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		q.Set("type", strings.Join(names, ","))
	}
	var out struct {
		Spaces []store.Space `json:"spaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/spaces", q, nil, &out, "failed to load spaces"); err != nil {
		return nil, err
	}
	return out.Spaces, nil
}

// ListMessages fetches one page of a space timeline. before is the
// created_at cursor of the oldest loaded message, empty for the newest page.
func (c *Client) ListMessages(ctx context.Context, spaceID, before string, limit int) (store.Page, error) {
	var page store.Page
	path := "/api/chat/spaces/" + url.PathEscape(spaceID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, pageQuery(before, limit), nil, &page, "failed to load messages"); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

func (c *Client) ListThread(ctx context.Context, parentID, before string, limit int) (store.Page, error) {
	var page store.Page
	path := "/api/chat/messages/" + url.PathEscape(parentID) + "/thread"
	if err := c.do(ctx, http.MethodGet, path, pageQuery(before, limit), nil, &page, "failed to load thread"); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	var out struct {
		Counts map[string]int `json:"counts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/unread", nil, nil, &out, "failed to load unread counts"); err != nil {
		return nil, err
	}
	if out.Counts == nil {
		out.Counts = map[string]int{}
	}
	return out.Counts, nil
}

func (c *Client) MarkSpaceRead(ctx context.Context, spaceID string, lastReadSeq *int64) error {
	body := map[string]*int64{"lastReadSeq": lastReadSeq}
	path := "/api/chat/spaces/" + url.PathEscape(spaceID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, body, nil, "failed to mark space read")
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/messages/"+url.PathEscape(messageID), nil, nil, nil, "failed to delete message")
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{"emoji": emoji}, nil, "failed to add reaction")
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.do(ctx, http.MethodDelete, path, nil, map[string]string{"emoji": emoji}, nil, "failed to remove reaction")
}

type PermissionList struct {
	DefaultPermission rbac.Level                 `json:"defaultPermission"`
	Permissions       []store.DocumentPermission `json:"permissions"`
}

func documentPath(documentID string, rest ...string) string {
	parts := append([]string{"/api/documents", url.PathEscape(documentID)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) ListPermissions(ctx context.Context, documentID string) (PermissionList, error) {
	var out PermissionList
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, "permissions"), nil, nil, &out, "failed to load permissions"); err != nil {
		return PermissionList{}, err
	}
	out.DefaultPermission = rbac.Normalize(string(out.DefaultPermission))
	return out, nil
}

func (c *Client) SetPermission(ctx context.Context, documentID, userID string, level rbac.Level) (store.DocumentPermission, error) {
	var out store.DocumentPermission
	path := documentPath(documentID, "permissions", url.PathEscape(userID))
	body := map[string]rbac.Level{"permission": level}
	if err := c.do(ctx, http.MethodPut, path, nil, body, &out, "failed to update permission"); err != nil {
		return store.DocumentPermission{}, err
	}
	if out.UserID == "" {
		out.UserID = userID
	}
	if out.Permission == "" {
		out.Permission = level
	}
	return out, nil
}

func (c *Client) RemovePermission(ctx context.Context, documentID, userID string) error {
	path := documentPath(documentID, "permissions", url.PathEscape(userID))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil, "failed to remove permission")
}

type LockState struct {
	IsLocked bool    `json:"isLocked"`
	LockedBy *string `json:"lockedBy"`
}

func (c *Client) SetLock(ctx context.Context, documentID string, isLocked bool) (LockState, error) {
	out := LockState{IsLocked: isLocked}
	body := map[string]bool{"isLocked": isLocked}
	if err := c.do(ctx, http.MethodPost, documentPath(documentID, "lock"), nil, body, &out, "failed to update lock"); err != nil {
		return LockState{}, err
	}
	return out, nil
}

func (c *Client) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	var out struct {
		Versions []store.DocumentVersion `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, "versions"), nil, nil, &out, "failed to load versions"); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) CreateVersion(ctx context.Context, documentID, summary string) (store.DocumentVersion, error) {
	var out store.DocumentVersion
	body := map[string]string{"changeSummary": summary}
	if err := c.do(ctx, http.MethodPost, documentPath(documentID, "versions"), nil, body, &out, "failed to create version"); err != nil {
		return store.DocumentVersion{}, err
	}
	return out, nil
}

func (c *Client) RestoreVersion(ctx context.Context, documentID, versionID string) (json.RawMessage, error) {
	var out struct {
		Content json.RawMessage `json:"content"`
	}
	path := documentPath(documentID, "versions", url.PathEscape(versionID), "restore")
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out, "failed to restore version"); err != nil {
		return nil, err
	}
	return out.Content, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]store.Template, error) {
	var out struct {
		Templates []store.Template `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/documents/templates", nil, nil, &out, "failed to load templates"); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// Ping checks that the resource store answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, nil, "resource store unavailable")
}
