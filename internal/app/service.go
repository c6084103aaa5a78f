package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"workhub/collab/internal/attachments"
	"workhub/collab/internal/channel"
	"workhub/collab/internal/config"
	"workhub/collab/internal/rbac"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/search"
	"workhub/collab/internal/session"
	"workhub/collab/internal/store"
	"workhub/collab/internal/util"
	"workhub/collab/internal/versions"
)

type channelClient interface {
	Join(channel.JoinDocument, func(epoch uint64)) (uint64, error)
	Leave() uint64
	Emit(channel.Command) error
	Status() store.ConnectionStatus
	Events() <-chan channel.Delivery
}

type resourceAPI interface {
	ListSpaces(context.Context, []store.SpaceType) ([]store.Space, error)
	ListMessages(context.Context, string, string, int) (store.Page, error)
	ListThread(context.Context, string, string, int) (store.Page, error)
	UnreadCounts(context.Context) (map[string]int, error)
	MarkSpaceRead(context.Context, string, *int64) error
	DeleteMessage(context.Context, string) error
	AddReaction(context.Context, string, string) error
	RemoveReaction(context.Context, string, string) error
	ListPermissions(context.Context, string) (rest.PermissionList, error)
	SetPermission(context.Context, string, string, rbac.Level) (store.DocumentPermission, error)
	RemovePermission(context.Context, string, string) error
	SetLock(context.Context, string, bool) (rest.LockState, error)
	ListTemplates(context.Context) ([]store.Template, error)
	Ping(ctx context.Context) error
}

type sessionCache interface {
	Save(context.Context, session.Snapshot) error
	Load(context.Context) (session.Snapshot, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Service drives. Cache, Uploader and Search
// are optional.
type Deps struct {
	State    *store.Store
	Channel  channelClient
	API      resourceAPI
	Versions versions.Store
	Cache    sessionCache
	Uploader attachments.Uploader
	Search   *search.Service
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	logger   *zap.Logger
	state    *store.Store
	channel  channelClient
	api      resourceAPI
	versions versions.Store
	cache    sessionCache
	uploader attachments.Uploader
	search   *search.Service

	// origin tags our own sync-update frames so their echo can be ignored.
	origin string
	now    func() time.Time

	mu             sync.Mutex
	activeDocument string
	documentEpoch  uint64
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		logger:   logger,
		state:    deps.State,
		channel:  deps.Channel,
		api:      deps.API,
		versions: deps.Versions,
		cache:    deps.Cache,
		uploader: deps.Uploader,
		search:   deps.Search,
		origin:   util.NewID("client"),
		now:      time.Now,
	}
}

func (s *Service) State() *store.Store {
	return s.state
}

// ObserveConnection returns a channel status callback that mirrors the
// connection into the state tree.
func ObserveConnection(state *store.Store) func(store.ConnectionStatus, error) {
	return func(status store.ConnectionStatus, err error) {
		message := ""
		if err != nil {
			message = err.Error()
		}
		state.SetConnection(status, message)
	}
}

// Bootstrap restores the cached session and loads the space directory and
// unread counters. Only a failing directory load is fatal.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.RestoreSession(ctx); err != nil {
		s.logger.Warn("session restore failed", zap.Error(err))
	}
	if err := s.LoadSpaces(ctx); err != nil {
		return err
	}
	if err := s.RefreshUnread(ctx); err != nil {
		s.logger.Warn("unread refresh failed", zap.Error(err))
	}
	if active := s.state.ActiveSpace(); active != "" {
		if _, err := s.FetchPage(ctx, active, false); err != nil {
			s.logger.Warn("active space load failed", zap.String("space_id", active), zap.Error(err))
		}
	}
	return nil
}

// Run applies channel deliveries one at a time until the channel closes or
// ctx is done. With a pending timeout configured it also sweeps stale sends.
func (s *Service) Run(ctx context.Context) error {
	events := s.channel.Events()

	var sweep <-chan time.Time
	if s.cfg.PendingTimeout > 0 {
		interval := s.cfg.PendingTimeout / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-events:
			if !ok {
				return nil
			}
			s.apply(d)
		case now := <-sweep:
			s.SweepPending(now)
		}
	}
}

// SaveSession writes unread counters, pending sends and the active space to
// the snapshot cache.
func (s *Service) SaveSession(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	snap := session.Snapshot{
		ActiveSpace: s.state.ActiveSpace(),
		Unread:      s.state.UnreadCounts(),
		Pending:     s.state.Pending(),
	}
	if err := s.cache.Save(ctx, snap); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) RestoreSession(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	snap, err := s.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if snap.ActiveSpace != "" {
		s.state.SetActiveSpace(snap.ActiveSpace)
	}
	if len(snap.Unread) > 0 {
		s.state.SetUnreadCounts(snap.Unread)
	}
	restored := s.state.RestorePending(snap.Pending)
	s.logger.Info("session restored",
		zap.String("active_space", snap.ActiveSpace),
		zap.Int("unread_spaces", len(snap.Unread)),
		zap.Int("pending", restored),
	)
	return nil
}

// ReadinessChecks pings every backing service and reports per-check errors.
func (s *Service) ReadinessChecks(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if status := s.channel.Status(); status != store.ConnectionConnected {
		checks["channel"] = fmt.Errorf("channel %s", status)
	} else {
		checks["channel"] = nil
	}
	checks["api"] = s.api.Ping(ctx)
	if s.cache != nil {
		checks["redis"] = s.cache.Ping(ctx)
	}
	return checks
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	if len(q.SpaceIDs) == 0 {
		for _, sp := range s.state.Spaces().Spaces {
			q.SpaceIDs = append(q.SpaceIDs, sp.ID)
		}
	}
	return s.search.Search(q)
}

func (s *Service) joinedDocument() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDocument == "" {
		return "", 0, ErrNotJoined
	}
	return s.activeDocument, s.documentEpoch, nil
}

func isChannelDown(err error) bool {
	return errors.Is(err, channel.ErrNotConnected) || errors.Is(err, channel.ErrSendBufferFull)
}
