package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"workhub/collab/internal/store"
)

var (
	ErrNotConnected   = errors.New("channel: not connected")
	ErrSendBufferFull = errors.New("channel: send buffer full")
)

const (
	defaultSendBuffer  = 64
	defaultEventBuffer = 256
	closeWriteTimeout  = 2 * time.Second
)

// Delivery is an inbound event stamped with the subscription epoch that was
// current when the frame arrived.
type Delivery struct {
	Epoch      uint64
	Event      Event
	ReceivedAt time.Time
}

type Options struct {
	URL         string
	Token       string
	TenantID    string
	SendBuffer  int
	EventBuffer int
	Dialer      *websocket.Dialer
	// OnStatus is called on every connection status change, from the
	// goroutine that observed it.
	OnStatus func(status store.ConnectionStatus, err error)
	Logger   *zap.Logger
}

type Client struct {
	opts   Options
	logger *zap.Logger

	// connLock guards conn writes; gorilla allows one concurrent writer.
	connLock sync.Mutex
	conn     *websocket.Conn

	send    chan []byte
	events  chan Delivery
	closeCh chan struct{}
	stop    sync.Once
	loops   sync.WaitGroup

	epoch atomic.Uint64

	mu     sync.Mutex
	status store.ConnectionStatus
	joined *JoinDocument
}

func New(opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		logger: logger.Named("channel"),
		events: make(chan Delivery, opts.EventBuffer),
		status: store.ConnectionIdle,
	}
}

// Connect dials the channel and starts the read and write loops. A client
// connects once; after a disconnect callers build a new Client.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(store.ConnectionConnecting, nil)

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.TenantID != "" {
		header.Set("X-Tenant-ID", c.opts.TenantID)
	}

	conn, res, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		c.setStatus(store.ConnectionDisconnected, err)
		return fmt.Errorf("dial channel %s: %w", c.opts.URL, err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	c.mu.Lock()
	c.send = make(chan []byte, c.opts.SendBuffer)
	c.closeCh = make(chan struct{})
	c.mu.Unlock()

	c.loops.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.setStatus(store.ConnectionConnected, nil)
	c.logger.Info("channel connected", zap.String("url", c.opts.URL))
	return nil
}

// Events yields decoded inbound events. The channel is closed when the
// connection ends.
func (c *Client) Events() <-chan Delivery {
	return c.events
}

func (c *Client) Epoch() uint64 {
	return c.epoch.Load()
}

func (c *Client) Status() store.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Joined returns the active document subscription, if any.
func (c *Client) Joined() (JoinDocument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined == nil {
		return JoinDocument{}, false
	}
	return *c.joined, true
}

// Emit queues cmd for sending without blocking.
func (c *Client) Emit(cmd Command) error {
	data, err := Encode(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	send, closeCh, status := c.send, c.closeCh, c.status
	c.mu.Unlock()
	if send == nil || status != store.ConnectionConnected {
		return ErrNotConnected
	}
	select {
	case <-closeCh:
		return ErrNotConnected
	default:
	}

	select {
	case send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Join subscribes to a document and returns the new epoch. Events stamped
// with an older epoch belong to an earlier subscription. subscribed, when
// set, runs with the new epoch before the join frame is queued, so replies
// to the join never reach a caller that has not recorded the epoch yet.
func (c *Client) Join(payload JoinDocument, subscribed func(epoch uint64)) (uint64, error) {
	epoch := c.epoch.Add(1)
	c.mu.Lock()
	joined := payload
	c.joined = &joined
	c.mu.Unlock()
	if subscribed != nil {
		subscribed(epoch)
	}
	if err := c.Emit(payload); err != nil {
		c.mu.Lock()
		if c.joined != nil && c.joined.DocumentID == payload.DocumentID {
			c.joined = nil
		}
		c.mu.Unlock()
		return epoch, err
	}
	c.logger.Debug("joined document", zap.String("document_id", payload.DocumentID), zap.Uint64("epoch", epoch))
	return epoch, nil
}

// Leave ends the current document subscription. The departure notice is
// best-effort; the epoch advances either way.
func (c *Client) Leave() uint64 {
	c.mu.Lock()
	joined := c.joined
	c.joined = nil
	c.mu.Unlock()

	if joined != nil {
		if err := c.Emit(LeaveDocument{DocumentID: joined.DocumentID}); err != nil {
			c.logger.Debug("leave notice not sent", zap.String("document_id", joined.DocumentID), zap.Error(err))
		}
	}
	return c.epoch.Add(1)
}

// Close leaves any joined document, flushes queued frames and closes the
// connection.
func (c *Client) Close() error {
	c.mu.Lock()
	connected := c.closeCh != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	c.Leave()
	c.shutdown(nil)
	c.loops.Wait()
	return nil
}

func (c *Client) shutdown(cause error) {
	c.stop.Do(func() {
		c.mu.Lock()
		close(c.closeCh)
		c.mu.Unlock()
		c.setStatus(store.ConnectionDisconnected, cause)
	})
}

func (c *Client) setStatus(status store.ConnectionStatus, err error) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(status, err)
	}
}

func (c *Client) readLoop() {
	defer c.loops.Done()
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("channel read failed", zap.Error(err))
				}
				c.shutdown(err)
			}
			return
		}

		event, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping inbound frame", zap.Error(err))
			continue
		}

		delivery := Delivery{Epoch: c.epoch.Load(), Event: event, ReceivedAt: time.Now()}
		select {
		case c.events <- delivery:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) writeLoop() {
	defer c.loops.Done()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.logger.Warn("channel write failed", zap.Error(err))
				c.shutdown(err)
			}
		case <-c.closeCh:
			c.flush()
			c.closeConn()
			return
		}
	}
}

// flush writes whatever is still queued, ignoring failures.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(data []byte) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) closeConn() {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	deadline := time.Now().Add(closeWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("close frame not sent", zap.Error(err))
	}
	c.conn.Close()
}
