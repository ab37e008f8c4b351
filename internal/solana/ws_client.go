package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/observability"
)

var (
	errClientClosed = errors.New("ws: client closed")
	errConnLost     = errors.New("ws: connection lost before reply")
	errNotConnected = errors.New("ws: not connected")
)

// WSClientConfig tunes the logs subscriber. Zero fields take the
// DefaultWSConfig value.
type WSClientConfig struct {
	ReconnectDelay    time.Duration // first backoff step, doubled per failed dial
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration // extended by every message and pong
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	SubscribeTimeout  time.Duration
	BufferSize        int // per subscription

	Logger logrus.FieldLogger
}

// DefaultWSConfig returns the production settings.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        10000,
	}
}

func (c WSClientConfig) withDefaults() WSClientConfig {
	d := DefaultWSConfig()
	durations := []struct{ v, def *time.Duration }{
		{&c.ReconnectDelay, &d.ReconnectDelay},
		{&c.MaxReconnectDelay, &d.MaxReconnectDelay},
		{&c.PingInterval, &d.PingInterval},
		{&c.ReadTimeout, &d.ReadTimeout},
		{&c.WriteTimeout, &d.WriteTimeout},
		{&c.HandshakeTimeout, &d.HandshakeTimeout},
		{&c.SubscribeTimeout, &d.SubscribeTimeout},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// logSub is one SubscribeLogs caller. It outlives connections; only its
// node-side id changes.
type logSub struct {
	filter LogsFilter
	ch     chan LogNotification
}

type pendingSub struct {
	sub   *logSub
	fresh bool // first subscription, not a resubscribe
	done  chan error
}

// LogsSubscriber is a WSClient over gorilla/websocket. One goroutine owns
// reading and reconnecting; writes are serialized by writeMu.
type LogsSubscriber struct {
	endpoint string
	cfg      WSClientConfig
	logger   logrus.FieldLogger
	dialer   websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	closed  bool
	gen     uint64 // bumped per installed connection
	all     []*logSub
	byID    map[int64]*logSub // ids of the current connection only
	pending map[uint64]*pendingSub

	nextID     atomic.Uint64
	reconnects atomic.Int64
	done       chan struct{}
	wg         sync.WaitGroup
}

var _ WSClient = (*LogsSubscriber)(nil)

// NewWSClient dials endpoint and starts the read and keepalive loops. A nil
// config uses DefaultWSConfig.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*LogsSubscriber, error) {
	var cfg WSClientConfig
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	c := &LogsSubscriber{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   cfg.Logger.WithField("component", "ws"),
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		byID:     make(map[int64]*logSub),
		pending:  make(map[uint64]*pendingSub),
		done:     make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.supervise(conn)
	go c.keepalive()
	return c, nil
}

// Reconnects counts re-established connections.
func (c *LogsSubscriber) Reconnects() int64 { return c.reconnects.Load() }

// SubscribeLogs sends logsSubscribe and waits for the node's id. The
// returned channel is resubscribed after every reconnect.
func (c *LogsSubscriber) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	sub := &logSub{filter: filter, ch: make(chan LogNotification, c.cfg.BufferSize)}
	if err := c.subscribe(ctx, sub, true); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// Close stops every loop and closes subscription channels. Safe to call
// twice.
func (c *LogsSubscriber) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)

	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.writeMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.all {
		close(sub.ch)
	}
	c.all, c.byID = nil, nil
	c.failPendingLocked(errClientClosed)
	return nil
}

func (c *LogsSubscriber) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *LogsSubscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	return conn, nil
}

func (c *LogsSubscriber) subscribe(ctx context.Context, sub *logSub, fresh bool) error {
	reqID := c.nextID.Add(1)
	p := &pendingSub{sub: sub, fresh: fresh, done: make(chan error, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientClosed
	}
	c.pending[reqID] = p
	c.mu.Unlock()

	commitment := sub.filter.Commitment
	if commitment == "" {
		commitment = DefaultCommitment
	}
	var selector any = "all"
	if len(sub.filter.Mentions) > 0 {
		selector = map[string][]string{"mentions": sub.filter.Mentions}
	}
	err := c.write(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params:  []any{selector, map[string]string{"commitment": commitment}},
	})
	if err != nil {
		c.dropPending(reqID)
		return err
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()
	select {
	case err := <-p.done:
		return err
	case <-timer.C:
		c.dropPending(reqID)
		return fmt.Errorf("ws: no subscription id after %s", c.cfg.SubscribeTimeout)
	case <-ctx.Done():
		c.dropPending(reqID)
		return ctx.Err()
	case <-c.done:
		return errClientClosed
	}
}

func (c *LogsSubscriber) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

func (c *LogsSubscriber) dropPending(reqID uint64) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

func (c *LogsSubscriber) failPendingLocked(err error) {
	for id, p := range c.pending {
		p.done <- err
		delete(c.pending, id)
	}
}

// resolve routes a subscribe reply. The subscription is routable before its
// caller wakes, so a notification right behind the reply is not lost.
func (c *LogsSubscriber) resolve(reqID uint64, subID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[reqID]
	if !ok {
		return
	}
	delete(c.pending, reqID)
	if err == nil && !c.closed {
		c.byID[subID] = p.sub
		if p.fresh {
			c.all = append(c.all, p.sub)
		}
	}
	p.done <- err
}

// supervise reads conn until it fails, then redials with backoff and
// resubscribes everything. It returns once the client is closed.
func (c *LogsSubscriber) supervise(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.readAll(conn)
		if c.isClosed() {
			return
		}
		c.logger.WithError(err).Warn("connection lost, reconnecting")
		c.retire(conn)

		if conn = c.redial(); conn == nil {
			return
		}
		c.reconnects.Add(1)
		observability.RecordStreamReconnect()
		c.logger.WithField("reconnects", c.reconnects.Load()).Info("reconnected")

		// replies arrive through readAll, so resubscribing runs beside it
		c.wg.Add(1)
		go c.resubscribe()
	}
}

func (c *LogsSubscriber) readAll(conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		c.dispatch(msg)
	}
}

// retire forgets conn and fails requests that were waiting on it.
func (c *LogsSubscriber) retire(conn *websocket.Conn) {
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	_ = conn.Close()

	c.mu.Lock()
	c.failPendingLocked(errConnLost)
	c.mu.Unlock()
}

// redial returns a connection installed as current, or nil once closed.
func (c *LogsSubscriber) redial() *websocket.Conn {
	delay := c.cfg.ReconnectDelay
	for {
		t := time.NewTimer(delay)
		select {
		case <-c.done:
			t.Stop()
			return nil
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			if c.install(conn) {
				return conn
			}
			return nil
		}
		c.logger.WithError(err).WithField("delay", delay).Warn("reconnect failed")
		if delay *= 2; delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func (c *LogsSubscriber) install(conn *websocket.Conn) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	if !closed {
		// ids from the previous connection mean nothing to the new one
		c.byID = make(map[int64]*logSub, len(c.all))
		c.gen++
	}
	c.mu.Unlock()

	if closed {
		_ = conn.Close()
		return false
	}
	c.conn = conn
	return true
}

func (c *LogsSubscriber) resubscribe() {
	defer c.wg.Done()
	c.mu.Lock()
	subs := append([]*logSub(nil), c.all...)
	gen := c.gen
	c.mu.Unlock()

	for _, sub := range subs {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			// a newer connection resubscribes on its own
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubscribeTimeout)
		err := c.subscribe(ctx, sub, false)
		cancel()
		if err != nil {
			if errors.Is(err, errClientClosed) {
				return
			}
			// retried on the next reconnect
			c.logger.WithError(err).WithField("mentions", sub.filter.Mentions).Warn("resubscribe failed")
		}
	}
}

func (c *LogsSubscriber) dispatch(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.WithError(err).Debug("undecodable frame")
		return
	}

	switch {
	case env.Method == "logsNotification":
		var params wsNotificationParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			c.logger.WithError(err).Debug("undecodable notification")
			return
		}
		c.deliver(&params)
	case env.ID != nil && env.Error != nil:
		c.logger.WithFields(logrus.Fields{
			"code":    env.Error.Code,
			"message": env.Error.Message,
		}).Warn("subscribe rejected")
		c.resolve(*env.ID, 0, env.Error)
	case env.ID != nil:
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			// unsubscribe acks carry a bool
			return
		}
		c.resolve(*env.ID, subID, nil)
	}
}

func (c *LogsSubscriber) deliver(p *wsNotificationParams) {
	c.mu.Lock()
	sub := c.byID[p.Subscription]
	c.mu.Unlock()
	if sub == nil {
		return
	}

	n := LogNotification{
		Signature: p.Result.Value.Signature,
		Logs:      p.Result.Value.Logs,
		Err:       p.Result.Value.Err,
	}
	if p.Result.Context != nil {
		n.Slot = p.Result.Context.Slot
	}
	// blocking keeps every notification; the buffer absorbs bursts
	select {
	case sub.ch <- n:
	case <-c.done:
	}
}

func (c *LogsSubscriber) keepalive() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.conn != nil {
				// failures surface as read errors
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			}
			c.writeMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// wsEnvelope covers replies and notifications.
type wsEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context *struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string   `json:"signature"`
			Logs      []string `json:"logs"`
			Err       any      `json:"err"`
		} `json:"value"`
	} `json:"result"`
}
