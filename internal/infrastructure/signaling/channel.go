package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds the channel's transport and reconnect policy settings.
type Config struct {
	BaseURL           string // ws(s)://host
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Metrics is the subset of the monitoring collector the channel reports to.
type Metrics interface {
	RecordReconnectAttempt()
	RecordSignalingMessage(msgType string)
}

type channelState int

const (
	stateDisconnected channelState = iota
	stateOpen
	stateTerminal
)

// Channel is one logical signaling channel per stream session, backed by one
// physical websocket at a time. All inbound messages are dispatched to the
// registered handler from a single goroutine, in arrival order.
type Channel struct {
	cfg     Config
	events  ports.SignalingEvents
	metrics Metrics
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    channelState
	closed   bool
	gen      int // bumped on Close and on every successful dial; stale loops and timers check it
	attempts int

	streamID  domain.StreamID
	authToken string

	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

func NewChannel(cfg Config, events ports.SignalingEvents, metrics Metrics, log *zap.Logger) *Channel {
	return &Channel{
		cfg:     cfg,
		events:  events,
		metrics: metrics,
		logger:  log.Sugar(),
	}
}

// Connect opens the socket for the given stream. On a later drop the channel
// schedules bounded reconnection by itself; after exhausting the budget it
// surfaces a terminal disconnect through the events handler.
func (c *Channel) Connect(ctx context.Context, streamID domain.StreamID, authToken string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSignalingUnavailable
	}
	c.streamID = streamID
	c.authToken = authToken
	c.attempts = 0
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.logger.Warnw("initial signaling connect failed", "stream_id", streamID, "error", err)
		c.events.OnDisconnected(false)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/ws/live/%s/?token=%s",
		c.cfg.BaseURL, url.PathEscape(string(c.streamID)), url.QueryEscape(c.authToken))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrSignalingUnavailable
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = stateOpen
	c.attempts = 0
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	c.logger.Infow("signaling connected", "stream_id", c.streamID)
	c.events.OnConnected()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)
	return nil
}

// readLoop dispatches messages sequentially; ordering across handlers is the
// socket's arrival order.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		var msg domain.SignalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleDrop(gen, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.dispatch(&msg)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.gen != gen || c.state != stateOpen
		c.mu.Unlock()
		if stale {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return
		}
	}
}

func (c *Channel) dispatch(msg *domain.SignalingMessage) {
	if c.metrics != nil {
		c.metrics.RecordSignalingMessage(msg.Type)
	}

	switch msg.Type {
	case domain.MsgNewComment:
		comment, err := msg.DecodeComment()
		if err != nil {
			c.logger.Warnw("malformed comment payload", "error", err)
			return
		}
		c.events.OnComment(comment)
	case domain.MsgViewersUpdate:
		c.events.OnViewerCount(msg.Count)
	case domain.MsgViewersList:
		c.events.OnViewerList(msg.Viewers)
	case domain.MsgStreamStarted:
		c.events.OnStreamStarted()
	case domain.MsgStreamEnded:
		c.events.OnStreamEnded()
	case domain.MsgKicked:
		c.events.OnKicked(msg.Message)
	case domain.MsgSystemMessage:
		c.events.OnSystemMessage(msg.Message)
	default:
		// Unknown tags are ignored, not fatal.
		c.logger.Debugw("ignoring unknown signaling message", "type", msg.Type)
	}
}

func (c *Channel) handleDrop(gen int, cause error) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = stateDisconnected
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	// Normal closure, policy violations and application close codes mean
	// the server does not want us back.
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) || isApplicationClose(cause) {
		c.logger.Infow("signaling closed by server, not reconnecting", "error", cause)
		c.markTerminal()
		return
	}

	c.logger.Warnw("signaling connection dropped", "stream_id", c.streamID, "error", cause)
	c.events.OnDisconnected(false)
	c.scheduleReconnect()
}

func isApplicationClose(err error) bool {
	closeErr, ok := err.(*websocket.CloseError)
	return ok && closeErr.Code >= 4000 && closeErr.Code < 5000
}

// scheduleReconnect arms a fixed-delay retry timer, bounded by the
// configured attempt budget. The timer handle is kept so Close can cancel
// it; a fired timer re-checks generation and closed state before dialing.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.state == stateTerminal {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.ReconnectAttempts {
		c.mu.Unlock()
		c.markTerminal()
		return
	}
	c.attempts++
	attempt := c.attempts
	gen := c.gen
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordReconnectAttempt()
	}
	c.logger.Infow("scheduling signaling reconnect",
		"attempt", attempt,
		"max_attempts", c.cfg.ReconnectAttempts,
		"delay", c.cfg.ReconnectDelay,
	)

	timer := time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		stale := c.closed || c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.dial(context.Background()); err != nil {
			c.events.OnDisconnected(false)
			c.scheduleReconnect()
		}
	})

	c.mu.Lock()
	c.reconnectTimer = timer
	c.mu.Unlock()
}

func (c *Channel) markTerminal() {
	c.mu.Lock()
	already := c.state == stateTerminal
	c.state = stateTerminal
	c.mu.Unlock()
	if already {
		return
	}
	c.logger.Warnw("signaling reconnect budget exhausted", "stream_id", c.streamID)
	c.events.OnDisconnected(true)
}

// Send writes one message to the socket. When the socket is not open it
// returns domain.ErrSignalingNotConnected so callers can diagnose instead of
// having an error thrown into unrelated code paths.
func (c *Channel) Send(msg domain.SignalingMessage) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == stateOpen && conn != nil
	c.mu.Unlock()

	if !open {
		return domain.ErrSignalingNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("signaling send failed: %w", err)
	}
	return nil
}

// Connected reports whether the physical socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// Close tears down the socket and cancels any pending reconnect timer in one
// synchronous pass. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = stateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		conn.Close()
	}
}
