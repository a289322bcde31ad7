// Package realtime owns one logical channel per joined room: connection
// lifecycle, presence announcement, durable-change and ephemeral message
// delivery, and bounded fixed-delay reconnection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/surface"
	"github.com/cardfield/cardfield/pkg/types"
)

var (
	ErrAlreadyConnected   = errors.New("channel already open")
	ErrNotConnected       = errors.New("channel is not connected")
	ErrClientClosed       = errors.New("client is closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

type ConnectionState struct {
	Status            Status
	ReconnectAttempts int
	LastConnectedAt   time.Time
}

// Handlers receive inbound signals. They are invoked from the client's
// single reader goroutine, so calls are serialized.
type Handlers struct {
	OnSurfaceUpdate func(state surface.State, updatedAt time.Time)
	OnPresence      func(p types.Participant)
	OnRoster        func(roster []types.Participant)
	OnBroadcast     func(from string, payload json.RawMessage)
	OnCardDrawn     func(card surface.Entity)
	OnStatusChange  func(state ConnectionState)
}

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultMaxAttempts    = 5
	defaultWriteTimeout   = 3 * time.Second
	dialTimeout           = 10 * time.Second
)

type Options struct {
	ReconnectDelay time.Duration
	MaxAttempts    int
	WriteTimeout   time.Duration
	Log            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}

// Client manages the room channel. A fresh Connect is only legal from the
// Disconnected and Error states; everything in between is automatic.
type Client struct {
	dialer   Dialer
	identity types.Participant
	opts     Options

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	handlers   Handlers
	roomCode   string
	retryTimer *time.Timer
	// gen invalidates goroutines and timers from a previous Connect or
	// after an explicit Disconnect.
	gen    int
	notify chan ConnectionState
	closed bool
}

func NewClient(dialer Dialer, identity types.Participant, opts Options) *Client {
	c := &Client{
		dialer:   dialer,
		identity: identity,
		opts:     opts.withDefaults(),
		state:    ConnectionState{Status: StatusDisconnected},
		notify:   make(chan ConnectionState, 16),
	}
	go c.notifyLoop()
	return c
}

// notifyLoop delivers status changes one at a time, in order, off the
// client's lock.
func (c *Client) notifyLoop() {
	for s := range c.notify {
		c.mu.Lock()
		h := c.handlers.OnStatusChange
		c.mu.Unlock()
		if h != nil {
			h(s)
		}
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the room channel and starts delivering inbound signals to
// the handlers. It returns immediately; progress is observable through
// OnStatusChange.
func (c *Client) Connect(roomCode string, h Handlers) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state.Status != StatusDisconnected && c.state.Status != StatusError {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.roomCode = roomCode
	c.handlers = h
	c.gen++
	gen := c.gen
	c.setStateLocked(ConnectionState{Status: StatusConnecting})
	c.mu.Unlock()

	go c.dial(gen, roomCode)
	return nil
}

// Disconnect tears down the channel, cancels any pending reconnect timer,
// and resets to Disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(ConnectionState{Status: StatusDisconnected})
	c.mu.Unlock()
}

// Close disconnects and permanently retires the client, stopping its status
// delivery goroutine. A closed client cannot Connect again.
func (c *Client) Close() {
	c.Disconnect()
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.notify)
	}
	c.mu.Unlock()
}

// PushSurface sends the full shared-surface snapshot to the room.
func (c *Client) PushSurface(state surface.State) error {
	return c.write(types.ClientMessage{Type: types.MsgSurfaceUpdate, State: &state})
}

// Broadcast sends an ephemeral payload to the other participants.
// Best-effort, at-most-once; never retried and never stored.
func (c *Client) Broadcast(payload json.RawMessage) error {
	return c.write(types.ClientMessage{Type: types.MsgBroadcast, Payload: payload})
}

// RequestDraw asks the room to deal a card; the result arrives through
// OnCardDrawn.
func (c *Client) RequestDraw() error {
	return c.write(types.ClientMessage{Type: types.MsgDrawCard})
}

func (c *Client) write(msg types.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	timeout := c.opts.WriteTimeout
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return conn.Write(ctx, payload)
}

func (c *Client) dial(gen int, roomCode string) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := c.dialer.Dial(ctx, roomCode)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.opts.Log.Warn("dial failed", zap.String("room", roomCode), zap.Error(err))
		c.failLocked(gen)
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.setStateLocked(ConnectionState{
		Status:          StatusConnected,
		LastConnectedAt: time.Now(),
	})
	c.mu.Unlock()

	// Re-announce local presence on every (re)connection.
	if err := c.write(types.ClientMessage{
		Type:          types.MsgHello,
		RoomCode:      roomCode,
		ParticipantID: c.identity.ParticipantID,
		DisplayName:   c.identity.DisplayName,
	}); err != nil {
		c.opts.Log.Warn("hello failed", zap.Error(err))
	}

	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.onTransportFailure(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) onTransportFailure(gen int, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// explicit Disconnect already ran; nothing to recover
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.opts.Log.Warn("transport failure", zap.String("room", c.roomCode), zap.Error(cause))
	c.failLocked(gen)
}

// failLocked counts one failed attempt and either schedules a fixed-delay
// retry or gives up into the Error state, which requires an explicit
// Connect to leave.
func (c *Client) failLocked(gen int) {
	attempts := c.state.ReconnectAttempts + 1
	if attempts >= c.opts.MaxAttempts {
		c.opts.Log.Error("giving up on room channel",
			zap.String("room", c.roomCode), zap.Int("attempts", attempts), zap.Error(ErrReconnectExhausted))
		c.setStateLocked(ConnectionState{Status: StatusError, ReconnectAttempts: attempts})
		return
	}
	c.setStateLocked(ConnectionState{Status: StatusReconnecting, ReconnectAttempts: attempts})
	roomCode := c.roomCode
	c.retryTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		if gen != c.gen || c.state.Status != StatusReconnecting {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(ConnectionState{Status: StatusConnecting, ReconnectAttempts: c.state.ReconnectAttempts})
		c.mu.Unlock()
		c.dial(gen, roomCode)
	})
}

func (c *Client) setStateLocked(s ConnectionState) {
	if s.LastConnectedAt.IsZero() {
		s.LastConnectedAt = c.state.LastConnectedAt
	}
	c.state = s
	if c.closed {
		return
	}
	select {
	case c.notify <- s:
	default:
		// a stalled handler only costs intermediate transitions
	}
}

func (c *Client) dispatch(data []byte) {
	var msg types.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.opts.Log.Warn("bad server message", zap.Error(err))
		return
	}
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()

	switch msg.Type {
	case types.MsgWelcome, types.MsgSurfaceSnapshot:
		if msg.State != nil && h.OnSurfaceUpdate != nil {
			h.OnSurfaceUpdate(*msg.State, time.UnixMilli(msg.UpdatedAtMs))
		}
		if msg.Type == types.MsgWelcome && h.OnRoster != nil {
			h.OnRoster(msg.Participants)
		}
	case types.MsgPresence:
		if msg.Participant != nil && h.OnPresence != nil {
			h.OnPresence(*msg.Participant)
		}
	case types.MsgRoster:
		if h.OnRoster != nil {
			h.OnRoster(msg.Participants)
		}
	case types.MsgBroadcast:
		if h.OnBroadcast != nil {
			h.OnBroadcast(msg.From, msg.Payload)
		}
	case types.MsgCardDrawn:
		if msg.Card != nil && h.OnCardDrawn != nil {
			h.OnCardDrawn(*msg.Card)
		}
	case types.MsgError:
		c.opts.Log.Warn("server error", zap.String("error", msg.Error))
	}
}
