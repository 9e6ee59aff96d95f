package linuxcnc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Poll and Command while the client is offline
var ErrNotConnected = errors.New("not connected to status bridge")

// DefaultRequestTimeout bounds a single request/response exchange
const DefaultRequestTimeout = 10 * time.Second

// maxQueuedErrors bounds the error queue; the oldest entries are dropped
const maxQueuedErrors = 64

// Client is a websocket client for the status bridge. After Connect it
// subscribes to status pushes and keeps the latest snapshot, so Poll does
// not block the event loop on a network round trip.
type Client struct {
	url       string
	logger    *zap.Logger
	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	msgID     int
	msgIDMu   sync.Mutex
	pending   map[int]chan Message
	pendingMu sync.Mutex
	latest    *Snapshot
	latestMu  sync.RWMutex
	errs      []ErrorMessage
	errsMu    sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
	writeMu   sync.Mutex // Protects websocket writes
	timeout   time.Duration
}

// NewClient creates a status bridge client
func NewClient(url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:       url,
		logger:    logger,
		pending:   make(map[int]chan Message),
		ctx:       ctx,
		cancel:    cancel,
		reconnect: true,
		timeout:   DefaultRequestTimeout,
	}
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect dials the bridge, waits for its hello and subscribes to status pushes
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	var hello Message
	if err := c.conn.ReadJSON(&hello); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read hello: %w", err)
	}

	if hello.Type != TypeHello {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected hello, got %s", hello.Type)
	}

	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to status bridge",
		zap.String("url", c.url),
		zap.String("version", hello.Version))

	go c.receiveMessages(c.conn, c.ctx)

	// Release lock before subscribing to avoid deadlock
	c.connMu.Unlock()

	if _, err := c.sendMessage(context.Background(), func(id int) any {
		return &SubscribeRequest{ID: id, Type: TypeSubscribe}
	}); err != nil {
		c.logger.Warn("Failed to subscribe to status updates", zap.Error(err))
	}

	return nil
}

// Disconnect closes the websocket connection and disables reconnection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		c.reconnect = false
		c.cancel()
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from status bridge")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// FieldNames returns the attributes of a status snapshot
func (c *Client) FieldNames() []string {
	return StatFieldNames()
}

// Poll returns the latest pushed snapshot. Before the first push arrives it
// requests one explicitly.
func (c *Client) Poll(ctx context.Context) (*Snapshot, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	c.latestMu.RLock()
	snap := c.latest
	c.latestMu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	resp, err := c.sendMessage(ctx, func(id int) any {
		return &PollRequest{ID: id, Type: TypePoll}
	})
	if err != nil {
		return nil, err
	}

	snap, err = decodeSnapshot(resp.Result)
	if err != nil {
		return nil, err
	}
	c.storeLatest(snap)
	return snap, nil
}

// Command sends a command to the daemon and waits for it to be accepted
func (c *Client) Command(ctx context.Context, name string, args ...any) error {
	_, err := c.sendMessage(ctx, func(id int) any {
		return &CommandRequest{ID: id, Type: TypeCommand, Name: name, Args: args}
	})
	if err != nil {
		return fmt.Errorf("command %s: %w", name, err)
	}
	return nil
}

// nextMsgID returns the next message ID
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends the message built for a fresh id and waits for its result
func (c *Client) sendMessage(ctx context.Context, build func(id int) any) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	clientCtx := c.ctx
	c.connMu.RUnlock()

	msgID := c.nextMsgID()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	// Send message (protected by writeMu to prevent concurrent writes)
	c.writeMu.Lock()
	err := conn.WriteJSON(build(msgID))
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("bridge error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-clientCtx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages(conn *websocket.Conn, ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == TypeStatus {
			snap, err := decodeSnapshot(msg.Result)
			if err != nil {
				c.logger.Warn("Discarding malformed status push", zap.Error(err))
				continue
			}
			c.storeLatest(snap)
			continue
		}

		if msg.Type == TypeError {
			var e ErrorMessage
			if err := json.Unmarshal(msg.Result, &e); err != nil {
				c.logger.Warn("Discarding malformed error message", zap.Error(err))
				continue
			}
			c.queueError(e)
			continue
		}

		// Route response to waiting goroutine
		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) storeLatest(snap *Snapshot) {
	c.latestMu.Lock()
	c.latest = snap
	c.latestMu.Unlock()
}

func (c *Client) queueError(e ErrorMessage) {
	c.errsMu.Lock()
	defer c.errsMu.Unlock()
	if len(c.errs) >= maxQueuedErrors {
		c.errs = c.errs[1:]
	}
	c.errs = append(c.errs, e)
}

// Errors returns the error channel messages received since the last call
func (c *Client) Errors() []ErrorMessage {
	c.errsMu.Lock()
	defer c.errsMu.Unlock()
	out := c.errs
	c.errs = nil
	return out
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	reconnect := c.reconnect
	c.connMu.Unlock()

	c.latestMu.Lock()
	c.latest = nil
	c.latestMu.Unlock()

	c.logger.Warn("Connection to status bridge lost")

	if !reconnect {
		return
	}

	go c.attemptReconnect()
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	c.connMu.RLock()
	ctx := c.ctx
	c.connMu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

func decodeSnapshot(raw json.RawMessage) (*Snapshot, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty status payload")
	}
	var s Stat
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return NewSnapshot(&s), nil
}
