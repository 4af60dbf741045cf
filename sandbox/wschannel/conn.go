package wschannel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qiniu/codesession/internal/log"
	"github.com/qiniu/codesession/sandbox"
)

// ErrClosed 表示通道已关闭。
var ErrClosed = errors.New("channel closed")

const writeWait = 10 * time.Second

// Conn 是一条 websocket 通道，实现 sandbox.Channel。
type Conn struct {
	target         string
	onNotification func(*Notification)
	logger         *log.Logger

	// 最多三个事件，缓冲足以容纳全部事件
	events chan sandbox.ChannelEvent
	opened chan struct{}
	done   chan struct{}

	closeOnce  sync.Once
	closing    chan struct{}
	cancelDial context.CancelFunc

	mu      sync.Mutex
	ws      *websocket.Conn
	err     error
	nextID  uint64
	pending map[uint64]chan *message // 关闭后为 nil
	subs    map[string]func(json.RawMessage)

	writeMu sync.Mutex
}

func newConn(target string, onNotification func(*Notification), logger *log.Logger) *Conn {
	return &Conn{
		target:         target,
		onNotification: onNotification,
		logger:         logger,
		events:         make(chan sandbox.ChannelEvent, 3),
		opened:         make(chan struct{}),
		done:           make(chan struct{}),
		closing:        make(chan struct{}),
		pending:        make(map[uint64]chan *message),
		subs:           make(map[string]func(json.RawMessage)),
	}
}

// Target 返回通道地址。
func (c *Conn) Target() string { return c.target }

// Events 实现 sandbox.Channel。
func (c *Conn) Events() <-chan sandbox.ChannelEvent { return c.events }

// Done 返回通道完全关闭后关闭的 channel。
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err 返回通道关闭的原因，正常关闭时为 nil。
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close 关闭通道。拨号中调用会取消拨号，可重复调用。
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		ws := c.ws
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if ws != nil {
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.writeMu.Unlock()
			_ = ws.Close()
		}
	})
	return nil
}

func (c *Conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Conn) run(ctx context.Context, dialer *websocket.Dialer, header http.Header) {
	defer close(c.done)

	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelDial = cancel
	c.mu.Unlock()
	if c.isClosing() {
		cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, c.target, header)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if c.isClosing() {
			c.finish(nil)
			return
		}
		c.logger.Debug().Err(err).Str("target", c.target).Msg("dial channel")
		c.events <- sandbox.ChannelEvent{Kind: sandbox.EventErrored, Err: err}
		c.finish(err)
		return
	}

	c.mu.Lock()
	if c.isClosing() {
		c.mu.Unlock()
		_ = ws.Close()
		c.finish(nil)
		return
	}
	c.ws = ws
	c.mu.Unlock()

	close(c.opened)
	c.events <- sandbox.ChannelEvent{Kind: sandbox.EventOpened}
	c.finish(c.readLoop(ws))
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.dispatch(data)
	}
}

// finish 发出关闭事件并让所有未完成的调用失败。
func (c *Conn) finish(err error) {
	c.mu.Lock()
	c.err = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.events <- sandbox.ChannelEvent{Kind: sandbox.EventClosed, Err: err}
	close(c.events)
}

func (c *Conn) write(ctx context.Context, v interface{}) error {
	select {
	case <-c.opened:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetWriteDeadline(deadline)
	return ws.WriteJSON(v)
}
