package wschannel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const jsonrpcVersion = "2.0"

// RPCError 是服务端返回的 JSON-RPC 错误对象。
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Notification 是服务端主动推送的消息。
type Notification struct {
	Method string
	Params json.RawMessage
}

// subscriptionParams 是订阅通知的 params 结构。
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (m *message) isNotification() bool {
	return len(m.ID) == 0 && m.Method != ""
}

// Call 调用 method 并把结果解码到 result。result 为 nil 时忽略结果。
// 通道尚未打开时等待打开；通道关闭时返回 ErrClosed。
func (c *Conn) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	reply := make(chan *message, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, &request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case msg, ok := <-reply:
		if !ok {
			return ErrClosed
		}
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		return json.Unmarshal(msg.Result, result)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe 调用 {namespace}_subscribe 订阅 event，之后该订阅的通知交给 handler 处理。
// 返回订阅 ID，用于 Unsubscribe。
func (c *Conn) Subscribe(ctx context.Context, namespace, event string, handler func(json.RawMessage), params ...interface{}) (string, error) {
	var id string
	args := append([]interface{}{event}, params...)
	if err := c.Call(ctx, &id, namespace+"_subscribe", args...); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.subs[id] = handler
	c.mu.Unlock()
	return id, nil
}

// Unsubscribe 取消订阅。
func (c *Conn) Unsubscribe(ctx context.Context, namespace, id string) error {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	return c.Call(ctx, nil, namespace+"_unsubscribe", id)
}

// dispatch 把收到的消息交给等待中的调用、订阅或通知回调。
func (c *Conn) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("invalid channel message")
		return
	}

	if msg.isNotification() {
		c.notify(&msg)
		return
	}

	id, err := strconv.ParseUint(string(msg.ID), 10, 64)
	if err != nil {
		c.logger.Warn().Str("id", string(msg.ID)).Msg("unexpected response id")
		return
	}
	c.mu.Lock()
	reply, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Uint64("id", id).Msg("response without pending call")
		return
	}
	select {
	case reply <- &msg:
	default:
		c.logger.Debug().Uint64("id", id).Msg("duplicate response")
	}
}

func (c *Conn) notify(msg *message) {
	var sub subscriptionParams
	if json.Unmarshal(msg.Params, &sub) == nil && sub.Subscription != "" {
		c.mu.Lock()
		handler := c.subs[sub.Subscription]
		c.mu.Unlock()
		if handler != nil {
			handler(sub.Result)
			return
		}
	}
	if c.onNotification != nil {
		c.onNotification(&Notification{Method: msg.Method, Params: msg.Params})
	}
}
