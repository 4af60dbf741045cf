package sessiontest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler 处理一个 JSON-RPC 方法调用。
type Handler func(params []json.RawMessage) (interface{}, error)

// Runtime 是沙箱运行时替身：一个 TLS websocket 端点，按 JSON-RPC 2.0 处理请求。
// 不论通道地址中的域名是什么，Dialer 都把连接路由到这里。
type Runtime struct {
	Server *httptest.Server

	upgrader websocket.Upgrader

	mu        sync.Mutex
	handlers  map[string]Handler
	conns     map[*runtimeConn]struct{}
	hosts     []string
	rejecting bool
}

type runtimeConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *runtimeConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// NewRuntime 启动运行时替身，内置 runtime_echo 方法。
func NewRuntime() *Runtime {
	rt := &Runtime{
		handlers: make(map[string]Handler),
		conns:    make(map[*runtimeConn]struct{}),
	}
	rt.Handle("runtime_echo", func(params []json.RawMessage) (interface{}, error) {
		if len(params) == 0 {
			return nil, nil
		}
		return params[0], nil
	})
	rt.Server = httptest.NewTLSServer(http.HandlerFunc(rt.serve))
	return rt
}

// Handle 注册 JSON-RPC 方法。
func (rt *Runtime) Handle(method string, h Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handlers[method] = h
}

// NewSubscriptionID 生成订阅 ID。
func NewSubscriptionID() string {
	return uuid.NewString()
}

// Reject 为 true 时拒绝握手，客户端会收到拨号错误。
func (rt *Runtime) Reject(reject bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rejecting = reject
}

// Hosts 返回每个已接受连接的 Host 请求头。
func (rt *Runtime) Hosts() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.hosts...)
}

// Connections 返回当前的连接数。
func (rt *Runtime) Connections() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.conns)
}

// Notify 向所有连接推送通知。
func (rt *Runtime) Notify(method string, params interface{}) {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}
	for _, c := range rt.snapshot() {
		_ = c.writeJSON(msg)
	}
}

// Publish 向所有连接推送订阅通知。
func (rt *Runtime) Publish(namespace, subscription string, result interface{}) {
	rt.Notify(namespace+"_subscription", map[string]interface{}{
		"subscription": subscription,
		"result":       result,
	})
}

// CloseAll 由服务端关闭所有连接。
func (rt *Runtime) CloseAll() {
	for _, c := range rt.snapshot() {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.ws.Close()
	}
}

// Close 关闭所有连接和服务。
func (rt *Runtime) Close() {
	rt.CloseAll()
	rt.Server.Close()
}

// Dialer 返回把任意通道地址路由到本运行时的 websocket 拨号器。
func (rt *Runtime) Dialer() *websocket.Dialer {
	addr := rt.Server.Listener.Addr().String()
	pool := x509.NewCertPool()
	pool.AddCert(rt.Server.Certificate())
	return &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
		// httptest 的证书签发给 example.com
		TLSClientConfig:  &tls.Config{RootCAs: pool, ServerName: "example.com"},
		HandshakeTimeout: 5 * time.Second,
	}
}

func (rt *Runtime) snapshot() []*runtimeConn {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	conns := make([]*runtimeConn, 0, len(rt.conns))
	for c := range rt.conns {
		conns = append(conns, c)
	}
	return conns
}

func (rt *Runtime) serve(w http.ResponseWriter, r *http.Request) {
	rt.mu.Lock()
	rejecting := rt.rejecting
	rt.mu.Unlock()
	if rejecting {
		http.Error(w, "runtime unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &runtimeConn{ws: ws}

	rt.mu.Lock()
	rt.conns[c] = struct{}{}
	rt.hosts = append(rt.hosts, r.Host)
	rt.mu.Unlock()

	defer func() {
		rt.mu.Lock()
		delete(rt.conns, c)
		rt.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		go rt.handle(c, data)
	}
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CodeError 让 Handler 返回指定错误码。
type CodeError struct {
	Code    int
	Message string
}

func (e *CodeError) Error() string { return e.Message }

func (rt *Runtime) handle(c *runtimeConn, data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = c.writeJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      nil,
			"error":   rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	rt.mu.Lock()
	h := rt.handlers[req.Method]
	rt.mu.Unlock()

	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
	}
	if h == nil {
		resp["error"] = rpcError{Code: -32601, Message: "the method " + req.Method + " does not exist/is not available"}
	} else if result, err := h(req.Params); err != nil {
		code := -32000
		var codeErr *CodeError
		if errors.As(err, &codeErr) {
			code = codeErr.Code
		}
		resp["error"] = rpcError{Code: code, Message: err.Error()}
	} else {
		resp["result"] = result
	}
	_ = c.writeJSON(resp)
}
