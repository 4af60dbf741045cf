// Package wschannel 基于 websocket 实现沙箱会话通道，并在通道上提供 JSON-RPC 2.0 调用。
package wschannel

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qiniu/codesession/internal/dialer"
	"github.com/qiniu/codesession/internal/log"
	"github.com/qiniu/codesession/sandbox"
)

const (
	// DefaultHandshakeTimeout 是 websocket 握手的默认超时时间。
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultDialTimeout 是建立 TCP 连接的默认超时时间。
	DefaultDialTimeout = 10 * time.Second
)

// Option 配置 Transport。
type Option func(*Transport)

// WithDialer 指定底层 websocket 拨号器。
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithHeader 设置握手请求附带的请求头。
func WithHeader(h http.Header) Option {
	return func(t *Transport) { t.header = h.Clone() }
}

// WithOnNotification 设置服务端通知的回调，回调在读循环 goroutine 上执行，不应阻塞。
func WithOnNotification(fn func(*Notification)) Option {
	return func(t *Transport) { t.onNotification = fn }
}

// WithLogger 设置通道日志。
func WithLogger(l log.Logger) Option {
	return func(t *Transport) { t.logger = &l }
}

// Transport 打开 websocket 通道，实现 sandbox.Transport。可被多个会话共享。
type Transport struct {
	dialer         *websocket.Dialer
	header         http.Header
	onNotification func(*Notification)
	logger         *log.Logger
}

var _ sandbox.Transport = (*Transport)(nil)

// NewTransport 创建 websocket 通道的 Transport。
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		dialer: &websocket.Dialer{
			Proxy: http.ProxyFromEnvironment,
			// 运行时域名可能解析出多个地址，错峰拨号取最先建立的连接
			NetDialContext: dialer.Options{
				Timeout:   DefaultDialTimeout,
				KeepAlive: 30 * time.Second,
			}.ContextDialer(),
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
	}
	for _, fn := range opts {
		fn(t)
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	return t
}

// Open 在后台拨号 target 并立即返回通道，建立结果通过 Events 报告。
func (t *Transport) Open(ctx context.Context, target string) (sandbox.Channel, error) {
	return t.Dial(ctx, target), nil
}

// Dial 与 Open 相同，但返回具体类型以便发起 RPC 调用。
func (t *Transport) Dial(ctx context.Context, target string) *Conn {
	c := newConn(target, t.onNotification, t.logger)
	go c.run(ctx, t.dialer, t.header)
	return c
}
