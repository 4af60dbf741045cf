package sandbox

import (
	"time"

	"github.com/qiniu/codesession/conf"
	"github.com/qiniu/codesession/internal/log"
)

// SessionOption 配置 Session。
type SessionOption func(*sessionOpts)

type sessionOpts struct {
	onDisconnect       func()
	refreshInterval    time.Duration
	domain             string
	port               int
	connectTimeout     time.Duration
	maxRefreshFailures int
	logger             *log.Logger
}

func defaultSessionOpts() *sessionOpts {
	return &sessionOpts{
		refreshInterval:    conf.DefaultRefreshInterval,
		domain:             DefaultDomain,
		port:               conf.ChannelPort,
		maxRefreshFailures: 1,
	}
}

// WithOnDisconnect 设置会话结束时的回调，无论结束原因，每个会话最多调用一次。
// 回调在会话状态清理完成后、在触发断开的 goroutine 上执行。
func WithOnDisconnect(fn func()) SessionOption {
	return func(o *sessionOpts) { o.onDisconnect = fn }
}

// WithRefreshInterval 设置保活间隔。
func WithRefreshInterval(d time.Duration) SessionOption {
	return func(o *sessionOpts) {
		if d > 0 {
			o.refreshInterval = d
		}
	}
}

// WithDomain 设置通道地址使用的域名后缀。
func WithDomain(domain string) SessionOption {
	return func(o *sessionOpts) {
		if domain != "" {
			o.domain = domain
		}
	}
}

// WithChannelPort 设置通道地址中的端口段。
func WithChannelPort(port int) SessionOption {
	return func(o *sessionOpts) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithConnectTimeout 设置 Connect 的超时时间。超时与通道报错走同一条失败路径。
func WithConnectTimeout(d time.Duration) SessionOption {
	return func(o *sessionOpts) { o.connectTimeout = d }
}

// WithMaxRefreshFailures 设置保活请求连续失败多少次后断开会话，默认 1 次。
// 会话在控制面上不存在时总是立即断开。
func WithMaxRefreshFailures(n int) SessionOption {
	return func(o *sessionOpts) {
		if n > 0 {
			o.maxRefreshFailures = n
		}
	}
}

// WithLogger 设置会话日志。
func WithLogger(l log.Logger) SessionOption {
	return func(o *sessionOpts) { o.logger = &l }
}

// SessionOptionsFromConfig 把 Config 中与会话相关的字段转换为选项。
func SessionOptionsFromConfig(c Config) []SessionOption {
	return []SessionOption{
		WithDomain(c.Domain),
		WithRefreshInterval(c.RefreshInterval),
	}
}
