// Package dialer 对同一主机解析出的多个地址错峰发起连接，返回最先建立的连接。
package dialer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// ErrNoAddress 表示主机没有可拨号的地址。
var ErrNoAddress = errors.New("no ip could be dialed")

// Options 配置错峰拨号。
type Options struct {
	// Timeout 是整次拨号的超时时间，同时决定各地址之间的启动间隔。
	Timeout time.Duration
	// KeepAlive 是 TCP keepalive 间隔。
	KeepAlive time.Duration
	// Resolver 用于解析主机名，为 nil 时使用 net.DefaultResolver。
	Resolver *net.Resolver
}

type dialResult struct {
	conn net.Conn
	err  error
}

// DialIPs 依次对 ips 发起连接，每隔 Timeout/len(ips) 启动下一个，任一成功即返回。
// 返回后其余仍在进行的拨号会被取消，晚到的连接会被关闭。
func DialIPs(ctx context.Context, network string, ips []net.IP, port string, opts Options) (net.Conn, error) {
	if len(ips) == 0 {
		return nil, ErrNoAddress
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	results := make(chan dialResult, len(ips))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		go func() {
			wg.Wait()
			close(results)
			for r := range results {
				if r.conn != nil {
					r.conn.Close()
				}
			}
		}()
	}()

	d := net.Dialer{KeepAlive: opts.KeepAlive}
	start := func(ip net.IP) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			results <- dialResult{conn: conn, err: err}
		}()
	}

	ticker := time.NewTicker(opts.Timeout / time.Duration(len(ips)))
	defer ticker.Stop()

	start(ips[0])
	next, pending := 1, 1
	errs := &dialErrors{}
	for {
		select {
		case <-ticker.C:
			if next < len(ips) {
				start(ips[next])
				next++
				pending++
			}
		case r := <-results:
			pending--
			if r.err == nil {
				return r.conn, nil
			}
			errs.errs = append(errs.errs, r.err)
			if pending == 0 && next < len(ips) {
				// 上一个地址已失败，不必等到下一个间隔
				start(ips[next])
				next++
				pending++
			} else if pending == 0 {
				return nil, errs
			}
		case <-ctx.Done():
			if len(errs.errs) == 0 {
				errs.errs = append(errs.errs, ctx.Err())
			}
			return nil, errs
		}
	}
}

// ContextDialer 返回可用作 websocket.Dialer.NetDialContext 的拨号函数：
// 解析 addr 中的主机名后对全部地址错峰拨号。
func (o Options) ContextDialer() func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if ip := net.ParseIP(host); ip != nil {
			return DialIPs(ctx, network, []net.IP{ip}, port, o)
		}
		resolver := o.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		ips, err := resolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		return DialIPs(ctx, network, ips, port, o)
	}
}

type dialErrors struct {
	errs []error
}

func (e *dialErrors) Error() string {
	if len(e.errs) > 0 {
		return e.errs[0].Error()
	}
	return context.DeadlineExceeded.Error()
}

func (e *dialErrors) Unwrap() error {
	if len(e.errs) > 0 {
		return e.errs[0]
	}
	return context.DeadlineExceeded
}

// Timeout 使超时判断（如 os.IsTimeout）对第一个错误生效。
func (e *dialErrors) Timeout() bool {
	if len(e.errs) == 0 {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(e.errs[0], &te) {
		return te.Timeout()
	}
	return errors.Is(e.errs[0], context.DeadlineExceeded)
}
