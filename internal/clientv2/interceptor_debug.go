package clientv2

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"

	"github.com/qiniu/codesession/internal/log"
)

// DebugOptions 配置调试拦截器输出的内容。所有输出都是 debug 级别。
type DebugOptions struct {
	// Request 输出请求行和请求头。
	Request bool
	// RequestBody 额外输出请求体，隐含 Request。
	RequestBody bool
	// Response 输出响应状态和响应头。
	Response bool
	// ResponseBody 额外输出响应体，隐含 Response。
	ResponseBody bool
	// Trace 输出 DNS、建连、TLS 握手等连接过程。
	Trace bool
	// Logger 为 nil 时使用包级默认日志。
	Logger *log.Logger
}

// Enabled 返回是否有任何内容需要输出。
func (o DebugOptions) Enabled() bool {
	return o.Request || o.RequestBody || o.Response || o.ResponseBody || o.Trace
}

type debugInterceptor struct {
	options DebugOptions
	logger  *log.Logger
}

// NewDebugInterceptor 创建调试拦截器。拦截器只作用于持有它的客户端。
func NewDebugInterceptor(options DebugOptions) Interceptor {
	logger := options.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &debugInterceptor{options: options, logger: logger}
}

func (r *debugInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityDebug
}

func (r *debugInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	url := ""
	if req.URL != nil {
		url = req.URL.String()
	}

	if r.options.Request || r.options.RequestBody {
		dump, err := httputil.DumpRequestOut(req, r.options.RequestBody)
		if err != nil {
			return nil, err
		}
		r.logger.Debug().Str("url", url).Str("dump", string(dump)).Msg("request")
	}

	if r.options.Trace {
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), r.clientTrace(url)))
	}

	resp, err := handler(req)
	if err != nil {
		r.logger.Debug().Str("url", url).Err(err).Msg("request failed")
		return resp, err
	}

	if resp != nil && (r.options.Response || r.options.ResponseBody) {
		dump, dErr := httputil.DumpResponse(resp, r.options.ResponseBody)
		if dErr != nil {
			return nil, dErr
		}
		r.logger.Debug().Str("url", url).Int("status", resp.StatusCode).Str("dump", string(dump)).Msg("response")
	}
	return resp, nil
}

func (r *debugInterceptor) clientTrace(url string) *httptrace.ClientTrace {
	event := func(name string) *log.Event {
		return r.logger.Debug().Str("url", url).Str("event", name)
	}
	return &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			event("GetConn").Str("host", hostPort).Msg("trace")
		},
		GotConn: func(info httptrace.GotConnInfo) {
			addr := info.Conn.RemoteAddr()
			event("GotConn").Str("network", addr.Network()).Str("remote_addr", addr.String()).Bool("reused", info.Reused).Msg("trace")
		},
		DNSStart: func(info httptrace.DNSStartInfo) {
			event("DNSStart").Str("host", info.Host).Msg("trace")
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			event("DNSDone").Interface("addrs", info.Addrs).AnErr("dns_err", info.Err).Msg("trace")
		},
		ConnectStart: func(network, addr string) {
			event("ConnectStart").Str("network", network).Str("addr", addr).Msg("trace")
		},
		ConnectDone: func(network, addr string, err error) {
			event("ConnectDone").Str("network", network).Str("addr", addr).AnErr("connect_err", err).Msg("trace")
		},
		TLSHandshakeStart: func() {
			event("TLSHandshakeStart").Msg("trace")
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			event("TLSHandshakeDone").Uint16("version", state.Version).AnErr("tls_err", err).Msg("trace")
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			event("WroteRequest").AnErr("write_err", info.Err).Msg("trace")
		},
		GotFirstResponseByte: func() {
			event("GotFirstResponseByte").Msg("trace")
		},
	}
}
