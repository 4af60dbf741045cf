package clientv2

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/google/uuid"

	"github.com/qiniu/codesession/conf"
)

const (
	RequestHeaderKeyUserAgent = "User-Agent"
	RequestHeaderKeyRequestID = "X-Request-Id"
)

var userAgent = fmt.Sprintf("CodeSessionGo/%s (%s; %s; %s)", conf.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())

type defaultHeaderInterceptor struct {
}

func newDefaultHeaderInterceptor() Interceptor {
	return &defaultHeaderInterceptor{}
}

func (interceptor *defaultHeaderInterceptor) Priority() InterceptorPriority {
	return InterceptorPrioritySetHeader
}

func (interceptor *defaultHeaderInterceptor) Intercept(req *http.Request, handler Handler) (resp *http.Response, err error) {
	if interceptor == nil || req == nil {
		return handler(req)
	}

	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get(RequestHeaderKeyUserAgent) == "" {
		req.Header.Set(RequestHeaderKeyUserAgent, userAgent)
	}
	// 调用方已指定请求 ID 时不覆盖
	if req.Header.Get(RequestHeaderKeyRequestID) == "" {
		req.Header.Set(RequestHeaderKeyRequestID, uuid.NewString())
	}

	return handler(req)
}
