package clientv2

import (
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"
)

type RetryOptions struct {
	RetryMax      int
	RetryInterval func() time.Duration
	ShouldRetry   func(req *http.Request, resp *http.Response, err error) bool
}

func DefaultOptions() RetryOptions {
	o := RetryOptions{}
	o.Init()
	return o
}

func (o *RetryOptions) Init() {
	if o == nil {
		return
	}

	if o.RetryMax < 0 {
		o.RetryMax = 0
	}

	if o.RetryInterval == nil {
		o.RetryInterval = func() time.Duration {
			return time.Duration(50+rand.Int()%50) * time.Millisecond
		}
	}

	if o.ShouldRetry == nil {
		o.ShouldRetry = func(req *http.Request, resp *http.Response, err error) bool {
			return isSimpleRetryable(req, resp, err)
		}
	}
}

type simpleRetryInterceptor struct {
	options RetryOptions
}

func NewSimpleRetryInterceptor(options RetryOptions) Interceptor {
	options.Init()
	return &simpleRetryInterceptor{
		options: options,
	}
}

func (r *simpleRetryInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityRetrySimple
}

func (r *simpleRetryInterceptor) Intercept(req *http.Request, handler Handler) (resp *http.Response, err error) {
	// 不重试
	if r.options.RetryMax == 0 {
		return handler(req)
	}

	// 可能会被重试多次
	for i := 0; ; i++ {
		// Clone 防止后面 Handler 处理对 req 有污染
		reqBefore := req.Clone(req.Context())
		resp, err = handler(req)

		if !r.options.ShouldRetry(reqBefore, resp, err) {
			return resp, err
		}
		if i >= r.options.RetryMax || !rewindBody(reqBefore) {
			break
		}
		req = reqBefore
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		retryInterval := r.options.RetryInterval()
		if retryInterval <= time.Millisecond {
			continue
		}
		timer := time.NewTimer(retryInterval)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return resp, err
}

// rewindBody 为重试准备新的请求体，无法重放时返回 false。
func rewindBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	if req.GetBody == nil {
		return false
	}
	body, err := req.GetBody()
	if err != nil {
		return false
	}
	req.Body = body
	return true
}

func isSimpleRetryable(req *http.Request, resp *http.Response, err error) bool {
	return req != nil && isResponseSimpleRetryable(resp) && isErrorSimpleRetryable(err)
}

func isResponseSimpleRetryable(resp *http.Response) bool {
	if resp == nil {
		return true
	}

	statusCode := resp.StatusCode
	if statusCode < 500 {
		return statusCode == http.StatusTooManyRequests
	}

	return statusCode != http.StatusNotImplemented
}

func isErrorSimpleRetryable(err error) bool {
	return err == nil || isNetworkError(err)
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	switch t := err.(type) {
	case *net.OpError:
		return isNetworkErrorWithOpError(t)
	case *url.Error:
		return isNetworkError(t.Err)
	case net.Error:
		return t.Timeout()
	default:
		return false
	}
}

func isNetworkErrorWithOpError(err *net.OpError) bool {
	if err == nil {
		return false
	}

	switch t := err.Err.(type) {
	case *net.DNSError:
		return true
	case *os.SyscallError:
		if errno, ok := t.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ECONNREFUSED:
				return true
			case syscall.ETIMEDOUT:
				return true
			}
		}
	}

	return false
}
