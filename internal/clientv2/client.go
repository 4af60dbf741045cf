package clientv2

import (
	"net/http"
	"sort"
)

type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

type Handler func(req *http.Request) (*http.Response, error)

type client struct {
	coreClient   Client
	interceptors interceptorList
}

// NewClient 在 cli 之上叠加拦截器。cli 为 nil 时使用 http.DefaultClient。
// 默认附加请求头拦截器。
func NewClient(cli Client, interceptors ...Interceptor) Client {
	if cli == nil {
		if http.DefaultClient != nil {
			cli = http.DefaultClient
		} else {
			cli = &http.Client{}
		}
	}

	is := append(interceptorList{}, interceptors...)
	is = append(is, newDefaultHeaderInterceptor())

	return &client{
		coreClient:   cli,
		interceptors: is,
	}
}

// Do 依次经过拦截器后发送请求，不检查响应状态码。
// 请求 context 中通过 WithInterceptors 附加的拦截器与客户端拦截器合并排序。
func (c *client) Do(req *http.Request) (*http.Response, error) {
	interceptors := append(interceptorList{}, c.interceptors...)
	interceptors = append(interceptors, getInterceptorsFromRequest(req)...)
	sort.Stable(interceptors)

	handler := Handler(c.coreClient.Do)
	// 数字越小越靠外层
	for i := len(interceptors) - 1; i >= 0; i-- {
		h := handler
		interceptor := interceptors[i]
		handler = func(r *http.Request) (*http.Response, error) {
			return interceptor.Intercept(r, h)
		}
	}
	return handler(req)
}
