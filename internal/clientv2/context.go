package clientv2

import (
	"context"
	"net/http"
)

type interceptorsContextKey struct{}

// WithInterceptors 返回携带额外拦截器的 context，用该 context 构造的请求在 Do 时会额外经过这些拦截器。
func WithInterceptors(ctx context.Context, interceptors ...Interceptor) context.Context {
	existing, _ := ctx.Value(interceptorsContextKey{}).(interceptorList)
	merged := append(append(interceptorList{}, existing...), interceptors...)
	return context.WithValue(ctx, interceptorsContextKey{}, merged)
}

func getInterceptorsFromRequest(req *http.Request) interceptorList {
	if req == nil {
		return nil
	}
	interceptors, _ := req.Context().Value(interceptorsContextKey{}).(interceptorList)
	return interceptors
}
