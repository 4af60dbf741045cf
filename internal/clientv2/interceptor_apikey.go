package clientv2

import (
	"net/http"
)

const RequestHeaderKeyAPIKey = "X-API-Key"

type APIKeyConfig struct {
	// 控制面 API 密钥
	APIKey string
	// 设置请求头前回调函数
	BeforeSign func(*http.Request)
	// 设置请求头后回调函数
	AfterSign func(*http.Request)
}

type apiKeyInterceptor struct {
	config APIKeyConfig
}

func NewAPIKeyInterceptor(config APIKeyConfig) Interceptor {
	return &apiKeyInterceptor{
		config: config,
	}
}

func (interceptor *apiKeyInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityAuth
}

func (interceptor *apiKeyInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if interceptor == nil || req == nil || interceptor.config.APIKey == "" {
		return handler(req)
	}

	if interceptor.config.BeforeSign != nil {
		interceptor.config.BeforeSign(req)
	}
	req.Header.Set(RequestHeaderKeyAPIKey, interceptor.config.APIKey)
	if interceptor.config.AfterSign != nil {
		interceptor.config.AfterSign(req)
	}

	return handler(req)
}
