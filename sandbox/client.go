package sandbox

import (
	"context"
	"net/http"

	"github.com/qiniu/codesession/conf"
	"github.com/qiniu/codesession/internal/clientv2"
	"github.com/qiniu/codesession/sandbox/apis"
)

// DefaultDomain 是沙箱会话的默认域名后缀。
const DefaultDomain = conf.DefaultDomain

// Client 是控制面的高级客户端，负责会话的创建和保活。
// Client 不持有会话状态，可被多个 Session 共享。
type Client struct {
	config *Config
	api    apis.ClientWithResponsesInterface
}

// NewClient 创建一个新的控制面客户端。
// config 中未设置的字段使用默认值，不读取环境变量；需要环境变量和配置文件时使用 LoadConfig。
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interceptors := []clientv2.Interceptor{
		clientv2.NewAPIKeyInterceptor(clientv2.APIKeyConfig{APIKey: cfg.APIKey}),
	}
	if debug := cfg.debugOptions(); debug.Enabled() {
		interceptors = append(interceptors, clientv2.NewDebugInterceptor(debug))
	}

	var core clientv2.Client
	if cfg.HTTPClient != nil {
		core = cfg.HTTPClient
	}
	doer := clientv2.NewClient(core, interceptors...)

	client, err := apis.NewClientWithResponses(cfg.endpoint(), apis.WithHTTPClient(doer))
	if err != nil {
		return nil, err
	}

	return &Client{config: &cfg, api: client}, nil
}

// Config 返回客户端生效的配置副本。
func (c *Client) Config() Config {
	return *c.config
}

// API 返回底层 API 客户端，用于直接访问控制面接口。
func (c *Client) API() apis.ClientWithResponsesInterface {
	return c.api
}

// HealthCheck 对控制面执行健康检查。
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.api.HealthCheckWithResponse(c.withRetry(ctx))
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return newAPIError(resp.StatusCode(), resp.Body)
	}
	return nil
}

// withRetry 为幂等请求附加简单重试拦截器。创建会话不经过此处，失败立即返回。
func (c *Client) withRetry(ctx context.Context) context.Context {
	if c.config.RetryMax <= 0 {
		return ctx
	}
	return clientv2.WithInterceptors(ctx, clientv2.NewSimpleRetryInterceptor(clientv2.RetryOptions{
		RetryMax: c.config.RetryMax,
	}))
}
