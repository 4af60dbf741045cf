package sandbox

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/qiniu/codesession/conf"
	"github.com/qiniu/codesession/internal/clientv2"
	"github.com/qiniu/codesession/internal/configfile"
	"github.com/qiniu/codesession/internal/env"
	"github.com/qiniu/codesession/internal/log"
)

// Config 是控制面客户端和会话的配置。
type Config struct {
	// APIKey 是用于身份认证的 API 密钥（可选）。
	APIKey string

	// Endpoint 是控制面服务地址（可选，默认值：https://api.{Domain}，调试模式下为 conf.DebugEndpoint）。
	Endpoint string `validate:"omitempty,url"`

	// Domain 是沙箱会话域名后缀（可选，默认值：DefaultDomain）。
	// 用于构造控制面地址和通道地址。
	Domain string `validate:"required,hostname_rfc1123"`

	// RefreshInterval 是会话保活间隔（可选，默认值：conf.DefaultRefreshInterval）。
	RefreshInterval time.Duration `validate:"gt=0"`

	// RetryMax 是保活和健康检查请求的最大重试次数（可选，默认不重试）。
	// 创建会话的请求从不重试。
	RetryMax int `validate:"gte=0,lte=10"`

	// Debug 开启后控制面地址默认指向本地，并输出请求日志。
	Debug bool

	// LogRequests 以 debug 级别输出控制面请求和响应的头部，Debug 开启时默认输出。
	LogRequests bool
	// LogBodies 额外输出请求体和响应体。
	LogBodies bool
	// LogTrace 输出 DNS、建连、TLS 握手等连接过程。
	LogTrace bool
	// Logger 是请求日志的输出（可选，默认使用包级默认日志）。
	Logger *log.Logger `validate:"-"`

	// HTTPClient 自定义 HTTP 客户端（可选，默认值：http.DefaultClient）。
	HTTPClient *http.Client `validate:"-"`
}

func (c *Config) applyDefaults() {
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = conf.DefaultRefreshInterval
	}
}

func (c *Config) debugOptions() clientv2.DebugOptions {
	logRequests := c.Debug || c.LogRequests
	return clientv2.DebugOptions{
		Request:      logRequests,
		RequestBody:  c.LogBodies,
		Response:     logRequests,
		ResponseBody: c.LogBodies,
		Trace:        c.LogTrace,
		Logger:       c.Logger,
	}
}

func (c *Config) endpoint() string {
	switch {
	case c.Endpoint != "":
		return c.Endpoint
	case c.Debug:
		return conf.DebugEndpoint
	default:
		return "https://api." + c.Domain
	}
}

var defaultValidator = struct {
	once     sync.Once
	validate *validator.Validate
}{}

// Validate 校验配置字段。
func (c *Config) Validate() error {
	defaultValidator.once.Do(func() {
		defaultValidator.validate = validator.New()
		defaultValidator.validate.SetTagName("validate")
	})
	if err := defaultValidator.validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig 按 显式字段 > 环境变量 > 配置文件 > 默认值 的顺序合并配置。
// base 可以为 nil。
func LoadConfig(base *Config) (*Config, error) {
	cfg := Config{}
	if base != nil {
		cfg = *base
	}

	profile, err := configfile.ProfileFromConfigFile()
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if profile == nil {
		profile = &configfile.Profile{}
	}

	cfg.APIKey = firstNonEmpty(cfg.APIKey, env.APIKeyFromEnvironment(), profile.APIKey)
	cfg.Endpoint = firstNonEmpty(cfg.Endpoint, env.APIURLFromEnvironment(), profile.Endpoint)
	cfg.Domain = firstNonEmpty(cfg.Domain, env.DomainFromEnvironment(), profile.Domain)

	if !cfg.Debug {
		if isDebug, ok := env.DebugFromEnvironment(); ok {
			cfg.Debug = isDebug
		} else {
			cfg.Debug = profile.Debug
		}
	}

	if cfg.RefreshInterval == 0 {
		if d, ok := env.RefreshIntervalFromEnvironment(); ok {
			cfg.RefreshInterval = d
		} else if d, ok, err := configfile.RefreshIntervalFromConfigFile(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		} else if ok {
			cfg.RefreshInterval = d
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
