// sessionctl 建立一个或多个代码片段会话并保持连接，直到收到信号、到达指定时长或会话被断开。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qiniu/codesession/internal/log"
	"github.com/qiniu/codesession/sandbox"
	"github.com/qiniu/codesession/sandbox/wschannel"
)

type options struct {
	Snippets        []string      `short:"s" long:"snippet" description:"代码片段 ID，可重复指定以同时保持多个会话"`
	Endpoint        string        `long:"endpoint" description:"控制面地址"`
	Domain          string        `long:"domain" description:"会话域名后缀"`
	RefreshInterval time.Duration `long:"refresh-interval" description:"保活间隔"`
	ConnectTimeout  time.Duration `long:"connect-timeout" default:"30s" description:"建立会话的超时时间"`
	MaxFailures     int           `long:"max-refresh-failures" default:"1" description:"保活连续失败多少次后断开"`
	Duration        time.Duration `short:"d" long:"duration" description:"保持会话的时长，不指定时直到收到信号"`
	Health          bool          `long:"health" description:"只对控制面执行健康检查"`
	Verbose         []bool        `short:"v" long:"verbose" description:"输出调试日志；-vv 附带请求体和响应体，-vvv 附带连接过程"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log.SetLogger(log.New(os.Stderr, "sessionctl"))
	if len(opts.Verbose) > 0 {
		log.SetLevel(zerolog.DebugLevel)
	} else {
		log.SetLevel(zerolog.InfoLevel)
	}
	logger := *log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err := run(ctx, &opts, logger); err != nil {
		logger.Error().Err(err).Msg("sessionctl failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logger log.Logger) error {
	cfg, err := sandbox.LoadConfig(&sandbox.Config{
		Endpoint:        opts.Endpoint,
		Domain:          opts.Domain,
		RefreshInterval: opts.RefreshInterval,
	})
	if err != nil {
		return err
	}
	applyVerbosity(cfg, len(opts.Verbose), logger)
	client, err := sandbox.NewClient(cfg)
	if err != nil {
		return err
	}

	if opts.Health {
		if err := client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		logger.Info().Str("endpoint", client.Config().Endpoint).Msg("control plane healthy")
		return nil
	}
	if len(opts.Snippets) == 0 {
		return errors.New("at least one --snippet is required")
	}

	transport := wschannel.NewTransport(
		wschannel.WithLogger(logger),
		wschannel.WithOnNotification(func(n *wschannel.Notification) {
			logger.Info().Str("method", n.Method).Str("params", string(n.Params)).Msg("notification")
		}),
	)

	sessionOpts := append(sandbox.SessionOptionsFromConfig(*cfg),
		sandbox.WithConnectTimeout(opts.ConnectTimeout),
		sandbox.WithMaxRefreshFailures(opts.MaxFailures),
		sandbox.WithLogger(logger),
	)

	// 任一会话异常断开时结束其余会话
	g, ctx := errgroup.WithContext(ctx)
	for _, snippetID := range opts.Snippets {
		snippetID := snippetID
		g.Go(func() error {
			return hold(ctx, sandbox.NewSession(client, transport, snippetID, sessionOpts...), logger)
		})
	}
	return g.Wait()
}

// applyVerbosity 按 -v 的次数打开控制面请求日志。
func applyVerbosity(cfg *sandbox.Config, level int, logger log.Logger) {
	if level <= 0 {
		return
	}
	cfg.LogRequests = true
	cfg.LogBodies = level >= 2
	cfg.LogTrace = level >= 3
	cfg.Logger = &logger
}

// hold 连接会话并保持到 ctx 结束或会话断开。
func hold(ctx context.Context, s *sandbox.Session, logger log.Logger) error {
	if err := s.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("snippet %s: %w", s.SnippetID(), err)
	}
	defer s.Disconnect()

	info := s.Info()
	logger.Info().
		Str("snippet", s.SnippetID()).
		Str("session", info.SessionID).
		Str("client", info.ClientID).
		Msg("session connected")

	select {
	case <-ctx.Done():
		return nil
	case <-s.Done():
		if err := s.Err(); err != nil {
			return fmt.Errorf("snippet %s: %w", s.SnippetID(), err)
		}
		logger.Info().Str("snippet", s.SnippetID()).Msg("session ended")
		return nil
	}
}
