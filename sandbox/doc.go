// Package sandbox 提供代码片段沙箱会话的 Go SDK，负责会话的创建、通道建立、保活和断开。
//
// 一个会话对应云端一个运行中的沙箱实例。控制面负责分配和回收会话，
// 会话建立后客户端通过一条 websocket 通道与沙箱运行时实时交互。
// 控制面会回收长时间没有保活的会话，因此会话存续期间需要周期性刷新。
//
// # 核心概念
//
//   - Client: 控制面客户端，实现 [ControlPlane]，负责创建会话和刷新会话
//   - Session: 单个会话的生命周期管理器，状态依次为 Idle、Connecting、Connected、Disconnected
//   - Channel: 与沙箱运行时之间的双工通道，通过 [ChannelEvent] 报告打开、出错和关闭
//   - Transport: 根据地址打开 Channel，websocket 实现位于 sandbox/wschannel 包
//
// # 快速开始
//
//	cfg, err := sandbox.LoadConfig(&sandbox.Config{
//	    APIKey: os.Getenv("SESSION_API_KEY"),
//	})
//	c, err := sandbox.NewClient(cfg)
//
//	opts := append(sandbox.SessionOptionsFromConfig(*cfg),
//	    sandbox.WithOnDisconnect(func() { log.Println("session ended") }),
//	)
//	s := sandbox.NewSession(c, wschannel.NewTransport(), "snippet-id", opts...)
//	if err := s.Connect(ctx); err != nil {
//	    return err
//	}
//	defer s.Disconnect()
//
//	conn := s.Channel().(*wschannel.Conn)
//	var out string
//	err = conn.Call(ctx, &out, "runtime_echo", "hello")
//
// # 会话生命周期
//
// [Session.Connect] 依次完成三步：向控制面创建会话，启动保活循环，打开通道并等待其建立。
// 会话连接中或已连接时再次调用 Connect 不会产生新的请求。
// Session 只能使用一次，断开后 Connect 返回 [ErrSessionClosed]。
//
// 以下任一情况都会断开会话，并且 [WithOnDisconnect] 回调最多执行一次：
//
//   - 调用方调用 [Session.Disconnect]
//   - 通道在打开后关闭
//   - 保活失败次数达到 [WithMaxRefreshFailures] 设置的上限，或控制面上会话已不存在
//   - Connect 期间通道报错，或超过 [WithConnectTimeout]
//
// 创建会话失败时 Connect 直接返回错误，此时没有打开通道也没有启动保活，不会调用断开回调。
// 断开原因可以通过 [Session.Err] 获取，[Session.Done] 在断开时关闭。
//
// # 配置
//
// [LoadConfig] 按 显式字段 > 环境变量 > 配置文件 > 默认值 的顺序合并配置。
// 支持的环境变量：SESSION_API_KEY、SESSION_API_URL、SESSION_DOMAIN、SESSION_DEBUG、
// SESSION_REFRESH_INTERVAL、SESSION_CONFIG_FILE、SESSION_PROFILE。
// 配置文件默认位于 ~/.codesession/config.toml，也可以使用 YAML 格式。
//
// # 错误处理
//
// 控制面返回非预期状态码时返回 [*APIError]:
//
//	var apiErr *sandbox.APIError
//	if errors.As(err, &apiErr) {
//	    fmt.Println(apiErr.StatusCode, apiErr.Message)
//	}
//
// 会话不存在的错误满足 errors.Is(err, [ErrSessionNotFound])，
// 通道建立失败的错误满足 errors.Is(err, [ErrChannel])。
package sandbox
