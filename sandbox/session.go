package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/qiniu/codesession/internal/log"
)

// State 是 Session 的生命周期状态。
type State int

const (
	// StateIdle 尚未调用 Connect。
	StateIdle State = iota
	// StateConnecting 正在创建会话或等待通道建立。
	StateConnecting
	// StateConnected 通道已建立，保活循环运行中。
	StateConnected
	// StateDisconnected 会话已结束，这是终止状态。
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session 管理一个代码片段会话的完整生命周期：创建、建立通道、保活和断开。
//
// Session 只能使用一次：断开后再次 Connect 返回 ErrSessionClosed，需要新会话时应创建新的 Session。
// 所有方法都可以并发调用。
type Session struct {
	controlPlane ControlPlane
	transport    Transport
	snippetID    string
	opts         *sessionOpts
	logger       *log.Logger

	mu      sync.Mutex
	state   State
	info    *SessionInfo
	channel Channel
	cause   error
	stop    chan struct{}
}

// NewSession 创建绑定到 snippetID 的会话管理器，不发起任何请求。
func NewSession(controlPlane ControlPlane, transport Transport, snippetID string, opts ...SessionOption) *Session {
	o := defaultSessionOpts()
	for _, fn := range opts {
		fn(o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.Default()
	}
	l := logger.With().Str("snippet", snippetID).Logger()
	return &Session{
		controlPlane: controlPlane,
		transport:    transport,
		snippetID:    snippetID,
		opts:         o,
		logger:       &l,
		stop:         make(chan struct{}),
	}
}

// SnippetID 返回会话绑定的代码片段 ID。
func (s *Session) SnippetID() string { return s.snippetID }

// State 返回当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning 返回会话是否处于 Connecting 或 Connected 状态。
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunningLocked()
}

func (s *Session) isRunningLocked() bool {
	return s.state == StateConnecting || s.state == StateConnected
}

// Info 返回控制面分配的会话标识，会话创建成功前返回 nil。
func (s *Session) Info() *SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

// Channel 返回会话持有的通道，通道打开前返回 nil。
func (s *Session) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Done 返回在会话断开时关闭的 channel。
func (s *Session) Done() <-chan struct{} {
	return s.stop
}

// Err 返回导致会话断开的原因。调用方主动断开或会话尚未断开时返回 nil。
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Connect 创建会话、打开通道并启动保活循环，在通道建立后返回。
//
// 会话已在连接中或已连接时直接返回 nil，不产生新的请求；会话已断开时返回 ErrSessionClosed。
// 创建会话失败时返回该错误，不会打开通道也不会启动保活。
// 通道在建立前报错或关闭时返回包装了 ErrChannel 的错误，并释放已获取的资源。
// Connect 返回后通道的关闭不会再通过 Connect 报告，而是触发断开和 WithOnDisconnect 回调。
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateDisconnected:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state != StateIdle || s.info != nil:
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if s.opts.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.connectTimeout)
		defer cancel()
	}

	s.logger.Debug().Msg("creating session")
	info, err := s.controlPlane.CreateSession(ctx, s.snippetID)
	if err != nil {
		s.abort(err)
		return fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// 创建请求期间已被断开，跳过后续步骤
		s.mu.Unlock()
		return s.closedError()
	}
	s.info = info
	s.mu.Unlock()

	go s.keepalive(info.SessionID)

	target := ChannelTarget(s.opts.port, info.SessionID, info.ClientID, s.opts.domain)
	s.logger.Debug().Str("session", info.SessionID).Str("target", target).Msg("opening channel")
	ch, err := s.transport.Open(ctx, target)
	if err != nil {
		err = fmt.Errorf("%w: open %s: %w", ErrChannel, target, err)
		s.teardown(err)
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		s.closeChannel(ch)
		return s.closedError()
	}
	s.channel = ch
	s.mu.Unlock()

	return s.waitForOpen(ctx, ch)
}

// waitForOpen 等待通道的第一个事件并结算 Connect 的结果。
func (s *Session) waitForOpen(ctx context.Context, ch Channel) error {
	events := ch.Events()
	select {
	case ev, ok := <-events:
		if !ok {
			ev = ChannelEvent{Kind: EventClosed}
		}
		switch ev.Kind {
		case EventOpened:
			s.mu.Lock()
			if s.state != StateConnecting {
				s.mu.Unlock()
				return s.closedError()
			}
			s.state = StateConnected
			s.mu.Unlock()
			s.logger.Debug().Msg("channel opened")
			go s.watchChannel(events)
			return nil
		case EventErrored:
			err := ErrChannel
			if ev.Err != nil {
				err = fmt.Errorf("%w: %w", ErrChannel, ev.Err)
			}
			s.teardown(err)
			return err
		default:
			err := fmt.Errorf("%w: closed before open", ErrChannel)
			s.teardown(err)
			return err
		}
	case <-s.stop:
		return s.closedError()
	case <-ctx.Done():
		err := ctx.Err()
		s.teardown(err)
		return err
	}
}

// watchChannel 在通道打开后等待关闭事件，关闭时断开会话。
func (s *Session) watchChannel(events <-chan ChannelEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok || ev.Kind == EventClosed {
				s.logger.Debug().Msg("channel closed")
				s.teardown(nil)
				return
			}
			if ev.Kind == EventErrored {
				s.logger.Warn().Err(ev.Err).Msg("channel error")
			}
		case <-s.stop:
			return
		}
	}
}

// Disconnect 断开会话：停止保活、关闭通道并调用断开回调。
// 可重复调用，只有第一次调用生效；会话未运行时什么也不做。
func (s *Session) Disconnect() {
	s.teardown(nil)
}

// teardown 是所有断开路径的汇合点。状态的检查和切换在同一把锁内完成，保证回调最多执行一次。
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if !s.isRunningLocked() {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.cause = cause
	ch := s.channel
	close(s.stop)
	s.mu.Unlock()

	if cause != nil {
		s.logger.Debug().Err(cause).Msg("session disconnected")
	} else {
		s.logger.Debug().Msg("session disconnected")
	}

	if ch != nil {
		s.closeChannel(ch)
	}
	if s.opts.onDisconnect != nil {
		s.opts.onDisconnect()
	}
}

// abort 在会话创建失败时结束生命周期。没有获取任何资源，不调用断开回调。
func (s *Session) abort(cause error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.cause = cause
	close(s.stop)
	s.mu.Unlock()
	s.logger.Debug().Err(cause).Msg("create session failed")
}

func (s *Session) closeChannel(ch Channel) {
	if err := ch.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close channel")
	}
}

func (s *Session) closedError() error {
	s.mu.Lock()
	cause := s.cause
	s.mu.Unlock()
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	return ErrSessionClosed
}
