package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// keepalive 在后台运行保活循环，循环以任何原因结束都会断开会话。
func (s *Session) keepalive(sessionID string) {
	err := s.refreshLoop(sessionID)
	if errors.Is(err, errSessionStopped) {
		// 会话已由其他路径断开，这里的 teardown 不会再产生效果
		s.teardown(nil)
		return
	}
	s.logger.Warn().Err(err).Str("session", sessionID).Msg("keepalive stopped")
	s.teardown(err)
}

// refreshLoop 周期性刷新会话，直到会话停止或刷新失败次数达到上限。
// 停止信号会立即唤醒等待，不必等到间隔结束。
func (s *Session) refreshLoop(sessionID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(s.opts.refreshInterval)
	defer timer.Stop()

	failures := 0
	for {
		if !s.IsRunning() {
			return errSessionStopped
		}

		if err := s.controlPlane.RefreshSession(ctx, sessionID); err != nil {
			if !s.IsRunning() {
				return errSessionStopped
			}
			failures++
			if isNotFoundError(err) || failures >= s.opts.maxRefreshFailures {
				return fmt.Errorf("refresh session %s: %w", sessionID, err)
			}
			s.logger.Warn().Err(err).Str("session", sessionID).Int("failures", failures).Msg("refresh session failed")
		} else {
			failures = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.opts.refreshInterval)
		select {
		case <-s.stop:
		case <-timer.C:
		}
	}
}
