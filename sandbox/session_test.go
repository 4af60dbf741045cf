package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/codesession/internal/log"
)

// mockControlPlane 实现 ControlPlane 用于测试。未设置的方法使用默认行为。
type mockControlPlane struct {
	createSessionFn  func(ctx context.Context, snippetID string) (*SessionInfo, error)
	refreshSessionFn func(ctx context.Context, sessionID string) error

	createCalls  atomic.Int32
	refreshCalls atomic.Int32

	mu         sync.Mutex
	refreshIDs []string
}

func (m *mockControlPlane) CreateSession(ctx context.Context, snippetID string) (*SessionInfo, error) {
	m.createCalls.Add(1)
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, snippetID)
	}
	return &SessionInfo{SessionID: "s1", ClientID: "c1", CodeSnippetID: snippetID}, nil
}

func (m *mockControlPlane) RefreshSession(ctx context.Context, sessionID string) error {
	m.refreshCalls.Add(1)
	m.mu.Lock()
	m.refreshIDs = append(m.refreshIDs, sessionID)
	m.mu.Unlock()
	if m.refreshSessionFn != nil {
		return m.refreshSessionFn(ctx, sessionID)
	}
	return nil
}

func (m *mockControlPlane) refreshedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshIDs...)
}

// fakeChannel 是由测试控制事件的 Channel。
type fakeChannel struct {
	target     string
	events     chan ChannelEvent
	closeCalls atomic.Int32
}

func (c *fakeChannel) Events() <-chan ChannelEvent { return c.events }

func (c *fakeChannel) Close() error {
	c.closeCalls.Add(1)
	return nil
}

func (c *fakeChannel) emit(kind EventKind, err error) {
	c.events <- ChannelEvent{Kind: kind, Err: err}
}

// fakeTransport 记录每次 Open，onOpen 可以在打开时立即投递事件。
type fakeTransport struct {
	openErr error
	onOpen  func(ch *fakeChannel)

	mu       sync.Mutex
	channels []*fakeChannel
	opened   chan *fakeChannel
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeChannel, 8)}
}

// openedImmediately 返回打开后立即报告 EventOpened 的 Transport。
func openedImmediately() *fakeTransport {
	tr := newFakeTransport()
	tr.onOpen = func(ch *fakeChannel) { ch.emit(EventOpened, nil) }
	return tr
}

func (t *fakeTransport) Open(ctx context.Context, target string) (Channel, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	ch := &fakeChannel{target: target, events: make(chan ChannelEvent, 3)}
	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()
	if t.onOpen != nil {
		t.onOpen(ch)
	}
	t.opened <- ch
	return ch, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels)
}

func (t *fakeTransport) waitOpened(tb testing.TB) *fakeChannel {
	tb.Helper()
	select {
	case ch := <-t.opened:
		return ch
	case <-time.After(5 * time.Second):
		tb.Fatal("channel was not opened")
		return nil
	}
}

func newTestSession(cp ControlPlane, tr Transport, opts ...SessionOption) *Session {
	opts = append([]SessionOption{WithLogger(log.Nop())}, opts...)
	return NewSession(cp, tr, "abc123", opts...)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not disconnect")
	}
}

func TestSessionConnectSingleCall(t *testing.T) {
	cp := &mockControlPlane{}
	tr := openedImmediately()
	s := newTestSession(cp, tr, WithRefreshInterval(time.Hour))
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, int32(1), cp.createCalls.Load())
	assert.Equal(t, 1, tr.openCount())
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.IsRunning())
	require.NotNil(t, s.Info())
	assert.Equal(t, "s1", s.Info().SessionID)
	assert.NotNil(t, s.Channel())
}

func TestSessionConnectTwiceAfterSuccess(t *testing.T) {
	cp := &mockControlPlane{}
	tr := openedImmediately()
	s := newTestSession(cp, tr, WithRefreshInterval(time.Hour))
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, int32(1), cp.createCalls.Load())
	assert.Equal(t, 1, tr.openCount())
}

func TestSessionConnectWhilePending(t *testing.T) {
	release := make(chan struct{})
	cp := &mockControlPlane{
		createSessionFn: func(ctx context.Context, snippetID string) (*SessionInfo, error) {
			<-release
			return &SessionInfo{SessionID: "s1", ClientID: "c1"}, nil
		},
	}
	tr := openedImmediately()
	s := newTestSession(cp, tr, WithRefreshInterval(time.Hour))
	defer s.Disconnect()

	first := make(chan error, 1)
	go func() { first <- s.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return cp.createCalls.Load() == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, StateConnecting, s.State())

	// 第二次调用立即返回，不产生新的请求
	require.NoError(t, s.Connect(context.Background()))
	close(release)
	require.NoError(t, <-first)

	assert.Equal(t, int32(1), cp.createCalls.Load())
	assert.Equal(t, 1, tr.openCount())
}

func TestSessionCreateFailure(t *testing.T) {
	serviceErr := newAPIError(500, []byte(`{"code":500,"message":"no capacity"}`))
	cp := &mockControlPlane{
		createSessionFn: func(ctx context.Context, snippetID string) (*SessionInfo, error) {
			return nil, serviceErr
		},
	}
	tr := openedImmediately()
	var disconnects atomic.Int32
	s := newTestSession(cp, tr,
		WithRefreshInterval(10*time.Millisecond),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, serviceErr)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, tr.openCount())
	assert.Equal(t, int32(0), cp.refreshCalls.Load())
	assert.Equal(t, int32(0), disconnects.Load())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Nil(t, s.Info())
	assert.ErrorIs(t, s.Err(), serviceErr)

	// 实例只能使用一次
	assert.ErrorIs(t, s.Connect(context.Background()), ErrSessionClosed)
	assert.Equal(t, int32(1), cp.createCalls.Load())
}

func TestSessionRefreshUntilDisconnect(t *testing.T) {
	cp := &mockControlPlane{}
	tr := openedImmediately()
	var disconnects atomic.Int32
	s := newTestSession(cp, tr,
		WithRefreshInterval(20*time.Millisecond),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return cp.refreshCalls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)

	s.Disconnect()
	waitDone(t, s)
	// 断开瞬间可能有一个已发出的刷新
	time.Sleep(20 * time.Millisecond)
	calls := cp.refreshCalls.Load()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, calls, cp.refreshCalls.Load(), "no refresh after disconnect")
	assert.Equal(t, int32(1), disconnects.Load())
	for _, id := range cp.refreshedIDs() {
		assert.Equal(t, "s1", id)
	}
	ch := s.Channel().(*fakeChannel)
	assert.Equal(t, int32(1), ch.closeCalls.Load())
	assert.NoError(t, s.Err())
}

func TestSessionChannelErrorBeforeOpen(t *testing.T) {
	cp := &mockControlPlane{}
	dialErr := errors.New("connection refused")
	tr := newFakeTransport()
	tr.onOpen = func(ch *fakeChannel) { ch.emit(EventErrored, dialErr) }
	var disconnects atomic.Int32
	s := newTestSession(cp, tr,
		WithRefreshInterval(10*time.Millisecond),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannel)
	assert.ErrorIs(t, err, dialErr)
	waitDone(t, s)

	time.Sleep(20 * time.Millisecond)
	calls := cp.refreshCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, cp.refreshCalls.Load(), "refresh loop stopped")
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, int32(1), tr.channels[0].closeCalls.Load())
}

func TestSessionChannelClosedBeforeOpen(t *testing.T) {
	tr := newFakeTransport()
	tr.onOpen = func(ch *fakeChannel) { ch.emit(EventClosed, nil) }
	s := newTestSession(&mockControlPlane{}, tr, WithRefreshInterval(time.Hour))

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrChannel)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionTransportOpenError(t *testing.T) {
	openErr := errors.New("bad target")
	tr := newFakeTransport()
	tr.openErr = openErr
	var disconnects atomic.Int32
	s := newTestSession(&mockControlPlane{}, tr,
		WithRefreshInterval(time.Hour),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrChannel)
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestSessionDisconnectBeforeOpen(t *testing.T) {
	cp := &mockControlPlane{}
	tr := newFakeTransport()
	var disconnects atomic.Int32
	s := newTestSession(cp, tr,
		WithRefreshInterval(10*time.Millisecond),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()

	ch := tr.waitOpened(t)
	s.Disconnect()
	// 断开后通道才报告打开
	ch.emit(EventOpened, nil)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return")
	}

	time.Sleep(20 * time.Millisecond)
	calls := cp.refreshCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, cp.refreshCalls.Load())
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, StateDisconnected, s.State())
	assert.GreaterOrEqual(t, ch.closeCalls.Load(), int32(1))
}

func TestSessionDisconnectDuringCreate(t *testing.T) {
	release := make(chan struct{})
	cp := &mockControlPlane{
		createSessionFn: func(ctx context.Context, snippetID string) (*SessionInfo, error) {
			<-release
			return &SessionInfo{SessionID: "s1", ClientID: "c1"}, nil
		},
	}
	tr := openedImmediately()
	s := newTestSession(cp, tr, WithRefreshInterval(10*time.Millisecond))

	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return cp.createCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	s.Disconnect()
	close(release)

	assert.ErrorIs(t, <-result, ErrSessionClosed)
	assert.Equal(t, 0, tr.openCount())
	assert.Equal(t, int32(0), cp.refreshCalls.Load())
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	var disconnects atomic.Int32
	s := newTestSession(&mockControlPlane{}, openedImmediately(),
		WithRefreshInterval(time.Hour),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)
	require.NoError(t, s.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect()
		}()
	}
	wg.Wait()
	s.Disconnect()

	assert.Equal(t, int32(1), disconnects.Load())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrSessionClosed)
}

func TestSessionConcurrentTeardown(t *testing.T) {
	for round := 0; round < 50; round++ {
		var failing atomic.Bool
		cp := &mockControlPlane{
			refreshSessionFn: func(ctx context.Context, sessionID string) error {
				if failing.Load() {
					return errors.New("refresh failed")
				}
				return nil
			},
		}
		tr := openedImmediately()
		var disconnects atomic.Int32
		s := newTestSession(cp, tr,
			WithRefreshInterval(time.Millisecond),
			WithOnDisconnect(func() { disconnects.Add(1) }),
		)
		require.NoError(t, s.Connect(context.Background()))
		ch := tr.channels[0]

		// 主动断开、保活失败和通道关闭同时触发断开
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				s.Disconnect()
			}()
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			failing.Store(true)
		}()
		go func() {
			defer wg.Done()
			<-start
			ch.emit(EventClosed, nil)
		}()
		close(start)
		wg.Wait()

		waitDone(t, s)
		// 等待断开前已发出的刷新返回
		time.Sleep(20 * time.Millisecond)
		refreshes := cp.refreshCalls.Load()
		time.Sleep(20 * time.Millisecond)

		assert.Equal(t, refreshes, cp.refreshCalls.Load(), "round %d: refreshed after done", round)
		assert.Equal(t, int32(1), disconnects.Load(), "round %d", round)
		assert.Equal(t, StateDisconnected, s.State())
		assert.Equal(t, int32(1), ch.closeCalls.Load(), "round %d", round)
	}
}

func TestSessionDisconnectIdle(t *testing.T) {
	var disconnects atomic.Int32
	cp := &mockControlPlane{}
	s := newTestSession(cp, openedImmediately(), WithOnDisconnect(func() { disconnects.Add(1) }))

	s.Disconnect()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, int32(0), disconnects.Load())

	// 未运行时断开无效，之后仍可连接
	require.NoError(t, s.Connect(context.Background()))
	s.Disconnect()
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestSessionChannelClosedAfterOpen(t *testing.T) {
	cp := &mockControlPlane{}
	tr := openedImmediately()
	var disconnects atomic.Int32
	s := newTestSession(cp, tr,
		WithRefreshInterval(10*time.Millisecond),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)
	require.NoError(t, s.Connect(context.Background()))
	ch := tr.channels[0]

	// 打开后的错误只记录日志
	ch.emit(EventErrored, errors.New("transient"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnected, s.State())

	ch.emit(EventClosed, nil)
	waitDone(t, s)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionRefreshNotFound(t *testing.T) {
	cp := &mockControlPlane{
		refreshSessionFn: func(ctx context.Context, sessionID string) error {
			return newAPIError(404, []byte(`{"code":404,"message":"session not found"}`))
		},
	}
	var disconnects atomic.Int32
	s := newTestSession(cp, openedImmediately(),
		WithRefreshInterval(10*time.Millisecond),
		WithMaxRefreshFailures(5),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	// 首次刷新可能在通道打开前就失败
	err := s.Connect(context.Background())
	if err != nil {
		assert.ErrorIs(t, err, ErrSessionClosed)
	}
	waitDone(t, s)

	assert.Equal(t, int32(1), cp.refreshCalls.Load())
	assert.ErrorIs(t, s.Err(), ErrSessionNotFound)
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestSessionRefreshToleratesFailures(t *testing.T) {
	var calls atomic.Int32
	cp := &mockControlPlane{
		refreshSessionFn: func(ctx context.Context, sessionID string) error {
			// 偶数次失败，失败不连续
			if calls.Add(1)%2 == 0 {
				return errors.New("temporary")
			}
			return nil
		},
	}
	s := newTestSession(cp, openedImmediately(),
		WithRefreshInterval(5*time.Millisecond),
		WithMaxRefreshFailures(2),
	)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	require.Eventually(t, func() bool { return cp.refreshCalls.Load() >= 6 }, 5*time.Second, time.Millisecond)
	assert.True(t, s.IsRunning())
}

func TestSessionRefreshFailureLimit(t *testing.T) {
	cp := &mockControlPlane{
		refreshSessionFn: func(ctx context.Context, sessionID string) error {
			return errors.New("control plane unavailable")
		},
	}
	s := newTestSession(cp, newFakeTransport(),
		WithRefreshInterval(5*time.Millisecond),
		WithMaxRefreshFailures(3),
	)

	go s.Connect(context.Background())
	waitDone(t, s)

	assert.Equal(t, int32(3), cp.refreshCalls.Load())
	assert.ErrorContains(t, s.Err(), "control plane unavailable")
}

func TestSessionConnectTimeout(t *testing.T) {
	tr := newFakeTransport()
	var disconnects atomic.Int32
	s := newTestSession(&mockControlPlane{}, tr,
		WithRefreshInterval(time.Hour),
		WithConnectTimeout(20*time.Millisecond),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, int32(1), tr.channels[0].closeCalls.Load())
}

func TestSessionChannelTarget(t *testing.T) {
	tr := openedImmediately()
	s := newTestSession(&mockControlPlane{}, tr,
		WithRefreshInterval(time.Hour),
		WithDomain("example.dev"),
	)
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, "wss://49982-s1-c1.example.dev", tr.channels[0].target)
	assert.Equal(t, "wss://8080-a-b.ondevbook.com", ChannelTarget(8080, "a", "b", DefaultDomain))
}

func TestSessionEndToEnd(t *testing.T) {
	cp := &mockControlPlane{}
	tr := openedImmediately()
	var disconnects atomic.Int32
	interval := 20 * time.Millisecond
	s := newTestSession(cp, tr,
		WithRefreshInterval(interval),
		WithOnDisconnect(func() { disconnects.Add(1) }),
	)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, "wss://49982-s1-c1.ondevbook.com", tr.channels[0].target)

	const n = 3
	time.Sleep(n * interval)
	require.Eventually(t, func() bool { return cp.refreshCalls.Load() >= n }, 5*time.Second, time.Millisecond)
	for _, id := range cp.refreshedIDs() {
		assert.Equal(t, "s1", id)
	}

	s.Disconnect()
	time.Sleep(interval)
	calls := cp.refreshCalls.Load()
	time.Sleep(3 * interval)

	assert.Equal(t, calls, cp.refreshCalls.Load())
	assert.Equal(t, int32(1), tr.channels[0].closeCalls.Load())
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "errored", EventErrored.String())
}
