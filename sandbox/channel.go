package sandbox

import (
	"context"
	"fmt"
)

// EventKind 是通道生命周期事件的类型。
type EventKind int

const (
	// EventOpened 通道已建立。
	EventOpened EventKind = iota + 1
	// EventErrored 通道出错，Err 携带原因。
	EventErrored
	// EventClosed 通道已关闭，可能没有先出现 EventOpened。
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventErrored:
		return "errored"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ChannelEvent 是通道投递给会话管理器的事件。
type ChannelEvent struct {
	Kind EventKind
	Err  error
}

// Channel 是与沙箱运行时之间的双工通道。
//
// 每种事件最多出现一次，EventClosed 之后 Events 返回的 channel 被关闭。
// 实现需保证即使无人接收也不会因投递事件而永久阻塞。
type Channel interface {
	// Events 返回通道生命周期事件，多次调用返回同一个 channel。
	Events() <-chan ChannelEvent
	// Close 关闭通道，对已关闭或从未打开的通道调用是安全的。
	Close() error
}

// Transport 根据地址打开 Channel。Open 不等待通道建立完成，建立结果通过事件报告。
type Transport interface {
	Open(ctx context.Context, target string) (Channel, error)
}

// TransportFunc 把函数适配为 Transport。
type TransportFunc func(ctx context.Context, target string) (Channel, error)

// Open 实现 Transport。
func (f TransportFunc) Open(ctx context.Context, target string) (Channel, error) {
	return f(ctx, target)
}

// ChannelTarget 返回会话的通道地址。
// 格式: wss://{port}-{sessionID}-{clientID}.{domain}
func ChannelTarget(port int, sessionID, clientID, domain string) string {
	return fmt.Sprintf("wss://%d-%s-%s.%s", port, sessionID, clientID, domain)
}
