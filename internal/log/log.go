// Package log 提供基于 zerolog 的分级日志输出。
package log

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger 是会话组件使用的日志类型。
type Logger = zerolog.Logger

// Event 是一条待输出的日志记录。
type Event = zerolog.Event

var std atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(io.Discard)
	std.Store(&l)
}

// New 创建输出到 w 的控制台格式日志，每条记录带有时间戳和 app 字段。
func New(w io.Writer, app string) Logger {
	if w == nil {
		w = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}

// Nop 返回丢弃所有输出的日志。
func Nop() Logger {
	return zerolog.Nop()
}

// SetLogger 替换包级默认日志。
func SetLogger(l Logger) {
	std.Store(&l)
}

// Default 返回包级默认日志，未设置时不输出任何内容。
func Default() *Logger {
	return std.Load()
}

// SetLevel 设置包级默认日志的最低级别。
func SetLevel(level zerolog.Level) {
	l := Default().Level(level)
	SetLogger(l)
}
