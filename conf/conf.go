package conf

import (
	"time"
)

const Version = "1.4.0"

const CONTENT_TYPE_JSON = "application/json"

// ChannelPort 是沙箱运行时 websocket 服务监听的端口，作为通道地址的第一段子域名。
const ChannelPort = 49982

// DefaultDomain 是沙箱会话的默认域名后缀。
const DefaultDomain = "ondevbook.com"

// DefaultRefreshInterval 是会话保活请求的默认间隔，必须明显小于控制面回收会话的时限。
const DefaultRefreshInterval = 5 * time.Second

// DebugEndpoint 是调试模式下控制面的地址。
const DebugEndpoint = "http://localhost:3000"
