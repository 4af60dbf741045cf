// Package apis 声明控制面 REST API 的请求/响应结构，并提供与之对应的底层 HTTP 客户端。
package apis

// Error 是控制面返回的错误结构。
type Error struct {
	// Code 错误码
	Code int32 `json:"code"`

	// Message 错误信息
	Message string `json:"message"`
}

// NewSession 是创建会话的请求体。
type NewSession struct {
	// CodeSnippetID 会话绑定的代码片段 ID
	CodeSnippetID string `json:"codeSnippetID"`

	// EditEnabled 是否以可编辑模式打开代码片段
	EditEnabled *bool `json:"editEnabled,omitempty"`
}

// Session 是控制面分配的会话。
type Session struct {
	// ClientID 用于把通道路由到正确的沙箱副本
	ClientID string `json:"clientID"`

	// CodeSnippetID 会话绑定的代码片段 ID
	CodeSnippetID string `json:"codeSnippetID"`

	// EditEnabled 会话是否可编辑
	EditEnabled bool `json:"editEnabled"`

	// SessionID 会话 ID
	SessionID string `json:"sessionID"`
}

// SessionID defines model for sessionID.
type SessionID = string

// CreateSessionJSONRequestBody defines body for CreateSession for application/json ContentType.
type CreateSessionJSONRequestBody = NewSession
