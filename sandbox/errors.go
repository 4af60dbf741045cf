package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	// ErrSessionClosed 表示会话已经断开，Session 实例不能再次连接。
	ErrSessionClosed = errors.New("session closed")

	// ErrChannel 表示通道在打开前报告了错误或被关闭。
	ErrChannel = errors.New("session channel failed")

	// ErrSessionNotFound 表示控制面上会话已不存在。
	ErrSessionNotFound = errors.New("session not found")

	// errSessionStopped 由保活循环在发现会话已停止时产生，只用于触发断开。
	errSessionStopped = errors.New("cannot refresh session - it was closed")
)

// APIError 表示 API 返回的非预期 HTTP 响应。
type APIError struct {
	StatusCode int
	Body       []byte

	// Code 是从响应 body 中解析出的错误码（如果有）。
	Code string
	// Message 是从响应 body 中解析出的错误消息（如果有）。
	Message string
}

// Error 实现 error 接口。
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status %d, body: %s", e.StatusCode, string(e.Body))
}

// Is 使 404 响应满足 errors.Is(err, ErrSessionNotFound)。
func (e *APIError) Is(target error) bool {
	return target == ErrSessionNotFound && e.StatusCode == http.StatusNotFound
}

// newAPIError 创建 APIError 并尝试从 JSON body 中解析结构化字段。
func newAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Body: body}
	e.Code, e.Message = parseAPIErrorBody(body)
	return e
}

// parseAPIErrorBody 尝试从 JSON body 中解析 code 和 message 字段。
// 控制面的 code 是数字，也兼容字符串形式。
func parseAPIErrorBody(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}
	var parsed struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return "", ""
	}
	switch c := parsed.Code.(type) {
	case string:
		code = c
	case float64:
		code = strconv.FormatInt(int64(c), 10)
	}
	return code, parsed.Message
}

// isNotFoundError 判断错误是否为"未找到"类型。
func isNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
