package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/qiniu/codesession/sandbox/apis"
)

// ControlPlane 是会话管理器依赖的控制面操作。
// 实现必须可以被多个 Session 并发调用。
type ControlPlane interface {
	// CreateSession 为代码片段分配一个新会话。
	CreateSession(ctx context.Context, snippetID string) (*SessionInfo, error)
	// RefreshSession 告知控制面会话仍在使用，会话不存在时返回满足 errors.Is(err, ErrSessionNotFound) 的错误。
	RefreshSession(ctx context.Context, sessionID string) error
}

var _ ControlPlane = (*Client)(nil)

// SessionInfo 是控制面分配的会话标识，创建后不可变。
type SessionInfo struct {
	SessionID     string
	ClientID      string
	CodeSnippetID string
	EditEnabled   bool
}

func sessionInfoFromAPI(s *apis.Session) *SessionInfo {
	return &SessionInfo{
		SessionID:     s.SessionID,
		ClientID:      s.ClientID,
		CodeSnippetID: s.CodeSnippetID,
		EditEnabled:   s.EditEnabled,
	}
}

// ErrEmptySnippetID 表示创建会话时没有提供代码片段 ID。
var ErrEmptySnippetID = errors.New("code snippet id is required")

// CreateSession 为代码片段创建会话。失败时不重试。
func (c *Client) CreateSession(ctx context.Context, snippetID string) (*SessionInfo, error) {
	if snippetID == "" {
		return nil, ErrEmptySnippetID
	}
	resp, err := c.api.CreateSessionWithResponse(ctx, apis.NewSession{CodeSnippetID: snippetID})
	if err != nil {
		return nil, err
	}
	if resp.JSON201 == nil {
		return nil, newAPIError(resp.StatusCode(), resp.Body)
	}
	if resp.JSON201.SessionID == "" || resp.JSON201.ClientID == "" {
		return nil, fmt.Errorf("create session: incomplete response: %s", string(resp.Body))
	}
	return sessionInfoFromAPI(resp.JSON201), nil
}

// RefreshSession 延长会话的存活时间。
func (c *Client) RefreshSession(ctx context.Context, sessionID string) error {
	resp, err := c.api.RefreshSessionWithResponse(c.withRetry(ctx), sessionID)
	if err != nil {
		return err
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	default:
		return newAPIError(resp.StatusCode(), resp.Body)
	}
}
