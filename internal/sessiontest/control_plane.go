// Package sessiontest 提供进程内的控制面和沙箱运行时替身，用于测试和示例。
package sessiontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// ControlPlane 是控制面替身，实现创建会话、刷新会话和健康检查接口。
type ControlPlane struct {
	Server *httptest.Server

	mu            sync.Mutex
	apiKey        string
	nextID        int
	sessions      map[string]string // sessionID -> snippetID
	createCalls   int
	refreshCalls  map[string]int
	createStatus  int
	createMessage string
	refreshStatus int
}

// NewControlPlane 启动控制面替身。apiKey 非空时要求请求携带相同的 X-API-Key。
func NewControlPlane(apiKey string) *ControlPlane {
	cp := &ControlPlane{
		apiKey:       apiKey,
		sessions:     make(map[string]string),
		refreshCalls: make(map[string]int),
	}

	r := mux.NewRouter()
	r.Use(cp.authenticate)
	r.HandleFunc("/health", cp.health).Methods(http.MethodGet)
	r.HandleFunc("/sessions", cp.createSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}/refresh", cp.refreshSession).Methods(http.MethodPut)
	cp.Server = httptest.NewServer(r)
	return cp
}

// URL 返回控制面地址。
func (cp *ControlPlane) URL() string { return cp.Server.URL }

// Close 关闭控制面。
func (cp *ControlPlane) Close() { cp.Server.Close() }

// FailCreate 让后续的创建请求返回 status 和 message，status 为 0 时恢复正常。
func (cp *ControlPlane) FailCreate(status int, message string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.createStatus = status
	cp.createMessage = message
}

// FailRefresh 让后续的刷新请求返回 status，status 为 0 时恢复正常。
func (cp *ControlPlane) FailRefresh(status int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.refreshStatus = status
}

// Expire 删除会话，之后对它的刷新返回 404。
func (cp *ControlPlane) Expire(sessionID string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	delete(cp.sessions, sessionID)
}

// CreateCalls 返回收到的创建请求数。
func (cp *ControlPlane) CreateCalls() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.createCalls
}

// RefreshCalls 返回针对 sessionID 收到的刷新请求数。
func (cp *ControlPlane) RefreshCalls(sessionID string) int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.refreshCalls[sessionID]
}

func (cp *ControlPlane) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cp.apiKey != "" && r.Header.Get("X-API-Key") != cp.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (cp *ControlPlane) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (cp *ControlPlane) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CodeSnippetID string `json:"codeSnippetID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CodeSnippetID == "" {
		writeError(w, http.StatusBadRequest, "invalid code snippet id")
		return
	}

	cp.mu.Lock()
	cp.createCalls++
	if cp.createStatus != 0 {
		status, message := cp.createStatus, cp.createMessage
		cp.mu.Unlock()
		writeError(w, status, message)
		return
	}
	cp.nextID++
	sessionID := fmt.Sprintf("s%d", cp.nextID)
	clientID := fmt.Sprintf("c%d", cp.nextID)
	cp.sessions[sessionID] = body.CodeSnippetID
	cp.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionID":     sessionID,
		"clientID":      clientID,
		"codeSnippetID": body.CodeSnippetID,
		"editEnabled":   false,
	})
}

func (cp *ControlPlane) refreshSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	cp.mu.Lock()
	cp.refreshCalls[sessionID]++
	status := cp.refreshStatus
	_, ok := cp.sessions[sessionID]
	cp.mu.Unlock()

	switch {
	case status != 0:
		writeError(w, status, "refresh failed")
	case !ok:
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", sessionID))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"code":    status,
		"message": message,
	})
}
