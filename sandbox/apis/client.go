package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/qiniu/codesession/conf"
)

// RequestEditorFn 在请求发送前修改请求。
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// HttpRequestDoer 执行 HTTP 请求。
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client 是控制面的底层客户端。
type Client struct {
	// Server 控制面地址，以 "/" 结尾
	Server string

	// Client 执行请求，默认 http.Client
	Client HttpRequestDoer

	// RequestEditors 在每个请求发送前依次执行
	RequestEditors []RequestEditorFn
}

// ClientOption 配置 Client。
type ClientOption func(*Client) error

// NewClient 创建访问 server 的底层客户端。
func NewClient(server string, opts ...ClientOption) (*Client, error) {
	client := Client{
		Server: server,
	}
	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(client.Server, "/") {
		client.Server += "/"
	}
	if client.Client == nil {
		client.Client = &http.Client{}
	}
	return &client, nil
}

// WithHTTPClient 指定执行请求的 doer。
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn 追加一个请求修改函数。
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// ClientInterface 是底层客户端的接口。
type ClientInterface interface {
	HealthCheck(ctx context.Context, reqEditors ...RequestEditorFn) (*http.Response, error)
	CreateSession(ctx context.Context, body CreateSessionJSONRequestBody, reqEditors ...RequestEditorFn) (*http.Response, error)
	RefreshSession(ctx context.Context, sessionID SessionID, reqEditors ...RequestEditorFn) (*http.Response, error)
}

func (c *Client) HealthCheck(ctx context.Context, reqEditors ...RequestEditorFn) (*http.Response, error) {
	req, err := NewHealthCheckRequest(c.Server)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req, reqEditors)
}

func (c *Client) CreateSession(ctx context.Context, body CreateSessionJSONRequestBody, reqEditors ...RequestEditorFn) (*http.Response, error) {
	req, err := NewCreateSessionRequest(c.Server, body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req, reqEditors)
}

func (c *Client) RefreshSession(ctx context.Context, sessionID SessionID, reqEditors ...RequestEditorFn) (*http.Response, error) {
	req, err := NewRefreshSessionRequest(c.Server, sessionID)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req, reqEditors)
}

func (c *Client) do(ctx context.Context, req *http.Request, reqEditors []RequestEditorFn) (*http.Response, error) {
	req = req.WithContext(ctx)
	if err := c.applyEditors(ctx, req, reqEditors); err != nil {
		return nil, err
	}
	return c.Client.Do(req)
}

func (c *Client) applyEditors(ctx context.Context, req *http.Request, additionalEditors []RequestEditorFn) error {
	for _, r := range c.RequestEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	for _, r := range additionalEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// NewHealthCheckRequest 构造 GET /health 请求。
func NewHealthCheckRequest(server string) (*http.Request, error) {
	queryURL, err := operationURL(server, "/health")
	if err != nil {
		return nil, err
	}
	return http.NewRequest(http.MethodGet, queryURL.String(), nil)
}

// NewCreateSessionRequest 构造 POST /sessions 请求。
func NewCreateSessionRequest(server string, body CreateSessionJSONRequestBody) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	queryURL, err := operationURL(server, "/sessions")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, queryURL.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", conf.CONTENT_TYPE_JSON)
	return req, nil
}

// NewRefreshSessionRequest 构造 PUT /sessions/{sessionID}/refresh 请求。
func NewRefreshSessionRequest(server string, sessionID SessionID) (*http.Request, error) {
	pathParam0, err := runtime.StyleParamWithLocation("simple", false, "sessionID", runtime.ParamLocationPath, sessionID)
	if err != nil {
		return nil, err
	}
	queryURL, err := operationURL(server, fmt.Sprintf("/sessions/%s/refresh", pathParam0))
	if err != nil {
		return nil, err
	}
	return http.NewRequest(http.MethodPut, queryURL.String(), nil)
}

func operationURL(server, operationPath string) (*url.URL, error) {
	serverURL, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	if operationPath[0] == '/' {
		operationPath = "." + operationPath
	}
	return serverURL.Parse(operationPath)
}

// ClientWithResponses 在 Client 之上解析响应体。
type ClientWithResponses struct {
	ClientInterface
}

// NewClientWithResponses 创建解析响应体的客户端。
func NewClientWithResponses(server string, opts ...ClientOption) (*ClientWithResponses, error) {
	client, err := NewClient(server, opts...)
	if err != nil {
		return nil, err
	}
	return &ClientWithResponses{client}, nil
}

// ClientWithResponsesInterface 是 ClientWithResponses 的接口，便于在测试中替换。
type ClientWithResponsesInterface interface {
	HealthCheckWithResponse(ctx context.Context, reqEditors ...RequestEditorFn) (*HealthCheckResponse, error)
	CreateSessionWithResponse(ctx context.Context, body CreateSessionJSONRequestBody, reqEditors ...RequestEditorFn) (*CreateSessionResponse, error)
	RefreshSessionWithResponse(ctx context.Context, sessionID SessionID, reqEditors ...RequestEditorFn) (*RefreshSessionResponse, error)
}

type HealthCheckResponse struct {
	Body         []byte
	HTTPResponse *http.Response
}

// StatusCode 返回 HTTP 状态码。
func (r HealthCheckResponse) StatusCode() int {
	if r.HTTPResponse != nil {
		return r.HTTPResponse.StatusCode
	}
	return 0
}

type CreateSessionResponse struct {
	Body         []byte
	HTTPResponse *http.Response
	JSON201      *Session
	JSON400      *Error
	JSON401      *Error
	JSON500      *Error
}

// StatusCode 返回 HTTP 状态码。
func (r CreateSessionResponse) StatusCode() int {
	if r.HTTPResponse != nil {
		return r.HTTPResponse.StatusCode
	}
	return 0
}

type RefreshSessionResponse struct {
	Body         []byte
	HTTPResponse *http.Response
	JSON401      *Error
	JSON404      *Error
}

// StatusCode 返回 HTTP 状态码。
func (r RefreshSessionResponse) StatusCode() int {
	if r.HTTPResponse != nil {
		return r.HTTPResponse.StatusCode
	}
	return 0
}

func (c *ClientWithResponses) HealthCheckWithResponse(ctx context.Context, reqEditors ...RequestEditorFn) (*HealthCheckResponse, error) {
	rsp, err := c.HealthCheck(ctx, reqEditors...)
	if err != nil {
		return nil, err
	}
	return ParseHealthCheckResponse(rsp)
}

func (c *ClientWithResponses) CreateSessionWithResponse(ctx context.Context, body CreateSessionJSONRequestBody, reqEditors ...RequestEditorFn) (*CreateSessionResponse, error) {
	rsp, err := c.CreateSession(ctx, body, reqEditors...)
	if err != nil {
		return nil, err
	}
	return ParseCreateSessionResponse(rsp)
}

func (c *ClientWithResponses) RefreshSessionWithResponse(ctx context.Context, sessionID SessionID, reqEditors ...RequestEditorFn) (*RefreshSessionResponse, error) {
	rsp, err := c.RefreshSession(ctx, sessionID, reqEditors...)
	if err != nil {
		return nil, err
	}
	return ParseRefreshSessionResponse(rsp)
}

// ParseHealthCheckResponse 读取并关闭响应体。
func ParseHealthCheckResponse(rsp *http.Response) (*HealthCheckResponse, error) {
	bodyBytes, err := io.ReadAll(rsp.Body)
	defer func() { _ = rsp.Body.Close() }()
	if err != nil {
		return nil, err
	}
	return &HealthCheckResponse{Body: bodyBytes, HTTPResponse: rsp}, nil
}

// ParseCreateSessionResponse 读取并关闭响应体，按状态码解码到对应字段。
func ParseCreateSessionResponse(rsp *http.Response) (*CreateSessionResponse, error) {
	bodyBytes, err := io.ReadAll(rsp.Body)
	defer func() { _ = rsp.Body.Close() }()
	if err != nil {
		return nil, err
	}

	response := &CreateSessionResponse{
		Body:         bodyBytes,
		HTTPResponse: rsp,
	}

	switch {
	case isJSON(rsp) && rsp.StatusCode == http.StatusCreated:
		var dest Session
		if err := json.Unmarshal(bodyBytes, &dest); err != nil {
			return nil, err
		}
		response.JSON201 = &dest
	case isJSON(rsp) && rsp.StatusCode == http.StatusBadRequest:
		var dest Error
		if err := json.Unmarshal(bodyBytes, &dest); err != nil {
			return nil, err
		}
		response.JSON400 = &dest
	case isJSON(rsp) && rsp.StatusCode == http.StatusUnauthorized:
		var dest Error
		if err := json.Unmarshal(bodyBytes, &dest); err != nil {
			return nil, err
		}
		response.JSON401 = &dest
	case isJSON(rsp) && rsp.StatusCode == http.StatusInternalServerError:
		var dest Error
		if err := json.Unmarshal(bodyBytes, &dest); err != nil {
			return nil, err
		}
		response.JSON500 = &dest
	}

	return response, nil
}

// ParseRefreshSessionResponse 读取并关闭响应体，按状态码解码到对应字段。
func ParseRefreshSessionResponse(rsp *http.Response) (*RefreshSessionResponse, error) {
	bodyBytes, err := io.ReadAll(rsp.Body)
	defer func() { _ = rsp.Body.Close() }()
	if err != nil {
		return nil, err
	}

	response := &RefreshSessionResponse{
		Body:         bodyBytes,
		HTTPResponse: rsp,
	}

	switch {
	case isJSON(rsp) && rsp.StatusCode == http.StatusUnauthorized:
		var dest Error
		if err := json.Unmarshal(bodyBytes, &dest); err != nil {
			return nil, err
		}
		response.JSON401 = &dest
	case isJSON(rsp) && rsp.StatusCode == http.StatusNotFound:
		var dest Error
		if err := json.Unmarshal(bodyBytes, &dest); err != nil {
			return nil, err
		}
		response.JSON404 = &dest
	}

	return response, nil
}

func isJSON(rsp *http.Response) bool {
	return strings.Contains(rsp.Header.Get("Content-Type"), "json")
}
