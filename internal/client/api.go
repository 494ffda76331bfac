package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tinypm/backend/internal/domain"
)

// APIError 服务端返回的错误响应
type APIError struct {
	Status            int
	Code              string
	Message           string
	RetryAfterSeconds int
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("tinypm: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("tinypm: %s: %s", e.Code, e.Message)
}

// IsKind 判断错误是否为指定类别的 API 错误
func IsKind(err error, kind domain.ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == string(kind)
}

// envelope 与服务端 {code,msg,data} 响应对应
type envelope struct {
	Code              int             `json:"code"`
	Msg               string          `json:"msg"`
	Data              json.RawMessage `json:"data"`
	Error             string          `json:"error"`
	RetryAfterSeconds int             `json:"retryAfterSeconds"`
}

// Client TinyPM 自定义域名 API 客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New 创建 API 客户端
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddDomain 认领自定义域名
func (c *Client) AddDomain(ctx context.Context, name string) (*domain.CustomDomainView, error) {
	var view domain.CustomDomainView
	err := c.do(ctx, http.MethodPost, "/domains", map[string]string{"domain": name}, &view)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListDomains 列出当前用户的域名
func (c *Client) ListDomains(ctx context.Context) ([]*domain.CustomDomainView, error) {
	var out struct {
		Domains []*domain.CustomDomainView `json:"domains"`
	}
	if err := c.do(ctx, http.MethodGet, "/domains", nil, &out); err != nil {
		return nil, err
	}
	return out.Domains, nil
}

// GetDomain 获取单个域名及 DNS 配置说明
func (c *Client) GetDomain(ctx context.Context, id string) (*domain.CustomDomainView, error) {
	var view domain.CustomDomainView
	if err := c.do(ctx, http.MethodGet, "/domains/"+url.PathEscape(id), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// DeleteDomain 删除域名
func (c *Client) DeleteDomain(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/domains/"+url.PathEscape(id), nil, nil)
}

// VerifyDomain 发起一次 DNS 验证
func (c *Client) VerifyDomain(ctx context.Context, id string) (*domain.CustomDomainView, error) {
	var view domain.CustomDomainView
	if err := c.do(ctx, http.MethodPost, "/domains/"+url.PathEscape(id)+"/verify", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// CheckHost 询问主机名是否已激活（与反向代理使用同一接口）
func (c *Client) CheckHost(ctx context.Context, host string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/domains/verify?domain="+url.QueryEscape(host), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return false, &APIError{Status: resp.StatusCode, Message: "service unavailable"}
	}
	return strings.TrimSpace(string(body)) == "yes", nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("invalid response: %v", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{
			Status:            resp.StatusCode,
			Code:              env.Error,
			Message:           env.Msg,
			RetryAfterSeconds: env.RetryAfterSeconds,
		}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
