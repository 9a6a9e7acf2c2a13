package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/model"
)

// DefaultFormContentType 列表接口默认的表单类型
const DefaultFormContentType = "application/x-www-form-urlencoded;charset=UTF-8"

// ErrEmptyResponse 响应体为空，按瞬时错误处理
var ErrEmptyResponse = errors.New("client: empty response body")

// Transport 按契约发送一次列表请求，返回原始响应体
type Transport interface {
	Send(ctx context.Context, cfg *model.APIConfig, payload map[string]any) ([]byte, error)
}

// Resty 基于 resty 的 Transport
type Resty struct {
	Log  *zap.Logger
	http *resty.Client
}

func NewResty(log *zap.Logger, timeout time.Duration) *Resty {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json, text/plain, */*")
	return &Resty{Log: log, http: c}
}

// HTTP 暴露底层 client，登录换 token 共用同一连接池
func (c *Resty) HTTP() *resty.Client {
	return c.http
}

func (c *Resty) Send(ctx context.Context, cfg *model.APIConfig, payload map[string]any) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	for k, v := range cfg.Headers {
		switch strings.ToLower(k) {
		case "content-length", "host", "content-type":
			continue
		}
		req.SetHeader(k, v)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	switch {
	case method == http.MethodGet:
		req.SetQueryParams(stringValues(payload))
	case cfg.IsForm():
		// SetFormData 会把 Content-Type 改写成不带 charset 的默认值
		form := url.Values{}
		for k, v := range stringValues(payload) {
			form.Set(k, v)
		}
		req.SetHeader("Content-Type", cfg.ContentType)
		req.SetBody(form.Encode())
	default:
		ct := cfg.ContentType
		if ct == "" {
			ct = "application/json;charset=UTF-8"
		}
		req.SetHeader("Content-Type", ct)
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, cfg.URL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("client: %s %s: status %d", method, cfg.URL, resp.StatusCode())
	}
	body := resp.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrEmptyResponse
	}

	if c.Log != nil {
		c.Log.Debug("List API response",
			zap.String("url", cfg.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Int("bodySize", len(body)),
			zap.Duration("took", resp.Time()),
		)
	}
	return body, nil
}

func stringValues(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = model.Stringify(v)
	}
	return out
}
