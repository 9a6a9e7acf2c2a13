package discovery

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skin-sync/internal/skin_sync/client"
	"skin-sync/internal/skin_sync/model"
)

// Bootstrap 预置的列表请求描述，浏览器里嗅探不到请求时直接发起
type Bootstrap struct {
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers"`
	Payload     map[string]any    `yaml:"payload"`
	ContentType string            `yaml:"contentType"`
	Token       string            `yaml:"token"`
	TIDPrefix   string            `yaml:"tidPrefix"`
}

// LoadBootstrap 读取 YAML（或 JSON）格式的请求描述
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("discovery: parse bootstrap %s: %w", path, err)
	}
	if b.URL == "" {
		return nil, fmt.Errorf("discovery: bootstrap %s has no url", path)
	}
	return &b, nil
}

// DefaultBootstrap 管理后台列表接口的默认请求
func DefaultBootstrap(listURL, token string) *Bootstrap {
	return &Bootstrap{
		URL:    listURL,
		Method: "POST",
		Headers: map[string]string{
			"locale":   "en",
			"language": "en",
		},
		Payload: map[string]any{
			"code":     "-1",
			"page":     "1",
			"pageSize": "10",
			"weidu":    "all",
		},
		ContentType: client.DefaultFormContentType,
		Token:       token,
	}
}

// Config 转成可复用的请求契约
func (b *Bootstrap) Config(keys KeyStrategy, now time.Time) *model.APIConfig {
	headers := make(map[string]string, len(b.Headers)+2)
	for k, v := range b.Headers {
		headers[strings.ToLower(k)] = v
	}
	if b.Token != "" {
		headers["access_token"] = b.Token
	}
	if _, ok := headers["x-tid"]; !ok {
		headers["x-tid"] = TID(b.TIDPrefix, now)
	}
	ct := b.ContentType
	if ct == "" {
		ct = client.DefaultFormContentType
	}
	method := strings.ToUpper(b.Method)
	if method == "" {
		method = "POST"
	}
	payload := model.ClonePayload(b.Payload)
	pageKey, sizeKey := keys.Resolve(payload)
	return &model.APIConfig{
		URL:         b.URL,
		Method:      method,
		Headers:     headers,
		Payload:     payload,
		ContentType: ct,
		PageKey:     pageKey,
		SizeKey:     sizeKey,
	}
}
