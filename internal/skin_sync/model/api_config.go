package model

import "strings"

// APIConfig 嗅探得到的列表接口契约
type APIConfig struct {
	URL         string            `yaml:"url" json:"url"`
	Method      string            `yaml:"method" json:"method"` // "GET"|"POST"
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Payload     map[string]any    `yaml:"payload,omitempty" json:"payload,omitempty"`
	ContentType string            `yaml:"contentType,omitempty" json:"contentType,omitempty"`
	PageKey     string            `yaml:"pageKey,omitempty" json:"pageKey,omitempty"`
	SizeKey     string            `yaml:"sizeKey,omitempty" json:"sizeKey,omitempty"`
}

// Clone 深拷贝 headers / payload（payload 只拷贝顶层）
func (c *APIConfig) Clone() *APIConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	out.Payload = ClonePayload(c.Payload)
	return &out
}

// IsForm 是否按表单提交
func (c *APIConfig) IsForm() bool {
	return strings.Contains(strings.ToLower(c.ContentType), "x-www-form-urlencoded")
}

func ClonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// APIMeta 响应里报告的分页信息
type APIMeta struct {
	Total      int `json:"total"`
	PageSize   int `json:"pageSize"`
	PageNum    int `json:"pageNum"`
	ListLength int `json:"listLength"`
}

// TotalPages ceil(total/pageSize)，信息不全返回 0
func (m APIMeta) TotalPages() int {
	if m.Total <= 0 || m.PageSize <= 0 {
		return 0
	}
	return (m.Total + m.PageSize - 1) / m.PageSize
}

// SessionHeaders 登录后得到的会话请求头（键统一小写）
type SessionHeaders map[string]string

// Token access_token
func (h SessionHeaders) Token() string {
	return h["access_token"]
}

// Exchange 浏览器里拦截到的一次请求/响应
type Exchange struct {
	URL      string
	Method   string
	Headers  map[string]string
	PostData string
	Status   int
	Body     []byte
}
