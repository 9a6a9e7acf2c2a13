package discovery

import (
	"fmt"
	"regexp"
	"strings"

	"skin-sync/internal/skin_sync/model"
)

// AuthExpiredCode 后台返回的登录过期状态码
const AuthExpiredCode = "10001"

var loginPattern = regexp.MustCompile(`(?i)login`)

// ListPage 一次列表接口响应的解析结果
type ListPage struct {
	Items       []map[string]any
	Meta        model.APIMeta
	HasTotal    bool
	HasPageSize bool
	Code        string
	Msg         string
}

// AuthExpired 状态码 10001 或提示需要重新登录
func (p *ListPage) AuthExpired() bool {
	return IsAuthExpired(p.Code, p.Msg)
}

func IsAuthExpired(code, msg string) bool {
	if code == AuthExpiredCode {
		return true
	}
	return strings.Contains(msg, "登录已过期") || loginPattern.MatchString(msg)
}

// ParseListResponse 解析 {code,msg,data:{list,total,pageSize,pageNum}}
func ParseListResponse(body []byte) (*ListPage, error) {
	var parsed any
	if err := model.DecodeJSON(body, &parsed); err != nil {
		return nil, fmt.Errorf("discovery: invalid JSON response: %w", err)
	}
	// 顶层必须是对象
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("discovery: top-level is not JSON object")
	}

	page := &ListPage{
		Code: model.FirstString(obj, "code", "status"),
		Msg:  model.FirstString(obj, "msg", "message"),
	}

	data, _ := obj["data"].(map[string]any)
	if data == nil {
		return page, nil
	}

	list, _ := data["list"].([]any)
	if list == nil {
		list, _ = data["rows"].([]any)
	}
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			page.Items = append(page.Items, m)
		}
	}
	page.Meta.ListLength = len(page.Items)

	if n, ok := firstInt(data, "total", "totalCount"); ok {
		page.Meta.Total = n
		page.HasTotal = true
	}
	if n, ok := firstInt(data, "pageSize", "page_size", "limit"); ok && n > 0 {
		page.Meta.PageSize = n
		page.HasPageSize = true
	}
	if n, ok := firstInt(data, "pageNum", "page"); ok {
		page.Meta.PageNum = n
	}
	return page, nil
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := model.ToInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}
