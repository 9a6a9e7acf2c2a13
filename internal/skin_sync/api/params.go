package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
)

// params 查询参数优先，其次 JSON body
type params struct {
	c    *gin.Context
	body map[string]any
}

func readParams(c *gin.Context) params {
	p := params{c: c}
	if c.Request.ContentLength != 0 && strings.Contains(c.ContentType(), "json") {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err == nil {
			p.body = body
		}
	}
	return p
}

func (p params) get(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(p.c.Query(n)); v != "" {
			return v
		}
		if v := model.Stringify(p.body[n]); v != "" {
			return v
		}
	}
	return ""
}

func (p params) flag(def bool, names ...string) bool {
	switch strings.ToLower(p.get(names...)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

// token 依次取 query/body、Authorization: Bearer、x-access-token 等请求头
func (p params) token() string {
	if v := p.get("access_token", "accessToken"); v != "" {
		return v
	}
	auth := p.c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	for _, h := range []string{"x-access-token", "access-token", "access_token"} {
		if v := p.c.GetHeader(h); v != "" {
			return v
		}
	}
	return ""
}

var errBadRange = errors.New("invalid start/end")

// bounds 归一化后的起止，缺失的一端为空串
func (p params) bounds() (string, string) {
	start := p.get("start", "from")
	end := p.get("end", "to")
	if start != "" {
		start = daterange.NormalizeInput(start, false)
	}
	if end != "" {
		end = daterange.NormalizeInput(end, true)
	}
	return start, end
}

// dateRange 两端都给出时返回区间，否则 nil
func (p params) dateRange() (*daterange.Range, error) {
	start, end := p.bounds()
	if start == "" || end == "" {
		return nil, nil
	}
	return buildRange(start, end)
}

func buildRange(start, end string) (*daterange.Range, error) {
	s, err := daterange.Parse(start)
	if err != nil {
		return nil, errBadRange
	}
	e, err := daterange.Parse(end)
	if err != nil {
		return nil, errBadRange
	}
	if s.After(e) {
		return nil, errBadRange
	}
	return &daterange.Range{Start: daterange.Format(s), End: daterange.Format(e)}, nil
}
