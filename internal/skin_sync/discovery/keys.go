package discovery

import (
	"strconv"
	"strings"

	"skin-sync/internal/skin_sync/daterange"
)

// KeyStrategy 分页 / 日期字段名的候选表。换目标站点时只需换一份候选表。
type KeyStrategy struct {
	PageKeys    []string
	SizeKeys    []string
	DefaultPage string
	DefaultSize string
	StartKeys   []string
	EndKeys     []string
	// ForcedStart / ForcedEnd 强制区间时总会写入的字段
	ForcedStart string
	ForcedEnd   string
}

// DefaultKeys 当前管理后台使用的候选表
var DefaultKeys = KeyStrategy{
	PageKeys:    []string{"pageNum", "page", "pageNo", "pageIndex", "current", "currentPage", "page_number", "pageNumber"},
	SizeKeys:    []string{"pageSize", "size", "limit", "page_limit", "page_size", "rows"},
	DefaultPage: "page",
	DefaultSize: "pageSize",
	StartKeys: []string{"st", "starttime", "startdate", "begintime", "begindate", "testtimestart",
		"testtimebegin", "fromdate", "datefrom", "timefrom", "start"},
	EndKeys: []string{"ed", "endtime", "enddate", "finishtime", "finishdate", "testtimeend",
		"testtimefinish", "todate", "dateto", "timeto", "end"},
	ForcedStart: "st",
	ForcedEnd:   "ed",
}

// Resolve 从 payload 里找出实际使用的页码 / 每页条数字段
func (k KeyStrategy) Resolve(payload map[string]any) (pageKey, sizeKey string) {
	return findKey(payload, k.PageKeys, k.DefaultPage), findKey(payload, k.SizeKeys, k.DefaultSize)
}

func findKey(payload map[string]any, candidates []string, def string) string {
	for _, c := range candidates {
		if _, ok := payload[c]; ok {
			return c
		}
	}
	for _, c := range candidates {
		for k := range payload {
			if strings.EqualFold(k, c) {
				return k
			}
		}
	}
	return def
}

func (k KeyStrategy) isStartKey(key string) bool {
	return containsFold(k.StartKeys, key)
}

func (k KeyStrategy) isEndKey(key string) bool {
	return containsFold(k.EndKeys, key)
}

// IsDateKey 是否为日期过滤字段（忽略大小写）
func (k KeyStrategy) IsDateKey(key string) bool {
	return k.isStartKey(key) || k.isEndKey(key)
}

// StripDates 去掉 payload 中的日期过滤字段，返回新 map
func (k KeyStrategy) StripDates(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, v := range payload {
		if k.IsDateKey(key) {
			continue
		}
		out[key] = v
	}
	return out
}

// ApplyRange 写入强制区间：st/ed 总是写，已存在的其它日期字段一并覆盖
func (k KeyStrategy) ApplyRange(payload map[string]any, r daterange.Range) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for key, v := range payload {
		switch {
		case k.isStartKey(key):
			out[key] = r.Start
		case k.isEndKey(key):
			out[key] = r.End
		default:
			out[key] = v
		}
	}
	if k.ForcedStart != "" {
		out[k.ForcedStart] = r.Start
	}
	if k.ForcedEnd != "" {
		out[k.ForcedEnd] = r.End
	}
	return out
}

// SetNumber 写入数字字段，原值是字符串时保持字符串
func SetNumber(payload map[string]any, key string, n int) {
	if _, isString := payload[key].(string); isString {
		payload[key] = strconv.Itoa(n)
		return
	}
	payload[key] = n
}

func containsFold(list []string, key string) bool {
	for _, v := range list {
		if strings.EqualFold(v, key) {
			return true
		}
	}
	return false
}
