package discovery

import (
	"strconv"
	"strings"
	"time"
)

// AllowedHeaders 从嗅探到的请求里保留的请求头
var AllowedHeaders = []string{
	"access_token",
	"access-token",
	"authorization",
	"accept-language",
	"cookie",
	"language",
	"locale",
	"origin",
	"referer",
	"user-agent",
	"x-tid",
}

// FilterHeaders 键转小写，只保留白名单
func FilterHeaders(h map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range h {
		key := strings.ToLower(strings.TrimSpace(k))
		if containsFold(AllowedHeaders, key) && v != "" {
			out[key] = v
		}
	}
	return out
}

// RefreshTID x-tid 改写为 <prefix>-<nowMillis>
func RefreshTID(headers map[string]string, now time.Time) {
	old, ok := headers["x-tid"]
	if !ok {
		return
	}
	headers["x-tid"] = TID(tidPrefix(old), now)
}

// TID 组装 x-tid，prefix 为空时只有时间戳
func TID(prefix string, now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if prefix == "" {
		return ms
	}
	return prefix + "-" + ms
}

func tidPrefix(tid string) string {
	i := strings.LastIndex(tid, "-")
	if i < 0 {
		if _, err := strconv.ParseInt(tid, 10, 64); err == nil {
			return ""
		}
		return tid
	}
	return tid[:i]
}
