package model

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// 复合去重键的字段组，每组取第一个非空值
var compositeKeyFields = [][]string{
	{"code"},
	{"device_no", "deviceNumber", "device_number"},
	{"account", "user_account"},
	{"test_time", "testTime"},
	{"created_at", "create_time", "createdAt"},
	{"customer_info", "customerInfo"},
}

// DedupKey 同一次抓取内的去重键：result_id/id → 复合字段 → 整行 JSON
func DedupKey(raw map[string]any) string {
	if v := FirstString(raw, "result_id", "id"); v != "" {
		return v
	}
	parts := make([]string, 0, len(compositeKeyFields))
	for _, group := range compositeKeyFields {
		if v := FirstString(raw, group...); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "|")
	}
	return CanonicalJSON(raw)
}

// Signature 幂等签名 sourceId|url|title|image。
// sourceId 存在时其余三段置空，外观字段变化不会产生新文档。
func (r *Record) Signature() string {
	if r.SourceID != "" {
		return r.SourceID + "|||"
	}
	return strings.Join([]string{"", r.URL, r.Title, r.Image}, "|")
}

// HashedKey 签名的 sha1 十六进制
func HashedKey(signature string) string {
	sum := sha1.Sum([]byte(signature))
	return hex.EncodeToString(sum[:])
}

// ContentHash 整行内容摘要，用于区分 updated / unchanged
func ContentHash(raw map[string]any) string {
	return HashedKey(CanonicalJSON(raw))
}

// CanonicalJSON map 键有序序列化
func CanonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// FirstString 按顺序返回第一个非空字段的字符串值
func FirstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if s := Stringify(v); s != "" {
			return s
		}
	}
	return ""
}

// Stringify 动态值转字符串，数字不带科学计数法
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return CanonicalJSON(t)
	default:
		return fmt.Sprint(t)
	}
}

// ToInt 动态值转 int，失败返回 false
func ToInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// DecodeJSON 解码时保留数字原样（大整数 id 不丢精度）
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
