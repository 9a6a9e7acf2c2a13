// Package daterange 处理日期输入归一化、缺失区间计算和按月切分。
// 所有运算都在无时区的墙上时间上进行，时区只影响展示。
package daterange

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layout 区间边界的规范格式
const Layout = "2006-01-02 15:04"

var (
	dayOnly   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthOnly = regexp.MustCompile(`^\d{4}-\d{2}$`)

	parseLayouts = []string{
		"2006-01-02 15:04:05",
		Layout,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
	}
)

// Range 闭区间，边界为 Layout 格式
type Range struct {
	Start string `json:"start" bson:"start"`
	End   string `json:"end" bson:"end"`
}

// Key range:<start>:<end>
func (r Range) Key() string {
	return fmt.Sprintf("range:%s:%s", r.Start, r.End)
}

// Overlaps 规范格式下字符串序即时间序
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// DataRange 已存数据的最早/最晚时间，空串表示没有数据
type DataRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (d DataRange) Empty() bool {
	return d.From == "" && d.To == ""
}

// NormalizeInput YYYY-MM-DD 展开到 00:00 / 23:59，YYYY-MM 展开到月初 / 月末，其他原样返回
func NormalizeInput(value string, isEnd bool) string {
	v := strings.TrimSpace(value)
	switch {
	case dayOnly.MatchString(v):
		if isEnd {
			return v + " 23:59"
		}
		return v + " 00:00"
	case monthOnly.MatchString(v):
		t, err := time.Parse("2006-01", v)
		if err != nil {
			return v
		}
		if isEnd {
			last := time.Date(t.Year(), t.Month()+1, 0, 23, 59, 0, 0, time.UTC)
			return last.Format(Layout)
		}
		return t.Format(Layout)
	default:
		return v
	}
}

// Normalize 归一化一对输入，能解析的统一成 Layout
func Normalize(start, end string) Range {
	r := Range{Start: NormalizeInput(start, false), End: NormalizeInput(end, true)}
	if t, err := Parse(r.Start); err == nil {
		r.Start = Format(t)
	}
	if t, err := Parse(r.End); err == nil {
		r.End = Format(t)
	}
	return r
}

// Parse 解析常见的日期时间格式，结果为 UTC 墙上时间
func Parse(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("daterange: unrecognized time %q", value)
}

func Format(t time.Time) string {
	return t.Format(Layout)
}

// AddMinutes 解析后加 n 分钟，按 Layout 输出
func AddMinutes(value string, n int) (string, error) {
	t, err := Parse(value)
	if err != nil {
		return "", err
	}
	return Format(t.Truncate(time.Minute).Add(time.Duration(n) * time.Minute)), nil
}

// IncrementalFrom 增量同步起点：库里最新时间 + 1 分钟
func IncrementalFrom(latest string) (string, error) {
	return AddMinutes(latest, 1)
}

// ComputeMissing 计算请求区间里尚未覆盖的一段。
// 只识别尾部或头部缺口，数据中间的空洞不会被发现。
func ComputeMissing(start, end string, stored DataRange) *Range {
	s, err := Parse(start)
	if err != nil {
		return nil
	}
	e, err := Parse(end)
	if err != nil || s.After(e) {
		return nil
	}
	if stored.From == "" || stored.To == "" {
		return &Range{Start: Format(s), End: Format(e)}
	}
	minT, errMin := Parse(stored.From)
	maxT, errMax := Parse(stored.To)
	if errMin != nil || errMax != nil {
		return &Range{Start: Format(s), End: Format(e)}
	}

	if maxT.Before(e) {
		from := maxT.Truncate(time.Minute).Add(time.Minute)
		if from.Before(s) {
			from = s
		}
		if from.After(e) {
			return nil
		}
		return &Range{Start: Format(from), End: Format(e)}
	}
	if minT.After(s) {
		to := minT.Truncate(time.Minute).Add(-time.Minute)
		if to.Before(s) {
			return nil
		}
		return &Range{Start: Format(s), End: Format(to)}
	}
	return nil
}

// MonthlyChunks 按自然月切分；首段从 start 开始，末段截止到 end
func MonthlyChunks(start, end string) []Range {
	s, err := Parse(start)
	if err != nil {
		return nil
	}
	e, err := Parse(end)
	if err != nil || s.After(e) {
		return nil
	}
	var out []Range
	for cur := s; !cur.After(e); {
		next := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		chunkEnd := next.Add(-time.Minute)
		if chunkEnd.After(e) {
			chunkEnd = e
		}
		out = append(out, Range{Start: Format(cur), End: Format(chunkEnd)})
		cur = next
	}
	return out
}

// Shift 整体平移区间
func (r Range) Shift(minutes int) Range {
	if minutes == 0 {
		return r
	}
	out := r
	if v, err := AddMinutes(r.Start, minutes); err == nil {
		out.Start = v
	}
	if v, err := AddMinutes(r.End, minutes); err == nil {
		out.End = v
	}
	return out
}
