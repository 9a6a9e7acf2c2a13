package fetcher

import "time"

// Options 抓取节奏和重试策略
type Options struct {
	PageDelay        time.Duration // 两页之间的固定间隔
	ErrorDelay       time.Duration // 瞬时错误后的等待，乘以尝试次数
	MaxFetchRetries  int
	MaxAuthRetries   int
	ReauthEveryPages int // 0 关闭定期重登
	EmptyPageStop    int // 连续空页阈值，非法值按 3
	ForcePageSize    int // 0 使用接口自身的每页条数
	MaxPages         int // 单个区间的页数上限，0 不限
	// DateOffsetMinutes 强制区间整体平移，用于源站时区与本地不一致的情况
	DateOffsetMinutes int
}

func DefaultOptions() Options {
	return Options{
		PageDelay:        800 * time.Millisecond,
		ErrorDelay:       2000 * time.Millisecond,
		MaxFetchRetries:  5,
		MaxAuthRetries:   2,
		ReauthEveryPages: 50,
		EmptyPageStop:    5,
		MaxPages:         5000,
	}
}

func (o Options) emptyStop() int {
	if o.EmptyPageStop < 1 {
		return 3
	}
	return o.EmptyPageStop
}

func (o Options) attempts() int {
	if o.MaxFetchRetries < 1 {
		return 1
	}
	return o.MaxFetchRetries
}
