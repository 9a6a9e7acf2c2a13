package daterange

import "time"

// DisplayLayout 展示用格式
const DisplayLayout = "2006-01-02 15:04:05"

// Zones 源时区（数据写入时的墙上时间）和展示时区
type Zones struct {
	Source  *time.Location
	Display *time.Location
}

// LoadZones 加载时区，失败时退回固定偏移
func LoadZones(source, display string) Zones {
	return Zones{
		Source:  loadLocation(source, time.FixedZone("CST", 8*3600)),
		Display: loadLocation(display, time.FixedZone("ICT", 7*3600)),
	}
}

func loadLocation(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// ToDisplay 把源时区的时间串转成展示时区；无法解析的原样返回
func (z Zones) ToDisplay(stored string) string {
	if stored == "" {
		return ""
	}
	t, err := Parse(stored)
	if err != nil {
		return stored
	}
	src, dst := z.Source, z.Display
	if src == nil {
		src = time.UTC
	}
	if dst == nil {
		dst = src
	}
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, src)
	return wall.In(dst).Format(DisplayLayout)
}

// DisplayRange 区间两端都转成展示时区
func (z Zones) DisplayRange(d DataRange) DataRange {
	return DataRange{From: z.ToDisplay(d.From), To: z.ToDisplay(d.To)}
}

// Now 源时区当前时间（Layout）
func (z Zones) Now() string {
	return z.At(time.Now())
}

func (z Zones) At(t time.Time) string {
	loc := z.Source
	if loc == nil {
		loc = time.UTC
	}
	return Format(t.In(loc))
}
