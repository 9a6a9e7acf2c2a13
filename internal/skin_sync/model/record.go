package model

import (
	"time"
)

// Record 一条检测记录：类型化字段 + 原始数据
type Record struct {
	ID           string         `bson:"id" json:"id"`
	SourceID     string         `bson:"sourceId" json:"sourceId"`
	URL          string         `bson:"url" json:"url"`
	Title        string         `bson:"title" json:"title"`
	Image        string         `bson:"image" json:"image"`
	CustomerInfo string         `bson:"customerInfo" json:"customerInfo"`
	Gender       string         `bson:"gender" json:"gender"`
	DeviceNumber string         `bson:"deviceNumber" json:"deviceNumber"`
	Account      string         `bson:"account" json:"account"`
	TestTime     string         `bson:"testTime" json:"testTime"` // 源时区的原始时间字符串
	CrtTime      string         `bson:"crtTime" json:"crtTime"`
	TestStatus   string         `bson:"testStatus" json:"testStatus"`
	Remarks      string         `bson:"remarks" json:"remarks"`
	Picture      string         `bson:"picture" json:"picture"`
	HashedKey    string         `bson:"hashedKey" json:"hashedKey"`
	ContentHash  string         `bson:"contentHash" json:"-"`
	ScrapedAt    time.Time      `bson:"scrapedAt" json:"scrapedAt"` // UTC
	Raw          map[string]any `bson:"raw,omitempty" json:"raw,omitempty"`
}

var (
	customerKeys = []string{"customerInfo", "customer_info", "customer", "userName", "user_name", "nickname"}
	genderKeys   = []string{"gender", "sex"}
	deviceKeys   = []string{"deviceNumber", "device_no", "device_number", "deviceNo"}
	accountKeys  = []string{"account", "user_account", "phone"}
	testTimeKeys = []string{"testTime", "test_time", "created_at", "create_time"}
	crtTimeKeys  = []string{"crtTime", "crt_time"}
	statusKeys   = []string{"testStatus", "test_status", "status"}
	remarkKeys   = []string{"remarks", "remark", "note"}
	pictureKeys  = []string{"picture", "image", "img", "imageUrl", "image_url", "imgUrl", "pic"}
)

// ProjectRecord 把原始行投影为 Record，并计算 hashedKey / contentHash
func ProjectRecord(raw map[string]any, now time.Time) *Record {
	rec := &Record{
		ID:           FirstString(raw, "result_id", "id"),
		SourceID:     FirstString(raw, "sourceId", "source_id"),
		URL:          FirstString(raw, "url", "detailUrl", "link"),
		Title:        FirstString(raw, "title"),
		CustomerInfo: FirstString(raw, customerKeys...),
		Gender:       FirstString(raw, genderKeys...),
		DeviceNumber: FirstString(raw, deviceKeys...),
		Account:      FirstString(raw, accountKeys...),
		TestTime:     FirstString(raw, testTimeKeys...),
		CrtTime:      FirstString(raw, crtTimeKeys...),
		TestStatus:   FirstString(raw, statusKeys...),
		Remarks:      FirstString(raw, remarkKeys...),
		Picture:      FirstString(raw, pictureKeys...),
		ScrapedAt:    now.UTC(),
		Raw:          raw,
	}
	rec.Image = rec.Picture
	if rec.SourceID == "" {
		rec.SourceID = DedupKey(raw)
	}
	rec.HashedKey = HashedKey(rec.Signature())
	rec.ContentHash = ContentHash(raw)
	return rec
}

// SourceTime 增量同步使用的时间：优先 crtTime，其次 testTime
func (r *Record) SourceTime() string {
	if r.CrtTime != "" {
		return r.CrtTime
	}
	return r.TestTime
}
