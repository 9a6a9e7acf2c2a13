package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
)

func TestKeyStrategyResolve(t *testing.T) {
	cases := []struct {
		payload map[string]any
		page    string
		size    string
	}{
		{map[string]any{"pageNum": 1, "pageSize": 20}, "pageNum", "pageSize"},
		{map[string]any{"current": 1, "rows": 20}, "current", "rows"},
		{map[string]any{"PAGENO": 1, "Limit": 20}, "PAGENO", "Limit"},
		{map[string]any{"foo": 1}, "page", "pageSize"},
	}
	for _, tc := range cases {
		page, size := DefaultKeys.Resolve(tc.payload)
		require.Equal(t, tc.page, page)
		require.Equal(t, tc.size, size)
	}
}

func TestKeyStrategyDates(t *testing.T) {
	payload := map[string]any{"page": 1, "StartTime": "x", "endDate": "y", "weidu": "all"}

	stripped := DefaultKeys.StripDates(payload)
	require.Equal(t, map[string]any{"page": 1, "weidu": "all"}, stripped)
	require.Len(t, payload, 4)

	applied := DefaultKeys.ApplyRange(payload, daterange.Range{Start: "2025-01-01 00:00", End: "2025-01-31 23:59"})
	require.Equal(t, "2025-01-01 00:00", applied["StartTime"])
	require.Equal(t, "2025-01-31 23:59", applied["endDate"])
	require.Equal(t, "2025-01-01 00:00", applied["st"])
	require.Equal(t, "2025-01-31 23:59", applied["ed"])
	require.Equal(t, "all", applied["weidu"])
}

func TestSetNumberKeepsType(t *testing.T) {
	p := map[string]any{"page": "1", "pageSize": 10}
	SetNumber(p, "page", 3)
	SetNumber(p, "pageSize", 100)
	require.Equal(t, "3", p["page"])
	require.Equal(t, 100, p["pageSize"])
}

func TestFilterHeadersAndTID(t *testing.T) {
	h := FilterHeaders(map[string]string{
		"Access_Token": "tok",
		"X-Tid":        "88-1700000000000",
		"Content-Type": "application/json",
		"Cookie":       "a=b",
		"Sec-Ch-Ua":    "x",
	})
	require.Equal(t, map[string]string{"access_token": "tok", "x-tid": "88-1700000000000", "cookie": "a=b"}, h)

	now := time.UnixMilli(1800000000000)
	RefreshTID(h, now)
	require.Equal(t, "88-1800000000000", h["x-tid"])
	require.Equal(t, "1800000000000", TID("", now))
}

func TestParseListResponse(t *testing.T) {
	page, err := ParseListResponse([]byte(`{"code":0,"msg":"ok","data":{"list":[{"id":1},{"id":2}],"totalCount":"42","page_size":10,"pageNum":3}}`))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasTotal)
	require.True(t, page.HasPageSize)
	require.Equal(t, model.APIMeta{Total: 42, PageSize: 10, PageNum: 3, ListLength: 2}, page.Meta)
	require.False(t, page.AuthExpired())

	expired, err := ParseListResponse([]byte(`{"code":10001,"msg":"登录已过期"}`))
	require.NoError(t, err)
	require.True(t, expired.AuthExpired())

	require.True(t, IsAuthExpired("500", "Please Login again"))

	_, err = ParseListResponse([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestLoadBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: https://example.test/skinMgrSrv/record/list
method: post
headers:
  Locale: en
payload:
  pageNum: "1"
  pageSize: "10"
  st: "2024-01-01"
token: abc
`), 0o600))

	b, err := LoadBootstrap(path)
	require.NoError(t, err)

	cfg := b.Config(DefaultKeys, time.UnixMilli(1000))
	require.Equal(t, "POST", cfg.Method)
	require.Equal(t, "abc", cfg.Headers["access_token"])
	require.Equal(t, "en", cfg.Headers["locale"])
	require.Equal(t, "1000", cfg.Headers["x-tid"])
	require.Equal(t, "pageNum", cfg.PageKey)
	require.True(t, cfg.IsForm())
}

type fakeSession struct {
	clickable map[string]bool
	clicked   []string
	exchange  *model.Exchange
	ch        chan model.Exchange
}

func (f *fakeSession) Observe(match func(string) bool) (<-chan model.Exchange, func()) {
	f.ch = make(chan model.Exchange, 1)
	return f.ch, func() {}
}

func (f *fakeSession) Click(_ context.Context, selector string) (bool, error) {
	if !f.clickable[selector] {
		return false, nil
	}
	f.clicked = append(f.clicked, selector)
	if f.exchange != nil && len(f.ch) == 0 {
		f.ch <- *f.exchange
	}
	return true, nil
}

func (f *fakeSession) ClickText(_ context.Context, selector string, _ []string) (bool, error) {
	return f.Click(context.Background(), selector+":text")
}

func (f *fakeSession) Evaluate(context.Context, string, any) error { return nil }

func TestDiscoverFromNetwork(t *testing.T) {
	sess := &fakeSession{
		clickable: map[string]bool{".el-pagination .btn-prev": true, "button:text": true},
		exchange: &model.Exchange{
			URL:      "https://example.test/skinMgrSrv/record/list",
			Method:   "post",
			Headers:  map[string]string{"access_token": "tok", "Content-Type": "application/x-www-form-urlencoded"},
			PostData: "pageNum=2&pageSize=10&starttime=2024-01-01&weidu=all",
			Body:     []byte(`{"code":0,"data":{"list":[{"id":"a"}],"total":1,"pageSize":10,"pageNum":2}}`),
		},
	}
	d := &Discoverer{Log: zap.NewNop(), Session: sess, Keys: DefaultKeys, StripDates: true, Wait: time.Second}

	out, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, "network", out.Source)
	require.Equal(t, []string{".el-pagination .btn-prev"}, sess.clicked)
	require.Equal(t, "POST", out.Config.Method)
	require.Equal(t, "pageNum", out.Config.PageKey)
	require.Equal(t, map[string]any{"pageNum": "2", "pageSize": "10", "weidu": "all"}, out.Config.Payload)
	require.True(t, out.Config.IsForm())
	require.Equal(t, 2, out.First.Meta.PageNum)
}

type fakeTransport struct {
	body []byte
	err  error
	got  map[string]any
}

func (f *fakeTransport) Send(_ context.Context, _ *model.APIConfig, payload map[string]any) ([]byte, error) {
	f.got = payload
	return f.body, f.err
}

func TestDiscoverFallsBackToBootstrap(t *testing.T) {
	sess := &fakeSession{}
	tr := &fakeTransport{body: []byte(`{"code":0,"data":{"list":[],"total":0,"pageSize":10}}`)}
	d := &Discoverer{
		Log:       zap.NewNop(),
		Session:   sess,
		Transport: tr,
		Keys:      DefaultKeys,
		Wait:      10 * time.Millisecond,
		Bootstrap: DefaultBootstrap("https://example.test/skinMgrSrv/record/list", "tok"),
	}

	out, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bootstrap", out.Source)
	require.Equal(t, "page", out.Config.PageKey)
	require.Equal(t, "all", tr.got["weidu"])
}

func TestDiscoverNoConfig(t *testing.T) {
	d := &Discoverer{Log: zap.NewNop(), Session: &fakeSession{}, Keys: DefaultKeys, Wait: 10 * time.Millisecond}
	_, err := d.Discover(context.Background())
	require.ErrorIs(t, err, ErrNoConfig)
}
