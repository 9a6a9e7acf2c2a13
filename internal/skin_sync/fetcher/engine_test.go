package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/discovery"
	"skin-sync/internal/skin_sync/model"
)

// pageFunc 按页码返回响应体
type pageFunc func(call int, payload map[string]any) ([]byte, error)

type fakeTransport struct {
	mu       sync.Mutex
	fn       pageFunc
	payloads []map[string]any
	headers  []map[string]string
}

func (f *fakeTransport) Send(_ context.Context, cfg *model.APIConfig, payload map[string]any) ([]byte, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	h := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		h[k] = v
	}
	f.headers = append(f.headers, h)
	call := len(f.payloads)
	f.mu.Unlock()
	return f.fn(call, payload)
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeDiscoverer struct {
	calls int
	first *discovery.ListPage
}

func (f *fakeDiscoverer) Discover(context.Context) (*discovery.Discovery, error) {
	f.calls++
	return &discovery.Discovery{
		Config: &model.APIConfig{
			URL:     "https://example.test/skinMgrSrv/record/list",
			Method:  "POST",
			Headers: map[string]string{"access_token": fmt.Sprintf("tok-%d", f.calls)},
			Payload: map[string]any{"pageNum": 1, "pageSize": 10, "weidu": "all"},
		},
		First:  f.first,
		Source: "network",
	}, nil
}

type fakeAuth struct {
	calls int
	err   error
}

func (f *fakeAuth) Refresh(context.Context) (model.SessionHeaders, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return model.SessionHeaders{"access_token": fmt.Sprintf("fresh-%d", f.calls)}, nil
}

func listBody(t *testing.T, items []map[string]any, meta map[string]any) []byte {
	data := map[string]any{"list": items}
	for k, v := range meta {
		data[k] = v
	}
	b, err := json.Marshal(map[string]any{"code": 0, "msg": "ok", "data": data})
	require.NoError(t, err)
	return b
}

func pageItems(page, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"result_id": fmt.Sprintf("p%d-%d", page, i), "account": "acc"}
	}
	return out
}

func pageOf(payload map[string]any) int {
	n, _ := model.ToInt(payload["pageNum"])
	return n
}

func testOptions() Options {
	return Options{MaxFetchRetries: 3, MaxAuthRetries: 2, EmptyPageStop: 5}
}

func newEngine(tr *fakeTransport, d Discoverer, a Authenticator, opts Options) *Engine {
	e := &Engine{
		Log:        zap.NewNop(),
		Transport:  tr,
		Discoverer: d,
		Keys:       discovery.DefaultKeys,
		Opts:       opts,
	}
	if a != nil {
		e.Auth = a
	}
	return e
}

func TestDedupKeepsFirstSeen(t *testing.T) {
	tr := &fakeTransport{fn: func(int, map[string]any) ([]byte, error) {
		return listBody(t, []map[string]any{
			{"result_id": "same", "customerInfo": "first"},
			{"result_id": "same", "customerInfo": "second"},
		}, map[string]any{"total": 2, "pageSize": 10}), nil
	}}
	res, err := newEngine(tr, &fakeDiscoverer{}, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, "first", res.Items[0]["customerInfo"])
	require.Equal(t, 2, res.RawCount)
	require.Equal(t, 1, res.Duplicates)
	require.Equal(t, 1, res.Unique)
	require.Equal(t, 1, tr.calls())
}

func TestBoundedWalkSelfCorrectsTotal(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		total := 100
		if p >= 5 {
			total = 150
		}
		if p > 15 {
			return listBody(t, nil, map[string]any{"total": total, "pageSize": 10}), nil
		}
		return listBody(t, pageItems(p, 10), map[string]any{"total": total, "pageSize": 10, "pageNum": p}), nil
	}}
	res, err := newEngine(tr, &fakeDiscoverer{}, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 150, res.Unique)
	require.Equal(t, 15, tr.calls())
	for i, p := range tr.payloads {
		require.Equal(t, i+1, pageOf(p))
	}
}

func TestBoundedWalkStopsOnShortPage(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		n := 10
		if p == 3 {
			n = 4
		}
		return listBody(t, pageItems(p, n), map[string]any{"total": 100, "pageSize": 10}), nil
	}}
	res, err := newEngine(tr, &fakeDiscoverer{}, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 24, res.Unique)
	require.Equal(t, 3, tr.calls())
}

func TestBoundedWalkSkipsDiscoveredPage(t *testing.T) {
	first := &discovery.ListPage{
		Items:       pageItems(2, 10),
		Meta:        model.APIMeta{Total: 30, PageSize: 10, PageNum: 2, ListLength: 10},
		HasTotal:    true,
		HasPageSize: true,
	}
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		return listBody(t, pageItems(p, 10), map[string]any{"total": 30, "pageSize": 10}), nil
	}}
	res, err := newEngine(tr, &fakeDiscoverer{first: first}, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 30, res.Unique)
	require.Equal(t, 2, tr.calls())
	require.Equal(t, 1, pageOf(tr.payloads[0]))
	require.Equal(t, 3, pageOf(tr.payloads[1]))
}

func TestSequentialStopsAfterEmptyPages(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		if p <= 2 || p >= 5 {
			return listBody(t, pageItems(p, 10), nil), nil
		}
		return listBody(t, nil, nil), nil
	}}
	opts := testOptions()
	opts.EmptyPageStop = 2
	res, err := newEngine(tr, &fakeDiscoverer{}, nil, opts).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 20, res.Unique)
	require.Equal(t, 4, tr.calls())
}

func TestEmptyPageStopFallsBackToThree(t *testing.T) {
	require.Equal(t, 3, Options{EmptyPageStop: 0}.emptyStop())
	require.Equal(t, 3, Options{EmptyPageStop: -4}.emptyStop())
	require.Equal(t, 5, DefaultOptions().emptyStop())
}

func TestAuthExpiredRefreshesAndRetriesSamePage(t *testing.T) {
	expiredOnce := false
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		if p == 2 && !expiredOnce {
			expiredOnce = true
			return []byte(`{"code":10001,"msg":"登录已过期"}`), nil
		}
		return listBody(t, pageItems(p, 10), map[string]any{"total": 30, "pageSize": 10}), nil
	}}
	auth := &fakeAuth{}
	disc := &fakeDiscoverer{}
	res, err := newEngine(tr, disc, auth, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 30, res.Unique)
	require.Empty(t, res.FailedPages)
	require.Equal(t, 1, auth.calls)
	require.Equal(t, 2, disc.calls)
	require.Equal(t, 2, pageOf(tr.payloads[2]))
	require.Equal(t, "fresh-1", tr.headers[2]["access_token"])
}

func TestAuthExpiredBeyondLimitFailsPageOnly(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		if p == 2 {
			return []byte(`{"code":401,"msg":"please login"}`), nil
		}
		return listBody(t, pageItems(p, 10), map[string]any{"total": 30, "pageSize": 10}), nil
	}}
	auth := &fakeAuth{}
	res, err := newEngine(tr, &fakeDiscoverer{}, auth, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 20, res.Unique)
	require.Equal(t, 2, auth.calls)
	require.Len(t, res.FailedPages, 1)
	require.Equal(t, 2, res.FailedPages[0].Page)
	require.Contains(t, res.FailedPages[0].Error, ErrAuthExpired.Error())
}

func TestTransientErrorsRetriedThenPageFailed(t *testing.T) {
	attempts := map[int]int{}
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		attempts[p]++
		switch {
		case p == 2 && attempts[p] < 3:
			return nil, errors.New("connection reset")
		case p == 3:
			return nil, errors.New("timeout")
		}
		return listBody(t, pageItems(p, 10), map[string]any{"total": 40, "pageSize": 10}), nil
	}}
	res, err := newEngine(tr, &fakeDiscoverer{}, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 30, res.Unique)
	require.Equal(t, 3, attempts[2])
	require.Equal(t, 3, attempts[3])
	require.Len(t, res.FailedPages, 1)
	require.Equal(t, 3, res.FailedPages[0].Page)
}

func TestPeriodicReauth(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		return listBody(t, pageItems(p, 10), map[string]any{"total": 50, "pageSize": 10}), nil
	}}
	opts := testOptions()
	opts.ReauthEveryPages = 2
	auth := &fakeAuth{}
	res, err := newEngine(tr, &fakeDiscoverer{}, auth, opts).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 50, res.Unique)
	require.Equal(t, 2, auth.calls)
}

func TestChunkedRangeWalksEachMonth(t *testing.T) {
	tr := &fakeTransport{fn: func(call int, payload map[string]any) ([]byte, error) {
		items := []map[string]any{{"result_id": fmt.Sprintf("c%d", call), "testTime": payload["st"]}}
		return listBody(t, items, map[string]any{"total": 1, "pageSize": 10}), nil
	}}
	r := daterange.Range{Start: "2025-01-15 00:00", End: "2025-03-10 23:59"}
	res, err := newEngine(tr, &fakeDiscoverer{}, nil, testOptions()).Run(context.Background(), Request{Range: &r, Chunked: true})
	require.NoError(t, err)
	require.Equal(t, 3, res.Unique)
	require.Equal(t, "2025-01-15 00:00", tr.payloads[0]["st"])
	require.Equal(t, "2025-02-01 00:00", tr.payloads[1]["st"])
	require.Equal(t, "2025-03-10 23:59", tr.payloads[2]["ed"])
}

func TestForcePageSize(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		return listBody(t, pageItems(pageOf(payload), 3), map[string]any{"total": 3, "pageSize": 100}), nil
	}}
	opts := testOptions()
	opts.ForcePageSize = 100
	_, err := newEngine(tr, &fakeDiscoverer{}, nil, opts).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 100, tr.payloads[0]["pageSize"])
}

type failingDiscoverer struct{}

func (failingDiscoverer) Discover(context.Context) (*discovery.Discovery, error) {
	return nil, discovery.ErrNoConfig
}

func TestNoContractIsSoftFailure(t *testing.T) {
	tr := &fakeTransport{}
	res, err := newEngine(tr, failingDiscoverer{}, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Empty(t, res.Items)
	require.Equal(t, 0, tr.calls())
}

func TestCancelledContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		cancel()
		return nil, context.Canceled
	}}
	_, err := newEngine(tr, &fakeDiscoverer{}, nil, testOptions()).Run(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDiscoveredLaterPageStillFetchesPageOne(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		if p == 1 {
			return listBody(t, pageItems(1, 10), map[string]any{"total": 15, "pageSize": 10, "pageNum": 1}), nil
		}
		return nil, fmt.Errorf("unexpected page %d", p)
	}}
	d := &fakeDiscoverer{first: &discovery.ListPage{
		Items:       pageItems(2, 5),
		Meta:        model.APIMeta{Total: 15, PageSize: 10, PageNum: 2},
		HasTotal:    true,
		HasPageSize: true,
	}}

	res, err := newEngine(tr, d, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 15, res.Unique)
	require.Equal(t, 1, tr.calls())
	require.Equal(t, 1, pageOf(tr.payloads[0]))
}

func TestDiscoveredShortLaterPageBoundsSequentialWalk(t *testing.T) {
	tr := &fakeTransport{fn: func(_ int, payload map[string]any) ([]byte, error) {
		p := pageOf(payload)
		if p == 1 {
			return listBody(t, pageItems(1, 10), nil), nil
		}
		return nil, fmt.Errorf("unexpected page %d", p)
	}}
	d := &fakeDiscoverer{first: &discovery.ListPage{
		Items: pageItems(2, 5),
		Meta:  model.APIMeta{PageNum: 2},
	}}

	res, err := newEngine(tr, d, nil, testOptions()).Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 15, res.Unique)
	require.Equal(t, 1, tr.calls())
}
