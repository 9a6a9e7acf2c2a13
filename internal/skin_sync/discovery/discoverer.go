package discovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/client"
	"skin-sync/internal/skin_sync/model"
)

// DefaultListPath 列表接口路径
const DefaultListPath = "/skinMgrSrv/record/list"

// ErrNoConfig 嗅探和预置请求都失败
var ErrNoConfig = errors.New("discovery: no api config discovered")

// Session 浏览器会话中契约发现需要的能力
type Session interface {
	Observe(match func(url string) bool) (<-chan model.Exchange, func())
	Click(ctx context.Context, selector string) (bool, error)
	ClickText(ctx context.Context, selector string, texts []string) (bool, error)
	Evaluate(ctx context.Context, expr string, out any) error
}

// Discovery 发现结果；First 是发现时拿到的那一页
type Discovery struct {
	Config *model.APIConfig
	First  *ListPage
	Source string // network | bootstrap
}

type Discoverer struct {
	Log       *zap.Logger
	Session   Session // 为空时直接走预置请求
	Transport client.Transport
	Keys      KeyStrategy
	ListPath  string
	Wait      time.Duration
	// StripDates 去掉嗅探到的日期过滤，之后由强制区间覆盖
	StripDates bool
	// BumpPageSize 发现前尝试把表格切到 100 条/页
	BumpPageSize bool
	Bootstrap    *Bootstrap
}

type uiTrigger struct {
	selector string
	texts    []string
	back     string
}

// 按顺序尝试，第一个点击成功的生效
var uiTriggers = []uiTrigger{
	{selector: ".el-pagination .btn-next", back: ".el-pagination .btn-prev"},
	{selector: ".el-pagination .btn-prev"},
	{selector: "button", texts: []string{"刷新", "Refresh", "Tải lại", "Search", "查询", "搜索"}},
	{selector: ".el-pager li.number"},
}

const pageSizeScript = `(async () => {
  const box = document.querySelector('.el-pagination__sizes .el-input, .el-pagination__sizes input');
  if (!box) return false;
  box.click();
  await new Promise(r => setTimeout(r, 300));
  const opts = Array.from(document.querySelectorAll('.el-select-dropdown__item'));
  const hit = opts.find(o => /^\s*100\b/.test(o.innerText || ''));
  if (!hit) return false;
  hit.click();
  return true;
})()`

// Discover 嗅探一次真实的列表请求；失败时退回预置请求
func (d *Discoverer) Discover(ctx context.Context) (*Discovery, error) {
	if d.Session != nil {
		out, err := d.sniff(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.Log.Warn("Network discovery failed", zap.Error(err))
	}

	if d.Bootstrap != nil && d.Transport != nil {
		out, err := d.bootstrap(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.Log.Warn("Bootstrap discovery failed", zap.String("url", d.Bootstrap.URL), zap.Error(err))
	}
	return nil, ErrNoConfig
}

func (d *Discoverer) listPath() string {
	if d.ListPath == "" {
		return DefaultListPath
	}
	return d.ListPath
}

func (d *Discoverer) sniff(ctx context.Context) (*Discovery, error) {
	path := d.listPath()
	ch, stop := d.Session.Observe(func(u string) bool {
		return strings.Contains(u, path)
	})
	defer stop()

	if d.BumpPageSize {
		var ok bool
		if err := d.Session.Evaluate(ctx, pageSizeScript, &ok); err != nil {
			d.Log.Debug("Page size bump failed", zap.Error(err))
		}
	}

	if !d.trigger(ctx) {
		d.Log.Debug("No UI trigger clicked, waiting for passive requests")
	}

	wait := d.Wait
	if wait <= 0 {
		wait = 20 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("discovery: timed out waiting for list response")
	case ex := <-ch:
		return d.fromExchange(ex), nil
	}
}

func (d *Discoverer) trigger(ctx context.Context) bool {
	for _, tr := range uiTriggers {
		var (
			ok  bool
			err error
		)
		if len(tr.texts) > 0 {
			ok, err = d.Session.ClickText(ctx, tr.selector, tr.texts)
		} else {
			ok, err = d.Session.Click(ctx, tr.selector)
		}
		if err != nil {
			d.Log.Debug("UI trigger failed", zap.String("selector", tr.selector), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if tr.back != "" {
			_, _ = d.Session.Click(ctx, tr.back)
		}
		d.Log.Info("UI trigger clicked", zap.String("selector", tr.selector))
		return true
	}
	return false
}

func (d *Discoverer) fromExchange(ex model.Exchange) *Discovery {
	headers := FilterHeaders(ex.Headers)
	contentType := ""
	for k, v := range ex.Headers {
		if strings.EqualFold(k, "content-type") {
			contentType = v
		}
	}

	payload := parsePayload(ex.PostData)
	if d.StripDates {
		payload = d.Keys.StripDates(payload)
	}
	pageKey, sizeKey := d.Keys.Resolve(payload)

	cfg := &model.APIConfig{
		URL:         ex.URL,
		Method:      strings.ToUpper(ex.Method),
		Headers:     headers,
		Payload:     payload,
		ContentType: contentType,
		PageKey:     pageKey,
		SizeKey:     sizeKey,
	}
	out := &Discovery{Config: cfg, Source: "network"}
	if len(ex.Body) > 0 {
		if page, err := ParseListResponse(ex.Body); err == nil && !page.AuthExpired() {
			out.First = page
		}
	}
	d.Log.Info("API contract discovered",
		zap.String("url", cfg.URL),
		zap.String("method", cfg.Method),
		zap.String("pageKey", pageKey),
		zap.String("sizeKey", sizeKey),
		zap.Int("headers", len(headers)),
	)
	return out
}

func (d *Discoverer) bootstrap(ctx context.Context) (*Discovery, error) {
	cfg := d.Bootstrap.Config(d.Keys, time.Now())
	if d.StripDates {
		cfg.Payload = d.Keys.StripDates(cfg.Payload)
	}
	body, err := d.Transport.Send(ctx, cfg, cfg.Payload)
	if err != nil {
		return nil, err
	}
	page, err := ParseListResponse(body)
	if err != nil {
		return nil, err
	}
	if page.AuthExpired() {
		return nil, errors.New("discovery: bootstrap token rejected")
	}
	d.Log.Info("API contract bootstrapped",
		zap.String("url", cfg.URL),
		zap.Int("total", page.Meta.Total),
		zap.Int("pageSize", page.Meta.PageSize),
	)
	return &Discovery{Config: cfg, First: page, Source: "bootstrap"}, nil
}

func parsePayload(raw string) map[string]any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return map[string]any{}
	}
	if strings.HasPrefix(s, "{") {
		var m map[string]any
		if err := model.DecodeJSON([]byte(s), &m); err == nil && m != nil {
			return m
		}
	}
	values, err := url.ParseQuery(s)
	if err != nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
