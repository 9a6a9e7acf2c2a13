// Package fetcher 直接驱动后台列表接口，逐页拉取并去重。
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/client"
	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/discovery"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/pkg/metrics"
)

var (
	// ErrAuthExpired 重登次数用尽仍提示登录过期
	ErrAuthExpired = errors.New("fetcher: session expired")

	errNoAuthenticator = errors.New("fetcher: no authenticator configured")
)

// Discoverer 契约发现
type Discoverer interface {
	Discover(ctx context.Context) (*discovery.Discovery, error)
}

// Authenticator 重新登录并返回新的会话头
type Authenticator interface {
	Refresh(ctx context.Context) (model.SessionHeaders, error)
}

// Request 一次抓取：Range 为空表示全部数据
type Request struct {
	Range   *daterange.Range
	Chunked bool
}

type PageFailure struct {
	Window string `json:"window,omitempty"`
	Page   int    `json:"page"`
	Error  string `json:"error"`
}

// Result 去重后的数据和诊断计数
type Result struct {
	Items       []map[string]any `json:"-"`
	RawCount    int              `json:"rawCount"`
	Duplicates  int              `json:"duplicates"`
	Unique      int              `json:"unique"`
	Pages       int              `json:"pages"`
	FailedPages []PageFailure    `json:"failedPages,omitempty"`
	Source      string           `json:"source,omitempty"`
}

type Engine struct {
	Log        *zap.Logger
	Transport  client.Transport
	Discoverer Discoverer
	Auth       Authenticator // 可为空
	Keys       discovery.KeyStrategy
	Opts       Options
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Run 发现契约后按区间（或按月分片）走完所有页。
// 只有 ctx 取消才返回错误，其余失败都体现在 Result 里。
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	s := &session{e: e, seen: make(map[string]struct{}), res: &Result{}}

	if err := s.discover(ctx); err != nil {
		if errors.Is(err, discovery.ErrNoConfig) {
			e.Log.Warn("No API contract, returning empty result")
			return s.res, nil
		}
		return s.res, err
	}

	for i, w := range e.windows(req) {
		useFirst := i == 0 && req.Range == nil
		if err := s.walk(ctx, w, useFirst); err != nil {
			s.finish()
			return s.res, err
		}
	}
	s.finish()
	return s.res, nil
}

func (e *Engine) windows(req Request) []*daterange.Range {
	if req.Range == nil {
		return []*daterange.Range{nil}
	}
	r := req.Range.Shift(e.Opts.DateOffsetMinutes)
	if !req.Chunked {
		return []*daterange.Range{&r}
	}
	chunks := daterange.MonthlyChunks(r.Start, r.End)
	if len(chunks) == 0 {
		return []*daterange.Range{&r}
	}
	out := make([]*daterange.Range, len(chunks))
	for i := range chunks {
		out[i] = &chunks[i]
	}
	return out
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// session 单次抓取的可变状态
type session struct {
	e         *Engine
	cfg       *model.APIConfig
	first     *discovery.ListPage
	seen      map[string]struct{}
	res       *Result
	sinceAuth int
}

func (s *session) discover(ctx context.Context) error {
	if s.e.Discoverer == nil {
		return discovery.ErrNoConfig
	}
	d, err := s.e.Discoverer.Discover(ctx)
	if err != nil {
		return err
	}
	if d == nil || d.Config == nil {
		return discovery.ErrNoConfig
	}
	s.adopt(d.Config)
	s.first = d.First
	s.res.Source = d.Source
	return nil
}

func (s *session) adopt(cfg *model.APIConfig) {
	s.cfg = cfg.Clone()
	if s.cfg.PageKey == "" || s.cfg.SizeKey == "" {
		s.cfg.PageKey, s.cfg.SizeKey = s.e.Keys.Resolve(s.cfg.Payload)
	}
}

func (s *session) finish() {
	s.res.Unique = len(s.res.Items)
	s.e.Metrics.Records(s.res.Unique, s.res.Duplicates)
	s.e.Log.Info("Scrape finished",
		zap.String("source", s.res.Source),
		zap.Int("raw", s.res.RawCount),
		zap.Int("duplicates", s.res.Duplicates),
		zap.Int("unique", s.res.Unique),
		zap.Int("pages", s.res.Pages),
		zap.Int("failedPages", len(s.res.FailedPages)),
	)
}

// ingest 先到先得
func (s *session) ingest(items []map[string]any) {
	for _, it := range items {
		s.res.RawCount++
		key := model.DedupKey(it)
		if _, dup := s.seen[key]; dup {
			s.res.Duplicates++
			continue
		}
		s.seen[key] = struct{}{}
		s.res.Items = append(s.res.Items, it)
	}
}

// walk 单个区间的状态机：首页 → 有 total/pageSize 走有界遍历，否则顺序遍历。
// 发现阶段拿到的页不一定是第 1 页（常见是点"下一页"得到的第 2 页），
// 这时它只计入已抓页，遍历仍从第 1 页开始。
func (s *session) walk(ctx context.Context, w *daterange.Range, useFirst bool) error {
	opts := s.e.Opts
	fetched := make(map[int]bool)
	var (
		page1  *discovery.ListPage
		seeded *discovery.ListPage
	)

	if useFirst && s.first != nil {
		first := s.first
		s.first = nil
		switch {
		case opts.ForcePageSize != 0 && first.Meta.PageSize != opts.ForcePageSize:
			// 首页的每页条数与强制值不同，页码不能对齐，只收数据
			s.ingest(first.Items)
		case first.Meta.PageNum <= 1:
			page1 = first
			fetched[1] = true
		default:
			seeded = first
			fetched[first.Meta.PageNum] = true
		}
	}
	if page1 == nil {
		lp, err := s.fetchPage(ctx, w, 1)
		if err != nil {
			return err
		}
		fetched[1] = true
		page1 = lp
	}

	var (
		meta        model.APIMeta
		known       bool
		firstLen    int
		emptyStreak int
		lastPage    int
	)
	if page1 != nil {
		s.ingest(page1.Items)
		meta = page1.Meta
		known = page1.HasTotal && page1.HasPageSize
		firstLen = len(page1.Items)
	}
	if seeded != nil {
		s.ingest(seeded.Items)
		if !known && seeded.HasTotal && seeded.HasPageSize {
			meta.Total, meta.PageSize = seeded.Meta.Total, seeded.Meta.PageSize
			known = true
		}
	}
	if firstLen == 0 {
		emptyStreak = 1
	}

	if known {
		return s.bounded(ctx, w, meta, fetched, firstLen, emptyStreak)
	}
	size := firstNonZero(opts.ForcePageSize, firstLen, meta.PageSize, 10)
	if seeded != nil && len(seeded.Items) < size {
		// 短页之后不会再有数据
		lastPage = seeded.Meta.PageNum
	}
	return s.sequential(ctx, w, size, fetched, firstLen, emptyStreak, lastPage)
}

func (s *session) bounded(ctx context.Context, w *daterange.Range, meta model.APIMeta, fetched map[int]bool, firstLen, emptyStreak int) error {
	opts := s.e.Opts
	total := meta.Total
	size := meta.PageSize
	if opts.ForcePageSize > 0 {
		size = opts.ForcePageSize
	}
	totalPages := model.APIMeta{Total: total, PageSize: size}.TotalPages()
	if firstLen > 0 && firstLen < size {
		return nil
	}

	for p := 1; p <= totalPages; p++ {
		if fetched[p] {
			continue
		}
		if emptyStreak >= opts.emptyStop() {
			s.e.Log.Info("Stopping after consecutive empty pages", zap.Int("page", p), zap.Int("streak", emptyStreak))
			break
		}
		if s.capped(p) {
			break
		}
		if err := sleep(ctx, opts.PageDelay); err != nil {
			return err
		}
		lp, err := s.fetchPage(ctx, w, p)
		if err != nil {
			return err
		}
		fetched[p] = true

		n := 0
		if lp != nil {
			s.ingest(lp.Items)
			n = len(lp.Items)
			changed := lp.HasTotal && lp.Meta.Total != total
			if opts.ForcePageSize == 0 && lp.HasPageSize && lp.Meta.PageSize != size {
				changed = true
				size = lp.Meta.PageSize
			}
			if changed {
				if lp.HasTotal {
					total = lp.Meta.Total
				}
				totalPages = model.APIMeta{Total: total, PageSize: size}.TotalPages()
				s.e.Log.Info("Pagination meta changed",
					zap.Int("page", p),
					zap.Int("total", total),
					zap.Int("pageSize", size),
					zap.Int("totalPages", totalPages),
				)
			}
		}

		if n == 0 {
			emptyStreak++
			continue
		}
		emptyStreak = 0
		if n < size {
			break
		}
	}
	return nil
}

// sequential 接口不报告 total/pageSize 时一直翻页，直到连续空页或短页
// lastPage > 0 时翻到该页为止
func (s *session) sequential(ctx context.Context, w *daterange.Range, size int, fetched map[int]bool, firstLen, emptyStreak, lastPage int) error {
	opts := s.e.Opts
	s.e.Log.Info("No usable total/pageSize, walking pages sequentially", zap.Int("pageSize", size))
	if firstLen > 0 && firstLen < size {
		return nil
	}

	for p := 1; ; p++ {
		if lastPage > 0 && p > lastPage {
			return nil
		}
		if fetched[p] {
			continue
		}
		if emptyStreak >= opts.emptyStop() {
			s.e.Log.Info("Stopping after consecutive empty pages", zap.Int("page", p), zap.Int("streak", emptyStreak))
			return nil
		}
		if s.capped(p) {
			return nil
		}
		if err := sleep(ctx, opts.PageDelay); err != nil {
			return err
		}
		lp, err := s.fetchPage(ctx, w, p)
		if err != nil {
			return err
		}
		fetched[p] = true

		n := 0
		if lp != nil {
			s.ingest(lp.Items)
			n = len(lp.Items)
		}
		if n == 0 {
			emptyStreak++
			continue
		}
		emptyStreak = 0
		if n < size {
			return nil
		}
	}
}

func (s *session) capped(p int) bool {
	if s.e.Opts.MaxPages > 0 && p > s.e.Opts.MaxPages {
		s.e.Log.Warn("Page limit reached", zap.Int("maxPages", s.e.Opts.MaxPages))
		return true
	}
	return false
}

func (s *session) payloadFor(w *daterange.Range, page int) map[string]any {
	p := model.ClonePayload(s.cfg.Payload)
	if w != nil {
		p = s.e.Keys.ApplyRange(p, *w)
	}
	discovery.SetNumber(p, s.cfg.PageKey, page)
	if s.e.Opts.ForcePageSize > 0 {
		discovery.SetNumber(p, s.cfg.SizeKey, s.e.Opts.ForcePageSize)
	}
	return p
}

// fetchPage 拉一页。返回 (nil, nil) 表示该页最终失败，已记录；错误只代表 ctx 结束。
func (s *session) fetchPage(ctx context.Context, w *daterange.Range, page int) (*discovery.ListPage, error) {
	opts := s.e.Opts
	if opts.ReauthEveryPages > 0 && s.sinceAuth >= opts.ReauthEveryPages {
		s.e.Log.Info("Periodic re-authentication", zap.Int("page", page))
		if err := s.reauth(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.e.Log.Warn("Periodic re-authentication failed", zap.Error(err))
			s.sinceAuth = 0
		}
	}

	var lastErr error
	authRetries := 0
	for attempt := 1; attempt <= opts.attempts(); {
		discovery.RefreshTID(s.cfg.Headers, s.e.now())
		body, err := s.e.Transport.Send(ctx, s.cfg, s.payloadFor(w, page))
		var lp *discovery.ListPage
		if err == nil {
			lp, err = discovery.ParseListResponse(body)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.e.Metrics.Page("retry")
			s.e.Log.Warn("Page fetch failed",
				zap.Int("page", page),
				zap.Int("attempt", attempt),
				zap.Int("maxRetries", opts.attempts()),
				zap.Error(err),
			)
			if attempt < opts.attempts() {
				if err := sleep(ctx, opts.ErrorDelay*time.Duration(attempt)); err != nil {
					return nil, err
				}
			}
			attempt++
			continue
		}

		if lp.AuthExpired() {
			s.e.Metrics.Page("auth_expired")
			if authRetries >= opts.MaxAuthRetries {
				lastErr = ErrAuthExpired
				break
			}
			authRetries++
			s.e.Log.Warn("Session expired, re-authenticating",
				zap.Int("page", page),
				zap.Int("authRetry", authRetries),
				zap.String("code", lp.Code),
				zap.String("msg", lp.Msg),
			)
			if err := s.reauth(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = fmt.Errorf("%w: %v", ErrAuthExpired, err)
				break
			}
			continue
		}

		s.sinceAuth++
		s.res.Pages++
		s.e.Metrics.Page("ok")
		return lp, nil
	}

	s.e.Metrics.Page("failed")
	f := PageFailure{Page: page}
	if lastErr != nil {
		f.Error = lastErr.Error()
	}
	if w != nil {
		f.Window = w.Key()
	}
	s.res.FailedPages = append(s.res.FailedPages, f)
	s.e.Log.Error("Page given up",
		zap.Int("page", page),
		zap.String("window", f.Window),
		zap.String("error", f.Error),
	)
	return nil, nil
}

// reauth 重登 → 重新发现契约 → 合并新会话头
func (s *session) reauth(ctx context.Context) error {
	if s.e.Auth == nil {
		return errNoAuthenticator
	}
	headers, err := s.e.Auth.Refresh(ctx)
	if err != nil {
		return err
	}
	s.e.Metrics.Reauth()

	if s.e.Discoverer != nil {
		d, err := s.e.Discoverer.Discover(ctx)
		switch {
		case err == nil && d != nil && d.Config != nil:
			s.adopt(d.Config)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.e.Log.Warn("Rediscovery failed, keeping previous contract", zap.Error(err))
		}
	}
	for k, v := range headers {
		s.cfg.Headers[strings.ToLower(k)] = v
	}
	s.sinceAuth = 0
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
