package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/model"
)

const DefaultUserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36`

type Options struct {
	Headless     bool          `mapstructure:"headless"`
	ExecPath     string        `mapstructure:"execPath"`
	UserAgent    string        `mapstructure:"userAgent"`
	NavTimeout   time.Duration `mapstructure:"navTimeout"`
	WindowWidth  int           `mapstructure:"windowWidth"`
	WindowHeight int           `mapstructure:"windowHeight"`
}

// Session 一个浏览器 tab；所有操作串行执行
type Session struct {
	Log  *zap.Logger
	opts Options

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu        sync.Mutex
	nextID    int
	observers map[int]*observer
	pending   map[network.RequestID]*model.Exchange
}

type observer struct {
	match func(string) bool
	ch    chan model.Exchange
}

// Open 启动浏览器并打开一个空白 tab
func Open(parent context.Context, opts Options, log *zap.Logger) (*Session, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1440, 900
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		Log:         log,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		observers:   make(map[int]*observer),
		pending:     make(map[network.RequestID]*model.Exchange),
	}
	chromedp.ListenTarget(ctx, s.onEvent)

	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: start: %w", err)
	}
	log.Info("Browser session opened", zap.Bool("headless", opts.Headless))
	return s, nil
}

// Close 关闭 tab 和浏览器进程
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
	s.mu.Lock()
	for id, o := range s.observers {
		close(o.ch)
		delete(s.observers, id)
	}
	s.mu.Unlock()
	s.Log.Info("Browser session closed")
}

// run 在 tab 上执行动作，调用方 ctx 取消时中断
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
	defer cancel()
	s.Log.Debug("Navigate", zap.String("url", url))
	return s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

// Evaluate 执行脚本，Promise 会被等待
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	return s.run(ctx, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// Click 点击第一个匹配且可用的元素，不存在时返回 false
func (s *Session) Click(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := s.Evaluate(ctx, clickScript(selector, nil), &ok)
	return ok, err
}

// ClickText 点击文字包含 texts 之一的元素
func (s *Session) ClickText(ctx context.Context, selector string, texts []string) (bool, error) {
	var ok bool
	err := s.Evaluate(ctx, clickScript(selector, texts), &ok)
	return ok, err
}

// Type 清空输入框后逐字输入
func (s *Session) Type(ctx context.Context, selector, text string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *Session) SetCookie(ctx context.Context, name, value, domain string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(name, value).WithDomain(domain).WithPath("/").Do(ctx)
	}))
}

func (s *Session) ClearCookies(ctx context.Context) error {
	return s.run(ctx, network.ClearBrowserCookies())
}

// CookieHeader 当前页面的 cookie，拼成请求头格式
func (s *Session) CookieHeader(ctx context.Context) (string, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	return JoinCookies(cookies), nil
}

// Observe 订阅 URL 匹配的请求/响应，调用返回的函数取消订阅
func (s *Session) Observe(match func(url string) bool) (<-chan model.Exchange, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	o := &observer{match: match, ch: make(chan model.Exchange, 16)}
	s.observers[id] = o
	return o.ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(o.ch)
		}
	}
}

func (s *Session) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if !s.wanted(e.Request.URL) {
			return
		}
		ex := &model.Exchange{
			URL:      e.Request.URL,
			Method:   e.Request.Method,
			Headers:  headerStrings(e.Request.Headers),
			PostData: postData(e.Request),
		}
		s.mu.Lock()
		s.pending[e.RequestID] = ex
		s.mu.Unlock()
	case *network.EventResponseReceived:
		s.mu.Lock()
		if ex, ok := s.pending[e.RequestID]; ok {
			ex.Status = int(e.Response.Status)
		}
		s.mu.Unlock()
	case *network.EventLoadingFinished:
		s.mu.Lock()
		ex, ok := s.pending[e.RequestID]
		delete(s.pending, e.RequestID)
		s.mu.Unlock()
		if ok {
			// 事件回调里不能同步发 CDP 命令
			go s.deliver(e.RequestID, ex)
		}
	case *network.EventLoadingFailed:
		s.mu.Lock()
		delete(s.pending, e.RequestID)
		s.mu.Unlock()
	}
}

func (s *Session) deliver(id network.RequestID, ex *model.Exchange) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(s.ctx, c.Target))
	if err != nil {
		s.Log.Debug("Get response body failed", zap.String("url", ex.URL), zap.Error(err))
		return
	}
	ex.Body = body

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.observers {
		if !o.match(ex.URL) {
			continue
		}
		select {
		case o.ch <- *ex:
		default:
			s.Log.Warn("Observer buffer full, dropping exchange", zap.String("url", ex.URL))
		}
	}
}

func (s *Session) wanted(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.observers {
		if o.match(url) {
			return true
		}
	}
	return false
}

func headerStrings(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return out
}

func postData(r *network.Request) string {
	var b strings.Builder
	for _, e := range r.PostDataEntries {
		if e == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(e.Bytes)
		if err != nil {
			b.WriteString(e.Bytes)
			continue
		}
		b.Write(data)
	}
	return b.String()
}

// JoinCookies name=value; name=value
func JoinCookies(cookies []*network.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
