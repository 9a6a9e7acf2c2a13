package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/model"
)

const (
	DefaultHomeURL   = "https://zm.bitmoji-zmlh.com/skinmgr/"
	DefaultTargetURL = "https://zm.bitmoji-zmlh.com/skinmgr/#/skinmgr/recordsList"
	defaultTokenWait = 15 * time.Second
	tokenPoll        = 500 * time.Millisecond
)

// ErrTokenTimeout 登录后等待 token 超时
var ErrTokenTimeout = errors.New("auth: timed out waiting for access token")

// Provider 获取 / 刷新会话头
type Provider interface {
	Login(ctx context.Context) (model.SessionHeaders, error)
	Refresh(ctx context.Context) (model.SessionHeaders, error)
}

// Page 登录流程需要的浏览器能力
type Page interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expr string, out any) error
	SetCookie(ctx context.Context, name, value, domain string) error
	ClearCookies(ctx context.Context) error
	CookieHeader(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Type(ctx context.Context, selector, text string) error
	ClickText(ctx context.Context, selector string, texts []string) (bool, error)
}

// TokenSource 账号密码换 token
type TokenSource interface {
	Token(ctx context.Context, username, password string) (string, error)
}

// BrowserAuth 登录并把 token 写进浏览器，返回列表接口要带的请求头
type BrowserAuth struct {
	Log      *zap.Logger
	Page     Page        // 为空时只换 token，不操作浏览器
	Exchange TokenSource // 为空时只走页面登录
	Cache    TokenCache  // 可为空
	CacheTTL time.Duration

	HomeURL   string
	TargetURL string
	Username  string
	Password  string
	Forced    string // 调用方直接给的 token，优先使用
	Locale    string
	TokenWait time.Duration
	Now       func() time.Time
}

// Login 首次登录：强制 token > 缓存 > 换 token > 页面登录
func (a *BrowserAuth) Login(ctx context.Context) (model.SessionHeaders, error) {
	return a.login(ctx, true)
}

// Refresh 清掉浏览器状态和缓存后重新登录
func (a *BrowserAuth) Refresh(ctx context.Context) (model.SessionHeaders, error) {
	a.log().Info("Re-authenticating session")
	if a.Cache != nil {
		if err := a.Cache.Clear(ctx); err != nil {
			a.log().Warn("Clear token cache failed", zap.Error(err))
		}
	}
	if a.Page != nil {
		if err := a.clearBrowser(ctx); err != nil {
			return nil, err
		}
	}
	return a.login(ctx, false)
}

func (a *BrowserAuth) login(ctx context.Context, reuse bool) (model.SessionHeaders, error) {
	if a.Page != nil {
		if err := a.Page.Navigate(ctx, a.homeURL()); err != nil {
			return nil, fmt.Errorf("auth: open home: %w", err)
		}
	}

	token, err := a.resolveToken(ctx, reuse)
	if err != nil {
		return nil, err
	}

	cookie := ""
	if a.Page != nil {
		if err := ApplyToken(ctx, a.Page, a.homeURL(), token, a.locale()); err != nil {
			return nil, err
		}
		if err := a.Page.Navigate(ctx, a.targetURL()); err != nil {
			return nil, fmt.Errorf("auth: open list page: %w", err)
		}
		if cookie, err = a.Page.CookieHeader(ctx); err != nil {
			a.log().Warn("Read cookies failed", zap.Error(err))
		}
	}
	return BuildHeaders(token, a.locale(), cookie, a.now()), nil
}

func (a *BrowserAuth) resolveToken(ctx context.Context, reuse bool) (string, error) {
	if reuse && a.Forced != "" {
		return a.Forced, nil
	}
	if reuse && a.Cache != nil {
		token, err := a.Cache.Get(ctx)
		if err != nil {
			a.log().Warn("Read token cache failed", zap.Error(err))
		} else if token != "" {
			a.log().Debug("Using cached token")
			return token, nil
		}
	}

	var token string
	var err error = ErrNoCredentials
	if a.Exchange != nil {
		token, err = a.Exchange.Token(ctx, a.Username, a.Password)
	}
	if err != nil && a.Page != nil && a.Username != "" {
		a.log().Warn("Token exchange failed, falling back to UI login", zap.Error(err))
		token, err = a.uiLogin(ctx)
	}
	if err != nil {
		return "", err
	}
	if a.Cache != nil {
		if err := a.Cache.Set(ctx, token, a.CacheTTL); err != nil {
			a.log().Warn("Write token cache failed", zap.Error(err))
		}
	}
	return token, nil
}

func (a *BrowserAuth) uiLogin(ctx context.Context) (string, error) {
	html, err := a.Page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: read login page: %w", err)
	}
	form, ok := DetectLoginForm(html)
	if !ok {
		return "", errors.New("auth: login form not found")
	}
	if err := a.Page.Type(ctx, form.UsernameSelector, a.Username); err != nil {
		return "", fmt.Errorf("auth: fill username: %w", err)
	}
	if err := a.Page.Type(ctx, form.PasswordSelector, a.Password); err != nil {
		return "", fmt.Errorf("auth: fill password: %w", err)
	}
	clicked, err := a.Page.ClickText(ctx, "button", SubmitTexts)
	if err != nil {
		return "", fmt.Errorf("auth: submit login: %w", err)
	}
	if !clicked {
		return "", errors.New("auth: login button not found")
	}
	return a.waitToken(ctx)
}

const readTokenScript = `(localStorage.getItem('access_token') || localStorage.getItem('accessToken') || sessionStorage.getItem('access_token') || '')`

// waitToken 页面登录后轮询 storage 直到出现 token
func (a *BrowserAuth) waitToken(ctx context.Context) (string, error) {
	wait := a.TokenWait
	if wait <= 0 {
		wait = defaultTokenWait
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(tokenPoll)
	defer ticker.Stop()
	for {
		var token string
		if err := a.Page.Evaluate(ctx, readTokenScript, &token); err == nil && token != "" {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ErrTokenTimeout
		case <-ticker.C:
		}
	}
}

const clearStorageScript = `(() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} return true; })()`

func (a *BrowserAuth) clearBrowser(ctx context.Context) error {
	var ok bool
	if err := a.Page.Evaluate(ctx, clearStorageScript, &ok); err != nil {
		a.log().Warn("Clear storage failed", zap.Error(err))
	}
	if err := a.Page.ClearCookies(ctx); err != nil {
		return fmt.Errorf("auth: clear cookies: %w", err)
	}
	return nil
}

// ApplyToken token 写进 cookie 和 local/session storage
func ApplyToken(ctx context.Context, page Page, homeURL, token, locale string) error {
	u, err := url.Parse(homeURL)
	if err != nil {
		return fmt.Errorf("auth: parse home url: %w", err)
	}
	if err := page.SetCookie(ctx, "access_token", token, u.Hostname()); err != nil {
		return fmt.Errorf("auth: set cookie: %w", err)
	}
	var ok bool
	if err := page.Evaluate(ctx, storageScript(token, locale), &ok); err != nil {
		return fmt.Errorf("auth: write storage: %w", err)
	}
	return nil
}

func storageScript(token, locale string) string {
	if locale == "" {
		locale = DefaultLocale
	}
	tid := TIDPrefix(token)
	values := map[string]string{
		"access_token": token,
		"accessToken":  token,
		"x-tid":        tid,
		"tid":          tid,
		"locale":       locale,
		"language":     locale,
		"weidu":        "all",
	}
	data, _ := json.Marshal(values)
	return `(() => { const v = ` + string(data) + `;
  for (const [k, val] of Object.entries(v)) {
    try { localStorage.setItem(k, val); } catch (e) {}
    try { sessionStorage.setItem(k, val); } catch (e) {}
  }
  return true; })()`
}

func (a *BrowserAuth) homeURL() string {
	if a.HomeURL == "" {
		return DefaultHomeURL
	}
	return a.HomeURL
}

func (a *BrowserAuth) targetURL() string {
	if a.TargetURL == "" {
		return DefaultTargetURL
	}
	return a.TargetURL
}

func (a *BrowserAuth) locale() string {
	if a.Locale == "" {
		return DefaultLocale
	}
	return a.Locale
}

func (a *BrowserAuth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *BrowserAuth) log() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}
