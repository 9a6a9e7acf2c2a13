package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/discovery"
	"skin-sync/internal/skin_sync/model"
)

const (
	DefaultTokenURL = "https://zm.bitmoji-zmlh.com/auth2/token"
	DefaultClientID = "93dc94c23d83c2ca"
	DefaultAppType  = "zmskin"
	DefaultLocale   = "en"
)

// ErrNoCredentials 没有账号密码，也没有可用 token
var ErrNoCredentials = errors.New("auth: no credentials configured")

// TokenExchange 用账号密码直接换 access_token
type TokenExchange struct {
	Log      *zap.Logger
	HTTP     *resty.Client
	URL      string
	ClientID string
	AppType  string
}

func NewTokenExchange(log *zap.Logger, http *resty.Client, url string) *TokenExchange {
	if url == "" {
		url = DefaultTokenURL
	}
	return &TokenExchange{
		Log:      log,
		HTTP:     http,
		URL:      url,
		ClientID: DefaultClientID,
		AppType:  DefaultAppType,
	}
}

// Token POST 表单登录；code 必须为 0，token 在 access_token 或 data.access_token
func (t *TokenExchange) Token(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrNoCredentials
	}
	resp, err := t.HTTP.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username":   username,
			"password":   password,
			"client_id":  t.ClientID,
			"app_type":   t.AppType,
			"code_token": "-1",
		}).
		Post(t.URL)
	if err != nil {
		return "", fmt.Errorf("auth: token exchange: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("auth: token exchange: status %d", resp.StatusCode())
	}

	var body map[string]any
	if err := model.DecodeJSON(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("auth: token exchange: %w", err)
	}
	code := model.Stringify(body["code"])
	token := model.Stringify(body["access_token"])
	if token == "" {
		if data, ok := body["data"].(map[string]any); ok {
			token = model.Stringify(data["access_token"])
		}
	}
	if code != "0" || token == "" {
		return "", fmt.Errorf("auth: token exchange rejected: code=%s msg=%s", code, model.Stringify(body["msg"]))
	}
	if t.Log != nil {
		t.Log.Info("Token exchange succeeded", zap.String("user", username))
	}
	return token, nil
}

// TIDPrefix token 是 base64，解码后取最后一个 ':' 段里的数字
func TIDPrefix(token string) string {
	var decoded []byte
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(strings.TrimSpace(token)); err == nil {
			decoded = b
			break
		}
	}
	if decoded == nil {
		return ""
	}
	s := string(decoded)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// BuildHeaders 会话请求头：access_token / x-tid / locale / language / cookie
func BuildHeaders(token, locale, cookie string, now time.Time) model.SessionHeaders {
	if locale == "" {
		locale = DefaultLocale
	}
	h := model.SessionHeaders{
		"access_token": token,
		"x-tid":        discovery.TID(TIDPrefix(token), now),
		"locale":       locale,
		"language":     locale,
	}
	if cookie != "" {
		h["cookie"] = cookie
	}
	return h
}
