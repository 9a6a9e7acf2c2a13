package auth

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	usernameSelectors = []string{
		`input[placeholder="请输入手机号码或用户名"]`,
		`input[placeholder*="username"]`,
		`input[placeholder*="Username"]`,
		`input[type="email"]`,
		`input[name="email"]`,
		`input[name="username"]`,
	}
	passwordSelectors = []string{
		`input[placeholder="请输入密码"]`,
		`input[type="password"]`,
	}
	// SubmitTexts 登录按钮上的文字
	SubmitTexts = []string{"登录", "Login", "Sign in"}
)

// LoginForm 页面上识别出的登录表单
type LoginForm struct {
	UsernameSelector string
	PasswordSelector string
	HasSubmit        bool
}

// DetectLoginForm 在页面 HTML 里找用户名、密码输入框和登录按钮
func DetectLoginForm(html string) (LoginForm, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return LoginForm{}, false
	}
	var form LoginForm
	form.UsernameSelector = firstMatch(doc, usernameSelectors)
	form.PasswordSelector = firstMatch(doc, passwordSelectors)
	doc.Find("button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		for _, t := range SubmitTexts {
			if strings.Contains(text, t) {
				form.HasSubmit = true
				return false
			}
		}
		return true
	})
	return form, form.UsernameSelector != "" && form.PasswordSelector != ""
}

func firstMatch(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return ""
}
