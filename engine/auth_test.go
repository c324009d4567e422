package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthDetector_Match(t *testing.T) {
	d := NewAuthDetector(replayflow.DefaultAuthConfig)

	tests := []struct {
		name    string
		url     string
		title   string
		matched string
		ok      bool
	}{
		{"google", "https://accounts.google.com/v3/signin", "Google", "accounts.google.com", true},
		{"microsoft upper case", "https://LOGIN.MicrosoftOnline.com/common/oauth2", "", "login.microsoftonline.com", true},
		{"saml path", "https://idp.corp.test/saml2/sso", "Redirecting", "/saml2/", true},
		{"title keyword", "https://corp.test/portal", "Please Sign In to continue", "sign in", true},
		{"url wins over title", "https://corp.okta.com/login/login.htm", "Two-Factor", "okta.com/login", true},
		{"plain page", "https://shop.test/checkout", "Checkout", "", false},
		{"signup is not sign in", "https://shop.test/signup", "Sign up", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, ok := d.Match(tt.url, tt.title)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestAuthDetector_IgnoresBlankPatterns(t *testing.T) {
	d := NewAuthDetector(replayflow.AuthConfig{
		URLPatterns:   []string{"  ", " SSO.Example.com "},
		TitleKeywords: []string{""},
	})

	_, ok := d.Match("https://app.test/", "Anything")
	assert.False(t, ok)

	matched, ok := d.Match("https://sso.example.com/start", "")
	assert.True(t, ok)
	assert.Equal(t, "sso.example.com", matched)
}

func TestAuthDetector_Check(t *testing.T) {
	d := NewAuthDetector(replayflow.DefaultAuthConfig)
	page := browsertest.NewPage()

	page.SetDOM("https://shop.test/", "Shop")
	assert.Nil(t, d.Check(context.Background(), page))

	page.SetDOM("https://accounts.google.com/signin", "Sign in - Google Accounts")
	pause := d.Check(context.Background(), page)
	require.NotNil(t, pause)
	assert.Equal(t, "https://accounts.google.com/signin", pause.URL)
	assert.Equal(t, "accounts.google.com", pause.Matched)
	assert.Equal(t, replayflow.ErrCodeAuthRequired, replayflow.ErrorCode(pause))

	page.Errors["location"] = errors.New("target closed")
	assert.Nil(t, d.Check(context.Background(), page))
}
