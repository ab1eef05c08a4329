package transport

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCookieJarLastWriteWins(t *testing.T) {
	jar := NewCookieJar()
	responses := [][]string{
		{"session=aaa; path=/; HttpOnly", "enwikiUserName=Bob; expires=Wed, 01 Jan 2031 00:00:00 GMT"},
		{"session=bbb; secure"},
		{"enwikiUserID=42", "session=ccc"},
	}
	for _, setCookies := range responses {
		for _, c := range setCookies {
			jar.SetCookie(c)
		}
	}

	rendered := jar.Header()
	assert.Equal(t, "session=ccc; enwikiUserName=Bob; enwikiUserID=42", rendered)
	for _, name := range []string{"session", "enwikiUserName", "enwikiUserID"} {
		assert.Equal(t, 1, strings.Count(rendered, name+"="), name)
	}
	assert.Equal(t, 3, jar.Len())
}

func TestCookieJarIgnoresMalformed(t *testing.T) {
	jar := NewCookieJar()
	jar.SetCookie("no-equals-sign")
	jar.SetCookie("=value")
	jar.SetCookie("")
	assert.Equal(t, 0, jar.Len())
	assert.Equal(t, "", jar.Header())
}

func TestCookieJarImportExport(t *testing.T) {
	jar := NewCookieJar()
	jar.SetCookies([]*http.Cookie{{Name: "a", Value: "1"}, nil, {Name: "b", Value: "2"}})
	jar.SetCookie("a=3")

	cookies := jar.Cookies()
	if assert.Len(t, cookies, 2) {
		assert.Equal(t, "a", cookies[0].Name)
		assert.Equal(t, "3", cookies[0].Value)
		assert.Equal(t, "b", cookies[1].Name)
	}

	v, ok := jar.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	jar.Clear()
	assert.Equal(t, "", jar.Header())
}
