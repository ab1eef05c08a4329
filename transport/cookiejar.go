package transport

import (
	"net/http"
	"strings"
)

// CookieJar keeps the session cookies of one client. It is filled from
// Set-Cookie response headers only and rendered back as a single Cookie
// request header. Names are unique and the last value written wins.
//
// A CookieJar is not safe for concurrent use.
type CookieJar struct {
	order  []string
	values map[string]string
}

// NewCookieJar returns an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{values: make(map[string]string)}
}

// SetCookie applies the value of one Set-Cookie header. Attributes after
// the name=value pair are ignored. Malformed values are dropped.
func (j *CookieJar) SetCookie(raw string) {
	pair, _, _ := strings.Cut(raw, ";")
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	j.set(name, strings.TrimSpace(value))
}

func (j *CookieJar) set(name, value string) {
	if _, ok := j.values[name]; !ok {
		j.order = append(j.order, name)
	}
	j.values[name] = value
}

// Header renders the jar as the value of a Cookie request header.
// An empty jar renders as "".
func (j *CookieJar) Header() string {
	var b strings.Builder
	for i, name := range j.order {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(j.values[name])
	}
	return b.String()
}

// Get returns the value of the named cookie.
func (j *CookieJar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

// Len returns the number of cookies in the jar.
func (j *CookieJar) Len() int {
	return len(j.order)
}

// Cookies exports the jar.
func (j *CookieJar) Cookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(j.order))
	for _, name := range j.order {
		cookies = append(cookies, &http.Cookie{Name: name, Value: j.values[name]})
	}
	return cookies
}

// SetCookies imports cookies into the jar, overwriting cookies with the
// same name.
func (j *CookieJar) SetCookies(cookies []*http.Cookie) {
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		j.set(c.Name, c.Value)
	}
}

// Clear empties the jar.
func (j *CookieJar) Clear() {
	j.order = nil
	j.values = make(map[string]string)
}
