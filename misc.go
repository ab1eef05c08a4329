package mwapi

import "net/http"

// DumpCookies exports the cookies stored in the client, e.g. to resume
// a session in a later run.
func (w *Client) DumpCookies() []*http.Cookie {
	return w.exec.Jar().Cookies()
}

// LoadCookies imports cookies into the client. Cookies with the same
// name as a stored cookie replace it.
func (w *Client) LoadCookies(cookies []*http.Cookie) {
	w.exec.Jar().SetCookies(cookies)
}
