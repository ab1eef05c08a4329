package transport

import (
	"net/url"
	"time"

	"cgt.name/pkg/go-mwapi/params"
)

// Request is one logical HTTP request. It is built fresh for every call
// and must not be modified after it has been handed to an Executor.
type Request struct {
	Method    string // GET, HEAD, POST or PUT
	URL       *url.URL
	Params    params.Values
	Files     []File
	Header    Header        // extra request headers
	Wait      time.Duration // delay before sending, skipped on a cold start
	Multipart bool
}

// Response is a parsed HTTP response.
type Response struct {
	Status Status
	Header Header
	Body   []byte
}

func (r *Request) hasBody() bool {
	return r.Method == "POST" || r.Method == "PUT"
}

func (r *Request) multipart() bool {
	return r.Multipart || len(r.Files) > 0
}
