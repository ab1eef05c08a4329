package transport

import (
	"fmt"
	"regexp"
	"strconv"
)

var statusLine = regexp.MustCompile(`^(HTTP/\d+(?:\.\d+)?) +(\d{3})(?: +(.*?))?\s*$`)

// Status is a parsed HTTP status line.
type Status struct {
	Proto   string // e.g. "HTTP/1.1"
	Code    int    // e.g. 404
	Class   int    // leading digit of Code, e.g. 4
	Message string // reason phrase, may be empty
	Line    string // the raw line
}

// ParseStatus parses line as an HTTP status line of the form
// "HTTP/<version> <code> <message>". The second return value is false
// when line does not match that grammar.
func ParseStatus(line string) (Status, bool) {
	m := statusLine.FindStringSubmatch(line)
	if m == nil {
		return Status{}, false
	}
	code, err := strconv.Atoi(m[2])
	if err != nil {
		return Status{}, false
	}
	return Status{
		Proto:   m[1],
		Code:    code,
		Class:   code / 100,
		Message: m[3],
		Line:    line,
	}, true
}

// IsInformational reports whether the status is 1xx.
func (s Status) IsInformational() bool { return s.Class == 1 }

// IsSuccess reports whether the status is 2xx.
func (s Status) IsSuccess() bool { return s.Class == 2 }

// IsClientError reports whether the status is 4xx.
func (s Status) IsClientError() bool { return s.Class == 4 }

// IsServerError reports whether the status is 5xx.
func (s Status) IsServerError() bool { return s.Class == 5 }

// String returns the code and message, e.g. "404 Not Found".
func (s Status) String() string {
	if s.Message == "" {
		return strconv.Itoa(s.Code)
	}
	return fmt.Sprintf("%d %s", s.Code, s.Message)
}
