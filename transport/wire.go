package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// maxHeadLines bounds the number of lines read while looking for the end
// of a response head.
const maxHeadLines = 1000

// encodeRequest renders req as an HTTP/1.1 request, e.g.:
//
//	POST /w/api.php HTTP/1.1\r\n
//	Host: en.wikipedia.org\r\n
//	User-Agent: ...\r\n
//	Content-Type: application/x-www-form-urlencoded\r\n
//	Content-Length: 42\r\n
//	\r\n
//	action=edit&...
func encodeRequest(req *Request, userAgent, cookie string) ([]byte, error) {
	if req.URL == nil {
		return nil, errors.New("request has no URL")
	}
	var (
		body        []byte
		contentType string
	)
	target := *req.URL
	if req.hasBody() {
		if req.multipart() {
			enc := NewMultipartEncoder()
			for _, k := range req.Params.Keys() {
				enc.AddField(k, req.Params[k])
			}
			for _, f := range req.Files {
				enc.AddFile(f)
			}
			var err error
			body, contentType, err = enc.Encode()
			if err != nil {
				return nil, err
			}
		} else {
			body = []byte(req.Params.Encode())
			contentType = "application/x-www-form-urlencoded"
		}
	} else if q := req.Params.Encode(); q != "" {
		if target.RawQuery != "" {
			target.RawQuery += "&" + q
		} else {
			target.RawQuery = q
		}
	}

	var buf bytes.Buffer
	buf.WriteString(req.Method)
	buf.WriteByte(' ')
	buf.WriteString(target.RequestURI())
	buf.WriteString(" HTTP/1.1\r\n")

	writeHeader := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	writeHeader("Host", target.Host)
	if !req.Header.Has("user-agent") {
		writeHeader("User-Agent", userAgent)
	}
	if cookie != "" && !req.Header.Has("cookie") {
		writeHeader("Cookie", cookie)
	}
	if req.hasBody() {
		if !req.Header.Has("content-type") {
			writeHeader("Content-Type", contentType)
		}
		writeHeader("Content-Length", strconv.Itoa(len(body)))
	}
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		if name != "host" && name != "content-length" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header name %q", name)
		}
		for _, v := range req.Header[name] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("invalid value for header %q", name)
			}
			writeHeader(name, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadHead reads a response head from br: status line(s), then header
// lines up to the first blank line. Interim 1xx responses such as
// "100 Continue" are skipped. Lines that do not match the status grammar
// are treated as headers. Header names are case-folded.
//
// ReadHead returns io.EOF if br was exhausted before any byte was read,
// and a *ProtocolError if the head ended without a status line.
func ReadHead(br *bufio.Reader) (Status, Header, error) {
	var (
		status   *Status
		h        = make(Header)
		lastName string
	)
	for n := 0; n < maxHeadLines; n++ {
		line, err := readLine(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Status{}, nil, err
			}
			switch {
			case n == 0:
				return Status{}, nil, io.EOF
			case status == nil:
				return Status{}, nil, &ProtocolError{"response ended without a status line"}
			default:
				return Status{}, nil, io.ErrUnexpectedEOF
			}
		}

		if st, ok := ParseStatus(line); ok {
			status = &st
			h = make(Header)
			lastName = ""
			continue
		}

		if line == "" {
			if status == nil {
				return Status{}, nil, &ProtocolError{"header block without a status line"}
			}
			if status.IsInformational() {
				status = nil
				h = make(Header)
				lastName = ""
				continue
			}
			return *status, h, nil
		}

		if (line[0] == ' ' || line[0] == '\t') && lastName != "" {
			// obsolete line folding
			vs := h[lastName]
			vs[len(vs)-1] += " " + strings.TrimSpace(line)
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			continue
		}
		h.Add(name, strings.TrimSpace(value))
		lastName = canonical(name)
	}
	return Status{}, nil, &ProtocolError{fmt.Sprintf("no end of response head within %d lines", maxHeadLines)}
}

// readBody reads the body that follows a response head. keepAlive is
// false when the connection cannot carry another exchange.
func readBody(br *bufio.Reader, method string, st Status, h Header) (body []byte, keepAlive bool, err error) {
	keepAlive = !strings.EqualFold(h.Get("connection"), "close")
	if st.Proto == "HTTP/1.0" && !strings.EqualFold(h.Get("connection"), "keep-alive") {
		keepAlive = false
	}

	if method == "HEAD" || st.IsInformational() || st.Code == 204 || st.Code == 304 {
		return nil, keepAlive, nil
	}

	if te := strings.ToLower(h.Get("transfer-encoding")); strings.Contains(te, "chunked") {
		body, err = readChunked(br)
		return body, keepAlive, err
	}

	if cl := h.Get("content-length"); cl != "" {
		n, perr := strconv.ParseUint(strings.TrimSpace(cl), 10, 63)
		if perr != nil {
			return nil, false, &ProtocolError{"invalid Content-Length " + strconv.Quote(cl)}
		}
		var buf bytes.Buffer
		if _, err = io.CopyN(&buf, br, int64(n)); err != nil {
			return nil, false, unexpected(err)
		}
		return buf.Bytes(), keepAlive, nil
	}

	body, err = io.ReadAll(br)
	return body, false, err
}

// readChunked decodes a chunked transfer-encoded body, including the
// trailer section.
func readChunked(br *bufio.Reader) ([]byte, error) {
	var body bytes.Buffer
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, unexpected(err)
		}
		sizeField, _, _ := strings.Cut(line, ";")
		size, err := strconv.ParseUint(strings.TrimSpace(sizeField), 16, 63)
		if err != nil {
			return nil, &ProtocolError{"invalid chunk length " + strconv.Quote(sizeField)}
		}
		if size == 0 {
			break
		}
		if _, err := io.CopyN(&body, br, int64(size)); err != nil {
			return nil, unexpected(err)
		}
		if crlf, err := readLine(br); err != nil {
			return nil, unexpected(err)
		} else if crlf != "" {
			return nil, &ProtocolError{"malformed chunk terminator"}
		}
	}
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, unexpected(err)
		}
		if line == "" {
			return body.Bytes(), nil
		}
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
