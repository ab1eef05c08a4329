package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cgt.name/pkg/go-mwapi/params"
)

func newTestExecutor(t *testing.T, mutate func(*Config)) (*Executor, *sleepRecorder) {
	rec := &sleepRecorder{}
	cfg := DefaultConfig()
	cfg.UserAgent = "go-mwapi test"
	cfg.Sleep = rec.sleep
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewExecutor(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, rec
}

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// rawServer serves every accepted connection with handle.
func rawServer(t *testing.T, handle func(c net.Conn, br *bufio.Reader)) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c, bufio.NewReader(c))
			}()
		}
	}()
	return "http://" + ln.Addr().String() + "/api.php"
}

// skipRequestHead consumes a request head without a body.
func skipRequestHead(br *bufio.Reader) error {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\r\n" {
			return nil
		}
	}
}

func TestExecutorCookiesAndUserAgent(t *testing.T) {
	var n int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "go-mwapi test", r.UserAgent())
		switch atomic.AddInt32(&n, 1) {
		case 1:
			assert.Empty(t, r.Header.Get("Cookie"))
			w.Header().Add("Set-Cookie", "session=1; path=/")
		case 2:
			assert.Equal(t, "session=1", r.Header.Get("Cookie"))
			w.Header().Add("Set-Cookie", "session=2")
			w.Header().Add("Set-Cookie", "other=x")
		default:
			assert.Equal(t, "session=2; other=x", r.Header.Get("Cookie"))
		}
		fmt.Fprint(w, "{}")
	}))
	defer server.Close()

	e, _ := newTestExecutor(t, nil)
	for i := 0; i < 3; i++ {
		resp, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, server.URL)})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Status.Code)
		assert.Equal(t, "{}", string(resp.Body))
	}
	assert.Equal(t, 2, e.Jar().Len())
}

func TestExecutorReusesConnection(t *testing.T) {
	var conns int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Query().Get("n"))
	}))
	server.Config.ConnState = func(c net.Conn, s http.ConnState) {
		if s == http.StateNew {
			atomic.AddInt32(&conns, 1)
		}
	}
	server.Start()
	defer server.Close()

	e, _ := newTestExecutor(t, nil)
	for i := 0; i < 5; i++ {
		resp, err := e.Execute(&Request{
			Method: "GET",
			URL:    mustURL(t, server.URL),
			Params: params.Values{"n": fmt.Sprint(i)},
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(resp.Body))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&conns))
}

func TestExecutorThrottleSkipsColdStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	e, rec := newTestExecutor(t, nil)
	for i := 0; i < 3; i++ {
		_, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, server.URL), Wait: time.Second})
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.waits)
}

func TestExecutorPostBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "upload", r.FormValue("action"))
		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		fmt.Fprintf(w, "%s:%s", fh.Filename, data)
	}))
	defer server.Close()

	e, _ := newTestExecutor(t, nil)
	resp, err := e.Execute(&Request{
		Method: "POST",
		URL:    mustURL(t, server.URL),
		Params: params.Values{"action": "upload"},
		Files:  []File{{Field: "file", Filename: "a.txt", ContentType: "text/plain", Data: []byte("content")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a.txt:content", string(resp.Body))

	form := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		fmt.Fprint(w, r.PostFormValue("text"))
	}))
	defer form.Close()

	resp, err = e.Execute(&Request{
		Method: "POST",
		URL:    mustURL(t, form.URL),
		Params: params.Values{"text": "a&b=c|d"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a&b=c|d", string(resp.Body))
}

func TestExecutorNonOKStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e, _ := newTestExecutor(t, nil)
	resp, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, server.URL)})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status.Code)
	assert.True(t, resp.Status.IsServerError())
}

func TestExecutorStallGuard(t *testing.T) {
	addr := rawServer(t, func(c net.Conn, br *bufio.Reader) {
		if skipRequestHead(br) != nil {
			return
		}
		fmt.Fprint(c, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nab")
		time.Sleep(2 * time.Second)
	})

	e, _ := newTestExecutor(t, func(c *Config) {
		c.StallWindow = 100 * time.Millisecond
	})
	_, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, addr)})
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, KindTooSlow, te.Kind)
	assert.True(t, te.Transient)
	assert.True(t, errors.Is(err, ErrTooSlow))
}

func TestExecutorProtocolError(t *testing.T) {
	addr := rawServer(t, func(c net.Conn, br *bufio.Reader) {
		if skipRequestHead(br) != nil {
			return
		}
		fmt.Fprint(c, "SSH-2.0-OpenSSH_9.6\r\n")
	})

	e, _ := newTestExecutor(t, nil)
	_, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, addr)})
	var pe *ProtocolError
	assert.True(t, errors.As(err, &pe), "got %v", err)
}

func TestExecutorRedialsStaleConnection(t *testing.T) {
	var conns int32
	addr := rawServer(t, func(c net.Conn, br *bufio.Reader) {
		atomic.AddInt32(&conns, 1)
		if skipRequestHead(br) != nil {
			return
		}
		// claims keep-alive, then hangs up
		fmt.Fprint(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	e, _ := newTestExecutor(t, nil)
	for i := 0; i < 3; i++ {
		resp, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, addr)})
		require.NoError(t, err)
		assert.Equal(t, "ok", string(resp.Body))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&conns))
}

// readPost consumes a request head and its Content-Length body.
func readPost(br *bufio.Reader) error {
	var length int64
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\r\n" {
			break
		}
		fmt.Sscanf(line, "Content-Length: %d", &length)
	}
	_, err := io.CopyN(io.Discard, br, length)
	return err
}

func TestExecutorDoesNotReplayPost(t *testing.T) {
	var conns, posts int32
	addr := rawServer(t, func(c net.Conn, br *bufio.Reader) {
		atomic.AddInt32(&conns, 1)
		if readPost(br) != nil {
			return
		}
		atomic.AddInt32(&posts, 1)
		fmt.Fprint(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

		// the edit arrives and is handled, but the answer is lost
		if readPost(br) != nil {
			return
		}
		atomic.AddInt32(&posts, 1)
	})

	e, _ := newTestExecutor(t, nil)
	edit := func() (*Response, error) {
		return e.Execute(&Request{
			Method: "POST",
			URL:    mustURL(t, addr),
			Params: params.Values{"action": "edit", "text": "once"},
		})
	}
	resp, err := edit()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))

	_, err = edit()
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&conns))
	assert.Equal(t, int32(2), atomic.LoadInt32(&posts))
}

func TestRedialable(t *testing.T) {
	get := &Request{Method: "GET"}
	post := &Request{Method: "POST"}
	read := fmt.Errorf("%w: %w", errStaleConn, io.EOF)
	write := fmt.Errorf("%w: %w", errStaleWrite, io.ErrClosedPipe)

	assert.True(t, redialable(get, read))
	assert.True(t, redialable(&Request{Method: "HEAD"}, read))
	assert.False(t, redialable(post, read))
	assert.True(t, redialable(post, write))
	assert.True(t, redialable(get, write))
	assert.False(t, redialable(get, io.ErrUnexpectedEOF))
}

func TestExecutorConnectionClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		fmt.Fprint(w, "bye")
	}))
	defer server.Close()

	e, _ := newTestExecutor(t, nil)
	for i := 0; i < 2; i++ {
		resp, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, server.URL)})
		require.NoError(t, err)
		assert.Equal(t, "bye", string(resp.Body))
		assert.Nil(t, e.conn)
	}
}

func TestExecutorUnsupportedScheme(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	_, err := e.Execute(&Request{Method: "GET", URL: mustURL(t, "ftp://example.org/")})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Transient)
}

func TestExecutorBadProxy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy = "gopher://proxy.example:70"
	_, err := NewExecutor(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.Proxy = "socks5://127.0.0.1:1080"
	_, err = NewExecutor(cfg, zerolog.Nop())
	assert.NoError(t, err)
}
