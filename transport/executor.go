// Package transport executes single HTTP/1.1 exchanges over one
// persistent connection and retries them when the failure is transient.
//
// It covers only what a MediaWiki-style API client needs:
// GET/HEAD with query strings, POST/PUT with urlencoded or multipart
// bodies, a session cookie jar and a stall guard. There is no HTTP/2,
// no request pipelining and no connection pool.
package transport // import "cgt.name/pkg/go-mwapi/transport"

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Executor sends requests over a single persistent connection and parses
// the raw responses. It owns the cookie jar of its client.
//
// An Executor is not safe for concurrent use.
type Executor struct {
	cfg  Config
	log  zerolog.Logger
	jar  *CookieJar
	dial dialFunc

	conn  net.Conn
	stall *stallConn
	br    *bufio.Reader
	addr  string // scheme://host:port of conn

	sent bool
}

// NewExecutor returns an Executor configured by cfg. Zero fields of cfg
// take their defaults.
func NewExecutor(cfg Config, logger zerolog.Logger) (*Executor, error) {
	cfg = cfg.withDefaults()
	direct := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	e := &Executor{
		cfg:  cfg,
		log:  logger,
		jar:  NewCookieJar(),
		dial: direct.DialContext,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}
		d, err := proxy.FromURL(u, direct)
		if err != nil {
			return nil, fmt.Errorf("configuring proxy %s: %w", u.Redacted(), err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			e.dial = cd.DialContext
		} else {
			e.dial = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	}
	return e, nil
}

// Jar returns the session cookie jar.
func (e *Executor) Jar() *CookieJar {
	return e.jar
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Close closes the persistent connection, if any.
func (e *Executor) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn, e.stall, e.br, e.addr = nil, nil, nil, ""
	return err
}

func (e *Executor) drop() {
	if e.conn != nil {
		_ = e.Close()
	}
}

func (e *Executor) connect(u *url.URL) error {
	port, ok := defaultPorts[u.Scheme]
	if !ok {
		return &TransportError{Kind: KindNetwork, Message: "unsupported URL scheme " + u.Scheme}
	}
	host := u.Hostname()
	if p := u.Port(); p != "" {
		port = p
	}
	hostport := net.JoinHostPort(host, port)
	key := u.Scheme + "://" + hostport
	if e.conn != nil && e.addr == key {
		return nil
	}
	e.drop()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DialTimeout)
	defer cancel()
	raw, err := e.dial(ctx, "tcp", hostport)
	if err != nil {
		return classify("dialing "+hostport, err)
	}
	stall := newStallConn(raw, e.cfg.StallWindow, e.cfg.StallMinRate)
	var conn net.Conn = stall
	if u.Scheme == "https" {
		tlsCfg := e.cfg.TLSConfig.Clone()
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = host
		}
		tlsCfg.NextProtos = []string{"http/1.1"}
		tc := tls.Client(stall, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return classify("TLS handshake with "+hostport, err)
		}
		conn = tc
	}

	e.log.Debug().Str("addr", key).Msg("connected")
	e.conn, e.stall, e.addr = conn, stall, key
	e.br = bufio.NewReader(conn)
	return nil
}

// Execute sends req and returns the parsed response. Any well-formed
// response is returned without error, whatever its status; judging the
// status is up to the caller (see RetryPolicy).
//
// Errors are *TransportError for connection failures and *ProtocolError
// when the peer does not speak HTTP.
func (e *Executor) Execute(req *Request) (*Response, error) {
	if e.sent && req.Wait > 0 {
		e.cfg.Sleep(req.Wait)
	}
	e.sent = true

	raw, err := encodeRequest(req, e.cfg.UserAgent, e.jar.Header())
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	// A reused connection may have been closed by the server while idle.
	// Such a failure is repaired by dialing once more instead of being
	// reported, but only when the request cannot have reached the server
	// or is safe to repeat.
	for attempt := 0; ; attempt++ {
		reused := e.conn != nil
		resp, err := e.exchange(req, raw)
		if err == nil {
			return resp, nil
		}
		e.drop()
		var te *TransportError
		if errors.As(err, &te) && te.Kind == KindTooSlow {
			e.log.Warn().Str("url", req.URL.Redacted()).Msg("aborted monstrously slow transfer")
			return nil, err
		}
		if reused && attempt == 0 && redialable(req, err) {
			e.log.Debug().Err(err).Msg("persistent connection went stale, redialing")
			continue
		}
		return nil, err
	}
}

var (
	errStaleWrite = errors.New("connection closed before request was sent")
	errStaleConn  = errors.New("connection closed before response")
)

// redialable reports whether err, seen on a reused connection, allows
// sending req again on a fresh one. A request that was written may have
// been processed, so only GET and HEAD are repeated after a failed read.
func redialable(req *Request, err error) bool {
	if errors.Is(err, errStaleWrite) {
		return true
	}
	return errors.Is(err, errStaleConn) && (req.Method == "GET" || req.Method == "HEAD")
}

func (e *Executor) exchange(req *Request, raw []byte) (*Response, error) {
	if err := e.connect(req.URL); err != nil {
		return nil, err
	}
	e.stall.reset()
	start := time.Now()

	if _, err := e.conn.Write(raw); err != nil {
		return nil, classify("writing request", fmt.Errorf("%w: %w", errStaleWrite, err))
	}

	status, header, err := ReadHead(e.br)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return nil, pe
		}
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
			err = fmt.Errorf("%w: %w", errStaleConn, err)
		}
		return nil, classify("reading response head", err)
	}
	for _, c := range header.Values("set-cookie") {
		e.jar.SetCookie(c)
	}

	body, keepAlive, err := readBody(e.br, req.Method, status, header)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, classify("reading response body", err)
	}
	if !keepAlive {
		e.drop()
	}

	e.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Int("status", status.Code).
		Int("bytes", len(body)).
		Dur("took", time.Since(start)).
		Msg("exchange complete")

	return &Response{Status: status, Header: header, Body: body}, nil
}
