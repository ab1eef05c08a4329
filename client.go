package mwapi

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"cgt.name/pkg/go-mwapi/params"
	"cgt.name/pkg/go-mwapi/transport"
)

// Assert selects the assert parameter sent with every request. See
// https://www.mediawiki.org/wiki/API:Assert.
type Assert int

const (
	AssertNone Assert = iota
	AssertUser
	AssertBot
)

func (a Assert) String() string {
	switch a {
	case AssertUser:
		return "user"
	case AssertBot:
		return "bot"
	default:
		return ""
	}
}

func parseAssert(s string) (Assert, error) {
	switch s {
	case "", "none":
		return AssertNone, nil
	case "user":
		return AssertUser, nil
	case "bot":
		return AssertBot, nil
	}
	return AssertNone, &ConfigError{"assert must be empty, user or bot, got " + s}
}

// Client represents a session with one MediaWiki API endpoint.
//
// A Client is not safe for concurrent use. Create one Client per wiki and
// per goroutine.
type Client struct {
	apiURL *url.URL
	cfg    Config
	log    zerolog.Logger

	exec  *transport.Executor
	retry *transport.RetryPolicy

	// Tokens caches the session tokens.
	Tokens *TokenCache

	// Maxlag is the maxlag parameter in seconds, 0 to disable it.
	Maxlag int
	// Assert is sent with every request unless AssertNone.
	Assert Assert

	username string // set after a successful login
	halted   error
}

// CallOptions modify how Call performs a request.
type CallOptions struct {
	// Post sends the parameters as a POST body.
	Post bool
	// Write marks a state-changing call. It implies Post, logs in first
	// if the client is not logged in and adds the csrf token unless the
	// parameters already carry one.
	Write bool
	// Files are sent as a multipart/form-data body. Implies Post.
	Files []transport.File

	raw   bool // do not decode the body
	login bool // part of the login flow, no assertions
}

// New returns a Client for the API at apiURL with the default
// configuration and the given User-Agent.
func New(apiURL, userAgent string) (*Client, error) {
	return NewWithOptions(apiURL, WithUserAgent(userAgent))
}

// NewWithOptions returns a Client for the API at apiURL configured by
// opts applied over DefaultConfig.
func NewWithOptions(apiURL string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.APIURL = apiURL
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return NewWithConfig(cfg)
}

// NewWithConfig returns a Client configured by cfg.
func NewWithConfig(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	apiURL, _ := url.Parse(cfg.APIURL)
	assert, _ := parseAssert(cfg.Assert)

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("api", apiURL.Host).Logger()

	tcfg := cfg.Transport
	if cfg.UserAgent != "" {
		tcfg.UserAgent = cfg.UserAgent
	}
	exec, err := transport.NewExecutor(tcfg, logger)
	if err != nil {
		return nil, &ConfigError{err.Error()}
	}

	w := &Client{
		apiURL: apiURL,
		cfg:    cfg,
		log:    logger,
		exec:   exec,
		retry:  transport.NewRetryPolicy(exec, tcfg, logger),
		Maxlag: cfg.Maxlag,
		Assert: assert,
	}
	w.cfg.Transport = exec.Config()
	w.Tokens = NewTokenCache(w.fetchTokens)
	return w, nil
}

// Close closes the connection to the server.
func (w *Client) Close() error {
	return w.exec.Close()
}

// Username returns the name of the logged in user, or "".
func (w *Client) Username() string {
	return w.username
}

// Halted returns the FatalError that stopped the client, or nil.
func (w *Client) Halted() error {
	return w.halted
}

// check records fatal errors so that every later call fails with them.
func (w *Client) check(err error) error {
	if err != nil && w.halted == nil && IsFatal(err) {
		w.halted = err
		w.log.Error().Err(err).Msg("client halted")
	}
	return err
}

// prepare normalizes p and adds the parameters every request carries
// unless the caller already set them.
func (w *Client) prepare(p params.Args, opts CallOptions) params.Values {
	v := p.Normalize()
	v.SetDefault("format", "json")
	v.SetDefault("formatversion", "2")
	if w.Maxlag > 0 {
		v.SetDefault("maxlag", strconv.Itoa(w.Maxlag))
	}
	if !opts.login {
		if a := w.Assert.String(); a != "" {
			v.SetDefault("assert", a)
		}
		if w.username != "" {
			v.SetDefault("assertuser", w.username)
		}
	}
	return v
}

// Call performs an API request with the parameters p and returns the
// decoded response.
//
// Parameter values are normalized by params.Args.Normalize. If the
// response contains an error object, Call returns the response together
// with an *APIError. Warnings are logged, not returned. When the server
// is lagged (maxlag) Call waits and retries, consuming the retry budget.
// Any FatalError halts the client.
func (w *Client) Call(p params.Args, opts CallOptions) (*jason.Object, error) {
	_, resp, err := w.call(p, opts)
	return resp, err
}

func (w *Client) call(p params.Args, opts CallOptions) ([]byte, *jason.Object, error) {
	if w.halted != nil {
		return nil, nil, w.halted
	}
	if opts.Write || len(opts.Files) > 0 {
		opts.Post = true
	}
	if opts.Write {
		if w.username == "" {
			if err := w.autoLogin(); err != nil {
				return nil, nil, err
			}
		}
		if _, ok := p["token"]; !ok {
			token, err := w.GetToken(CSRFToken)
			if err != nil {
				return nil, nil, err
			}
			p = p.Clone()
			p["token"] = token
		}
	}

	v := w.prepare(p, opts)
	for {
		httpResp, err := w.send(v, opts)
		if err != nil {
			return nil, nil, w.check(err)
		}

		if lag := httpResp.Header.Get("x-database-lag"); lag != "" {
			if err := w.backoffMaxlag(httpResp, "database lagged "+lag+"s"); err != nil {
				return nil, nil, err
			}
			continue
		}
		if opts.raw {
			return httpResp.Body, nil, nil
		}

		resp, err := jason.NewObjectFromBytes(httpResp.Body)
		if err != nil {
			return httpResp.Body, nil, fmt.Errorf("decoding response: %w", err)
		}
		for _, warning := range extractWarnings(resp) {
			w.log.Warn().Str("module", warning.Module).Msg(warning.Info)
		}

		apiErr := extractAPIError(resp)
		if apiErr == nil {
			return httpResp.Body, resp, nil
		}
		switch apiErr.Kind {
		case KindMaxlag:
			if err := w.backoffMaxlag(httpResp, apiErr.Info); err != nil {
				return nil, nil, err
			}
			continue
		case KindBadToken:
			w.Tokens.Invalidate(CSRFToken)
		}
		return httpResp.Body, resp, apiErr
	}
}

func (w *Client) send(v params.Values, opts CallOptions) (*transport.Response, error) {
	req := &transport.Request{
		Method:    "GET",
		URL:       w.apiURL,
		Params:    v,
		Files:     opts.Files,
		Wait:      w.cfg.Transport.GetWait,
		Multipart: len(opts.Files) > 0,
	}
	if opts.Post {
		req.Method = "POST"
		req.Wait = w.cfg.Transport.PostWait
	}

	encoded := v.Encode()
	w.log.Debug().
		Str("method", req.Method).
		Str("fingerprint", strconv.FormatUint(xxh3.HashString(encoded), 16)).
		Interface("params", v.Redacted()).
		Int("files", len(opts.Files)).
		Msg("api request")
	if w.cfg.LogSensitive {
		w.log.Trace().Str("params", encoded).Msg("api request (sensitive)")
	}

	return w.retry.Do(req)
}

// backoffMaxlag waits as long as the server asked before the request is
// repeated. The wait counts against the retry budget.
func (w *Client) backoffMaxlag(resp *transport.Response, reason string) error {
	var wait time.Duration
	if s, err := strconv.Atoi(resp.Header.Get("retry-after")); err == nil && s > 0 {
		wait = time.Duration(s) * time.Second
	}
	w.log.Warn().Str("reason", reason).Dur("retry_after", wait).Msg("server lagged")
	return w.check(w.retry.Backoff("maxlag: "+reason, wait))
}

// Get performs a GET request with the specified parameters and returns
// the decoded response. See Call.
func (w *Client) Get(p params.Args) (*jason.Object, error) {
	return w.Call(p, CallOptions{})
}

// Post performs a POST request with the specified parameters and
// returns the decoded response. See Call.
func (w *Client) Post(p params.Args) (*jason.Object, error) {
	return w.Call(p, CallOptions{Post: true})
}

// Write performs a state-changing POST request. The client logs in first
// if needed and adds the csrf token unless p already has a "token". See
// Call.
func (w *Client) Write(p params.Args) (*jason.Object, error) {
	return w.Call(p, CallOptions{Write: true})
}

// Upload performs a write with the given files as a multipart body.
func (w *Client) Upload(p params.Args, files ...transport.File) (*jason.Object, error) {
	return w.Call(p, CallOptions{Write: true, Files: files})
}

// GetRaw performs a GET request and returns the raw response body
// without looking for API errors or warnings.
func (w *Client) GetRaw(p params.Args) ([]byte, error) {
	body, _, err := w.call(p, CallOptions{raw: true})
	return body, err
}

// PostRaw performs a POST request and returns the raw response body
// without looking for API errors or warnings.
func (w *Client) PostRaw(p params.Args) ([]byte, error) {
	body, _, err := w.call(p, CallOptions{Post: true, raw: true})
	return body, err
}

// GetToken returns a token of the given kind from the cache, fetching it
// from the API if necessary.
func (w *Client) GetToken(kind string) (string, error) {
	if w.halted != nil {
		return "", w.halted
	}
	token, err := w.Tokens.Get(kind)
	return token, w.check(err)
}

func (w *Client) fetchTokens(kinds []string) (map[string]string, error) {
	opts := CallOptions{}
	for _, kind := range kinds {
		if kind == LoginToken {
			opts.login = true
		}
	}
	resp, err := w.Call(params.Args{
		"action": "query",
		"meta":   "tokens",
		"type":   kinds,
	}, opts)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]string, len(kinds))
	obj, err := resp.GetObject("query", "tokens")
	if err != nil {
		return tokens, nil
	}
	for _, kind := range kinds {
		if token, err := obj.GetString(kind + "token"); err == nil {
			tokens[kind] = token
		}
	}
	return tokens, nil
}

// Login attempts to log in with the given credentials. Bot passwords
// (Special:BotPasswords) should be used with this method.
//
// On success the user name is remembered and every later request
// asserts it (assertuser), so a session that silently expires fails
// loudly instead of acting anonymously.
func (w *Client) Login(username, password string) error {
	if w.halted != nil {
		return w.halted
	}
	token, err := w.GetToken(LoginToken)
	if err != nil {
		return err
	}
	// login tokens are single use
	w.Tokens.Invalidate(LoginToken)

	resp, err := w.Call(params.Args{
		"action":     "login",
		"lgname":     username,
		"lgpassword": password,
		"lgtoken":    token,
	}, CallOptions{Post: true, login: true})
	if err != nil {
		return err
	}

	result, err := resp.GetString("login", "result")
	if err != nil {
		return fmt.Errorf("unexpected login response: %w", err)
	}
	if result != "Success" {
		reason, _ := resp.GetString("login", "reason")
		return &LoginError{Result: result, Reason: reason}
	}

	name, _ := resp.GetString("login", "lgusername")
	if name == "" {
		name = username
	}
	w.username = name
	w.Tokens.Invalidate(CSRFToken)
	w.log.Info().Str("user", name).Msg("logged in")
	return nil
}

// autoLogin logs in with the configured credentials before a write. Any
// failure is fatal.
func (w *Client) autoLogin() error {
	if w.cfg.Username == "" {
		return w.check(&FatalError{Err: ErrNoCredentials})
	}
	err := w.Login(w.cfg.Username, w.cfg.Password)
	if err != nil && !IsFatal(err) {
		err = &FatalError{Err: fmt.Errorf("automatic login: %w", err)}
	}
	return w.check(err)
}

// Logout ends the session and forgets the user name, tokens and cookies.
func (w *Client) Logout() error {
	if w.halted != nil {
		return w.halted
	}
	if w.username != "" {
		token, err := w.GetToken(CSRFToken)
		if err != nil {
			return err
		}
		_, err = w.Call(params.Args{"action": "logout", "token": token}, CallOptions{Post: true})
		if err != nil {
			return err
		}
		w.log.Info().Str("user", w.username).Msg("logged out")
	}
	w.username = ""
	w.Tokens.Clear()
	w.exec.Jar().Clear()
	return nil
}
