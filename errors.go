package mwapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-mwapi/transport"
)

// ErrorKind classifies the error codes returned by the API. Codes that
// callers are not expected to handle individually map to KindOther.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindBadToken
	KindMaxlag
	KindArticleExists
	KindMissingTitle
	KindProtectedPage
	KindReadOnly
)

var kindNames = map[ErrorKind]string{
	KindOther:         "other",
	KindBadToken:      "badtoken",
	KindMaxlag:        "maxlag",
	KindArticleExists: "articleexists",
	KindMissingTitle:  "missingtitle",
	KindProtectedPage: "protectedpage",
	KindReadOnly:      "readonly",
}

func (k ErrorKind) String() string {
	return kindNames[k]
}

var errorKinds = map[string]ErrorKind{
	"badtoken":      KindBadToken,
	"notoken":       KindBadToken,
	"maxlag":        KindMaxlag,
	"articleexists": KindArticleExists,
	"missingtitle":  KindMissingTitle,
	"protectedpage": KindProtectedPage,
	"readonly":      KindReadOnly,
}

// APIError represents an error object returned by the API, described by
// an error code and a string containing information about the error.
type APIError struct {
	Kind ErrorKind
	Code string
	Info string
}

func newAPIError(code, info string) *APIError {
	kind, ok := errorKinds[code]
	if !ok {
		kind = KindOther
	}
	return &APIError{Kind: kind, Code: code, Info: info}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Info)
}

// Is matches the Err* sentinels of this package by kind, so that
// errors.Is(err, ErrProtectedPage) holds for any protectedpage error.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok || t.Code != "" {
		return false
	}
	return t.Kind == e.Kind && e.Kind != KindOther
}

// Sentinels for the error kinds callers commonly handle. Use errors.Is.
var (
	ErrBadToken      error = &APIError{Kind: KindBadToken, Info: "invalid or missing token"}
	ErrArticleExists error = &APIError{Kind: KindArticleExists, Info: "page already exists"}
	ErrMissingTitle  error = &APIError{Kind: KindMissingTitle, Info: "page does not exist"}
	ErrProtectedPage error = &APIError{Kind: KindProtectedPage, Info: "page is protected"}
	ErrReadOnly      error = &APIError{Kind: KindReadOnly, Info: "wiki is in read-only mode"}
)

var (
	// ErrUnknownTokenKind is returned when a token kind outside the known
	// set is requested.
	ErrUnknownTokenKind = errors.New("unknown token kind")
	// ErrNoCredentials is wrapped by the FatalError returned when a write
	// needs a login but the client has no credentials.
	ErrNoCredentials = errors.New("write requires login but no credentials are configured")
	// ErrRetriesExhausted is wrapped when the retry budget is used up.
	ErrRetriesExhausted = transport.ErrRetriesExhausted
	// ErrTokenMissing is wrapped when the server withholds a token.
	ErrTokenMissing = transport.ErrTokenMissing
)

// FatalError is returned once the client can make no further progress.
// After it has been returned, every call on the same Client returns it.
type FatalError = transport.FatalError

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	return transport.IsFatal(err)
}

// LoginError is returned when the server rejects a login attempt.
type LoginError struct {
	Result string
	Reason string
}

func (e *LoginError) Error() string {
	if e.Reason == "" {
		return "login failed: " + e.Result
	}
	return fmt.Sprintf("login failed: %s: %s", e.Result, e.Reason)
}

// APIWarning represents a warning returned by the API, described by the
// name of the module it originates from and a string with the warning.
type APIWarning struct {
	Module, Info string
}

func (w APIWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Module, w.Info)
}

// CaptchaError is returned by Edit when the API requires solving a
// CAPTCHA before the edit is accepted. Image captchas carry a URL, math
// and question captchas carry a Question.
type CaptchaError struct {
	Type     string `json:"type"`
	Mime     string `json:"mime"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	Question string `json:"question"`
}

func (e CaptchaError) Error() string {
	if e.Question != "" {
		return fmt.Sprintf("API requires solving a CAPTCHA of type %s with ID %s: %s", e.Type, e.ID, e.Question)
	}
	return fmt.Sprintf("API requires solving a CAPTCHA of type %s (%s) with ID %s at URL %s", e.Type, e.Mime, e.ID, e.URL)
}

// extractAPIError returns the top-level error object of resp, if any.
func extractAPIError(resp *jason.Object) *APIError {
	obj, err := resp.GetObject("error")
	if err != nil {
		return nil
	}
	code, _ := obj.GetString("code")
	info, _ := obj.GetString("info")
	if info == "" {
		info, _ = obj.GetString("*")
	}
	return newAPIError(code, info)
}

// extractWarnings returns the top-level warnings of resp, sorted by
// module. Multiple warnings in one module are separated by newlines.
func extractWarnings(resp *jason.Object) []APIWarning {
	obj, err := resp.GetObject("warnings")
	if err != nil {
		return nil
	}
	m := obj.Map()
	modules := make([]string, 0, len(m))
	for k := range m {
		modules = append(modules, k)
	}
	sort.Strings(modules)

	var warnings []APIWarning
	for _, module := range modules {
		w, err := m[module].Object()
		if err != nil {
			continue
		}
		text, err := w.GetString("warnings")
		if err != nil {
			if text, err = w.GetString("*"); err != nil {
				continue
			}
		}
		for _, line := range strings.Split(text, "\n") {
			if line != "" {
				warnings = append(warnings, APIWarning{Module: module, Info: line})
			}
		}
	}
	return warnings
}
