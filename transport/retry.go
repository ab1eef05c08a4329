package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Doer executes one request. *Executor is the production Doer.
type Doer interface {
	Execute(req *Request) (*Response, error)
}

// RetryPolicy re-issues requests that failed transiently: transient
// transport errors and 5xx responses. Waits grow linearly with the number
// of retries consumed over the lifetime of the policy, and the counter is
// never reset, not even after a success. Once MaxRetries is reached the
// policy halts for good.
//
// A RetryPolicy is not safe for concurrent use.
type RetryPolicy struct {
	next Doer
	log  zerolog.Logger

	maxRetries int
	base, step time.Duration
	sleep      func(time.Duration)

	retries int
	halted  *FatalError
}

// NewRetryPolicy wraps next. Only the retry and Sleep fields of cfg are
// used; zero fields take their defaults.
func NewRetryPolicy(next Doer, cfg Config, logger zerolog.Logger) *RetryPolicy {
	cfg = cfg.withDefaults()
	return &RetryPolicy{
		next:       next,
		log:        logger,
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBase,
		step:       cfg.RetryStep,
		sleep:      cfg.Sleep,
	}
}

// Retries returns the number of retries consumed so far.
func (p *RetryPolicy) Retries() int {
	return p.retries
}

// Halted returns the FatalError that stopped the policy, or nil.
func (p *RetryPolicy) Halted() error {
	if p.halted == nil {
		return nil
	}
	return p.halted
}

// Delay returns the wait before the next retry.
func (p *RetryPolicy) Delay() time.Duration {
	return p.base + time.Duration(p.retries)*p.step
}

// Do executes req, retrying it while it fails transiently.
//
// A 2xx response is returned as is. Any other response that is not
// retried yields a *NotOKError. Protocol errors and permanent transport
// errors are returned unretried. When the retry budget runs out Do
// returns a *FatalError wrapping ErrRetriesExhausted.
func (p *RetryPolicy) Do(req *Request) (*Response, error) {
	for {
		if p.halted != nil {
			return nil, p.halted
		}

		resp, err := p.next.Execute(req)
		var reason string
		switch {
		case err != nil:
			var te *TransportError
			if !errors.As(err, &te) || !te.Transient {
				return nil, err
			}
			reason = te.Error()
		case resp.Status.IsServerError():
			reason = "server error " + resp.Status.String()
		case resp.Status.IsSuccess():
			return resp, nil
		default:
			return nil, &NotOKError{Status: resp.Status, Body: resp.Body}
		}

		if err := p.Backoff(reason, 0); err != nil {
			return nil, err
		}
	}
}

// Backoff consumes one retry and waits before the caller retries. The
// wait is the policy delay or atLeast, whichever is longer. It returns a
// *FatalError instead of waiting when the budget is exhausted.
func (p *RetryPolicy) Backoff(reason string, atLeast time.Duration) error {
	if p.halted != nil {
		return p.halted
	}
	delay := p.Delay()
	if atLeast > delay {
		delay = atLeast
	}
	p.retries++
	if p.retries >= p.maxRetries {
		p.halted = &FatalError{Err: fmt.Errorf("%w after %d attempts, last failure: %s",
			ErrRetriesExhausted, p.retries, reason)}
		p.log.Error().Err(p.halted).Msg("giving up")
		return p.halted
	}
	p.log.Warn().
		Str("reason", reason).
		Int("retry", p.retries).
		Int("max_retries", p.maxRetries).
		Dur("wait", delay).
		Msg("retrying request")
	p.sleep(delay)
	return nil
}
