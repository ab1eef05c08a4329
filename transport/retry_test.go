package transport

import (
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	code int
	err  error
}

// scriptedDoer replays steps, repeating the last one forever.
type scriptedDoer struct {
	steps []step
	calls int
}

func (d *scriptedDoer) Execute(req *Request) (*Response, error) {
	s := d.steps[len(d.steps)-1]
	if d.calls < len(d.steps) {
		s = d.steps[d.calls]
	}
	d.calls++
	if s.err != nil {
		return nil, s.err
	}
	st, _ := ParseStatus("HTTP/1.1 " + strconv.Itoa(s.code) + " X")
	return &Response{Status: st, Header: Header{}, Body: []byte("body")}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) { s.waits = append(s.waits, d) }

func newTestPolicy(d Doer, rec *sleepRecorder) *RetryPolicy {
	cfg := DefaultConfig()
	cfg.Sleep = rec.sleep
	return NewRetryPolicy(d, cfg, zerolog.Nop())
}

func TestRetryServerErrorsThenSuccess(t *testing.T) {
	doer := &scriptedDoer{steps: []step{{code: 500}, {code: 502}, {code: 503}, {code: 200}}}
	rec := &sleepRecorder{}
	p := newTestPolicy(doer, rec)

	resp, err := p.Do(&Request{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status.Code)
	assert.Equal(t, 4, doer.calls)

	require.Len(t, rec.waits, 3)
	assert.Equal(t, DefaultRetryBase, rec.waits[0])
	for i := 1; i < len(rec.waits); i++ {
		assert.Greater(t, rec.waits[i], rec.waits[i-1])
	}
	assert.Equal(t, DefaultRetryBase+2*DefaultRetryStep, rec.waits[2])
}

func TestRetryAlwaysFailingHaltsAtBudget(t *testing.T) {
	doer := &scriptedDoer{steps: []step{{code: 503}}}
	rec := &sleepRecorder{}
	p := newTestPolicy(doer, rec)

	_, err := p.Do(&Request{Method: "GET"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, DefaultMaxRetries, doer.calls)

	// halted for good: no further attempts are made
	_, err = p.Do(&Request{Method: "GET"})
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, DefaultMaxRetries, doer.calls)
	assert.Error(t, p.Halted())
}

func TestRetryBudgetSharedAcrossRequests(t *testing.T) {
	doer := &scriptedDoer{steps: []step{{code: 500}, {code: 200}, {code: 500}, {code: 200}}}
	rec := &sleepRecorder{}
	p := newTestPolicy(doer, rec)

	_, err := p.Do(&Request{Method: "GET"})
	require.NoError(t, err)
	_, err = p.Do(&Request{Method: "GET"})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Retries())
	require.Len(t, rec.waits, 2)
	assert.Greater(t, rec.waits[1], rec.waits[0], "delay is not reset after a success")
}

func TestRetryClientErrorNotRetried(t *testing.T) {
	doer := &scriptedDoer{steps: []step{{code: 404}}}
	rec := &sleepRecorder{}
	p := newTestPolicy(doer, rec)

	_, err := p.Do(&Request{Method: "GET"})
	var notOK *NotOKError
	require.True(t, errors.As(err, &notOK))
	assert.Equal(t, 404, notOK.Status.Code)
	assert.Equal(t, 1, doer.calls)
	assert.Empty(t, rec.waits)
}

func TestRetryTransportErrors(t *testing.T) {
	transientErr := &TransportError{Kind: KindNetwork, Message: "reset", Transient: true, Err: io.ErrUnexpectedEOF}
	slowErr := &TransportError{Kind: KindTooSlow, Message: "slow", Transient: true, Err: ErrTooSlow}
	doer := &scriptedDoer{steps: []step{{err: transientErr}, {err: slowErr}, {code: 200}}}
	rec := &sleepRecorder{}
	p := newTestPolicy(doer, rec)

	resp, err := p.Do(&Request{Method: "POST"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status.Code)
	assert.Equal(t, 3, doer.calls)
}

func TestRetryPermanentErrors(t *testing.T) {
	for _, perm := range []error{
		&TransportError{Kind: KindNetwork, Message: "bad cert", Transient: false},
		&ProtocolError{Message: "no status line"},
	} {
		doer := &scriptedDoer{steps: []step{{err: perm}}}
		p := newTestPolicy(doer, &sleepRecorder{})
		_, err := p.Do(&Request{Method: "GET"})
		assert.Equal(t, perm, err)
		assert.Equal(t, 1, doer.calls)
		assert.Equal(t, 0, p.Retries())
	}
}

func TestBackoffAtLeast(t *testing.T) {
	rec := &sleepRecorder{}
	p := newTestPolicy(&scriptedDoer{steps: []step{{code: 200}}}, rec)

	require.NoError(t, p.Backoff("maxlag", time.Minute))
	require.NoError(t, p.Backoff("maxlag", time.Second))
	assert.Equal(t, []time.Duration{time.Minute, DefaultRetryBase + DefaultRetryStep}, rec.waits)
	assert.Equal(t, 2, p.Retries())
}
