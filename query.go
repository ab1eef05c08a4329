package mwapi

import (
	"fmt"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-mwapi/params"
)

// Query provides a simple interface to deal with query continuations.
//
// A Query should be instantiated through the NewQuery or NewContinuation
// methods on the Client type. Call Next to retrieve each page of results.
// If Next returns false, then either all the results have been received
// or an error occurred, in which case it is available through Err.
// If Next returns true, a new page is available through Resp.
//
// The following example retrieves all the pages in the category "Soap":
//
//	q := w.NewQuery(params.Args{
//		"list":    "categorymembers",
//		"cmtitle": "Category:Soap",
//	})
//	for q.Next() {
//		fmt.Println(q.Resp())
//	}
//	if q.Err() != nil {
//		// handle the error
//	}
//
// The continuation object returned by the server is sent back verbatim,
// its contents are never interpreted. A Query cannot be restarted.
// See https://www.mediawiki.org/wiki/API:Continue.
type Query struct {
	w    *Client
	opts CallOptions

	base params.Args
	cont map[string]*jason.Value

	resp  *jason.Object
	err   error
	pages int
	done  bool
}

// NewQuery instantiates a new query with the given parameters.
// Automatically sets action=query and continue= unless they are present.
func (w *Client) NewQuery(p params.Args) *Query {
	p = p.Clone()
	if _, ok := p["action"]; !ok {
		p["action"] = "query"
	}
	if _, ok := p["continue"]; !ok {
		p["continue"] = ""
	}
	return w.NewContinuation(p, CallOptions{})
}

// NewContinuation instantiates an iterator over any module whose
// responses carry a top-level continue object.
func (w *Client) NewContinuation(p params.Args, opts CallOptions) *Query {
	return &Query{w: w, opts: opts, base: p.Clone()}
}

// Err returns the error that ended the sequence, if any.
func (q *Query) Err() error {
	return q.err
}

// Resp returns the API response retrieved by the last call to Next.
func (q *Query) Resp() *jason.Object {
	return q.resp
}

// Pages returns the number of pages retrieved so far.
func (q *Query) Pages() int {
	return q.pages
}

// Next retrieves the next set of results from the API and makes them
// available through Resp. Next returns true if a new page is available,
// false if there are no more results or an error occurred.
func (q *Query) Next() bool {
	if q.done {
		return false
	}

	p := q.base.Clone()
	for k, v := range q.cont {
		s, err := continueValue(v)
		if err != nil {
			return q.fail(fmt.Errorf("continuation parameter %s: %w", k, err))
		}
		p[k] = s
	}

	resp, err := q.w.Call(p, q.opts)
	if err != nil {
		return q.fail(err)
	}
	q.resp = resp
	q.pages++

	cont, err := resp.GetObject("continue")
	if err != nil {
		q.done = true
		q.cont = nil
	} else {
		q.cont = cont.Map()
	}
	return true
}

func (q *Query) fail(err error) bool {
	q.err = err
	q.resp = nil
	q.done = true
	return false
}

// continueValue renders one continuation value the way the server sent
// it. Numbers keep their exact textual form.
func continueValue(v *jason.Value) (string, error) {
	if s, err := v.String(); err == nil {
		return s, nil
	}
	if n, err := v.Number(); err == nil {
		return n.String(), nil
	}
	if b, err := v.Boolean(); err == nil && b {
		return "", nil
	}
	raw, _ := v.Marshal()
	return "", fmt.Errorf("unsupported value %s", raw)
}
