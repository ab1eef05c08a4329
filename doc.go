/*
Package mwapi provides functionality for interacting with the MediaWiki API.

go-mwapi is intended for users who are already familiar with (or are
willing to learn) the MediaWiki API. It is intended to make dealing with
the API more convenient, but not to hide it. It uses version 2 of the
MW JSON format.

# Basic usage

	// Initialize a *Client with New(), specifying the wiki's API URL
	// and your HTTP User-Agent. Try to use a meaningful User-Agent.
	w, err := mwapi.New("https://en.wikipedia.org/w/api.php", "myWikibot")
	if err != nil {
		panic(err) // Malformed URL
	}

	resp, err := w.Get(params.Args{
		"action": "query",
		"list":   "recentchanges",
		"rcprop": []string{"title", "timestamp"},
	})
	if err != nil {
		panic(err)
	}

If you wish to make requests to multiple MediaWiki sites, you must create
a Client for each of them. A Client talks to the server over one
persistent connection and is not safe for concurrent use.

Call is the single entry point for requests. Get, Post, Write, Upload,
GetRaw and PostRaw are shorthands for it. Login, Edit, GetToken and the
page getters are implemented on top of the same interface.

# params.Args

Requests take a params.Args, a map[string]interface{}. Values are
normalized before they are sent: nil and false are dropped, true becomes
the empty string (a present flag), numbers and times are formatted
canonically and lists are deduplicated, sorted and joined with pipes, so
equal calls always produce identical (cacheable) requests.

# Continuation

NewQuery returns a Query, which follows the API's continue protocol and
yields one response page per call to Next. See
https://www.mediawiki.org/wiki/API:Continue.

# Error handling

If the API returns an error object, Call returns an *APIError. The
common codes are matched with errors.Is against ErrBadToken,
ErrArticleExists, ErrMissingTitle, ErrProtectedPage and ErrReadOnly.
Warnings are logged, not returned.

Transient failures (network errors, 5xx responses, stalled transfers
and database lag reported through maxlag) are retried with a linearly
growing delay. The retry budget is shared by all requests of a Client.
When it is used up, or when something else makes further progress
impossible (a failed automatic login, a token the server will not hand
out), a *FatalError is returned and the Client is halted: every later
call returns the same error. Use IsFatal to detect this.

For more information about API errors and warnings, please see
https://www.mediawiki.org/wiki/API:Errors_and_warnings.
*/
package mwapi // import "cgt.name/pkg/go-mwapi"
