package mwapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"cgt.name/pkg/go-mwapi/params"
)

// Edit takes a params.Args containing parameters for an edit action and
// attempts to perform the edit. Edit will return nil if no errors are
// detected. The parameters should be taken from
// https://www.mediawiki.org/wiki/API:Edit#Parameters.
//
// Edit sets action=edit and, unless p carries one, the csrf token. It
// logs in first if necessary. Edit does not check p for sanity.
//
//	err := w.Edit(params.Args{
//		"pageid":   709377,
//		"text":     "Complete new text for page",
//		"summary":  "Take that, page!",
//		"notminor": true,
//	})
func (w *Client) Edit(p params.Args) error {
	p = p.Clone()
	p["action"] = "edit"

	resp, err := w.Write(p)
	if err != nil {
		return err
	}

	edit, err := resp.GetObject("edit")
	if err != nil {
		return fmt.Errorf("unexpected edit response: %w", err)
	}
	result, err := edit.GetString("result")
	if err != nil {
		return fmt.Errorf("unexpected edit response: %w", err)
	}
	if result == "Success" {
		return nil
	}

	if captcha, err := edit.GetObject("captcha"); err == nil {
		raw, err := captcha.Marshal()
		if err != nil {
			return fmt.Errorf("error occurred while creating error message: %w", err)
		}
		var captchaErr CaptchaError
		if err := json.Unmarshal(raw, &captchaErr); err != nil {
			return fmt.Errorf("error occurred while creating error message: %w", err)
		}
		return captchaErr
	}

	return fmt.Errorf("unrecognized edit response: %v", edit)
}

// BriefRevision contains the content and the timestamp of the latest
// revision of a page. Error is set when the page could not be retrieved.
type BriefRevision struct {
	Content   string
	Timestamp string
	PageID    int
	Error     error
}

type getPagesResponse struct {
	Query struct {
		Normalized []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"normalized"`
		Pages []struct {
			PageID    int    `json:"pageid"`
			Title     string `json:"title"`
			Missing   bool   `json:"missing"`
			Invalid   bool   `json:"invalid"`
			Revisions []struct {
				Timestamp string `json:"timestamp"`
				Slots     struct {
					Main struct {
						Content string `json:"content"`
					} `json:"main"`
				} `json:"slots"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

// handleGetPages maps the pages of resp back to the requested titles
// (or page IDs rendered as strings). Pages missing from the response or
// reported missing carry an *APIError of kind KindMissingTitle.
func handleGetPages(requested []string, byID bool, resp getPagesResponse) (map[string]BriefRevision, error) {
	normalized := make(map[string]string)
	for _, n := range resp.Query.Normalized {
		normalized[n.From] = n.To
	}

	found := make(map[string]BriefRevision, len(resp.Query.Pages))
	for _, page := range resp.Query.Pages {
		key := page.Title
		if byID {
			key = strconv.Itoa(page.PageID)
		}
		switch {
		case page.Missing || page.Invalid:
			found[key] = BriefRevision{PageID: page.PageID, Error: &APIError{
				Kind: KindMissingTitle,
				Code: "missingtitle",
				Info: "page does not exist: " + page.Title,
			}}
		case len(page.Revisions) == 0:
			found[key] = BriefRevision{PageID: page.PageID, Error: fmt.Errorf("no revisions returned for %s", page.Title)}
		default:
			rv := page.Revisions[0]
			found[key] = BriefRevision{
				Content:   rv.Slots.Main.Content,
				Timestamp: rv.Timestamp,
				PageID:    page.PageID,
			}
		}
	}

	pages := make(map[string]BriefRevision, len(requested))
	var failed []string
	for _, name := range requested {
		key := name
		if to, ok := normalized[name]; ok && !byID {
			key = to
		}
		page, ok := found[key]
		if !ok {
			page.Error = &APIError{Kind: KindMissingTitle, Code: "missingtitle", Info: "page not in response: " + name}
		}
		if page.Error != nil {
			failed = append(failed, name)
		}
		pages[name] = page
	}
	if len(failed) > 0 {
		return pages, fmt.Errorf("could not retrieve %d of %d pages: %s",
			len(failed), len(requested), strings.Join(failed, ", "))
	}
	return pages, nil
}

func (w *Client) getPages(keys []string, byID bool) (map[string]BriefRevision, error) {
	p := params.Args{
		"action":  "query",
		"prop":    "revisions",
		"rvprop":  []string{"content", "timestamp"},
		"rvslots": "main",
	}
	if byID {
		p["pageids"] = keys
	} else {
		p["titles"] = keys
	}

	body, _, err := w.call(p, CallOptions{})
	if err != nil {
		return nil, err
	}
	var resp getPagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding pages: %w", err)
	}
	return handleGetPages(keys, byID, resp)
}

// GetPagesByName gets the contents and timestamps of the latest
// revisions of the pages with the given titles. The returned map is keyed
// by the requested titles. If any page could not be retrieved an error is
// returned along with the map, and the page's BriefRevision.Error says
// why.
func (w *Client) GetPagesByName(titles ...string) (map[string]BriefRevision, error) {
	return w.getPages(titles, false)
}

// GetPagesByID is like GetPagesByName but takes page IDs.
func (w *Client) GetPagesByID(ids ...string) (map[string]BriefRevision, error) {
	return w.getPages(ids, true)
}

// GetPageByName gets the content of a page (specified by its name) and
// the timestamp of its most recent revision.
func (w *Client) GetPageByName(name string) (content, timestamp string, err error) {
	return w.getPage(name, false)
}

// GetPageByID gets the content of a page (specified by its id) and the
// timestamp of its most recent revision.
func (w *Client) GetPageByID(id string) (content, timestamp string, err error) {
	return w.getPage(id, true)
}

func (w *Client) getPage(key string, byID bool) (string, string, error) {
	pages, err := w.getPages([]string{key}, byID)
	if pages == nil {
		return "", "", err
	}
	page := pages[key]
	if page.Error != nil {
		return "", "", page.Error
	}
	return page.Content, page.Timestamp, nil
}
