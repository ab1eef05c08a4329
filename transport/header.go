package transport

import "strings"

// Header is a header multimap. Names are stored lower-cased, so lookups
// are case-insensitive. Values of a repeated name keep their order.
type Header map[string][]string

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add appends value to the values of name.
func (h Header) Add(name, value string) {
	k := canonical(name)
	h[k] = append(h[k], value)
}

// Set replaces the values of name with value.
func (h Header) Set(name, value string) {
	h[canonical(name)] = []string{value}
}

// Get returns the first value of name, or "".
func (h Header) Get(name string) string {
	vs := h[canonical(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values of name.
func (h Header) Values(name string) []string {
	return h[canonical(name)]
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	_, ok := h[canonical(name)]
	return ok
}

// Del removes name.
func (h Header) Del(name string) {
	delete(h, canonical(name))
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	c := make(Header, len(h))
	for k, vs := range h {
		c[k] = append([]string(nil), vs...)
	}
	return c
}
