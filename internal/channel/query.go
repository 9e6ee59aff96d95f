package channel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// stringFlags are the leading query flags that select the string accessor.
var stringFlags = map[string]bool{
	"string": true,
	"text":   true,
	"str":    true,
}

// Query holds the arguments of a channel URL query, e.g. "string&anum=0"
// becomes Args ["string"] and Kwargs {"anum": "0"}.
type Query struct {
	Args   []string
	Kwargs map[string]string
}

// ParseQuery parses a '&' separated list of flags and key=value pairs.
// Empty tokens are ignored.
func ParseQuery(raw string) (Query, error) {
	q := Query{}
	if raw == "" {
		return q, nil
	}

	for _, token := range strings.Split(raw, "&") {
		if token == "" {
			continue
		}

		key, val, hasEq := strings.Cut(token, "=")
		if !hasEq {
			q.Args = append(q.Args, token)
			continue
		}

		if key == "" || val == "" || strings.Contains(val, "=") {
			return Query{}, fmt.Errorf("%w: bad token %q", ErrMalformedQuery, token)
		}

		if q.Kwargs == nil {
			q.Kwargs = make(map[string]string)
		}
		q.Kwargs[key] = val
	}

	return q, nil
}

// IsEmpty reports whether the query has neither flags nor key=value pairs.
func (q Query) IsEmpty() bool {
	return len(q.Args) == 0 && len(q.Kwargs) == 0
}

// WantsString reports whether the first flag selects the string accessor.
func (q Query) WantsString() bool {
	return len(q.Args) > 0 && stringFlags[q.Args[0]]
}

// WithoutStringFlag returns the query minus a leading string flag.
func (q Query) WithoutStringFlag() Query {
	if !q.WantsString() {
		return q
	}
	return Query{Args: q.Args[1:], Kwargs: q.Kwargs}
}

// Get returns the value of a key=value argument.
func (q Query) Get(key string) (string, bool) {
	v, ok := q.Kwargs[key]
	return v, ok
}

// Has reports whether a bare flag is present.
func (q Query) Has(flag string) bool {
	for _, a := range q.Args {
		if a == flag {
			return true
		}
	}
	return false
}

// Int returns a key=value argument parsed as an integer. A value that is
// present but not an integer is reported as ErrBadIndex.
func (q Query) Int(key string) (int, bool, error) {
	v, ok := q.Kwargs[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s=%q is not an integer", ErrBadIndex, key, v)
	}
	return n, true, nil
}

// With returns a copy of the query with key set to value.
func (q Query) With(key, value string) Query {
	kw := make(map[string]string, len(q.Kwargs)+1)
	for k, v := range q.Kwargs {
		kw[k] = v
	}
	kw[key] = value
	return Query{Args: q.Args, Kwargs: kw}
}

// Without returns a copy of the query with key removed.
func (q Query) Without(key string) Query {
	if _, ok := q.Kwargs[key]; !ok {
		return q
	}
	kw := make(map[string]string, len(q.Kwargs))
	for k, v := range q.Kwargs {
		if k != key {
			kw[k] = v
		}
	}
	return Query{Args: q.Args, Kwargs: kw}
}

// String renders the query in canonical form: flags in order, then
// key=value pairs sorted by key.
func (q Query) String() string {
	parts := append([]string(nil), q.Args...)

	keys := make([]string, 0, len(q.Kwargs))
	for k := range q.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+q.Kwargs[k])
	}

	return strings.Join(parts, "&")
}
