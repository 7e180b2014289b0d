package client

import (
	"mime"
	"net/http"
	"sort"
	"strings"
)

// MethodSet is the set of HTTP methods advertised by an Allow header.
type MethodSet map[string]struct{}

// ParseAllow splits one or more Allow header values into a MethodSet.
// Method names are upper-cased and blanks dropped.
func ParseAllow(values []string) MethodSet {
	set := MethodSet{}
	for _, value := range values {
		for _, method := range strings.Split(value, ",") {
			method = strings.ToUpper(strings.TrimSpace(method))
			if method != "" {
				set[method] = struct{}{}
			}
		}
	}
	return set
}

// Contains reports whether method is allowed.
func (s MethodSet) Contains(method string) bool {
	_, ok := s[strings.ToUpper(method)]
	return ok
}

// ContainsAll reports whether every method is allowed.
func (s MethodSet) ContainsAll(methods ...string) bool {
	for _, method := range methods {
		if !s.Contains(method) {
			return false
		}
	}
	return true
}

// Methods returns the allowed methods in lexical order.
func (s MethodSet) Methods() []string {
	out := make([]string, 0, len(s))
	for method := range s {
		out = append(out, method)
	}
	sort.Strings(out)
	return out
}

// ContentTypeIncludes reports whether the Content-Type header names mediaType,
// ignoring parameters such as charset.
func ContentTypeIncludes(header http.Header, mediaType string) bool {
	raw := header.Get("Content-Type")
	if raw == "" {
		return false
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed, mediaType)
}

// HeaderContains reports whether any value of header name equals value. Comma
// separated values are split first.
func HeaderContains(header http.Header, name, value string) bool {
	for _, raw := range header.Values(name) {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == value {
				return true
			}
		}
	}
	return false
}
