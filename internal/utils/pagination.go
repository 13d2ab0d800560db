// Package utils provides tiny helpers with no domain knowledge: query-string
// parsing and money formatting for notification payloads.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// malformed. Handlers use it for page and page_size query params, where a bad
// value means "use the default" rather than a 400.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
