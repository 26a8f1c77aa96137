package driver

import "strings"

// QuoteIdentifier quotes every dot separated part of name with q, doubling
// q inside a part. A "*" part is left alone.
func QuoteIdentifier(name string, q string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		p = strings.TrimPrefix(strings.TrimSuffix(p, q), q)
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// EscapeQuotes doubles single quotes, which is the standard SQL escape.
func EscapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// UnescapeQuotes reverses EscapeQuotes.
func UnescapeQuotes(s string) string {
	return strings.ReplaceAll(s, "''", "'")
}
