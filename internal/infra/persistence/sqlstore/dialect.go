package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Name string
	// DDL returns the schema script applied when the store opens.
	DDL func() string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
	// IsUniqueViolation reports whether err is a primary-key collision,
	// which means a concurrent writer claimed the version first.
	IsUniqueViolation func(err error) bool
}

// Rebind rewrites the "?" placeholders of query for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
