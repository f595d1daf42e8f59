package document

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Slug builds the filename stem of a request from its key fields: joined
// with "_", lowercased, spaces turned into "_", and characters that are not
// safe in a filename replaced by "-". The result is at most MaxSlugBytes long.
func Slug(req Request) string {
	return slugify(strings.Join(req.SlugParts(), "_"))
}

// MaxSlugBytes leaves room for the timestamp and extension within the
// 255-byte filename limit of common filesystems.
const MaxSlugBytes = 100

func slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(truncate(b.String(), MaxSlugBytes), ".")
	if out == "" {
		return "document"
	}
	return out
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
