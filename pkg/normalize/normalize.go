package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// lineEndings rewrites CRLF and lone CR to LF
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Text canonicalizes post content so every party compares identical bytes.
// It applies NFC composition, unifies line endings, collapses whitespace runs
// to a single space and trims the result.
func Text(s string) string {
	s = norm.NFC.String(s)
	s = lineEndings.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Author canonicalizes an author handle: trimmed and lower-cased.
func Author(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
