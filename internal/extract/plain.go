package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as a string with a leading UTF-8 BOM removed
// and invalid sequences replaced by U+FFFD.
func extractPlain(content []byte) (string, error) {
	s := strings.TrimPrefix(string(content), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	return s, nil
}
