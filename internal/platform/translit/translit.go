// Package translit reduces text to ASCII for SMS transport.
package translit

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters and punctuation that do not decompose into an ASCII base.
var replacements = map[rune]string{
	'ß': "ss", 'Æ': "AE", 'æ': "ae", 'Ø': "O", 'ø': "o",
	'Œ': "OE", 'œ': "oe", 'Ł': "L", 'ł': "l", 'Đ': "D", 'đ': "d",
	'Þ': "Th", 'þ': "th", 'Ð': "D", 'ð': "d", 'ı': "i",
	'‘': "'", '’': "'", '‚': "'", '“': "\"", '”': "\"", '„': "\"",
	'–': "-", '—': "-", '…': "...", '•': "*", '€': "EUR", '£': "GBP",
	'₦': "N", '×': "x",
}

// ASCII strips diacritics and replaces the remaining non-ASCII runes with
// their closest ASCII spelling, or "?" when there is none.
func ASCII(s string) string {
	if isASCII(s) {
		return s
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r <= unicode.MaxASCII:
			b.WriteRune(r)
		case replacements[r] != "":
			b.WriteString(replacements[r])
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
