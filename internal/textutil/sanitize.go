package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"'", "",
	"<", "",
	">", "",
	"|", "",
)

const maxFolderNameLength = 120

// StripDiacritics folds accented letters to their base letter ("Müller" becomes
// "Muller"). Input that fails to transform is returned unchanged.
func StripDiacritics(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return out
}

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// SampleFolderName derives the data folder for a sample. Control characters
// are dropped, leading dots are removed so the folder is never hidden, and
// the result is capped in length. Empty input yields "sample".
func SampleFolderName(name string) string {
	cleaned := SanitizeFileName(StripDiacritics(name))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimLeft(cleaned, ". ")
	if len(cleaned) > maxFolderNameLength {
		cleaned = strings.TrimSpace(cleaned[:maxFolderNameLength])
		for !utf8.ValidString(cleaned) {
			cleaned = cleaned[:len(cleaned)-1]
		}
	}
	if cleaned == "" {
		return "sample"
	}
	return cleaned
}
