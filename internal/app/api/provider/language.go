package provider

import "strings"

var languageCodes = map[string]string{
	"japanese": "ja",
	"english":  "en",
	"chinese":  "zh",
	"korean":   "ko",
	"french":   "fr",
	"german":   "de",
	"spanish":  "es",
}

// LanguageCode converts a decoder language name ("japanese") into the ISO
// code ("ja") that CLI and HTTP backends expect. Codes pass through.
func LanguageCode(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	return l
}
