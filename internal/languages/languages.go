package languages

import (
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
}

// Offered in the subtitle upload form. Any other valid BCP-47 tag is
// still accepted.
var common = []string{
	"ar", "de", "en", "es", "es-419", "fr", "hi", "id", "it", "ja", "ko",
	"nl", "pl", "pt", "pt-BR", "ru", "sv", "th", "tr", "uk", "vi", "zh-Hans", "zh-Hant",
}

// Normalize parses a BCP-47 tag and returns its canonical form. The second
// result is false for malformed or unknown tags and for "und".
func Normalize(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return "", false
	}
	if display.English.Tags().Name(tag) == "" {
		return "", false
	}
	return tag.String(), true
}

func IsValid(code string) bool {
	_, ok := Normalize(code)
	return ok
}

// LanguageName returns the English display name of code, or "" when code
// is not a valid tag.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	return display.English.Tags().Name(tag)
}

// NativeName returns the name of the language in itself, e.g. "Deutsch".
func NativeName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	return display.Self.Name(tag)
}

func SubtitleLanguages() []Language {
	langs := make([]Language, 0, len(common))
	for _, code := range common {
		langs = append(langs, Language{Code: code, Name: LanguageName(code), NativeName: NativeName(code)})
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].Name < langs[j].Name })
	return langs
}
