// Package lang maps the chat client's language labels to codes and native
// display names.
//
// The set is fixed: clients send one of the known labels and the relay
// works with the corresponding code from then on. Display names are the
// language's own name for itself, resolved through the CLDR data carried
// by golang.org/x/text.
package lang

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLabel is assumed when a client sends an unknown language label.
const DefaultLabel = "korean"

// Language describes one catalog entry.
type Language struct {
	Label       string
	Code        string
	Tag         language.Tag
	DisplayName string
}

var catalog = buildCatalog()

type catalogData struct {
	byLabel map[string]Language
	byCode  map[string]Language
}

func buildCatalog() catalogData {
	entries := []Language{
		{Label: "korean", Code: "ko", Tag: language.Korean},
		{Label: "english", Code: "en", Tag: language.English},
		{Label: "japanese", Code: "ja", Tag: language.Japanese},
		{Label: "traditional_chinese", Code: "zh-tw", Tag: language.TraditionalChinese},
	}

	data := catalogData{
		byLabel: make(map[string]Language, len(entries)),
		byCode:  make(map[string]Language, len(entries)),
	}
	for _, entry := range entries {
		entry.DisplayName = display.Self.Name(entry.Tag)
		data.byLabel[entry.Label] = entry
		data.byCode[entry.Code] = entry
	}
	return data
}

// FromLabel resolves a client-supplied label. Unknown labels resolve to the
// default language rather than failing, matching the relay's best-effort
// posture.
func FromLabel(label string) Language {
	if entry, ok := catalog.byLabel[label]; ok {
		return entry
	}
	return catalog.byLabel[DefaultLabel]
}

// DisplayNameForCode returns the native display name for a code, or the
// code itself when the code is not in the catalog.
func DisplayNameForCode(code string) string {
	if entry, ok := catalog.byCode[code]; ok {
		return entry.DisplayName
	}
	return code
}
