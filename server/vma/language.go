package vma

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is used when neither the plugin nor the server configures a locale.
const DefaultLocale = "sv"

var placeholders = map[string]string{
	"sv": "Viktigt meddelande till allmänheten",
	"en": "Important public announcement",
}

// BestInfo picks the info block to display for locale: an exact language match first, then
// Swedish, then whatever block comes first. It returns false if the alert has no info at all.
func BestInfo(infos []Info, locale string) (Info, bool) {
	if len(infos) == 0 {
		return Info{}, false
	}

	if want, ok := baseOf(locale); ok {
		for _, info := range infos {
			if got, ok := baseOf(info.Language); ok && got == want {
				return info, true
			}
		}
	}

	swedish, _ := language.Swedish.Base()
	for _, info := range infos {
		if got, ok := baseOf(info.Language); ok && got == swedish {
			return info, true
		}
	}

	return infos[0], true
}

// DisplayMessage returns the text shown for an info block: its description, else its event
// name, else a localized generic placeholder.
func DisplayMessage(info Info, locale string) string {
	if text := strings.TrimSpace(info.Description); text != "" {
		return text
	}
	if text := strings.TrimSpace(info.Event); text != "" {
		return text
	}
	return Placeholder(locale)
}

// Placeholder returns the generic announcement text for locale, falling back to Swedish.
func Placeholder(locale string) string {
	return placeholders[Language(locale)]
}

// Language returns the base language used for generated text: "en" for English locales and
// "sv" for everything else.
func Language(locale string) string {
	if base, ok := baseOf(locale); ok {
		if _, found := placeholders[base.String()]; found {
			return base.String()
		}
	}
	return DefaultLocale
}

func baseOf(tag string) (language.Base, bool) {
	if strings.TrimSpace(tag) == "" {
		return language.Base{}, false
	}
	t, err := language.Parse(tag)
	if err != nil {
		return language.Base{}, false
	}
	base, confidence := t.Base()
	if confidence == language.No {
		return language.Base{}, false
	}
	return base, true
}
