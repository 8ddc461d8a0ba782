package hashtag

import (
	"strings"
	"unicode"

	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// countryTag names the country the alert system covers.
const countryTag = "#Sweden"

var levelTags = map[string]struct{ exercise, test string }{
	"sv": {exercise: "#Övning", test: "#Test"},
	"en": {exercise: "#Exercise", test: "#Test"},
}

// Generate creates formatted hashtag text for a triggered incident.
//
// Order of hashtags:
// 1. Alert level (#VMA, then #Övning or #Test for non-actual alerts)
// 2. Severity
// 3. Areas (up to 3)
// 4. Country
//
// Returns formatted string (e.g., "🏷️ #VMA, #Severe, #StockholmsLän, #Sweden")
func Generate(event target.Triggered, locale string) string {
	allTags := extractLevelTags(event, locale)

	if severity := strings.TrimSpace(event.Severity); severity != "" && !strings.EqualFold(severity, "Unknown") {
		allTags = append(allTags, "#"+camelCase(severity))
	}

	allTags = append(allTags, extractAreaTags(event.Area)...)
	allTags = append(allTags, countryTag)

	return formatHashtagText(deduplicateTags(allTags))
}

func extractLevelTags(event target.Triggered, locale string) []string {
	tags := []string{"#VMA"}
	level := levelTags[vma.Language(locale)]

	if event.Exercise {
		tags = append(tags, level.exercise)
	}
	if event.Test {
		tags = append(tags, level.test)
	}
	return tags
}

// deduplicateTags removes duplicate tags (case-insensitive) while preserving order.
func deduplicateTags(tags []string) []string {
	seen := make(map[string]bool)
	var uniqueTags []string

	for _, tag := range tags {
		if tag == "" || tag == "#" {
			continue
		}
		tagLower := strings.ToLower(tag)
		if !seen[tagLower] {
			uniqueTags = append(uniqueTags, tag)
			seen[tagLower] = true
		}
	}

	return uniqueTags
}

// formatHashtagText formats hashtags as comma-separated text with emoji prefix.
func formatHashtagText(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	return "🏷️ " + strings.Join(tags, ", ")
}

// camelCase capitalizes the first letter of each word and drops everything that cannot be
// part of a hashtag.
func camelCase(text string) string {
	var result strings.Builder

	for _, word := range strings.FieldsFunc(text, isSeparator) {
		runes := []rune(word)
		result.WriteRune(unicode.ToUpper(runes[0]))
		for _, r := range runes[1:] {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				result.WriteRune(r)
			}
		}
	}

	return result.String()
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
