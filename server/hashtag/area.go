package hashtag

import (
	"regexp"
	"strings"
)

// maxAreaTags limits how many areas of a wide alert get a tag
const maxAreaTags = 3

// areaSeparator splits area descriptions such as "Stockholms län, Uppsala län och Gotland".
var areaSeparator = regexp.MustCompile(`\s*(?:,|;|\s+och\s+|\s+and\s+)\s*`)

// extractAreaTags creates one CamelCase hashtag per area named in an area description.
//
// Examples:
//   - "Stockholms län" -> #StockholmsLän
//   - "Uppsala län och Gävleborgs län" -> #UppsalaLän, #GävleborgsLän
//   - "Hela Sverige" -> #HelaSverige
func extractAreaTags(areaDesc string) []string {
	var tags []string

	for _, area := range areaSeparator.Split(strings.TrimSpace(areaDesc), -1) {
		if len(tags) == maxAreaTags {
			break
		}
		tag := camelCase(area)
		if tag == "" || isNumeric(tag) {
			continue
		}
		tags = append(tags, "#"+tag)
	}

	return tags
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
