package formatter

import (
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// Severity colors
const (
	ColorExtreme   = "#FF0000" // Red 🔴
	ColorSevere    = "#FF9900" // Orange 🟠
	ColorModerate  = "#FFFF00" // Yellow 🟡
	ColorUnknown   = "#808080" // Gray ⚪
	ColorCancelled = "#3DB887" // Green ✅
)

// Severity emojis
const (
	EmojiExtreme   = "🔴"
	EmojiSevere    = "🟠"
	EmojiModerate  = "🟡"
	EmojiUnknown   = "⚪"
	EmojiCancelled = "✅"
)

// maxMessageLength truncates very long alert texts
const maxMessageLength = 2000

type labels struct {
	Title     string
	Cancelled string
	Exercise  string
	Test      string
	Area      string
	Severity  string
	Urgency   string
	Event     string
	Footer    string
}

var labelsByLanguage = map[string]labels{
	"sv": {
		Title:     "Viktigt meddelande till allmänheten",
		Cancelled: "VMA upphävt",
		Exercise:  "ÖVNING",
		Test:      "TEST",
		Area:      "Område",
		Severity:  "Allvarlighetsgrad",
		Urgency:   "Brådska",
		Event:     "Händelse",
		Footer:    "VMA",
	},
	"en": {
		Title:     "Important public announcement",
		Cancelled: "Announcement cancelled",
		Exercise:  "EXERCISE",
		Test:      "TEST",
		Area:      "Area",
		Severity:  "Severity",
		Urgency:   "Urgency",
		Event:     "Event",
		Footer:    "VMA",
	},
}

func labelsFor(locale string) labels {
	return labelsByLanguage[vma.Language(locale)]
}

// FormatTriggered converts a newly opened incident into a Mattermost SlackAttachment colored
// by severity. Exercise and test alerts are marked in the title.
func FormatTriggered(event target.Triggered, locale string) *model.SlackAttachment {
	l := labelsFor(locale)

	title := l.Title
	switch {
	case event.Test:
		title = fmt.Sprintf("[%s] %s", l.Test, title)
	case event.Exercise:
		title = fmt.Sprintf("[%s] %s", l.Exercise, title)
	}

	attachment := &model.SlackAttachment{
		Fallback: fmt.Sprintf("%s: %s", title, event.Message),
		Color:    getSeverityColor(event.Severity),
		Text: fmt.Sprintf("#### %s %s\n%s",
			getSeverityEmoji(event.Severity), title, truncateText(event.Message, maxMessageLength)),
	}

	var fields []*model.SlackAttachmentField

	// Area + Severity side by side
	if event.Area != "" {
		fields = append(fields, &model.SlackAttachmentField{
			Title: l.Area,
			Value: event.Area,
			Short: true,
		})
	}
	if event.Severity != "" {
		fields = append(fields, &model.SlackAttachmentField{
			Title: l.Severity,
			Value: event.Severity,
			Short: true,
		})
	}
	if event.Urgency != "" {
		fields = append(fields, &model.SlackAttachmentField{
			Title: l.Urgency,
			Value: event.Urgency,
			Short: true,
		})
	}

	// The event name is only useful when the message is the description
	if event.Event != "" && event.Event != event.Message {
		fields = append(fields, &model.SlackAttachmentField{
			Title: l.Event,
			Value: event.Event,
			Short: true,
		})
	}

	attachment.Fields = fields
	attachment.Footer = fmt.Sprintf("%s | %s", l.Footer, event.IncidentID)

	return attachment
}

// FormatCancelled converts a closed incident into a Mattermost SlackAttachment.
func FormatCancelled(event target.Cancelled, locale string) *model.SlackAttachment {
	l := labelsFor(locale)

	attachment := &model.SlackAttachment{
		Fallback: fmt.Sprintf("%s: %s", l.Cancelled, event.Message),
		Color:    ColorCancelled,
		Text: fmt.Sprintf("#### %s %s\n%s",
			EmojiCancelled, l.Cancelled, truncateText(event.Message, maxMessageLength)),
		Footer: fmt.Sprintf("%s | %s", l.Footer, event.IncidentID),
	}

	if event.Area != "" {
		attachment.Fields = []*model.SlackAttachmentField{
			{Title: l.Area, Value: event.Area, Short: true},
		}
	}

	return attachment
}

// getSeverityColor returns the color code for a CAP severity
func getSeverityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "extreme":
		return ColorExtreme
	case "severe":
		return ColorSevere
	case "moderate", "minor":
		return ColorModerate
	default:
		return ColorUnknown
	}
}

// getSeverityEmoji returns the emoji for a CAP severity
func getSeverityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "extreme":
		return EmojiExtreme
	case "severe":
		return EmojiSevere
	case "moderate", "minor":
		return EmojiModerate
	default:
		return EmojiUnknown
	}
}

// truncateText truncates text to maxLen characters, adding "..." if truncated
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
