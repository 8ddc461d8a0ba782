package incident

import (
	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// NewTriggered builds the tokens announcing alert, localized for locale.
func NewTriggered(alert vma.Alert, locale string) target.Triggered {
	info, _ := vma.BestInfo(alert.Info, locale)

	return target.Triggered{
		IncidentID:  alert.IncidentID,
		Message:     vma.DisplayMessage(info, locale),
		Description: info.Description,
		Severity:    info.Severity,
		Urgency:     info.Urgency,
		Event:       info.Event,
		Area:        info.AreaDesc,
		Status:      string(alert.Status),
		Exercise:    alert.IsExercise(),
		Test:        alert.IsTest(),
	}
}

// NewCancelled builds the tokens announcing the end of the incident opened by stored.
func NewCancelled(stored vma.Alert, locale string) target.Cancelled {
	info, _ := vma.BestInfo(stored.Info, locale)

	return target.Cancelled{
		IncidentID: stored.IncidentID,
		Message:    vma.DisplayMessage(info, locale),
		Area:       info.AreaDesc,
	}
}
