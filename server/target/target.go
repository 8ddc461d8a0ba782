package target

import "github.com/mattermost/mattermost-plugin-vma/server/vma"

// Incidents maps an open incident ID to the last alert seen for it.
// An entry exists only while an Alert has been seen and no matching Cancel has followed.
type Incidents map[string]vma.Alert

// Clone returns a shallow copy of the incidents map.
func (i Incidents) Clone() Incidents {
	clone := make(Incidents, len(i))
	for id, alert := range i {
		clone[id] = alert
	}
	return clone
}

// Triggered carries the tokens of a newly opened incident.
type Triggered struct {
	IncidentID  string `json:"incidentId"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Urgency     string `json:"urgency"`
	Event       string `json:"event"`
	Area        string `json:"area"`
	Status      string `json:"status"`
	Exercise    bool   `json:"exercise"`
	Test        bool   `json:"test"`
}

// Cancelled carries the tokens of a closed incident.
type Cancelled struct {
	IncidentID string `json:"incidentId"`
	Message    string `json:"message"`
	Area       string `json:"area"`
}

// Target is everything the alert core needs from a registered target.
// The core never touches target storage by any other path.
type Target interface {
	// GetID returns the stable identifier of the target.
	GetID() string

	// GetAreaCode returns the 2 or 4 digit geocode the target watches, "00" for the whole country.
	GetAreaCode() string

	// IsEnabled reports whether the target should receive alerts at all.
	IsEnabled() bool

	// IsTestMode selects the test alert source instead of production.
	IsTestMode() bool

	// HasRequiredCapability reports whether the target can emit notifications.
	HasRequiredCapability() bool

	LoadIncidents() (Incidents, error)
	SaveIncidents(incidents Incidents) error

	EmitTriggered(event Triggered) error
	EmitCancelled(event Cancelled) error

	// SetAlarmIndicator sets the aggregate alarm flag, true while any incident is open.
	SetAlarmIndicator(on bool) error

	// SetMessageField sets the displayed message; nil clears it.
	SetMessageField(message *string) error
}

// NeededSources returns the alert sources that at least one enabled target subscribes to.
func NeededSources(targets []Target) map[vma.Source]bool {
	needed := make(map[vma.Source]bool, len(vma.Sources))
	for _, t := range targets {
		if !t.IsEnabled() {
			continue
		}
		needed[vma.SourceFor(t.IsTestMode())] = true
	}
	return needed
}
