package incident

import (
	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// Kind is the outcome of applying one alert to a target's incidents.
type Kind int

const (
	// KindNone leaves the incidents untouched: a repeated Alert, a Cancel for an unknown
	// incident, or a message type the machine does not handle.
	KindNone Kind = iota

	// KindOpened adds a new incident.
	KindOpened

	// KindClosed removes an open incident.
	KindClosed

	// KindRejected marks a test alert that reached a target outside test mode.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindClosed:
		return "closed"
	case KindRejected:
		return "rejected"
	default:
		return "none"
	}
}

// Transition describes what Step did.
type Transition struct {
	Kind Kind

	// Alert is the new alert for KindOpened and the stored alert for KindClosed.
	Alert vma.Alert
}

// Step applies one alert to incidents without side effects. The input map is never modified;
// when the incidents change a new map is returned, otherwise the input is returned as is.
func Step(incidents target.Incidents, alert vma.Alert, testMode bool) (target.Incidents, Transition) {
	if alert.IsTest() && !testMode {
		return incidents, Transition{Kind: KindRejected, Alert: alert}
	}

	_, open := incidents[alert.IncidentID]

	switch alert.MsgType {
	case vma.MsgTypeAlert:
		if open {
			return incidents, Transition{Kind: KindNone}
		}
		next := incidents.Clone()
		next[alert.IncidentID] = alert
		return next, Transition{Kind: KindOpened, Alert: alert}

	case vma.MsgTypeCancel:
		if !open {
			return incidents, Transition{Kind: KindNone}
		}
		stored := incidents[alert.IncidentID]
		next := incidents.Clone()
		delete(next, alert.IncidentID)
		return next, Transition{Kind: KindClosed, Alert: stored}
	}

	return incidents, Transition{Kind: KindNone}
}
