package vma

// MsgType distinguishes an alert from the cancellation of a previously issued alert.
type MsgType string

const (
	MsgTypeAlert  MsgType = "Alert"
	MsgTypeCancel MsgType = "Cancel"
)

// Status tells real alerts apart from drills and technical tests.
type Status string

const (
	StatusActual   Status = "Actual"
	StatusExercise Status = "Exercise"
	StatusTest     Status = "Test"
)

// NationwideAreaCode is the geocode of a target that receives every alert from its source.
const NationwideAreaCode = "00"

// AlertsResponse is the document returned by the REST alert endpoint.
// A missing alerts field decodes to an empty list.
type AlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

// Alert is a single VMA message. Alerts are never modified after they are fetched.
type Alert struct {
	// IncidentID identifies the incident this message opens or closes
	IncidentID string `json:"incidentId"`

	// MsgType is Alert or Cancel
	MsgType MsgType `json:"msgType"`

	// Status is Actual, Exercise or Test
	Status Status `json:"status"`

	// Info holds one entry per language, in the order the authority sent them
	Info []Info `json:"info"`
}

// Info is the language specific content of an alert.
type Info struct {
	Language    string    `json:"language"`
	Description string    `json:"description"`
	Event       string    `json:"event"`
	Severity    string    `json:"severity"`
	Urgency     string    `json:"urgency"`
	AreaDesc    string    `json:"areaDesc"`
	Area        []AreaRef `json:"area"`
}

// AreaRef is one area covered by an alert.
type AreaRef struct {
	Geocode string `json:"geocode"`
}

// StreamMessage is the payload of a push event. It only signals that something changed;
// the alerts themselves are always fetched over REST.
type StreamMessage struct {
	Message string `json:"message"`
}

// IsExercise reports whether the alert is a drill.
func (a Alert) IsExercise() bool {
	return a.Status == StatusExercise
}

// IsTest reports whether the alert is a technical test.
func (a Alert) IsTest() bool {
	return a.Status == StatusTest
}
