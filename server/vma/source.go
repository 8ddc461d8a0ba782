package vma

import "fmt"

// Source is one of the two independent alert feeds. Production and test data are never mixed.
type Source int

const (
	SourceProduction Source = iota
	SourceTest
)

// Sources lists every alert source in a stable order.
var Sources = []Source{SourceProduction, SourceTest}

// SourceFor returns the source a target subscribes to given its test-mode flag.
func SourceFor(testMode bool) Source {
	if testMode {
		return SourceTest
	}
	return SourceProduction
}

func (s Source) String() string {
	switch s {
	case SourceProduction:
		return "production"
	case SourceTest:
		return "test"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Endpoint holds the URLs of one alert source.
type Endpoint struct {
	// AlertsURL is the REST endpoint returning the current alerts
	AlertsURL string

	// StreamURL is the server-sent events endpoint signalling changes
	StreamURL string
}

// Endpoints maps each source to its URLs.
type Endpoints map[Source]Endpoint

const (
	DefaultProductionAlertsURL = "https://vmaapi.sr.se/api/v3/alerts"
	DefaultProductionStreamURL = "https://vmaapi.sr.se/api/v3/stream"
	DefaultTestAlertsURL       = "https://vmaapi.sr.se/testapi/v3/alerts"
	DefaultTestStreamURL       = "https://vmaapi.sr.se/testapi/v3/stream"
)

// DefaultEndpoints returns the public VMA API endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		SourceProduction: {AlertsURL: DefaultProductionAlertsURL, StreamURL: DefaultProductionStreamURL},
		SourceTest:       {AlertsURL: DefaultTestAlertsURL, StreamURL: DefaultTestStreamURL},
	}
}
