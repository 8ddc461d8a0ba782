package targettest

import (
	"sync"

	"github.com/mattermost/mattermost-plugin-vma/server/target"
)

// FakeTarget is an in-memory target.Target that records everything the alert core does to it.
type FakeTarget struct {
	ID         string
	AreaCode   string
	Enabled    bool
	TestMode   bool
	Capability bool

	// Errors to return
	LoadErr      error
	SaveErr      error
	TriggeredErr error
	CancelledErr error
	AlarmErr     error
	MessageErr   error

	mu        sync.Mutex
	incidents target.Incidents
	saves     int
	triggered []target.Triggered
	cancelled []target.Cancelled
	alarm     bool
	message   *string
}

// New creates an enabled production target with the required capability.
func New(id, areaCode string) *FakeTarget {
	return &FakeTarget{
		ID:         id,
		AreaCode:   areaCode,
		Enabled:    true,
		Capability: true,
		incidents:  target.Incidents{},
	}
}

func (f *FakeTarget) GetID() string               { return f.ID }
func (f *FakeTarget) GetAreaCode() string         { return f.AreaCode }
func (f *FakeTarget) IsEnabled() bool             { return f.Enabled }
func (f *FakeTarget) IsTestMode() bool            { return f.TestMode }
func (f *FakeTarget) HasRequiredCapability() bool { return f.Capability }

func (f *FakeTarget) LoadIncidents() (target.Incidents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	return f.incidents.Clone(), nil
}

func (f *FakeTarget) SaveIncidents(incidents target.Incidents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveErr != nil {
		return f.SaveErr
	}
	f.incidents = incidents.Clone()
	f.saves++
	return nil
}

func (f *FakeTarget) EmitTriggered(event target.Triggered) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TriggeredErr != nil {
		return f.TriggeredErr
	}
	f.triggered = append(f.triggered, event)
	return nil
}

func (f *FakeTarget) EmitCancelled(event target.Cancelled) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelledErr != nil {
		return f.CancelledErr
	}
	f.cancelled = append(f.cancelled, event)
	return nil
}

func (f *FakeTarget) SetAlarmIndicator(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AlarmErr != nil {
		return f.AlarmErr
	}
	f.alarm = on
	return nil
}

func (f *FakeTarget) SetMessageField(message *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MessageErr != nil {
		return f.MessageErr
	}
	f.message = message
	return nil
}

// Incidents returns a copy of the stored incidents.
func (f *FakeTarget) Incidents() target.Incidents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incidents.Clone()
}

// Saves returns how many times the incidents were persisted.
func (f *FakeTarget) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// Triggered returns the emitted triggered events.
func (f *FakeTarget) Triggered() []target.Triggered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]target.Triggered(nil), f.triggered...)
}

// Cancelled returns the emitted cancelled events.
func (f *FakeTarget) Cancelled() []target.Cancelled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]target.Cancelled(nil), f.cancelled...)
}

// Alarm returns the alarm indicator.
func (f *FakeTarget) Alarm() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alarm
}

// Message returns the message field, nil when cleared.
func (f *FakeTarget) Message() *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}
