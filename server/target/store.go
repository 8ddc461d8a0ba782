package target

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mattermost/mattermost/server/public/plugin"
)

// StateStore persists per-target state in the Mattermost KV store.
// All keys are scoped to the target ID for isolation.
type StateStore struct {
	api      plugin.API
	targetID string
	clock    clock.Clock
}

// NewStateStore creates a new state store for a specific target.
// clk stamps status updates; nil uses the wall clock.
func NewStateStore(api plugin.API, targetID string, clk clock.Clock) *StateStore {
	if clk == nil {
		clk = clock.New()
	}
	return &StateStore{
		api:      api,
		targetID: targetID,
		clock:    clk,
	}
}

// Status is the aggregate alarm state of a target.
type Status struct {
	// Alarm is true while at least one incident is open
	Alarm bool `json:"alarm"`

	// Message is the last displayed alert text, nil when cleared
	Message *string `json:"message"`

	// UpdatedAt is when the status last changed
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *StateStore) key(field string) string {
	return fmt.Sprintf("target_%s_%s", s.targetID, field)
}

func (s *StateStore) getJSON(field string, v interface{}) (bool, error) {
	data, appErr := s.api.KVGet(s.key(field))
	if appErr != nil {
		return false, fmt.Errorf("failed to get %s: %w", field, appErr)
	}

	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", field, err)
	}
	return true, nil
}

func (s *StateStore) setJSON(field string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", field, err)
	}

	if appErr := s.api.KVSet(s.key(field), data); appErr != nil {
		return fmt.Errorf("failed to save %s: %w", field, appErr)
	}
	return nil
}

// GetIncidents retrieves the open incidents of the target
// Returns an empty map if nothing is stored
func (s *StateStore) GetIncidents() (Incidents, error) {
	incidents := Incidents{}
	if _, err := s.getJSON("incidents", &incidents); err != nil {
		return nil, err
	}
	if incidents == nil {
		incidents = Incidents{}
	}
	return incidents, nil
}

// SaveIncidents stores the open incidents of the target
func (s *StateStore) SaveIncidents(incidents Incidents) error {
	if incidents == nil {
		incidents = Incidents{}
	}
	return s.setJSON("incidents", incidents)
}

// GetStatus retrieves the aggregate status of the target
// Returns the zero status if nothing is stored
func (s *StateStore) GetStatus() (Status, error) {
	var status Status
	if _, err := s.getJSON("status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// SaveAlarm updates the alarm flag of the stored status
func (s *StateStore) SaveAlarm(on bool) error {
	status, err := s.GetStatus()
	if err != nil {
		return err
	}
	status.Alarm = on
	status.UpdatedAt = s.clock.Now()
	return s.setJSON("status", status)
}

// SaveMessage updates the message of the stored status; nil clears it
func (s *StateStore) SaveMessage(message *string) error {
	status, err := s.GetStatus()
	if err != nil {
		return err
	}
	status.Message = message
	status.UpdatedAt = s.clock.Now()
	return s.setJSON("status", status)
}

// GetThreadRoot returns the ID of the post that announced an incident
// Returns empty string if no post is recorded
func (s *StateStore) GetThreadRoot(incidentID string) (string, error) {
	roots := map[string]string{}
	if _, err := s.getJSON("threads", &roots); err != nil {
		return "", err
	}
	return roots[incidentID], nil
}

// SaveThreadRoot records the post that announced an incident
func (s *StateStore) SaveThreadRoot(incidentID, postID string) error {
	roots := map[string]string{}
	if _, err := s.getJSON("threads", &roots); err != nil {
		return err
	}
	if roots == nil {
		roots = map[string]string{}
	}
	roots[incidentID] = postID
	return s.setJSON("threads", roots)
}

// DeleteThreadRoot forgets the post of a closed incident
func (s *StateStore) DeleteThreadRoot(incidentID string) error {
	roots := map[string]string{}
	found, err := s.getJSON("threads", &roots)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if _, exists := roots[incidentID]; !exists {
		return nil
	}
	delete(roots, incidentID)
	return s.setJSON("threads", roots)
}

// Clear removes all state of the target: open incidents, thread roots and status.
// Used when the target switches between the production and test feeds, or is removed.
func (s *StateStore) Clear() error {
	for _, field := range []string{"incidents", "threads", "status"} {
		if appErr := s.api.KVDelete(s.key(field)); appErr != nil {
			return fmt.Errorf("failed to delete %s: %w", field, appErr)
		}
	}
	return nil
}
