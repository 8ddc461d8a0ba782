package incident

import (
	"fmt"

	"github.com/mattermost/mattermost-plugin-vma/server/logging"
	"github.com/mattermost/mattermost-plugin-vma/server/metrics"
	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// Machine turns a target's relevant alerts into incident transitions and notifications.
type Machine struct {
	locale  string
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewMachine creates a machine that localizes notification text for locale
func NewMachine(locale string, logger logging.Logger, m *metrics.Metrics) *Machine {
	if locale == "" {
		locale = vma.DefaultLocale
	}
	return &Machine{
		locale:  locale,
		logger:  logger,
		metrics: m,
	}
}

// Apply feeds alerts to the target in order. Only a failure to load the incidents is returned;
// side-effect failures are logged per incident and processing continues with the next alert.
func (m *Machine) Apply(t target.Target, alerts []vma.Alert) error {
	incidents, err := t.LoadIncidents()
	if err != nil {
		return fmt.Errorf("failed to load incidents: %w", err)
	}

	for _, alert := range alerts {
		if alert.IncidentID == "" {
			m.logger.Warn("Skipping alert without incident ID", "targetId", t.GetID(), "msgType", string(alert.MsgType))
			continue
		}

		next, transition := Step(incidents, alert, t.IsTestMode())

		switch transition.Kind {
		case KindRejected:
			m.logger.Error("Test alert reached a target outside test mode",
				"targetId", t.GetID(),
				"incidentId", alert.IncidentID)
			m.metrics.TestAlertRejected()

		case KindOpened:
			incidents = next
			m.open(t, incidents, alert)

		case KindClosed:
			m.close(t, next, transition.Alert)
			incidents = next

		default:
			m.logger.Debug("Alert does not change incidents",
				"targetId", t.GetID(),
				"incidentId", alert.IncidentID,
				"msgType", string(alert.MsgType))
		}
	}

	m.metrics.OpenIncidents(t.GetID(), len(incidents))
	return nil
}

func (m *Machine) open(t target.Target, incidents target.Incidents, alert vma.Alert) {
	m.save(t, incidents, alert.IncidentID)

	event := NewTriggered(alert, m.locale)
	if err := t.EmitTriggered(event); err != nil {
		m.report(t, alert.IncidentID, "emit_triggered", err)
	} else {
		m.metrics.IncidentTriggered()
		m.logger.Info("Incident triggered",
			"targetId", t.GetID(),
			"areaCode", t.GetAreaCode(),
			"incidentId", alert.IncidentID,
			"exercise", event.Exercise)
	}

	m.refresh(t, incidents, alert.IncidentID, &event.Message)
}

// close announces the end of the incident stored as stored, then drops it.
func (m *Machine) close(t target.Target, remaining target.Incidents, stored vma.Alert) {
	event := NewCancelled(stored, m.locale)
	if err := t.EmitCancelled(event); err != nil {
		m.report(t, stored.IncidentID, "emit_cancelled", err)
	} else {
		m.metrics.IncidentCancelled()
		m.logger.Info("Incident cancelled",
			"targetId", t.GetID(),
			"areaCode", t.GetAreaCode(),
			"incidentId", stored.IncidentID)
	}

	m.save(t, remaining, stored.IncidentID)
	m.refresh(t, remaining, stored.IncidentID, nil)
}

func (m *Machine) save(t target.Target, incidents target.Incidents, incidentID string) {
	if err := t.SaveIncidents(incidents); err != nil {
		m.report(t, incidentID, "save_incidents", err)
	}
}

// refresh recomputes the alarm indicator. The message field is set to message when given and
// cleared once no incident is open.
func (m *Machine) refresh(t target.Target, incidents target.Incidents, incidentID string, message *string) {
	if err := t.SetAlarmIndicator(len(incidents) > 0); err != nil {
		m.report(t, incidentID, "set_alarm", err)
	}

	switch {
	case len(incidents) == 0:
		if err := t.SetMessageField(nil); err != nil {
			m.report(t, incidentID, "set_message", err)
		}
	case message != nil:
		if err := t.SetMessageField(message); err != nil {
			m.report(t, incidentID, "set_message", err)
		}
	}
}

func (m *Machine) report(t target.Target, incidentID, operation string, err error) {
	m.metrics.SideEffectFailed(operation)
	m.logger.Error("Failed to update target",
		"targetId", t.GetID(),
		"incidentId", incidentID,
		"operation", operation,
		"error", err.Error())
}
