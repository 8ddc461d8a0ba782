package target

import (
	"errors"
	"testing"

	"github.com/mattermost/mattermost/server/public/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	triggered    []Triggered
	cancelled    []Cancelled
	cancelRoots  []string
	triggeredErr error
	cancelledErr error
}

func (n *recordingNotifier) PostTriggered(channelID string, event Triggered) (string, error) {
	if n.triggeredErr != nil {
		return "", n.triggeredErr
	}
	n.triggered = append(n.triggered, event)
	return "post-" + event.IncidentID, nil
}

func (n *recordingNotifier) PostCancelled(channelID, rootID string, event Cancelled) error {
	if n.cancelledErr != nil {
		return n.cancelledErr
	}
	n.cancelled = append(n.cancelled, event)
	n.cancelRoots = append(n.cancelRoots, rootID)
	return nil
}

func newTestChannelTarget(t *testing.T, notifier Notifier) *ChannelTarget {
	t.Helper()
	api := &plugintest.API{}
	newMemoryKV(api)
	return NewChannelTarget(validConfig(), NewStateStore(api, validConfig().ID, nil), notifier)
}

func TestChannelTarget_Accessors(t *testing.T) {
	cfg := validConfig()
	cfg.TestMode = true
	tgt := NewChannelTarget(cfg, nil, &recordingNotifier{})

	assert.Equal(t, cfg.ID, tgt.GetID())
	assert.Equal(t, cfg.Name, tgt.GetName())
	assert.Equal(t, "0180", tgt.GetAreaCode())
	assert.True(t, tgt.IsEnabled())
	assert.True(t, tgt.IsTestMode())
	assert.True(t, tgt.HasRequiredCapability())
	assert.Equal(t, cfg, tgt.Config())
}

func TestChannelTarget_HasRequiredCapability(t *testing.T) {
	cfg := validConfig()
	cfg.ChannelID = ""
	assert.False(t, NewChannelTarget(cfg, nil, &recordingNotifier{}).HasRequiredCapability())
	assert.False(t, NewChannelTarget(validConfig(), nil, nil).HasRequiredCapability())
}

func TestChannelTarget_CancelRepliesToTriggeredPost(t *testing.T) {
	notifier := &recordingNotifier{}
	tgt := newTestChannelTarget(t, notifier)

	require.NoError(t, tgt.EmitTriggered(Triggered{IncidentID: "incident-1", Message: "Brand"}))
	require.NoError(t, tgt.EmitCancelled(Cancelled{IncidentID: "incident-1", Message: "Brand"}))
	require.NoError(t, tgt.EmitCancelled(Cancelled{IncidentID: "incident-1", Message: "Brand"}))

	require.Len(t, notifier.triggered, 1)
	require.Len(t, notifier.cancelled, 2)
	assert.Equal(t, []string{"post-incident-1", ""}, notifier.cancelRoots, "root is forgotten after the first cancel")
}

func TestChannelTarget_EmitFailures(t *testing.T) {
	notifier := &recordingNotifier{
		triggeredErr: errors.New("channel archived"),
		cancelledErr: errors.New("channel archived"),
	}
	tgt := newTestChannelTarget(t, notifier)

	err := tgt.EmitTriggered(Triggered{IncidentID: "incident-1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to post triggered alert")

	err = tgt.EmitCancelled(Cancelled{IncidentID: "incident-1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to post cancelled alert")
}

func TestChannelTarget_Status(t *testing.T) {
	tgt := newTestChannelTarget(t, &recordingNotifier{})

	require.NoError(t, tgt.SaveIncidents(Incidents{"a": {IncidentID: "a"}, "b": {IncidentID: "b"}}))
	require.NoError(t, tgt.SetAlarmIndicator(true))
	message := "Brand"
	require.NoError(t, tgt.SetMessageField(&message))

	status, open, err := tgt.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, open)
	assert.True(t, status.Alarm)
	assert.Equal(t, "Brand", *status.Message)

	loaded, err := tgt.LoadIncidents()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}
