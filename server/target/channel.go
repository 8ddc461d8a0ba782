package target

import "fmt"

// Notifier posts incident notifications to Mattermost channels.
type Notifier interface {
	// PostTriggered announces a new incident and returns the ID of the created post.
	PostTriggered(channelID string, event Triggered) (string, error)

	// PostCancelled announces the end of an incident, as a reply to rootID when it is set.
	PostCancelled(channelID, rootID string, event Cancelled) error
}

// ChannelTarget is a target that posts to a Mattermost channel and keeps its state in the
// plugin KV store.
type ChannelTarget struct {
	config   Config
	store    *StateStore
	notifier Notifier
}

// NewChannelTarget creates a target from its configuration
func NewChannelTarget(config Config, store *StateStore, notifier Notifier) *ChannelTarget {
	return &ChannelTarget{
		config:   config,
		store:    store,
		notifier: notifier,
	}
}

// GetID returns the unique identifier for this target
func (c *ChannelTarget) GetID() string {
	return c.config.ID
}

// GetName returns the display name for this target
func (c *ChannelTarget) GetName() string {
	return c.config.Name
}

// GetAreaCode returns the geocode this target watches
func (c *ChannelTarget) GetAreaCode() string {
	return c.config.AreaCode
}

// IsEnabled reports whether the target is enabled in configuration
func (c *ChannelTarget) IsEnabled() bool {
	return c.config.Enabled
}

// IsTestMode reports whether the target follows the test feed
func (c *ChannelTarget) IsTestMode() bool {
	return c.config.TestMode
}

// Config returns the configuration the target was created from
func (c *ChannelTarget) Config() Config {
	return c.config
}

// HasRequiredCapability reports whether the target has a channel and a way to post to it
func (c *ChannelTarget) HasRequiredCapability() bool {
	return c.config.ChannelID != "" && c.notifier != nil
}

// Status returns the stored aggregate status and the number of open incidents
func (c *ChannelTarget) Status() (Status, int, error) {
	status, err := c.store.GetStatus()
	if err != nil {
		return Status{}, 0, err
	}

	incidents, err := c.store.GetIncidents()
	if err != nil {
		return Status{}, 0, err
	}

	return status, len(incidents), nil
}

func (c *ChannelTarget) LoadIncidents() (Incidents, error) {
	return c.store.GetIncidents()
}

func (c *ChannelTarget) SaveIncidents(incidents Incidents) error {
	return c.store.SaveIncidents(incidents)
}

// EmitTriggered posts the alert and remembers the post so the cancellation can reply to it.
func (c *ChannelTarget) EmitTriggered(event Triggered) error {
	postID, err := c.notifier.PostTriggered(c.config.ChannelID, event)
	if err != nil {
		return fmt.Errorf("failed to post triggered alert: %w", err)
	}

	if err := c.store.SaveThreadRoot(event.IncidentID, postID); err != nil {
		return fmt.Errorf("failed to save thread root: %w", err)
	}
	return nil
}

// EmitCancelled posts the cancellation in the thread of the original alert when it is known.
func (c *ChannelTarget) EmitCancelled(event Cancelled) error {
	rootID, err := c.store.GetThreadRoot(event.IncidentID)
	if err != nil {
		// Post unthreaded rather than not at all
		rootID = ""
	}

	if err := c.notifier.PostCancelled(c.config.ChannelID, rootID, event); err != nil {
		return fmt.Errorf("failed to post cancelled alert: %w", err)
	}

	if err := c.store.DeleteThreadRoot(event.IncidentID); err != nil {
		return fmt.Errorf("failed to delete thread root: %w", err)
	}
	return nil
}

func (c *ChannelTarget) SetAlarmIndicator(on bool) error {
	return c.store.SaveAlarm(on)
}

func (c *ChannelTarget) SetMessageField(message *string) error {
	return c.store.SaveMessage(message)
}
