package target

// Config represents the configuration of a single target subscription.
// Each target is uniquely identified by its ID (UUID v4).
type Config struct {
	// ID is the unique stable identifier for this target (UUID v4, immutable)
	ID string `json:"id"`

	// Name is the display name for this target (mutable, must be unique)
	Name string `json:"name"`

	// AreaCode is the county (2 digits), municipality (4 digits) or "00" for nationwide
	AreaCode string `json:"areaCode"`

	// ChannelID is the Mattermost channel ID alerts are posted to
	ChannelID string `json:"channelId"`

	// Enabled indicates whether this target should receive alerts
	Enabled bool `json:"enabled"`

	// TestMode subscribes the target to the test feed instead of production
	TestMode bool `json:"testMode"`
}
