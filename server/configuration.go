package main

import (
	"net/url"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

const (
	defaultBotUsername    = "vma-alerts"
	defaultBotDisplayName = "VMA"
	defaultClientID       = "mattermost-plugin-vma"
)

// configuration captures the plugin's external configuration as exposed in the Mattermost server
// configuration, as well as values computed from the configuration. Any public fields will be
// deserialized from the Mattermost server configuration in OnConfigurationChange.
//
// As plugins are inherently concurrent (hooks being called asynchronously), and the plugin
// configuration can change at any time, access to the configuration must be synchronized. The
// strategy used in this plugin is to guard a pointer to the configuration, and clone the entire
// struct whenever it changes.
//
// Endpoints and timing options are read when the plugin activates. Target changes apply live.
type configuration struct {
	BotUsername    string
	BotDisplayName string

	// Endpoints, empty for the public VMA API
	ProductionAlertsURL string
	ProductionStreamURL string
	TestAlertsURL       string
	TestStreamURL       string

	// ClientID is sent with every request to identify this installation
	ClientID string

	// Locale selects the language of posted alerts, empty for the server default
	Locale string

	// Timing options, zero for the default
	RequestTimeoutSeconds         int
	FetchRetries                  int
	ReconnectBaseDelaySeconds     int
	ReconnectMaxDelaySeconds      int
	FetchDebounceMilliseconds     int
	StreamMaxAgeMinutes           int
	HealthCheckIntervalSeconds    int
	CircuitBreakerThreshold       int
	CircuitBreakerCooldownSeconds int
	PollIntervalSeconds           int

	// Targets is an array of channel subscriptions.
	Targets []target.Config `json:"targets"`
}

// Clone creates a deep copy of the configuration.
// This ensures that slice modifications don't affect the original.
func (c *configuration) Clone() *configuration {
	clone := *c

	if c.Targets != nil {
		clone.Targets = make([]target.Config, len(c.Targets))
		copy(clone.Targets, c.Targets)
	}

	return &clone
}

// IsValid checks endpoint URLs, timing options and targets.
func (c *configuration) IsValid() error {
	for name, value := range map[string]string{
		"ProductionAlertsURL": c.ProductionAlertsURL,
		"ProductionStreamURL": c.ProductionStreamURL,
		"TestAlertsURL":       c.TestAlertsURL,
		"TestStreamURL":       c.TestStreamURL,
	} {
		if value == "" {
			continue
		}
		parsed, err := url.Parse(value)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return errors.Errorf("%s must be an absolute http(s) URL", name)
		}
	}

	for name, value := range map[string]int{
		"RequestTimeoutSeconds":         c.RequestTimeoutSeconds,
		"FetchRetries":                  c.FetchRetries,
		"ReconnectBaseDelaySeconds":     c.ReconnectBaseDelaySeconds,
		"ReconnectMaxDelaySeconds":      c.ReconnectMaxDelaySeconds,
		"FetchDebounceMilliseconds":     c.FetchDebounceMilliseconds,
		"StreamMaxAgeMinutes":           c.StreamMaxAgeMinutes,
		"HealthCheckIntervalSeconds":    c.HealthCheckIntervalSeconds,
		"CircuitBreakerThreshold":       c.CircuitBreakerThreshold,
		"CircuitBreakerCooldownSeconds": c.CircuitBreakerCooldownSeconds,
		"PollIntervalSeconds":           c.PollIntervalSeconds,
	} {
		if value < 0 {
			return errors.Errorf("%s must not be negative", name)
		}
	}

	if c.ReconnectBaseDelaySeconds > 0 && c.ReconnectMaxDelaySeconds > 0 &&
		c.ReconnectMaxDelaySeconds < c.ReconnectBaseDelaySeconds {
		return errors.New("ReconnectMaxDelaySeconds must not be lower than ReconnectBaseDelaySeconds")
	}

	if err := target.ValidateTargets(c.Targets); err != nil {
		return errors.Wrap(err, "invalid target configuration")
	}
	return nil
}

// endpoints returns the configured URLs with the public API filling the gaps.
func (c *configuration) endpoints() vma.Endpoints {
	endpoints := vma.DefaultEndpoints()

	production := endpoints[vma.SourceProduction]
	production.AlertsURL = stringOr(c.ProductionAlertsURL, production.AlertsURL)
	production.StreamURL = stringOr(c.ProductionStreamURL, production.StreamURL)
	endpoints[vma.SourceProduction] = production

	test := endpoints[vma.SourceTest]
	test.AlertsURL = stringOr(c.TestAlertsURL, test.AlertsURL)
	test.StreamURL = stringOr(c.TestStreamURL, test.StreamURL)
	endpoints[vma.SourceTest] = test

	return endpoints
}

func (c *configuration) botUsername() string {
	return stringOr(c.BotUsername, defaultBotUsername)
}

func (c *configuration) botDisplayName() string {
	return stringOr(c.BotDisplayName, defaultBotDisplayName)
}

func (c *configuration) clientID() string {
	return stringOr(c.ClientID, defaultClientID)
}

// durationOf converts a configured amount of unit, zero meaning the component default.
func durationOf(value int, unit time.Duration) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * unit
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// getConfiguration retrieves the active configuration under lock, making it safe to use
// concurrently. The active configuration may change underneath the client of this method, but
// the struct returned by this API call is considered immutable.
func (p *Plugin) getConfiguration() *configuration {
	p.configurationLock.RLock()
	defer p.configurationLock.RUnlock()

	if p.configuration == nil {
		return &configuration{}
	}

	return p.configuration
}

// setConfiguration replaces the active configuration under lock.
//
// Do not call setConfiguration while holding the configurationLock, as sync.Mutex is not
// reentrant. In particular, avoid using the plugin API entirely, as this may in turn trigger a
// hook back into the plugin. If that hook attempts to acquire this lock, a deadlock may occur.
//
// This method panics if setConfiguration is called with the existing configuration. This almost
// certainly means that the configuration was modified without being cloned and may result in
// an unsafe access.
func (p *Plugin) setConfiguration(configuration *configuration) {
	p.configurationLock.Lock()
	defer p.configurationLock.Unlock()

	if configuration != nil && p.configuration == configuration {
		// Ignore assignment if the configuration struct is empty. Go will optimize the
		// allocation for same to point at the same memory address, breaking the check
		// above.
		if reflect.ValueOf(*configuration).NumField() == 0 {
			return
		}

		panic("setConfiguration called with the existing configuration")
	}

	p.configuration = configuration
}

// findTargetConfigByID finds a target configuration by ID in a slice of configs.
func findTargetConfigByID(configs []target.Config, id string) (target.Config, bool) {
	for _, cfg := range configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return target.Config{}, false
}

// OnConfigurationChange is invoked when configuration changes may have been made.
func (p *Plugin) OnConfigurationChange() error {
	var newConfig = new(configuration)

	// Load the public configuration fields from the Mattermost server configuration.
	if err := p.API.LoadPluginConfiguration(newConfig); err != nil {
		return errors.Wrap(err, "failed to load plugin configuration")
	}

	if err := newConfig.IsValid(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	oldConfig := p.getConfiguration()
	p.setConfiguration(newConfig)

	// Before activation the targets are registered by OnActivate
	if p.registry != nil {
		p.syncTargets(oldConfig.Targets, newConfig.Targets)
	}

	return nil
}

// syncTargets applies the difference between two target lists to the registry and fires a
// single topology change for the whole batch.
func (p *Plugin) syncTargets(oldConfigs, newConfigs []target.Config) {
	p.targetsLock.Lock()
	defer p.targetsLock.Unlock()

	toAdd, toUpdate, toRemove := target.DiffTargets(oldConfigs, newConfigs)
	if len(toAdd)+len(toUpdate)+len(toRemove) == 0 {
		return
	}

	p.exclusive(func() {
		p.applyTargetChanges(oldConfigs, newConfigs, toAdd, toUpdate, toRemove)
	})

	p.registry.TopologyChanged()
}

// applyTargetChanges updates the registry and resets the state of targets whose incidents
// would otherwise leak into another feed or area.
func (p *Plugin) applyTargetChanges(oldConfigs, newConfigs []target.Config, toAdd, toUpdate, toRemove []string) {
	for _, id := range toRemove {
		if err := p.registry.Unregister(id); err != nil {
			p.client.Log.Warn("Failed to unregister target", "targetId", id, "error", err.Error())
		}
		p.clearTargetState(id, "target removed from configuration")
		p.metrics.ForgetTarget(id)
	}

	for _, id := range toUpdate {
		oldCfg, _ := findTargetConfigByID(oldConfigs, id)
		newCfg, _ := findTargetConfigByID(newConfigs, id)

		// Incidents of another feed or area would never be cancelled
		if oldCfg.TestMode != newCfg.TestMode || oldCfg.AreaCode != newCfg.AreaCode {
			p.clearTargetState(id, "target feed or area changed")
		}

		if err := p.registry.Replace(p.newChannelTarget(newCfg)); err != nil {
			p.client.Log.Warn("Failed to update target", "targetId", id, "error", err.Error())
			continue
		}
		p.client.Log.Info("Updated target", "targetId", id, "name", newCfg.Name)
	}

	for _, id := range toAdd {
		cfg, _ := findTargetConfigByID(newConfigs, id)
		if err := p.registry.Register(p.newChannelTarget(cfg)); err != nil {
			p.client.Log.Warn("Failed to register target", "targetId", id, "error", err.Error())
			continue
		}
		p.client.Log.Info("Registered target", "targetId", id, "name", cfg.Name, "areaCode", cfg.AreaCode)
	}
}

// exclusive calls fn while no pipeline run can hold a stale copy of a target.
func (p *Plugin) exclusive(fn func()) {
	if p.pipeline == nil {
		fn()
		return
	}
	p.pipeline.Exclusive(fn)
}

func (p *Plugin) newChannelTarget(cfg target.Config) *target.ChannelTarget {
	return target.NewChannelTarget(cfg, target.NewStateStore(p.API, cfg.ID, p.clock), p.poster)
}

func (p *Plugin) clearTargetState(id, reason string) {
	if err := target.NewStateStore(p.API, id, p.clock).Clear(); err != nil {
		p.client.Log.Warn("Failed to clear target state", "targetId", id, "reason", reason, "error", err.Error())
		return
	}
	p.client.Log.Info("Cleared target state", "targetId", id, "reason", reason)
}
