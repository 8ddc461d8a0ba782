package main

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-vma/server/incident"
	"github.com/mattermost/mattermost-plugin-vma/server/metrics"
	"github.com/mattermost/mattermost-plugin-vma/server/pipeline"
	"github.com/mattermost/mattermost-plugin-vma/server/poster"
	"github.com/mattermost/mattermost-plugin-vma/server/stream"
	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// Plugin implements the interface expected by the Mattermost server to communicate between the server and plugin processes.
type Plugin struct {
	plugin.MattermostPlugin

	// client is the Mattermost server API client.
	client *pluginapi.Client

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex

	// configuration is the active plugin configuration. Consult getConfiguration and
	// setConfiguration for usage.
	configuration *configuration

	// targetsLock serializes target registry updates.
	targetsLock sync.Mutex

	// registry holds the channel subscriptions in configuration order.
	registry *target.Registry

	// poster posts alerts to Mattermost channels.
	poster *poster.Poster

	// clock drives every timer and timestamp of the alert core.
	clock clock.Clock

	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
	streams  *stream.Manager
	poller   *pipeline.Poller
}

// OnActivate is invoked when the plugin is activated. If an error is returned, the plugin will be deactivated.
func (p *Plugin) OnActivate() error {
	p.client = pluginapi.NewClient(p.API, p.Driver)
	logger := &p.client.Log

	config := p.getConfiguration()

	botID, err := p.API.EnsureBotUser(&model.Bot{
		Username:    config.botUsername(),
		DisplayName: config.botDisplayName(),
		Description: "Bot for posting public warning messages (VMA) to Mattermost channels",
	})
	if err != nil {
		return errors.Wrap(err, "failed to ensure bot user")
	}

	runMutex, err := cluster.NewMutex(p.API, pipeline.RunMutexKey)
	if err != nil {
		return errors.Wrap(err, "failed to create pipeline cluster mutex")
	}

	locale := p.resolveLocale(config)
	p.client.Log.Info("Bot user initialized", "botID", botID, "username", config.botUsername(), "locale", locale)

	p.metrics = metrics.New()
	p.poster = poster.New(p.API, botID, locale)
	p.registry = target.NewRegistry()

	fetcher := vma.NewClient(vma.ClientConfig{
		Endpoints: config.endpoints(),
		Timeout:   durationOf(config.RequestTimeoutSeconds, time.Second),
		Retries:   config.FetchRetries,
		ClientID:  config.clientID(),
	}, logger)

	p.clock = clock.New()

	p.pipeline = pipeline.New(
		pipeline.Config{
			Debounce:         durationOf(config.FetchDebounceMilliseconds, time.Millisecond),
			FailureThreshold: config.CircuitBreakerThreshold,
			Cooldown:         durationOf(config.CircuitBreakerCooldownSeconds, time.Second),
			ClusterMutex:     runMutex,
		},
		fetcher,
		p.registry,
		incident.NewMachine(locale, logger, p.metrics),
		p.clock,
		logger,
		p.metrics,
	)

	p.streams = stream.NewManager(
		stream.Config{
			Endpoints:           config.endpoints(),
			BaseDelay:           durationOf(config.ReconnectBaseDelaySeconds, time.Second),
			MaxDelay:            durationOf(config.ReconnectMaxDelaySeconds, time.Second),
			MaxAge:              durationOf(config.StreamMaxAgeMinutes, time.Minute),
			HealthCheckInterval: durationOf(config.HealthCheckIntervalSeconds, time.Second),
		},
		stream.NewSSESubscriber(config.clientID()),
		p.registry,
		p.pipeline.RequestRun,
		p.clock,
		logger,
		p.metrics,
	)

	p.registry.OnTopologyChange(func() {
		p.streams.Reconcile()
		p.pipeline.RequestRun()
	})

	p.poller = pipeline.NewPoller(
		pipeline.NewClusterJobScheduler(p.API),
		durationOf(config.PollIntervalSeconds, time.Second),
		p.pipeline.RequestRun,
		logger,
	)
	if err := p.poller.Start(); err != nil {
		return errors.Wrap(err, "failed to start fallback poller")
	}

	p.syncTargets(nil, config.Targets)
	p.streams.Start()

	p.client.Log.Info("VMA alerts activated", "targets", p.registry.Count())
	return nil
}

// OnDeactivate is invoked when the plugin is deactivated. All timers are cancelled and both
// streams closed before it returns.
func (p *Plugin) OnDeactivate() error {
	if p.poller != nil {
		if err := p.poller.Stop(); err != nil {
			p.API.LogError("Failed to stop fallback poller", "error", err.Error())
		}
	}

	if p.streams != nil {
		p.streams.Stop()
	}

	if p.pipeline != nil {
		p.pipeline.Stop()
	}

	if p.registry != nil {
		p.registry.Close()
	}

	return nil
}

// resolveLocale picks the configured locale, then the server default, then Swedish.
func (p *Plugin) resolveLocale(config *configuration) string {
	if config.Locale != "" {
		return config.Locale
	}

	if serverConfig := p.API.GetConfig(); serverConfig != nil {
		if locale := serverConfig.LocalizationSettings.DefaultServerLocale; locale != nil && *locale != "" {
			return *locale
		}
	}

	return vma.DefaultLocale
}

// See https://developers.mattermost.com/extend/plugins/server/reference/
