package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"

	"github.com/mattermost/mattermost-plugin-vma/server/logging"
)

const (
	// PollJobID identifies the fallback poll job across the cluster
	PollJobID = "vma_fallback_poll"

	// DefaultPollInterval is the time between fallback polls
	DefaultPollInterval = 5 * time.Minute
)

// Job represents a scheduled job that can be closed
type Job interface {
	Close() error
}

// JobScheduler is an interface for scheduling cluster-aware jobs
type JobScheduler interface {
	Schedule(
		jobID string,
		nextWaitInterval cluster.NextWaitInterval,
		callback func(),
	) (Job, error)
}

// ClusterJobScheduler schedules jobs with Mattermost's cluster job system
type ClusterJobScheduler struct {
	api plugin.API
}

// NewClusterJobScheduler creates a new cluster job scheduler
func NewClusterJobScheduler(api plugin.API) *ClusterJobScheduler {
	return &ClusterJobScheduler{
		api: api,
	}
}

func (s *ClusterJobScheduler) Schedule(
	jobID string,
	nextWaitInterval cluster.NextWaitInterval,
	callback func(),
) (Job, error) {
	return cluster.Schedule(s.api, jobID, nextWaitInterval, callback)
}

// Poller requests a pipeline run on a fixed interval, in case stream messages were missed.
// The first poll runs as soon as the job is scheduled. Only one server in a cluster polls.
type Poller struct {
	scheduler JobScheduler
	interval  time.Duration
	trigger   func()
	logger    logging.Logger

	mu  sync.Mutex
	job Job
}

// NewPoller creates a poller that calls trigger every interval
func NewPoller(scheduler JobScheduler, interval time.Duration, trigger func(), logger logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		scheduler: scheduler,
		interval:  interval,
		trigger:   trigger,
		logger:    logger,
	}
}

// Start schedules the polling job
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job != nil {
		return fmt.Errorf("poller already running")
	}

	job, err := p.scheduler.Schedule(PollJobID, p.nextWaitInterval, p.run)
	if err != nil {
		return fmt.Errorf("failed to schedule cluster job: %w", err)
	}

	p.job = job
	p.logger.Info("Fallback poller started", "interval", p.interval.String())
	return nil
}

// Stop closes the polling job
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job == nil {
		return nil
	}

	err := p.job.Close()
	p.job = nil
	if err != nil {
		return fmt.Errorf("failed to close cluster job: %w", err)
	}

	p.logger.Info("Fallback poller stopped")
	return nil
}

// nextWaitInterval is called by the cluster job scheduler to determine how long to wait
// until the next poll.
func (p *Poller) nextWaitInterval(now time.Time, metadata cluster.JobMetadata) time.Duration {
	if metadata.LastFinished.IsZero() {
		return 0
	}

	sinceLastFinished := now.Sub(metadata.LastFinished)
	if sinceLastFinished < p.interval {
		return p.interval - sinceLastFinished
	}
	return 0
}

func (p *Poller) run() {
	p.logger.Debug("Fallback poll requesting pipeline run")
	p.trigger()
}
