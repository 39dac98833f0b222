package config

import "time"

// Default bounds. The cache restore bound mirrors the registry pipeline's
// fixed 360s restore timeout.
const (
	DefaultRestoreTimeout = 360 * time.Second
	DefaultStepTimeout    = 30 * time.Minute
	DefaultCacheDir       = ".gantry/cache"
	DefaultStatePath      = ".gantry/state.db"
	DefaultListenAddr     = ":8418"
	DefaultWorkers        = 1
	DefaultQueueSize      = 16
	DefaultHistorySize    = 50
	DefaultNATSSubject    = "gantry.runs"
)

func (c *Config) applyDefaults() {
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = "pipeline"
	}
	if c.Cache.Key == "" {
		c.Cache.Key = c.Pipeline.Name + "-v1"
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = DefaultCacheDir
	}
	if c.Cache.RestoreTimeout <= 0 {
		c.Cache.RestoreTimeout = Duration(DefaultRestoreTimeout)
	}
	if c.Defaults.StepTimeout <= 0 {
		c.Defaults.StepTimeout = Duration(DefaultStepTimeout)
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = DefaultListenAddr
	}
	if c.Daemon.Workers <= 0 {
		c.Daemon.Workers = DefaultWorkers
	}
	if c.Daemon.QueueSize <= 0 {
		c.Daemon.QueueSize = DefaultQueueSize
	}
	if c.Daemon.HistorySize <= 0 {
		c.Daemon.HistorySize = DefaultHistorySize
	}
	if c.Daemon.StatePath == "" {
		c.Daemon.StatePath = DefaultStatePath
	}
	if c.Daemon.NATS != nil && c.Daemon.NATS.Subject == "" {
		c.Daemon.NATS.Subject = DefaultNATSSubject
	}
}
