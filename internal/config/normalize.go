package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Host.BaseURL = strings.TrimRight(strings.TrimSpace(c.Host.BaseURL), "/")
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	c.Fingerprint.ServiceURL = strings.TrimRight(strings.TrimSpace(c.Fingerprint.ServiceURL), "/")
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	if c.Host.NavDebounceMillis <= 0 {
		c.Host.NavDebounceMillis = defaultNavDebounceMillis
	}
	if c.Host.SettleDelayMillis < 0 {
		c.Host.SettleDelayMillis = 0
	}
	if c.Host.FallbackPollSeconds <= 0 {
		c.Host.FallbackPollSeconds = defaultFallbackPollSeconds
	}
	if c.Host.ElementWaitSeconds <= 0 {
		c.Host.ElementWaitSeconds = defaultElementWaitSeconds
	}
	if c.Host.ElementWaitRetries <= 0 {
		c.Host.ElementWaitRetries = defaultElementWaitRetries
	}
	if c.Remote.RequestTimeout <= 0 {
		c.Remote.RequestTimeout = defaultRemoteTimeout
	}
	if c.Remote.CacheTTL <= 0 {
		c.Remote.CacheTTL = defaultCacheTTL
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = defaultCacheMaxEntries
	}
	if c.Fingerprint.RequestTimeout <= 0 {
		c.Fingerprint.RequestTimeout = defaultFingerprintTimeout
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	if c.Engine.StagingPruneHours <= 0 {
		c.Engine.StagingPruneHours = defaultStagingPruneHours
	}
	return nil
}
