package config

const (
	defaultDataDir             = "~/.local/share/trackguard"
	defaultLogDir              = "~/.local/share/trackguard/logs"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultEditRoutePattern    = `^/tracks/(\d+)/edit$`
	defaultUploadRoutePattern  = `^/tracks/upload$`
	defaultFormSelector        = "form.track-edit-form"
	defaultTrackNameSelector   = "input[name='track_name']"
	defaultAudioURLSelector    = "input[name='source_audio_url']"
	defaultKeySelector         = "input[name='tg_key']"
	defaultScaleSelector       = "input[name='tg_scale']"
	defaultBPMSelector         = "input[name='tg_bpm']"
	defaultProducersSelector   = "input[name='producers']"
	defaultTagsSelector        = "input[name='tags']"
	defaultLicensingSelector   = "select[name='licensing_type']"
	defaultExclPriceSelector   = "input[name='exclusive_price']"
	defaultExclCurrency        = "input[name='exclusive_currency']"
	defaultDurationSelector    = "input[name='track_duration_ms']"
	defaultContainerSelector   = "#trackguard-panel"
	defaultSettleDelayMillis   = 250
	defaultNavDebounceMillis   = 100
	defaultFallbackPollSeconds = 30
	defaultElementWaitSeconds  = 10
	defaultElementWaitRetries  = 3
	defaultRemoteTimeout       = 10
	defaultCacheTTL            = 300
	defaultCacheBackend        = "memory"
	defaultCacheMaxEntries     = 256
	defaultFingerprintTimeout  = 60
	defaultNotifyTimeout       = 10
	defaultStagingPruneHours   = 72
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Host: Host{
			EditRoutePattern:     defaultEditRoutePattern,
			UploadRoutePattern:   defaultUploadRoutePattern,
			FormSelector:         defaultFormSelector,
			TrackNameSelector:    defaultTrackNameSelector,
			AudioURLSelector:     defaultAudioURLSelector,
			KeySelector:          defaultKeySelector,
			ScaleSelector:        defaultScaleSelector,
			BPMSelector:          defaultBPMSelector,
			ProducersSelector:    defaultProducersSelector,
			TagsSelector:         defaultTagsSelector,
			LicensingSelector:    defaultLicensingSelector,
			ExclPriceSelector:    defaultExclPriceSelector,
			ExclCurrencySelector: defaultExclCurrency,
			DurationSelector:     defaultDurationSelector,
			ContainerSelector:    defaultContainerSelector,
			SettleDelayMillis:    defaultSettleDelayMillis,
			NavDebounceMillis:    defaultNavDebounceMillis,
			FallbackPollSeconds:  defaultFallbackPollSeconds,
			ElementWaitSeconds:   defaultElementWaitSeconds,
			ElementWaitRetries:   defaultElementWaitRetries,
		},
		Remote: Remote{
			RequestTimeout: defaultRemoteTimeout,
			CacheTTL:       defaultCacheTTL,
		},
		Cache: Cache{
			Backend:    defaultCacheBackend,
			MaxEntries: defaultCacheMaxEntries,
		},
		Fingerprint: Fingerprint{
			RequestTimeout: defaultFingerprintTimeout,
		},
		Browser: Browser{
			Headless: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Protected:      true,
			Violations:     true,
		},
		Engine: Engine{
			AutoScan:          false,
			StagingPruneHours: defaultStagingPruneHours,
		},
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
