package config

const (
	defaultConfigPath = "~/.config/streamkeeper/config.toml"
	systemConfigPath  = "/etc/streamkeeper/config.toml"

	defaultStateDir = "~/.local/state/streamkeeper"
	defaultLogDir   = "~/.local/state/streamkeeper/logs"
	defaultAPIBind  = "127.0.0.1:9787"

	defaultRelayBinary           = "mediamtx"
	defaultRelayAPIAddress       = "127.0.0.1:9997"
	defaultRelayRTSPAddress      = ":8554"
	defaultRelayPublishHost      = "127.0.0.1"
	defaultRelayReadinessTimeout = 15
	defaultRelayMaxRestarts      = 3
	defaultRelayStopGrace        = 5

	defaultEncoderBinary    = "ffmpeg"
	defaultInputFormat      = "alsa"
	defaultSampleRate       = 48000
	defaultChannels         = 2
	defaultCodec            = "opus"
	defaultBitrate          = "128k"
	defaultChannelSplitMode = "none"
	defaultThreadQueueSize  = 8192

	defaultMaxRestarts      = 10
	defaultStabilityWindow  = 300
	defaultMinRuntime       = 30
	defaultCooldownBase     = 5
	defaultFlapCooldownBase = 15
	defaultCooldownMax      = 300
	defaultVerifyTimeout    = 10
	defaultStopGrace        = 5

	defaultHealthInterval    = 10
	defaultDiscoveryInterval = 60

	defaultCardsPath     = "/proc/asound/cards"
	defaultAsoundDir     = "/proc/asound"
	defaultSysfsSoundDir = "/sys/class/sound"
	defaultDevSndDir     = "/dev/snd"
	defaultProbeBinary   = "arecord"
	defaultProbeDuration = 1
	defaultProbeTimeout  = 5
	defaultNameMaxLength = 32
	defaultNameCategory  = "usb_audio"

	defaultLockTimeout = 5

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30

	defaultNotifyRequestTimeout = 10
	defaultJournalRetentionDays = 30
)

var (
	defaultSuccessMarkers = []string{"Output #0", "Press [q] to stop"}
	defaultErrorMarkers   = []string{
		"Device or resource busy",
		"No such device",
		"No such file or directory",
		"Connection refused",
		"Invalid argument",
		"Error opening input",
		"Error opening output",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Relay: Relay{
			Binary:           defaultRelayBinary,
			APIAddress:       defaultRelayAPIAddress,
			RTSPAddress:      defaultRelayRTSPAddress,
			PublishHost:      defaultRelayPublishHost,
			ReadinessTimeout: defaultRelayReadinessTimeout,
			MaxRestarts:      defaultRelayMaxRestarts,
			StopGrace:        defaultRelayStopGrace,
		},
		Encoder: Encoder{
			Binary:           defaultEncoderBinary,
			InputFormat:      defaultInputFormat,
			SampleRate:       defaultSampleRate,
			Channels:         defaultChannels,
			Codec:            defaultCodec,
			Bitrate:          defaultBitrate,
			ChannelSplitMode: defaultChannelSplitMode,
			ThreadQueueSize:  defaultThreadQueueSize,
			SuccessMarkers:   append([]string(nil), defaultSuccessMarkers...),
			ErrorMarkers:     append([]string(nil), defaultErrorMarkers...),
		},
		Supervisor: Supervisor{
			MaxRestarts:      defaultMaxRestarts,
			StabilityWindow:  defaultStabilityWindow,
			MinRuntime:       defaultMinRuntime,
			CooldownBase:     defaultCooldownBase,
			FlapCooldownBase: defaultFlapCooldownBase,
			CooldownMax:      defaultCooldownMax,
			VerifyTimeout:    defaultVerifyTimeout,
			StopGrace:        defaultStopGrace,
		},
		Health: Health{
			Interval:          defaultHealthInterval,
			DiscoveryInterval: defaultDiscoveryInterval,
			Hotplug:           true,
		},
		Discovery: Discovery{
			CardsPath:     defaultCardsPath,
			AsoundDir:     defaultAsoundDir,
			SysfsSoundDir: defaultSysfsSoundDir,
			DevSndDir:     defaultDevSndDir,
			USBOnly:       true,
			Probe:         true,
			ProbeBinary:   defaultProbeBinary,
			ProbeDuration: defaultProbeDuration,
			ProbeTimeout:  defaultProbeTimeout,
			UnlockBusy:    true,
			NameMaxLength: defaultNameMaxLength,
			NameCategory:  defaultNameCategory,
		},
		Lock: Lock{
			Timeout: defaultLockTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Degraded:       true,
			Relay:          true,
		},
		Journal: Journal{
			Enabled:       true,
			RetentionDays: defaultJournalRetentionDays,
		},
	}
}
