package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state, log, and bind address configuration.
type Paths struct {
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	IdentityMap  string `toml:"identity_map"`
	Blacklist    string `toml:"blacklist"`
	OverridesDir string `toml:"overrides_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Relay configures the media relay server the pipelines publish to.
type Relay struct {
	Binary           string `toml:"binary"`
	ConfigPath       string `toml:"config_path"`
	APIAddress       string `toml:"api_address"`
	RTSPAddress      string `toml:"rtsp_address"`
	PublishHost      string `toml:"publish_host"`
	ReadinessTimeout int    `toml:"readiness_timeout"`
	MaxRestarts      int    `toml:"max_restarts"`
	StopGrace        int    `toml:"stop_grace"`
}

// Encoder configures the encoder binary and the default stream parameters.
type Encoder struct {
	Binary           string   `toml:"binary"`
	InputFormat      string   `toml:"input_format"`
	SampleRate       int      `toml:"sample_rate"`
	Channels         int      `toml:"channels"`
	Codec            string   `toml:"codec"`
	Bitrate          string   `toml:"bitrate"`
	FilterChain      string   `toml:"filter_chain"`
	ChannelSplitMode string   `toml:"channel_split_mode"`
	ThreadQueueSize  int      `toml:"thread_queue_size"`
	SuccessMarkers   []string `toml:"success_markers"`
	ErrorMarkers     []string `toml:"error_markers"`
}

// Supervisor configures restart policy and verification for each pipeline.
type Supervisor struct {
	MaxRestarts      int `toml:"max_restarts"`
	StabilityWindow  int `toml:"stability_window"`
	MinRuntime       int `toml:"min_runtime"`
	CooldownBase     int `toml:"cooldown_base"`
	FlapCooldownBase int `toml:"flap_cooldown_base"`
	CooldownMax      int `toml:"cooldown_max"`
	VerifyTimeout    int `toml:"verify_timeout"`
	StopGrace        int `toml:"stop_grace"`
}

// Health configures the control loop cadence.
type Health struct {
	Interval          int  `toml:"interval"`
	DiscoveryInterval int  `toml:"discovery_interval"`
	Hotplug           bool `toml:"hotplug"`
}

// Discovery configures capture-device enumeration and probing.
type Discovery struct {
	CardsPath     string `toml:"cards_path"`
	AsoundDir     string `toml:"asound_dir"`
	SysfsSoundDir string `toml:"sysfs_sound_dir"`
	DevSndDir     string `toml:"dev_snd_dir"`
	USBOnly       bool   `toml:"usb_only"`
	Probe         bool   `toml:"probe"`
	ProbeBinary   string `toml:"probe_binary"`
	ProbeDuration int    `toml:"probe_duration"`
	ProbeTimeout  int    `toml:"probe_timeout"`
	UnlockBusy    bool   `toml:"unlock_busy"`
	NameMaxLength int    `toml:"name_max_length"`
	NameCategory  string `toml:"name_category"`
}

// Lock configures single-instance locking.
type Lock struct {
	Timeout int `toml:"timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Degraded       bool   `toml:"degraded"`
	Relay          bool   `toml:"relay"`
}

// Journal configures the event history database.
type Journal struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Config encapsulates all configuration values for streamkeeper.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories, identity map, blacklist, overrides, API bind
//   - Relay: relay server binary, addresses, readiness and restart budget
//   - Encoder: encoder binary, default stream parameters, log markers
//   - Supervisor: per-pipeline restart policy and verification
//   - Health: control loop and discovery cadence
//   - Discovery: capture-device enumeration and probing
//   - Lock: single-instance lock timeout
//   - Logging: log format, level, and retention
//   - Notifications: ntfy alerts
//   - Journal: event history database
type Config struct {
	Paths         Paths         `toml:"paths"`
	Relay         Relay         `toml:"relay"`
	Encoder       Encoder       `toml:"encoder"`
	Supervisor    Supervisor    `toml:"supervisor"`
	Health        Health        `toml:"health"`
	Discovery     Discovery     `toml:"discovery"`
	Lock          Lock          `toml:"lock"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Journal       Journal       `toml:"journal"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(systemConfigPath); err == nil && !info.IsDir() {
		return systemConfigPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.RunDir(), c.StreamLogDir(), c.Paths.OverridesDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunDir holds liveness files, the lock, and the IPC socket.
func (c *Config) RunDir() string {
	return filepath.Join(c.Paths.StateDir, "run")
}

// StreamLogDir holds one encoder log per stream.
func (c *Config) StreamLogDir() string {
	return filepath.Join(c.Paths.LogDir, "streams")
}

// LockPath returns the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.RunDir(), "streamkeeper.lock")
}

// SocketPath returns the daemon IPC socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.RunDir(), "streamkeeper.sock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.RunDir(), "streamkeeper.pid")
}

// RelayPIDPath returns the liveness file of a relay started by this host.
func (c *Config) RelayPIDPath() string {
	return filepath.Join(c.RunDir(), "relay.pid")
}

// JournalPath returns the event journal database path.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// HealthInterval returns the control loop tick.
func (c *Config) HealthInterval() time.Duration { return seconds(c.Health.Interval) }

// DiscoveryInterval returns the periodic rediscovery interval.
func (c *Config) DiscoveryInterval() time.Duration { return seconds(c.Health.DiscoveryInterval) }

// LockTimeout returns the lock acquisition timeout.
func (c *Config) LockTimeout() time.Duration { return seconds(c.Lock.Timeout) }

// RelayReadinessTimeout returns the relay readiness probe budget.
func (c *Config) RelayReadinessTimeout() time.Duration { return seconds(c.Relay.ReadinessTimeout) }

// RelayStopGrace returns the relay termination grace period.
func (c *Config) RelayStopGrace() time.Duration { return seconds(c.Relay.StopGrace) }

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
