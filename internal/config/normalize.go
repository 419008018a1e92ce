package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRelay()
	c.normalizeEncoder()
	c.normalizeDiscovery()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.IdentityMap, err = expandPath(derivedPath(c.Paths.IdentityMap, c.Paths.StateDir, "identities.conf")); err != nil {
		return fmt.Errorf("paths.identity_map: %w", err)
	}
	if c.Paths.Blacklist, err = expandPath(derivedPath(c.Paths.Blacklist, c.Paths.StateDir, "blacklist.conf")); err != nil {
		return fmt.Errorf("paths.blacklist: %w", err)
	}
	if c.Paths.OverridesDir, err = expandPath(derivedPath(c.Paths.OverridesDir, c.Paths.StateDir, "devices")); err != nil {
		return fmt.Errorf("paths.overrides_dir: %w", err)
	}
	if c.Relay.ConfigPath, err = expandPath(derivedPath(c.Relay.ConfigPath, c.Paths.StateDir, "relay.yml")); err != nil {
		return fmt.Errorf("relay.config_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

// derivedPath returns value when set, otherwise base/name.
func derivedPath(value, base, name string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return filepath.Join(base, name)
}

func (c *Config) normalizeRelay() {
	c.Relay.Binary = strings.TrimSpace(c.Relay.Binary)
	c.Relay.APIAddress = strings.TrimSpace(c.Relay.APIAddress)
	c.Relay.RTSPAddress = strings.TrimSpace(c.Relay.RTSPAddress)
	c.Relay.PublishHost = strings.TrimSpace(c.Relay.PublishHost)
	if c.Relay.PublishHost == "" {
		c.Relay.PublishHost = defaultRelayPublishHost
	}
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Binary = strings.TrimSpace(c.Encoder.Binary)
	c.Encoder.InputFormat = strings.TrimSpace(c.Encoder.InputFormat)
	c.Encoder.Codec = strings.ToLower(strings.TrimSpace(c.Encoder.Codec))
	c.Encoder.Bitrate = strings.TrimSpace(c.Encoder.Bitrate)
	c.Encoder.FilterChain = strings.TrimSpace(c.Encoder.FilterChain)
	c.Encoder.ChannelSplitMode = strings.ToLower(strings.TrimSpace(c.Encoder.ChannelSplitMode))
	if c.Encoder.ChannelSplitMode == "" {
		c.Encoder.ChannelSplitMode = defaultChannelSplitMode
	}
	c.Encoder.SuccessMarkers = compactStrings(c.Encoder.SuccessMarkers)
	c.Encoder.ErrorMarkers = compactStrings(c.Encoder.ErrorMarkers)
}

func (c *Config) normalizeDiscovery() {
	c.Discovery.ProbeBinary = strings.TrimSpace(c.Discovery.ProbeBinary)
	c.Discovery.NameCategory = strings.TrimSpace(c.Discovery.NameCategory)
	if c.Discovery.NameCategory == "" {
		c.Discovery.NameCategory = defaultNameCategory
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if v := strings.TrimSpace(os.Getenv("STREAMKEEPER_LOG_LEVEL")); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
