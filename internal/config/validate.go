package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var supportedSplitModes = map[string]struct{}{
	"none":  {},
	"split": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.APIBind != "" {
		if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
			return fmt.Errorf("paths.api_bind %q must be host:port: %w", c.Paths.APIBind, err)
		}
	}
	return nil
}

func (c *Config) validateRelay() error {
	if c.Relay.Binary == "" {
		return errors.New("relay.binary must be set")
	}
	if _, _, err := net.SplitHostPort(c.Relay.APIAddress); err != nil {
		return fmt.Errorf("relay.api_address %q must be host:port: %w", c.Relay.APIAddress, err)
	}
	if _, _, err := net.SplitHostPort(c.Relay.RTSPAddress); err != nil {
		return fmt.Errorf("relay.rtsp_address %q must be host:port: %w", c.Relay.RTSPAddress, err)
	}
	if err := ensurePositiveMap(map[string]int{
		"relay.readiness_timeout": c.Relay.ReadinessTimeout,
		"relay.stop_grace":        c.Relay.StopGrace,
	}); err != nil {
		return err
	}
	if c.Relay.MaxRestarts < 0 {
		return errors.New("relay.max_restarts must be >= 0")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if c.Encoder.Binary == "" {
		return errors.New("encoder.binary must be set")
	}
	if c.Encoder.SampleRate <= 0 {
		return errors.New("encoder.sample_rate must be positive")
	}
	if c.Encoder.Channels <= 0 {
		return errors.New("encoder.channels must be positive")
	}
	if c.Encoder.Codec == "" {
		return errors.New("encoder.codec must be set")
	}
	if _, ok := supportedSplitModes[c.Encoder.ChannelSplitMode]; !ok {
		return fmt.Errorf("encoder.channel_split_mode %q must be one of none, split", c.Encoder.ChannelSplitMode)
	}
	if c.Encoder.ChannelSplitMode == "split" && c.Encoder.Channels != 2 {
		return errors.New("encoder.channel_split_mode = split requires encoder.channels = 2")
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	s := c.Supervisor
	if err := ensurePositiveMap(map[string]int{
		"supervisor.max_restarts":       s.MaxRestarts,
		"supervisor.stability_window":   s.StabilityWindow,
		"supervisor.cooldown_base":      s.CooldownBase,
		"supervisor.flap_cooldown_base": s.FlapCooldownBase,
		"supervisor.cooldown_max":       s.CooldownMax,
		"supervisor.verify_timeout":     s.VerifyTimeout,
		"supervisor.stop_grace":         s.StopGrace,
		"health.interval":               c.Health.Interval,
		"health.discovery_interval":     c.Health.DiscoveryInterval,
		"lock.timeout":                  c.Lock.Timeout,
	}); err != nil {
		return err
	}
	if s.MinRuntime < 0 {
		return errors.New("supervisor.min_runtime must be >= 0")
	}
	if s.CooldownMax < s.CooldownBase || s.CooldownMax < s.FlapCooldownBase {
		return errors.New("supervisor.cooldown_max must be >= cooldown_base and flap_cooldown_base")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if strings.TrimSpace(c.Discovery.CardsPath) == "" {
		return errors.New("discovery.cards_path must be set")
	}
	if c.Discovery.Probe {
		if c.Discovery.ProbeBinary == "" {
			return errors.New("discovery.probe_binary must be set when discovery.probe is true")
		}
		if c.Discovery.ProbeDuration <= 0 || c.Discovery.ProbeTimeout <= 0 {
			return errors.New("discovery.probe_duration and discovery.probe_timeout must be positive")
		}
	}
	if c.Discovery.NameMaxLength < 4 {
		return errors.New("discovery.name_max_length must be at least 4")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
