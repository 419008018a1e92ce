package encoder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"streamkeeper/internal/config"
	"streamkeeper/internal/statestore"
)

// SplitMode controls whether a stereo capture is published as one path or as
// one path per channel.
type SplitMode string

const (
	SplitNone   SplitMode = "none"
	SplitStereo SplitMode = "split"
)

// StreamConfig is the immutable encoder configuration of one pipeline run.
type StreamConfig struct {
	SampleRate       int
	Channels         int
	Codec            string
	Bitrate          string
	FilterChain      string
	ChannelSplitMode SplitMode
}

// DefaultsFromConfig returns the global stream defaults.
func DefaultsFromConfig(cfg *config.Config) StreamConfig {
	return StreamConfig{
		SampleRate:       cfg.Encoder.SampleRate,
		Channels:         cfg.Encoder.Channels,
		Codec:            cfg.Encoder.Codec,
		Bitrate:          cfg.Encoder.Bitrate,
		FilterChain:      cfg.Encoder.FilterChain,
		ChannelSplitMode: SplitMode(cfg.Encoder.ChannelSplitMode),
	}
}

// OverridePath returns the per-stream override file location.
func OverridePath(overridesDir, stream string) string {
	return filepath.Join(overridesDir, stream+".conf")
}

// ResolveConfig overlays the stream's override file onto defaults. Keys are
// case-insensitive and unknown keys are ignored. A missing file yields the
// defaults unchanged.
func ResolveConfig(defaults StreamConfig, overridesDir, stream string) (StreamConfig, error) {
	resolved := defaults
	if strings.TrimSpace(overridesDir) == "" {
		return resolved, resolved.Validate()
	}
	path := OverridePath(overridesDir, stream)
	values, err := statestore.ReadKeyValues(path)
	if err != nil {
		return defaults, err
	}
	for rawKey, rawValue := range values {
		value := strings.TrimSpace(rawValue)
		switch strings.ToLower(strings.TrimSpace(rawKey)) {
		case "sample_rate":
			n, err := strconv.Atoi(value)
			if err != nil {
				return defaults, fmt.Errorf("%s: sample_rate %q is not a number", path, value)
			}
			resolved.SampleRate = n
		case "channels":
			n, err := strconv.Atoi(value)
			if err != nil {
				return defaults, fmt.Errorf("%s: channels %q is not a number", path, value)
			}
			resolved.Channels = n
		case "codec":
			resolved.Codec = strings.ToLower(value)
		case "bitrate":
			resolved.Bitrate = value
		case "filter_chain":
			resolved.FilterChain = value
		case "channel_split", "channel_split_mode":
			resolved.ChannelSplitMode = SplitMode(strings.ToLower(value))
		}
	}
	if err := resolved.Validate(); err != nil {
		return defaults, fmt.Errorf("%s: %w", path, err)
	}
	return resolved, nil
}

// Validate checks the configuration is usable by the encoder.
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if strings.TrimSpace(c.Codec) == "" {
		return fmt.Errorf("codec must be set")
	}
	switch c.ChannelSplitMode {
	case SplitNone, "":
	case SplitStereo:
		if c.Channels != 2 {
			return fmt.Errorf("channel_split=split requires 2 channels, got %d", c.Channels)
		}
	default:
		return fmt.Errorf("channel_split %q must be none or split", c.ChannelSplitMode)
	}
	return nil
}

// PublishPaths returns the relay paths a stream publishes to.
func (c StreamConfig) PublishPaths(stream string) []string {
	if c.ChannelSplitMode == SplitStereo {
		return []string{stream + "_left", stream + "_right"}
	}
	return []string{stream}
}
