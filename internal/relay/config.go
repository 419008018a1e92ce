package relay

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"streamkeeper/internal/statestore"
)

const catchAllPath = "all_others"

type pathConfig struct {
	Source string `yaml:"source"`
}

type serverConfig struct {
	LogLevel    string                `yaml:"logLevel"`
	API         bool                  `yaml:"api"`
	APIAddress  string                `yaml:"apiAddress"`
	RTSP        bool                  `yaml:"rtsp"`
	RTSPAddress string                `yaml:"rtspAddress"`
	RTMP        bool                  `yaml:"rtmp"`
	HLS         bool                  `yaml:"hls"`
	WebRTC      bool                  `yaml:"webrtc"`
	SRT         bool                  `yaml:"srt"`
	Paths       map[string]pathConfig `yaml:"paths"`
}

// RenderConfig returns the relay configuration for the given publish paths.
// Every path, plus a catch-all, accepts any publisher.
func RenderConfig(apiAddress, rtspAddress string, paths []string) ([]byte, error) {
	cfg := serverConfig{
		LogLevel:    "info",
		API:         true,
		APIAddress:  apiAddress,
		RTSP:        true,
		RTSPAddress: rtspAddress,
		Paths:       make(map[string]pathConfig, len(paths)+1),
	}
	for _, p := range paths {
		cfg.Paths[p] = pathConfig{Source: "publisher"}
	}
	cfg.Paths[catchAllPath] = pathConfig{Source: "publisher"}

	var buf bytes.Buffer
	buf.WriteString("# Generated by streamkeeper; changes are overwritten.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode relay config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode relay config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteConfig renders and atomically writes the relay configuration to path.
// It reports whether the file content changed.
func WriteConfig(path, apiAddress, rtspAddress string, paths []string) (bool, error) {
	data, err := RenderConfig(apiAddress, rtspAddress, paths)
	if err != nil {
		return false, err
	}
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := statestore.WriteFile(path, data); err != nil {
		return false, fmt.Errorf("write relay config: %w", err)
	}
	return true, nil
}
