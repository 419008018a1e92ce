package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"streamkeeper/internal/config"
)

// CommandOptions holds the encoder invocation settings shared by all streams.
type CommandOptions struct {
	Binary          string
	InputFormat     string
	ThreadQueueSize int
	// PublishBase is the relay URL prefix, e.g. rtsp://127.0.0.1:8554.
	PublishBase string
}

// CommandOptionsFromConfig derives command options from the configuration.
func CommandOptionsFromConfig(cfg *config.Config) CommandOptions {
	return CommandOptions{
		Binary:          cfg.Encoder.Binary,
		InputFormat:     cfg.Encoder.InputFormat,
		ThreadQueueSize: cfg.Encoder.ThreadQueueSize,
		PublishBase:     PublishBase(cfg.Relay.PublishHost, cfg.Relay.RTSPAddress),
	}
}

// PublishBase joins the publish host with the port of the relay RTSP listener.
func PublishBase(host, rtspAddress string) string {
	port := rtspAddress
	if idx := strings.LastIndexByte(rtspAddress, ':'); idx >= 0 {
		port = rtspAddress[idx+1:]
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return "rtsp://" + host + ":" + port
}

var codecEncoders = map[string]string{
	"opus": "libopus",
	"mp3":  "libmp3lame",
	"aac":  "aac",
	"pcm":  "pcm_s16be",
}

func encoderName(codec string) string {
	if name, ok := codecEncoders[codec]; ok {
		return name
	}
	return codec
}

// BuildArgs returns the encoder arguments that capture from input and
// publish stream to the relay under cfg.
func BuildArgs(opts CommandOptions, input, stream string, cfg StreamConfig) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "info",
		"-f", opts.InputFormat,
	}
	if opts.ThreadQueueSize > 0 {
		args = append(args, "-thread_queue_size", strconv.Itoa(opts.ThreadQueueSize))
	}
	args = append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-i", input,
	)

	paths := cfg.PublishPaths(stream)
	if cfg.ChannelSplitMode == SplitStereo {
		graph := "[0:a]"
		if cfg.FilterChain != "" {
			graph += cfg.FilterChain + ","
		}
		graph += "channelsplit=channel_layout=stereo[left][right]"
		args = append(args, "-filter_complex", graph)
		args = append(args, "-map", "[left]")
		args = append(args, outputArgs(opts, cfg, paths[0])...)
		args = append(args, "-map", "[right]")
		args = append(args, outputArgs(opts, cfg, paths[1])...)
		return args
	}

	if cfg.FilterChain != "" {
		args = append(args, "-af", cfg.FilterChain)
	}
	return append(args, outputArgs(opts, cfg, paths[0])...)
}

func outputArgs(opts CommandOptions, cfg StreamConfig, path string) []string {
	args := []string{"-c:a", encoderName(cfg.Codec)}
	if cfg.Bitrate != "" && cfg.Codec != "pcm" {
		args = append(args, "-b:a", cfg.Bitrate)
	}
	return append(args,
		"-f", "rtsp",
		"-rtsp_transport", "tcp",
		PublishURL(opts.PublishBase, path),
	)
}

// PublishURL returns the relay URL of a path.
func PublishURL(base, path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), path)
}
