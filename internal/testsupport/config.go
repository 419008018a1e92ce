package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"streamkeeper/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// State, logs, and the fake sound registry all live under one temp root, and
// probing, hotplug, the HTTP API, and the journal are disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	state := filepath.Join(base, "state")
	cfgVal.Paths.StateDir = state
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.IdentityMap = filepath.Join(state, "identities.conf")
	cfgVal.Paths.Blacklist = filepath.Join(state, "blacklist.conf")
	cfgVal.Paths.OverridesDir = filepath.Join(state, "devices")
	cfgVal.Paths.APIBind = ""
	cfgVal.Relay.ConfigPath = filepath.Join(state, "relay.yml")
	cfgVal.Discovery.AsoundDir = filepath.Join(base, "asound")
	cfgVal.Discovery.CardsPath = filepath.Join(base, "asound", "cards")
	cfgVal.Discovery.SysfsSoundDir = filepath.Join(base, "sys", "class", "sound")
	cfgVal.Discovery.DevSndDir = filepath.Join(base, "dev", "snd")
	cfgVal.Discovery.Probe = false
	cfgVal.Health.Hotplug = false
	cfgVal.Journal.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithJournal enables the event journal.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// WithNtfyTopic points notifications at the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithRelayAPI overrides the relay control endpoint address.
func WithRelayAPI(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Relay.APIAddress = addr
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// (encoder, relay, and capture probe) are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Encoder.Binary, b.cfg.Relay.Binary, b.cfg.Discovery.ProbeBinary}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0")
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
