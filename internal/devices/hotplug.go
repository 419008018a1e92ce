package devices

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"streamkeeper/internal/logging"
)

const defaultHotplugDebounce = 2 * time.Second

// HotplugWatcher listens for udev sound add/remove events and calls trigger
// once a burst of events has settled. A card plug produces several events,
// one per control and PCM node.
type HotplugWatcher struct {
	logger   *slog.Logger
	trigger  func()
	debounce time.Duration

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugWatcher returns a watcher; a non-positive debounce uses 2s.
func NewHotplugWatcher(logger *slog.Logger, debounce time.Duration, trigger func()) *HotplugWatcher {
	if debounce <= 0 {
		debounce = defaultHotplugDebounce
	}
	return &HotplugWatcher{
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		trigger:  trigger,
		debounce: debounce,
	}
}

// Start begins listening. Failing to open the netlink socket is not fatal;
// periodic discovery still picks up new devices.
func (w *HotplugWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket; relying on periodic discovery",
			logging.Error(err),
			logging.String(logging.FieldEventType, "hotplug_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "new devices are picked up on the next discovery interval"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.monitorLoop(ctx, conn, quit)

	w.logger.Info("hotplug watcher started",
		logging.String(logging.FieldEventType, "hotplug_started"),
	)
	return nil
}

// Stop shuts down the watcher. Safe on nil and unstarted watchers.
func (w *HotplugWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Info("hotplug watcher stopped",
		logging.String(logging.FieldEventType, "hotplug_stopped"),
	)
}

// Running reports whether the watcher is active.
func (w *HotplugWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *HotplugWatcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildSoundMatcher())

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.logger.Debug("sound device event",
				logging.String("action", string(uevent.Action)),
				logging.String("kobj", uevent.KObj),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.fire()
		case err := <-errs:
			w.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "hotplug_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "device changes may be noticed late"),
			)
		}
	}
}

func (w *HotplugWatcher) fire() {
	w.logger.Info("sound devices changed; requesting discovery",
		logging.String(logging.FieldEventType, "hotplug_discovery"),
	)
	if w.trigger != nil {
		w.trigger()
	}
}

// buildSoundMatcher matches SUBSYSTEM=sound, ACTION=add|remove.
func buildSoundMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}
