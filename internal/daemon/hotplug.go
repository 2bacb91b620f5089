package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"nmrauto/internal/logging"
)

// hotplugMonitor listens for udev tty events and connects or disconnects the
// autosampler when its configured port appears or disappears.
type hotplugMonitor struct {
	logger  *slog.Logger
	port    func() string
	added   func(ctx context.Context, device string)
	removed func(ctx context.Context, device string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newHotplugMonitor(
	logger *slog.Logger,
	port func() string,
	added func(ctx context.Context, device string),
	removed func(ctx context.Context, device string),
) *hotplugMonitor {
	return &hotplugMonitor{
		logger:  logging.NewComponentLogger(logger, "hotplug-monitor"),
		port:    port,
		added:   added,
		removed: removed,
	}
}

// Start begins listening for udev netlink events. Failing to open the
// socket is not fatal: operators can still connect manually.
func (m *hotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; autosampler hotplug disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "autosampler must be connected manually after replugging"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
		logging.String("port", m.port()),
	)
	return nil
}

// Stop shuts down the monitor.
func (m *hotplugMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("hotplug monitor stopped",
		logging.String(logging.FieldEventType, "hotplug_monitor_stopped"),
	)
}

func (m *hotplugMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildTTYMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldImpact, "autosampler hotplug may be missed"),
			)
		}
	}
}

// buildTTYMatcher matches SUBSYSTEM=tty with ACTION=add|remove.
func buildTTYMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})
	return rules
}

func (m *hotplugMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	configured := m.port()
	if configured == "" {
		return
	}
	device, ok := matchDevice(uevent, configured)
	if !ok {
		m.logger.Debug("ignoring tty event for other device",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	m.logger.Info("autosampler tty event",
		logging.String(logging.FieldEventType, "hotplug_tty_event"),
		logging.String(logging.FieldDevice, device),
		logging.String("action", string(uevent.Action)),
	)
	switch uevent.Action {
	case netlink.ADD:
		if m.added != nil {
			m.added(ctx, device)
		}
	case netlink.REMOVE:
		if m.removed != nil {
			m.removed(ctx, device)
		}
	}
}

// matchDevice reports whether the event concerns the configured port. The
// port may be a /dev/serial/by-id symlink, which udev lists in DEVLINKS.
func matchDevice(uevent netlink.UEvent, configured string) (string, bool) {
	devname := uevent.Env["DEVNAME"]
	if devname == "" {
		devpath := uevent.Env["DEVPATH"]
		if devpath == "" {
			return "", false
		}
		devname = "/dev/" + filepath.Base(devpath)
	} else if !strings.HasPrefix(devname, "/") {
		devname = "/dev/" + devname
	}

	configured = filepath.Clean(configured)
	if devname == configured {
		return devname, true
	}
	for _, link := range strings.Fields(uevent.Env["DEVLINKS"]) {
		if filepath.Clean(link) == configured {
			return devname, true
		}
	}
	return "", false
}
