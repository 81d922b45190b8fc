package main

import (
	"fmt"
	"os"

	"github.com/nalim-labs/dbusd/internal/audit"
	"github.com/nalim-labs/dbusd/internal/broker"
	"github.com/nalim-labs/dbusd/internal/config"
	"github.com/nalim-labs/dbusd/internal/event"
	"github.com/nalim-labs/dbusd/internal/listener"
	"github.com/nalim-labs/dbusd/internal/logger"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occurred while reading config %v", err)
		return
	}

	loggerCallback := logger.Init("logs", cfg.DebugMode)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	auditSink, err := audit.Connect(cfg)
	if err != nil {
		logger.FatalF("Error occurred while connecting to audit store: %v", err)
		return
	}

	b := broker.New(nil, machineID)
	b.SetAudit(auditSink)

	if len(cfg.Listen) == 0 {
		logger.Fatal("No listen addresses configured")
		return
	}

	listeners := make([]*listener.Listener, 0, len(cfg.Listen))
	for i, addrStr := range cfg.Listen {
		id := listenerID(i)
		l, err := listener.New(id, addrStr, b)
		if err != nil {
			logger.FatalF("Error occurred while binding %q: %v", addrStr, err)
			return
		}
		cleaner.Add(l)
		listeners = append(listeners, l)
	}

	for _, l := range listeners[1:] {
		go func(l *listener.Listener) {
			if err := l.Serve(b); err != nil {
				logger.ErrorF("listener %s stopped: %v", l.ID, err)
			}
		}(l)
	}

	if err := listeners[0].Serve(b); err != nil {
		logger.ErrorF("listener %s stopped: %v", listeners[0].ID, err)
	}
}

func listenerID(i int) string {
	return fmt.Sprintf("%d", i+1)
}

// machineID implements the collaborator spec.md §6 calls get_machine_id,
// reading the same /etc/machine-id file a real D-Bus daemon does, falling
// back to /var/lib/dbus/machine-id.
func machineID() (string, error) {
	data, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		data, err = os.ReadFile("/var/lib/dbus/machine-id")
		if err != nil {
			return "", err
		}
	}
	id := string(data)
	for len(id) > 0 && (id[len(id)-1] == '\n' || id[len(id)-1] == '\r') {
		id = id[:len(id)-1]
	}
	return id, nil
}
