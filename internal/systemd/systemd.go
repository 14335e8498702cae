// Package systemd talks to the systemd manager over the system D-Bus to
// reload units and toggle the generated container-*.service units.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName     = "org.freedesktop.systemd1"
	managerPath = dbus.ObjectPath("/org/freedesktop/systemd1")
	managerIfc  = "org.freedesktop.systemd1.Manager"
	unitIfc     = "org.freedesktop.systemd1.Unit"
)

// Manager wraps a system-bus connection to systemd.
type Manager struct {
	conn *dbus.Conn
}

// Connect opens the system bus. Callers fall back to systemctl shell-outs
// when this fails, e.g. inside containers without a bus socket.
func Connect() (*Manager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Close releases the bus connection.
func (m *Manager) Close() error {
	return m.conn.Close()
}

func (m *Manager) manager() dbus.BusObject {
	return m.conn.Object(busName, managerPath)
}

// DaemonReload asks systemd to re-read unit files.
func (m *Manager) DaemonReload(ctx context.Context) error {
	call := m.manager().CallWithContext(ctx, managerIfc+".Reload", 0)
	if call.Err != nil {
		return fmt.Errorf("daemon-reload: %w", call.Err)
	}
	return nil
}

// EnableUnit enables a unit file persistently.
func (m *Manager) EnableUnit(ctx context.Context, unit string) error {
	call := m.manager().CallWithContext(ctx, managerIfc+".EnableUnitFiles", 0, []string{unit}, false, true)
	if call.Err != nil {
		return fmt.Errorf("enable %s: %w", unit, call.Err)
	}
	return nil
}

// StartUnit starts a unit, replacing any queued conflicting job.
func (m *Manager) StartUnit(ctx context.Context, unit string) error {
	var job dbus.ObjectPath
	call := m.manager().CallWithContext(ctx, managerIfc+".StartUnit", 0, unit, "replace")
	if call.Err != nil {
		return fmt.Errorf("start %s: %w", unit, call.Err)
	}
	return call.Store(&job)
}

// StopUnit stops a unit.
func (m *Manager) StopUnit(ctx context.Context, unit string) error {
	var job dbus.ObjectPath
	call := m.manager().CallWithContext(ctx, managerIfc+".StopUnit", 0, unit, "replace")
	if call.Err != nil {
		return fmt.Errorf("stop %s: %w", unit, call.Err)
	}
	return call.Store(&job)
}

// ActiveState returns the unit's ActiveState property ("active",
// "inactive", "failed", ...).
func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	var path dbus.ObjectPath
	call := m.manager().CallWithContext(ctx, managerIfc+".LoadUnit", 0, unit)
	if call.Err != nil {
		return "", fmt.Errorf("load unit %s: %w", unit, call.Err)
	}
	if err := call.Store(&path); err != nil {
		return "", err
	}

	variant, err := m.conn.Object(busName, path).GetProperty(unitIfc + ".ActiveState")
	if err != nil {
		return "", fmt.Errorf("read ActiveState of %s: %w", unit, err)
	}
	state, _ := variant.Value().(string)
	return state, nil
}

// WaitActive polls the unit until it reports active or the deadline passes.
func (m *Manager) WaitActive(ctx context.Context, unit string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		state, err := m.ActiveState(ctx, unit)
		if err == nil && state == "active" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("unit %s not active after %s (state %q)", unit, timeout, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
