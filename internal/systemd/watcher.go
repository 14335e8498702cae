package systemd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// UnitEvent is one ActiveState transition of a watched unit.
type UnitEvent struct {
	Unit      string
	OldState  string
	NewState  string
	Timestamp time.Time
}

// Watch subscribes to systemd state changes for the given units and
// calls onEvent for every transition until ctx is cancelled. Serve mode
// uses it to surface container unit flaps without polling.
func Watch(ctx context.Context, units []string, onEvent func(UnitEvent)) error {
	if len(units) == 0 {
		return nil
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	tracked := make(map[dbus.ObjectPath]string, len(units))
	states := make(map[string]string, len(units))
	for _, unit := range units {
		path, err := unitPath(conn, unit)
		if err != nil {
			// Unit not loaded yet; JobRemoved signals still cover it.
			continue
		}
		tracked[path] = unit
		if state, err := activeState(conn, path); err == nil {
			states[unit] = state
		}
	}

	matchProps := "type='signal',sender='org.freedesktop.systemd1',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'"
	matchJobs := "type='signal',sender='org.freedesktop.systemd1',interface='org.freedesktop.systemd1.Manager',member='JobRemoved'"
	if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchProps); call.Err != nil {
		return fmt.Errorf("failed to subscribe to property changes: %w", call.Err)
	}
	conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchJobs)

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)

	emit := func(unit, newState string) {
		old := states[unit]
		if newState == "" || newState == old {
			return
		}
		states[unit] = newState
		onEvent(UnitEvent{Unit: unit, OldState: old, NewState: newState, Timestamp: time.Now()})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-signals:
			if sig == nil {
				continue
			}
			switch sig.Name {
			case "org.freedesktop.DBus.Properties.PropertiesChanged":
				unit, ok := tracked[sig.Path]
				if !ok || len(sig.Body) < 2 {
					continue
				}
				changed, ok := sig.Body[1].(map[string]dbus.Variant)
				if !ok {
					continue
				}
				variant, ok := changed["ActiveState"]
				if !ok {
					continue
				}
				state, _ := variant.Value().(string)
				emit(unit, state)

			case "org.freedesktop.systemd1.Manager.JobRemoved":
				if len(sig.Body) < 4 {
					continue
				}
				finished, _ := sig.Body[2].(string)
				finished = strings.TrimSpace(finished)
				for _, unit := range units {
					if unit != finished {
						continue
					}
					path, err := unitPath(conn, unit)
					if err != nil {
						continue
					}
					tracked[path] = unit
					if state, err := activeState(conn, path); err == nil {
						emit(unit, state)
					}
				}
			}
		}
	}
}

// Snapshot returns the current ActiveState of each unit. Units that are
// not loaded are omitted.
func Snapshot(units []string) (map[string]string, error) {
	result := make(map[string]string, len(units))
	if len(units) == 0 {
		return result, nil
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return result, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	for _, unit := range units {
		path, err := unitPath(conn, unit)
		if err != nil {
			continue
		}
		if state, err := activeState(conn, path); err == nil {
			result[unit] = state
		}
	}
	return result, nil
}

func unitPath(conn *dbus.Conn, unit string) (dbus.ObjectPath, error) {
	obj := conn.Object("org.freedesktop.systemd1", "/org/freedesktop/systemd1")
	call := obj.Call("org.freedesktop.systemd1.Manager.GetUnit", 0, unit)
	if call.Err != nil {
		return "", call.Err
	}
	path, ok := call.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", fmt.Errorf("unexpected unit path type")
	}
	return path, nil
}

func activeState(conn *dbus.Conn, path dbus.ObjectPath) (string, error) {
	obj := conn.Object("org.freedesktop.systemd1", path)
	variant, err := obj.GetProperty("org.freedesktop.systemd1.Unit.ActiveState")
	if err != nil {
		return "", err
	}
	state, _ := variant.Value().(string)
	return state, nil
}
