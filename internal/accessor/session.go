package accessor

import (
	"context"
	"fmt"
	"slices"

	"github.com/godbus/dbus/v5"
)

const secretServiceName = "org.freedesktop.secrets"

// SessionChecker reports whether a secret service can be reached.
type SessionChecker func(ctx context.Context) error

// checkSecretServiceSession verifies that a D-Bus session bus is reachable and
// that a secret service either owns its well-known name or can be activated.
// Headless sessions (SSH, CI, containers) fail here instead of hanging on an
// unlock prompt.
func checkSecretServiceSession(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	bus := conn.BusObject()

	var owned bool
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, secretServiceName).Store(&owned); err != nil {
		return fmt.Errorf("query %s owner: %w", secretServiceName, err)
	}
	if owned {
		return nil
	}

	var activatable []string
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.ListActivatableNames", 0).Store(&activatable); err != nil {
		return fmt.Errorf("list activatable names: %w", err)
	}
	if slices.Contains(activatable, secretServiceName) {
		return nil
	}

	return fmt.Errorf("no secret service on the session bus")
}
