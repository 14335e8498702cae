package stack

import (
	"context"
	"fmt"
	"time"

	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
)

const (
	readinessInterval = 2 * time.Second
	readinessTimeout  = 90 * time.Second
)

// WaitMySQLReady polls the server inside the container until it answers
// `mysqladmin ping` or the timeout passes. Fixed sleeps are not a
// readiness signal; the probe is bounded and observable.
func WaitMySQLReady(ctx context.Context, r runner.Runner, container, rootPassword string) error {
	return waitMySQLReady(ctx, r, container, rootPassword, readinessTimeout)
}

func waitMySQLReady(ctx context.Context, r runner.Runner, container, rootPassword string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	probe := runner.Invocation{
		Program: "podman",
		Args: []string{
			"exec", container,
			"mysqladmin", "ping", "-uroot", "-p" + rootPassword, "--silent",
		},
	}

	attempt := 0
	for {
		attempt++
		result, err := r.Run(ctx, probe)
		if err == nil && result.Success() {
			logging.L().Debug("mysql ready", "container", container, "attempts", attempt)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mysql in %s not ready after %s (%d probes)", container, timeout, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessInterval):
		}
	}
}
