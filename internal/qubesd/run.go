package qubesd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const qvmRunBin = "/usr/bin/qvm-run"

// Command execution hook, overridden in tests.
var qvmRun = func(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, qvmRunBin, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// runArgs builds the qvm-run argv that starts app through the
// qubes.StartApp service. --no-autostart makes a halted qube an error
// instead of an implicit start.
func runArgs(vm, app string) []string {
	return []string{"--quiet", "--no-autostart", "--service", "--", vm, "qubes.StartApp+" + app}
}

// RunApplication asks the qube to start one of its menu applications. It
// returns once the service call was accepted.
func RunApplication(ctx context.Context, vm, app string) error {
	out, err := qvmRun(ctx, runArgs(vm, app)...)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("qvm-run %s %s: %w", vm, app, ctx.Err())
		}
		if out != "" {
			return fmt.Errorf("qvm-run %s %s: %w: %s", vm, app, err, out)
		}
		return fmt.Errorf("qvm-run %s %s: %w", vm, app, err)
	}
	return nil
}
