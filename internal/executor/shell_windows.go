//go:build windows

package executor

import (
	"os/exec"
	"time"
)

// prepareCommand keeps the default kill-on-cancel behavior; Windows has no
// process groups to signal.
func prepareCommand(cmd *exec.Cmd, grace time.Duration) {
	cmd.WaitDelay = grace
}
