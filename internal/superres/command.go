package superres

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// outputTail is how much stdout/stderr is kept in error messages.
const outputTail = 800

var errTimeout = errors.New("timed out")

// commandResult is the captured output of a finished subprocess.
type commandResult struct {
	Stdout string
	Stderr string
}

// runCommand executes name with args, killing it after timeout. A non-zero
// exit is returned as *exec.ExitError together with the captured output.
func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) (commandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// children that outlive a killed shell must not hold the pipes open
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() == context.DeadlineExceeded {
		return res, errTimeout
	}
	return res, err
}
