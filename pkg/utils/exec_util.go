package utils

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const commandTimeout = 10 * time.Second

// RunCommand runs a command with a timeout and returns its combined output.
func RunCommand(name string, args ...string) (string, error) {
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	hideWindow(cmd)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", name, err)
	}
	err := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		logger.Log.Warn("Command timeout", "cmd", name, "args", args)
		return out.String(), fmt.Errorf("command %s timed out after %s", name, commandTimeout)
	}
	return out.String(), err
}
