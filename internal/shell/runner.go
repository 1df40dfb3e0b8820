package shell

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mosra/acme/internal/interfaces"
)

// Runner executes shell commands synchronously through `sh -c`.
type Runner struct{}

// Compile-time assertion: Runner implements the collaborator boundary
var _ interfaces.CommandRunner = (*Runner)(nil)

// NewRunner creates a shell command runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes command with sh, in dir when non-empty, piping stdin to the
// command when non-empty, and returns trimmed standard output.
func (r *Runner) Run(command, dir, stdin string) (string, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("command %q failed: %w: %s", command, err, msg)
		}
		return "", fmt.Errorf("command %q failed: %w", command, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
