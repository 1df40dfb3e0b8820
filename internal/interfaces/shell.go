package interfaces

// CommandRunner is the collaborator boundary for external shell commands.
// Implementations return trimmed standard output and propagate non-zero-exit
// failures as errors.
type CommandRunner interface {
	// Run executes command, in dir when non-empty, with stdin piped to the
	// command's standard input when non-empty.
	Run(command, dir, stdin string) (string, error)
}
