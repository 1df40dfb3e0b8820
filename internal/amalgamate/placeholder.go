package amalgamate

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultRevisionCommand describes the current revision when no custom
// command was bound to the default '*' key.
const DefaultRevisionCommand = "git describe --dirty --always"

// applyRevisions substitutes {{revision}} and {{revision:SUBPATH}}
// placeholders. Each bound command runs at most once, in the directory of
// the file matching the key's sub-path (the top-level file's directory for
// the default key).
func (a *Amalgamator) applyRevisions(ctx *runContext, lines []string) ([]string, error) {
	if _, ok := ctx.revisionCommands["*"]; !ok {
		ctx.revisionCommands["*"] = DefaultRevisionCommand
	}

	for key, command := range ctx.revisionCommands {
		placeholder := "{{revision}}"
		if key != "*" {
			placeholder = "{{revision:" + key + "}}"
		}

		revision := ""
		computed := false
		for i, line := range lines {
			if !strings.Contains(line, placeholder) {
				continue
			}
			if !computed {
				dir, err := a.revisionDir(ctx, key, placeholder)
				if err != nil {
					return nil, err
				}
				out, err := a.runner.Run(command, dir, "")
				if err != nil {
					return nil, fmt.Errorf("revision command %q: %w", command, err)
				}
				a.logger.Debug().Str("placeholder", placeholder).Str("revision", out).Msg("Resolved revision")
				revision = out
				computed = true
			}
			lines[i] = strings.ReplaceAll(line, placeholder, revision)
		}
	}
	return lines, nil
}

// revisionDir picks the working directory for a revision command: for the
// default key the top-level file's directory, otherwise the directory of a
// parsed file whose real path contains the key.
func (a *Amalgamator) revisionDir(ctx *runContext, key, placeholder string) (string, error) {
	if key == "*" {
		return filepath.Dir(realPath(ctx.topLevel)), nil
	}
	for file := range ctx.parsedFiles {
		if real := realPath(file); strings.Contains(real, key) {
			return filepath.Dir(real), nil
		}
	}
	return "", fmt.Errorf("no matching file found for expanding %s", placeholder)
}

func realPath(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}

// applyStats substitutes {{stats:ID}} placeholders. Each bound command runs
// at most once, in the output directory, with the full current output piped
// to its standard input.
func (a *Amalgamator) applyStats(ctx *runContext, lines []string, outputDir string) ([]string, error) {
	for id, command := range ctx.statsCommands {
		placeholder := "{{stats:" + id + "}}"

		stats := ""
		computed := false
		for i, line := range lines {
			if !strings.Contains(line, placeholder) {
				continue
			}
			if !computed {
				out, err := a.runner.Run(command, outputDir, strings.Join(lines, ""))
				if err != nil {
					return nil, fmt.Errorf("stats command %q: %w", command, err)
				}
				a.logger.Debug().Str("placeholder", placeholder).Str("stats", out).Msg("Resolved statistics")
				stats = out
				computed = true
			}
			lines[i] = strings.ReplaceAll(line, placeholder, stats)
		}
	}
	return lines, nil
}
