// Package amalgamate merges a tree of source files connected by textual
// include directives into a single self-contained output file, evaluating
// and simplifying conditional-compilation directives along the way. It is
// used to produce single-header distributions of a library.
package amalgamate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mosra/acme/internal/interfaces"
)

// Options pre-seed a run before any pragma in the sources is processed.
type Options struct {
	Comments        bool            // initial comment pass-through, the comments pragma can override
	Paths           []string        // extra include search paths
	LocalPrefixes   []string        // extra angle-bracket prefixes treated as local
	Defines         map[string]bool // pre-seeded forced defines
	RevisionCommand string          // override for the default '*' revision command
}

// DefaultOptions returns the options an unconfigured run starts with.
func DefaultOptions() Options {
	return Options{Comments: true}
}

// Amalgamator drives the whole pipeline for one top-level file at a time:
// a single recursive descent over the include tree, four ordered post-passes
// and the final output write.
type Amalgamator struct {
	logger arbor.ILogger
	runner interfaces.CommandRunner
	opts   Options
}

// New creates an amalgamator with the given logger, shell-command runner and
// pre-seeded options.
func New(logger arbor.ILogger, runner interfaces.CommandRunner, opts Options) *Amalgamator {
	return &Amalgamator{
		logger: logger,
		runner: runner,
		opts:   opts,
	}
}

// Run amalgamates topLevelFile and writes the result to outputPath, creating
// directories as needed. All collection state is owned by this one run, so
// consecutive runs don't leak forced defines or parsed-file sets into each
// other.
func (a *Amalgamator) Run(topLevelFile, outputPath string) error {
	topLevel, err := filepath.Abs(topLevelFile)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", topLevelFile, err)
	}

	ctx := newRunContext(topLevel, filepath.Dir(topLevel))
	ctx.writeComments = a.opts.Comments
	ctx.paths = append(ctx.paths, a.opts.Paths...)
	ctx.localIncludePrefixes = append(ctx.localIncludePrefixes, a.opts.LocalPrefixes...)
	for name, enabled := range a.opts.Defines {
		ctx.forcedDefines[name] = enabled
	}
	if a.opts.RevisionCommand != "" {
		ctx.revisionCommands["*"] = a.opts.RevisionCommand
	}

	lines, err := a.parseFile(ctx, topLevel, 0)
	if err != nil {
		return err
	}

	// The output directory has to exist before the stats pass, its commands
	// run with it as their working directory
	outputDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", outputDir, err)
	}

	lines = applyIncludes(ctx, lines)
	if lines, err = a.applyCopyrights(ctx, lines); err != nil {
		return err
	}
	if lines, err = a.applyRevisions(ctx, lines); err != nil {
		return err
	}
	if lines, err = a.applyStats(ctx, lines, outputDir); err != nil {
		return err
	}

	a.logger.Info().Int("lines", len(lines)).Str("output", outputPath).Msg("Writing amalgamated output")
	if err := os.WriteFile(outputPath, []byte(strings.Join(lines, "")), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	return nil
}
