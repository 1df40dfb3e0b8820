package amalgamate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	includeRx           = regexp.MustCompile(`^(#include (["<])([^">]+)[">]).*$`)
	preprocessorRx      = regexp.MustCompile(`^(\s*)#(ifdef|ifndef|if|else|elif|endif)\s*([^/]*)(/[/*].*)?$`)
	defineRx            = regexp.MustCompile(`^\s*#(define|undef) (\S+)\s*$`)
	lineCommentRx       = regexp.MustCompile(`^\s*(/\*.*\*/|//.*)?\s*$`)
	copyrightRx         = regexp.MustCompile(`^\s+Copyright © \d{4}.+$`)
	blockCommentStartRx = regexp.MustCompile(`^\s*/\*`)
	blockCommentEndRx   = regexp.MustCompile(`\*/\s*$`)
	pragmaRx            = regexp.MustCompile(`^#pragma\s+ACME\s+(\S+)\s*(.*?)\s*$`)
)

const includesMarker = "// {{includes}}"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// fileScan is the per-file scan state. Every recursive descent into an
// included file gets its own instance with an independent branch stack;
// collection state is shared through the runContext instead.
type fileScan struct {
	path string

	out         []string // output line buffer, lines keep their newline
	includesOut []string // nested include contents, prepended on return

	stack []branchFrame

	inComment          bool
	commentBuffer      []string
	multilineCopyright string
}

// parseFile scans one file line by line, recursing into expandable includes,
// and returns its assembled lines. The file is marked as parsed before
// recursing so that circular includes stay inert instead of looping.
func (a *Amalgamator) parseFile(ctx *runContext, path string, level int) ([]string, error) {
	a.logger.Info().Str("file", path).Int("level", level).Msg("Parsing file")

	ctx.parsedFiles[path] = struct{}{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if bytes.HasPrefix(data, utf8BOM) {
		return nil, fmt.Errorf("%s: starts with a UTF-8 byte order mark, amalgamated headers have to be BOM-free", path)
	}

	s := &fileScan{
		path: path,
		// Implicit always-included root frame
		stack: []branchFrame{{isReal: true, visibility: VisibilityIncluded}},
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := a.scanLine(ctx, s, scanner.Text()+"\n", level); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(s.stack) != 1 {
		return nil, fmt.Errorf("%s: unbalanced preprocessor directives at end of file", path)
	}

	// Drop empty lines off the end
	for len(s.out) > 0 && strings.TrimSpace(s.out[len(s.out)-1]) == "" {
		s.out = s.out[:len(s.out)-1]
	}

	return append(s.includesOut, s.out...), nil
}

// scanLine classifies a single line and routes it to the branch state
// machine, the include resolver, the copyright aggregator or the output
// buffer. line keeps its trailing newline.
func (a *Amalgamator) scanLine(ctx *runContext, s *fileScan, line string, level int) error {
	visible := s.stack[len(s.stack)-1].visibility != VisibilityExcluded
	bare := strings.TrimSuffix(line, "\n")

	// Continuation of an open block comment. Contents are buffered and
	// written once the comment closes, with copyright notices intercepted
	// into the global set instead.
	if s.inComment {
		if blockCommentEndRx.MatchString(bare) {
			if s.multilineCopyright != "" {
				return fmt.Errorf("%s: comment ends in the middle of a multi-line copyright notice", s.path)
			}
			s.inComment = false
			if visible && len(s.commentBuffer) > 0 {
				s.out = append(s.out, s.commentBuffer...)
				s.out = append(s.out, line)
				s.commentBuffer = nil
			}
			return nil
		}
		if !visible {
			return nil
		}

		if s.multilineCopyright != "" {
			s.multilineCopyright += line
			if strings.HasSuffix(strings.TrimRight(line, " \t\n"), ">") {
				ctx.copyrights[s.multilineCopyright] = struct{}{}
				s.multilineCopyright = ""
			}
			return nil
		}
		if copyrightRx.MatchString(bare) {
			// License block, extract just the copyrights and drop the rest
			s.commentBuffer = nil
			switch trimmed := strings.TrimRight(line, " \t\n"); {
			case strings.HasSuffix(trimmed, ">"):
				ctx.copyrights[line] = struct{}{}
			case strings.HasSuffix(trimmed, ","):
				s.multilineCopyright = line
			}
			return nil
		}
		// The buffer is empty when the comment is being thrown away
		if len(s.commentBuffer) > 0 {
			s.commentBuffer = append(s.commentBuffer, line)
		}
		return nil
	}

	// Single-line comment or a blank line
	if lineCommentRx.MatchString(bare) {
		stripped := strings.TrimSpace(line)

		// An {{includes}} placeholder opens a new pending include set and
		// always passes through, even with comments suppressed
		if stripped == includesMarker {
			ctx.newIncludes = append(ctx.newIncludes, map[string]struct{}{})
			if visible {
				s.out = append(s.out, line)
			}
			return nil
		}

		// Keep a comment only when comments are enabled, and a blank line
		// only when it's neither first in the file nor following another
		// blank line
		if visible && ((stripped != "" && ctx.writeComments) ||
			(stripped == "" && len(s.out) > 0 && strings.TrimSpace(s.out[len(s.out)-1]) != "")) {
			s.out = append(s.out, line)
		}
		return nil
	}

	// Start of a block comment spanning multiple lines
	if blockCommentStartRx.MatchString(bare) && !strings.Contains(line, "*/") {
		s.inComment = true
		if visible && ctx.writeComments {
			s.commentBuffer = []string{line}
		}
		return nil
	}

	// Preprocessor branch directive
	if m := preprocessorRx.FindStringSubmatch(bare); m != nil {
		indent, what := m[1], m[2]
		value := strings.TrimSpace(m[3])
		comment := m[4]
		if comment != "" {
			comment = " " + comment
		}
		return s.handleDirective(ctx, what, indent, value, comment)
	}

	// Anything below carries content, which an excluded branch drops without
	// further classification
	if !visible {
		return nil
	}

	// Include directive
	if m := includeRx.FindStringSubmatch(bare); m != nil {
		return a.handleInclude(ctx, s, m[1], m[2], m[3], line, level)
	}

	// Tool pragma
	if m := pragmaRx.FindStringSubmatch(bare); m != nil {
		a.handlePragma(ctx, m[1], m[2])
		return nil
	}

	// A define/undef of a forced macro is dropped, the forced value already
	// replaced its uses
	if m := defineRx.FindStringSubmatch(bare); m != nil {
		if _, forced := ctx.forcedDefines[m[2]]; forced {
			return nil
		}
	}

	// Plain text, kept verbatim. With comments suppressed a trailing block
	// comment is stripped off the line.
	if !ctx.writeComments && strings.HasSuffix(strings.TrimRight(line, " \t\n"), "*/") {
		if idx := strings.LastIndex(line, "/*"); idx >= 0 {
			s.out = append(s.out, strings.TrimRight(line[:idx], " \t")+"\n")
			return nil
		}
	}
	s.out = append(s.out, line)
	return nil
}

// handlePragma applies one #pragma ACME directive to the run context.
// Unrecognized verbs are dropped with a warning.
func (a *Amalgamator) handlePragma(ctx *runContext, what, value string) {
	switch what {
	case "enable":
		ctx.forcedDefines[value] = true
	case "disable":
		ctx.forcedDefines[value] = false
	case "path":
		ctx.paths = append(ctx.paths, filepath.Join(ctx.baseDir, value))
	case "local":
		ctx.localIncludePrefixes = append(ctx.localIncludePrefixes, value)
	case "comments":
		ctx.writeComments = value == "on"
	case "revision":
		key, command := splitPragmaValue(value)
		ctx.revisionCommands[key] = command
	case "stats":
		id, command := splitPragmaValue(value)
		ctx.statsCommands[id] = command
	case "noexpand":
		ctx.noexpand[value] = struct{}{}
	default:
		a.logger.Warn().Str("verb", what).Str("value", value).Msg("Unknown #pragma ACME, ignoring")
	}
}

func splitPragmaValue(value string) (string, string) {
	key, command, _ := strings.Cut(value, " ")
	return key, strings.TrimSpace(command)
}
