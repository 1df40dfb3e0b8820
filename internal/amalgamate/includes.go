package amalgamate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// handleInclude decides what happens to one include directive: local
// includes are recursively inlined, system and noexpand includes are
// deduplicated into the most recently opened pending include set.
func (a *Amalgamator) handleInclude(ctx *runContext, s *fileScan, directive, quote, includeFile, line string, level int) error {
	isLocal := quote == `"`
	_, noexpand := ctx.noexpand[includeFile]

	prefix, _, _ := strings.Cut(includeFile, "/")

	if (isLocal || containsString(ctx.localIncludePrefixes, prefix)) && !noexpand {
		var absolute string
		if isLocal && !strings.Contains(includeFile, "/") {
			// A header corresponding to an implementation file, next to it
			absolute = filepath.Join(filepath.Dir(s.path), includeFile)
			if _, err := os.Stat(absolute); err != nil {
				return fmt.Errorf("can't find %s in %s", includeFile, filepath.Dir(s.path))
			}
		} else {
			found := false
			for _, path := range ctx.paths {
				candidate := filepath.Join(path, includeFile)
				if _, err := os.Stat(candidate); err == nil {
					absolute = candidate
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("can't find %s in any of %v", includeFile, ctx.paths)
			}
		}

		if _, parsed := ctx.parsedFiles[absolute]; parsed {
			// Already expanded elsewhere, also makes circular includes inert
			a.logger.Debug().Str("file", includeFile).Msg("Skipping already parsed include")
			return nil
		}

		nested, err := a.parseFile(ctx, absolute, level+1)
		if err != nil {
			return err
		}
		// In the top-level file nested contents are spliced in-place to
		// preserve declared order. Anywhere deeper they go in front of the
		// current file's contents so nested include guards don't end up in
		// the middle of the output.
		if s.path == ctx.topLevel {
			s.out = append(s.out, nested...)
		} else {
			s.includesOut = append(s.includesOut, nested...)
		}
		return nil
	}

	// A system include under any undecided branch is platform-specific, it
	// stays in place instead of being hoisted. The innermost frame alone
	// isn't enough, a decided inner branch may still sit inside an undecided
	// outer one.
	for _, frame := range s.stack[1:] {
		if frame.visibility == VisibilityUnknown {
			s.out = append(s.out, line)
			return nil
		}
	}

	includeLine := directive + "\n"
	if _, seen := ctx.allIncludes[includeLine]; seen {
		return nil
	}
	ctx.allIncludes[includeLine] = struct{}{}

	if len(ctx.newIncludes) == 0 {
		a.logger.Warn().Str("include", directive).Msg("Includes found before an {{includes}} placeholder, the resulting file will have them on the top")
		ctx.newIncludes = append(ctx.newIncludes, map[string]struct{}{})
	}
	ctx.newIncludes[len(ctx.newIncludes)-1][includeLine] = struct{}{}
	return nil
}

// sortIncludes orders one pending include set: angle-bracket entries
// lexicographically, then a blank separator if both groups are non-empty,
// then quoted entries lexicographically.
func sortIncludes(includes map[string]struct{}) []string {
	var angle, quoted []string
	for line := range includes {
		if strings.HasPrefix(line, "#include <") {
			angle = append(angle, line)
		} else {
			quoted = append(quoted, line)
		}
	}
	sort.Strings(angle)
	sort.Strings(quoted)

	out := angle
	if len(angle) > 0 && len(quoted) > 0 {
		out = append(out, "\n")
	}
	return append(out, quoted...)
}

// applyIncludes replaces each {{includes}} marker with the corresponding
// pending include set, in declaration order. Sets left over once the markers
// run out are prepended to the very top.
func applyIncludes(ctx *runContext, lines []string) []string {
	if len(ctx.newIncludes) == 0 {
		return lines
	}

	pending := ctx.newIncludes
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if len(pending) > 0 && strings.TrimSpace(line) == includesMarker {
			result = append(result, sortIncludes(pending[0])...)
			pending = pending[1:]
			continue
		}
		result = append(result, line)
	}

	if len(pending) > 0 {
		// Warning was already printed when the includes were collected
		var top []string
		for _, set := range pending {
			top = append(top, sortIncludes(set)...)
		}
		result = append(top, result...)
	}
	return result
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
