package amalgamate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// stubRunner stands in for the shell-command collaborator, keyed by command
type stubRunner struct {
	outputs map[string]string
	calls   map[string]int
	dirs    map[string]string
	stdins  map[string]string
}

func newStubRunner(outputs map[string]string) *stubRunner {
	return &stubRunner{
		outputs: outputs,
		calls:   map[string]int{},
		dirs:    map[string]string{},
		stdins:  map[string]string{},
	}
}

func (r *stubRunner) Run(command, dir, stdin string) (string, error) {
	r.calls[command]++
	r.dirs[command] = dir
	r.stdins[command] = stdin
	output, ok := r.outputs[command]
	if !ok {
		return "", fmt.Errorf("unexpected command %q", command)
	}
	return output, nil
}

func newTestAmalgamator(runner *stubRunner) *Amalgamator {
	if runner == nil {
		runner = newStubRunner(nil)
	}
	return New(arbor.NewLogger(), runner, DefaultOptions())
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runToString(t *testing.T, a *Amalgamator, topLevel string) string {
	t.Helper()
	output := filepath.Join(t.TempDir(), "output", filepath.Base(topLevel))
	require.NoError(t, a.Run(topLevel, output))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	return string(data)
}

func TestRun_InlinesLocalIncludes(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "inner.h", "#include <vector>\nint inner();\n")
	top := writeSource(t, dir, "top.h", "// {{includes}}\n\n#include \"inner.h\"\nint top();\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "#include <vector>\n\nint inner();\nint top();\n", output)
}

func TestRun_HoistsNestedIncludeContents(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "n.h", "int n();\n")
	writeSource(t, dir, "m.h", "#include \"n.h\"\nint m();\n")
	top := writeSource(t, dir, "top.h", "#include \"m.h\"\nint top();\n")

	// Content of an include nested below the top level goes in front of the
	// including file, so its include guards don't end up mid-output
	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int n();\nint m();\nint top();\n", output)
}

func TestRun_CircularIncludesStayInert(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "b.h", "#include \"a.h\"\nint b();\n")
	top := writeSource(t, dir, "a.h", "#include \"b.h\"\nint a();\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, 1, strings.Count(output, "int a();"))
	assert.Equal(t, 1, strings.Count(output, "int b();"))
}

func TestRun_IncludeNotFound(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "#include \"missing.h\"\n")

	err := newTestAmalgamator(nil).Run(top, filepath.Join(t.TempDir(), "top.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't find missing.h")
}

func TestRun_SearchPathIncludeNotFound(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "#pragma ACME local Lib\n#include <Lib/x.h>\n")

	err := newTestAmalgamator(nil).Run(top, filepath.Join(t.TempDir(), "top.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't find Lib/x.h")
}

func TestRun_CollapsesDecidedConditionals(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME enable FOO",
		"#pragma ACME disable BAR",
		"#if defined(FOO)",
		"int foo();",
		"#endif",
		"#ifdef BAR",
		"int bar();",
		"#else",
		"int baz();",
		"#endif",
		"#if defined(OTHER) && !defined(BAR)",
		"int other();",
		"#endif",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, strings.Join([]string{
		"int foo();",
		"int baz();",
		"#ifdef OTHER",
		"int other();",
		"#endif",
	}, "\n")+"\n", output)
}

func TestRun_ElidesEmptyPreservedConditional(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "#ifdef SOMETHING\n#endif\nint x();\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int x();\n", output)
}

func TestRun_ElifChain(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME disable A",
		"#if defined(A)",
		"int a();",
		"#elif defined(B)",
		"int b();",
		"#else",
		"int c();",
		"#endif",
	}, "\n")+"\n")

	// The decided first branch disappears, the undecided elif becomes the
	// opening condition
	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, strings.Join([]string{
		"#ifdef B",
		"int b();",
		"#else",
		"int c();",
		"#endif",
	}, "\n")+"\n", output)
}

func TestRun_ElifBothUnknownPreserved(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#if defined(A)",
		"int a();",
		"#elif defined(B)",
		"int b();",
		"#endif",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, strings.Join([]string{
		"#ifdef A",
		"int a();",
		"#elif defined(B)",
		"int b();",
		"#endif",
	}, "\n")+"\n", output)
}

func TestRun_ExcludedParentOverridesChildren(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME disable A",
		"#ifdef A",
		"#ifdef B",
		"int b();",
		"#endif",
		"#else",
		"int c();",
		"#endif",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int c();\n", output)
}

func TestRun_RejectsByteOrderMark(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "\xEF\xBB\xBFint x();\n")

	err := newTestAmalgamator(nil).Run(top, filepath.Join(t.TempDir(), "top.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte order mark")
}

func TestRun_UnbalancedDirectives(t *testing.T) {
	dir := t.TempDir()

	top := writeSource(t, dir, "open.h", "#ifdef A\nint x();\n")
	err := newTestAmalgamator(nil).Run(top, filepath.Join(t.TempDir(), "open.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced")

	top = writeSource(t, dir, "stray.h", "#endif\n")
	err = newTestAmalgamator(nil).Run(top, filepath.Join(t.TempDir(), "stray.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#endif without a matching #if")
}

func TestRun_MergesCopyrights(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"/*",
		"    Copyright © 2016 John Doe <john@doe.com>",
		"    Copyright © 2016, 2018 John Doe <john@doe.com>",
		"    Copyright © 2017, 2018, 2019,",
		"                2020 Vladimír Vondruš <mosra@centrum.cz>",
		"",
		"    Permission is hereby granted, free of charge.",
		"*/",
		"{{copyright}}",
		"int x();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Contains(t, output, "Copyright © 2016, 2018 John Doe <john@doe.com>")
	assert.NotContains(t, output, "Copyright © 2016 John Doe <john@doe.com>\n")
	assert.Contains(t, output, "Vladimír Vondruš")
	// The license block itself is consumed by the aggregator
	assert.NotContains(t, output, "Permission is hereby granted")
	assert.NotContains(t, output, "{{copyright}}")
}

func TestRun_CopyrightYearConflict(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"/*",
		"    Copyright © 2016 John Doe <john@doe.com>",
		"    Copyright © 2017 John Doe <john@doe.com>",
		"*/",
		"{{copyright}}",
	}, "\n")+"\n")

	err := newTestAmalgamator(nil).Run(top, filepath.Join(t.TempDir(), "top.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2017")
}

func TestRun_MissingCopyrightPlaceholderIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"/*",
		"    Copyright © 2016 John Doe <john@doe.com>",
		"*/",
		"int x();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int x();\n", output)
}

func TestRun_CommentSuppression(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME comments off",
		"// a comment",
		"int x(); /* trailing */",
		"/* block",
		"   comment */",
		"int y();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int x();\nint y();\n", output)
}

func TestRun_KeepsCommentsByDefault(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "// a comment\nint x();\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "// a comment\nint x();\n", output)
}

func TestRun_CollapsesBlankLines(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "\n\nint x();\n\n\nint y();\n\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int x();\n\nint y();\n", output)
}

func TestRun_LocalPrefixAndNoexpand(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "sub/Lib/util.h", "int util();\n")
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"// {{includes}}",
		"#pragma ACME path sub",
		"#pragma ACME local Lib",
		"#pragma ACME noexpand Lib/config.h",
		"#include <Lib/util.h>",
		"#include <Lib/config.h>",
		"int top();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "#include <Lib/config.h>\nint util();\nint top();\n", output)
}

func TestRun_IncludesBeforeMarkerSurfaceOnTop(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "#include <vector>\nint x();\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "#include <vector>\nint x();\n", output)
}

func TestRun_SystemIncludeDeduplicated(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "inner.h", "#include <vector>\nint inner();\n")
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"// {{includes}}",
		"#include <vector>",
		"#include \"inner.h\"",
		"int top();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, 1, strings.Count(output, "#include <vector>"))
}

func TestRun_ConditionalSystemIncludeKeptInPlace(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"// {{includes}}",
		"#ifdef _WIN32",
		"#include <windows.h>",
		"#endif",
		"int x();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, strings.Join([]string{
		"#ifdef _WIN32",
		"#include <windows.h>",
		"#endif",
		"int x();",
	}, "\n")+"\n", output)
}

func TestRun_ConditionalIncludeUnderDecidedInnerBranch(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"// {{includes}}",
		"#pragma ACME enable STANDALONE",
		"#ifdef _WIN32",
		"#ifdef STANDALONE",
		"#include <windows.h>",
		"#endif",
		"int winOnly();",
		"#endif",
		"int x();",
	}, "\n")+"\n")

	// The decided inner branch dissolves, but the include still sits under
	// an undecided conditional and must not escape to the top
	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, strings.Join([]string{
		"#ifdef _WIN32",
		"#include <windows.h>",
		"int winOnly();",
		"#endif",
		"int x();",
	}, "\n")+"\n", output)
}

func TestRun_MarkerPassesThroughWithCommentsOff(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME comments off",
		"// {{includes}}",
		"// a doomed comment",
		"#include <vector>",
		"int x();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "#include <vector>\nint x();\n", output)
}

func TestRun_DropsForcedDefines(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME enable FOO",
		"#define FOO",
		"#undef FOO",
		"#define OTHER 1",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "#define OTHER 1\n", output)
}

func TestRun_UnknownPragmaIgnored(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "#pragma ACME frobnicate x\nint x();\n")

	output := runToString(t, newTestAmalgamator(nil), top)
	assert.Equal(t, "int x();\n", output)
}

func TestRun_RevisionAndStatsPlaceholders(t *testing.T) {
	dir := t.TempDir()
	runner := newStubRunner(map[string]string{
		DefaultRevisionCommand: "v1.2.3-4-gdeadbee",
		"wc -l":                "42",
	})
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME stats loc wc -l",
		"// revision {{revision}}, {{stats:loc}} lines",
		"// built from {{revision}}",
		"int x();",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(runner), top)
	assert.Contains(t, output, "// revision v1.2.3-4-gdeadbee, 42 lines")
	assert.Contains(t, output, "// built from v1.2.3-4-gdeadbee")

	// Each command runs exactly once however many placeholders reference it
	assert.Equal(t, 1, runner.calls[DefaultRevisionCommand])
	assert.Equal(t, 1, runner.calls["wc -l"])

	// Stats commands get the assembled output piped on standard input
	assert.Contains(t, runner.stdins["wc -l"], "int x();\n")
}

func TestRun_NoPlaceholdersRunNoCommands(t *testing.T) {
	dir := t.TempDir()
	runner := newStubRunner(nil)
	top := writeSource(t, dir, "top.h", "int x();\n")

	runToString(t, newTestAmalgamator(runner), top)
	assert.Empty(t, runner.calls)
}

func TestRun_RevisionKeyResolvesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "sub/inner.h", "int inner();\n")
	runner := newStubRunner(map[string]string{"echo-rev": "cafe"})
	top := writeSource(t, dir, "top.h", strings.Join([]string{
		"#pragma ACME path .",
		"#pragma ACME revision sub echo-rev",
		"// {{revision:sub}}",
		"#include \"sub/inner.h\"",
	}, "\n")+"\n")

	output := runToString(t, newTestAmalgamator(runner), top)
	assert.Contains(t, output, "// cafe")
	assert.Equal(t, "sub", filepath.Base(runner.dirs["echo-rev"]))
}

func TestRun_FailingCommandIsFatal(t *testing.T) {
	dir := t.TempDir()
	runner := newStubRunner(nil) // every command fails
	top := writeSource(t, dir, "top.h", "// {{revision}}\n")

	err := newTestAmalgamator(runner).Run(top, filepath.Join(t.TempDir(), "top.h"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revision command")
}

func TestRun_FreshContextPerRun(t *testing.T) {
	dir := t.TempDir()
	first := writeSource(t, dir, "first.h", "#pragma ACME disable GONE\n#ifdef GONE\nint gone();\n#endif\nint x();\n")
	second := writeSource(t, dir, "second.h", "#ifdef GONE\nint kept();\n#endif\n")

	a := newTestAmalgamator(nil)
	assert.Equal(t, "int x();\n", runToString(t, a, first))

	// The forced define of the previous run doesn't leak into this one
	output := runToString(t, a, second)
	assert.Contains(t, output, "#ifdef GONE")
	assert.Contains(t, output, "int kept();")
}

func TestRun_OptionsPreseedRun(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "sub/Lib/util.h", "int util();\n")
	top := writeSource(t, dir, "top.h", "#ifdef FORCED\nint forced();\n#endif\n#include <Lib/util.h>\n")

	a := New(arbor.NewLogger(), newStubRunner(nil), Options{
		Comments:      true,
		Paths:         []string{filepath.Join(dir, "sub")},
		LocalPrefixes: []string{"Lib"},
		Defines:       map[string]bool{"FORCED": true},
	})
	output := runToString(t, a, top)
	assert.Equal(t, "int forced();\nint util();\n", output)
}

func TestRun_CreatesOutputDirectories(t *testing.T) {
	dir := t.TempDir()
	top := writeSource(t, dir, "top.h", "int x();\n")

	output := filepath.Join(t.TempDir(), "deeply", "nested", "output", "top.h")
	require.NoError(t, newTestAmalgamator(nil).Run(top, output))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "int x();\n", string(data))
}
