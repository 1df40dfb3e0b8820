package amalgamate

import "fmt"

// Visibility decides what happens to the contents of a conditional scope.
type Visibility int

const (
	// VisibilityIncluded emits the scope contents and drops its directives.
	VisibilityIncluded Visibility = iota
	// VisibilityExcluded drops the scope contents and its directives.
	VisibilityExcluded
	// VisibilityUnknown keeps both contents and directives verbatim for the
	// reader's own compiler to evaluate later.
	VisibilityUnknown
)

func visibilityOf(t Truth) Visibility {
	switch t {
	case TruthTrue:
		return VisibilityIncluded
	case TruthFalse:
		return VisibilityExcluded
	}
	return VisibilityUnknown
}

func flipVisibility(v Visibility) Visibility {
	switch v {
	case VisibilityIncluded:
		return VisibilityExcluded
	case VisibilityExcluded:
		return VisibilityIncluded
	}
	return VisibilityUnknown
}

// branchFrame is one entry in the conditional-compilation nesting stack.
// Real frames are opened by #if/#ifdef/#ifndef, dummies stand in for the
// spent half of an #elif chain and get popped together at the #endif. The
// leaf frame is always real. openIndex is the output-buffer position of the
// opening directive, used to retroactively elide an empty if/endif pair.
type branchFrame struct {
	isReal     bool
	visibility Visibility
	openIndex  int
}

// handleDirective processes one preprocessor branch directive against the
// file's frame stack, re-emitting simplified directives where the branch
// could not be statically decided.
func (s *fileScan) handleDirective(ctx *runContext, what, indent, value, comment string) error {
	frame := &s.stack[len(s.stack)-1]

	var pushVis Visibility
	switch what {
	case "if", "ifdef", "ifndef", "elif":
		var result Truth
		result, what, value = SimplifyExpression(what, value, ctx.forcedDefines)
		pushVis = visibilityOf(result)
	}

	switch what {
	case "if", "ifdef", "ifndef":
		// Exclusion is inherited, a nested condition never re-enables it
		if frame.visibility == VisibilityExcluded {
			pushVis = VisibilityExcluded
		}
		s.stack = append(s.stack, branchFrame{isReal: true, visibility: pushVis, openIndex: len(s.out)})
		if pushVis == VisibilityUnknown {
			s.out = append(s.out, indent+"#"+what+" "+value+comment+"\n")
		}

	case "elif":
		if len(s.stack) < 2 {
			return fmt.Errorf("%s: #elif without a matching #if", s.path)
		}
		parent := &s.stack[len(s.stack)-2]

		// Flip the condition for the else half of the prior branch, if that
		// branch was decided and the parent doesn't exclude the whole chain
		if frame.visibility != VisibilityUnknown && parent.visibility != VisibilityExcluded {
			frame.visibility = flipVisibility(frame.visibility)
		}
		if frame.visibility == VisibilityExcluded {
			pushVis = VisibilityExcluded
		}

		switch {
		case frame.visibility == VisibilityUnknown && pushVis == VisibilityUnknown:
			// Both halves stay verbatim. Marking the outer half decided
			// prevents its #endif from being written a second time.
			frame.visibility = VisibilityIncluded
			s.out = append(s.out, indent+"#elif "+value+comment+"\n")
		case frame.visibility == VisibilityUnknown:
			s.out = append(s.out, indent+"#else"+comment+"\n")
		case pushVis == VisibilityUnknown:
			kind, expr := NormalizeExpression(value)
			s.out = append(s.out, indent+"#"+kind+" "+expr+comment+"\n")
		}

		// Retire the prior branch as an #elif dummy and open a fresh real
		// frame carrying the new visibility, so a later #endif pops the
		// whole chain
		frame.isReal = false
		openIndex := frame.openIndex
		s.stack = append(s.stack, branchFrame{isReal: true, visibility: pushVis, openIndex: openIndex})

	case "else":
		if len(s.stack) < 2 {
			return fmt.Errorf("%s: #else without a matching #if", s.path)
		}
		parent := &s.stack[len(s.stack)-2]
		if frame.visibility == VisibilityUnknown {
			s.out = append(s.out, indent+"#else"+comment+"\n")
		} else {
			frame.visibility = flipVisibility(frame.visibility)
		}
		if parent.visibility == VisibilityExcluded {
			frame.visibility = VisibilityExcluded
		}

	case "endif":
		if len(s.stack) < 2 {
			return fmt.Errorf("%s: #endif without a matching #if", s.path)
		}
		endifWritten := false
		if frame.visibility == VisibilityUnknown {
			endifWritten = true
			s.out = append(s.out, indent+"#endif"+comment+"\n")
		}

		openIndex := frame.openIndex
		s.stack = s.stack[:len(s.stack)-1]

		// Pop the dummy frames of a preceding #elif chain, writing an extra
		// #endif wherever a chain member was kept verbatim
		for !s.stack[len(s.stack)-1].isReal {
			top := s.stack[len(s.stack)-1]
			if top.visibility == VisibilityUnknown {
				s.out = append(s.out, indent+"#endif"+comment+"\n")
			}
			openIndex = top.openIndex
			s.stack = s.stack[:len(s.stack)-1]
		}

		// A preserved conditional with an empty body contributes nothing,
		// drop both the opening directive and the #endif
		if endifWritten && openIndex+2 == len(s.out) {
			s.out = s.out[:len(s.out)-2]
		}
	}

	return nil
}
