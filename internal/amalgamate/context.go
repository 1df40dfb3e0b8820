package amalgamate

// runContext carries all mutable collection state of one amalgamation run.
// It is created when a top-level file is processed and discarded once the
// output is written; the single recursive descent and the four post-passes
// are its only writers.
type runContext struct {
	topLevel string // absolute path of the top-level file
	baseDir  string // its directory, pragma paths resolve against it

	writeComments        bool
	paths                []string // include search paths, from path pragmas
	localIncludePrefixes []string // angle-bracket prefixes treated as local
	noexpand             map[string]struct{}

	allIncludes map[string]struct{}   // include lines already emitted anywhere
	newIncludes []map[string]struct{} // one pending set per {{includes}} marker
	copyrights  map[string]struct{}
	parsedFiles map[string]struct{}

	forcedDefines    map[string]bool
	revisionCommands map[string]string
	statsCommands    map[string]string
}

func newRunContext(topLevel, baseDir string) *runContext {
	return &runContext{
		topLevel:         topLevel,
		baseDir:          baseDir,
		writeComments:    true,
		noexpand:         map[string]struct{}{},
		allIncludes:      map[string]struct{}{},
		copyrights:       map[string]struct{}{},
		parsedFiles:      map[string]struct{}{},
		forcedDefines:    map[string]bool{},
		revisionCommands: map[string]string{},
		statsCommands:    map[string]string{},
	}
}
