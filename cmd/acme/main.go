package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/mosra/acme/internal/amalgamate"
	"github.com/mosra/acme/internal/common"
	"github.com/mosra/acme/internal/shell"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	outputDir    = flag.String("o", "", "Output directory (overrides config)")
	outputDirL   = flag.String("output", "", "Output directory (long form, overrides config)")
	debugLog     = flag.Bool("debug", false, "Verbose debug output")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Acme version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Merge output flags (shorthand takes precedence)
	finalOutput := *outputDirL
	if *outputDir != "" {
		finalOutput = *outputDir
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("acme.toml"); err == nil {
			configFiles = append(configFiles, "acme.toml")
		}
	}

	// Startup sequence: load config, apply CLI overrides, initialize logger,
	// print banner
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, finalOutput, *debugLog)

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	inputs := resolveInputs(config, flag.Args())
	if len(inputs) == 0 {
		logger.Fatal().Msg("No input files, pass a top-level file or declare [[inputs]] in the configuration")
		os.Exit(1)
	}

	amalgamator := amalgamate.New(logger, shell.NewRunner(), amalgamate.Options{
		Comments:        config.Amalgamate.Comments,
		Paths:           config.Amalgamate.Paths,
		LocalPrefixes:   config.Amalgamate.Local,
		Defines:         config.Amalgamate.Defines,
		RevisionCommand: config.Amalgamate.Revision,
	})

	for _, input := range inputs {
		output := outputPath(input.File, input.Output)
		logger.Info().Str("file", input.File).Str("output", output).Msg("Amalgamating")
		if err := amalgamator.Run(input.File, output); err != nil {
			logger.Fatal().Str("file", input.File).Err(err).Msg("Amalgamation failed")
			os.Exit(1)
		}
	}
}

// resolveInputs turns positional arguments, or the configured batch entries
// when there are none, into the list of files to process
func resolveInputs(config *common.Config, args []string) []common.InputConfig {
	if len(args) > 0 {
		inputs := make([]common.InputConfig, 0, len(args))
		for _, file := range args {
			inputs = append(inputs, common.InputConfig{File: file})
		}
		return inputs
	}
	return config.Inputs
}

// outputPath places the amalgamated file into the output directory, resolved
// relative to the input file's directory unless absolute
func outputPath(file, override string) string {
	dir := config.Amalgamate.Output
	if override != "" {
		dir = override
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(file), dir)
	}
	return filepath.Join(dir, filepath.Base(file))
}
