// Command maestro runs the research and writing platform.
//
// Usage:
//
//	maestro ingest ./papers --watch
//	maestro query "solid state battery energy density"
//	maestro run-research --question "..." --format docx
//	maestro serve --config config.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version      VersionCmd      `cmd:"" help:"Show version information."`
	Ingest       IngestCmd       `cmd:"" help:"Ingest documents into the vector store."`
	Query        QueryCmd        `cmd:"" help:"Run a hybrid search against the document store."`
	InspectStore InspectStoreCmd `cmd:"" name:"inspect-store" help:"Show vector store health and contents."`
	RunResearch  RunResearchCmd  `cmd:"" name:"run-research" help:"Run a research mission and export the report."`
	Serve        ServeCmd        `cmd:"" help:"Start the HTTP/WebSocket server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("maestro version %s\n", version)
	return nil
}

// loadConfig reads the config file when given, otherwise runs zero-config.
// .env files are applied first so ${VAR} expansion and credential defaults
// see them.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// initLogging applies CLI overrides over the config file's logging section.
func initLogging(cli *CLI, cfg *config.Config) (func(), error) {
	levelStr := cfg.Global.Logging.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	format := cfg.Global.Logging.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	filePath := cfg.Global.Logging.File
	if cli.LogFile != "" {
		filePath = cli.LogFile
	}

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if filePath != "" {
		file, closeFile, err := logger.OpenLogFile(filePath)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, format)
	return cleanup, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("maestro"),
		kong.Description("Maestro - AI-powered research and writing platform"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
