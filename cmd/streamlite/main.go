// Command streamlite writes SQLite database files from JSON lines and
// finalizes, recovers and checks files written by the streamlite package.
package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	streamlog "github.com/jordanwade90/streamlite/internal/log"
)

const version = "0.1.0"

// CLI defines the command-line interface for streamlite.
type CLI struct {
	Config   kong.ConfigFlag  `name:"config" help:"JSON file with flag defaults keyed by flag name."`
	LogLevel string           `name:"log-level" default:"warn" enum:"debug,info,warn,error" help:"Log level (${enum})."`
	Version  kong.VersionFlag `name:"version" help:"Print version information."`

	Import   ImportCmd   `cmd:"" help:"Write JSON lines rows into databases"`
	Finalize FinalizeCmd `cmd:"" help:"Finalize a database so SQLite can read it"`
	Recover  RecoverCmd  `cmd:"" help:"Finalize an abandoned database, dropping damaged pages"`
	Check    CheckCmd    `cmd:"" help:"Check finalized databases with SQLite"`
	Status   StatusCmd   `cmd:"" help:"Show the state and page checksums of a database"`
}

// Globals is bound to every command's Run method.
type Globals struct {
	Log    *zap.Logger
	Stdin  io.Reader
	Stdout io.Writer

	mtx sync.Mutex
}

// printf writes to Stdout; commands that work on several files call it concurrently.
func (g *Globals) printf(format string, args ...any) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	fmt.Fprintf(g.Stdout, format, args...)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("streamlite"),
		kong.Description("Append-only SQLite file writer"),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "~/.config/streamlite.json"),
		kong.Vars{"version": version},
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	level, err := streamlog.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	logger := streamlog.New(stderr, level)
	defer logger.Sync() //nolint:errcheck

	return ctx.Run(&Globals{Log: logger, Stdin: stdin, Stdout: stdout})
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "streamlite: %v\n", err)
		os.Exit(1)
	}
}
