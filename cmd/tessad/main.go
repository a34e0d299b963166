// Command tessad runs a tessa full node.
package main

import (
	"fmt"
	"os"

	"github.com/ordishs/gocore"
	"github.com/tessacoin/tessanode/daemon"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/urfave/cli/v2"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "tessad"

// Version & commit strings injected at build with -ldflags -X...
var (
	version string
	commit  string
)

// detachedEnv marks the background copy started by -daemon.
const detachedEnv = "TESSAD_DETACHED"

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		os.Exit(1)
	}
}

func newApp(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Name:            progname,
		Usage:           "tessa full node",
		Version:         version,
		HideHelpCommand: true,
		Flags:           nodeFlags(),
		Action:          action,
	}
}

func run(c *cli.Context) error {
	if c.NArg() > 0 {
		return errors.NewInvalidArgumentError("unexpected argument %q, options are given as -name=value", c.Args().First())
	}

	tSettings, err := settings.NewSettings(flagValues(c))
	if err != nil {
		return err
	}

	if err = os.MkdirAll(tSettings.DataDir, 0o700); err != nil {
		return errors.NewStorageError("cannot create data directory %s", tSettings.DataDir, err)
	}

	if tSettings.Daemon && os.Getenv(detachedEnv) == "" {
		pid, err := detach(tSettings.Path("debug.log"))
		if err != nil {
			return err
		}

		fmt.Printf("%s server starting, pid %d\n", progname, pid)

		return nil
	}

	level := tSettings.Logging.Level
	logger := ulogger.New(progname, ulogger.WithLevel(level))

	stats := gocore.Config().Stats()
	logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	d := daemon.New(daemon.WithLoggerFactory(func(serviceName string) ulogger.Logger {
		return ulogger.New(serviceName, ulogger.WithLevel(level))
	}))

	return d.Start(logger, tSettings)
}
