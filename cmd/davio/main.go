package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/davio/internal/core/config"
	"github.com/davio/internal/core/logger"
	"github.com/davio/internal/interfaces"
	"github.com/davio/pkg/davclient"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// errUsage marks mistakes in the command line itself.
var errUsage = errors.New("usage")

type env struct {
	stdout io.Writer
	stderr io.Writer
	remote interfaces.Remote
	cfg    *config.Config
	cancel *davclient.CancelToken
}

// open is replaced in tests.
var open = func(cfg *config.Config, log *logger.Logger) (interfaces.Remote, error) {
	return davclient.Open(cfg.Client(log.Logger))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage: davio [options] <command> [args]\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(w, "  %-10s %s\n", c.name, c.help)
		}
		fmt.Fprintf(w, "\nOptions:\n")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("davio", flag.ContinueOnError)
	fs.Usage = usage(fs, stderr)
	fs.SetOutput(stderr)

	cfg, rest, err := config.ParseCommandLineArgs(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "failed to parse config/flags:", err)
		return exitUsage
	}
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "Error: missing command")
		fs.Usage()
		return exitUsage
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
		fs.Usage()
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitUsage
	}

	log, err := logger.New(cfg.Verbose, cfg.StdLog, cfg.ErrLog)
	if err != nil {
		fmt.Fprintln(stderr, "failed to initialize logger:", err)
		return exitFail
	}
	defer log.Close()

	remote, err := open(cfg, log)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitUsage
	}
	defer remote.Close()

	e := &env{stdout: stdout, stderr: stderr, remote: remote, cfg: cfg, cancel: davclient.NewCancelToken()}
	stopCancel := context.AfterFunc(ctx, e.cancel.Cancel)
	defer stopCancel()

	if err := cmd.run(ctx, e, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Usage: davio %s %s\n", cmd.name, cmd.args)
			return exitUsage
		}
		log.Debug().Err(err).Str("command", cmd.name).Msg("command failed")
		fmt.Fprintln(stderr, "Error:", err)
		return exitFail
	}
	return exitOK
}
