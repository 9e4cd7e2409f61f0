package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/davio/internal/core/config"
	"github.com/davio/internal/core/logger"
	"github.com/davio/pkg/davclient"
	autochecks "github.com/davio/test/automated/checks"
)

func assert(name string, err error) bool {
	if err != nil {
		fmt.Printf("[FAIL] %s: Error encoutered: %v\n", name, err)
		return false
	}
	fmt.Printf("[PASS] %s: Check succeeded\n", name)
	return true
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cfg, _, err := config.ParseCommandLineArgs(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse config/flags:", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Verbose, cfg.StdLog, cfg.ErrLog)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ok := true
	err = davclient.With(ctx, cfg.Client(log.Logger), func(ctx context.Context, c *davclient.Client) error {
		base := path.Join("/", "davio-check-"+uuid.NewString()[:8])
		if !assert("Server accessibility", c.Mkdir(ctx, base)) {
			ok = false
			return nil
		}
		fmt.Println("Scratch collection is", base)
		defer func() { _ = c.Delete(context.WithoutCancel(ctx), base) }()

		t := autochecks.Target{
			Client: c,
			Peer:   autochecks.NewPeer(cfg.URL, cfg.Username, cfg.Password, cfg.Token),
			Base:   base,
		}
		ok = autochecks.RunAll(ctx, t, assert)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}
