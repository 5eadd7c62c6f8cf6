// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// magnet-dispatch delivers magnet links to every configured qBittorrent
// WebUI backend, keeping one login session per backend on disk so that
// repeated invocations skip the login.
//
// Commands:
//
//	magnet-dispatch add <magnet>... | -   dispatch links (stdin with -)
//	magnet-dispatch check                 log in to or probe every backend
//	magnet-dispatch reset                 discard saved sessions
//	magnet-dispatch keygen --out FILE     create an age key for sealed sessions
//
// The configuration file is named by --config or MAGNET_DISPATCH_CONFIG.
// The exit status is 0 when every backend succeeded, 1 when any failed,
// and 2 for usage errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/prithivirajasingh/public-files/dispatch"
	"github.com/prithivirajasingh/public-files/lib/config"
	"github.com/prithivirajasingh/public-files/lib/logging"
	"github.com/prithivirajasingh/public-files/lib/metrics"
	"github.com/prithivirajasingh/public-files/lib/version"
)

const binaryName = "magnet-dispatch"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	env := environment{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		color:  term.IsTerminal(int(os.Stdout.Fd())),
	}
	err := run(ctx, os.Args[1:], env)
	stop()

	if err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			var silent *exitError
			if !errors.As(err, &silent) {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// environment is the process surface run touches, replaced in tests.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	color  bool
}

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath  string
	logLevel    string
	metricsFile string
}

func run(ctx context.Context, args []string, env environment) error {
	var options globalOptions

	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&options.configPath, "config", "", "configuration file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&options.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.StringVar(&options.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the command")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(env.stderr, flagSet)
			return nil
		}
		return usage("%v", err)
	}
	if *showVersion {
		version.Print(env.stdout, binaryName)
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(env.stderr, flagSet)
		return nil
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		printHelp(env.stderr, flagSet)
		return usage("no command given")
	}
	command, commandArgs := remaining[0], remaining[1:]

	level, err := logging.ParseLevel(options.logLevel)
	if err != nil {
		return usage("%v", err)
	}
	logger := logging.NewWithWriter(env.stderr, level)

	switch command {
	case "add":
		return withCoordinator(ctx, options, logger, func(coordinator *dispatch.Coordinator) error {
			return runAdd(ctx, coordinator, commandArgs, env)
		})
	case "check":
		if len(commandArgs) > 0 {
			return usage("check takes no arguments")
		}
		return withCoordinator(ctx, options, logger, func(coordinator *dispatch.Coordinator) error {
			return report(env, coordinator.Check(ctx))
		})
	case "reset":
		if len(commandArgs) > 0 {
			return usage("reset takes no arguments")
		}
		return withCoordinator(ctx, options, logger, func(coordinator *dispatch.Coordinator) error {
			return report(env, coordinator.Reset(ctx))
		})
	case "keygen":
		return runKeygen(commandArgs, env)
	case "version":
		version.Print(env.stdout, binaryName)
		return nil
	default:
		return usage("unknown command %q (want add, check, reset, or keygen)", command)
	}
}

// withCoordinator loads the configuration, builds the coordinator, runs
// fn, and writes the metrics textfile if one was requested.
func withCoordinator(ctx context.Context, options globalOptions, logger *slog.Logger, fn func(*dispatch.Coordinator) error) error {
	var (
		cfg *config.Config
		err error
	)
	if options.configPath != "" {
		cfg, err = config.LoadFile(options.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		// An unnamed or malformed configuration is operator input; an
		// unreadable password is a runtime failure.
		if errors.Is(err, config.ErrNotConfigured) || errors.Is(err, config.ErrInvalid) {
			return usage("%w", err)
		}
		return err
	}
	defer cfg.Close()

	registry := prometheus.NewRegistry()
	coordinator, err := dispatch.NewFromConfig(cfg, dispatch.Options{
		Logger:  logger,
		Metrics: metrics.New(registry),
	})
	if err != nil {
		return err
	}
	defer coordinator.Close()

	runErr := fn(coordinator)

	if options.metricsFile != "" {
		if err := metrics.WriteTextfile(options.metricsFile, registry); err != nil {
			logger.Error("writing metrics textfile failed", "path", options.metricsFile, "error", err)
		}
	}
	if ctx.Err() != nil && runErr == nil {
		return ctx.Err()
	}
	return runErr
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `magnet-dispatch delivers magnet links to every configured qBittorrent backend.

Usage:
  magnet-dispatch [flags] add [--keep-params] <magnet>...
  magnet-dispatch [flags] add -            (one link per line on stdin)
  magnet-dispatch [flags] check
  magnet-dispatch [flags] reset
  magnet-dispatch keygen --out FILE

Links are trimmed at the first '&' (tracker and name parameters) unless
--keep-params is given.

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
	flagSet.SetOutput(io.Discard)
}
