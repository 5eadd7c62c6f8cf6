// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/prithivirajasingh/public-files/dispatch"
)

func runAdd(ctx context.Context, coordinator *dispatch.Coordinator, args []string, env environment) error {
	var keepParams bool
	flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.BoolVar(&keepParams, "keep-params", false, "send links unmodified instead of trimming at the first '&'")
	if err := flagSet.Parse(args); err != nil {
		return usage("add: %v", err)
	}

	links, err := collectLinks(flagSet.Args(), env.stdin)
	if err != nil {
		return err
	}

	failed := false
	for _, link := range links {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !keepParams {
			link = trimParams(link)
		}
		if len(links) > 1 {
			fmt.Fprintln(env.stdout, link)
		}
		outcomes := coordinator.Dispatch(ctx, link)
		render(env.stdout, outcomes, env.color)
		if dispatch.Failed(outcomes) {
			failed = true
		}
	}
	if failed {
		return &exitError{code: 1}
	}
	return nil
}

// collectLinks returns the positional links, or the non-blank lines of
// stdin when the only argument is "-".
func collectLinks(args []string, stdin io.Reader) ([]string, error) {
	if len(args) == 0 {
		return nil, usage("add: at least one link (or -) is required")
	}
	if len(args) > 1 || args[0] != "-" {
		for _, arg := range args {
			if arg == "-" {
				return nil, usage("add: - cannot be combined with other links")
			}
		}
		return args, nil
	}

	var links []string
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			links = append(links, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading links from stdin: %w", err)
	}
	if len(links) == 0 {
		return nil, usage("add: no links on stdin")
	}
	return links, nil
}

// trimParams cuts a magnet link at its first '&', dropping tracker
// and display-name parameters so only the info hash is sent. Anything
// that is not a magnet link passes through unchanged.
func trimParams(link string) string {
	if !strings.HasPrefix(link, "magnet:?") {
		return link
	}
	if index := strings.IndexByte(link, '&'); index >= 0 {
		return link[:index]
	}
	return link
}
