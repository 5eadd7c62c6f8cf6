// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/prithivirajasingh/public-files/lib/sealed"
)

// runKeygen writes a new age identity for session_key_file.
func runKeygen(args []string, env environment) error {
	var outPath string
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&outPath, "out", "", "path of the identity file to create (must not exist)")
	if err := flagSet.Parse(args); err != nil {
		return usage("keygen: %v", err)
	}
	if outPath == "" {
		return usage("keygen: --out is required")
	}
	if flagSet.NArg() > 0 {
		return usage("keygen: unexpected argument %q", flagSet.Arg(0))
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	if err := sealed.WriteIdentityFile(outPath, keypair); err != nil {
		return err
	}

	fmt.Fprintf(env.stdout, "wrote %s\npublic key: %s\nset session_key_file: %s in the configuration to seal session files\n",
		outPath, keypair.PublicKey, outPath)
	return nil
}
