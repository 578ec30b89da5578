// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/luxfi/asf/cmd/asfsim/run"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := &cobra.Command{
		Use:   "asfsim",
		Short: "Simulates ASF finality with an in-process committee",
	}
	cmd.AddCommand(run.Command())
	cmd.SilenceUsage = true

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "asfsim failed: %s\n", err)
		cancel()
		os.Exit(1)
	}
}
