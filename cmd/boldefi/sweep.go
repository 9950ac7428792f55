// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Neurvinch/eth-global-hackmoney/services/chain"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one settlement sweep pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, "sweeper")
		defer logger.Close()
		slog.SetDefault(logger.Slog())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := chain.NewClient(ctx, cfg.chainConfig())
		if err != nil {
			return err
		}
		defer client.Close()

		sweeper := chain.NewSweeper(client, nil, chain.SweeperConfig{})
		result, err := sweeper.RunNow(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("scanned %d groups: %d settled, %d deferred, %d errors\n",
			result.Scanned, result.Settled, result.Skipped, result.Errors)
		if result.Errors > 0 {
			return fmt.Errorf("%d groups failed to settle", result.Errors)
		}
		return nil
	},
}
