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
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Scan contract events from the start block and print recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, "backfill")
		defer logger.Close()
		slog.SetDefault(logger.Slog())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := chain.NewClient(ctx, cfg.chainConfig())
		if err != nil {
			return err
		}
		defer client.Close()

		feed := chain.NewFeed(chain.DefaultFeedCapacity)
		ingestor := chain.NewIngestor(client, feed, cfg.StartBlock)
		if err := ingestor.Backfill(ctx); err != nil {
			return err
		}

		entries := feed.Recent(0)
		if len(entries) == 0 {
			fmt.Println("no activity found")
			return nil
		}
		for _, entry := range entries {
			fmt.Printf("[block %d] %s\n", entry.BlockNumber, entry.Description)
		}
		return nil
	},
}
