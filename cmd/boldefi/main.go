// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command boldefi runs the Bol-DeFi settlement orchestration layer:
// the voice-driven intent API, the settlement sweeper, and the
// contract event poller.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "boldefi",
	Short: "Voice-driven settlement orchestration for USDC savings circles",
	Long: `boldefi orchestrates rotating savings circles (ROSCAs) settled in USDC.

Configuration is environment driven:

  BOLDEFI_RPC_URL           settlement chain JSON-RPC endpoint (required)
  BOLDEFI_CONTRACT_ADDRESS  ROSCA settlement contract (required)
  BOLDEFI_USDC_ADDRESS      USDC token contract (required)
  BOLDEFI_PRIVATE_KEY       orchestrator wallet key (required)
  BOLDEFI_GATEWAY_URL       off-chain clearing gateway websocket (optional)
  GROQ_API_KEY              Groq API key for voice and intent extraction
  BOLDEFI_LISTEN_ADDR       HTTP listen address (default :8787)
  BOLDEFI_START_BLOCK       contract deployment block for event backfill
  BOLDEFI_SWEEP_INTERVAL    settlement sweep interval (default 30s)
  BOLDEFI_POLL_INTERVAL     event poll interval (default 15s)
  BOLDEFI_LOG_DIR           enables JSON file logging when set`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
