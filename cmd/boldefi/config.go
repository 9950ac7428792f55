// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Neurvinch/eth-global-hackmoney/pkg/logging"
	"github.com/Neurvinch/eth-global-hackmoney/services/chain"
)

// appConfig is the environment-driven process configuration.
type appConfig struct {
	RPCURL          string
	ContractAddress string
	USDCAddress     string
	PrivateKey      string
	GatewayURL      string
	GroqAPIKey      string
	ListenAddr      string
	StartBlock      uint64
	SweepInterval   time.Duration
	PollInterval    time.Duration
	LogDir          string
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		RPCURL:          os.Getenv("BOLDEFI_RPC_URL"),
		ContractAddress: os.Getenv("BOLDEFI_CONTRACT_ADDRESS"),
		USDCAddress:     os.Getenv("BOLDEFI_USDC_ADDRESS"),
		PrivateKey:      os.Getenv("BOLDEFI_PRIVATE_KEY"),
		GatewayURL:      os.Getenv("BOLDEFI_GATEWAY_URL"),
		GroqAPIKey:      os.Getenv("GROQ_API_KEY"),
		ListenAddr:      envOr("BOLDEFI_LISTEN_ADDR", ":8787"),
		SweepInterval:   envDuration("BOLDEFI_SWEEP_INTERVAL", 30*time.Second),
		PollInterval:    envDuration("BOLDEFI_POLL_INTERVAL", 15*time.Second),
		LogDir:          os.Getenv("BOLDEFI_LOG_DIR"),
	}

	if raw := os.Getenv("BOLDEFI_START_BLOCK"); raw != "" {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("BOLDEFI_START_BLOCK: %w", err)
		}
		cfg.StartBlock = block
	}

	for name, value := range map[string]string{
		"BOLDEFI_RPC_URL":          cfg.RPCURL,
		"BOLDEFI_CONTRACT_ADDRESS": cfg.ContractAddress,
		"BOLDEFI_USDC_ADDRESS":     cfg.USDCAddress,
		"BOLDEFI_PRIVATE_KEY":      cfg.PrivateKey,
	} {
		if value == "" {
			return cfg, fmt.Errorf("%s is required", name)
		}
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// newLogger builds the process logger and installs it as the slog
// default so library code logs through it too.
func newLogger(cfg appConfig, service string) *logging.Logger {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  cfg.LogDir,
		Service: service,
		JSON:    true,
	})
	return logger
}

func (c appConfig) chainConfig() chain.Config {
	return chain.Config{
		RPCURL:          c.RPCURL,
		ContractAddress: c.ContractAddress,
		USDCAddress:     c.USDCAddress,
		PrivateKeyHex:   c.PrivateKey,
	}
}
