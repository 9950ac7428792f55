// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Neurvinch/eth-global-hackmoney/services/chain"
	"github.com/Neurvinch/eth-global-hackmoney/services/nlp"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator/handlers"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator/observability"
	"github.com/Neurvinch/eth-global-hackmoney/services/yellow"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration service (API, sweeper, event poller)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg, "orchestrator")
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.chainConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	treasury, err := chain.NewTreasury(client, cfg.USDCAddress)
	if err != nil {
		return err
	}

	ens, err := chain.NewENS(client.Eth())
	if err != nil {
		slog.Warn("ENS resolution disabled", "error", err)
		ens = nil
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	sessions := connectGateway(ctx, cfg)
	if sessions != nil {
		defer sessions.Close()
	}

	feed := chain.NewFeed(chain.DefaultFeedCapacity)
	ingestor := chain.NewIngestor(client, feed, cfg.StartBlock)
	ingestor.OnEvents = func(events []chain.Event) {
		metrics.RecordEventsIngested(len(events))
	}

	// Rebuild the feed before the API serves reads.
	if err := ingestor.Backfill(ctx); err != nil {
		slog.Warn("Activity backfill incomplete", "error", err)
	}

	var closer chain.SessionCloser
	if sessions != nil {
		closer = sessions
	}
	sweeper := chain.NewSweeper(client, closer, chain.SweeperConfig{Interval: cfg.SweepInterval})
	sweeper.OnSettled = func(group chain.Group, tx chain.TxResult) {
		metrics.RecordSettlement()
		if sessions != nil {
			metrics.SetOpenSessions(len(sessions.OpenSessions()))
		}
	}

	var sessionIface orchestrator.OffChainSessions
	if sessions != nil {
		sessionIface = sessions
	}
	orch := orchestrator.New(client, treasury, sessionIface, feed, metrics)

	var resolver handlers.NameResolver
	if ens != nil {
		resolver = ens
	}
	router := handlers.NewRouter(orch, intentSource(cfg), resolver)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper.Start(ctx)
	defer sweeper.Stop()
	poller := chain.NewPoller(ingestor, cfg.PollInterval)
	poller.Start(ctx)
	defer poller.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("API listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	slog.Info("Shutdown complete")
	return err
}

// connectGateway dials and authenticates the off-chain gateway.
// Returns nil on any failure; the orchestrator then runs in basic
// mode.
func connectGateway(ctx context.Context, cfg appConfig) *yellow.SessionManager {
	if cfg.GatewayURL == "" {
		slog.Info("No gateway configured, running in basic mode")
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.GatewayURL, nil)
	if err != nil {
		slog.Warn("Gateway unreachable, running in basic mode",
			"url", cfg.GatewayURL, "error", err)
		return nil
	}

	signer, err := yellow.NewKeySigner(cfg.PrivateKey)
	if err != nil {
		conn.Close()
		slog.Warn("Gateway signer unavailable, running in basic mode", "error", err)
		return nil
	}

	sessions := yellow.NewSessionManager(yellow.NewCorrelator(conn), signer)
	authCtx, cancelAuth := context.WithTimeout(ctx, 15*time.Second)
	defer cancelAuth()
	if err := sessions.Authenticate(authCtx); err != nil {
		sessions.Close()
		slog.Warn("Gateway authentication failed, running in basic mode", "error", err)
		return nil
	}
	return sessions
}

// intentSource builds the NLP boundary. Without an API key the service
// still runs: transcription is refused and text input goes through the
// keyword fallback.
func intentSource(cfg appConfig) handlers.IntentSource {
	if cfg.GroqAPIKey == "" {
		slog.Warn("GROQ_API_KEY not set, voice input disabled")
		return fallbackOnlySource{}
	}
	extractor, err := nlp.NewExtractor(nlp.Config{APIKey: cfg.GroqAPIKey})
	if err != nil {
		slog.Warn("Intent extractor unavailable, using keyword fallback", "error", err)
		return fallbackOnlySource{}
	}
	return extractor
}

// fallbackOnlySource serves keyword-matched intents when no model is
// configured.
type fallbackOnlySource struct{}

func (fallbackOnlySource) Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (string, error) {
	return "", fmt.Errorf("transcription requires GROQ_API_KEY")
}

func (fallbackOnlySource) ExtractIntent(ctx context.Context, transcript, language string) (nlp.Intent, error) {
	return nlp.FallbackIntent(transcript), nil
}
