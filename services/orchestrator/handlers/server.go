// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers wires the orchestrator's HTTP surface.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Neurvinch/eth-global-hackmoney/services/nlp"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator"
)

// IntentSource turns raw input into typed intents. language is an
// optional ISO 639-1 hint from the client. Satisfied by *nlp.Extractor.
type IntentSource interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (string, error)
	ExtractIntent(ctx context.Context, transcript, language string) (nlp.Intent, error)
}

// NameResolver looks up ENS names. Satisfied by *chain.ENS; nil
// disables the ENS routes.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (common.Address, error)
	Text(ctx context.Context, name, key string) (string, error)
}

// NewRouter builds the gin engine with all routes attached.
func NewRouter(orch *orchestrator.Orchestrator, intents IntentSource, resolver NameResolver) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/process-voice", ProcessVoice(orch, intents))
		api.POST("/execute-intent", ExecuteIntent(orch, intents))
		api.POST("/execute-single-action", ExecuteSingleAction(orch))
		api.POST("/treasury/distribute", Distribute(orch))
		api.GET("/protocol-status", ProtocolStatus(orch))
		api.GET("/activity", Activity(orch))
		api.GET("/circles", Circles(orch))
		api.GET("/circles/:id", CircleByID(orch))
		api.GET("/ens/:name", ResolveENS(resolver))
	}
	return router
}

// requestLogger emits one slog line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
