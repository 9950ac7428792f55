// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Neurvinch/eth-global-hackmoney/services/chain"
	"github.com/Neurvinch/eth-global-hackmoney/services/nlp"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator"
)

// maxAudioBytes caps voice uploads at 25 MB, the transcription API's
// own limit.
const maxAudioBytes = 25 << 20

// ProcessVoice accepts a multipart audio upload under the "audio"
// field, transcribes it, extracts an intent, and executes it. An
// optional "language" field carries the speaker's ISO 639-1 code.
func ProcessVoice(orch *orchestrator.Orchestrator, intents IntentSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("audio")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing audio upload"})
			return
		}
		defer file.Close()

		if header.Size > maxAudioBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio exceeds 25MB"})
			return
		}
		language := c.PostForm("language")

		transcript, err := intents.Transcribe(c.Request.Context(), header.Filename, file, language)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "transcription failed"})
			return
		}

		intent, err := intents.ExtractIntent(c.Request.Context(), transcript, language)
		if err != nil {
			writeIntentError(c, err)
			return
		}

		result, err := orch.ExecuteIntent(c.Request.Context(), intent)
		if err != nil {
			writeIntentError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ExecuteIntent accepts {"text": "...", "language": "..."} and runs
// extraction plus execution, the text-input twin of ProcessVoice.
func ExecuteIntent(orch *orchestrator.Orchestrator, intents IntentSource) gin.HandlerFunc {
	type request struct {
		Text     string `json:"text" binding:"required"`
		Language string `json:"language"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text field is required"})
			return
		}

		intent, err := intents.ExtractIntent(c.Request.Context(), req.Text, req.Language)
		if err != nil {
			writeIntentError(c, err)
			return
		}

		result, err := orch.ExecuteIntent(c.Request.Context(), intent)
		if err != nil {
			writeIntentError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ExecuteSingleAction accepts a pre-built intent JSON object and
// executes it directly, bypassing the language model. Used by UI
// buttons that know exactly which action they mean.
func ExecuteSingleAction(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		intent, err := nlp.ParseIntent(body)
		if err != nil {
			writeIntentError(c, err)
			return
		}

		result, err := orch.ExecuteIntent(c.Request.Context(), intent)
		if err != nil {
			writeIntentError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// Distribute pays a batch of recipients from the orchestrator wallet.
// Per-recipient outcomes are reported individually; one failed payout
// does not fail the request.
func Distribute(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	type request struct {
		Payouts []orchestrator.PayoutRequest `json:"payouts" binding:"required"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payouts field is required"})
			return
		}

		outcomes, err := orch.DistributeFunds(c.Request.Context(), req.Payouts)
		if err != nil {
			writeIntentError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payouts": outcomes})
	}
}

// writeIntentError maps typed errors onto HTTP status codes.
func writeIntentError(c *gin.Context, err error) {
	var unknownIntent *orchestrator.UnknownIntentError
	switch {
	case errors.Is(err, chain.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chain.ErrPrecondition),
		errors.Is(err, orchestrator.ErrMissingParams),
		errors.Is(err, nlp.ErrUnknownIntent),
		errors.As(err, &unknownIntent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chain.ErrExternalOperation):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
